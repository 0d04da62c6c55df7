package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/system-design/battleship/internal/audit"
	"github.com/koopa0/system-design/battleship/internal/audit/migrations"
	"github.com/koopa0/system-design/battleship/internal/config"
	"github.com/koopa0/system-design/battleship/internal/game"
	"github.com/koopa0/system-design/battleship/internal/handler"
	"github.com/koopa0/system-design/battleship/internal/transport"
	apperrors "github.com/koopa0/system-design/battleship/pkg/errors"
	"github.com/koopa0/system-design/battleship/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "battleship: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數（非零值才覆蓋設定檔）
	var (
		configPath = flag.String("config", "", "設定檔路徑 (YAML)")
		port       = flag.Int("port", 0, "服務器端口（預設 8086）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.Level == "debug", // debug 模式顯示源碼位置
	})
	if err != nil {
		return fmt.Errorf("建立 logger 失敗: %w", err)
	}
	defer logCloser.Close()

	// 稽核事件輸出
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sinks, closers, handlerOpts, err := setupSinks(startCtx, cfg, log)
	cancel()
	if err != nil {
		closeAll(closers, log)
		return err
	}
	defer closeAll(closers, log)

	dispatcher := audit.NewDispatcher(cfg.Audit.BufferSize, cfg.Audit.Timeout, log,
		append([]audit.Sink{audit.NewLogSink(log)}, sinks...)...)

	// 創建房間註冊表
	g := game.NewGame(game.Config{
		GridSize:        cfg.Game.GridSize,
		MaxShipCount:    cfg.Game.MaxShipCount,
		EmptyRoomTTL:    cfg.Game.EmptyRoomTTL,
		CleanupInterval: cfg.Game.CleanupInterval,
	}, dispatcher, log)

	// 創建 WebSocket Hub
	hub := transport.NewHub(g, transport.Options{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendQueueSize:   cfg.WebSocket.SendQueueSize,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		WriteWait:       cfg.WebSocket.WriteWait,
	}, log)

	// 創建 HTTP 處理器
	h := handler.NewHandler(g, hub, log, handlerOpts...)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", h.Routes())
	mux.HandleFunc("/ws", hub.ServeWS)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("海戰棋服務器啟動",
			"port", cfg.Server.Port,
			"grid_size", cfg.Game.GridSize,
			"max_ships", cfg.Game.MaxShipCount,
			"audit_sinks", len(sinks)+1)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig.String())
	case err := <-serverErr:
		log.Error("服務器啟動失敗", "error", err)
		hub.Stop()
		g.Stop()
		dispatcher.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接（已升級的 WebSocket 不受影響）
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有連線，每條連線都會先完成離場（對戰中判負）
	hub.Stop()

	// 停止房間註冊表
	g.Stop()

	// 送出剩餘的稽核事件
	dispatcher.Close()

	log.Info("服務器已關閉",
		"audit_recorded", dispatcher.Recorded(),
		"audit_dropped", dispatcher.Dropped())
	return nil
}

// setupSinks 依設定建立選用的稽核輸出
//
// 回傳的 closers 在關機時依序關閉；部分建立失敗時呼叫端仍需關閉已建立的部分。
func setupSinks(ctx context.Context, cfg *config.Config, log *slog.Logger) ([]audit.Sink, []io.Closer, []handler.Option, error) {
	var (
		sinks   []audit.Sink
		closers []io.Closer
		opts    []handler.Option
	)

	if cfg.Redis.Addr != "" {
		client, err := audit.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return sinks, closers, opts, apperrors.Wrap(err, apperrors.ErrCodeInternal, "啟用 Redis 計數失敗")
		}
		sink := audit.NewRedisSink(client, cfg.Redis.KeyPrefix)
		sinks = append(sinks, sink)
		closers = append(closers, sink)
		opts = append(opts, handler.WithTotals(sink))
		log.Info("已啟用 Redis 計數", "addr", cfg.Redis.Addr)
	}

	if cfg.NATS.URL != "" {
		sink, err := audit.NewNATSSink(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			return sinks, closers, opts, apperrors.Wrap(err, apperrors.ErrCodeInternal, "啟用 NATS 事件發布失敗")
		}
		sinks = append(sinks, sink)
		closers = append(closers, sink)
		log.Info("已啟用 NATS 事件發布", "url", cfg.NATS.URL)
	}

	if cfg.Postgres.DSN != "" {
		if cfg.Postgres.Migrate {
			if err := migrations.Run(cfg.Postgres.DSN, log); err != nil {
				return sinks, closers, opts, apperrors.Wrap(err, apperrors.ErrCodeInternal, "升級歸檔 schema 失敗")
			}
		}

		pool, err := audit.DialPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			return sinks, closers, opts, apperrors.Wrap(err, apperrors.ErrCodeInternal, "啟用對局歸檔失敗")
		}
		sink := audit.NewPostgresSink(pool)
		sinks = append(sinks, sink)
		closers = append(closers, sink)
		opts = append(opts, handler.WithResults(sink))
		log.Info("已啟用對局歸檔")
	}

	return sinks, closers, opts, nil
}

func closeAll(closers []io.Closer, log *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Warn("關閉資源失敗", "error", err)
		}
	}
}
