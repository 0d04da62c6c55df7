// Package config 載入對戰伺服器的設定
//
// 載入順序：DefaultConfig → YAML 檔案 → 環境變數 → 命令列參數（由 main 處理）。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		IdleTimeout     time.Duration `yaml:"idle_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	WebSocket struct {
		ReadBufferSize  int           `yaml:"read_buffer_size"`
		WriteBufferSize int           `yaml:"write_buffer_size"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		MaxMessageSize  int64         `yaml:"max_message_size"`
		PongWait        time.Duration `yaml:"pong_wait"`
		PingPeriod      time.Duration `yaml:"ping_period"`
		WriteWait       time.Duration `yaml:"write_wait"`
	} `yaml:"websocket"`

	Game struct {
		GridSize        int           `yaml:"grid_size"`
		MaxShipCount    int           `yaml:"max_ship_count"`
		EmptyRoomTTL    time.Duration `yaml:"empty_room_ttl"`
		CleanupInterval time.Duration `yaml:"cleanup_interval"`
	} `yaml:"game"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"log"`

	Audit struct {
		BufferSize int           `yaml:"buffer_size"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"audit"`

	// 以下三個外部依賴皆為選用，位址為空時不啟用
	Redis struct {
		Addr      string `yaml:"addr"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Postgres struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"postgres"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Port = 8086
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.WebSocket.ReadBufferSize = 1024
	cfg.WebSocket.WriteBufferSize = 1024
	cfg.WebSocket.SendQueueSize = 256
	cfg.WebSocket.MaxMessageSize = 4096
	cfg.WebSocket.PongWait = 60 * time.Second
	cfg.WebSocket.PingPeriod = 54 * time.Second // 必須小於 PongWait
	cfg.WebSocket.WriteWait = 10 * time.Second

	cfg.Game.GridSize = 10
	cfg.Game.MaxShipCount = 5
	cfg.Game.EmptyRoomTTL = 10 * time.Minute
	cfg.Game.CleanupInterval = time.Minute

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"

	cfg.Audit.BufferSize = 256
	cfg.Audit.Timeout = 2 * time.Second

	cfg.Redis.KeyPrefix = "battleship"
	cfg.NATS.SubjectPrefix = "battleship"
	cfg.Postgres.MaxConns = 4
	cfg.Postgres.Migrate = true

	return cfg
}

// Load 讀取 YAML 設定檔並套用環境變數覆蓋
//
// path 為空時只使用預設值與環境變數。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		// #nosec G304 - 路徑來自命令列參數
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("讀取設定檔失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析設定檔失敗: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv 從環境變量覆蓋配置
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("BATTLESHIP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATTLESHIP_PORT 格式錯誤: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("BATTLESHIP_GRID_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATTLESHIP_GRID_SIZE 格式錯誤: %w", err)
		}
		c.Game.GridSize = n
	}
	if v, ok := lookup("BATTLESHIP_MAX_SHIPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BATTLESHIP_MAX_SHIPS 格式錯誤: %w", err)
		}
		c.Game.MaxShipCount = n
	}
	if v, ok := lookup("BATTLESHIP_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("REDIS_PASSWORD"); ok {
		c.Redis.Password = v
	}
	if v, ok := lookup("NATS_URL"); ok {
		c.NATS.URL = v
	}
	// 支援環境變數覆蓋（生產環境常用）
	if v, ok := lookup("DATABASE_URL"); ok {
		c.Postgres.DSN = v
	}
	return nil
}

// Validate 檢查設定是否合理
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的端口: %d", c.Server.Port)
	}
	if c.Game.GridSize < 5 {
		return fmt.Errorf("棋盤大小至少為 5: %d", c.Game.GridSize)
	}
	if c.Game.MaxShipCount < 1 {
		return fmt.Errorf("船艦數量至少為 1: %d", c.Game.MaxShipCount)
	}
	if c.Game.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval 必須大於 0: %s", c.Game.CleanupInterval)
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		return fmt.Errorf("ping_period (%s) 必須小於 pong_wait (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait)
	}
	if c.WebSocket.SendQueueSize < 1 {
		return fmt.Errorf("send_queue_size 至少為 1: %d", c.WebSocket.SendQueueSize)
	}
	if c.Audit.BufferSize < 1 {
		return fmt.Errorf("audit buffer_size 至少為 1: %d", c.Audit.BufferSize)
	}
	return nil
}

// Addr 返回 HTTP 監聽地址
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
