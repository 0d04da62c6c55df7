// Package transport 負責 WebSocket 連線與指令解碼
//
// 每條連線一個 Connection，以 readPump/writePump 兩個 goroutine 處理讀寫；
// 解碼後的指令直接呼叫 game.Game，Room 廣播時透過 Connection.Send 排入寫出佇列。
package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/battleship/internal/game"
)

// Options WebSocket 參數
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendQueueSize   int   // 每條連線的寫出佇列長度
	MaxMessageSize  int64 // 單一入站訊息上限（位元組）
	PongWait        time.Duration
	PingPeriod      time.Duration // 必須小於 PongWait
	WriteWait       time.Duration
}

// DefaultOptions 預設參數（54s Ping / 60s Pong 逾時）
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendQueueSize:   256,
		MaxMessageSize:  4096,
		PongWait:        60 * time.Second,
		PingPeriod:      54 * time.Second,
		WriteWait:       10 * time.Second,
	}
}

// Hub 管理所有 WebSocket 連線
//
// 連線與房間的綁定由 game.Game 負責，Hub 只記錄連線本身，
// 用於統計與關機時主動斷線。
type Hub struct {
	game     *game.Game
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[string]*Connection // connID -> Connection
	stopped     bool

	wg sync.WaitGroup // 追蹤 readPump，Stop 等待所有連線完成 Disconnect
}

// NewHub 創建 WebSocket Hub
func NewHub(g *game.Game, opts Options, logger *slog.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.SendQueueSize < 1 {
		opts.SendQueueSize = defaults.SendQueueSize
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}

	return &Hub{
		game:   g,
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				// 客戶端可能來自任意網域（瀏覽器頁面或聊天機器人）
				return true
			},
		},
		connections: make(map[string]*Connection),
	}
}

// ServeWS 處理 WebSocket 連接
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	stopped := h.stopped
	h.mu.RUnlock()
	if stopped {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已回覆 HTTP 錯誤
		h.logger.Warn("升級 WebSocket 失敗", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := &Connection{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan []byte, h.opts.SendQueueSize),
		hub:      h,
		lastPing: time.Now(),
	}

	if !h.register(conn) {
		_ = ws.Close()
		return
	}
	h.game.Connect(conn)

	go conn.writePump()
	go conn.readPump()

	h.logger.Info("WebSocket 連接建立",
		"conn_id", conn.id,
		"remote_addr", r.RemoteAddr)
}

// register 註冊連接（Hub 已停止時回傳 false）
func (h *Hub) register(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return false
	}
	h.connections[conn.id] = conn
	h.wg.Add(1) // 與 stopped 在同一把鎖內，Stop 的 Wait 不會漏算
	return true
}

// unregister 取消註冊連接
func (h *Hub) unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if actual, ok := h.connections[conn.id]; ok && actual == conn {
		delete(h.connections, conn.id)
	}
}

// ConnectionCount 目前的連線數
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// MaxPongAge 所有連線中最久沒有回應 Pong 的時間（沒有連線時為 0）
//
// 接近 PongWait 表示有連線即將因逾時被關閉。
func (h *Hub) MaxPongAge() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var oldest time.Duration
	now := time.Now()
	for _, conn := range h.connections {
		if age := now.Sub(conn.LastPing()); age > oldest {
			oldest = age
		}
	}
	return oldest
}

// Stop 關閉所有連線，等待每條連線都完成離場處理
func (h *Hub) Stop() {
	h.mu.Lock()
	h.stopped = true
	conns := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.shutdown()
	}

	h.wg.Wait()
	h.logger.Info("WebSocket Hub 已停止", "closed", len(conns))
}
