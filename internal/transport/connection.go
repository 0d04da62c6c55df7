package transport

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection 一條 WebSocket 連線，實作 game.Client
type Connection struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	mu       sync.Mutex
	closed   bool // send 是否已關閉
	lastPing time.Time
}

// ID 連線 ID
func (c *Connection) ID() string { return c.id }

// Send 序列化並排入寫出佇列
//
// 非阻塞：佇列已滿或連線已關閉時丟棄並回傳 false。
// 會在房間鎖內被呼叫，不可做任何阻塞操作。
func (c *Connection) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("序列化訊息失敗", "conn_id", c.id, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.hub.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", c.id)
		return false
	}
}

// LastPing 最後一次收到 Pong 的時間（尚未收到時為連線建立時間）
func (c *Connection) LastPing() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPing
}

// closeSend 關閉寫出佇列，writePump 隨後送出 Close 訊息並關閉連線
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// shutdown 伺服器主動關閉連線
func (c *Connection) shutdown() {
	c.closeSend()
	// writePump 可能卡在寫入，讓讀取端立即結束
	_ = c.ws.SetReadDeadline(time.Now())
}

// readPump 讀取客戶端指令
//
// 讀取失敗（客戶端關閉、網路錯誤、Pong 逾時）一律視為離線：
// 先交給 Game 處理離場（對戰中即棄權），再關閉連線。
func (c *Connection) readPump() {
	opts := c.hub.opts

	defer func() {
		c.hub.unregister(c)
		c.hub.game.Disconnect(c)
		c.closeSend()
		_ = c.ws.Close()
		c.hub.wg.Done()

		c.hub.logger.Info("WebSocket 連接關閉", "conn_id", c.id)
	}()

	if opts.MaxMessageSize > 0 {
		c.ws.SetReadLimit(opts.MaxMessageSize)
	}
	if err := c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		c.hub.logger.Error("設置讀取期限失敗", "error", err)
	}

	// Pong 處理器（收到 Pong 重置超時）
	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
			c.hub.logger.Error("設置讀取期限失敗", "error", err)
		}
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket 讀取錯誤",
					"conn_id", c.id,
					"error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.handleMessage(message)
		}
	}
}

// writePump 將佇列中的訊息寫到客戶端，並定期送出 Ping
func (c *Connection) writePump() {
	opts := c.hub.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 佇列已關閉，送出 Close 訊息（忽略錯誤，連線可能已斷）
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// 批量發送隊列中的消息（每則仍是獨立的 frame，客戶端逐則解析 JSON）
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, next); err != nil {
					c.hub.logger.Warn("發送消息失敗", "conn_id", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.hub.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
