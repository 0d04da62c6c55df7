package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/battleship/internal/game"
	"github.com/nats-io/nats.go"
)

// NATSSink 將事件發佈到 NATS
//
// Subject 格式：<prefix>.<room_id>.<event_type>
//
//	battleship.k3x9a0pq.ship-destroyed
//	battleship.k3x9a0pq.game-over
//
// 訂閱者可以用 battleship.*.game-over 只收對局結果。
// 使用 Core NATS（at-most-once），事件只用於觀測，不需要 JetStream 的持久化。
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink 連接 NATS
func NewNATSSink(url, prefix string, logger *slog.Logger) (*NATSSink, error) {
	if prefix == "" {
		prefix = "battleship"
	}

	conn, err := nats.Connect(url,
		nats.Name("battleship-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS 連線中斷", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS 已重新連線", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	return &NATSSink{conn: conn, prefix: prefix}, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Subject 事件對應的 subject
func (s *NATSSink) Subject(ev game.Event) string {
	return s.prefix + "." + ev.RoomID + "." + string(ev.Type)
}

// Record 發佈事件（JSON）
func (s *NATSSink) Record(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("序列化事件失敗: %w", err)
	}

	if err := s.conn.Publish(s.Subject(ev), data); err != nil {
		return fmt.Errorf("發佈事件失敗: %w", err)
	}

	// 等待伺服器確認收到，受 ctx 逾時限制
	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush 失敗: %w", err)
	}
	return nil
}

// Close 送出剩餘訊息並關閉連線
func (s *NATSSink) Close() error {
	return s.conn.Drain()
}
