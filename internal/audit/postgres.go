package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/battleship/internal/game"
)

// PostgresSink 將事件寫入 match_events 表（只新增，不修改）
//
// 表結構由 migrations 套件管理。
type PostgresSink struct {
	pool *pgxpool.Pool
}

// DialPostgres 建立連線池並確認連線
func DialPostgres(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析 DSN 失敗: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("建立連線池失敗: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("連接 PostgreSQL 失敗: %w", err)
	}
	return pool, nil
}

// NewPostgresSink 創建 PostgreSQL Sink
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Name() string { return "postgres" }

const insertEventSQL = `
INSERT INTO match_events
    (event_type, room_id, chat_id, player, winner, loser, ships_lost, ships_remaining, forfeit, occurred_at)
VALUES
    ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10)`

// Record 新增一筆事件
func (s *PostgresSink) Record(ctx context.Context, ev game.Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := s.pool.Exec(ctx, insertEventSQL,
		string(ev.Type),
		ev.RoomID,
		ev.ChatID,
		ev.Player,
		ev.Winner,
		ev.Loser,
		ev.ShipsLost,
		ev.ShipsRemaining,
		ev.Forfeit,
		at,
	)
	if err != nil {
		return fmt.Errorf("寫入事件失敗: %w", err)
	}
	return nil
}

// MatchResult 一場結束的對局
type MatchResult struct {
	RoomID  string    `json:"room_id"`
	Winner  string    `json:"winner"`
	Loser   string    `json:"loser,omitempty"`
	Forfeit bool      `json:"forfeit"`
	At      time.Time `json:"at"`
}

const recentResultsSQL = `
SELECT room_id, COALESCE(winner, ''), COALESCE(loser, ''), forfeit, occurred_at
FROM match_events
WHERE event_type = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2`

// RecentResults 最近結束的對局
func (s *PostgresSink) RecentResults(ctx context.Context, limit int) ([]MatchResult, error) {
	if limit < 1 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, recentResultsSQL, string(game.EventGameOver), limit)
	if err != nil {
		return nil, fmt.Errorf("查詢對局失敗: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (MatchResult, error) {
		var r MatchResult
		err := row.Scan(&r.RoomID, &r.Winner, &r.Loser, &r.Forfeit, &r.At)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("讀取對局失敗: %w", err)
	}
	return results, nil
}

// Close 關閉連線池
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
