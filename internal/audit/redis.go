package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/koopa0/system-design/battleship/internal/game"
	"github.com/redis/go-redis/v9"
)

// RedisSink 在 Redis 維護即時統計
//
// Key 設計：
//
//	<prefix>:ships_destroyed  被擊沉的船艦總數
//	<prefix>:games_finished   結束的對局數
//	<prefix>:forfeits         棄權結束的對局數
//	<prefix>:wins             Hash，暱稱 → 勝場數
type RedisSink struct {
	client *redis.Client
	prefix string
}

// Totals 統計快照
type Totals struct {
	ShipsDestroyed int64            `json:"ships_destroyed"`
	GamesFinished  int64            `json:"games_finished"`
	Forfeits       int64            `json:"forfeits"`
	Wins           map[string]int64 `json:"wins"`
}

// DialRedis 建立 Redis 客戶端並確認連線
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("連接 Redis 失敗: %w", err)
	}
	return client, nil
}

// NewRedisSink 創建 Redis Sink
func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "battleship"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) key(name string) string {
	return s.prefix + ":" + name
}

// Record 更新計數器（同一事件的多個 key 在同一個交易內更新）
func (s *RedisSink) Record(ctx context.Context, ev game.Event) error {
	pipe := s.client.TxPipeline()

	switch ev.Type {
	case game.EventShipDestroyed:
		pipe.Incr(ctx, s.key("ships_destroyed"))
	case game.EventGameOver:
		pipe.Incr(ctx, s.key("games_finished"))
		if ev.Forfeit {
			pipe.Incr(ctx, s.key("forfeits"))
		}
		if ev.Winner != "" {
			pipe.HIncrBy(ctx, s.key("wins"), ev.Winner, 1)
		}
	default:
		return nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("更新 Redis 計數器失敗: %w", err)
	}
	return nil
}

// Totals 讀取目前的統計
func (s *RedisSink) Totals(ctx context.Context) (Totals, error) {
	totals := Totals{Wins: make(map[string]int64)}

	vals, err := s.client.MGet(ctx,
		s.key("ships_destroyed"),
		s.key("games_finished"),
		s.key("forfeits"),
	).Result()
	if err != nil {
		return totals, fmt.Errorf("讀取計數器失敗: %w", err)
	}

	targets := []*int64{&totals.ShipsDestroyed, &totals.GamesFinished, &totals.Forfeits}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // key 不存在
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return totals, fmt.Errorf("計數器格式錯誤: %w", err)
		}
		*targets[i] = n
	}

	wins, err := s.client.HGetAll(ctx, s.key("wins")).Result()
	if err != nil {
		return totals, fmt.Errorf("讀取勝場失敗: %w", err)
	}
	for name, v := range wins {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return totals, fmt.Errorf("勝場格式錯誤: %w", err)
		}
		totals.Wins[name] = n
	}

	return totals, nil
}

// Close 關閉 Redis 連線
func (s *RedisSink) Close() error {
	return s.client.Close()
}
