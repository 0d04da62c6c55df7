// Package audit 將房間事件送往觀測用的外部系統
//
// 遊戲邏輯只透過 game.Publisher 發出事件，不等待任何結果：
//
//	Room 事件 → Dispatcher.Publish（非阻塞）→ 緩衝 channel → worker → 各個 Sink
//
// 緩衝區滿時直接丟棄並記錄警告，外部系統變慢不會拖住房間鎖。
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/battleship/internal/game"
)

// Sink 事件的接收端
type Sink interface {
	Name() string
	Record(ctx context.Context, ev game.Event) error
}

// Dispatcher 非同步分發事件給所有 Sink
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex // 保護 closed 與 events 的關閉
	closed bool
	events chan game.Event

	dropped   atomic.Int64
	recorded  atomic.Int64
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher 創建分發器並啟動 worker
func NewDispatcher(bufferSize int, timeout time.Duration, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	d := &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		events:  make(chan game.Event, bufferSize),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Publish 非阻塞送出事件，緩衝區滿或已關閉時丟棄
func (d *Dispatcher) Publish(ev game.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.events <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("稽核緩衝區已滿，丟棄事件",
			"type", ev.Type,
			"room_id", ev.RoomID)
	}
}

// run worker 主迴圈，channel 關閉後處理完剩餘事件才結束
func (d *Dispatcher) run() {
	defer d.wg.Done()

	for ev := range d.events {
		d.dispatch(ev)
	}
}

func (d *Dispatcher) dispatch(ev game.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := sink.Record(ctx, ev)
		cancel()

		if err != nil {
			d.logger.Warn("稽核事件寫入失敗",
				"sink", sink.Name(),
				"type", ev.Type,
				"room_id", ev.RoomID,
				"error", err)
			continue
		}
		d.recorded.Add(1)
	}
}

// Close 停止接收事件，等待緩衝區清空
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.events)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

// Dropped 被丟棄的事件數
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Recorded 成功寫入的次數（每個 Sink 各算一次）
func (d *Dispatcher) Recorded() int64 {
	return d.recorded.Load()
}

// LogSink 以結構化日誌記錄事件
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink 創建日誌 Sink
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Record(ctx context.Context, ev game.Event) error {
	attrs := []any{
		"type", ev.Type,
		"room_id", ev.RoomID,
		"at", ev.At,
	}
	if ev.ChatID != "" {
		attrs = append(attrs, "chat_id", ev.ChatID)
	}

	switch ev.Type {
	case game.EventShipDestroyed:
		attrs = append(attrs,
			"player", ev.Player,
			"ships_lost", ev.ShipsLost,
			"ships_remaining", ev.ShipsRemaining)
	case game.EventGameOver:
		attrs = append(attrs,
			"winner", ev.Winner,
			"loser", ev.Loser,
			"forfeit", ev.Forfeit)
	}

	s.logger.InfoContext(ctx, "稽核事件", attrs...)
	return nil
}
