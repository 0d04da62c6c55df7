package game_test

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/koopa0/system-design/battleship/internal/game"
	"github.com/koopa0/system-design/battleship/pkg/logger"
	"github.com/stretchr/testify/require"
)

// 創建測試用的 logger（只保留錯誤且不輸出）
func testLogger() *slog.Logger {
	return logger.Discard()
}

var clientSeq atomic.Int64

// fakeClient 記錄收到的所有訊息
type fakeClient struct {
	id     string
	mu     sync.Mutex
	msgs   []any
	closed bool
}

func newClient() *fakeClient {
	return &fakeClient{id: fmt.Sprintf("conn-%d", clientSeq.Add(1))}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(msg any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *fakeClient) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

func (c *fakeClient) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// lastUpdate 最後一則 room-update
func (c *fakeClient) lastUpdate(t *testing.T) game.RoomUpdateMessage {
	t.Helper()
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if u, ok := msgs[i].(game.RoomUpdateMessage); ok {
			return u
		}
	}
	require.FailNow(t, "no room-update received", "client %s", c.id)
	return game.RoomUpdateMessage{}
}

// find 返回第一則指定型別的訊息
func find[T any](c *fakeClient) (T, bool) {
	for _, m := range c.messages() {
		if v, ok := m.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// countOf 統計指定型別訊息的數量
func countOf[T any](c *fakeClient) int {
	n := 0
	for _, m := range c.messages() {
		if _, ok := m.(T); ok {
			n++
		}
	}
	return n
}

// recordingListener 記錄房間事件
type recordingListener struct {
	mu        sync.Mutex
	destroyed []game.ShipDestroyedEvent
	gameOver  []game.GameOverEvent
}

func (l *recordingListener) ShipDestroyed(e game.ShipDestroyedEvent) {
	l.mu.Lock()
	l.destroyed = append(l.destroyed, e)
	l.mu.Unlock()
}

func (l *recordingListener) GameOver(e game.GameOverEvent) {
	l.mu.Lock()
	l.gameOver = append(l.gameOver, e)
	l.mu.Unlock()
}

// recordingPublisher 記錄稽核事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []game.Event
}

func (p *recordingPublisher) Publish(e game.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) ofType(t game.EventType) []game.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []game.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// fleet 預設規則（10×10、5 艘船）下一組合法且互不重疊的放置位置
//
//	1×2 @ (0,0)  3×1 @ (2,0)  1×4 @ (6,0)  5×1 @ (0,5)  1×1 @ (9,9)
var fleet = []game.Position{
	{X: 0, Y: 0},
	{X: 2, Y: 0},
	{X: 6, Y: 0},
	{X: 0, Y: 5},
	{X: 9, Y: 9},
}

// fleetCells fleet 佔據的所有格子
var fleetCells = []game.Position{
	{X: 0, Y: 0}, {X: 0, Y: 1},
	{X: 2, Y: 0}, {X: 3, Y: 0}, {X: 4, Y: 0},
	{X: 6, Y: 0}, {X: 6, Y: 1}, {X: 6, Y: 2}, {X: 6, Y: 3},
	{X: 0, Y: 5}, {X: 1, Y: 5}, {X: 2, Y: 5}, {X: 3, Y: 5}, {X: 4, Y: 5},
	{X: 9, Y: 9},
}

// missCells 不在 fleet 上的格子
func missCells(n int) []game.Position {
	occupied := make(map[game.Position]bool, len(fleetCells))
	for _, c := range fleetCells {
		occupied[c] = true
	}

	out := make([]game.Position, 0, n)
	for y := 0; y < 10 && len(out) < n; y++ {
		for x := 0; x < 10 && len(out) < n; x++ {
			p := game.Position{X: x, Y: y}
			if !occupied[p] {
				out = append(out, p)
			}
		}
	}
	return out
}

// setupRoom 兩位玩家進入的房間
func setupRoom(t *testing.T) (*game.Room, *recordingListener, *fakeClient, *fakeClient, string, string) {
	t.Helper()

	listener := &recordingListener{}
	room := game.NewRoom("room_001", game.RoomOptions{GridSize: 10, MaxShipCount: 5}, listener)

	a, b := newClient(), newClient()
	idA, err := room.AddPlayer(a, "Alice")
	require.NoError(t, err)
	idB, err := room.AddPlayer(b, "Bob")
	require.NoError(t, err)

	return room, listener, a, b, idA, idB
}

// placeFleet 為玩家放完整支艦隊
func placeFleet(t *testing.T, room *game.Room, playerID string) {
	t.Helper()
	for _, pos := range fleet {
		require.True(t, room.AddShip(playerID, pos), "placement at %+v should be accepted", pos)
	}
}

// setupPlayingRoom 雙方都已佈陣完成的房間
func setupPlayingRoom(t *testing.T) (*game.Room, *recordingListener, *fakeClient, *fakeClient, string, string) {
	t.Helper()

	room, listener, a, b, idA, idB := setupRoom(t)
	placeFleet(t, room, idA)
	placeFleet(t, room, idB)
	require.Equal(t, game.StatePlaying, room.State())
	return room, listener, a, b, idA, idB
}
