package game_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/koopa0/system-design/battleship/internal/game"
	apperrors "github.com/koopa0/system-design/battleship/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoom_AddPlayer 測試玩家加入與席位分配
func TestRoom_AddPlayer(t *testing.T) {
	room := game.NewRoom("room_001", game.RoomOptions{}, nil)
	assert.Equal(t, game.StateWaiting, room.State())
	assert.True(t, room.IsEmpty())

	a, b, c := newClient(), newClient(), newClient()

	idA, err := room.AddPlayer(a, "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, idA)
	assert.Equal(t, 1, room.PlayerCount())
	assert.Equal(t, game.StateWaiting, room.State())

	update := a.lastUpdate(t)
	assert.True(t, update.IsYourTurn, "席位 0 先手")
	assert.Equal(t, game.Shape{Width: 1, Height: 2}, update.Ship)
	assert.Empty(t, update.YourShips)
	assert.True(t, update.Room.Players[0].Occupied)
	assert.False(t, update.Room.Players[1].Occupied)

	idB, err := room.AddPlayer(b, "Bob")
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)
	assert.True(t, room.IsFull())
	assert.Equal(t, game.StatePlacing, room.State())

	// 雙方都收到更新，只有席位 0 是自己的回合
	assert.True(t, a.lastUpdate(t).IsYourTurn)
	assert.False(t, b.lastUpdate(t).IsYourTurn)
	assert.Equal(t, "Bob", a.lastUpdate(t).Room.Players[1].Name)

	_, err = room.AddPlayer(c, "Carol")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotAvailable)
	assert.Zero(t, c.count(), "被拒絕的連線不應收到任何訊息")
}

// TestRoom_AddPlayer_NameTaken 測試暱稱重複
func TestRoom_AddPlayer_NameTaken(t *testing.T) {
	room := game.NewRoom("room_001", game.RoomOptions{}, nil)

	_, err := room.AddPlayer(newClient(), "Alice")
	require.NoError(t, err)

	_, err = room.AddPlayer(newClient(), "Alice")
	assert.ErrorIs(t, err, apperrors.ErrNameTaken)
	assert.Equal(t, 1, room.PlayerCount())

	// 不同暱稱仍可加入
	_, err = room.AddPlayer(newClient(), "alice")
	assert.NoError(t, err)
}

// TestRoom_UpdateJSON 測試 room-update 的線上格式
func TestRoom_UpdateJSON(t *testing.T) {
	room := game.NewRoom("room_001", game.RoomOptions{GridSize: 10}, nil)
	a := newClient()
	_, err := room.AddPlayer(a, "Alice")
	require.NoError(t, err)

	data, err := json.Marshal(a.lastUpdate(t))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "room-update", decoded["type"])
	assert.Equal(t, true, decoded["isYourTurn"])
	assert.Equal(t, []any{}, decoded["yourShips"])
	assert.Equal(t, map[string]any{"width": float64(1), "height": float64(2)}, decoded["ship"])

	roomView, ok := decoded["room"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, roomView["gameOver"])
	assert.Equal(t, float64(10), roomView["gridSize"])
	assert.Equal(t, "room_001", roomView["roomId"])

	players, ok := roomView["players"].([]any)
	require.True(t, ok)
	require.Len(t, players, 2)
	assert.Equal(t, map[string]any{"name": "Alice", "shots": []any{}, "ready": false}, players[0])
	assert.Equal(t, map[string]any{}, players[1], "空席位必須序列化為 {}")
}

// TestRoom_AddShip_RequiresFullRoom 測試房間未滿不能放船
func TestRoom_AddShip_RequiresFullRoom(t *testing.T) {
	room := game.NewRoom("room_001", game.RoomOptions{}, nil)
	a := newClient()
	idA, err := room.AddPlayer(a, "Alice")
	require.NoError(t, err)

	before := a.count()
	assert.False(t, room.AddShip(idA, game.Position{X: 0, Y: 0}))
	assert.Equal(t, before, a.count(), "非法操作不應廣播")
}

// TestRoom_AddShip_Bounds 測試放船邊界（第一艘船為 1×2）
func TestRoom_AddShip_Bounds(t *testing.T) {
	tests := []struct {
		name string
		pos  game.Position
		want bool
	}{
		{"origin", game.Position{X: 0, Y: 0}, true},
		{"bottom-right fits", game.Position{X: 9, Y: 8}, true},
		{"overflows bottom", game.Position{X: 9, Y: 9}, false},
		{"x out of grid", game.Position{X: 10, Y: 0}, false},
		{"negative x", game.Position{X: -1, Y: 0}, false},
		{"negative y", game.Position{X: 0, Y: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, _, a, _, idA, _ := setupRoom(t)
			before := a.count()

			got := room.AddShip(idA, tt.pos)
			assert.Equal(t, tt.want, got)

			if tt.want {
				update := a.lastUpdate(t)
				require.Len(t, update.YourShips, 1)
				assert.Equal(t, game.ShipView{X: tt.pos.X, Y: tt.pos.Y, Width: 1, Height: 2}, update.YourShips[0])
			} else {
				assert.Equal(t, before, a.count())
			}
		})
	}
}

// TestRoom_AddShip_Overlap 測試不可與自己的船重疊
func TestRoom_AddShip_Overlap(t *testing.T) {
	room, _, _, b, idA, idB := setupRoom(t)

	require.True(t, room.AddShip(idA, game.Position{X: 0, Y: 0})) // 1×2：(0,0)(0,1)

	// 3×1 從 (0,1) 開始會壓到第一艘船
	assert.False(t, room.AddShip(idA, game.Position{X: 0, Y: 1}))
	assert.True(t, room.AddShip(idA, game.Position{X: 0, Y: 2}))

	// 對手的船不影響自己的放置
	assert.True(t, room.AddShip(idB, game.Position{X: 0, Y: 0}))
	assert.Len(t, b.lastUpdate(t).YourShips, 1)
}

// TestRoom_AddShip_ShapeSequence 測試外形依序推進與準備完成
func TestRoom_AddShip_ShapeSequence(t *testing.T) {
	room, _, a, b, idA, _ := setupRoom(t)

	for i, pos := range fleet {
		require.True(t, room.AddShip(idA, pos))

		update := a.lastUpdate(t)
		assert.Len(t, update.YourShips, i+1)
		assert.Equal(t, game.NextShape(i+1), update.Ship)
		assert.Equal(t, i+1 == len(fleet), update.Room.Players[0].Ready)
	}

	// 對手看得到 ready 旗標，但看不到船的位置
	other := b.lastUpdate(t)
	assert.True(t, other.Room.Players[0].Ready)
	assert.Empty(t, other.YourShips)

	// 放滿之後不再接受
	assert.False(t, room.AddShip(idA, game.Position{X: 8, Y: 8}))
	assert.Equal(t, game.StatePlacing, room.State(), "只有一方準備好時仍在佈陣")
}

// TestRoom_AddShot_RequiresPlaying 測試佈陣期間不能射擊
func TestRoom_AddShot_RequiresPlaying(t *testing.T) {
	room, _, _, _, idA, idB := setupRoom(t)
	placeFleet(t, room, idA)

	assert.False(t, room.AddShot(idA, game.Position{X: 0, Y: 0}))

	placeFleet(t, room, idB)
	assert.True(t, room.AddShot(idA, game.Position{X: 0, Y: 0}))
}

// TestRoom_AddShot_TurnOrder 測試回合輪替
func TestRoom_AddShot_TurnOrder(t *testing.T) {
	room, _, a, b, idA, idB := setupPlayingRoom(t)

	assert.True(t, a.lastUpdate(t).IsYourTurn)
	assert.False(t, b.lastUpdate(t).IsYourTurn)

	// 不是自己的回合
	assert.False(t, room.AddShot(idB, game.Position{X: 5, Y: 5}))

	require.True(t, room.AddShot(idA, game.Position{X: 5, Y: 5}))
	assert.False(t, a.lastUpdate(t).IsYourTurn)
	assert.True(t, b.lastUpdate(t).IsYourTurn)

	// 連續射擊被拒絕
	assert.False(t, room.AddShot(idA, game.Position{X: 5, Y: 6}))

	require.True(t, room.AddShot(idB, game.Position{X: 5, Y: 5}), "對手可以射擊同一座標")
	assert.True(t, a.lastUpdate(t).IsYourTurn)
}

// TestRoom_AddShot_Repeated 測試同一座標不可重複射擊
func TestRoom_AddShot_Repeated(t *testing.T) {
	room, _, a, _, idA, idB := setupPlayingRoom(t)

	require.True(t, room.AddShot(idA, game.Position{X: 5, Y: 5}))
	require.True(t, room.AddShot(idB, game.Position{X: 7, Y: 7}))

	before := a.count()
	assert.False(t, room.AddShot(idA, game.Position{X: 5, Y: 5}))
	assert.Equal(t, before, a.count())
	assert.True(t, a.lastUpdate(t).IsYourTurn, "被拒絕的射擊不換手")
}

// TestRoom_AddShot_Bounds 測試射擊範圍包含上界
func TestRoom_AddShot_Bounds(t *testing.T) {
	tests := []struct {
		name string
		pos  game.Position
		want bool
	}{
		{"inside", game.Position{X: 5, Y: 5}, true},
		{"upper bound inclusive", game.Position{X: 10, Y: 10}, true},
		{"beyond upper bound", game.Position{X: 11, Y: 0}, false},
		{"negative", game.Position{X: -1, Y: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room, _, _, _, idA, _ := setupPlayingRoom(t)
			assert.Equal(t, tt.want, room.AddShot(idA, tt.pos))
		})
	}
}

// TestRoom_AddShot_HitDetection 測試命中判定
func TestRoom_AddShot_HitDetection(t *testing.T) {
	room, _, a, b, idA, idB := setupPlayingRoom(t)

	require.True(t, room.AddShot(idA, game.Position{X: 0, Y: 0})) // Bob 的 1×2
	require.True(t, room.AddShot(idB, game.Position{X: 9, Y: 0})) // 空白

	shotsA := b.lastUpdate(t).Room.Players[0].Shots
	require.Len(t, shotsA, 1)
	assert.Equal(t, game.Shot{X: 0, Y: 0, Hit: true}, shotsA[0])

	shotsB := a.lastUpdate(t).Room.Players[1].Shots
	require.Len(t, shotsB, 1)
	assert.Equal(t, game.Shot{X: 9, Y: 0, Hit: false}, shotsB[0])
}

// TestRoom_GameOver 測試擊沉全部船艦後結束
func TestRoom_GameOver(t *testing.T) {
	room, listener, a, b, idA, idB := setupPlayingRoom(t)
	misses := missCells(len(fleetCells))

	for i, cell := range fleetCells {
		require.True(t, room.AddShot(idA, cell), "shot %d", i)
		if i < len(fleetCells)-1 {
			require.True(t, room.AddShot(idB, misses[i]))
		}
	}

	assert.Equal(t, game.StateFinished, room.State())

	// 每艘船各擊沉一次，失船數遞增
	require.Len(t, listener.destroyed, len(fleet))
	for i, ev := range listener.destroyed {
		assert.Equal(t, "Bob", ev.ShipOwner)
		assert.Equal(t, i+1, ev.ShipsLost)
		assert.Equal(t, len(fleet)-i-1, ev.ShipsRemaining)
	}

	require.Len(t, listener.gameOver, 1)
	assert.Equal(t, game.GameOverEvent{
		RoomID: "room_001",
		Winner: "Alice",
		Loser:  "Bob",
	}, listener.gameOver[0])

	// 最後兩則訊息：先 game-over，再 room-update（gameOver=true）
	for _, c := range []*fakeClient{a, b} {
		msgs := c.messages()
		require.GreaterOrEqual(t, len(msgs), 2)

		over, ok := msgs[len(msgs)-2].(game.GameOverMessage)
		require.True(t, ok, "倒數第二則應為 game-over，實際為 %T", msgs[len(msgs)-2])
		assert.Equal(t, "Alice", over.Winner)
		assert.Equal(t, "room_001", over.RoomID)

		update, ok := msgs[len(msgs)-1].(game.RoomUpdateMessage)
		require.True(t, ok, "最後一則應為 room-update，實際為 %T", msgs[len(msgs)-1])
		assert.True(t, update.Room.GameOver)
	}

	// 結束之後所有操作都被忽略
	before := a.count()
	assert.False(t, room.AddShot(idB, game.Position{X: 8, Y: 8}))
	assert.False(t, room.AddShip(idA, game.Position{X: 8, Y: 8}))
	assert.Equal(t, before, a.count())
}

// TestRoom_RemovePlayer_Forfeit 測試對戰中離開視為棄權
func TestRoom_RemovePlayer_Forfeit(t *testing.T) {
	room, listener, a, b, idA, idB := setupPlayingRoom(t)

	require.True(t, room.RemovePlayer(idA))

	assert.Equal(t, game.StateFinished, room.State())
	assert.Equal(t, 1, room.PlayerCount())
	assert.False(t, room.HasPlayer(idA))
	assert.True(t, room.HasPlayer(idB))

	require.Len(t, listener.gameOver, 1)
	assert.True(t, listener.gameOver[0].Forfeit)
	assert.Equal(t, "Bob", listener.gameOver[0].Winner)
	assert.Equal(t, "Alice", listener.gameOver[0].Loser)

	over, ok := find[game.GameOverMessage](b)
	require.True(t, ok)
	assert.Equal(t, "Bob", over.Winner)

	// 離開的一方也收到結果
	_, ok = find[game.GameOverMessage](a)
	assert.True(t, ok)

	// 留下的玩家看到空席位
	update := b.lastUpdate(t)
	assert.False(t, update.Room.Players[0].Occupied)
	assert.True(t, update.Room.GameOver)

	// 第二位玩家離開不會再產生結果
	require.True(t, room.RemovePlayer(idB))
	assert.Len(t, listener.gameOver, 1)
	assert.True(t, room.IsEmpty())
}

// TestRoom_RemovePlayer_DuringPlacement 測試佈陣期間離開不算棄權
func TestRoom_RemovePlayer_DuringPlacement(t *testing.T) {
	room, listener, _, b, idA, idB := setupRoom(t)
	placeFleet(t, room, idB)

	require.True(t, room.RemovePlayer(idA))

	assert.Equal(t, game.StateWaiting, room.State())
	assert.Empty(t, listener.gameOver)
	assert.Zero(t, countOf[game.GameOverMessage](b))

	// 新玩家可以補上空出來的席位 0
	c := newClient()
	_, err := room.AddPlayer(c, "Carol")
	require.NoError(t, err)
	assert.True(t, c.lastUpdate(t).IsYourTurn)
	assert.Equal(t, game.StatePlacing, room.State())
}

// TestRoom_AddPlayer_Finished 測試已結束的房間不接受新玩家
func TestRoom_AddPlayer_Finished(t *testing.T) {
	room, _, _, b, idA, _ := setupPlayingRoom(t)
	require.True(t, room.RemovePlayer(idA))
	require.Equal(t, game.StateFinished, room.State())

	before := b.count()
	c := newClient()
	_, err := room.AddPlayer(c, "Carol")
	assert.ErrorIs(t, err, apperrors.ErrRoomNotAvailable)

	assert.Equal(t, 1, room.PlayerCount())
	assert.Zero(t, c.count())
	assert.Equal(t, before, b.count())
}

// TestRoom_RemovePlayer_Unknown 測試移除不存在的玩家
func TestRoom_RemovePlayer_Unknown(t *testing.T) {
	room, _, a, _, _, _ := setupRoom(t)

	before := a.count()
	assert.False(t, room.RemovePlayer("nobody"))
	assert.Equal(t, before, a.count())
	assert.Equal(t, 2, room.PlayerCount())
}

// TestRoom_EmptyFor 測試空房計時
func TestRoom_EmptyFor(t *testing.T) {
	room := game.NewRoom("room_001", game.RoomOptions{}, nil)
	later := time.Now().Add(time.Minute)
	assert.Greater(t, room.EmptyFor(later), time.Duration(0))

	id, err := room.AddPlayer(newClient(), "Alice")
	require.NoError(t, err)
	assert.Zero(t, room.EmptyFor(later))

	require.True(t, room.RemovePlayer(id))
	assert.Greater(t, room.EmptyFor(time.Now().Add(time.Second)), time.Duration(0))
}

// TestRoom_Snapshot 測試快照
func TestRoom_Snapshot(t *testing.T) {
	room, _, _, _, idA, _ := setupRoom(t)
	require.True(t, room.AddShip(idA, game.Position{X: 3, Y: 3}))

	snap := room.Snapshot()
	assert.Equal(t, "room_001", snap.ID)
	assert.Equal(t, game.StatePlacing, snap.State)
	assert.Equal(t, 10, snap.GridSize)
	assert.Equal(t, 5, snap.MaxShipCount)
	require.Len(t, snap.Players, 2)

	alice := snap.Players[0]
	assert.Equal(t, idA, alice.ID)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, 0, alice.Slot)
	assert.Equal(t, []game.ShipView{{X: 3, Y: 3, Width: 1, Height: 2}}, alice.Ships)
	assert.Equal(t, game.Shape{Width: 3, Height: 1}, alice.NextShip)

	// JSON 不包含船艦位置
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded struct {
		Players []map[string]any `json:"players"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Players, 2)
	assert.NotContains(t, decoded.Players[0], "ships")
	assert.Contains(t, decoded.Players[0], "ships_lost")
}
