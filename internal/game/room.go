package game

import (
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/battleship/pkg/errors"
)

// 系統設計問題：
//   兩位玩家輪流射擊，伺服器如何保證每一步都合法，且任何一方斷線都不會弄壞另一方的對局？
//
// 核心挑戰：
//   1. 順序：同一房間的指令必須逐一完成（驗證 → 修改 → 廣播）才能處理下一個
//   2. 空間驗證：船艦不可出界、不可重疊
//   3. 回合：只有輪到的玩家可以射擊，而且只有合法射擊才換手
//   4. 部分失敗：玩家中途斷線視為棄權，對手獲勝
//
// 設計方案：
//   ✅ 每個房間一把 Mutex，整個操作（含廣播）都在鎖內完成
//   ✅ 狀態由席位與準備旗標推導，避免狀態欄位與實際資料不一致
//   ✅ 非法操作一律靜默忽略，客戶端以下一次 room-update 為準
//   ✅ 事件透過建構時注入的 Listener 回報，拆除房間時解除

// State 房間狀態
//
// 有限狀態機：
//
//	waiting → placing → playing → finished
//	   ↑_________↓
//
// 狀態轉換規則：
//   - waiting → placing：第二位玩家進入
//   - placing → waiting：佈陣期間有人離開
//   - placing → playing：兩位玩家都放完船
//   - playing → finished：一方船艦全滅，或對戰中有人離開（棄權）
//   - finished 為終態，之後的放船與射擊都會被忽略
type State string

const (
	StateWaiting  State = "waiting"  // 等待玩家加入
	StatePlacing  State = "placing"  // 兩位玩家到齊，佈陣中
	StatePlaying  State = "playing"  // 對戰中
	StateFinished State = "finished" // 對戰結束
)

// ShipDestroyedEvent 船艦被擊沉
type ShipDestroyedEvent struct {
	RoomID         string
	ChatID         string
	ShipOwner      string
	ShipsLost      int
	ShipsRemaining int
}

// GameOverEvent 對戰結束
type GameOverEvent struct {
	RoomID  string
	ChatID  string
	Winner  string
	Loser   string
	Forfeit bool
}

// Listener 接收房間事件
//
// 回呼時房間鎖仍被持有，實作不可回呼房間，也不可阻塞。
type Listener interface {
	ShipDestroyed(ShipDestroyedEvent)
	GameOver(GameOverEvent)
}

// RoomOptions 房間參數
type RoomOptions struct {
	GridSize     int
	MaxShipCount int
	ChatID       string // 聊天機器人房間的關聯 ID
}

// Room 一場對戰
type Room struct {
	id           string
	chatID       string
	gridSize     int
	maxShipCount int
	createdAt    time.Time

	mu         sync.Mutex
	slots      [2]*Player
	turn       int
	gameOver   bool
	winner     string
	listener   Listener
	emptySince time.Time // 房間變成空房的時間（有玩家時為零值）
}

// NewRoom 創建新房間
func NewRoom(id string, opts RoomOptions, listener Listener) *Room {
	if opts.GridSize <= 0 {
		opts.GridSize = 10
	}
	if opts.MaxShipCount <= 0 {
		opts.MaxShipCount = 5
	}

	now := time.Now()
	return &Room{
		id:           id,
		chatID:       opts.ChatID,
		gridSize:     opts.GridSize,
		maxShipCount: opts.MaxShipCount,
		createdAt:    now,
		listener:     listener,
		emptySince:   now,
	}
}

// ID 房間 ID
func (r *Room) ID() string { return r.id }

// ChatID 聊天機器人關聯 ID（一般房間為空）
func (r *Room) ChatID() string { return r.chatID }

// AddPlayer 將連線加入第一個空席位（席位 0 優先）
//
// 房間已滿、對局已結束或暱稱與另一席位重複時回傳錯誤，且不修改任何狀態。
// 暱稱格式由呼叫者（Game）事先驗證。
func (r *Room) AddPlayer(client Client, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.freeSlot()
	if slot < 0 || r.gameOver {
		return "", apperrors.ErrRoomNotAvailable
	}

	for _, p := range r.slots {
		if p != nil && p.name == name {
			return "", apperrors.ErrNameTaken
		}
	}

	player := newPlayer(client, name)
	r.slots[slot] = player
	r.emptySince = time.Time{}

	r.broadcast()
	return player.id, nil
}

// AddShip 放置玩家的下一艘船
//
// 只有在房間已滿、玩家尚未放完船、對戰未結束時才接受；
// 出界或與自己的船重疊時靜默忽略（不廣播）。
func (r *Room) AddShip(playerID string, pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gameOver || !r.isFull() {
		return false
	}

	player := r.playerByID(playerID)
	if player == nil || len(player.ships) >= r.maxShipCount {
		return false
	}

	if !player.hasRoomFor(pos, r.gridSize) {
		return false
	}

	player.placeShip(pos, r.maxShipCount)
	r.broadcast()
	return true
}

// AddShot 射擊對手棋盤上的座標
//
// 只有對戰中、輪到該玩家、座標未射擊過時才接受。
// 座標範圍檢查為 [0, gridSize]（含上界），與放船的 [0, gridSize) 不同。
func (r *Room) AddShot(playerID string, pos Position) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gameOver || !r.inGame() {
		return false
	}

	slot := r.slotOf(playerID)
	if slot < 0 || slot != r.turn {
		return false
	}

	shooter := r.slots[slot]
	inGrid := pos.X >= 0 && pos.X <= r.gridSize && pos.Y >= 0 && pos.Y <= r.gridSize
	if !inGrid || shooter.hasShotAt(pos.X, pos.Y) {
		return false
	}

	opponent := r.slots[1-slot]
	hit, sunk := opponent.receiveShot(pos.X, pos.Y)
	if sunk != nil {
		lost := opponent.ShipsLost()
		r.emitShipDestroyed(ShipDestroyedEvent{
			RoomID:         r.id,
			ChatID:         r.chatID,
			ShipOwner:      opponent.name,
			ShipsLost:      lost,
			ShipsRemaining: len(opponent.ships) - lost,
		})

		if lost >= len(opponent.ships) {
			r.finish(slot, false)
		}
	}

	shooter.shots = append(shooter.shots, Shot{X: pos.X, Y: pos.Y, Hit: hit})
	r.turn = 1 - r.turn

	// 結束時先送 game-over，再送最後一次 room-update
	if r.gameOver {
		r.broadcastGameOver()
	}
	r.broadcast()
	return true
}

// RemovePlayer 讓玩家離開房間
//
// 對戰進行中離開視為棄權，留下的玩家獲勝。
func (r *Room) RemovePlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotOf(playerID)
	if slot < 0 {
		return false
	}

	if r.inGame() && !r.gameOver {
		r.finish(1-slot, true)
		// 離開的玩家也收得到結果（quit-room 時連線仍開著）
		r.broadcastGameOver()
	}

	r.slots[slot] = nil
	if r.isEmpty() {
		r.emptySince = time.Now()
	}

	r.broadcast()
	return true
}

// State 目前狀態
func (r *Room) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

// IsEmpty 兩個席位是否都空著
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isEmpty()
}

// IsFull 兩個席位是否都有人
func (r *Room) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isFull()
}

// HasPlayer 玩家是否仍在房間內
func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slotOf(playerID) >= 0
}

// PlayerCount 目前玩家數
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playerCount()
}

// EmptyFor 房間已空了多久（有玩家時回傳 0）
func (r *Room) EmptyFor(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.isEmpty() || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

// Snapshot 獲取房間狀態的副本
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		ID:           r.id,
		ChatID:       r.chatID,
		State:        r.state(),
		GridSize:     r.gridSize,
		MaxShipCount: r.maxShipCount,
		Turn:         r.turn,
		GameOver:     r.gameOver,
		Winner:       r.winner,
		CreatedAt:    r.createdAt,
		Players:      make([]PlayerSnapshot, 0, 2),
	}
	for i, p := range r.slots {
		if p != nil {
			snap.Players = append(snap.Players, p.snapshot(i))
		}
	}
	return snap
}

// detach 解除事件監聽（拆除房間時呼叫）
func (r *Room) detach() {
	r.mu.Lock()
	r.listener = nil
	r.mu.Unlock()
}

// 以下方法需要持有鎖

func (r *Room) state() State {
	switch {
	case r.gameOver:
		return StateFinished
	case !r.isFull():
		return StateWaiting
	case r.inGame():
		return StatePlaying
	default:
		return StatePlacing
	}
}

func (r *Room) isEmpty() bool {
	return r.slots[0] == nil && r.slots[1] == nil
}

func (r *Room) isFull() bool {
	return r.slots[0] != nil && r.slots[1] != nil
}

// inGame 兩位玩家都已放完船
func (r *Room) inGame() bool {
	return r.isFull() && r.slots[0].ready && r.slots[1].ready
}

func (r *Room) playerCount() int {
	n := 0
	for _, p := range r.slots {
		if p != nil {
			n++
		}
	}
	return n
}

func (r *Room) freeSlot() int {
	for i, p := range r.slots {
		if p == nil {
			return i
		}
	}
	return -1
}

func (r *Room) slotOf(playerID string) int {
	for i, p := range r.slots {
		if p != nil && p.id == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) playerByID(playerID string) *Player {
	if slot := r.slotOf(playerID); slot >= 0 {
		return r.slots[slot]
	}
	return nil
}

// finish 鎖上結束旗標並宣告勝者（只會生效一次）
func (r *Room) finish(winnerSlot int, forfeit bool) {
	if r.gameOver {
		return
	}

	r.gameOver = true

	winner := r.slots[winnerSlot]
	if winner == nil {
		return
	}
	r.winner = winner.name

	loser := ""
	if p := r.slots[1-winnerSlot]; p != nil {
		loser = p.name
	}

	if r.listener != nil {
		r.listener.GameOver(GameOverEvent{
			RoomID:  r.id,
			ChatID:  r.chatID,
			Winner:  r.winner,
			Loser:   loser,
			Forfeit: forfeit,
		})
	}
}

func (r *Room) emitShipDestroyed(event ShipDestroyedEvent) {
	if r.listener != nil {
		r.listener.ShipDestroyed(event)
	}
}

// broadcast 推送完整快照給兩個席位（各自看到自己的船與回合）
func (r *Room) broadcast() {
	view := RoomView{
		GameOver: r.gameOver,
		GridSize: r.gridSize,
		RoomID:   r.id,
	}
	for i, p := range r.slots {
		if p == nil {
			continue
		}
		shots := make([]Shot, len(p.shots))
		copy(shots, p.shots)
		view.Players[i] = SlotView{
			Occupied: true,
			Name:     p.name,
			Shots:    shots,
			Ready:    p.ready,
		}
	}

	for i, p := range r.slots {
		if p == nil {
			continue
		}
		p.Send(RoomUpdateMessage{
			Type:       MsgRoomUpdate,
			IsYourTurn: r.turn == i,
			YourShips:  p.shipViews(),
			Ship:       p.nextShip,
			Room:       view,
		})
	}
}

func (r *Room) broadcastGameOver() {
	if r.winner == "" {
		return
	}

	msg := GameOverMessage{
		Type:   MsgGameOver,
		Winner: r.winner,
		RoomID: r.id,
		ChatID: r.chatID,
	}
	for _, p := range r.slots {
		if p != nil {
			p.Send(msg)
		}
	}
}

// Snapshot 房間狀態副本
type Snapshot struct {
	ID           string           `json:"room_id"`
	ChatID       string           `json:"chat_id,omitempty"`
	State        State            `json:"state"`
	GridSize     int              `json:"grid_size"`
	MaxShipCount int              `json:"max_ship_count"`
	Turn         int              `json:"turn"`
	GameOver     bool             `json:"game_over"`
	Winner       string           `json:"winner,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	Players      []PlayerSnapshot `json:"players"`
}

// PlayerSnapshot 玩家狀態副本（含船艦位置，不可直接回傳給客戶端）
type PlayerSnapshot struct {
	ID        string     `json:"player_id"`
	ConnID    string     `json:"-"`
	Name      string     `json:"name"`
	Slot      int        `json:"slot"`
	Ready     bool       `json:"ready"`
	Ships     []ShipView `json:"-"`
	Shots     []Shot     `json:"shots"`
	ShipsLost int        `json:"ships_lost"`
	NextShip  Shape      `json:"next_ship"`
}
