package game

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	apperrors "github.com/koopa0/system-design/battleship/pkg/errors"
	"github.com/koopa0/system-design/battleship/pkg/logger"
)

// EventType 稽核事件類型
type EventType string

const (
	EventShipDestroyed EventType = "ship-destroyed"
	EventGameOver      EventType = "game-over"
)

// Event 房間事件的稽核記錄，只用於觀測，不影響遊戲邏輯
type Event struct {
	Type           EventType `json:"type"`
	RoomID         string    `json:"room_id"`
	ChatID         string    `json:"chat_id,omitempty"`
	Player         string    `json:"player,omitempty"` // 失去船艦的玩家
	Winner         string    `json:"winner,omitempty"`
	Loser          string    `json:"loser,omitempty"`
	ShipsLost      int       `json:"ships_lost,omitempty"`
	ShipsRemaining int       `json:"ships_remaining,omitempty"`
	Forfeit        bool      `json:"forfeit,omitempty"`
	At             time.Time `json:"at"`
}

// Publisher 接收稽核事件，Publish 不可阻塞
type Publisher interface {
	Publish(Event)
}

// Config 註冊表參數
type Config struct {
	GridSize        int
	MaxShipCount    int
	EmptyRoomTTL    time.Duration // 無人認領的空房間保留多久
	CleanupInterval time.Duration
}

// Game 房間註冊表
//
// 鎖順序：session.mu → Game.mu → Room.mu。Room 的事件回呼不會再取得 Game 的鎖。
type Game struct {
	cfg       Config
	publisher Publisher
	logger    *slog.Logger

	mu          sync.RWMutex
	rooms       map[string]*Room  // roomID -> Room
	botRooms    map[string]string // chatID -> 尚未滿員的機器人房間
	pendingRefs map[string]int    // roomID -> 仍以此為待加入房間的連線數

	sessMu   sync.Mutex
	sessions map[string]*session // connID -> session

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats 註冊表統計
type Stats struct {
	TotalRooms      int           `json:"total_rooms"`
	TotalPlayers    int           `json:"total_players"`
	Sessions        int           `json:"sessions"`
	PendingBotRooms int           `json:"pending_bot_rooms"`
	ByState         map[State]int `json:"by_state"`
}

// NewGame 創建註冊表並啟動空房間清理
func NewGame(cfg Config, publisher Publisher, logger *slog.Logger) *Game {
	if cfg.GridSize <= 0 {
		cfg.GridSize = 10
	}
	if cfg.MaxShipCount <= 0 {
		cfg.MaxShipCount = 5
	}
	if cfg.EmptyRoomTTL <= 0 {
		cfg.EmptyRoomTTL = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	g := &Game{
		cfg:         cfg,
		publisher:   publisher,
		logger:      logger,
		rooms:       make(map[string]*Room),
		botRooms:    make(map[string]string),
		pendingRefs: make(map[string]int),
		sessions:    make(map[string]*session),
		stopCh:      make(chan struct{}),
	}

	g.wg.Add(1)
	go g.cleanupLoop()

	return g
}

// Connect 為新連線建立記錄
func (g *Game) Connect(client Client) {
	g.session(client)
}

// CreateRoom 直接建立房間，任何知道 ID 的人都能加入
func (g *Game) CreateRoom(client Client) string {
	room := g.newRoom("")
	client.Send(roomCreated(room.id, ""))
	return room.id
}

// CreateDirectRoom 不經由連線建立房間（HTTP API 使用）
func (g *Game) CreateDirectRoom() string {
	return g.newRoom("").id
}

// NewRoomFromBrowser 建立瀏覽器臨時房間
//
// 同一條連線在房間仍空著時重複要求，會拿到同一個房間，不會產生孤兒房間。
func (g *Game) NewRoomFromBrowser(client Client) string {
	sess := g.session(client)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if pending := sess.pendingRoomID; pending != "" {
		if room, err := g.Room(pending); err == nil && room.ChatID() == "" && room.IsEmpty() {
			client.Send(roomCreated(pending, ""))
			return pending
		}
	}

	room := g.newRoom("")
	g.setPending(sess, room.id)

	client.Send(roomCreated(room.id, ""))
	return room.id
}

// NewRoomFromBot 取得聊天室對應的房間
//
// 每個 chatID 同時只有一個尚未滿員的房間，所有帶同一 chatID 的連線共用。
// chatID 為空時退回瀏覽器臨時房間。
func (g *Game) NewRoomFromBot(client Client, chatID string) string {
	if chatID == "" {
		return g.NewRoomFromBrowser(client)
	}

	sess := g.session(client)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	g.mu.Lock()
	var room *Room
	if id, ok := g.botRooms[chatID]; ok {
		if existing, ok := g.rooms[id]; ok && !existing.IsFull() {
			room = existing
		} else {
			delete(g.botRooms, chatID)
		}
	}
	created := room == nil
	if created {
		room = g.newRoomLocked(chatID)
	}
	g.mu.Unlock()

	if created {
		g.logger.Info("房間已創建", "room_id", room.id, "chat_id", chatID, "source", "bot")
	}

	g.setPending(sess, room.id)
	client.Send(roomCreated(room.id, chatID))
	return room.id
}

// EnterRoom 以暱稱進入房間
//
// 驗證失敗時送出 room-error 並回傳錯誤，不改變任何狀態。
func (g *Game) EnterRoom(client Client, name, roomID string) error {
	sess := g.session(client)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := g.enterRoom(sess, client, name, roomID); err != nil {
		client.Send(roomError(apperrors.Message(err)))
		g.logger.DebugContext(logContext(client.ID(), roomID), "進入房間失敗",
			"player_name", name,
			"error", err)
		return err
	}
	return nil
}

func (g *Game) enterRoom(sess *session, client Client, name, roomID string) error {
	if !ValidName(name) {
		return apperrors.ErrInvalidNickname
	}

	// 已在其他房間時，加入成功後才離開舊房間（失敗時維持原本的綁定）
	prevRoomID, prevPlayerID := sess.roomID, sess.playerID

	// 持有讀鎖直到加入完成，清理流程無法在檢查與加入之間移除房間
	g.mu.RLock()
	room, ok := g.rooms[roomID]
	if !ok {
		g.mu.RUnlock()
		return apperrors.ErrRoomNotAvailable
	}
	playerID, err := room.AddPlayer(client, name)
	g.mu.RUnlock()
	if err != nil {
		return err
	}

	if prevRoomID != "" {
		g.removePlayer(prevRoomID, prevPlayerID, client.ID())
	}

	sess.roomID = roomID
	sess.playerID = playerID
	client.Send(SigninMessage{Type: MsgSignin, RoomID: roomID})

	if chatID := room.ChatID(); chatID != "" && room.IsFull() {
		g.mu.Lock()
		if g.botRooms[chatID] == roomID {
			delete(g.botRooms, chatID)
		}
		g.mu.Unlock()
	}

	// 已進入房間，之前的待加入房間若仍空著就回收
	g.releasePending(sess)

	g.logger.InfoContext(logContext(client.ID(), roomID), "玩家加入房間",
		"player_name", name)
	return nil
}

// AddShip 在連線所屬房間放船，連線不在房間內時忽略
func (g *Game) AddShip(client Client, pos Position) bool {
	room, playerID, unlock := g.boundRoom(client)
	defer unlock()

	if room == nil {
		return false
	}
	return room.AddShip(playerID, pos)
}

// AddShot 在連線所屬房間射擊，連線不在房間內時忽略
func (g *Game) AddShot(client Client, pos Position) bool {
	room, playerID, unlock := g.boundRoom(client)
	defer unlock()

	if room == nil {
		return false
	}
	return room.AddShot(playerID, pos)
}

// boundRoom 取得連線目前所在的房間，回傳的 unlock 必須呼叫
func (g *Game) boundRoom(client Client) (*Room, string, func()) {
	sess, ok := g.lookupSession(client.ID())
	if !ok {
		return nil, "", func() {}
	}

	sess.mu.Lock()
	if sess.roomID == "" {
		return nil, "", sess.mu.Unlock
	}

	room, err := g.Room(sess.roomID)
	if err != nil {
		return nil, "", sess.mu.Unlock
	}
	return room, sess.playerID, sess.mu.Unlock
}

// SignoutPlayer 離開目前房間並回收未使用的待加入房間
//
// 無論連線是否在房間內，都會嘗試送出 signout。
func (g *Game) SignoutPlayer(client Client) {
	sess := g.session(client)
	sess.mu.Lock()
	g.leaveRoom(sess)
	g.releasePending(sess)
	sess.mu.Unlock()

	client.Send(SignoutMessage{Type: MsgSignout, Message: "Signed out"})
}

// Disconnect 連線關閉或出錯，等同 quit-room，並刪除連線記錄
func (g *Game) Disconnect(client Client) {
	sess, ok := g.lookupSession(client.ID())
	if !ok {
		return
	}

	sess.mu.Lock()
	g.leaveRoom(sess)
	g.releasePending(sess)
	sess.mu.Unlock()

	g.dropSession(client.ID())
}

// leaveRoom 從綁定的房間移除玩家，房間空了就拆除（需持有 session.mu）
func (g *Game) leaveRoom(sess *session) {
	if sess.roomID == "" {
		return
	}

	roomID, playerID := sess.roomID, sess.playerID
	sess.roomID, sess.playerID = "", ""

	g.removePlayer(roomID, playerID, sess.client.ID())
}

// removePlayer 從房間移除玩家，房間空了就拆除
func (g *Game) removePlayer(roomID, playerID, connID string) {
	if room, err := g.Room(roomID); err == nil {
		if room.RemovePlayer(playerID) {
			g.logger.InfoContext(logContext(connID, roomID), "玩家離開房間")
		}
	}
	g.reclaimIfEmpty(roomID)
}

// logContext 帶連線與房間 ID 的日誌上下文（由 logger.NewHandler 寫入欄位）
func logContext(connID, roomID string) context.Context {
	return logger.WithRoomID(logger.WithConnID(context.Background(), connID), roomID)
}

// setPending 記錄連線的待加入房間，取代舊的（需持有 session.mu）
func (g *Game) setPending(sess *session, roomID string) {
	if sess.pendingRoomID == roomID {
		return
	}
	g.releasePending(sess)

	g.mu.Lock()
	g.pendingRefs[roomID]++
	g.mu.Unlock()
	sess.pendingRoomID = roomID
}

// releasePending 放棄待加入房間，沒有其他連線等待且房間空著就拆除（需持有 session.mu）
func (g *Game) releasePending(sess *session) {
	roomID := sess.pendingRoomID
	if roomID == "" {
		return
	}
	sess.pendingRoomID = ""

	g.mu.Lock()
	if g.pendingRefs[roomID] <= 1 {
		delete(g.pendingRefs, roomID)
	} else {
		g.pendingRefs[roomID]--
	}
	g.mu.Unlock()

	g.reclaimIfEmpty(roomID)
}

// reclaimIfEmpty 房間沒有玩家、也沒有連線在等待時拆除
func (g *Game) reclaimIfEmpty(roomID string) bool {
	g.mu.Lock()
	room, ok := g.rooms[roomID]
	if !ok || g.pendingRefs[roomID] > 0 || !room.IsEmpty() {
		g.mu.Unlock()
		return false
	}
	g.removeRoomLocked(room)
	g.mu.Unlock()

	room.detach()
	g.logger.Info("房間已移除", "room_id", roomID)
	return true
}

// removeRoomLocked 從註冊表移除房間（需持有 g.mu 寫鎖）
func (g *Game) removeRoomLocked(room *Room) {
	delete(g.rooms, room.id)
	delete(g.pendingRefs, room.id)
	if room.chatID != "" && g.botRooms[room.chatID] == room.id {
		delete(g.botRooms, room.chatID)
	}
}

// newRoom 建立房間並加入註冊表
func (g *Game) newRoom(chatID string) *Room {
	g.mu.Lock()
	room := g.newRoomLocked(chatID)
	g.mu.Unlock()

	g.logger.Info("房間已創建",
		"room_id", room.id,
		"grid_size", room.gridSize,
		"max_ship_count", room.maxShipCount)
	return room
}

// newRoomLocked 需持有 g.mu 寫鎖
func (g *Game) newRoomLocked(chatID string) *Room {
	id := g.generateRoomID()
	room := NewRoom(id, RoomOptions{
		GridSize:     g.cfg.GridSize,
		MaxShipCount: g.cfg.MaxShipCount,
		ChatID:       chatID,
	}, roomEvents{g: g})

	g.rooms[id] = room
	if chatID != "" {
		g.botRooms[chatID] = id
	}
	return room
}

// generateRoomID 生成與現存房間不重複的隨機 ID（需持有 g.mu）
func (g *Game) generateRoomID() string {
	for {
		id := randomToken(8)
		if _, exists := g.rooms[id]; !exists {
			return id
		}
	}
}

// randomToken 以小寫英數字生成隨機字串
func randomToken(n int) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	base := big.NewInt(int64(len(chars)))

	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, base)
		if err != nil {
			// 隨機來源失敗時以時間補位，之後仍會做碰撞檢查
			b[i] = chars[time.Now().UnixNano()%int64(len(chars))]
			continue
		}
		b[i] = chars[v.Int64()]
	}
	return string(b)
}

// Room 獲取房間
func (g *Game) Room(roomID string) (*Room, error) {
	g.mu.RLock()
	room, exists := g.rooms[roomID]
	g.mu.RUnlock()

	if !exists {
		return nil, apperrors.ErrRoomNotFound.WithDetails(roomID)
	}
	return room, nil
}

// Rooms 列出房間（依建立時間排序，可依狀態過濾並分頁）
func (g *Game) Rooms(state State, page, limit int) ([]Snapshot, int) {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.RUnlock()

	filtered := make([]Snapshot, 0, len(rooms))
	for _, room := range rooms {
		snap := room.Snapshot()
		if state != "" && snap.State != state {
			continue
		}
		filtered = append(filtered, snap)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].ID < filtered[j].ID
		}
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	total := len(filtered)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = total
	}

	start := (page - 1) * limit
	if start >= total {
		return []Snapshot{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return filtered[start:end], total
}

// Stats 獲取統計資訊
func (g *Game) Stats() Stats {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	pendingBot := len(g.botRooms)
	g.mu.RUnlock()

	stats := Stats{
		TotalRooms:      len(rooms),
		Sessions:        g.SessionCount(),
		PendingBotRooms: pendingBot,
		ByState:         make(map[State]int),
	}
	for _, room := range rooms {
		stats.ByState[room.State()]++
		stats.TotalPlayers += room.PlayerCount()
	}
	return stats
}

// cleanupLoop 定期清理無人認領的空房間
func (g *Game) cleanupLoop() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.Cleanup()
		case <-g.stopCh:
			return
		}
	}
}

// Cleanup 移除空了超過 EmptyRoomTTL 且沒有連線在等待的房間（公開方法供測試使用）
func (g *Game) Cleanup() int {
	now := time.Now()

	g.mu.Lock()
	var removed []*Room
	for id, room := range g.rooms {
		if g.pendingRefs[id] > 0 {
			continue
		}
		if room.EmptyFor(now) > g.cfg.EmptyRoomTTL {
			g.removeRoomLocked(room)
			removed = append(removed, room)
		}
	}
	g.mu.Unlock()

	for _, room := range removed {
		room.detach()
		g.logger.Info("空房間已過期清理", "room_id", room.id)
	}
	return len(removed)
}

// Stop 停止清理並解除所有房間的事件監聽
func (g *Game) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
	g.wg.Wait()

	g.mu.RLock()
	for _, room := range g.rooms {
		room.detach()
	}
	g.mu.RUnlock()

	g.logger.Info("房間註冊表已停止")
}

// roomEvents 註冊表對房間事件的訂閱
//
// 只做日誌與稽核，不驅動任何遊戲邏輯。
type roomEvents struct {
	g *Game
}

func (e roomEvents) ShipDestroyed(ev ShipDestroyedEvent) {
	e.g.logger.Info("玩家失去一艘船",
		"room_id", ev.RoomID,
		"ship_owner", ev.ShipOwner,
		"ships_lost", ev.ShipsLost,
		"ships_remaining", ev.ShipsRemaining)

	e.g.publish(Event{
		Type:           EventShipDestroyed,
		RoomID:         ev.RoomID,
		ChatID:         ev.ChatID,
		Player:         ev.ShipOwner,
		ShipsLost:      ev.ShipsLost,
		ShipsRemaining: ev.ShipsRemaining,
	})
}

func (e roomEvents) GameOver(ev GameOverEvent) {
	e.g.logger.Info(ev.Winner+" won the Battle",
		"room_id", ev.RoomID,
		"winner", ev.Winner,
		"loser", ev.Loser,
		"forfeit", ev.Forfeit)

	e.g.publish(Event{
		Type:    EventGameOver,
		RoomID:  ev.RoomID,
		ChatID:  ev.ChatID,
		Winner:  ev.Winner,
		Loser:   ev.Loser,
		Forfeit: ev.Forfeit,
	})
}

func (g *Game) publish(ev Event) {
	if g.publisher == nil {
		return
	}
	ev.At = time.Now()
	g.publisher.Publish(ev)
}
