package game

import "sync"

// session 每條連線在註冊表中的記錄
//
// 取代在連線物件上掛臨時欄位的做法：房間綁定與待回收房間都記在這裡。
// mu 在每個指令期間持有，同一連線的指令因此依序執行。
type session struct {
	mu     sync.Mutex
	client Client

	roomID   string // 已進入的房間
	playerID string // 在該房間內的玩家 ID

	// 由此連線建立、但尚未有人進入的房間（瀏覽器臨時房或機器人房）
	pendingRoomID string
}

// session 取得連線的記錄，不存在則建立
func (g *Game) session(client Client) *session {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()

	s, ok := g.sessions[client.ID()]
	if !ok {
		s = &session{client: client}
		g.sessions[client.ID()] = s
	}
	return s
}

// lookupSession 只查詢，不建立
func (g *Game) lookupSession(connID string) (*session, bool) {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()

	s, ok := g.sessions[connID]
	return s, ok
}

// dropSession 刪除連線記錄
func (g *Game) dropSession(connID string) {
	g.sessMu.Lock()
	delete(g.sessions, connID)
	g.sessMu.Unlock()
}

// SessionCount 目前的連線記錄數
func (g *Game) SessionCount() int {
	g.sessMu.Lock()
	defer g.sessMu.Unlock()
	return len(g.sessions)
}
