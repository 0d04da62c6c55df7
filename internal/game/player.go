package game

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Client 傳輸層連線的抽象
//
// Send 為盡力投遞：連線未開啟或佇列已滿時丟棄訊息並回傳 false，
// 不會阻塞，也不會 panic。
type Client interface {
	ID() string
	Send(msg any) bool
}

// Shot 一次射擊，命中與否在建立時即確定
type Shot struct {
	X   int  `json:"x"`
	Y   int  `json:"y"`
	Hit bool `json:"hit"`
}

// Player 房間內的玩家
//
// 所有欄位只能在持有房間鎖的情況下讀寫。
type Player struct {
	id       string
	name     string
	client   Client
	ships    []*Ship
	shots    []Shot
	nextShip Shape
	ready    bool
}

// newPlayer 建立玩家並發給唯一 ID
func newPlayer(client Client, name string) *Player {
	return &Player{
		id:       uuid.NewString(),
		name:     name,
		client:   client,
		ships:    make([]*Ship, 0),
		shots:    make([]Shot, 0),
		nextShip: NextShape(0),
	}
}

// ValidName 暱稱不可為空，也不可包含空白字元
func ValidName(name string) bool {
	return name != "" && !strings.ContainsFunc(name, unicode.IsSpace)
}

// Send 盡力投遞訊息給玩家，呼叫者可以忽略回傳值
func (p *Player) Send(msg any) bool {
	if p.client == nil {
		return false
	}
	return p.client.Send(msg)
}

// ShipsLost 已被擊沉的船數
func (p *Player) ShipsLost() int {
	lost := 0
	for _, s := range p.ships {
		if s.Destroyed() {
			lost++
		}
	}
	return lost
}

// hasShotAt 是否已經射擊過該座標
func (p *Player) hasShotAt(x, y int) bool {
	for _, s := range p.shots {
		if s.X == x && s.Y == y {
			return true
		}
	}
	return false
}

// hasRoomFor 下一艘船放在 pos 是否完全位於棋盤內且不與自己的船重疊
func (p *Player) hasRoomFor(pos Position, gridSize int) bool {
	shape := p.nextShip

	inGrid := pos.X >= 0 && pos.X+shape.Width <= gridSize &&
		pos.Y >= 0 && pos.Y+shape.Height <= gridSize
	if !inGrid {
		return false
	}

	for _, s := range p.ships {
		if s.Overlaps(shape, pos) {
			return false
		}
	}
	return true
}

// placeShip 放置船艦並推進下一艘船的外形
func (p *Player) placeShip(pos Position, maxShipCount int) {
	shape := p.nextShip
	p.ships = append(p.ships, NewShip(shape.Width, shape.Height, pos.X, pos.Y))
	p.nextShip = NextShape(len(p.ships))
	p.ready = len(p.ships) == maxShipCount
}

// receiveShot 以對手的射擊座標檢查自己的船，回傳是否命中與被擊沉的船
func (p *Player) receiveShot(x, y int) (hit bool, sunk *Ship) {
	for _, s := range p.ships {
		if !s.IsInArea(x, y) {
			continue
		}
		hit = true
		if s.Destroyed() {
			continue
		}
		s.AddHit()
		if s.Destroyed() {
			sunk = s
		}
	}
	return hit, sunk
}

// shipViews 返回自己船艦的對外表示（永不為 nil）
func (p *Player) shipViews() []ShipView {
	views := make([]ShipView, 0, len(p.ships))
	for _, s := range p.ships {
		views = append(views, s.View())
	}
	return views
}

// snapshot 複製玩家狀態
func (p *Player) snapshot(slot int) PlayerSnapshot {
	shots := make([]Shot, len(p.shots))
	copy(shots, p.shots)

	return PlayerSnapshot{
		ID:        p.id,
		ConnID:    p.connID(),
		Name:      p.name,
		Slot:      slot,
		Ready:     p.ready,
		Ships:     p.shipViews(),
		Shots:     shots,
		ShipsLost: p.ShipsLost(),
		NextShip:  p.nextShip,
	}
}

func (p *Player) connID() string {
	if p.client == nil {
		return ""
	}
	return p.client.ID()
}
