package game

// Position 棋盤座標（左上角為原點）
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Shape 船艦外形
type Shape struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// shapeSequence 依已放置船數決定下一艘船的外形，超出後一律 1×1
//
// 外形由伺服器決定，客戶端無法選擇。
var shapeSequence = []Shape{
	{Width: 1, Height: 2},
	{Width: 3, Height: 1},
	{Width: 1, Height: 4},
	{Width: 5, Height: 1},
}

// NextShape 返回已放置 placed 艘船後應放置的外形
func NextShape(placed int) Shape {
	if placed >= 0 && placed < len(shapeSequence) {
		return shapeSequence[placed]
	}
	return Shape{Width: 1, Height: 1}
}

// Ship 棋盤上的矩形船艦
//
// 外形與位置建立後不再改變，只有受損程度會變動。
// destroyed 只會從 false 變成 true 一次。
type Ship struct {
	width     int
	height    int
	x         int
	y         int
	hitCount  int
	destroyed bool
}

// ShipView 船艦的對外表示（yourShips 陣列的元素）
type ShipView struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewShip 創建船艦，參數由呼叫者事先驗證
func NewShip(width, height, x, y int) *Ship {
	return &Ship{
		width:  width,
		height: height,
		x:      x,
		y:      y,
	}
}

func (s *Ship) Width() int      { return s.width }
func (s *Ship) Height() int     { return s.height }
func (s *Ship) X() int          { return s.x }
func (s *Ship) Y() int          { return s.y }
func (s *Ship) HitCount() int   { return s.hitCount }
func (s *Ship) Destroyed() bool { return s.destroyed }

// Area 船艦面積，也是擊沉所需的命中數
func (s *Ship) Area() int {
	return s.width * s.height
}

// AddHit 記錄一次命中，命中數達到面積時擊沉
//
// 已擊沉的船再被命中不會有任何效果。
func (s *Ship) AddHit() {
	if s.destroyed {
		return
	}

	s.hitCount++
	if s.hitCount >= s.Area() {
		s.destroyed = true
	}
}

// IsInArea 座標是否落在船艦範圍內（兩軸皆為半開區間）
func (s *Ship) IsInArea(x, y int) bool {
	return x >= s.x && x < s.x+s.width &&
		y >= s.y && y < s.y+s.height
}

// Overlaps 與另一個矩形是否重疊（兩軸同時相交才算重疊）
func (s *Ship) Overlaps(shape Shape, pos Position) bool {
	overlapX := pos.X+shape.Width-1 >= s.x && pos.X <= s.x+s.width-1
	overlapY := pos.Y+shape.Height-1 >= s.y && pos.Y <= s.y+s.height-1
	return overlapX && overlapY
}

// View 返回對外表示
func (s *Ship) View() ShipView {
	return ShipView{
		X:      s.x,
		Y:      s.y,
		Width:  s.width,
		Height: s.height,
	}
}
