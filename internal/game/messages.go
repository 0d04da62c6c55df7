package game

import "encoding/json"

// 出站訊息類型（欄位名稱與巢狀結構為既有客戶端的協議，不可更改）
const (
	MsgRoomCreated = "room-created"
	MsgSignin      = "signin"
	MsgRoomError   = "room-error"
	MsgSignout     = "signout"
	MsgRoomUpdate  = "room-update"
	MsgGameOver    = "game-over"
)

// RoomCreatedMessage 房間已建立
type RoomCreatedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	ChatID string `json:"chatId,omitempty"`
}

// SigninMessage 成功進入房間
type SigninMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// RoomErrorMessage 進入房間失敗
type RoomErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SignoutMessage 已離開房間
type SignoutMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RoomUpdateMessage 完整的房間狀態快照（每位玩家各自一份）
type RoomUpdateMessage struct {
	Type       string     `json:"type"`
	IsYourTurn bool       `json:"isYourTurn"`
	YourShips  []ShipView `json:"yourShips"`
	Ship       Shape      `json:"ship"`
	Room       RoomView   `json:"room"`
}

// RoomView 兩位玩家共用的房間資訊
type RoomView struct {
	GameOver bool        `json:"gameOver"`
	GridSize int         `json:"gridSize"`
	RoomID   string      `json:"roomId"`
	Players  [2]SlotView `json:"players"`
}

// SlotView 玩家席位，空席位序列化為 {}
type SlotView struct {
	Occupied bool
	Name     string
	Shots    []Shot
	Ready    bool
}

// MarshalJSON 空席位輸出 {}
func (v SlotView) MarshalJSON() ([]byte, error) {
	if !v.Occupied {
		return []byte("{}"), nil
	}

	shots := v.Shots
	if shots == nil {
		shots = []Shot{}
	}

	return json.Marshal(struct {
		Name  string `json:"name"`
		Shots []Shot `json:"shots"`
		Ready bool   `json:"ready"`
	}{
		Name:  v.Name,
		Shots: shots,
		Ready: v.Ready,
	})
}

// GameOverMessage 對戰結束
type GameOverMessage struct {
	Type   string `json:"type"`
	Winner string `json:"winner"`
	RoomID string `json:"roomId"`
	ChatID string `json:"chatId,omitempty"`
}

func roomCreated(roomID, chatID string) RoomCreatedMessage {
	return RoomCreatedMessage{Type: MsgRoomCreated, RoomID: roomID, ChatID: chatID}
}

func roomError(message string) RoomErrorMessage {
	return RoomErrorMessage{Type: MsgRoomError, Message: message}
}
