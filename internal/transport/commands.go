package transport

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/koopa0/system-design/battleship/internal/game"
	"github.com/koopa0/system-design/battleship/pkg/logger"
)

// 入站指令類型
const (
	CmdCreateRoom = "create-room"
	CmdEnterRoom  = "enter-room"
	CmdPlaceShip  = "place-ship"
	CmdAddShot    = "add-shot"
	CmdQuitRoom   = "quit-room"
)

// create-room 的 source
const (
	SourceBot     = "bot"
	SourceDirect  = "direct"
	SourceBrowser = "browser" // 預設
)

// Command 客戶端送來的指令，依 Type 使用不同欄位
type Command struct {
	Type       string          `json:"type"`
	Source     string          `json:"source,omitempty"`
	ChatID     json.RawMessage `json:"chatId,omitempty"` // 機器人可能送字串或數字
	PlayerName json.RawMessage `json:"playerName,omitempty"`
	RoomID     string          `json:"roomId,omitempty"` // 只用於 enter-room
	Pos        *game.Position  `json:"pos,omitempty"`
}

// chatID 將 chatId 正規化為字串
func (cmd Command) chatID() string { return textOf(cmd.ChatID) }

// playerName 將 playerName 正規化為字串，數字暱稱（例如 42）視為 "42"
func (cmd Command) playerName() string { return textOf(cmd.PlayerName) }

// textOf 字串原樣取出，數字保留原始寫法，其他型別視為空字串
func textOf(field json.RawMessage) string {
	raw := bytes.TrimSpace(field)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// handleMessage 解碼並執行一則指令
//
// 格式錯誤或未知類型的訊息直接忽略，不回覆客戶端。
func (c *Connection) handleMessage(message []byte) {
	ctx := logger.WithConnID(context.Background(), c.id)

	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.hub.logger.DebugContext(ctx, "解析客戶端消息失敗", "error", err)
		return
	}

	g := c.hub.game

	switch cmd.Type {
	case CmdCreateRoom:
		switch cmd.Source {
		case SourceBot:
			g.NewRoomFromBot(c, cmd.chatID())
		case SourceDirect:
			g.CreateRoom(c)
		default:
			g.NewRoomFromBrowser(c)
		}

	case CmdEnterRoom:
		// 失敗時 Game 已送出 room-error
		_ = g.EnterRoom(c, cmd.playerName(), cmd.RoomID)

	case CmdPlaceShip:
		if cmd.Pos != nil {
			g.AddShip(c, *cmd.Pos)
		}

	case CmdAddShot:
		if cmd.Pos != nil {
			g.AddShot(c, *cmd.Pos)
		}

	case CmdQuitRoom:
		g.SignoutPlayer(c)

	default:
		c.hub.logger.DebugContext(ctx, "收到未知消息類型", "type", cmd.Type)
	}
}
