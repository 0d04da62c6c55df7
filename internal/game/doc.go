// Package game 實作雙人海戰棋的房間與規則。
//
// # 房間
//
// 每個房間有兩個席位，席位 0 先手。狀態由席位與準備旗標推導：
//   - waiting：少於兩位玩家
//   - placing：兩位玩家到齊，依序放置五艘船（1×2、3×1、1×4、5×1、1×1）
//   - playing：雙方都放完船，輪流射擊
//   - finished：一方船艦全滅，或對戰中有人離開
//
// 所有非法操作都被靜默忽略；每次合法變更後，兩位玩家各自收到一份 room-update。
//
// # 註冊表
//
// Game 管理所有房間與連線：
//   - 瀏覽器臨時房間：同一連線在房間仍空著時重複要求會拿到同一個房間
//   - 機器人房間：同一 chatId 共用一個尚未滿員的房間
//   - 房間空了且沒有連線在等待時立即拆除，直接建立的房間由定期清理回收
//
// # 併發
//
// 每個房間一把鎖，整個操作（驗證、修改、廣播）都在鎖內完成。
// 鎖順序固定為 session → Game → Room，房間事件回呼不會回頭取得 Game 的鎖。
//
// 使用範例：
//
//	g := game.NewGame(game.Config{GridSize: 10, MaxShipCount: 5}, publisher, logger)
//	defer g.Stop()
//
//	roomID := g.NewRoomFromBrowser(client)
//	if err := g.EnterRoom(client, "Alice", roomID); err != nil {
//	    // 客戶端已收到 room-error
//	}
//	g.AddShip(client, game.Position{X: 0, Y: 0})
package game
