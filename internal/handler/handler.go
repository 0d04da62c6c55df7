// Package handler 提供對戰伺服器的 HTTP API（房間查詢、統計、健康檢查）
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/koopa0/system-design/battleship/internal/audit"
	"github.com/koopa0/system-design/battleship/internal/game"
	apperrors "github.com/koopa0/system-design/battleship/pkg/errors"
)

// ConnectionMonitor 回報 WebSocket 連線狀態（transport.Hub 實作）
type ConnectionMonitor interface {
	ConnectionCount() int
	MaxPongAge() time.Duration
}

// ResultStore 對局歸檔查詢（audit.PostgresSink 實作）
type ResultStore interface {
	RecentResults(ctx context.Context, limit int) ([]audit.MatchResult, error)
}

// TotalsStore 即時計數查詢（audit.RedisSink 實作）
type TotalsStore interface {
	Totals(ctx context.Context) (audit.Totals, error)
}

// Handler HTTP 處理器
type Handler struct {
	game    *game.Game
	conns   ConnectionMonitor
	results ResultStore
	totals  TotalsStore
	logger  *slog.Logger
}

// Option 設定選用的查詢來源
type Option func(*Handler)

// WithResults 啟用 /api/v1/results
func WithResults(store ResultStore) Option {
	return func(h *Handler) { h.results = store }
}

// WithTotals 啟用 /api/v1/totals
func WithTotals(store TotalsStore) Option {
	return func(h *Handler) { h.totals = store }
}

// NewHandler 創建處理器
func NewHandler(g *game.Game, conns ConnectionMonitor, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		game:   g,
		conns:  conns,
		logger: logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 設置路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 房間
	mux.HandleFunc("GET /api/v1/rooms", wrap(h.listRooms))
	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("GET /api/v1/rooms/{room_id}", wrap(h.getRoomDetail))

	// 稽核資料（未設定時回 503）
	mux.HandleFunc("GET /api/v1/results", wrap(h.recentResults))
	mux.HandleFunc("GET /api/v1/totals", wrap(h.auditTotals))

	// 系統
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// listRooms 列出房間
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := game.State(query.Get("state"))
	switch state {
	case "", game.StateWaiting, game.StatePlacing, game.StatePlaying, game.StateFinished:
	default:
		h.errorResponse(w, "invalid state: "+string(state), http.StatusBadRequest)
		return
	}

	page := 1
	if p := query.Get("page"); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			page = val
		}
	}

	limit := 20
	if l := query.Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	rooms, total := h.game.Rooms(state, page, limit)

	h.jsonResponse(w, map[string]any{
		"rooms": rooms,
		"total": total,
		"page":  page,
	}, http.StatusOK)
}

// createRoom 建立不綁定連線的房間（分享連結用）
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	roomID := h.game.CreateDirectRoom()
	h.jsonResponse(w, map[string]any{
		"roomId": roomID,
	}, http.StatusCreated)
}

// getRoomDetail 獲取房間詳情（不含船艦位置）
func (h *Handler) getRoomDetail(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("room_id")

	room, err := h.game.Room(roomID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			h.errorResponse(w, apperrors.Message(err), http.StatusNotFound)
			return
		}
		h.errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, room.Snapshot(), http.StatusOK)
}

// recentResults 最近結束的對局
func (h *Handler) recentResults(w http.ResponseWriter, r *http.Request) {
	if h.results == nil {
		h.errorResponse(w, "match archive not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 && val <= 100 {
			limit = val
		}
	}

	results, err := h.results.RecentResults(r.Context(), limit)
	if err != nil {
		h.logger.Error("查詢對局歸檔失敗", "error", err)
		h.errorResponse(w, "查詢失敗", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]any{
		"results": results,
	}, http.StatusOK)
}

// auditTotals 累計擊沉數、完成局數與勝場
func (h *Handler) auditTotals(w http.ResponseWriter, r *http.Request) {
	if h.totals == nil {
		h.errorResponse(w, "counters not configured", http.StatusServiceUnavailable)
		return
	}

	totals, err := h.totals.Totals(r.Context())
	if err != nil {
		h.logger.Error("查詢計數失敗", "error", err)
		h.errorResponse(w, "查詢失敗", http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, totals, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	var (
		connections int
		pongAge     time.Duration
	)
	if h.conns != nil {
		connections = h.conns.ConnectionCount()
		pongAge = h.conns.MaxPongAge()
	}

	h.jsonResponse(w, map[string]any{
		"game":                 h.game.Stats(),
		"connections":          connections,
		"max_pong_age_seconds": pongAge.Seconds(),
	}, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
