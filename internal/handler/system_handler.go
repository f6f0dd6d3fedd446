package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/hr360/internal/middleware"
)

// Pinger はストアへの疎通確認を行う。
type Pinger interface {
	Ping(ctx context.Context) error
}

// SystemHandler はルート、ヘルスチェック、ダッシュボード入口のハンドラー。
type SystemHandler struct {
	store     Pinger
	clientURL string
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(store Pinger, clientURL string) *SystemHandler {
	return &SystemHandler{
		store:     store,
		clientURL: strings.TrimRight(clientURL, "/"),
	}
}

// Root はサーバーの起動確認用テキストを返す。
// GET /
func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Server is running!"))
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Health はストアに疎通できれば200、できなければ503を返す。
// GET /health
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Database: "down"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "up"})
}

// Dashboard はログイン状態に応じてSPAのダッシュボードかサインイン画面へ303で誘導する。
// OptionalSessionMiddlewareの内側で使う。
// GET /dashboard
func (h *SystemHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.SessionFromContext(r.Context()); !ok {
		http.Redirect(w, r, h.clientURL+"/sign-in", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, h.clientURL+"/", http.StatusSeeOther)
}
