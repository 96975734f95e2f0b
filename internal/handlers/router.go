package handlers

import (
	"net/http"
	"time"

	"github.com/ukydev/care-assets/internal/middleware"
	"github.com/ukydev/care-assets/internal/models"
)

// Router bundles the handlers served by the API.
type Router struct {
	Auth     *AuthHandler
	Assets   *AssetHandler
	Sync     *SyncHandler
	AuthMW   *middleware.AuthMiddleware
	Limiter  *middleware.RateLimitMiddleware
	Facility string
}

// Handler builds the mux with authentication, permissions and request
// logging applied.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	perm := rt.AuthMW.RequirePermission
	handle := func(pattern, action string, h http.HandlerFunc) {
		mux.Handle(pattern, perm(action)(h))
	}

	login := http.Handler(http.HandlerFunc(rt.Auth.Login))
	if rt.Limiter != nil {
		login = rt.Limiter.RateLimit(10, time.Minute)(login)
	}
	mux.Handle("POST /api/auth/login", login)
	mux.HandleFunc("POST /api/auth/register", rt.Auth.Register)
	mux.HandleFunc("GET /api/auth/me", rt.Auth.Me)
	mux.HandleFunc("GET /health", rt.health)

	handle("GET /api/assets", models.ActionViewAssets, rt.Assets.List)
	handle("POST /api/assets", models.ActionCreateAsset, rt.Assets.Create)
	handle("POST /api/assets/import", models.ActionImportAssets, rt.Assets.Import)
	handle("GET /api/qr/{code}", models.ActionViewAssets, rt.Assets.ByQRCode)
	handle("GET /api/assets/{id}", models.ActionViewAssets, rt.Assets.Get)
	handle("PUT /api/assets/{id}", models.ActionUpdateAsset, rt.Assets.Update)
	handle("DELETE /api/assets/{id}", models.ActionRetireAsset, rt.Assets.Retire)
	handle("POST /api/assets/{id}/assign", models.ActionQuickAction, rt.Assets.Assign)
	handle("POST /api/assets/{id}/spare", models.ActionQuickAction, rt.Assets.MarkSpare)
	handle("POST /api/assets/{id}/out-of-service", models.ActionQuickAction, rt.Assets.MarkOutOfService)
	handle("GET /api/assets/{id}/services", models.ActionViewAssets, rt.Assets.ServiceHistory)
	handle("POST /api/assets/{id}/services", models.ActionRecordService, rt.Assets.RecordService)

	handle("GET /api/sync/status", models.ActionViewAssets, rt.Sync.Status)
	handle("POST /api/sync/flush", models.ActionManageSync, rt.Sync.Flush)
	handle("GET /api/sync/dead-letters", models.ActionManageSync, rt.Sync.DeadLetters)
	handle("POST /api/sync/dead-letters/{id}/requeue", models.ActionManageSync, rt.Sync.Requeue)
	handle("DELETE /api/sync/dead-letters/{id}", models.ActionManageSync, rt.Sync.Discard)

	return middleware.RequestLogger(rt.AuthMW.Authenticate(mux))
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	stats := rt.Sync.queue.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"facility": rt.Facility,
		"online":   rt.Sync.online(),
		"pending":  stats.Pending,
	})
}
