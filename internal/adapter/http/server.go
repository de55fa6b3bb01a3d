package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/arbiterhq/sentinel/internal/adapter/ws"
	"github.com/arbiterhq/sentinel/internal/config"
	"github.com/arbiterhq/sentinel/internal/middleware"
)

// NewRouter assembles the full operator API, including the WebSocket
// stream when a hub is given. The returned handler carries tracing,
// request IDs, access logging and CORS.
func NewRouter(h *Handlers, hub *ws.Hub, cfg config.Server, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Logger(log))
	r.Use(SecurityHeaders)
	r.Use(CORS(cfg.CORSOrigin))

	MountRoutes(r, h, middleware.AdminAuth(cfg.AdminTokenHash))

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	return otelhttp.NewHandler(r, "sentinel.http")
}
