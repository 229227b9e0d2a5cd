package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/timemachine/backend/internal/handler/chat"
	"github.com/zhouzirui/timemachine/backend/internal/handler/persona"
	"github.com/zhouzirui/timemachine/backend/internal/handler/playlist"
	"github.com/zhouzirui/timemachine/backend/internal/handler/stream"
	"github.com/zhouzirui/timemachine/backend/internal/handler/usage"
	"github.com/zhouzirui/timemachine/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/timemachine/backend/internal/middleware"
	personaModel "github.com/zhouzirui/timemachine/backend/internal/model/persona"
	playlistModel "github.com/zhouzirui/timemachine/backend/internal/model/playlist"
	chatService "github.com/zhouzirui/timemachine/backend/internal/service/chat"
	"github.com/zhouzirui/timemachine/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	Personas personaModel.Store
	Chat     *chatService.Service
	Usage    usage.StatusReader
	Playlist *playlistModel.Catalog
	// Limiter is optional; without it requests are not throttled.
	Limiter *middlewarePkg.RateLimiter
	// AIConfigured is reported by the health check.
	AIConfigured bool
	Logger       *zap.Logger
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	Online       bool   `json:"online"`
	AIConfigured bool   `json:"aiConfigured"`
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, HealthResponse{
			Status:       "ok",
			Online:       deps.Chat.Online(),
			AIConfigured: deps.AIConfigured,
		})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Fingerprint)
		if deps.Limiter != nil {
			api.Use(deps.Limiter.Handler)
		}

		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Chat, logger).RegisterRoutes(api)
		stream.New(deps.Chat, logger).RegisterRoutes(api)
		ws.New(deps.Chat, logger).RegisterRoutes(api)
		usage.New(deps.Usage, logger).RegisterRoutes(api)
		playlist.New(deps.Playlist).RegisterRoutes(api)
	})

	return r
}
