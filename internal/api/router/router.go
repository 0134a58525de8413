package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/voice-orchestrator/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-orchestrator/internal/http/middleware"
	"github.com/wolfman30/voice-orchestrator/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Conversations      *handlers.ConversationHandler
	Health             http.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	// InitializeLimiter throttles conversation-initialize per client; nil disables it.
	InitializeLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	health := cfg.Health
	if health == nil {
		health = handlers.NewHealthHandler(nil)
	}
	r.Method(http.MethodGet, "/health", health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Conversations != nil {
		r.Route("/api/voice", func(api chi.Router) {
			api.Use(middleware.AllowContentType("application/json"))
			api.Route("/conversations", func(conv chi.Router) {
				conv.Group(func(create chi.Router) {
					if cfg.InitializeLimiter != nil {
						create.Use(cfg.InitializeLimiter.Middleware)
					}
					create.Post("/", cfg.Conversations.Initialize)
				})
				conv.Route("/{sessionID}", func(session chi.Router) {
					session.Get("/", cfg.Conversations.Session)
					session.Post("/updates", cfg.Conversations.Update)
					session.Post("/end", cfg.Conversations.End)
				})
			})
			api.Get("/reports/{period}", cfg.Conversations.Report)
		})
	}

	return r
}
