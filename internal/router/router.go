package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/config"
	"github.com/taskpal/backend/internal/handlers"
	"github.com/taskpal/backend/internal/middleware"
	"github.com/taskpal/backend/internal/pubsub"
	"github.com/taskpal/backend/internal/services"
	"github.com/taskpal/backend/internal/store"
	"github.com/taskpal/backend/internal/ws"
)

func New(cfg *config.Config, st *store.Store, b *broker.Broker, pub *pubsub.Publisher, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestContextMiddleware)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewRealIPMiddleware(cfg.TrustedProxies).Handler)
	r.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigins))

	// Services
	authService := services.NewAuthService(cfg.JWTSecret, cfg.TokenDuration)

	// Handlers
	authHandler := handlers.NewAuthHandler(st, authService)
	pubsubHandler := handlers.NewPubSubHandler(pub, st, hub)
	sseHandler := handlers.NewSSEHandler(b, st, cfg.SessionSendBuffer)
	wsHandler := ws.NewHandler(authService, b, pub, st, hub, cfg.CORSAllowedOrigins, ws.Options{
		SendBuffer:      cfg.SessionSendBuffer,
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})

	// Rate limiter for credential endpoints
	loginRateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	// Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})

		// Login (rate limited, no auth)
		r.With(loginRateLimiter.Middleware).Post("/auth/login", authHandler.Login)

		// Publishing and channel discovery
		r.Route("/pubsub", func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(authService))

			r.Post("/publish/{channel}", pubsubHandler.Publish)
			r.Post("/workspace/{id}/publish", pubsubHandler.PublishToWorkspace)
			r.Post("/user/{id}/notify", pubsubHandler.Notify)
			r.Get("/channels", pubsubHandler.Channels)
			r.Get("/subscriptions", pubsubHandler.Subscriptions)
			r.Get("/stream/{channel}", sseHandler.Stream)
		})
	})

	// Websocket endpoint authenticates before upgrading, so it sits outside
	// the auth middleware chain.
	r.Method(http.MethodGet, "/ws/pubsub", wsHandler)

	return r
}
