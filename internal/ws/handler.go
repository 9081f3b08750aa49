package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/logging"
	"github.com/taskpal/backend/internal/middleware"
	"github.com/taskpal/backend/internal/pubsub"
	"github.com/taskpal/backend/internal/services"
)

// Handler upgrades authenticated requests to websocket sessions.
type Handler struct {
	auth     *services.AuthService
	broker   *broker.Broker
	pub      *pubsub.Publisher
	dir      pubsub.Directory
	hub      *Hub
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler builds a websocket Handler. allowedOrigins follows the CORS
// configuration: an entry of "*" permits any origin, and requests without an
// Origin header (non-browser clients) are always permitted.
func NewHandler(auth *services.AuthService, b *broker.Broker, pub *pubsub.Publisher, dir pubsub.Directory, hub *Hub, allowedOrigins []string, opts Options) *Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return &Handler{
		auth:   auth,
		broker: b,
		pub:    pub,
		dir:    dir,
		hub:    hub,
		opts:   opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAll {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// ServeHTTP authenticates the request and, on success, upgrades it to a
// websocket session. Authentication failures are rejected before the upgrade
// so unauthenticated clients never hold a connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventMissingAuth, "websocket connect without credentials")
		http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
		return
	}

	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "websocket connect with invalid token")
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	// A valid token for a deleted or deactivated account is still rejected.
	// Lookup failures deny rather than admit an unverifiable identity.
	exists, err := h.dir.UserExists(r.Context(), claims.UserID)
	if err != nil {
		slog.Error("user lookup failed during websocket connect",
			slog.String("user_id", claims.UserID),
			slog.String("error", err.Error()))
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	if !exists {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventInvalidJWT, "websocket connect for unknown user")
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := newSession(conn, claims.UserID, h.broker, h.pub, h.dir, h.hub, h.opts)
	h.hub.register(s)
	slog.Info("session connected",
		slog.String("session_id", s.id),
		slog.String("user_id", s.userID),
		slog.String("remote_addr", logging.ExtractClientIP(r)))
	s.start()
}
