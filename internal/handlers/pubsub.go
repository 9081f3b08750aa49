package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/taskpal/backend/internal/channel"
	"github.com/taskpal/backend/internal/logging"
	"github.com/taskpal/backend/internal/middleware"
	"github.com/taskpal/backend/internal/models"
	"github.com/taskpal/backend/internal/pubsub"
	"github.com/taskpal/backend/internal/store"
	"github.com/taskpal/backend/internal/ws"
)

// PubSubHandler exposes publishing and channel discovery over REST.
type PubSubHandler struct {
	pub   *pubsub.Publisher
	store *store.Store
	hub   *ws.Hub
}

// NewPubSubHandler creates a PubSubHandler with the required dependencies.
func NewPubSubHandler(pub *pubsub.Publisher, st *store.Store, hub *ws.Hub) *PubSubHandler {
	return &PubSubHandler{pub: pub, store: st, hub: hub}
}

// Publish posts a payload to an arbitrary channel on behalf of the caller.
// Authorization follows the same channel rules as websocket publishes.
func (h *PubSubHandler) Publish(w http.ResponseWriter, r *http.Request) {
	rawChannel := chi.URLParam(r, "channel")
	h.publishTo(w, r, rawChannel)
}

// PublishToWorkspace posts a payload to workspace:<id>. Membership is
// checked by the publisher; non-members get 403.
func (h *PubSubHandler) PublishToWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	h.publishTo(w, r, channel.Workspace(workspaceID).String())
}

func (h *PubSubHandler) publishTo(w http.ResponseWriter, r *http.Request, rawChannel string) {
	userID := middleware.UserID(r.Context())

	var req models.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Payload == nil {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	n, err := h.pub.PublishAsUser(r.Context(), userID, rawChannel, req.Payload)
	if err != nil {
		h.writePublishError(w, r, rawChannel, err)
		return
	}

	writeJSON(w, http.StatusOK, models.PublishResponse{Channel: rawChannel, DeliveredCount: n})
}

// Notify sends a notification envelope to user:<id>:notifications. The
// target must be an existing active user.
func (h *PubSubHandler) Notify(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "id")
	senderID := middleware.UserID(r.Context())

	var req models.NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "title and message are required")
		return
	}

	target := channel.UserNotifications(targetID).String()
	n, err := h.pub.NotifyUser(r.Context(), senderID, targetID, req.Title, req.Message, req.Data)
	if err != nil {
		h.writePublishError(w, r, target, err)
		return
	}

	writeJSON(w, http.StatusOK, models.PublishResponse{Channel: target, DeliveredCount: n})
}

// Channels lists the channels the caller may subscribe to without further
// checks: their own notification channel plus one per workspace membership.
func (h *PubSubHandler) Channels(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	workspaceIDs, err := h.store.WorkspaceIDsForUser(r.Context(), userID)
	if err != nil {
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "failed to list workspaces", err)
		return
	}

	channels := make([]string, 0, 2*len(workspaceIDs)+1)
	channels = append(channels, channel.UserNotifications(userID).String())
	for _, id := range workspaceIDs {
		channels = append(channels, channel.Workspace(id).String())
		channels = append(channels, channel.WorkspaceMembers(id).String())
	}

	writeJSON(w, http.StatusOK, models.ChannelsResponse{Channels: channels, UserID: userID})
}

// Subscriptions reports the channels the caller's live websocket sessions
// are currently joined to. No live sessions yields an empty list.
func (h *PubSubHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	subs := h.hub.SubscriptionsFor(userID)
	writeJSON(w, http.StatusOK, models.SubscriptionsResponse{Subscriptions: subs})
}

func (h *PubSubHandler) writePublishError(w http.ResponseWriter, r *http.Request, rawChannel string, err error) {
	switch {
	case errors.Is(err, channel.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid channel name")
	case errors.Is(err, pubsub.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, "payload is not serializable")
	case errors.Is(err, pubsub.ErrUnknownUser):
		writeError(w, http.StatusNotFound, "target user not found")
	case errors.Is(err, pubsub.ErrAccessDenied):
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventAccessDenied, "publish to "+rawChannel+" denied")
		writeError(w, http.StatusForbidden, "access denied")
	default:
		writeErrorWithCause(r.Context(), w, http.StatusInternalServerError, "publish failed", err)
	}
}
