// Package pubsub contains the publishing side of the real-time layer: the
// Publisher that stamps and authorizes user publishes, and the Dispatcher
// that relays domain events from the persistence layer onto channels.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskpal/backend/internal/access"
	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/channel"
)

// Directory resolves identity and membership facts. It is implemented by the
// persistence store; tests inject fakes.
type Directory interface {
	IsWorkspaceMember(ctx context.Context, userID, workspaceID string) (bool, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Publisher validates publish requests, stamps message metadata and hands the
// result to the broker for fan-out.
type Publisher struct {
	broker *broker.Broker
	dir    Directory
}

// NewPublisher creates a Publisher over the given broker and directory.
func NewPublisher(b *broker.Broker, dir Directory) *Publisher {
	return &Publisher{broker: b, dir: dir}
}

// PublishAsUser publishes payload to rawChannel on behalf of userID and
// returns the number of attempted deliveries.
//
// Workspace-scoped channels require the publisher to hold an active
// membership, the same check a subscriber passes. User-scoped channels
// require the target user to exist; the sender does not need any membership.
// A payload that cannot be serialized is rejected before any fan-out.
func (p *Publisher) PublishAsUser(ctx context.Context, userID, rawChannel string, payload map[string]any) (int, error) {
	key, err := channel.Parse(rawChannel)
	if err != nil {
		return 0, err
	}

	if _, err := json.Marshal(payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	switch key.Kind {
	case channel.KindWorkspace:
		if !access.Authorize(ctx, userID, key, p.dir.IsWorkspaceMember) {
			return 0, ErrAccessDenied
		}
	case channel.KindUser:
		// Bare user:<uid> names no channel; only qualified user channels
		// (user:<uid>:notifications) accept publishes.
		if key.Qualifier == "" {
			return 0, ErrAccessDenied
		}
		exists, err := p.dir.UserExists(ctx, key.ID)
		if err != nil {
			slog.WarnContext(ctx, "user lookup failed, denying publish",
				slog.String("target_user_id", key.ID),
				slog.String("error", err.Error()))
			return 0, ErrAccessDenied
		}
		if !exists {
			return 0, ErrUnknownUser
		}
	}

	sender := userID
	msg := &broker.Message{
		Channel:   key.String(),
		Data:      payload,
		SenderID:  &sender,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return p.broker.Publish(key.String(), msg), nil
}

// NotifyUser publishes a notification envelope onto the target user's
// notification channel. The target must exist; the sender needs no
// membership anywhere.
func (p *Publisher) NotifyUser(ctx context.Context, senderID, targetUserID, title, message string, data map[string]any) (int, error) {
	payload := map[string]any{
		"type":    "notification",
		"title":   title,
		"message": message,
		"user_id": targetUserID,
	}
	if data != nil {
		payload["data"] = data
	}
	return p.PublishAsUser(ctx, senderID, channel.UserNotifications(targetUserID).String(), payload)
}

// PublishEvent publishes a system-originated message (no sender) to key.
// Used by the dispatcher; bypasses per-user authorization. An unserializable
// payload is logged and dropped rather than propagated to the caller.
func (p *Publisher) PublishEvent(key channel.Key, data map[string]any) int {
	if _, err := json.Marshal(data); err != nil {
		slog.Warn("dropping unserializable event payload",
			slog.String("channel", key.String()),
			slog.String("error", err.Error()))
		return 0
	}

	msg := &broker.Message{
		Channel:   key.String(),
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return p.broker.Publish(key.String(), msg)
}
