package pubsub

import (
	"log/slog"

	"github.com/taskpal/backend/internal/channel"
)

// EventType identifies the kind of domain mutation an Event describes.
type EventType string

const (
	EventPageCreated      EventType = "page_created"
	EventPageUpdated      EventType = "page_updated"
	EventPageDeleted      EventType = "page_deleted"
	EventBlockCreated     EventType = "block_created"
	EventBlockUpdated     EventType = "block_updated"
	EventBlockDeleted     EventType = "block_deleted"
	EventCommentCreated   EventType = "comment_created"
	EventMemberAdded      EventType = "member_added"
	EventMemberRemoved    EventType = "member_removed"
	EventWorkspaceUpdated EventType = "workspace_updated"
	EventNotification     EventType = "notification"
)

// Event is a domain mutation notification produced by the business layer.
// Exactly one of the entity IDs is meaningful for most event types; UserID
// names a notification target where one exists (e.g. the author being
// replied to on a comment).
type Event struct {
	Type        EventType
	WorkspaceID string
	PageID      string
	BlockID     string
	UserID      string
	Payload     map[string]any
}

// Dispatcher decouples mutation paths from the broker: producers enqueue
// events without blocking and a single goroutine relays them onto channels.
// Slow or unresponsive subscribers therefore never add latency to the code
// path that persisted the original change.
type Dispatcher struct {
	pub    *Publisher
	events chan Event
	stop   chan struct{}
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher with the given queue capacity.
// Call Start to begin relaying.
func NewDispatcher(pub *Publisher, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		pub:    pub,
		events: make(chan Event, buffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the relay goroutine.
func (d *Dispatcher) Start() {
	go d.run()
}

// Close stops the relay goroutine after draining the events already queued.
// Events dispatched after Close are dropped.
func (d *Dispatcher) Close() {
	close(d.stop)
	<-d.done
}

// Dispatch enqueues ev for relay. It never blocks: when the queue is full the
// event is dropped and logged, keeping backpressure away from mutation paths.
func (d *Dispatcher) Dispatch(ev Event) {
	select {
	case d.events <- ev:
	default:
		slog.Warn("dispatcher queue full, dropping domain event",
			slog.String("event_type", string(ev.Type)))
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			// Relay what was queued before the stop, then exit.
			for {
				select {
				case ev := <-d.events:
					d.relay(ev)
				default:
					return
				}
			}
		case ev := <-d.events:
			d.relay(ev)
		}
	}
}

func (d *Dispatcher) relay(ev Event) {
	data := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		data[k] = v
	}
	data["type"] = string(ev.Type)

	for _, key := range routesFor(ev) {
		n := d.pub.PublishEvent(key, data)
		slog.Debug("relayed domain event",
			slog.String("event_type", string(ev.Type)),
			slog.String("channel", key.String()),
			slog.Int("delivered", n))
	}
}

// routesFor maps an event to its target channels by simple templating.
// Comment events that name a target user additionally produce a message on
// that user's notification channel.
func routesFor(ev Event) []channel.Key {
	switch ev.Type {
	case EventPageCreated, EventPageUpdated, EventPageDeleted:
		if ev.PageID == "" {
			return nil
		}
		return []channel.Key{channel.Page(ev.PageID)}

	case EventBlockCreated, EventBlockUpdated, EventBlockDeleted:
		if ev.BlockID == "" {
			return nil
		}
		return []channel.Key{channel.Block(ev.BlockID)}

	case EventCommentCreated:
		var keys []channel.Key
		if ev.PageID != "" {
			keys = append(keys, channel.PageComments(ev.PageID))
		}
		if ev.UserID != "" {
			keys = append(keys, channel.UserNotifications(ev.UserID))
		}
		return keys

	case EventMemberAdded, EventMemberRemoved:
		if ev.WorkspaceID == "" {
			return nil
		}
		return []channel.Key{channel.WorkspaceMembers(ev.WorkspaceID)}

	case EventWorkspaceUpdated:
		if ev.WorkspaceID == "" {
			return nil
		}
		return []channel.Key{channel.Workspace(ev.WorkspaceID)}

	case EventNotification:
		if ev.UserID == "" {
			return nil
		}
		return []channel.Key{channel.UserNotifications(ev.UserID)}

	default:
		slog.Warn("unroutable domain event", slog.String("event_type", string(ev.Type)))
		return nil
	}
}
