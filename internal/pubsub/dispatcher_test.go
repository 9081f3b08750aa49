package pubsub

import (
	"testing"
	"time"

	"github.com/taskpal/backend/internal/broker"
)

func expectMessage(t *testing.T, sink *captureSink) *broker.Message {
	t.Helper()
	select {
	case msg := <-sink.ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed message")
		return nil
	}
}

func expectNoMessage(t *testing.T, sink *captureSink) {
	t.Helper()
	select {
	case msg := <-sink.ch:
		t.Fatalf("unexpected message on %s: %v", msg.Channel, msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

func startDispatcher(t *testing.T, b *broker.Broker) *Dispatcher {
	t.Helper()
	d := NewDispatcher(NewPublisher(b, newFakeDirectory()), 16)
	d.Start()
	t.Cleanup(d.Close)
	return d
}

func TestDispatcherRelaysPageEvent(t *testing.T) {
	b := broker.New()
	d := startDispatcher(t, b)

	sink := newCaptureSink("s1")
	b.Join("page:p1", sink)

	d.Dispatch(Event{Type: EventPageUpdated, PageID: "p1", Payload: map[string]any{"title": "Roadmap"}})

	msg := expectMessage(t, sink)
	if msg.Channel != "page:p1" {
		t.Errorf("Channel = %q, want page:p1", msg.Channel)
	}
	if msg.Data["type"] != "page_updated" {
		t.Errorf("type = %v, want page_updated", msg.Data["type"])
	}
	if msg.Data["title"] != "Roadmap" {
		t.Errorf("payload not passed through: %v", msg.Data)
	}
	if msg.SenderID != nil {
		t.Errorf("SenderID = %v, want nil", *msg.SenderID)
	}
}

func TestDispatcherRelaysCommentToNotifications(t *testing.T) {
	b := broker.New()
	d := startDispatcher(t, b)

	notif := newCaptureSink("alice-conn")
	comments := newCaptureSink("viewer-conn")
	b.Join("user:alice:notifications", notif)
	b.Join("page:p1:comments", comments)

	d.Dispatch(Event{
		Type:    EventCommentCreated,
		PageID:  "p1",
		UserID:  "alice",
		Payload: map[string]any{"comment_id": "c1"},
	})

	got := expectMessage(t, notif)
	if got.Channel != "user:alice:notifications" {
		t.Errorf("Channel = %q, want user:alice:notifications", got.Channel)
	}
	if got.Data["type"] != "comment_created" {
		t.Errorf("type = %v, want comment_created", got.Data["type"])
	}

	if pc := expectMessage(t, comments); pc.Channel != "page:p1:comments" {
		t.Errorf("Channel = %q, want page:p1:comments", pc.Channel)
	}
}

func TestDispatcherRoutesByEventType(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		channel string
	}{
		{"workspace update", Event{Type: EventWorkspaceUpdated, WorkspaceID: "w1"}, "workspace:w1"},
		{"member added", Event{Type: EventMemberAdded, WorkspaceID: "w1", UserID: "bob"}, "workspace:w1:members"},
		{"block update", Event{Type: EventBlockUpdated, BlockID: "b1"}, "block:b1"},
		{"notification", Event{Type: EventNotification, UserID: "alice"}, "user:alice:notifications"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := broker.New()
			d := startDispatcher(t, b)

			sink := newCaptureSink("s1")
			b.Join(tt.channel, sink)

			d.Dispatch(tt.ev)

			if msg := expectMessage(t, sink); msg.Channel != tt.channel {
				t.Errorf("Channel = %q, want %q", msg.Channel, tt.channel)
			}
		})
	}
}

func TestDispatcherIgnoresIncompleteEvents(t *testing.T) {
	b := broker.New()
	d := startDispatcher(t, b)

	sink := newCaptureSink("s1")
	b.Join("workspace:w1", sink)

	// Missing entity IDs produce no route.
	d.Dispatch(Event{Type: EventWorkspaceUpdated})
	d.Dispatch(Event{Type: EventPageUpdated})
	d.Dispatch(Event{Type: EventType("mystery"), WorkspaceID: "w1"})

	expectNoMessage(t, sink)
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	b := broker.New()
	sink := newCaptureSink("page-sub")
	b.Join("page:p1", sink)

	d := NewDispatcher(NewPublisher(b, newFakeDirectory()), 16)
	for i := 0; i < 3; i++ {
		d.Dispatch(Event{Type: EventPageUpdated, PageID: "p1"})
	}

	// Start and close immediately: the already-queued events must still be
	// relayed before Close returns.
	d.Start()
	d.Close()

	for i := 0; i < 3; i++ {
		expectMessage(t, sink)
	}
	expectNoMessage(t, sink)
}

func TestDispatchNeverBlocks(t *testing.T) {
	// Not started: nothing drains the queue, so overflow must be dropped.
	d := NewDispatcher(NewPublisher(broker.New(), newFakeDirectory()), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Dispatch(Event{Type: EventPageUpdated, PageID: "p1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a full queue")
	}
}
