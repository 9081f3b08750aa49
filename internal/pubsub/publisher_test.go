package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/channel"
)

// fakeDirectory is an in-memory Directory for tests.
type fakeDirectory struct {
	mu      sync.Mutex
	members map[string]map[string]bool // userID -> workspaceID -> active
	users   map[string]bool
	err     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string]map[string]bool),
		users:   make(map[string]bool),
	}
}

func (d *fakeDirectory) addUser(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = true
}

func (d *fakeDirectory) addMember(userID, workspaceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[userID] = true
	if d.members[userID] == nil {
		d.members[userID] = make(map[string]bool)
	}
	d.members[userID][workspaceID] = true
}

func (d *fakeDirectory) removeMember(userID, workspaceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.members[userID], workspaceID)
}

func (d *fakeDirectory) IsWorkspaceMember(_ context.Context, userID, workspaceID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.members[userID][workspaceID], nil
}

func (d *fakeDirectory) UserExists(_ context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	return d.users[userID], nil
}

// captureSink buffers delivered messages on a channel for assertions.
type captureSink struct {
	id string
	ch chan *broker.Message
}

func newCaptureSink(id string) *captureSink {
	return &captureSink{id: id, ch: make(chan *broker.Message, 64)}
}

func (s *captureSink) ID() string { return s.id }

func (s *captureSink) Deliver(msg *broker.Message) error {
	select {
	case s.ch <- msg:
		return nil
	default:
		return errors.New("buffer full")
	}
}

func TestPublishAsUser_WorkspaceMember(t *testing.T) {
	ctx := context.Background()
	b := broker.New()
	dir := newFakeDirectory()
	dir.addMember("alice", "w1")
	pub := NewPublisher(b, dir)

	sink := newCaptureSink("alice-conn")
	b.Join("workspace:w1", sink)

	n, err := pub.PublishAsUser(ctx, "alice", "workspace:w1", map[string]any{"type": "renamed", "title": "New Name"})
	if err != nil {
		t.Fatalf("PublishAsUser() error = %v", err)
	}
	if n != 1 {
		t.Errorf("delivered count = %d, want 1", n)
	}

	msg := <-sink.ch
	if msg.Channel != "workspace:w1" {
		t.Errorf("Channel = %q, want workspace:w1", msg.Channel)
	}
	if msg.SenderID == nil || *msg.SenderID != "alice" {
		t.Errorf("SenderID = %v, want alice", msg.SenderID)
	}
	if msg.Timestamp == "" {
		t.Error("Timestamp not stamped")
	}
	if msg.Data["title"] != "New Name" {
		t.Errorf("Data = %v, payload not passed through", msg.Data)
	}
}

func TestPublishAsUser_WorkspaceNonMemberDenied(t *testing.T) {
	ctx := context.Background()
	b := broker.New()
	dir := newFakeDirectory()
	dir.addUser("bob")
	pub := NewPublisher(b, dir)

	_, err := pub.PublishAsUser(ctx, "bob", "workspace:w1", map[string]any{"type": "x"})
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("error = %v, want ErrAccessDenied", err)
	}
}

func TestPublishAsUser_DirectoryUnavailableDenies(t *testing.T) {
	ctx := context.Background()
	b := broker.New()
	dir := newFakeDirectory()
	dir.err = errors.New("store down")
	pub := NewPublisher(b, dir)

	if _, err := pub.PublishAsUser(ctx, "alice", "workspace:w1", nil); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("workspace publish error = %v, want ErrAccessDenied (fail closed)", err)
	}
	if _, err := pub.PublishAsUser(ctx, "alice", "user:bob:notifications", nil); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("user publish error = %v, want ErrAccessDenied (fail closed)", err)
	}
}

func TestPublishAsUser_InvalidChannel(t *testing.T) {
	pub := NewPublisher(broker.New(), newFakeDirectory())

	_, err := pub.PublishAsUser(context.Background(), "alice", "not-a-channel", nil)
	if !errors.Is(err, channel.ErrInvalidKey) {
		t.Errorf("error = %v, want ErrInvalidKey", err)
	}
}

func TestPublishAsUser_InvalidPayloadFailsFast(t *testing.T) {
	ctx := context.Background()
	b := broker.New()
	dir := newFakeDirectory()
	dir.addMember("alice", "w1")
	pub := NewPublisher(b, dir)

	sink := newCaptureSink("s1")
	b.Join("workspace:w1", sink)

	_, err := pub.PublishAsUser(ctx, "alice", "workspace:w1", map[string]any{"bad": make(chan int)})
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("error = %v, want ErrInvalidPayload", err)
	}

	select {
	case msg := <-sink.ch:
		t.Errorf("message %v delivered despite invalid payload", msg)
	default:
	}
}

func TestPublishAsUser_ZeroSubscribers(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.addMember("alice", "w1")
	pub := NewPublisher(broker.New(), dir)

	n, err := pub.PublishAsUser(ctx, "alice", "workspace:w1", map[string]any{"type": "x"})
	if err != nil {
		t.Fatalf("PublishAsUser() error = %v, want success on empty channel", err)
	}
	if n != 0 {
		t.Errorf("delivered count = %d, want 0", n)
	}
}

func TestPublishAsUser_UserChannelNeedsTargetToExist(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.addUser("alice")
	pub := NewPublisher(broker.New(), dir)

	// alice holds no memberships; publishing to an existing user still works.
	if _, err := pub.PublishAsUser(ctx, "alice", "user:alice:notifications", map[string]any{"type": "ping"}); err != nil {
		t.Errorf("publish to existing user error = %v", err)
	}

	if _, err := pub.PublishAsUser(ctx, "alice", "user:ghost:notifications", nil); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("error = %v, want ErrUnknownUser", err)
	}
}

func TestPublishAsUser_BareUserChannelDenied(t *testing.T) {
	ctx := context.Background()
	dir := newFakeDirectory()
	dir.addUser("alice")
	pub := NewPublisher(broker.New(), dir)

	// user:<uid> without a qualifier names no channel, even for the user itself.
	if _, err := pub.PublishAsUser(ctx, "alice", "user:alice", map[string]any{"type": "ping"}); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("error = %v, want ErrAccessDenied", err)
	}
}

func TestNotifyUser(t *testing.T) {
	ctx := context.Background()
	b := broker.New()
	dir := newFakeDirectory()
	dir.addUser("alice")
	dir.addUser("bob")
	pub := NewPublisher(b, dir)

	sink := newCaptureSink("alice-conn")
	b.Join("user:alice:notifications", sink)

	n, err := pub.NotifyUser(ctx, "bob", "alice", "Mention", "bob mentioned you", map[string]any{"page_id": "p1"})
	if err != nil {
		t.Fatalf("NotifyUser() error = %v", err)
	}
	if n != 1 {
		t.Errorf("delivered count = %d, want 1", n)
	}

	msg := <-sink.ch
	if msg.Data["type"] != "notification" {
		t.Errorf("type = %v, want notification", msg.Data["type"])
	}
	if msg.Data["title"] != "Mention" {
		t.Errorf("title = %v, want Mention", msg.Data["title"])
	}
	if msg.SenderID == nil || *msg.SenderID != "bob" {
		t.Errorf("SenderID = %v, want bob", msg.SenderID)
	}
}

func TestPublishEvent_NoSender(t *testing.T) {
	b := broker.New()
	pub := NewPublisher(b, newFakeDirectory())

	sink := newCaptureSink("s1")
	b.Join("page:p1", sink)

	n := pub.PublishEvent(channel.Page("p1"), map[string]any{"type": "page_updated"})
	if n != 1 {
		t.Errorf("delivered count = %d, want 1", n)
	}

	msg := <-sink.ch
	if msg.SenderID != nil {
		t.Errorf("SenderID = %v, want nil for system message", *msg.SenderID)
	}
}

func TestPublishEvent_UnserializableDropped(t *testing.T) {
	b := broker.New()
	pub := NewPublisher(b, newFakeDirectory())

	sink := newCaptureSink("s1")
	b.Join("page:p1", sink)

	if n := pub.PublishEvent(channel.Page("p1"), map[string]any{"bad": make(chan int)}); n != 0 {
		t.Errorf("delivered count = %d, want 0", n)
	}
}
