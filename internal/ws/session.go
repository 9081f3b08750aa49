// Package ws carries the real-time protocol over websocket connections.
// Each accepted connection becomes a Session: a pair of pump goroutines plus
// a bounded outbound queue registered as a broker sink.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/taskpal/backend/internal/access"
	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/channel"
	"github.com/taskpal/backend/internal/pubsub"
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Options tunes per-session transport behavior.
type Options struct {
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 * 1024
	}
	return o
}

// Session is one authenticated live connection. Its identity is bound at
// creation and never changes; its joined-channel set changes with
// subscribe/unsubscribe and is emptied exactly once on disconnect.
type Session struct {
	id     string
	userID string
	conn   *websocket.Conn
	broker *broker.Broker
	pub    *pubsub.Publisher
	dir    pubsub.Directory
	hub    *Hub
	opts   Options

	out       chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	joined map[string]struct{}
}

func newSession(conn *websocket.Conn, userID string, b *broker.Broker, pub *pubsub.Publisher, dir pubsub.Directory, hub *Hub, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		broker: b,
		pub:    pub,
		dir:    dir,
		hub:    hub,
		opts:   opts,
		out:    make(chan outboundFrame, opts.SendBuffer),
		done:   make(chan struct{}),
		joined: make(map[string]struct{}),
	}
}

// ID implements broker.Sink.
func (s *Session) ID() string { return s.id }

// UserID returns the authenticated identity bound to this session.
func (s *Session) UserID() string { return s.userID }

// Deliver implements broker.Sink. It never blocks: the message is enqueued
// into the session's bounded buffer, and a full buffer tears the session down
// as a slow client rather than stalling the publisher.
func (s *Session) Deliver(msg *broker.Message) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.out <- messageFrame(msg):
		return nil
	case <-s.done:
		return errSessionClosed
	default:
		slog.Warn("session send buffer full, disconnecting slow client",
			slog.String("session_id", s.id),
			slog.String("user_id", s.userID))
		s.Close()
		return errSendBufferFull
	}
}

// Subscriptions returns a snapshot of the channels this session has joined.
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]string, 0, len(s.joined))
	for c := range s.joined {
		subs = append(subs, c)
	}
	return subs
}

// Close tears the session down: registry cleanup, hub removal, transport
// close. Idempotent; concurrent disconnect signals collapse to one cleanup.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		// Mark closed before LeaveAll so a subscribe racing with teardown
		// cannot re-register this sink after the registry sweep.
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.broker.LeaveAll(s)
		if s.hub != nil {
			s.hub.unregister(s)
		}
		s.conn.Close()
		slog.Info("session disconnected",
			slog.String("session_id", s.id),
			slog.String("user_id", s.userID))
	})
}

// start launches the pump goroutines and queues the connected greeting.
func (s *Session) start() {
	s.out <- outboundFrame{Type: "connected", UserID: s.userID}
	go s.writePump()
	go s.readPump()
}

// readPump consumes client frames until the connection errors or closes.
// Malformed JSON is answered with an error frame; the session stays up.
func (s *Session) readPump() {
	defer s.Close()

	pongWait := s.opts.PingInterval + s.opts.WriteTimeout
	s.conn.SetReadLimit(s.opts.MaxMessageBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read error",
					slog.String("session_id", s.id),
					slog.String("error", err.Error()))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.reply(errorFrame(reasonBadRequest, ""))
			continue
		}
		s.handleFrame(frame)
	}
}

// writePump is the only goroutine writing to the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	defer s.Close()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case frame := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reply queues a frame for the client, giving up if the session closes first.
func (s *Session) reply(frame outboundFrame) {
	select {
	case s.out <- frame:
	case <-s.done:
	}
}

func (s *Session) handleFrame(frame inboundFrame) {
	switch frame.Type {
	case frameSubscribe:
		s.handleSubscribe(frame.Channel)
	case frameUnsubscribe:
		s.handleUnsubscribe(frame.Channel)
	case framePublish:
		s.handlePublish(frame.Channel, frame.Payload)
	case framePing:
		s.reply(outboundFrame{Type: "pong"})
	default:
		s.reply(errorFrame(reasonBadRequest, frame.Channel))
	}
}

func (s *Session) handleSubscribe(raw string) {
	key, err := channel.Parse(raw)
	if err != nil {
		s.reply(errorFrame(reasonInvalidChannel, raw))
		return
	}

	if !access.Authorize(context.Background(), s.userID, key, s.dir.IsWorkspaceMember) {
		slog.Warn("subscribe denied",
			slog.String("session_id", s.id),
			slog.String("user_id", s.userID),
			slog.String("channel", key.String()))
		s.reply(errorFrame(reasonAccessDenied, key.String()))
		return
	}

	s.broker.Join(key.String(), s)
	s.mu.Lock()
	if s.closed {
		// Teardown won the race: its LeaveAll may have run before the Join
		// above, so undo the registration instead of leaking a dead sink.
		s.mu.Unlock()
		s.broker.Leave(key.String(), s)
		return
	}
	s.joined[key.String()] = struct{}{}
	s.mu.Unlock()

	s.reply(outboundFrame{Type: "subscribed", Channel: key.String()})
}

func (s *Session) handleUnsubscribe(raw string) {
	key, err := channel.Parse(raw)
	if err != nil {
		s.reply(errorFrame(reasonInvalidChannel, raw))
		return
	}

	s.broker.Leave(key.String(), s)
	s.mu.Lock()
	delete(s.joined, key.String())
	s.mu.Unlock()

	s.reply(outboundFrame{Type: "unsubscribed", Channel: key.String()})
}

func (s *Session) handlePublish(raw string, payload map[string]any) {
	n, err := s.pub.PublishAsUser(context.Background(), s.userID, raw, payload)
	if err != nil {
		s.reply(errorFrame(publishErrorReason(err), raw))
		return
	}
	s.reply(outboundFrame{Type: "published", Channel: raw, DeliveredCount: &n})
}

func publishErrorReason(err error) string {
	switch {
	case errors.Is(err, channel.ErrInvalidKey):
		return reasonInvalidChannel
	case errors.Is(err, pubsub.ErrInvalidPayload):
		return reasonInvalidPayload
	case errors.Is(err, pubsub.ErrUnknownUser):
		return reasonTargetNotFound
	case errors.Is(err, pubsub.ErrAccessDenied):
		return reasonAccessDenied
	default:
		return reasonBadRequest
	}
}
