package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/taskpal/backend/internal/access"
	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/channel"
	"github.com/taskpal/backend/internal/logging"
	"github.com/taskpal/backend/internal/middleware"
	"github.com/taskpal/backend/internal/pubsub"
)

var errSSEBufferFull = errors.New("sse buffer full")

// sseSink adapts one SSE connection to a broker sink. Deliver never blocks:
// a full buffer fails the delivery, the broker drops the sink, and the closed
// done channel tells Stream to end the connection too — a dropped sink must
// not linger as a half-open stream.
type sseSink struct {
	id        string
	out       chan *broker.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newSSESink(buffer int) *sseSink {
	return &sseSink{
		id:   uuid.NewString(),
		out:  make(chan *broker.Message, buffer),
		done: make(chan struct{}),
	}
}

func (s *sseSink) ID() string { return s.id }

func (s *sseSink) Deliver(msg *broker.Message) error {
	select {
	case <-s.done:
		return errSSEBufferFull
	default:
	}

	select {
	case s.out <- msg:
		return nil
	default:
		s.close()
		return errSSEBufferFull
	}
}

func (s *sseSink) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// SSEHandler serves single-channel Server-Sent Events streams for clients
// that cannot hold a websocket.
type SSEHandler struct {
	broker *broker.Broker
	dir    pubsub.Directory
	buffer int
}

// NewSSEHandler creates an SSEHandler backed by the given broker.
func NewSSEHandler(b *broker.Broker, dir pubsub.Directory, buffer int) *SSEHandler {
	if buffer <= 0 {
		buffer = 64
	}
	return &SSEHandler{broker: b, dir: dir, buffer: buffer}
}

// Stream opens an SSE connection subscribed to one channel. It sends an
// initial "connected" event, then a "message" event per delivery. A
// heartbeat comment is sent every 30 seconds to keep the connection alive
// through proxies. Channel authorization follows the same rules as
// websocket subscribes.
func (h *SSEHandler) Stream(w http.ResponseWriter, r *http.Request) {
	rawChannel := chi.URLParam(r, "channel")
	userID := middleware.UserID(r.Context())

	key, err := channel.Parse(rawChannel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid channel name")
		return
	}

	if !access.Authorize(r.Context(), userID, key, h.dir.IsWorkspaceMember) {
		logging.LogSecurityEvent(r.Context(), logging.SecurityEventAccessDenied, "sse subscribe to "+key.String()+" denied")
		writeError(w, http.StatusForbidden, "access denied")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sink := newSSESink(h.buffer)
	h.broker.Join(key.String(), sink)
	defer h.broker.Leave(key.String(), sink)

	// Send initial connected event
	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", key.String())
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sink.done:
			// The sink overflowed and the broker dropped it; close the
			// stream so the client reconnects rather than idling on a
			// subscription that no longer exists.
			slog.Warn("sse stream buffer full, closing slow stream",
				slog.String("channel", key.String()),
				slog.String("user_id", userID))
			return
		case msg := <-sink.out:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
