package ws

import (
	"sort"
	"sync"
)

// Hub indexes live sessions. Handlers use it to answer "what is this user
// subscribed to" and shutdown uses it to close every connection. It holds no
// channel state of its own; the broker remains the source of truth for
// fan-out.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[*Session]struct{})}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = struct{}{}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// Len reports the number of live sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// SubscriptionsFor returns the sorted union of channels the user's live
// sessions have joined.
func (h *Hub) SubscriptionsFor(userID string) []string {
	h.mu.RLock()
	var sessions []*Session
	for s := range h.sessions {
		if s.userID == userID {
			sessions = append(sessions, s)
		}
	}
	h.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, s := range sessions {
		for _, c := range s.Subscriptions() {
			seen[c] = struct{}{}
		}
	}

	subs := make([]string, 0, len(seen))
	for c := range seen {
		subs = append(subs, c)
	}
	sort.Strings(subs)
	return subs
}

// CloseAll tears down every live session. Used on server shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
}
