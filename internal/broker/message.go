package broker

// Message is one published payload plus the metadata stamped at publish time.
// It exists only for the duration of a fan-out; nothing is persisted.
type Message struct {
	Channel string `json:"channel"`
	// Data is the opaque payload supplied by the publisher.
	Data map[string]any `json:"data"`
	// SenderID identifies the publishing user, or is null for
	// system-originated messages relayed by the dispatcher.
	SenderID *string `json:"sender_id"`
	// Timestamp is the RFC 3339 publish time.
	Timestamp string `json:"timestamp"`
}
