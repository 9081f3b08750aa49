// Package models defines the request/response shapes of the HTTP API.
// Field names follow the real-time protocol's snake_case wire format.
package models

// Authentication
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Publishing
type PublishRequest struct {
	Payload map[string]any `json:"payload"`
}

type PublishResponse struct {
	Channel        string `json:"channel"`
	DeliveredCount int    `json:"delivered_count"`
}

type NotifyRequest struct {
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Channel discovery
type ChannelsResponse struct {
	Channels []string `json:"channels"`
	UserID   string   `json:"user_id"`
}

type SubscriptionsResponse struct {
	Subscriptions []string `json:"subscriptions"`
}

// Error response
type ErrorResponse struct {
	Error string `json:"error"`
}
