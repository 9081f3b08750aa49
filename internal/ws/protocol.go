package ws

import "github.com/taskpal/backend/internal/broker"

// Inbound frame types accepted from clients.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	framePing        = "ping"
)

// Error reasons reported to clients. Recoverable: the session stays usable.
const (
	reasonAccessDenied   = "access_denied"
	reasonInvalidChannel = "invalid_channel"
	reasonInvalidPayload = "invalid_payload"
	reasonTargetNotFound = "target_not_found"
	reasonBadRequest     = "bad_request"
)

// inboundFrame is a request from the client.
type inboundFrame struct {
	Type    string         `json:"type"`
	Channel string         `json:"channel,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// outboundFrame is anything the server pushes to the client: acks, errors,
// the connected greeting, pongs and delivered messages.
type outboundFrame struct {
	Type           string         `json:"type"`
	Channel        string         `json:"channel,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	DeliveredCount *int           `json:"delivered_count,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	SenderID       *string        `json:"sender_id,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
}

func messageFrame(msg *broker.Message) outboundFrame {
	return outboundFrame{
		Type:      "message",
		Channel:   msg.Channel,
		Data:      msg.Data,
		SenderID:  msg.SenderID,
		Timestamp: msg.Timestamp,
	}
}

func errorFrame(reason, channel string) outboundFrame {
	return outboundFrame{Type: "error", Reason: reason, Channel: channel}
}
