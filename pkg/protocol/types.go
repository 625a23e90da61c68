package protocol

import "encoding/json"

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// Response types. Event frames reuse the event type name (tick, new_ticket_message).
const (
	TypeAck   = "ack"
	TypeError = "error"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Channels []string `json:"channels"`
}

type WSResponse struct {
	Type     string          `json:"type"`               // "ack", "error", "tick", "new_ticket_message"
	ID       string          `json:"id,omitempty"`       // Matches request ID
	Channel  string          `json:"channel,omitempty"`  // Set on event frames
	SeqID    int64           `json:"seq_id,omitempty"`
	Status   string          `json:"status,omitempty"`   // "success", "error"
	Message  string          `json:"message,omitempty"`
	Rejected []string        `json:"rejected,omitempty"` // Channels refused by a subscribe
	Data     json.RawMessage `json:"data,omitempty"`
}
