package models

import "encoding/json"

// Event types carried on the push pipeline.
const (
	EventTick             = "tick"
	EventNewTicketMessage = "new_ticket_message"
)

// Event is the envelope that travels Kafka -> Redis -> websocket.
// Channel is the realtime channel it is scoped to (a symbol or ticket_<id>).
type Event struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	SeqID   int64           `json:"seq_id,omitempty"` // monotonic per channel, stamped by the producer
	Data    json.RawMessage `json:"data"`
}
