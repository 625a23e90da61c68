package models

import (
	"strconv"
	"strings"
	"time"
)

// Role identifies who authored a ticket message.
type Role string

const (
	RoleRequester Role = "requester"
	RoleOperator  Role = "operator"
)

// TicketChannelPrefix prefixes the realtime channel of a ticket conversation.
const TicketChannelPrefix = "ticket_"

// ChatMessage is one entry of a ticket conversation.
//
// ID is assigned by the server. Messages inserted locally before the server
// confirms them carry only a PendingID.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	PendingID string    `json:"-"`
	TicketID  string    `json:"ticketId,omitempty"`
	Sender    Role      `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Edited    bool      `json:"edited,omitempty"`
}

// Pending reports whether the message has not been confirmed by the server yet.
func (m ChatMessage) Pending() bool { return m.ID == "" && m.PendingID != "" }

// TicketMessageEvent is the payload of a new_ticket_message push event.
type TicketMessageEvent struct {
	TicketID string      `json:"ticketId"`
	Message  ChatMessage `json:"message"`
}

// TicketChannel returns the channel name for a ticket id.
func TicketChannel(ticketID string) string { return TicketChannelPrefix + ticketID }

// NormalizeChannel upper-cases instrument symbols and lower-cases ticket
// channel names, so "nifty" and "TICKET_42" map to "NIFTY" and "ticket_42".
func NormalizeChannel(name string) string {
	name = strings.TrimSpace(name)
	if lower := strings.ToLower(name); strings.HasPrefix(lower, TicketChannelPrefix) {
		return lower
	}
	return strings.ToUpper(name)
}

// IsTicketChannel reports whether name is a well-formed ticket channel (ticket_<digits>).
func IsTicketChannel(name string) bool {
	if len(name) <= len(TicketChannelPrefix) || name[:len(TicketChannelPrefix)] != TicketChannelPrefix {
		return false
	}
	_, err := strconv.ParseUint(name[len(TicketChannelPrefix):], 10, 64)
	return err == nil
}
