package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// ErrBackend is the canned failure returned by the fakes.
var ErrBackend = errors.New("backend unavailable")

// MockTransport records join/leave frames instead of writing them
type MockTransport struct {
	Joins  []string
	Leaves []string
	Down   bool // return channel.ErrNotReady
	Mu     sync.Mutex
}

func (m *MockTransport) Join(name string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Down {
		return channel.ErrNotReady
	}
	m.Joins = append(m.Joins, name)
	return nil
}

func (m *MockTransport) Leave(name string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Down {
		return channel.ErrNotReady
	}
	m.Leaves = append(m.Leaves, name)
	return nil
}

func (m *MockTransport) JoinCount(name string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, j := range m.Joins {
		if j == name {
			n++
		}
	}
	return n
}

func (m *MockTransport) LeaveCount(name string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, l := range m.Leaves {
		if l == name {
			n++
		}
	}
	return n
}

// RecordingSink captures effects
type RecordingSink struct {
	Toasts  []string
	Errors  []string
	Scrolls []string
	Logouts []string
	Mu      sync.Mutex
}

func (s *RecordingSink) Toast(level effects.Level, msg string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if level == effects.LevelError {
		s.Errors = append(s.Errors, msg)
		return
	}
	s.Toasts = append(s.Toasts, msg)
}

func (s *RecordingSink) ScrollToBottom(ticketID string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Scrolls = append(s.Scrolls, ticketID)
}

func (s *RecordingSink) ForceLogout(reason string) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.Logouts = append(s.Logouts, reason)
}

func (s *RecordingSink) LogoutCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.Logouts)
}

func (s *RecordingSink) ScrollCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.Scrolls)
}

func (s *RecordingSink) ErrorCount() int {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return len(s.Errors)
}

// MockWatchlistAPI serves a fixed instrument list
type MockWatchlistAPI struct {
	Instruments []models.Instrument
	Fail        bool
	Calls       int
	Mu          sync.Mutex
}

func (m *MockWatchlistAPI) FetchWatchlist(ctx context.Context, symbols []string) ([]models.Instrument, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++
	if m.Fail {
		return nil, ErrBackend
	}
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	var out []models.Instrument
	for _, in := range m.Instruments {
		if len(symbols) == 0 || want[in.Symbol] {
			out = append(out, in)
		}
	}
	return out, nil
}

// MockTicketAPI is an in-memory ticket conversation store
type MockTicketAPI struct {
	Conversations map[string][]models.ChatMessage
	NextID        int
	Fail          bool
	Clock         func() int64 // unix seconds for new messages
	OnPost        func(msg models.ChatMessage) // runs before PostReply returns
	Edits         []string
	Deletes       []string
	Mu            sync.Mutex
}

func NewMockTicketAPI() *MockTicketAPI {
	return &MockTicketAPI{Conversations: make(map[string][]models.ChatMessage), NextID: 100}
}

func (m *MockTicketAPI) FetchConversation(ctx context.Context, ticketID string) ([]models.ChatMessage, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return nil, ErrBackend
	}
	return append([]models.ChatMessage(nil), m.Conversations[ticketID]...), nil
}

func (m *MockTicketAPI) PostReply(ctx context.Context, ticketID, body string) ([]models.ChatMessage, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return nil, ErrBackend
	}
	m.NextID++
	msg := models.ChatMessage{
		ID:        itoa(m.NextID),
		TicketID:  ticketID,
		Sender:    models.RoleOperator,
		Body:      body,
		Timestamp: unix(m.now()),
	}
	m.Conversations[ticketID] = append(m.Conversations[ticketID], msg)
	if m.OnPost != nil {
		m.OnPost(msg)
	}
	return append([]models.ChatMessage(nil), m.Conversations[ticketID]...), nil
}

func (m *MockTicketAPI) EditMessage(ctx context.Context, ticketID, messageID, body string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return ErrBackend
	}
	m.Edits = append(m.Edits, messageID)
	for i, msg := range m.Conversations[ticketID] {
		if msg.ID == messageID {
			m.Conversations[ticketID][i].Body = body
			m.Conversations[ticketID][i].Edited = true
		}
	}
	return nil
}

func (m *MockTicketAPI) DeleteMessage(ctx context.Context, ticketID, messageID string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Fail {
		return ErrBackend
	}
	m.Deletes = append(m.Deletes, messageID)
	msgs := m.Conversations[ticketID][:0]
	for _, msg := range m.Conversations[ticketID] {
		if msg.ID != messageID {
			msgs = append(msgs, msg)
		}
	}
	m.Conversations[ticketID] = msgs
	return nil
}

// LastMessage returns the newest stored message of a ticket.
func (m *MockTicketAPI) LastMessage(ticketID string) models.ChatMessage {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	msgs := m.Conversations[ticketID]
	return msgs[len(msgs)-1]
}

func (m *MockTicketAPI) now() int64 {
	if m.Clock != nil {
		return m.Clock()
	}
	return 1700000000 + int64(m.NextID)
}

// MockNotificationAPI serves and patches a notification list
type MockNotificationAPI struct {
	Items     []models.Notification
	FailFetch bool
	FailPatch bool
	Fetches   int
	Patched   []string
	Mu        sync.Mutex
}

func (m *MockNotificationAPI) FetchNotifications(ctx context.Context) ([]models.Notification, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Fetches++
	if m.FailFetch {
		return nil, ErrBackend
	}
	return append([]models.Notification(nil), m.Items...), nil
}

func (m *MockNotificationAPI) MarkNotificationRead(ctx context.Context, id string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailPatch {
		return ErrBackend
	}
	m.Patched = append(m.Patched, id)
	for i := range m.Items {
		if m.Items[i].ID == id {
			m.Items[i].Read = true
		}
	}
	return nil
}

func (m *MockNotificationAPI) MarkAllNotificationsRead(ctx context.Context) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.FailPatch {
		return ErrBackend
	}
	m.Patched = append(m.Patched, "*")
	for i := range m.Items {
		m.Items[i].Read = true
	}
	return nil
}

func (m *MockNotificationAPI) FetchCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Fetches
}

// TickEvent builds a tick envelope as the gateway delivers it.
func TickEvent(symbol string, price float64) models.Event {
	data, _ := json.Marshal(models.Tick{Symbol: symbol, Price: price})
	return models.Event{Type: models.EventTick, Channel: symbol, Data: data}
}

// TicketEvent builds a new_ticket_message envelope.
func TicketEvent(msg models.ChatMessage) models.Event {
	data, _ := json.Marshal(models.TicketMessageEvent{TicketID: msg.TicketID, Message: msg})
	return models.Event{Type: models.EventNewTicketMessage, Channel: models.TicketChannel(msg.TicketID), Data: data}
}

func itoa(n int) string { return strconv.Itoa(n) }

func unix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }
