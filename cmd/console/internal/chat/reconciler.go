package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

var (
	ErrNoConversation = errors.New("no conversation open")
	ErrEmptyBody      = errors.New("message body is empty")
)

// TicketAPI is the REST surface of ticket conversations.
type TicketAPI interface {
	FetchConversation(ctx context.Context, ticketID string) ([]models.ChatMessage, error)
	PostReply(ctx context.Context, ticketID, body string) ([]models.ChatMessage, error)
	EditMessage(ctx context.Context, ticketID, messageID, body string) error
	DeleteMessage(ctx context.Context, ticketID, messageID string) error
}

// Reconciler holds the message list of the one open conversation and merges
// the REST baseline, local submissions and pushed messages into it, ordered by
// timestamp and free of duplicate ids.
//
// Load, SubmitLocal, Edit and Delete all end in a full replacement from the
// server; only pushed messages are merged incrementally.
type Reconciler struct {
	api      TicketAPI
	consumer *channel.Consumer
	sink     effects.Sink
	logger   *zap.Logger

	newID func() string
	now   func() time.Time

	mu       sync.Mutex
	ticketID string
	gen      uint64 // bumped whenever the open conversation changes
	messages []models.ChatMessage
}

func NewReconciler(api TicketAPI, reg *channel.Registry, sink effects.Sink, logger *zap.Logger) *Reconciler {
	r := &Reconciler{
		api:    api,
		sink:   sink,
		logger: logger,
		newID:  uuid.NewString,
		now:    time.Now,
	}
	r.consumer = reg.NewConsumer(r.handleEvent)
	return r
}

// Open switches to ticketID: joins its channel and loads the conversation.
func (r *Reconciler) Open(ctx context.Context, ticketID string) error {
	r.mu.Lock()
	r.ticketID = ticketID
	r.gen++
	r.messages = nil
	r.mu.Unlock()

	r.consumer.Watch(models.TicketChannel(ticketID))
	return r.Load(ctx)
}

// Load replaces the list with the server's conversation, discarding any
// local optimistic entries.
func (r *Reconciler) Load(ctx context.Context) error {
	ticketID, gen := r.current()
	if ticketID == "" {
		return ErrNoConversation
	}

	msgs, err := r.api.FetchConversation(ctx, ticketID)
	if err != nil {
		r.logger.Error("Conversation fetch failed", zap.String("ticket_id", ticketID), zap.Error(err))
		r.sink.Toast(effects.LevelError, "Could not load ticket conversation")
		return fmt.Errorf("load ticket %s: %w", ticketID, err)
	}
	r.replace(gen, msgs)
	return nil
}

// SubmitLocal shows the reply immediately under a pending id, posts it, and
// replaces the list with the server's snapshot once it confirms. A failed post
// removes the pending entry again.
func (r *Reconciler) SubmitLocal(ctx context.Context, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return ErrEmptyBody
	}

	r.mu.Lock()
	ticketID, gen := r.ticketID, r.gen
	if ticketID == "" {
		r.mu.Unlock()
		return ErrNoConversation
	}
	pending := models.ChatMessage{
		PendingID: r.newID(),
		TicketID:  ticketID,
		Sender:    models.RoleOperator,
		Body:      body,
		Timestamp: r.now(),
	}
	r.messages = append(r.messages, pending)
	r.mu.Unlock()
	r.sink.ScrollToBottom(ticketID)

	snapshot, err := r.api.PostReply(ctx, ticketID, body)
	if err != nil {
		r.mu.Lock()
		if r.gen == gen {
			r.messages = removePending(r.messages, pending.PendingID)
		}
		r.mu.Unlock()
		r.logger.Error("Reply failed", zap.String("ticket_id", ticketID), zap.Error(err))
		r.sink.Toast(effects.LevelError, "Reply could not be sent")
		return fmt.Errorf("reply to ticket %s: %w", ticketID, err)
	}

	r.replace(gen, snapshot)
	r.sink.Toast(effects.LevelSuccess, "Reply sent")
	return nil
}

// ApplyRemote merges a pushed message. Events for another conversation and
// messages whose id is already present are dropped, and a pending local copy
// of the same reply is replaced. It reports whether the list changed.
func (r *Reconciler) ApplyRemote(ev models.TicketMessageEvent) bool {
	msg := ev.Message
	if msg.ID == "" {
		return false
	}
	if msg.TicketID == "" {
		msg.TicketID = ev.TicketID
	}

	r.mu.Lock()
	if ev.TicketID == "" || ev.TicketID != r.ticketID {
		r.mu.Unlock()
		r.logger.Debug("Message for closed conversation ignored", zap.String("ticket_id", ev.TicketID))
		return false
	}
	for _, m := range r.messages {
		if m.ID == msg.ID {
			r.mu.Unlock()
			metrics.EventsDeduplicated.WithLabelValues(models.EventNewTicketMessage).Inc()
			r.logger.Debug("Duplicate message dropped", zap.String("message_id", msg.ID))
			return false
		}
	}

	// the push for our own reply can beat the REST response; it replaces
	// the oldest pending entry with the same body
	if msg.Sender == models.RoleOperator {
		for j, m := range r.messages {
			if m.Pending() && m.Body == msg.Body {
				r.messages = append(r.messages[:j], r.messages[j+1:]...)
				break
			}
		}
	}

	// insert after every message with an equal or earlier timestamp
	i := sort.Search(len(r.messages), func(i int) bool {
		return r.messages[i].Timestamp.After(msg.Timestamp)
	})
	r.messages = append(r.messages, models.ChatMessage{})
	copy(r.messages[i+1:], r.messages[i:])
	r.messages[i] = msg
	atTail := i == len(r.messages)-1
	ticketID := r.ticketID
	r.mu.Unlock()

	if atTail {
		r.sink.ScrollToBottom(ticketID)
	}
	return true
}

// Edit changes a message body on the server and reloads the conversation.
func (r *Reconciler) Edit(ctx context.Context, messageID, body string) error {
	ticketID, _ := r.current()
	if ticketID == "" {
		return ErrNoConversation
	}
	if err := r.api.EditMessage(ctx, ticketID, messageID, body); err != nil {
		r.logger.Error("Edit failed", zap.String("message_id", messageID), zap.Error(err))
		r.sink.Toast(effects.LevelError, "Message could not be edited")
		return fmt.Errorf("edit message %s: %w", messageID, err)
	}
	r.sink.Toast(effects.LevelSuccess, "Message updated")
	return r.Load(ctx)
}

// Delete removes a message on the server and reloads the conversation.
func (r *Reconciler) Delete(ctx context.Context, messageID string) error {
	ticketID, _ := r.current()
	if ticketID == "" {
		return ErrNoConversation
	}
	if err := r.api.DeleteMessage(ctx, ticketID, messageID); err != nil {
		r.logger.Error("Delete failed", zap.String("message_id", messageID), zap.Error(err))
		r.sink.Toast(effects.LevelError, "Message could not be deleted")
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	r.sink.Toast(effects.LevelSuccess, "Message deleted")
	return r.Load(ctx)
}

// Messages returns a copy of the current list.
func (r *Reconciler) Messages() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.messages...)
}

func (r *Reconciler) TicketID() string {
	id, _ := r.current()
	return id
}

// Close leaves the conversation channel and forgets the list.
func (r *Reconciler) Close() {
	r.consumer.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticketID = ""
	r.gen++
	r.messages = nil
}

func (r *Reconciler) current() (string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticketID, r.gen
}

// replace installs a server snapshot unless the conversation changed while
// the request was in flight.
func (r *Reconciler) replace(gen uint64, msgs []models.ChatMessage) {
	sorted := append([]models.ChatMessage(nil), msgs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		r.logger.Debug("Discarding stale conversation snapshot")
		return
	}
	tailChanged := tailKey(r.messages) != tailKey(sorted)
	r.messages = sorted
	ticketID := r.ticketID
	r.mu.Unlock()

	if tailChanged {
		r.sink.ScrollToBottom(ticketID)
	}
}

func (r *Reconciler) handleEvent(name string, ev models.Event) {
	if ev.Type != models.EventNewTicketMessage {
		return
	}
	var payload models.TicketMessageEvent
	if err := json.Unmarshal(ev.Data, &payload); err != nil || payload.Message.ID == "" {
		metrics.MalformedPayloads.WithLabelValues(ev.Type).Inc()
		r.logger.Warn("Discarding malformed ticket message", zap.String("channel", name), zap.Error(err))
		return
	}
	if payload.TicketID == "" {
		payload.TicketID = strings.TrimPrefix(name, models.TicketChannelPrefix)
	}
	r.ApplyRemote(payload)
}

func tailKey(msgs []models.ChatMessage) string {
	if len(msgs) == 0 {
		return ""
	}
	last := msgs[len(msgs)-1]
	return last.ID + "|" + last.PendingID + "|" + last.Body
}

func removePending(msgs []models.ChatMessage, pendingID string) []models.ChatMessage {
	out := msgs[:0]
	for _, m := range msgs {
		if m.PendingID != pendingID {
			out = append(out, m)
		}
	}
	return out
}
