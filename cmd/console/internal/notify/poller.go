package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

const DefaultInterval = 30 * time.Second

// NotificationAPI is the REST surface of the notification list.
type NotificationAPI interface {
	FetchNotifications(ctx context.Context) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
}

// Poller refreshes the notification list on a fixed interval while a session
// is active. Each poll replaces the list wholesale.
type Poller struct {
	api      NotificationAPI
	sink     effects.Sink
	logger   *zap.Logger
	interval time.Duration
	active   func() bool

	mu       sync.Mutex
	items    []models.Notification
	baseline uint64 // bumped by every applied poll and confirmed mark-all
	issued   uint64 // last poll request number handed out
	applied  uint64 // request number of the poll currently shown

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a poller. active reports whether a user session exists; a nil
// active always polls.
func New(api NotificationAPI, sink effects.Sink, logger *zap.Logger, interval time.Duration, active func() bool) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if active == nil {
		active = func() bool { return true }
	}
	return &Poller{
		api:      api,
		sink:     sink,
		logger:   logger,
		interval: interval,
		active:   active,
	}
}

// Start polls once immediately and then every interval until Stop is called
// or ctx is cancelled. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop cancels the periodic task and waits for an in-flight poll to return.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.active() {
		p.logger.Debug("No active session, skipping notification poll")
		return
	}
	// failures are already surfaced; the next tick retries
	_ = p.Poll(ctx)
}

// Poll fetches the list and replaces the local one. A response older than
// the one already shown is discarded. On failure the last list is kept.
func (p *Poller) Poll(ctx context.Context) error {
	p.mu.Lock()
	p.issued++
	req := p.issued
	p.mu.Unlock()

	items, err := p.api.FetchNotifications(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.logger.Error("Notification poll failed", zap.Error(err))
		p.sink.Toast(effects.LevelError, "Could not refresh notifications")
		return fmt.Errorf("poll notifications: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if req < p.applied {
		p.logger.Debug("Discarding out-of-order notification poll")
		return nil
	}
	p.items = append([]models.Notification(nil), items...)
	p.applied = req
	p.baseline++
	return nil
}

// Items returns a copy of the current list.
func (p *Poller) Items() []models.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Notification(nil), p.items...)
}

// Unread is the number of items not yet read.
func (p *Poller) Unread() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return countUnread(p.items)
}

// MarkRead flips one notification to read immediately and confirms it with
// the server. If the server rejects it the flip is reverted.
func (p *Poller) MarkRead(ctx context.Context, id string) error {
	flipped, baseline := p.markLocal(func(n models.Notification) bool { return n.ID == id })
	if len(flipped) == 0 {
		return nil
	}

	if err := p.api.MarkNotificationRead(ctx, id); err != nil {
		p.rollback(baseline, flipped)
		p.logger.Error("Mark read failed", zap.String("notification_id", id), zap.Error(err))
		p.sink.Toast(effects.LevelError, "Could not mark notification as read")
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

// MarkAllRead flips every unread notification and confirms with the server,
// reverting on failure.
func (p *Poller) MarkAllRead(ctx context.Context) error {
	flipped, baseline := p.markLocal(func(models.Notification) bool { return true })
	if len(flipped) == 0 {
		return nil
	}

	if err := p.api.MarkAllNotificationsRead(ctx); err != nil {
		p.rollback(baseline, flipped)
		p.logger.Error("Mark all read failed", zap.Error(err))
		p.sink.Toast(effects.LevelError, "Could not mark notifications as read")
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	// the server now has every item read, so earlier in-flight marks must not revert
	p.mu.Lock()
	p.baseline++
	p.mu.Unlock()
	p.sink.Toast(effects.LevelSuccess, "All notifications marked as read")
	return nil
}

// markLocal sets Read on every unread item matching fn and returns the ids it
// changed along with the baseline they belong to.
func (p *Poller) markLocal(fn func(models.Notification) bool) ([]string, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var flipped []string
	for i := range p.items {
		if !p.items[i].Read && fn(p.items[i]) {
			p.items[i].Read = true
			flipped = append(flipped, p.items[i].ID)
		}
	}
	return flipped, p.baseline
}

// rollback marks the given ids unread again, unless a newer poll or a
// confirmed mark-all has superseded the list the optimistic change was
// applied to.
func (p *Poller) rollback(baseline uint64, ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.baseline != baseline {
		p.logger.Debug("List replaced since optimistic update, skipping rollback")
		return
	}
	revert := make(map[string]bool, len(ids))
	for _, id := range ids {
		revert[id] = true
	}
	for i := range p.items {
		if revert[p.items[i].ID] {
			p.items[i].Read = false
		}
	}
	metrics.Rollbacks.Inc()
}

func countUnread(items []models.Notification) int {
	n := 0
	for _, it := range items {
		if !it.Read {
			n++
		}
	}
	return n
}
