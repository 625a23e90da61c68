package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
)

// DefaultKey is the storage key holding the session marker.
const DefaultKey = "session_id"

// Change is a storage-change notification written by another process.
type Change struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
	Origin   string `json:"origin,omitempty"`
}

// MarkerStore reads the current session marker.
type MarkerStore interface {
	Get(ctx context.Context) (string, error)
}

// ChangeSource delivers marker changes made by other processes.
type ChangeSource interface {
	Changes(ctx context.Context) (<-chan Change, error)
}

// Guard forces a logout when another process overwrites the session marker.
// It only compares values; it never writes the marker itself.
type Guard struct {
	store  MarkerStore
	key    string
	sink   effects.Sink
	logger *zap.Logger

	mu       sync.Mutex
	baseline string
}

func NewGuard(store MarkerStore, key string, sink effects.Sink, logger *zap.Logger) *Guard {
	if key == "" {
		key = DefaultKey
	}
	return &Guard{store: store, key: key, sink: sink, logger: logger}
}

// Start captures the current marker as the comparison baseline.
func (g *Guard) Start(ctx context.Context) error {
	v, err := g.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("read session marker: %w", err)
	}
	g.mu.Lock()
	g.baseline = v
	g.mu.Unlock()
	g.logger.Debug("Session baseline captured", zap.Bool("present", v != ""))
	return nil
}

// Observe checks one change notification and reports whether it forced a
// logout. The baseline always moves to the observed value, so the same change
// seen twice logs out at most once.
func (g *Guard) Observe(c Change) bool {
	if c.Key != g.key {
		return false
	}

	g.mu.Lock()
	invalidated := c.NewValue != "" && c.NewValue != g.baseline
	g.baseline = c.NewValue
	g.mu.Unlock()

	if invalidated {
		g.logger.Warn("Session marker replaced by another client")
		g.sink.ForceLogout("session replaced by another login")
	}
	return invalidated
}

// Attach subscribes to src, captures the baseline and observes changes in the
// background until ctx is cancelled. The subscription is opened before the
// baseline is read so a login landing between the two is still delivered.
func (g *Guard) Attach(ctx context.Context, src ChangeSource) error {
	feed, err := src.Changes(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to session changes: %w", err)
	}
	if err := g.Start(ctx); err != nil {
		return err
	}
	go g.Run(ctx, feed)
	return nil
}

// Run observes feed until ctx is cancelled or the feed closes.
func (g *Guard) Run(ctx context.Context, feed <-chan Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-feed:
			if !ok {
				return
			}
			g.Observe(c)
		}
	}
}

func (g *Guard) Baseline() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.baseline
}
