package channel

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// ErrNotReady is returned by a Transport that has no live connection.
var ErrNotReady = errors.New("event connection not ready")

// Transport sends join/leave frames on the shared event connection.
type Transport interface {
	Join(name string) error
	Leave(name string) error
}

// Handler receives events for a watched channel. It runs on the dispatch
// goroutine and must not block.
type Handler func(name string, ev models.Event)

// Registry owns the join/leave lifecycle of named channels on one shared
// connection. Joins are reference counted across consumers: the wire
// subscribe goes out when the first consumer watches a name and the
// unsubscribe when the last one stops.
type Registry struct {
	transport Transport
	logger    *zap.Logger

	mu       sync.Mutex
	watchers map[string]map[*Consumer]bool
	refCount map[string]int
	live     map[string]bool // join issued on a ready connection
	ready    bool
	closed   bool
}

func NewRegistry(transport Transport, logger *zap.Logger) *Registry {
	return &Registry{
		transport: transport,
		logger:    logger,
		watchers:  make(map[string]map[*Consumer]bool),
		refCount:  make(map[string]int),
		live:      make(map[string]bool),
	}
}

// Consumer is one view's interest in a set of channels.
type Consumer struct {
	reg     *Registry
	handler Handler
	names   map[string]bool // guarded by reg.mu
	closed  bool            // guarded by reg.mu
}

// NewConsumer registers a handler. The consumer watches nothing until Watch is called.
func (r *Registry) NewConsumer(h Handler) *Consumer {
	return &Consumer{reg: r, handler: h, names: make(map[string]bool)}
}

// Watch replaces the consumer's channel set. Names no longer wanted are left,
// new ones joined, and names already joined are untouched.
func (c *Consumer) Watch(names ...string) {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed || r.closed {
		r.logger.Debug("Watch on closed consumer ignored", zap.Strings("channels", names))
		return
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			want[n] = true
		}
	}

	for name := range c.names {
		if !want[name] {
			delete(c.names, name)
			r.removeWatcher(name, c)
		}
	}
	for name := range want {
		if !c.names[name] {
			c.names[name] = true
			r.addWatcher(name, c)
		}
	}
}

// Names returns the consumer's current channel set, sorted.
func (c *Consumer) Names() []string {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Close leaves every channel of this consumer. Channels shared with other
// consumers stay joined. Calling Close more than once is safe.
func (c *Consumer) Close() {
	r := c.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for name := range c.names {
		r.removeWatcher(name, c)
	}
	c.names = make(map[string]bool)
}

// Dispatch routes an event to the consumers watching name. Events for names
// without a live join are dropped, never queued.
func (r *Registry) Dispatch(name string, ev models.Event) {
	r.mu.Lock()
	if r.closed || !r.live[name] {
		r.mu.Unlock()
		metrics.EventsDropped.WithLabelValues(ev.Type).Inc()
		r.logger.Debug("Dropping event without watcher", zap.String("channel", name), zap.String("type", ev.Type))
		return
	}
	handlers := make([]Handler, 0, len(r.watchers[name]))
	for c := range r.watchers[name] {
		handlers = append(handlers, c.handler)
	}
	r.mu.Unlock()

	metrics.EventsDispatched.WithLabelValues(ev.Type).Inc()
	for _, h := range handlers {
		r.deliver(h, name, ev)
	}
}

// deliver isolates one handler so a failure never stops delivery to the rest.
func (r *Registry) deliver(h Handler, name string, ev models.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Event handler panicked", zap.String("channel", name), zap.String("type", ev.Type), zap.Any("panic", p))
		}
	}()
	h(name, ev)
}

// SetReady records the connection state. Going ready replays a join for every
// name that still has watchers; going down marks every join as pending.
func (r *Registry) SetReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready = ready
	if !ready {
		r.live = make(map[string]bool)
		return
	}
	if r.closed {
		return
	}
	for name := range r.refCount {
		if !r.live[name] {
			r.join(name)
		}
	}
}

// Reject records that the gateway refused a join. The name stops counting as
// joined but keeps its watchers; the next reconnect retries it.
func (r *Registry) Reject(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.live[name] {
		return
	}
	delete(r.live, name)
	metrics.ChannelRejections.Inc()
	r.logger.Warn("Gateway rejected channel", zap.String("channel", name), zap.Int("watchers", r.refCount[name]))
}

// Joined returns the names with a live join, sorted.
func (r *Registry) Joined() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.live))
	for n := range r.live {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// RefCount returns how many consumers watch name.
func (r *Registry) RefCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refCount[name]
}

// Close leaves every joined channel and stops dispatch.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for name := range r.live {
		r.leave(name)
	}
	r.live = make(map[string]bool)
	r.refCount = make(map[string]int)
	r.watchers = make(map[string]map[*Consumer]bool)
}

func (r *Registry) addWatcher(name string, c *Consumer) {
	if r.watchers[name] == nil {
		r.watchers[name] = make(map[*Consumer]bool)
	}
	r.watchers[name][c] = true

	r.refCount[name]++
	if r.refCount[name] == 1 {
		r.join(name)
	}
}

func (r *Registry) removeWatcher(name string, c *Consumer) {
	delete(r.watchers[name], c)

	r.refCount[name]--
	if r.refCount[name] > 0 {
		return
	}
	delete(r.refCount, name)
	delete(r.watchers, name)
	if r.live[name] {
		delete(r.live, name)
		r.leave(name)
	}
}

// join is a no-op while the connection is down; SetReady(true) replays it.
func (r *Registry) join(name string) {
	if !r.ready {
		r.logger.Debug("Join deferred until connection is ready", zap.String("channel", name))
		return
	}
	if err := r.transport.Join(name); err != nil {
		r.logger.Warn("Join failed, will replay on reconnect", zap.String("channel", name), zap.Error(err))
		return
	}
	r.live[name] = true
	metrics.ChannelJoins.Inc()
}

func (r *Registry) leave(name string) {
	if !r.ready {
		return
	}
	if err := r.transport.Leave(name); err != nil {
		r.logger.Warn("Leave failed", zap.String("channel", name), zap.Error(err))
		return
	}
	metrics.ChannelLeaves.Inc()
}
