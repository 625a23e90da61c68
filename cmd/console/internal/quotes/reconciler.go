package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/effects"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// WatchlistAPI fetches the authoritative instrument list.
type WatchlistAPI interface {
	FetchWatchlist(ctx context.Context, symbols []string) ([]models.Instrument, error)
}

// Reconciler keeps a list of quotes in sync with the tick stream.
//
// Ticks carry no ordering token, so two ticks for the same symbol are applied
// last-write-wins in arrival order.
type Reconciler struct {
	api      WatchlistAPI
	consumer *channel.Consumer
	sink     effects.Sink
	logger   *zap.Logger

	mu     sync.RWMutex
	order  []string
	quotes map[string]*Quote
}

func NewReconciler(api WatchlistAPI, reg *channel.Registry, sink effects.Sink, logger *zap.Logger) *Reconciler {
	r := &Reconciler{
		api:    api,
		sink:   sink,
		logger: logger,
		quotes: make(map[string]*Quote),
	}
	r.consumer = reg.NewConsumer(r.handleEvent)
	return r
}

// Load replaces the quote list with a fresh REST baseline and watches the
// loaded symbols. On failure the previous list is kept.
func (r *Reconciler) Load(ctx context.Context, symbols []string) error {
	symbols = normalize(symbols)
	instruments, err := r.api.FetchWatchlist(ctx, symbols)
	if err != nil {
		r.logger.Error("Watchlist fetch failed", zap.Strings("symbols", symbols), zap.Error(err))
		r.sink.Toast(effects.LevelError, "Could not load market watch")
		return fmt.Errorf("load watchlist: %w", err)
	}

	order := make([]string, 0, len(instruments))
	quotes := make(map[string]*Quote, len(instruments))
	for _, in := range instruments {
		// ticks are published under the normalized symbol
		in.Symbol = models.NormalizeChannel(in.Symbol)
		if in.Symbol == "" || quotes[in.Symbol] != nil {
			continue
		}
		// Without a prior close the price is its own reference, so the first paint shows 0.00%.
		prev := in.LastPrice
		if in.PrevClose != nil {
			prev = *in.PrevClose
		}
		quotes[in.Symbol] = &Quote{
			Symbol:        in.Symbol,
			Name:          in.Name,
			Category:      in.Category,
			Price:         in.LastPrice,
			PrevClose:     prev,
			ChangePercent: changePercent(in.LastPrice, prev, nil),
		}
		order = append(order, in.Symbol)
	}

	r.mu.Lock()
	r.order = order
	r.quotes = quotes
	r.mu.Unlock()

	r.consumer.Watch(order...)
	r.logger.Info("Watchlist loaded", zap.Int("instruments", len(order)))
	return nil
}

// ApplyTick projects a tick onto the matching quote. Ticks for symbols that
// are not loaded are ignored. It reports whether a quote changed.
func (r *Reconciler) ApplyTick(t models.Tick) bool {
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	q, ok := r.quotes[models.NormalizeChannel(t.Symbol)]
	if !ok {
		return false
	}
	q.Price = t.Price
	q.ChangePercent = changePercent(t.Price, q.PrevClose, t.ChangePercent)
	return true
}

// Quotes returns a copy of the list in load order.
func (r *Reconciler) Quotes() []Quote {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Quote, 0, len(r.order))
	for _, sym := range r.order {
		out = append(out, *r.quotes[sym])
	}
	return out
}

func (r *Reconciler) Quote(symbol string) (Quote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.quotes[models.NormalizeChannel(symbol)]
	if !ok {
		return Quote{}, false
	}
	return *q, true
}

// Close leaves the quote channels.
func (r *Reconciler) Close() {
	r.consumer.Close()
}

func (r *Reconciler) handleEvent(name string, ev models.Event) {
	if ev.Type != models.EventTick {
		return
	}
	var t models.Tick
	if err := json.Unmarshal(ev.Data, &t); err != nil || t.Symbol == "" {
		metrics.MalformedPayloads.WithLabelValues(ev.Type).Inc()
		r.logger.Warn("Discarding malformed tick", zap.String("channel", name), zap.Error(err))
		return
	}
	if !r.ApplyTick(t) {
		r.logger.Debug("Tick for unknown symbol ignored", zap.String("symbol", t.Symbol))
	}
}

func normalize(symbols []string) []string {
	if len(symbols) == 0 {
		return symbols
	}
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = models.NormalizeChannel(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
