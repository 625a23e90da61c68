package generator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// Clock is swapped for a fake in tests so Run never really sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Rand drives the random walk and the ticket chatter.
type Rand interface {
	Intn(n int) int
	Float64() float64
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

type RealRand struct{ *rand.Rand }

func (r RealRand) Intn(n int) int   { return r.Rand.Intn(n) }
func (r RealRand) Float64() float64 { return r.Rand.Float64() }

// TickGenerator random-walks the universe and writes each step to Kafka as
// an event envelope keyed by channel.
type TickGenerator struct {
	logger   *zap.Logger
	writer   KafkaWriter
	universe Universe
	interval time.Duration
	rand     Rand
	clock    Clock

	prices      map[string]float64
	seqCounters map[string]int64
	ticks       int
	nextMsgID   int64
}

func NewTickGenerator(
	logger *zap.Logger,
	writer KafkaWriter,
	universe Universe,
	interval time.Duration,
	rnd Rand,
	clock Clock,
) *TickGenerator {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	prices := make(map[string]float64, len(universe.Instruments))
	for _, in := range universe.Instruments {
		prices[in.Symbol] = in.PrevClose
	}
	return &TickGenerator{
		logger:      logger,
		writer:      writer,
		universe:    universe,
		interval:    interval,
		rand:        rnd,
		clock:       clock,
		prices:      prices,
		seqCounters: make(map[string]int64),
	}
}

func (g *TickGenerator) Run(ctx context.Context) {
	g.logger.Info("Generator Started", zap.Strings("symbols", g.universe.Symbols()))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if len(g.universe.Instruments) == 0 {
				g.clock.Sleep(1 * time.Second)
				continue
			}

			ev := g.nextTick()
			g.write(ctx, ev)

			g.ticks++
			if every := g.universe.TicketEvery; every > 0 && len(g.universe.Tickets) > 0 && g.ticks%every == 0 {
				g.write(ctx, g.nextTicketMessage())
			}

			g.clock.Sleep(g.interval)
		}
	}
}

func (g *TickGenerator) nextTick() models.Event {
	in := g.universe.Instruments[g.rand.Intn(len(g.universe.Instruments))]

	// step in [-volatility, +volatility) of the current price
	step := (g.rand.Float64()*2 - 1) * in.Volatility
	price := g.prices[in.Symbol] * (1 + step)
	g.prices[in.Symbol] = price

	change := (price - in.PrevClose) / in.PrevClose * 100
	change = math.Round(change*10000) / 10000
	g.seqCounters[in.Symbol]++
	seq := g.seqCounters[in.Symbol]

	data, _ := json.Marshal(models.Tick{
		Symbol:        in.Symbol,
		Price:         price,
		ChangePercent: &change,
		Timestamp:     g.clock.Now().UnixMicro(),
		SeqID:         seq,
	})
	return models.Event{Type: models.EventTick, Channel: in.Symbol, SeqID: seq, Data: data}
}

func (g *TickGenerator) nextTicketMessage() models.Event {
	ticketID := g.universe.Tickets[g.rand.Intn(len(g.universe.Tickets))]
	g.nextMsgID++
	channel := models.TicketChannel(ticketID)

	data, _ := json.Marshal(models.TicketMessageEvent{
		TicketID: ticketID,
		Message: models.ChatMessage{
			ID:        "sim-" + strconv.FormatInt(g.nextMsgID, 10),
			TicketID:  ticketID,
			Sender:    models.RoleRequester,
			Body:      "Any update on this?",
			Timestamp: g.clock.Now().UTC(),
		},
	})
	return models.Event{Type: models.EventNewTicketMessage, Channel: channel, Data: data}
}

func (g *TickGenerator) write(ctx context.Context, ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	err = g.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Channel), // Key ensures partition ordering
		Value: payload,
	})
	if err != nil {
		g.logger.Error("Kafka Write Error", zap.Error(err))
		return
	}
	g.logger.Debug("Sent event", zap.String("channel", ev.Channel), zap.String("type", ev.Type))
}
