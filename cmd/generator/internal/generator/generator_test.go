package generator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/generator/internal/generator"
	"github.com/BlackOSSoftware/mspk-console/cmd/generator/internal/testutils"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

func TestGenerator_Logic(t *testing.T) {
	logger := zap.NewNop()
	mockWriter := &testutils.MockKafkaWriter{}

	// Fix Randomness: Always pick Index 0 (NIFTY), Always return 0.5 -> zero step
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.5}

	// Fix Time: Start at Epoch
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	universe := generator.Universe{Instruments: []generator.Instrument{
		{Symbol: "NIFTY", Category: "index", PrevClose: 100.0, Volatility: 0.01},
	}}

	gen := generator.NewTickGenerator(logger, mockWriter, universe, 100*time.Millisecond, mockRand, mockClock)

	// Since MockClock.Sleep advances time instantly, we cancel quickly
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	if len(mockWriter.Messages) == 0 {
		t.Fatal("Expected messages to be generated")
	}

	var ev models.Event
	if err := json.Unmarshal(mockWriter.Messages[0].Value, &ev); err != nil {
		t.Fatalf("Generated invalid JSON: %v", err)
	}
	if ev.Type != models.EventTick || ev.Channel != "NIFTY" {
		t.Errorf("Expected NIFTY tick envelope, got %s/%s", ev.Type, ev.Channel)
	}
	if string(mockWriter.Messages[0].Key) != "NIFTY" {
		t.Errorf("Message should be keyed by channel, got %s", mockWriter.Messages[0].Key)
	}

	var tick models.Tick
	if err := json.Unmarshal(ev.Data, &tick); err != nil {
		t.Fatalf("Tick payload invalid: %v", err)
	}
	if tick.SeqID != 1 || ev.SeqID != 1 {
		t.Errorf("Expected SeqID 1, got %d/%d", tick.SeqID, ev.SeqID)
	}
	// (0.5 * 2) - 1 = 0 step, so the price stays at the previous close
	if tick.Price != 100.0 {
		t.Errorf("Expected Price 100.0, got %f", tick.Price)
	}
	if tick.ChangePercent == nil || *tick.ChangePercent != 0 {
		t.Errorf("Expected 0%% change, got %v", tick.ChangePercent)
	}
}

func TestGenerator_TicketChatter(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{}
	universe := generator.Universe{
		Instruments: []generator.Instrument{{Symbol: "EURUSD", PrevClose: 1.08, Volatility: 0.0001}},
		Tickets:     []string{"42"},
		TicketEvery: 2,
	}
	gen := generator.NewTickGenerator(zap.NewNop(), mockWriter, universe, time.Millisecond,
		&testutils.MockRand{ValInt: 0, ValFloat: 0.9}, &testutils.MockClock{CurrentTime: time.Unix(0, 0)})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	gen.Run(ctx)

	mockWriter.Mu.Lock()
	defer mockWriter.Mu.Unlock()

	var ticks, messages int
	for _, m := range mockWriter.Messages {
		var ev models.Event
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			t.Fatalf("Generated invalid JSON: %v", err)
		}
		switch ev.Type {
		case models.EventTick:
			ticks++
		case models.EventNewTicketMessage:
			messages++
			if ev.Channel != "ticket_42" {
				t.Errorf("Ticket message on wrong channel %s", ev.Channel)
			}
		}
	}
	if ticks < 2 || messages == 0 {
		t.Errorf("Expected interleaved ticks and ticket messages, got %d/%d", ticks, messages)
	}
}

func TestParseUniverse(t *testing.T) {
	u, err := generator.ParseUniverse([]byte(`
instruments:
  - symbol: nifty
    category: index
    prev_close: 22500
    volatility: 0.0005
  - symbol: EURUSD
    category: forex
    prev_close: 1.082
tickets: ["42"]
ticket_every: 50
`))
	if err != nil {
		t.Fatalf("ParseUniverse failed: %v", err)
	}
	if got := u.Symbols(); len(got) != 2 || got[0] != "NIFTY" {
		t.Errorf("Unexpected symbols %v", got)
	}
	if u.TicketEvery != 50 || len(u.Tickets) != 1 {
		t.Errorf("Ticket settings not parsed: %+v", u)
	}

	bad := []string{
		`instruments: [{symbol: "", prev_close: 1}]`,
		`instruments: [{symbol: A, prev_close: 0}]`,
		`instruments: [{symbol: A, prev_close: 1}, {symbol: a, prev_close: 2}]`,
		`instruments: {`,
	}
	for _, doc := range bad {
		if _, err := generator.ParseUniverse([]byte(doc)); err == nil {
			t.Errorf("Expected error for %q", doc)
		}
	}
}

func TestTopicCreator_Flow(t *testing.T) {
	logger := zap.NewNop()
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	mockClock := &testutils.MockClock{}

	tc := generator.NewTopicCreator(logger, mockDialer, mockClock, 6)

	tc.Create([]string{"broker:9092"}, "console_events")

	if mockDialer.ConnSpy == nil {
		t.Fatal("Dialer was never called")
	}
	if len(mockDialer.ConnSpy.CreatedTopics) == 0 {
		t.Fatal("No topics created")
	}
	if mockDialer.ConnSpy.CreatedTopics[0] != "console_events" {
		t.Errorf("Expected topic 'console_events', got %s", mockDialer.ConnSpy.CreatedTopics[0])
	}
	if mockDialer.ConnSpy.Partitions[0] != 6 {
		t.Errorf("Expected 6 partitions, got %d", mockDialer.ConnSpy.Partitions[0])
	}
}
