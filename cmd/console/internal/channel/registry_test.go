package channel_test

import (
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/channel"
	"github.com/BlackOSSoftware/mspk-console/cmd/console/internal/testutils"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

func setup() (*channel.Registry, *testutils.MockTransport) {
	transport := &testutils.MockTransport{}
	reg := channel.NewRegistry(transport, zap.NewNop())
	reg.SetReady(true)
	return reg, transport
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) handle(name string, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRegistry_Watch_JoinsAndLeavesDifference(t *testing.T) {
	reg, transport := setup()
	c := reg.NewConsumer(func(string, models.Event) {})

	c.Watch("NIFTY", "EURUSD")
	c.Watch("EURUSD", "BTCUSD")

	if transport.JoinCount("NIFTY") != 1 || transport.JoinCount("EURUSD") != 1 || transport.JoinCount("BTCUSD") != 1 {
		t.Errorf("Expected one join per name, got %v", transport.Joins)
	}
	if transport.LeaveCount("NIFTY") != 1 {
		t.Errorf("Expected NIFTY to be left, got %v", transport.Leaves)
	}
	if transport.LeaveCount("EURUSD") != 0 {
		t.Errorf("EURUSD is still watched and must not be left")
	}
}

func TestRegistry_Watch_Idempotent(t *testing.T) {
	reg, transport := setup()
	c := reg.NewConsumer(func(string, models.Event) {})

	c.Watch("NIFTY")
	c.Watch("NIFTY")
	c.Watch("NIFTY", "NIFTY")

	if transport.JoinCount("NIFTY") != 1 {
		t.Errorf("Expected a single join, got %d", transport.JoinCount("NIFTY"))
	}
}

func TestRegistry_SharedChannelRefCounted(t *testing.T) {
	reg, transport := setup()
	a := reg.NewConsumer(func(string, models.Event) {})
	b := reg.NewConsumer(func(string, models.Event) {})

	a.Watch("ticket_7")
	b.Watch("ticket_7")

	if transport.JoinCount("ticket_7") != 1 {
		t.Errorf("Shared channel should be joined once, got %d", transport.JoinCount("ticket_7"))
	}
	if reg.RefCount("ticket_7") != 2 {
		t.Errorf("Expected refcount 2, got %d", reg.RefCount("ticket_7"))
	}

	a.Close()
	if transport.LeaveCount("ticket_7") != 0 {
		t.Errorf("Channel left while another consumer still watches it")
	}

	b.Close()
	if transport.LeaveCount("ticket_7") != 1 {
		t.Errorf("Channel should be left after the last consumer closes")
	}
}

func TestRegistry_Dispatch_ExactMatchOnly(t *testing.T) {
	reg, _ := setup()
	rec := &recorder{}
	c := reg.NewConsumer(rec.handle)
	c.Watch("NIFTY")

	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	reg.Dispatch("nifty", testutils.TickEvent("nifty", 1))
	reg.Dispatch("BANKNIFTY", testutils.TickEvent("BANKNIFTY", 1))

	if rec.count() != 1 {
		t.Errorf("Expected exactly one delivered event, got %d", rec.count())
	}
}

func TestRegistry_Dispatch_DroppedAfterClose(t *testing.T) {
	reg, _ := setup()
	rec := &recorder{}
	c := reg.NewConsumer(rec.handle)
	c.Watch("NIFTY")
	c.Close()
	c.Close()

	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	if rec.count() != 0 {
		t.Errorf("Event delivered to closed consumer")
	}

	c.Watch("NIFTY")
	if len(c.Names()) != 0 {
		t.Errorf("Closed consumer should not watch again")
	}
}

func TestRegistry_NotReady_DefersAndReplays(t *testing.T) {
	transport := &testutils.MockTransport{}
	reg := channel.NewRegistry(transport, zap.NewNop())
	rec := &recorder{}
	c := reg.NewConsumer(rec.handle)

	c.Watch("NIFTY", "ticket_3")
	if len(transport.Joins) != 0 {
		t.Errorf("Join must be a no-op before the connection is ready")
	}

	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	if rec.count() != 0 {
		t.Errorf("No event may be delivered before a successful join")
	}

	reg.SetReady(true)
	if transport.JoinCount("NIFTY") != 1 || transport.JoinCount("ticket_3") != 1 {
		t.Errorf("Joins should be replayed once ready, got %v", transport.Joins)
	}

	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	if rec.count() != 1 {
		t.Errorf("Expected delivery after join")
	}
}

func TestRegistry_Reconnect_ReplaysCurrentSetOnly(t *testing.T) {
	reg, transport := setup()
	c := reg.NewConsumer(func(string, models.Event) {})
	c.Watch("NIFTY", "EURUSD")

	reg.SetReady(false)
	c.Watch("EURUSD")
	if transport.LeaveCount("NIFTY") != 0 {
		t.Errorf("Leave must not be written while disconnected")
	}

	reg.SetReady(true)
	if transport.JoinCount("EURUSD") != 2 {
		t.Errorf("EURUSD should be re-joined on reconnect, got %d", transport.JoinCount("EURUSD"))
	}
	if transport.JoinCount("NIFTY") != 1 {
		t.Errorf("NIFTY was unwatched while down and must not be replayed")
	}
}

func TestRegistry_FailedJoinStaysPending(t *testing.T) {
	reg, transport := setup()
	rec := &recorder{}
	c := reg.NewConsumer(rec.handle)

	transport.Down = true
	c.Watch("NIFTY")
	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	if rec.count() != 0 {
		t.Errorf("Event delivered without a successful join")
	}

	transport.Down = false
	reg.SetReady(true)
	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	if rec.count() != 1 {
		t.Errorf("Expected delivery after the replayed join")
	}
}

func TestRegistry_RejectedJoinIsNotLive(t *testing.T) {
	reg, transport := setup()
	rec := &recorder{}
	c := reg.NewConsumer(rec.handle)
	c.Watch("NIFTY", "BOGUS")

	reg.Reject("BOGUS")
	reg.Reject("UNKNOWN")
	if got := reg.Joined(); len(got) != 1 || got[0] != "NIFTY" {
		t.Errorf("Expected only NIFTY joined, got %v", got)
	}
	if reg.RefCount("BOGUS") != 1 {
		t.Errorf("Rejected channel should keep its watcher")
	}

	c.Watch("NIFTY")
	if transport.LeaveCount("BOGUS") != 0 {
		t.Errorf("No leave should be sent for a rejected channel")
	}

	reg.SetReady(false)
	c.Watch("NIFTY", "BOGUS")
	reg.SetReady(true)
	if transport.JoinCount("BOGUS") != 2 {
		t.Errorf("Rejected channel should be retried on reconnect, got %d joins", transport.JoinCount("BOGUS"))
	}
}

func TestRegistry_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	reg, _ := setup()
	rec := &recorder{}
	bad := reg.NewConsumer(func(string, models.Event) { panic("malformed") })
	good := reg.NewConsumer(rec.handle)
	bad.Watch("NIFTY")
	good.Watch("NIFTY")

	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1))
	reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 2))

	if rec.count() != 2 {
		t.Errorf("Healthy consumer should receive both events, got %d", rec.count())
	}
}

func TestRegistry_Close_LeavesEverything(t *testing.T) {
	reg, transport := setup()
	a := reg.NewConsumer(func(string, models.Event) {})
	a.Watch("NIFTY", "ticket_1")

	reg.Close()

	if transport.LeaveCount("NIFTY") != 1 || transport.LeaveCount("ticket_1") != 1 {
		t.Errorf("Registry close should leave all joined channels, got %v", transport.Leaves)
	}
	if len(reg.Joined()) != 0 {
		t.Errorf("No channel should remain joined")
	}
}

func TestRegistry_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	reg, _ := setup()
	c := reg.NewConsumer(func(string, models.Event) {})

	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); c.Watch("NIFTY") }()
	go func() { defer wg.Done(); c.Watch("EURUSD") }()
	go func() { defer wg.Done(); reg.Dispatch("NIFTY", testutils.TickEvent("NIFTY", 1)) }()
	go func() { defer wg.Done(); reg.SetReady(true) }()
	wg.Wait()
	c.Close()
}
