package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/processor/internal/processor"
	"github.com/BlackOSSoftware/mspk-console/cmd/processor/internal/testutils"
	"github.com/BlackOSSoftware/mspk-console/pkg/config"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

func TestProcessor_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	data, _ := json.Marshal(models.Tick{Symbol: "BANKNIFTY", Price: 48123.5, SeqID: 100})
	ev := models.Event{Type: models.EventTick, Channel: "BANKNIFTY", SeqID: 100, Data: data}
	val, _ := json.Marshal(ev)

	msgs := []kafka.Message{
		{Key: []byte("BANKNIFTY"), Value: val},
	}
	// Use Mock Reader because spinning up real Kafka is heavy/complex for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}

	cfg := &config.Config{}
	cfg.Processor.NumWorkers = 1
	cfg.Processor.SnapshotTTL = time.Minute

	proc := processor.NewProcessor(cfg, zap.NewNop(), rdb, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		proc.Run(ctx)
		close(done)
	}()

	// Poll until the key appears (since processor is async)
	success := false
	for i := 0; i < 10; i++ {
		if mr.Exists("snapshot:BANKNIFTY") {
			success = true
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if !success {
		t.Fatal("Processor did not write snapshot:BANKNIFTY to Redis")
	}

	savedVal, _ := mr.Get("snapshot:BANKNIFTY")
	if savedVal != string(val) {
		t.Errorf("Redis value mismatch.\nGot:  %s\nWant: %s", savedVal, string(val))
	}
	if ttl := mr.TTL("snapshot:BANKNIFTY"); ttl != time.Minute {
		t.Errorf("Expected snapshot TTL of 1m, got %s", ttl)
	}

	cancel()
	<-done
}
