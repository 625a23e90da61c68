package processor

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/pkg/config"
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
	"github.com/BlackOSSoftware/mspk-console/pkg/protocol"
)

const defaultSnapshotTTL = time.Hour

// KafkaReader is the event topic consumer; *kafka.Reader in production.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// RedisClient is where relayed events land. Each batch goes through one pipeline.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Pipeline() redis.Pipeliner
	Close() error
}

// Processor relays events from Kafka to Redis. Each event is published on its
// channel; tick events also refresh the channel's snapshot.
type Processor struct {
	cfg         *config.Config
	logger      *zap.Logger
	rdb         RedisClient
	reader      KafkaReader
	numWorkers  int
	snapshotTTL time.Duration
}

func NewProcessor(cfg *config.Config, logger *zap.Logger, rdb RedisClient, reader KafkaReader) *Processor {
	workers := cfg.Processor.NumWorkers
	if workers <= 0 {
		workers = 1
	}
	ttl := cfg.Processor.SnapshotTTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &Processor{
		cfg:         cfg,
		logger:      logger,
		rdb:         rdb,
		reader:      reader,
		numWorkers:  workers,
		snapshotTTL: ttl,
	}
}

func (p *Processor) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, p.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < p.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100)
		wg.Add(1)
		go p.worker(i, workerChans[i], &wg)
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		p.logger.Info("Processor Started", zap.Int("workers", p.numWorkers))
		for {
			m, err := p.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
					return
				}
				p.logger.Error("Kafka Read Error", zap.Error(err))
				continue
			}

			// Deterministic Sharding: Same channel always goes to same worker
			workerID := getWorkerID(m.Key, p.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				p.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	p.logger.Info("Shutdown signal received, stopping processor...")
	<-readerDone

	for _, ch := range workerChans {
		close(ch)
	}
	p.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (p *Processor) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	ctx := context.Background()

	// Local state for deduplication (only works because of deterministic sharding)
	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			p.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}
		if ev.Type == "" || ev.Channel == "" {
			p.logger.Warn("Dropping event without type or channel", zap.Int("worker_id", id))
			continue
		}

		// SeqID 0 marks an unsequenced event, always relayed
		if ev.SeqID != 0 && ev.SeqID <= lastSeq[ev.Channel] {
			p.logger.Debug("Skipping duplicate event", zap.String("channel", ev.Channel), zap.Int64("seq_id", ev.SeqID))
			continue
		}

		// Atomic Update via Pipeline
		pipe := p.rdb.Pipeline()
		if ev.Type == models.EventTick {
			pipe.Set(ctx, protocol.SnapshotKey(ev.Channel), payload, p.snapshotTTL)
		}
		pipe.Publish(ctx, protocol.EventChannel(ev.Channel), payload)

		_, err := pipe.Exec(ctx)
		if err != nil {
			p.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("channel", ev.Channel))
			continue
		}
		p.logger.Debug("Processed", zap.String("channel", ev.Channel), zap.String("type", ev.Type), zap.Int("worker_id", id))
		if ev.SeqID != 0 {
			lastSeq[ev.Channel] = ev.SeqID
		}
	}
}

func getWorkerID(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(numWorkers))
}
