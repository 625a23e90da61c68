package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"math/rand"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/generator/internal/generator"
	"github.com/BlackOSSoftware/mspk-console/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	universe, err := generator.LoadUniverse(cfg.Generator.InstrumentsFile)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("Instruments file not found, using built-in universe", zap.String("path", cfg.Generator.InstrumentsFile))
		universe = generator.DefaultUniverse()
	case err != nil:
		logger.Fatal("Failed to load instruments", zap.Error(err))
	}

	clock := generator.RealClock{}

	// Create Topic (Ensure it exists)
	dialer := &generator.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 5 * time.Second}}
	generator.NewTopicCreator(logger, dialer, clock, cfg.Kafka.Partitions).Create(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	// Setup Kafka Writer (Production Tuning)
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same channel, same partition
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,                   // Send after 100 messages
		BatchTimeout: 10 * time.Millisecond, // OR send after 10ms
		Async:        true,                  // Write non-blocking (fire and forget handled by buffer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rnd := generator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	gen := generator.NewTickGenerator(logger, writer, universe, cfg.Generator.Interval, rnd, clock)
	gen.Run(ctx)

	logger.Info("Shutdown signal received")

	// Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
