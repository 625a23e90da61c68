package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/BlackOSSoftware/mspk-console/pkg/protocol"
)

// Compile-time check to ensure RedisStore implements EventStore
var _ EventStore = (*RedisStore)(nil)

type RedisStore struct {
	client *redis.Client
	pubsub *redis.PubSub
	mu     sync.Mutex // serialises SUBSCRIBE/UNSUBSCRIBE on the shared connection
}

func NewRedisStore(client *redis.Client) *RedisStore {
	ps := client.Subscribe(context.Background())
	return &RedisStore{
		client: client,
		pubsub: ps,
	}
}

// GetSnapshots fetches the latest stored event for each channel (MGET).
// Channels without a snapshot are skipped.
func (r *RedisStore) GetSnapshots(ctx context.Context, channels []string) ([]string, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	keys := make([]string, len(channels))
	for i, ch := range channels {
		keys[i] = protocol.SnapshotKey(ch)
	}

	results, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var snapshots []string
	for _, val := range results {
		if payload, ok := val.(string); ok && payload != "" {
			snapshots = append(snapshots, payload)
		}
	}
	return snapshots, nil
}

func (r *RedisStore) SubscribeToFeed(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Subscribe(ctx, protocol.EventChannel(channel))
}

func (r *RedisStore) UnsubscribeFromFeed(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pubsub.Unsubscribe(ctx, protocol.EventChannel(channel))
}

// RunPubSub blocks, handing every relayed event to onMessage keyed by its
// channel name, until ctx is cancelled or the subscription is closed.
func (r *RedisStore) RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) {
	ch := r.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			name := strings.TrimPrefix(msg.Channel, protocol.EventChannelPrefix)
			if name == "" || name == msg.Channel {
				continue
			}
			onMessage(name, msg.Payload)
		}
	}
}

func (r *RedisStore) Close() error {
	if err := r.pubsub.Close(); err != nil {
		return err
	}
	return r.client.Close()
}
