package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const changeChannelPrefix = "storage."

// Compile-time check to ensure RedisStore implements MarkerStore
var _ MarkerStore = (*RedisStore)(nil)

// RedisStore keeps the session marker in a Redis key shared by every console
// process and announces writes on a pub/sub channel. A store never receives
// the changes it published itself.
type RedisStore struct {
	client *redis.Client
	key    string
	origin string
	logger *zap.Logger
}

func NewRedisStore(client *redis.Client, key string, logger *zap.Logger) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Get returns the current marker, or "" when none is set.
func (r *RedisStore) Get(ctx context.Context) (string, error) {
	v, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Set stores a new marker, as a login does.
func (r *RedisStore) Set(ctx context.Context, value string) error {
	if err := r.client.Set(ctx, r.key, value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", r.key, err)
	}
	return r.publish(ctx, value)
}

// Clear removes the marker, as a logout does.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", r.key, err)
	}
	return r.publish(ctx, "")
}

// Changes subscribes to writes made by other stores. The channel closes when
// ctx is cancelled.
func (r *RedisStore) Changes(ctx context.Context) (<-chan Change, error) {
	ps := r.client.Subscribe(ctx, changeChannelPrefix+r.key)
	// wait for the subscription to be confirmed so no write is missed
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe to %s changes: %w", r.key, err)
	}

	out := make(chan Change)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					r.logger.Warn("Discarding malformed storage change", zap.Error(err))
					continue
				}
				if c.Origin == r.origin {
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RedisStore) publish(ctx context.Context, value string) error {
	payload, err := json.Marshal(Change{Key: r.key, NewValue: value, Origin: r.origin})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, changeChannelPrefix+r.key, payload).Err()
}
