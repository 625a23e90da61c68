package repository

import (
	"context"
)

// EventStore is the gateway's view of the relay: latest snapshots plus the
// live per-channel event feed.
type EventStore interface {
	GetSnapshots(ctx context.Context, channels []string) ([]string, error)
	SubscribeToFeed(ctx context.Context, channel string) error
	UnsubscribeFromFeed(ctx context.Context, channel string) error
	RunPubSub(ctx context.Context, onMessage func(channel string, payload string))
	Close() error
}
