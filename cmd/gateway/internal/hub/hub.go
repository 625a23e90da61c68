package hub

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BlackOSSoftware/mspk-console/cmd/gateway/internal/metrics"
	"github.com/BlackOSSoftware/mspk-console/cmd/gateway/internal/repository"
	"github.com/BlackOSSoftware/mspk-console/pkg/protocol"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Hub fans relayed events out to websocket clients. Upstream Redis
// subscriptions are reference counted across clients.
type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool

	store    repository.EventStore
	policy   ChannelPolicy
	logger   *zap.Logger
	mu       sync.RWMutex
	refCount map[string]int
	cancel   context.CancelFunc
}

func NewHub(store repository.EventStore, policy ChannelPolicy, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
		store:       store,
		policy:      policy,
		logger:      logger,
		refCount:    make(map[string]int),
		cancel:      cancel,
	}

	go h.store.RunPubSub(ctx, h.Broadcast)

	return h
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var valid, rejected []string
	for _, name := range req.Payload.Channels {
		if !h.policy.Allow(name) {
			metrics.RejectedChannels.Inc()
			rejected = append(rejected, name)
			continue
		}
		// Idempotency: Ignore if already subscribed
		if h.clientSubs[client] != nil && h.clientSubs[client][name] {
			continue
		}
		valid = append(valid, name)
	}

	if len(valid) == 0 {
		client.SendJSON(protocol.WSResponse{
			Type:     protocol.TypeError,
			ID:       req.ID,
			Status:   "error",
			Message:  "No valid/new channels provided",
			Rejected: rejected,
		})
		return
	}

	if h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]bool)
	}

	var snapshotTargets []string
	for _, name := range valid {
		h.clientSubs[client][name] = true
		if h.subscribers[name] == nil {
			h.subscribers[name] = make(map[ClientInterface]bool)
		}
		h.subscribers[name][client] = true

		// Manage upstream subscription (Ref counting)
		h.refCount[name]++
		if h.refCount[name] == 1 {
			metrics.UpstreamChannels.Inc()
			if err := h.store.SubscribeToFeed(context.Background(), name); err != nil {
				h.logger.Error("Failed to subscribe upstream", zap.String("channel", name), zap.Error(err))
			}
		}
		if hasSnapshot(name) {
			snapshotTargets = append(snapshotTargets, name)
		}
	}

	client.SendJSON(protocol.WSResponse{
		Type:     protocol.TypeAck,
		ID:       req.ID,
		Status:   "success",
		Message:  fmt.Sprintf("Subscribed to %v", valid),
		Rejected: rejected,
	})

	if len(snapshotTargets) == 0 {
		return
	}
	// Send Snapshots (Async to avoid blocking lock)
	go func(targets []string) {
		snapshots, err := h.store.GetSnapshots(context.Background(), targets)
		if err != nil {
			h.logger.Warn("Snapshot fetch failed", zap.Strings("channels", targets), zap.Error(err))
			return
		}
		for _, snap := range snapshots {
			client.SendBytes([]byte(snap))
		}
	}(snapshotTargets)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, name := range req.Payload.Channels {
			if subs[name] {
				delete(subs, name)
				delete(h.subscribers[name], client)
				removed = append(removed, name)
				h.decreaseRefCount(name)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Channels))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for name := range subs {
			delete(h.subscribers[name], client)
			h.decreaseRefCount(name)
		}
		// Clear the map but keep the client registered
		h.clientSubs[client] = make(map[string]bool)
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all channels")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for name := range subs {
			delete(h.subscribers[name], client)
			h.decreaseRefCount(name)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// Broadcast forwards a relayed event to every client on the channel.
func (h *Hub) Broadcast(channel string, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[channel]; ok {
		msgBytes := []byte(payload)
		for client := range clients {
			client.SendBytes(msgBytes)
			metrics.EventsBroadcast.Inc()
		}
	}
}

// Subscribers returns how many clients watch a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}

// Shutdown stops the upstream feed loop.
func (h *Hub) Shutdown() {
	h.cancel()
}

func (h *Hub) decreaseRefCount(name string) {
	h.refCount[name]--
	if h.refCount[name] <= 0 {
		if err := h.store.UnsubscribeFromFeed(context.Background(), name); err != nil {
			h.logger.Error("Failed to unsubscribe upstream", zap.String("channel", name), zap.Error(err))
		}
		metrics.UpstreamChannels.Dec()
		delete(h.refCount, name)
		delete(h.subscribers, name)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Status: "error", Message: msg})
}
