package testutils

import (
	"context"
	"sync"

	"github.com/BlackOSSoftware/mspk-console/pkg/protocol"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	// If it's a response, store it
	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsg() protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return protocol.WSResponse{}
	}
	return m.Messages[len(m.Messages)-1]
}

func (m *MockClient) LastMsgType() string {
	return m.LastMsg().Type
}

func (m *MockClient) RawCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.RawBytes)
}

// MockEventStore simulates the Redis relay
type MockEventStore struct {
	SubscribedChannels map[string]int // channel -> count
	Snapshots          map[string]string
	SnapshotRequests   [][]string
	Mu                 sync.Mutex
}

func NewMockStore() *MockEventStore {
	return &MockEventStore{
		SubscribedChannels: make(map[string]int),
		Snapshots:          make(map[string]string),
	}
}

func (m *MockEventStore) GetSnapshots(ctx context.Context, channels []string) ([]string, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SnapshotRequests = append(m.SnapshotRequests, channels)
	var out []string
	for _, ch := range channels {
		if s, ok := m.Snapshots[ch]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MockEventStore) SubscribeToFeed(ctx context.Context, channel string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[channel]++
	return nil
}

func (m *MockEventStore) UnsubscribeFromFeed(ctx context.Context, channel string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribedChannels[channel]--
	if m.SubscribedChannels[channel] <= 0 {
		delete(m.SubscribedChannels, channel)
	}
	return nil
}

func (m *MockEventStore) RunPubSub(ctx context.Context, onMessage func(channel string, payload string)) {
	// No-op for unit tests
}

func (m *MockEventStore) Close() error { return nil }

func (m *MockEventStore) Count(channel string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.SubscribedChannels[channel]
}

func (m *MockEventStore) SnapshotRequestCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.SnapshotRequests)
}
