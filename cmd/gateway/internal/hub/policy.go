package hub

import (
	"github.com/BlackOSSoftware/mspk-console/pkg/models"
)

// ChannelPolicy decides which channels a client may join: any configured
// symbol, and any ticket_<id> conversation.
type ChannelPolicy struct {
	symbols map[string]bool
}

func NewChannelPolicy(symbols []string) ChannelPolicy {
	p := ChannelPolicy{symbols: make(map[string]bool, len(symbols))}
	for _, s := range symbols {
		p.symbols[models.NormalizeChannel(s)] = true
	}
	return p
}

func (p ChannelPolicy) Allow(name string) bool {
	return p.symbols[name] || models.IsTicketChannel(name)
}

// Normalize maps a requested name onto the form events are published under.
func Normalize(name string) string {
	return models.NormalizeChannel(name)
}

// hasSnapshot reports whether a channel keeps a latest-value snapshot.
// Conversations never backfill.
func hasSnapshot(name string) bool {
	return !models.IsTicketChannel(name)
}
