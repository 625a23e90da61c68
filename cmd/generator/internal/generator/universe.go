package generator

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instrument is one simulated symbol.
type Instrument struct {
	Symbol     string  `yaml:"symbol"`
	Category   string  `yaml:"category"`
	PrevClose  float64 `yaml:"prev_close"`
	Volatility float64 `yaml:"volatility"` // max step as a fraction of price, e.g. 0.001
}

// Universe is the instrument set the generator walks, plus the ticket
// conversations it writes simulated requester messages to.
type Universe struct {
	Instruments []Instrument `yaml:"instruments"`
	Tickets     []string     `yaml:"tickets"`
	TicketEvery int          `yaml:"ticket_every"` // one ticket message per N ticks, 0 disables
}

// DefaultUniverse is used when no instruments file is present.
func DefaultUniverse() Universe {
	return Universe{
		Instruments: []Instrument{
			{Symbol: "NIFTY", Category: "index", PrevClose: 22500, Volatility: 0.0005},
			{Symbol: "BANKNIFTY", Category: "index", PrevClose: 48000, Volatility: 0.0006},
			{Symbol: "EURUSD", Category: "forex", PrevClose: 1.0820, Volatility: 0.0001},
			{Symbol: "BTCUSD", Category: "crypto", PrevClose: 64000, Volatility: 0.001},
		},
	}
}

func LoadUniverse(path string) (Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Universe{}, err
	}
	return ParseUniverse(data)
}

func ParseUniverse(data []byte) (Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return Universe{}, fmt.Errorf("parse instruments: %w", err)
	}
	seen := make(map[string]bool, len(u.Instruments))
	for i := range u.Instruments {
		in := &u.Instruments[i]
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" {
			return Universe{}, fmt.Errorf("instrument %d has no symbol", i)
		}
		if seen[in.Symbol] {
			return Universe{}, fmt.Errorf("duplicate instrument %s", in.Symbol)
		}
		seen[in.Symbol] = true
		if in.PrevClose <= 0 {
			return Universe{}, fmt.Errorf("instrument %s: prev_close must be positive", in.Symbol)
		}
	}
	if u.TicketEvery < 0 {
		return Universe{}, fmt.Errorf("ticket_every must not be negative")
	}
	return u, nil
}

func (u Universe) Symbols() []string {
	out := make([]string, len(u.Instruments))
	for i, in := range u.Instruments {
		out[i] = in.Symbol
	}
	return out
}
