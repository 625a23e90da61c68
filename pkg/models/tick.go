package models

// Tick represents a single price update for an instrument symbol
type Tick struct {
	Symbol        string   `json:"symbol"`
	Price         float64  `json:"price"`
	ChangePercent *float64 `json:"changePercent,omitempty"` // provider-supplied, optional
	Timestamp     int64    `json:"timestamp,omitempty"`     // unix micro
	SeqID         int64    `json:"seq_id,omitempty"`        // monotonic counter per symbol
}

// Instrument is a watch-list record as returned by the admin REST API.
type Instrument struct {
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name,omitempty"`
	Category  string   `json:"category"`
	LastPrice float64  `json:"lastPrice"`
	PrevClose *float64 `json:"prevClose,omitempty"` // nil when the server has no prior close
}
