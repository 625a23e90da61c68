package quotes

import (
	"strconv"
	"strings"
)

// Direction is the display classification of a quote's change.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// high-precision asset categories, matched case-insensitively
var highPrecisionCategories = map[string]bool{
	"currency": true,
	"forex":    true,
	"crypto":   true,
}

// Quote is the view-model of one watched instrument.
type Quote struct {
	Symbol        string
	Name          string
	Category      string
	Price         float64
	PrevClose     float64 // captured once at load
	ChangePercent float64
}

// Precision is the number of fractional digits the price renders with.
func (q Quote) Precision() int {
	return PrecisionFor(q.Category)
}

// PrecisionFor returns 5 for currency, forex and crypto categories and 2 otherwise.
func PrecisionFor(category string) int {
	if highPrecisionCategories[strings.ToLower(strings.TrimSpace(category))] {
		return 5
	}
	return 2
}

// Direction is derived from the sign of the change against the previous close,
// not from the last tick's movement.
func (q Quote) Direction() Direction {
	if q.ChangePercent < 0 {
		return Down
	}
	return Up
}

func (q Quote) FormatPrice() string {
	return strconv.FormatFloat(q.Price, 'f', q.Precision(), 64)
}

// FormatChange renders the percent change with an explicit sign, e.g. "+5.00%".
func (q Quote) FormatChange() string {
	s := strconv.FormatFloat(q.ChangePercent, 'f', 2, 64)
	switch {
	case s == "-0.00":
		s = "+0.00"
	case !strings.HasPrefix(s, "-"):
		s = "+" + s
	}
	return s + "%"
}

// changePercent computes the change against prevClose. It falls back to the
// provider's figure, then to zero, when prevClose is unusable.
func changePercent(price, prevClose float64, provided *float64) float64 {
	if prevClose > 0 {
		return (price - prevClose) / prevClose * 100
	}
	if provided != nil {
		return *provided
	}
	return 0
}
