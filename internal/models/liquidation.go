package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Liquidation sides as reported by exchange feeds. A "buy" liquidation is a
// short position forcibly closed (bullish); a "sell" liquidation is a long
// position forcibly closed (bearish).
const (
	LiquidationSideBuy  = "buy"
	LiquidationSideSell = "sell"
)

// quantityKeys is the ordered-priority list of field names under which
// exchange feeds report liquidation size.
var quantityKeys = []string{"qty", "amount", "size"}

// LiquidationEvent is a single forced-close event from an exchange feed.
type LiquidationEvent struct {
	Side      string          `json:"side"`
	Quantity  decimal.Decimal `json:"qty"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

// ParseLiquidationEvent normalizes a raw feed record into a LiquidationEvent.
// Feeds disagree on the quantity field name, so the known aliases are checked
// in priority order. Returns an error describing the first defect found; the
// caller decides whether to skip or fail.
func ParseLiquidationEvent(raw map[string]interface{}) (LiquidationEvent, error) {
	var event LiquidationEvent

	side, ok := raw["side"].(string)
	if !ok {
		return event, fmt.Errorf("missing or non-string side")
	}
	side = strings.ToLower(side)
	if side != LiquidationSideBuy && side != LiquidationSideSell {
		return event, fmt.Errorf("unknown side %q", side)
	}

	qty, ok := lookupQuantity(raw)
	if !ok {
		return event, fmt.Errorf("missing quantity (checked %v)", quantityKeys)
	}

	ts, ok := asInt64(raw["timestamp"])
	if !ok {
		return event, fmt.Errorf("missing or non-numeric timestamp")
	}

	event.Side = side
	event.Quantity = qty
	event.Timestamp = ts
	return event, nil
}

func lookupQuantity(raw map[string]interface{}) (decimal.Decimal, bool) {
	for _, key := range quantityKeys {
		value, present := raw[key]
		if !present {
			continue
		}
		if qty, ok := asDecimal(value); ok {
			return qty, true
		}
	}
	return decimal.Zero, false
}

func asDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case decimal.Decimal:
		return v, true
	default:
		return decimal.Zero, false
	}
}

func asInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
