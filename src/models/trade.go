package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Trade sides as emitted by the exchange adapters.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// -----------------------------------------------------------------------------

// MTrade represents a single normalized trade received from an exchange.
// It is immutable once handed to the server.
type MTrade struct {
	Exchange    string  `json:"exchange"`
	Pair        string  `json:"pair"`
	Timestamp   int64   `json:"timestamp"` // ms since epoch
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	Side        string  `json:"side"`
	Liquidation bool    `json:"liquidation,omitempty"`
}

// -----------------------------------------------------------------------------

// Market returns the "EXCHANGE:pair" key used throughout the registry,
// aggregation map and broadcast routing.
func (t *MTrade) Market() string {
	return t.Exchange + ":" + t.Pair
}

// -----------------------------------------------------------------------------

// MarshalJSON encodes the trade as the positional wire record
// [market, timestamp, price, size, side] with a trailing 1 when the
// trade is a liquidation. Index 1 is always the timestamp; the
// historical handler relies on this position.
func (t MTrade) MarshalJSON() ([]byte, error) {
	row := []interface{}{t.Market(), t.Timestamp, t.Price, t.Size, t.Side}
	if t.Liquidation {
		row = append(row, 1)
	}
	return json.Marshal(row)
}

// -----------------------------------------------------------------------------

// UnmarshalJSON decodes the positional wire record produced by MarshalJSON.
func (t *MTrade) UnmarshalJSON(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	if len(row) < 5 {
		return fmt.Errorf("trade record has %d fields, expected at least 5", len(row))
	}

	var market string
	if err := json.Unmarshal(row[0], &market); err != nil {
		return err
	}
	exchange, pair, ok := SplitMarket(market)
	if !ok {
		return fmt.Errorf("invalid market identifier %q", market)
	}
	t.Exchange = exchange
	t.Pair = pair

	if err := json.Unmarshal(row[1], &t.Timestamp); err != nil {
		return err
	}
	if err := json.Unmarshal(row[2], &t.Price); err != nil {
		return err
	}
	if err := json.Unmarshal(row[3], &t.Size); err != nil {
		return err
	}
	if err := json.Unmarshal(row[4], &t.Side); err != nil {
		return err
	}

	t.Liquidation = false
	if len(row) > 5 {
		var flag int
		if err := json.Unmarshal(row[5], &flag); err != nil {
			return err
		}
		t.Liquidation = flag != 0
	}
	return nil
}

// -----------------------------------------------------------------------------

// SplitMarket splits an "EXCHANGE:pair" key into its parts.
func SplitMarket(market string) (exchange, pair string, ok bool) {
	idx := strings.Index(market, ":")
	if idx <= 0 || idx == len(market)-1 {
		return "", "", false
	}
	return market[:idx], market[idx+1:], true
}
