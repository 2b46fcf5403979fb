package models

import (
	"encoding/json"
	"fmt"
)

// -----------------------------------------------------------------------------
// Storage format enum
// -----------------------------------------------------------------------------

// StorageFormat identifies the shape of records a storage backend keeps.
type StorageFormat int

const (
	// FormatTrade stores raw positional trade records.
	FormatTrade StorageFormat = iota
	// FormatPoint stores pre-bucketed OHLCV bars.
	FormatPoint
)

// -----------------------------------------------------------------------------

func (f StorageFormat) String() string {
	switch f {
	case FormatTrade:
		return "trade"
	case FormatPoint:
		return "point"
	}
	return fmt.Sprintf("StorageFormat(%d)", int(f))
}

// -----------------------------------------------------------------------------

// MarshalJSON encodes the format as its wire name ("trade" / "point").
func (f StorageFormat) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

// -----------------------------------------------------------------------------
// Fetch request / result
// -----------------------------------------------------------------------------

// MFetchRequest describes one historical range query handed to a storage.
type MFetchRequest struct {
	From      int64    // ms, inclusive lower bound
	To        int64    // ms, upper bound: inclusive for trade storages, exclusive for point storages
	Timeframe int64    // ms bucket size, point storages only
	Markets   []string // "EXCHANGE:pair" filters; empty means all
}

// -----------------------------------------------------------------------------

// MPoint is one pre-bucketed bar returned by a point-format storage.
type MPoint struct {
	Market    string  `json:"market"`
	Timestamp int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Vbuy      float64 `json:"vbuy"`
	Vsell     float64 `json:"vsell"`
	Cbuy      int64   `json:"cbuy"`
	Csell     int64   `json:"csell"`
	Lbuy      float64 `json:"lbuy"`
	Lsell     float64 `json:"lsell"`
}

// -----------------------------------------------------------------------------

// MFetchResult carries the outcome of a storage fetch. Exactly one of
// Trades / Points is populated, matching Format.
type MFetchResult struct {
	Format StorageFormat
	Trades []MTrade
	Points []MPoint
}

// -----------------------------------------------------------------------------

// Empty reports whether the fetch produced no records at all.
func (r *MFetchResult) Empty() bool {
	return r == nil || (len(r.Trades) == 0 && len(r.Points) == 0)
}
