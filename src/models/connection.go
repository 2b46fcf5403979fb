package models

// MConnection tracks one live (exchange, pair) feed. An entry exists iff the
// owning adapter has emitted connected and not yet disconnected for the pair.
type MConnection struct {
	APIID     string `json:"api_id"`
	Exchange  string `json:"exchange"`
	Pair      string `json:"pair"`
	Hit       int64  `json:"hit"`       // trades observed since registration
	Start     int64  `json:"start"`     // ms at registration
	Timestamp int64  `json:"timestamp"` // ms of last trade
}

// -----------------------------------------------------------------------------

// Market returns the "EXCHANGE:pair" registry key.
func (c *MConnection) Market() string {
	return c.Exchange + ":" + c.Pair
}

// -----------------------------------------------------------------------------

// MAPIStats is the per-API snapshot handed to the activity monitor.
type MAPIStats struct {
	Exchange   string
	Pairs      []string
	Hits       []int64
	Timestamps []int64
	StartTimes []int64
}
