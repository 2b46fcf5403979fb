package utils

// -----------------------------------------------------------------------------

// Constants for buffering and persistence.
// A pending trade costs ~96 bytes in memory (struct + two string headers);
// the watchdog uses this to estimate chunk growth between flushes.
const (
	BannedFile = "banned.txt" // repo-relative, reloaded on change

	DefaultTimeframe = 60_000 // ms, historical queries without an explicit timeframe

	BytesPerTrade = 96
)

// -----------------------------------------------------------------------------

// EstimateTradesMB converts a pending trade count to an approximate MB figure.
func EstimateTradesMB(count int) float64 {
	return float64(count*BytesPerTrade) / (1024 * 1024)
}
