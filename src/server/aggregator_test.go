package server

import (
	"testing"

	"aggr-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

// Two fills on the same millisecond and side collapse into one
// volume-weighted composite.
func TestAggregatorVolumeWeightedMerge(t *testing.T) {
	s := newTestServer(testConfig(), nil)
	s.OnConnected("X", "BTC", "X-1")

	now := int64(1_000_000)
	s.mu.Lock()
	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 2), now)
	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 110, 3), now)

	// Virtual time advances past the composite's deadline
	s.sweepAggregated(now + 60)

	require.Len(t, s.aggregated, 1)
	sealed := s.aggregated[0]
	s.mu.Unlock()

	assert.Equal(t, 5.0, sealed.Size)
	assert.Equal(t, 106.0, sealed.Price) // (100*2 + 110*3) / 5
	assert.Equal(t, models.SideBuy, sealed.Side)
}

// -----------------------------------------------------------------------------

// A differing side displaces the open composite: the first seals immediately,
// the second stays open.
func TestAggregatorDisplacementSeals(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	now := int64(1_000_000)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 1), now)
	s.aggregateTrade(tr("X", "BTC", 1000, models.SideSell, 100, 1), now)

	require.Len(t, s.aggregated, 1)
	assert.Equal(t, 100.0, s.aggregated[0].Price)
	assert.Equal(t, 1.0, s.aggregated[0].Size)
	assert.Equal(t, models.SideBuy, s.aggregated[0].Side)

	open, ok := s.aggregating["X:BTC"]
	require.True(t, ok)
	assert.Equal(t, models.SideSell, open.Side)
}

// -----------------------------------------------------------------------------

// A differing timestamp also displaces, even on the same side.
func TestAggregatorTimestampDisplacement(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	now := int64(1_000_000)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 1), now)
	s.aggregateTrade(tr("X", "BTC", 1001, models.SideBuy, 102, 1), now)

	require.Len(t, s.aggregated, 1)
	assert.Equal(t, int64(1000), s.aggregated[0].Timestamp)
}

// -----------------------------------------------------------------------------

// Merges never refresh the deadline: a continuous same-key stream still
// seals within one timeout of the first trade.
func TestAggregatorTimeoutNotRefreshedByMerge(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	now := int64(1_000_000)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 1), now)
	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 1), now+40)

	// 51ms after the first trade the composite is expired, despite the
	// merge at +40
	s.sweepAggregated(now + 51)

	require.Len(t, s.aggregated, 1)
	assert.Equal(t, 2.0, s.aggregated[0].Size)
	assert.Empty(t, s.aggregating)
}

// -----------------------------------------------------------------------------

// The sweep leaves unexpired composites open.
func TestAggregatorSweepKeepsFreshComposites(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	now := int64(1_000_000)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.aggregateTrade(tr("X", "BTC", 1000, models.SideBuy, 100, 1), now)
	s.sweepAggregated(now + 10)

	assert.Empty(t, s.aggregated)
	assert.Len(t, s.aggregating, 1)
}
