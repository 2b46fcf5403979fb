package server

import (
	"testing"

	"aggr-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

// A trade on an unregistered feed must leave the chunk and the aggregation
// map untouched.
func TestIngestDropsUnregisteredFeeds(t *testing.T) {
	st := &mockStorage{format: models.FormatTrade}
	s := newTestServer(testConfig(), nil, st)

	s.OnConnected("X", "BTC", "X-1")

	s.OnTrades("X", []models.MTrade{
		tr("X", "BTC", 1000, models.SideBuy, 100, 1),
		tr("X", "ETH", 1000, models.SideBuy, 50, 1),
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	require.Len(t, s.chunk, 1)
	assert.Equal(t, "BTC", s.chunk[0].Pair)
	assert.Equal(t, int64(1), s.connections["X:BTC"].Hit)

	_, ethAggregating := s.aggregating["X:ETH"]
	assert.False(t, ethAggregating)
}

// -----------------------------------------------------------------------------

func TestRegisterTwiceKeepsExistingEntry(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	s.OnConnected("X", "BTC", "X-1")
	s.mu.Lock()
	original := s.connections["X:BTC"]
	s.mu.Unlock()

	s.OnConnected("X", "BTC", "X-2")

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Same(t, original, s.connections["X:BTC"])
	assert.Equal(t, "X-1", s.connections["X:BTC"].APIID)
}

// -----------------------------------------------------------------------------

func TestDeregisterAbsentIsANoOp(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	s.OnDisconnected("X", "BTC", "X-1")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.connections)
}

// -----------------------------------------------------------------------------

func TestIngestPreservesBatchOrder(t *testing.T) {
	st := &mockStorage{format: models.FormatTrade}
	s := newTestServer(testConfig(), nil, st)

	s.OnConnected("X", "BTC", "X-1")

	batch := []models.MTrade{
		tr("X", "BTC", 1000, models.SideBuy, 100, 1),
		tr("X", "BTC", 1001, models.SideSell, 101, 2),
		tr("X", "BTC", 1002, models.SideBuy, 102, 3),
	}
	s.OnTrades("X", batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.chunk, 3)
	for i := range batch {
		assert.Equal(t, batch[i].Timestamp, s.chunk[i].Timestamp)
	}
}

// -----------------------------------------------------------------------------

func TestSnapshotByAPIGroupsFeeds(t *testing.T) {
	s := newTestServer(testConfig(), nil)

	s.OnConnected("X", "BTC", "X-1")
	s.OnConnected("X", "ETH", "X-1")
	s.OnConnected("X", "XRP", "X-2")

	snapshot := s.snapshotByAPI()
	require.Len(t, snapshot, 2)
	assert.Len(t, snapshot["X-1"].Pairs, 2)
	assert.Len(t, snapshot["X-2"].Pairs, 1)
	assert.Equal(t, "X", snapshot["X-1"].Exchange)
}

// -----------------------------------------------------------------------------

// The flush drains exactly the trades received before the swap; later trades
// stay in the chunk.
func TestBackupSwapsChunkAtomically(t *testing.T) {
	st := &mockStorage{format: models.FormatTrade}
	s := newTestServer(testConfig(), nil, st)

	s.OnConnected("X", "BTC", "X-1")
	s.OnTrades("X", []models.MTrade{
		tr("X", "BTC", 1000, models.SideBuy, 100, 1),
		tr("X", "BTC", 1001, models.SideSell, 101, 2),
	})

	s.backupTrades(true)

	s.OnTrades("X", []models.MTrade{
		tr("X", "BTC", 1002, models.SideBuy, 102, 3),
	})

	require.Len(t, st.saved, 1)
	require.Len(t, st.saved[0], 2)
	assert.Equal(t, int64(1000), st.saved[0][0].Timestamp)
	assert.Equal(t, int64(1001), st.saved[0][1].Timestamp)
	assert.True(t, st.exitFlags[0])

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.chunk, 1)
	assert.Equal(t, int64(1002), s.chunk[0].Timestamp)
}
