package storage

import (
	"testing"

	"aggr-server/src/logger"
	"aggr-server/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func newMemoryStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	cfg := &models.MConfig{LogLevel: "ERROR", DB: models.MDBConfig{SQLitePath: ":memory:"}}
	st := NewSQLiteStorage(cfg, logger.NewLogger(cfg, "sqlite-test"))
	require.NoError(t, st.Connect())
	t.Cleanup(func() { st.Close() })
	return st
}

// -----------------------------------------------------------------------------

func sampleTrades() []models.MTrade {
	return []models.MTrade{
		{Exchange: "BINANCE", Pair: "btcusdt", Timestamp: 1000, Price: 100, Size: 1, Side: models.SideBuy},
		{Exchange: "BINANCE", Pair: "btcusdt", Timestamp: 2000, Price: 101, Size: 2, Side: models.SideSell},
		{Exchange: "BITMEX", Pair: "XBTUSD", Timestamp: 3000, Price: 102, Size: 0.5, Side: models.SideBuy, Liquidation: true},
	}
}

// -----------------------------------------------------------------------------

// A flushed batch comes back exactly, in timestamp order.
func TestSQLiteSaveFetchRoundTrip(t *testing.T) {
	st := newMemoryStorage(t)

	trades := sampleTrades()
	require.NoError(t, st.Save(trades, false))

	result, err := st.Fetch(models.MFetchRequest{From: 1000, To: 3000})
	require.NoError(t, err)
	require.Equal(t, models.FormatTrade, result.Format)
	assert.Equal(t, trades, result.Trades)
}

// -----------------------------------------------------------------------------

func TestSQLiteFetchRangeIsInclusive(t *testing.T) {
	st := newMemoryStorage(t)
	require.NoError(t, st.Save(sampleTrades(), false))

	result, err := st.Fetch(models.MFetchRequest{From: 2000, To: 2000})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, int64(2000), result.Trades[0].Timestamp)
}

// -----------------------------------------------------------------------------

func TestSQLiteFetchFiltersMarkets(t *testing.T) {
	st := newMemoryStorage(t)
	require.NoError(t, st.Save(sampleTrades(), false))

	result, err := st.Fetch(models.MFetchRequest{From: 0, To: 10_000, Markets: []string{"BITMEX:XBTUSD"}})
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, "XBTUSD", result.Trades[0].Pair)
	assert.True(t, result.Trades[0].Liquidation)
}

// -----------------------------------------------------------------------------

func TestSQLiteEmptySaveIsANoOp(t *testing.T) {
	st := newMemoryStorage(t)
	require.NoError(t, st.Save(nil, false))

	result, err := st.Fetch(models.MFetchRequest{From: 0, To: 10_000})
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
}

// -----------------------------------------------------------------------------

// Repeated flushes accumulate; nothing is dropped or duplicated.
func TestSQLiteAccumulatesFlushes(t *testing.T) {
	st := newMemoryStorage(t)

	trades := sampleTrades()
	require.NoError(t, st.Save(trades[:2], false))
	require.NoError(t, st.Save(trades[2:], true))

	result, err := st.Fetch(models.MFetchRequest{From: 0, To: 10_000})
	require.NoError(t, err)
	assert.Len(t, result.Trades, 3)
}
