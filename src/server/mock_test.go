package server

import (
	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Shared test fixtures
// -----------------------------------------------------------------------------

// mockStorage records saves and serves a canned fetch result.
type mockStorage struct {
	format      models.StorageFormat
	saved       [][]models.MTrade
	exitFlags   []bool
	fetchResult *models.MFetchResult
	fetchErr    error
	lastFetch   models.MFetchRequest
}

func (m *mockStorage) Name() string                 { return "mock" }
func (m *mockStorage) Format() models.StorageFormat { return m.format }
func (m *mockStorage) Connect() error               { return nil }
func (m *mockStorage) Close() error                 { return nil }

func (m *mockStorage) Save(trades []models.MTrade, isExit bool) error {
	batch := make([]models.MTrade, len(trades))
	copy(batch, trades)
	m.saved = append(m.saved, batch)
	m.exitFlags = append(m.exitFlags, isExit)
	return nil
}

func (m *mockStorage) Fetch(req models.MFetchRequest) (*models.MFetchResult, error) {
	m.lastFetch = req
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return m.fetchResult, nil
}

// -----------------------------------------------------------------------------

// mockExchange counts reconnect requests.
type mockExchange struct {
	id          string
	reconnected []string
}

func (m *mockExchange) ID() string                                 { return m.id }
func (m *mockExchange) Bind(sink interfaces.IEventSink)            {}
func (m *mockExchange) GetProductsAndConnect(pairs []string) error { return nil }
func (m *mockExchange) Link(pair string) error                     { return nil }
func (m *mockExchange) Unlink(pair string) error                   { return nil }
func (m *mockExchange) APIs() []string                             { return nil }

func (m *mockExchange) ReconnectAPI(apiID string) error {
	m.reconnected = append(m.reconnected, apiID)
	return nil
}

// -----------------------------------------------------------------------------

func testConfig() *models.MConfig {
	return &models.MConfig{
		Name:                  "test",
		LogLevel:              "ERROR",
		API:                   true,
		Collect:               true,
		Storage:               []string{"sqlite"},
		BackupInterval:        10_000,
		Broadcast:             true,
		BroadcastAggr:         true,
		MonitorInterval:       10_000,
		ReconnectionThreshold: 30_000,
		MaxFetchLength:        100_000,
		Origin:                ".*",
	}
}

// -----------------------------------------------------------------------------

func newTestServer(cfg *models.MConfig, exchanges []interfaces.IExchange, storages ...*mockStorage) *Server {
	log := logger.NewLogger(cfg, "test")

	stores := make([]interfaces.IStorage, 0, len(storages))
	for _, st := range storages {
		stores = append(stores, st)
	}

	return NewServer(cfg, log, exchanges, stores)
}

// -----------------------------------------------------------------------------

func tr(exchange, pair string, ts int64, side string, price, size float64) models.MTrade {
	return models.MTrade{
		Exchange:  exchange,
		Pair:      pair,
		Timestamp: ts,
		Price:     price,
		Size:      size,
		Side:      side,
	}
}
