package interfaces

import "aggr-server/src/models"

// -----------------------------------------------------------------------------
// IExchange is the controller surface of an upstream exchange adapter.
// The server drives it; the adapter reports back through the IEventSink it
// was bound to at startup. No object graph cycle: wiring is explicit.
// -----------------------------------------------------------------------------

type IExchange interface {

	// -----------------------------------------------------------------------------

	// ID returns the uppercase exchange identifier ("BINANCE", "BITMEX", ...).
	ID() string

	// -----------------------------------------------------------------------------

	// Bind attaches the event sink. Must be called before GetProductsAndConnect.
	Bind(sink IEventSink)

	// -----------------------------------------------------------------------------

	// GetProductsAndConnect fetches the venue's product list, emits an index
	// event, and opens feeds for the requested pairs.
	GetProductsAndConnect(pairs []string) error

	// -----------------------------------------------------------------------------

	// Link subscribes one pair, reusing an open API connection when capacity
	// allows, otherwise dialing a new one.
	Link(pair string) error

	// -----------------------------------------------------------------------------

	// Unlink unsubscribes one pair and closes its API connection when it was
	// the last feed on it.
	Unlink(pair string) error

	// -----------------------------------------------------------------------------

	// ReconnectAPI tears down the identified upstream connection and redials
	// it, replaying disconnected/connected for every pair it carried.
	ReconnectAPI(apiID string) error

	// -----------------------------------------------------------------------------

	// APIs lists the identifiers of the currently open upstream connections.
	APIs() []string
}

// -----------------------------------------------------------------------------
// IEventSink is the server-side surface adapters publish into.
// -----------------------------------------------------------------------------

type IEventSink interface {

	// OnTrades delivers a normalized trade batch, in venue arrival order.
	OnTrades(exchangeID string, trades []models.MTrade)

	// OnLiquidations delivers forced-liquidation trades.
	OnLiquidations(exchangeID string, trades []models.MTrade)

	// OnIndex announces the venue's tradable pairs.
	OnIndex(exchangeID string, pairs []string)

	// OnOpen fires once the adapter's first API connection is up.
	OnOpen(exchangeID string)

	// OnError reports an adapter-level failure.
	OnError(exchangeID string, message string)

	// OnClose fires when the adapter's last API connection is gone.
	OnClose(exchangeID string)

	// OnConnected registers a live (pair, api) feed.
	OnConnected(exchangeID, pair, apiID string)

	// OnDisconnected deregisters a (pair, api) feed.
	OnDisconnected(exchangeID, pair, apiID string)
}
