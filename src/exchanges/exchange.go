package exchanges

import (
	"fmt"
	"sync"
	"time"

	"aggr-server/src/helpers"
	"aggr-server/src/interfaces"
	"aggr-server/src/logger"
	"aggr-server/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// BaseExchange carries the venue-independent half of an adapter: API
// connection bookkeeping, link/unlink routing, reconnection, and the read
// loop. Venue specifics (endpoints, frames, message parsing) live behind
// the Driver interface.
// -----------------------------------------------------------------------------

// Driver captures the venue-specific parts of an exchange adapter.
type Driver interface {

	// ID returns the uppercase venue identifier.
	ID() string

	// URL returns the websocket endpoint a new API connection dials.
	URL() string

	// MaxConnectionsPerAPI caps how many pairs one socket may carry.
	MaxConnectionsPerAPI() int

	// FetchProducts retrieves the venue's tradable pair list over REST.
	FetchProducts(nm interfaces.INetworkManager) ([]string, error)

	// SubscribeFrame returns the payload announcing interest in a pair,
	// or false when the venue needs none.
	SubscribeFrame(pair string) (interface{}, bool)

	// UnsubscribeFrame returns the payload cancelling a pair subscription.
	UnsubscribeFrame(pair string) (interface{}, bool)

	// Parse normalizes one websocket message into trade and liquidation
	// batches. Both may be empty for housekeeping frames.
	Parse(message []byte) (trades []models.MTrade, liquidations []models.MTrade, err error)
}

// -----------------------------------------------------------------------------

// apiConn is one physical upstream socket, possibly carrying several pairs.
type apiConn struct {
	id      string
	conn    *websocket.Conn
	pairs   []string
	closing bool // deliberate teardown, the read loop must not redial
}

// -----------------------------------------------------------------------------

type BaseExchange struct {
	driver  Driver
	sink    interfaces.IEventSink
	network interfaces.INetworkManager
	Logger  *logger.Logger

	mu     sync.Mutex
	apis   map[string]*apiConn
	apiSeq int
	open   bool // whether OnOpen has fired and OnClose has not
}

// -----------------------------------------------------------------------------

func NewBaseExchange(driver Driver, netMgr interfaces.INetworkManager, log *logger.Logger) *BaseExchange {
	return &BaseExchange{
		driver:  driver,
		network: netMgr,
		Logger:  log,
		apis:    make(map[string]*apiConn),
	}
}

// -----------------------------------------------------------------------------

func (e *BaseExchange) ID() string {
	return e.driver.ID()
}

// -----------------------------------------------------------------------------

func (e *BaseExchange) Bind(sink interfaces.IEventSink) {
	e.sink = sink
}

// -----------------------------------------------------------------------------

func (e *BaseExchange) APIs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.apis))
	for id := range e.apis {
		ids = append(ids, id)
	}
	return ids
}

// -----------------------------------------------------------------------------

// GetProductsAndConnect fetches the product index and opens feeds for the
// requested pairs. A product fetch failure is reported but does not keep
// the feeds from connecting.
func (e *BaseExchange) GetProductsAndConnect(pairs []string) error {
	if e.sink == nil {
		return fmt.Errorf("%s: no sink bound", e.ID())
	}

	products, err := e.driver.FetchProducts(e.network)
	if err != nil {
		wrapped := helpers.NewExchangeError(e.ID()+" product fetch failed", err)
		e.Logger.Warning("%v", wrapped)
		e.sink.OnError(e.ID(), wrapped.Error())
	} else {
		e.sink.OnIndex(e.ID(), products)
	}

	var firstErr error
	for _, pair := range pairs {
		if err := e.Link(pair); err != nil {
			e.Logger.Error("Failed to link %s: %v", pair, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// -----------------------------------------------------------------------------

// Link subscribes one pair, reusing an open API with spare capacity or
// dialing a fresh one.
func (e *BaseExchange) Link(pair string) error {
	e.mu.Lock()

	for _, api := range e.apis {
		if containsPair(api.pairs, pair) {
			e.mu.Unlock()
			return fmt.Errorf("pair %s is already linked", pair)
		}
	}

	api := e.pickAPI()
	if api == nil {
		fresh, err := e.dial()
		if err != nil {
			e.mu.Unlock()
			return err
		}
		api = fresh
	}

	api.pairs = append(api.pairs, pair)
	wasOpen := e.open
	e.open = true
	e.mu.Unlock()

	if frame, ok := e.driver.SubscribeFrame(pair); ok {
		if err := api.conn.WriteJSON(frame); err != nil {
			return fmt.Errorf("subscribe %s: %w", pair, err)
		}
	}

	if !wasOpen {
		e.sink.OnOpen(e.ID())
	}
	e.sink.OnConnected(e.ID(), pair, api.id)
	return nil
}

// -----------------------------------------------------------------------------

// Unlink unsubscribes one pair and closes its API when it was the last
// feed on it.
func (e *BaseExchange) Unlink(pair string) error {
	e.mu.Lock()

	var owner *apiConn
	for _, api := range e.apis {
		if containsPair(api.pairs, pair) {
			owner = api
			break
		}
	}
	if owner == nil {
		e.mu.Unlock()
		return fmt.Errorf("pair %s is not linked", pair)
	}

	owner.pairs = removePair(owner.pairs, pair)
	lastOnAPI := len(owner.pairs) == 0
	if lastOnAPI {
		owner.closing = true
		delete(e.apis, owner.id)
	}
	lastOverall := len(e.apis) == 0
	if lastOverall {
		e.open = false
	}
	e.mu.Unlock()

	if frame, ok := e.driver.UnsubscribeFrame(pair); ok && !lastOnAPI {
		if err := owner.conn.WriteJSON(frame); err != nil {
			e.Logger.Warning("Unsubscribe %s failed: %v", pair, err)
		}
	}
	if lastOnAPI {
		owner.conn.Close()
	}

	e.sink.OnDisconnected(e.ID(), pair, owner.id)
	if lastOverall {
		e.sink.OnClose(e.ID())
	}
	return nil
}

// -----------------------------------------------------------------------------

// ReconnectAPI tears the identified socket down and relinks every pair it
// carried, replaying disconnected/connected per pair.
func (e *BaseExchange) ReconnectAPI(apiID string) error {
	e.mu.Lock()
	api, ok := e.apis[apiID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("unknown api %s", apiID)
	}
	pairs := make([]string, len(api.pairs))
	copy(pairs, api.pairs)
	api.closing = true
	delete(e.apis, apiID)
	e.mu.Unlock()

	api.conn.Close()
	for _, pair := range pairs {
		e.sink.OnDisconnected(e.ID(), pair, apiID)
	}

	e.Logger.Info("Reconnecting api %s (%d pairs)", apiID, len(pairs))

	var firstErr error
	for _, pair := range pairs {
		if err := e.Link(pair); err != nil {
			e.Logger.Error("Relink of %s failed: %v", pair, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// pickAPI returns an open API with spare capacity. Caller holds e.mu.
func (e *BaseExchange) pickAPI() *apiConn {
	limit := e.driver.MaxConnectionsPerAPI()
	for _, api := range e.apis {
		if !api.closing && len(api.pairs) < limit {
			return api
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// dial opens a new upstream socket and starts its read loop. Caller holds e.mu.
func (e *BaseExchange) dial() (*apiConn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(e.driver.URL(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", e.driver.URL(), err)
	}

	e.apiSeq++
	api := &apiConn{
		id:   fmt.Sprintf("%s-%d", e.ID(), e.apiSeq),
		conn: conn,
	}
	e.apis[api.id] = api

	go e.readLoop(api)
	return api, nil
}

// -----------------------------------------------------------------------------

// readLoop pumps one socket until it dies. An unexpected death reports the
// error and redials after a short backoff; a deliberate close just exits.
func (e *BaseExchange) readLoop(api *apiConn) {
	for {
		_, message, err := api.conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			closing := api.closing
			e.mu.Unlock()
			if closing {
				return
			}
			e.handleDeadAPI(api, err)
			return
		}

		trades, liquidations, err := e.driver.Parse(message)
		if err != nil {
			e.Logger.Warning("Unparseable message: %v", err)
			continue
		}
		if len(trades) > 0 {
			e.sink.OnTrades(e.ID(), trades)
		}
		if len(liquidations) > 0 {
			e.sink.OnLiquidations(e.ID(), liquidations)
		}
	}
}

// -----------------------------------------------------------------------------

// handleDeadAPI recovers from an unexpected socket death: deregister the
// pairs, then keep trying to relink them with exponential backoff.
func (e *BaseExchange) handleDeadAPI(api *apiConn, cause error) {
	e.mu.Lock()
	pairs := make([]string, len(api.pairs))
	copy(pairs, api.pairs)
	delete(e.apis, api.id)
	lastOverall := len(e.apis) == 0
	if lastOverall {
		e.open = false
	}
	e.mu.Unlock()

	api.conn.Close()

	e.sink.OnError(e.ID(), fmt.Sprintf("api %s died: %v", api.id, cause))
	for _, pair := range pairs {
		e.sink.OnDisconnected(e.ID(), pair, api.id)
	}
	if lastOverall {
		e.sink.OnClose(e.ID())
	}

	backoff := time.Second
	for attempt := 0; len(pairs) > 0; attempt++ {
		time.Sleep(backoff)
		if backoff < time.Minute {
			backoff *= 2
		}

		var remaining []string
		for _, pair := range pairs {
			if err := e.Link(pair); err != nil {
				remaining = append(remaining, pair)
			}
		}
		if len(remaining) == 0 {
			return
		}
		e.Logger.Warning("Still %d pairs to relink after attempt %d", len(remaining), attempt+1)
		pairs = remaining
	}
}

// -----------------------------------------------------------------------------

func containsPair(pairs []string, pair string) bool {
	for _, p := range pairs {
		if p == pair {
			return true
		}
	}
	return false
}

func removePair(pairs []string, pair string) []string {
	out := pairs[:0]
	for _, p := range pairs {
		if p != pair {
			out = append(out, p)
		}
	}
	return out
}
