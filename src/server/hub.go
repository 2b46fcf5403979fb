package server

import (
	"sort"
	"time"

	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// tradeBatch is one dispatch tick's worth of trades, grouped by market.
// Delivery order follows each client's subscription list, so grouping is
// deterministic within a tick.
type tradeBatch struct {
	groups map[string][]models.MTrade
}

// -----------------------------------------------------------------------------

// runHub is the main Hub loop. All client set mutation happens here.
func (s *Server) runHub() {
	defer s.wg.Done()

	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			// Welcome envelope right after the handshake
			client.send <- s.welcomeEnvelope()

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}

		case message := <-s.broadcast:
			switch msg := message.(type) {
			case *tradeBatch:
				s.deliverTrades(msg)
			default:
				// JSON envelope, sent to every open socket
				for client := range s.clients {
					if !s.trySend(client, message) {
						delete(s.clients, client)
						close(client.send)
					}
				}
			}

		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
				client.conn.Close()
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------

// deliverTrades walks every client's subscription list in order and sends at
// most one [pairKey, trades] frame per pair per dispatch.
func (s *Server) deliverTrades(batch *tradeBatch) {
	for client := range s.clients {
		for _, pair := range client.Pairs() {
			trades, ok := batch.groups[pair]
			if !ok {
				continue
			}
			frame := [2]interface{}{pair, trades}
			if !s.trySend(client, frame) {
				// Client too slow, disconnect to prevent Hub blocking
				delete(s.clients, client)
				close(client.send)
				break
			}
		}
	}
}

// -----------------------------------------------------------------------------

// trySend queues a message without blocking the Hub. A full buffer means the
// client is too slow to keep; the caller prunes it.
func (s *Server) trySend(client *Client, message interface{}) bool {
	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Dispatcher
// -----------------------------------------------------------------------------

// runBroadcastLoop drives the periodic dispatch tick. Aggregated mode sweeps
// the composite map then drains the aggregated queue every 50ms; debounced
// mode drains delayedForBroadcast on the configured period. Immediate mode
// never reaches here (the router dispatches inline).
func (s *Server) runBroadcastLoop() {
	defer s.wg.Done()

	period := aggrTickInterval
	if !s.Config.BroadcastAggr {
		period = time.Duration(s.Config.BroadcastDebounce) * time.Millisecond
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := nowMS()

			s.mu.Lock()
			var batch []models.MTrade
			if s.Config.BroadcastAggr {
				s.sweepAggregated(now)
				batch = s.aggregated
				s.aggregated = nil
			} else {
				batch = s.delayedForBroadcast
				s.delayedForBroadcast = nil
			}
			s.mu.Unlock()

			if len(batch) > 0 {
				s.broadcastTrades(batch)
			}
		}
	}
}

// -----------------------------------------------------------------------------

// broadcastTrades groups pending trades by market and hands them to the Hub.
func (s *Server) broadcastTrades(trades []models.MTrade) {
	if len(trades) == 0 {
		return
	}

	batch := &tradeBatch{groups: make(map[string][]models.MTrade)}
	for i := range trades {
		key := trades[i].Market()
		batch.groups[key] = append(batch.groups[key], trades[i])
	}

	select {
	case s.broadcast <- batch:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------

// broadcastJSON sends a JSON envelope to every open socket.
func (s *Server) broadcastJSON(message interface{}) {
	select {
	case s.broadcast <- message:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------

// welcomeEnvelope lists the indexed products and the connected exchanges.
func (s *Server) welcomeEnvelope() models.MWelcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := make([]string, 0, len(s.indexedProducts))
	for pair := range s.indexedProducts {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	exchanges := make([]string, 0, len(s.connectedExchanges))
	for id := range s.connectedExchanges {
		exchanges = append(exchanges, id)
	}
	sort.Strings(exchanges)

	return models.MWelcome{
		Type:      "welcome",
		Pairs:     pairs,
		Exchanges: exchanges,
		Timestamp: nowMS(),
	}
}
