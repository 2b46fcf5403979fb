package server

import (
	"sort"

	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Connection registry and ingestion router. Registry entries exist iff the
// adapter has emitted connected and not yet disconnected for the pair; a
// trade without an entry never reaches the chunk or the aggregation map.
// -----------------------------------------------------------------------------

// OnConnected registers a live (pair, api) feed.
func (s *Server) OnConnected(exchangeID, pair, apiID string) {
	now := nowMS()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := exchangeID + ":" + pair
	if _, exists := s.connections[key]; exists {
		// Treated as an adapter bug; the entry is left untouched
		s.Logger.Error("Feed %s is already registered (api %s)", key, apiID)
		return
	}

	s.connections[key] = &models.MConnection{
		APIID:     apiID,
		Exchange:  exchangeID,
		Pair:      pair,
		Start:     now,
		Timestamp: now,
	}
	s.Logger.Debug("Feed %s registered on api %s", key, apiID)
}

// -----------------------------------------------------------------------------

// OnDisconnected deregisters a feed.
func (s *Server) OnDisconnected(exchangeID, pair, apiID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := exchangeID + ":" + pair
	if _, exists := s.connections[key]; !exists {
		s.Logger.Error("Feed %s is not registered, cannot deregister", key)
		return
	}

	delete(s.connections, key)
	s.Logger.Debug("Feed %s deregistered from api %s", key, apiID)
}

// -----------------------------------------------------------------------------

func (s *Server) OnTrades(exchangeID string, trades []models.MTrade) {
	s.ingest(trades)
}

// -----------------------------------------------------------------------------

func (s *Server) OnLiquidations(exchangeID string, trades []models.MTrade) {
	s.ingest(trades)
}

// -----------------------------------------------------------------------------

// ingest routes one normalized batch: touch the registry (dropping trades on
// unregistered feeds), append to the persistence chunk, and feed the
// configured broadcast path. Only in-memory writes happen under the lock.
func (s *Server) ingest(trades []models.MTrade) {
	if len(trades) == 0 {
		return
	}

	now := nowMS()
	persist := s.Config.Collect && len(s.storages) > 0
	immediate := s.Config.Broadcast && !s.Config.BroadcastAggr && s.Config.BroadcastDebounce <= 0

	s.mu.Lock()
	for i := range trades {
		t := trades[i]

		conn, ok := s.connections[t.Market()]
		if !ok {
			// Under-subscribed feed; must not create a phantom registration
			s.Logger.Debug("Dropping trade on unknown feed %s", t.Market())
			continue
		}
		conn.Hit++
		conn.Timestamp = now

		if persist {
			s.chunk = append(s.chunk, t)
		}

		if s.Config.Broadcast && !immediate {
			if s.Config.BroadcastAggr {
				s.aggregateTrade(t, now)
			} else {
				s.delayedForBroadcast = append(s.delayedForBroadcast, t)
			}
		}
	}
	s.mu.Unlock()

	if immediate {
		s.broadcastTrades(trades)
	}
}

// -----------------------------------------------------------------------------

// snapshotByAPI groups the registry per upstream connection for the activity
// monitor. The returned stats are copies; the monitor never holds the lock
// while acting on them.
func (s *Server) snapshotByAPI() map[string]*models.MAPIStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]*models.MAPIStats)
	for _, conn := range s.connections {
		stats, ok := snapshot[conn.APIID]
		if !ok {
			stats = &models.MAPIStats{Exchange: conn.Exchange}
			snapshot[conn.APIID] = stats
		}
		stats.Pairs = append(stats.Pairs, conn.Pair)
		stats.Hits = append(stats.Hits, conn.Hit)
		stats.Timestamps = append(stats.Timestamps, conn.Timestamp)
		stats.StartTimes = append(stats.StartTimes, conn.Start)
	}
	return snapshot
}

// -----------------------------------------------------------------------------

// connectionTable renders the registry as sorted "market api hits" lines for
// the periodic diagnostic dump.
func (s *Server) connectionTable() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.connections))
	for key := range s.connections {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := nowMS()
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		conn := s.connections[key]
		lines = append(lines, formatConnectionLine(key, conn, now))
	}
	return lines
}
