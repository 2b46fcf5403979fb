package server

import (
	"time"

	"aggr-server/src/models"
)

// Open composites are sealed at most this long after creation; the sweep
// runs on the same period.
const (
	aggrTradeTimeout = 50 // ms
	aggrTickInterval = 50 * time.Millisecond
)

// -----------------------------------------------------------------------------

// openTrade is a composite under construction. While open, Price holds the
// running price*size sum; sealing divides it by Size exactly once.
type openTrade struct {
	models.MTrade
	Timeout int64
}

// -----------------------------------------------------------------------------

// aggregateTrade merges t into the open composite for its market when both
// timestamp and side match; otherwise the open composite is sealed and t
// starts a new one. Caller holds s.mu.
func (s *Server) aggregateTrade(t models.MTrade, now int64) {
	key := t.Market()

	open, ok := s.aggregating[key]
	if ok && open.Timestamp == t.Timestamp && open.Side == t.Side {
		open.Size += t.Size
		open.Price += t.Price * t.Size
		return
	}

	if ok {
		s.sealComposite(key, open)
	}

	fresh := &openTrade{MTrade: t, Timeout: now + aggrTradeTimeout}
	fresh.Price = t.Price * t.Size
	s.aggregating[key] = fresh
}

// -----------------------------------------------------------------------------

// sealComposite finalizes the volume-weighted price and queues the composite
// for broadcast. Caller holds s.mu.
func (s *Server) sealComposite(key string, open *openTrade) {
	if open.Size > 0 {
		open.Price /= open.Size
	}
	s.aggregated = append(s.aggregated, open.MTrade)
	delete(s.aggregating, key)
}

// -----------------------------------------------------------------------------

// sweepAggregated seals every composite whose deadline has passed. The
// timeout is set at creation and never refreshed by merges, so a continuous
// same-key stream still seals within one timeout of its first trade.
// Caller holds s.mu.
func (s *Server) sweepAggregated(now int64) {
	for key, open := range s.aggregating {
		if open.Timeout < now {
			s.sealComposite(key, open)
		}
	}
}
