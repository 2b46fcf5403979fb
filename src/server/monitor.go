package server

import (
	"fmt"
	"time"

	"aggr-server/src/models"
)

// -----------------------------------------------------------------------------
// Activity monitor. Detects stalled upstream APIs from per-feed trade
// statistics and triggers reconnection of the exact pair set sharing the
// stalled connection.
// -----------------------------------------------------------------------------

// The connection table is dumped every this many monitor ticks.
const connectionReportTicks = 60

// A stalled API is never declared before this much silence, however low its
// historical rate.
const stallFloorMS = 10_000

// -----------------------------------------------------------------------------

// stallThreshold adapts the reconnection threshold to the API's historical
// trade rate: high-rate feeds get tighter slack down to the 10s floor, while
// near-idle feeds get up to twice the configured threshold.
func stallThreshold(reconnectionThreshold int64, rate float64, feedCount int) float64 {
	threshold := float64(reconnectionThreshold) / (0.5 + rate/float64(feedCount)/100)
	if threshold < stallFloorMS {
		threshold = stallFloorMS
	}
	return threshold
}

// -----------------------------------------------------------------------------

func (s *Server) runMonitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.Config.MonitorInterval) * time.Millisecond)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkStaleAPIs()

			ticks++
			if ticks%connectionReportTicks == 0 {
				s.printConnections()
			}
		}
	}
}

// -----------------------------------------------------------------------------

// checkStaleAPIs inspects the per-API snapshot and reconnects any API whose
// most recently active feed has been silent longer than its adaptive
// threshold, i.e. every feed on it has gone quiet.
func (s *Server) checkStaleAPIs() {
	now := nowMS()

	for apiID, stats := range s.snapshotByAPI() {
		rate, minPing := apiActivity(stats, now)
		threshold := stallThreshold(s.Config.ReconnectionThreshold, rate, len(stats.Pairs))

		if float64(minPing) <= threshold {
			continue
		}

		s.Logger.Warning("API %s (%s) stalled: quiet for %dms against a %.0fms threshold, reconnecting %d feeds",
			apiID, stats.Exchange, minPing, threshold, len(stats.Pairs))

		exchange, ok := s.exchanges[stats.Exchange]
		if !ok {
			s.Logger.Error("No adapter for exchange %s, cannot reconnect api %s", stats.Exchange, apiID)
			continue
		}

		// Reconnection ripples disconnected/connected per pair; run it off
		// the monitor tick.
		go func(apiID string) {
			if err := exchange.ReconnectAPI(apiID); err != nil {
				s.Logger.Error("Reconnection of api %s failed: %v", apiID, err)
			}
		}(apiID)
	}
}

// -----------------------------------------------------------------------------

// apiActivity sums the per-feed trade rates (per minute, extrapolated from
// each feed's lifetime) and finds the minimum idle time across the API.
func apiActivity(stats *models.MAPIStats, now int64) (rate float64, minPing int64) {
	minPing = int64(1<<63 - 1)
	for i := range stats.Pairs {
		elapsed := now - stats.StartTimes[i]
		if elapsed <= 0 {
			elapsed = 1
		}
		rate += 60_000 / float64(elapsed) * float64(stats.Hits[i])

		ping := now - stats.Timestamps[i]
		if ping < minPing {
			minPing = ping
		}
	}
	return rate, minPing
}

// -----------------------------------------------------------------------------

// printConnections dumps the registry as a diagnostic table.
func (s *Server) printConnections() {
	lines := s.connectionTable()
	s.Logger.Info("%d feeds connected", len(lines))
	for _, line := range lines {
		s.Logger.Info("%s", line)
	}
}

// -----------------------------------------------------------------------------

func formatConnectionLine(key string, conn *models.MConnection, now int64) string {
	alive := time.Duration(now-conn.Start) * time.Millisecond
	idle := time.Duration(now-conn.Timestamp) * time.Millisecond
	return fmt.Sprintf("%-24s api=%-12s hits=%-8d alive=%-12s idle=%s",
		key, conn.APIID, conn.Hit, alive.Truncate(time.Second), idle.Truncate(time.Millisecond))
}
