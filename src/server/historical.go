package server

import (
	"math/rand"
	"regexp"
	"strconv"
	"time"

	"aggr-server/src/models"
	"aggr-server/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// Historical query handler. Serves range fetches from the primary storage and
// merges the still-buffered tail into trade-format responses.
// -----------------------------------------------------------------------------

// getHistorical handles GET /historical/:from/:to[/:timeframe[/:markets]]
func (s *Server) getHistorical(c *gin.Context) {
	if !s.Config.API || len(s.storages) == 0 {
		c.JSON(501, gin.H{"error": "historical api is disabled"})
		return
	}

	from, errFrom := strconv.ParseInt(c.Param("from"), 10, 64)
	to, errTo := strconv.ParseInt(c.Param("to"), 10, 64)
	if errFrom != nil || errTo != nil {
		c.JSON(400, gin.H{"error": "missing interval"})
		return
	}

	timeframe := int64(utils.DefaultTimeframe)
	if raw := c.Param("timeframe"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(400, gin.H{"error": "invalid timeframe"})
			return
		}
		timeframe = parsed
	}

	var markets []string
	if raw := c.Param("markets"); raw != "" {
		markets = parsePairList(raw)
	}

	if from > to {
		from, to = to, from
	}

	primary := s.storages[0]
	req := models.MFetchRequest{From: from, To: to, Timeframe: timeframe, Markets: markets}

	if primary.Format() == models.FormatPoint {
		// Round the range onto bucket boundaries and bound the bar count
		req.From = from - (from % timeframe)
		req.To = ((to + timeframe - 1) / timeframe) * timeframe
		if (req.To-req.From)/timeframe > s.Config.MaxFetchLength {
			c.JSON(400, gin.H{"error": "too many bars"})
			return
		}
	}

	result, err := primary.Fetch(req)
	if err != nil {
		s.Logger.Error("Historical fetch failed: %v", err)
		c.JSON(500, gin.H{"error": err.Error()})
		return
	}

	var results interface{}
	switch {
	case result.Empty():
		c.JSON(404, gin.H{"error": "no results"})
		return
	case result.Format == models.FormatTrade:
		results = s.mergePendingTail(result.Trades, req.From, req.To)
	default:
		results = result.Points
	}

	c.JSON(200, gin.H{
		"format":  primary.Format(),
		"results": results,
	})
}

// -----------------------------------------------------------------------------

// mergePendingTail appends every buffered trade whose timestamp falls
// strictly inside (from, to) so the response covers the not-yet-flushed tail.
func (s *Server) mergePendingTail(stored []models.MTrade, from, to int64) []models.MTrade {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := stored
	for i := range s.chunk {
		t := &s.chunk[i]
		if t.Timestamp <= from || t.Timestamp >= to {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// -----------------------------------------------------------------------------
// Policy middleware: banned IPs and origin mismatches get a delayed, generic
// 500 so scanners learn nothing from the response.
// -----------------------------------------------------------------------------

func (s *Server) policyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.isBanned(c.ClientIP()) {
			s.delayedReject(c)
			return
		}

		if origin := c.Request.Header.Get("Origin"); origin != "" && s.Config.Origin != "" {
			if !s.originAllowed(origin) {
				s.delayedReject(c)
				return
			}
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------

func (s *Server) originAllowed(origin string) bool {
	matched, err := regexp.MatchString(s.Config.Origin, origin)
	return err == nil && matched
}

// -----------------------------------------------------------------------------

func (s *Server) delayedReject(c *gin.Context) {
	delay := 5*time.Second + time.Duration(rand.Int63n(int64(5*time.Second)))
	time.Sleep(delay)
	c.AbortWithStatusJSON(500, gin.H{"error": "internal server error"})
}

// -----------------------------------------------------------------------------

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		if !s.limiter.Allow(c.ClientIP(), nowMS()) {
			c.AbortWithStatusJSON(429, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
