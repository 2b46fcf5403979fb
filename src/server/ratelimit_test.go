package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// -----------------------------------------------------------------------------

func TestRateLimiterEnforcesWindowBudget(t *testing.T) {
	limiter := newRateLimiter(time.Second, 2)

	now := int64(10_000)
	assert.True(t, limiter.Allow("1.2.3.4", now))
	assert.True(t, limiter.Allow("1.2.3.4", now+10))
	assert.False(t, limiter.Allow("1.2.3.4", now+20))

	// Another client has its own budget
	assert.True(t, limiter.Allow("5.6.7.8", now+20))

	// The window slides: the first two hits expire
	assert.True(t, limiter.Allow("1.2.3.4", now+1_050))
}
