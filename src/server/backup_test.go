package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// -----------------------------------------------------------------------------

// Flushes align to wall-clock boundaries of the interval, 20ms early, and
// roll one interval forward when the boundary is under a second away.
func TestComputeBackupDelay(t *testing.T) {
	cases := []struct {
		name     string
		now      int64
		interval int64
		want     int64
	}{
		{"mid interval", 12_345, 10_000, 7_635},
		{"boundary too close", 19_990, 10_000, 9_990},
		{"exactly on boundary", 20_000, 10_000, 9_980},
		{"just past boundary", 20_100, 10_000, 9_880},
		{"large interval", 12_345, 60_000, 47_635},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, computeBackupDelay(tc.now, tc.interval))
		})
	}
}

// -----------------------------------------------------------------------------

// An empty chunk skips the storages entirely.
func TestBackupSkipsEmptyChunk(t *testing.T) {
	st := &mockStorage{}
	s := newTestServer(testConfig(), nil, st)

	s.backupTrades(true)

	assert.Empty(t, st.saved)
}
