package utils

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"aggr-server/src/logger"
)

// -----------------------------------------------------------------------------
// MemoryManager watches the pending chunk (its length is reported at each
// flush) and the process heap.
// Chunk growth is unbounded by design when a storage is slow; the watchdog
// only reports and nudges the GC, it never drops data.
// -----------------------------------------------------------------------------

type MemoryManager struct {
	MaxMemoryMB int
	Logger      *logger.Logger
	mu          sync.Mutex
	lastWarning time.Time
}

// -----------------------------------------------------------------------------

func NewMemoryManager(maxMemoryMB int) *MemoryManager {
	return &MemoryManager{
		MaxMemoryMB: maxMemoryMB,
		Logger:      logger.NewLogger(nil, "MemoryManager"),
	}
}

// -----------------------------------------------------------------------------

// CheckPendingTrades is called by the persistence scheduler with the current
// chunk length. Warnings are throttled to one per minute.
func (mm *MemoryManager) CheckPendingTrades(count int) {
	estimatedMB := EstimateTradesMB(count)
	if estimatedMB < float64(mm.MaxMemoryMB)/4 {
		return
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if time.Since(mm.lastWarning) < time.Minute {
		return
	}
	mm.lastWarning = time.Now()
	mm.Logger.Warning("Pending chunk holds %d trades (~%.1f MB), storage may be lagging", count, estimatedMB)

	mm.CheckMemoryLimits()
}

// -----------------------------------------------------------------------------

// CheckMemoryLimits compares live heap usage against the budget and forces
// a GC cycle when over it.
func (mm *MemoryManager) CheckMemoryLimits() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	allocMB := int(stats.Alloc / 1024 / 1024)
	if allocMB <= mm.MaxMemoryMB {
		return
	}

	mm.Logger.Warning("Heap usage %d MB exceeds budget %d MB, forcing GC", allocMB, mm.MaxMemoryMB)
	debug.FreeOSMemory()
}
