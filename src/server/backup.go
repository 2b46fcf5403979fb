package server

import (
	"time"
)

// -----------------------------------------------------------------------------
// Persistence scheduler. Flushes are aligned to wall-clock boundaries of
// backup_interval; the swap-before-save discipline bounds crash loss to one
// in-flight batch and keeps concurrent ingestion out of the flushed batch.
// -----------------------------------------------------------------------------

// backupSafetyGap keeps the flush slightly ahead of the boundary so the
// batch never straddles two interval buckets.
const (
	backupSafetyGap = 20   // ms
	backupMinDelay  = 1000 // ms; closer boundaries roll to the next interval
)

// -----------------------------------------------------------------------------

// computeBackupDelay returns the ms until the next aligned flush:
// ceil(now/interval)*interval - now - gap, rolled one interval forward when
// the result lands under the minimum.
func computeBackupDelay(now, interval int64) int64 {
	delay := (now+interval-1)/interval*interval - now - backupSafetyGap
	if delay < backupMinDelay {
		delay += interval
	}
	return delay
}

// -----------------------------------------------------------------------------

func (s *Server) scheduleBackup() {
	delay := computeBackupDelay(nowMS(), s.Config.BackupInterval)

	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	s.backupTimer = time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.backupTrades(false)
	})
}

// -----------------------------------------------------------------------------

// backupTrades swaps the pending chunk out and writes it to every configured
// storage. A failing storage is logged and skipped; the batch still reaches
// the others. The exit flush runs synchronously and does not reschedule.
func (s *Server) backupTrades(isExit bool) {
	s.mu.Lock()
	batch := s.chunk
	s.chunk = nil
	s.mu.Unlock()

	s.memory.CheckPendingTrades(len(batch))

	if len(batch) == 0 {
		if !isExit {
			s.scheduleBackup()
		}
		return
	}

	for _, st := range s.storages {
		if err := st.Save(batch, isExit); err != nil {
			s.Logger.Error("Storage %s failed to save %d trades: %v", st.Name(), len(batch), err)
		}
	}

	if !isExit {
		s.scheduleBackup()
	}
}
