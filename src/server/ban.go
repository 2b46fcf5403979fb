package server

import (
	"os"
	"path/filepath"
	"strings"

	"aggr-server/src/utils"

	"github.com/fsnotify/fsnotify"
)

// -----------------------------------------------------------------------------
// Banned IP list. The sidecar file is newline-delimited and read-only from
// the server's perspective; a file-watch triggers a full re-read.
// -----------------------------------------------------------------------------

// loadBannedIPs re-reads the ban file into the set. A missing file clears it.
func (s *Server) loadBannedIPs() {
	fresh := make(map[string]struct{})

	data, err := os.ReadFile(utils.BannedFile)
	if err != nil {
		if !os.IsNotExist(err) {
			s.Logger.Warning("Failed to read %s: %v", utils.BannedFile, err)
		}
	} else {
		for _, line := range strings.Split(string(data), "\n") {
			ip := strings.TrimSpace(line)
			if ip != "" {
				fresh[ip] = struct{}{}
			}
		}
	}

	s.banMu.Lock()
	s.bannedIPs = fresh
	s.banMu.Unlock()

	if len(fresh) > 0 {
		s.Logger.Info("Loaded %d banned IPs", len(fresh))
	}
}

// -----------------------------------------------------------------------------

// watchBannedIPs watches the ban file's directory so the set follows edits,
// replacements and deletions of the file itself.
func (s *Server) watchBannedIPs() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(utils.BannedFile)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	target := filepath.Clean(utils.BannedFile)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer watcher.Close()

		for {
			select {
			case <-s.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.loadBannedIPs()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.Logger.Warning("Ban file watcher error: %v", err)
			}
		}
	}()

	return nil
}

// -----------------------------------------------------------------------------

func (s *Server) isBanned(ip string) bool {
	s.banMu.RLock()
	defer s.banMu.RUnlock()
	_, banned := s.bannedIPs[ip]
	return banned
}
