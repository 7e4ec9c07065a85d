package bridge

import (
	"log/slog"
	"sync"
	"time"
)

const errSuppressWindow = 60 * time.Second

// errSuppressor implements spec §4.6.7: identical poll errors within a
// 60-second window are counted, not logged; the first occurrence in a
// window logs at error level, and a different signature (or the window
// expiring) flushes a warn summarizing how many were suppressed.
type errSuppressor struct {
	mu          sync.Mutex
	signature   string
	windowStart time.Time
	count       int
}

func newErrSuppressor() *errSuppressor {
	return &errSuppressor{}
}

// report logs err (or suppresses it) against log using signature as the
// identity key, normally err.Error().
func (s *errSuppressor) report(log *slog.Logger, signature string, err error) {
	s.mu.Lock()
	now := time.Now()

	if s.signature != "" && (signature != s.signature || now.Sub(s.windowStart) >= errSuppressWindow) {
		prevSig, prevCount := s.signature, s.count
		s.signature = ""
		s.count = 0
		s.mu.Unlock()
		if prevCount > 1 {
			log.Warn("bridge: poll errors suppressed", "signature", prevSig, "suppressedCount", prevCount-1)
		}
		s.mu.Lock()
	}

	if s.signature == "" {
		s.signature = signature
		s.windowStart = now
		s.count = 1
		s.mu.Unlock()
		log.Error("bridge: poll error", "error", err)
		return
	}

	s.count++
	s.mu.Unlock()
}

// flush forces out any pending suppressed-count warning, e.g. on
// shutdown.
func (s *errSuppressor) flush(log *slog.Logger) {
	s.mu.Lock()
	sig, count := s.signature, s.count
	s.signature = ""
	s.count = 0
	s.mu.Unlock()
	if count > 1 {
		log.Warn("bridge: poll errors suppressed", "signature", sig, "suppressedCount", count-1)
	}
}
