package engine

import (
	"sync"

	"go.uber.org/zap"
)

// Summary accumulates per-page outcomes across a run. Page-level errors
// never abort the run; they only shape the exit code.
type Summary struct {
	mu sync.Mutex

	Attempted      int
	Succeeded      int
	FetchErrors    int
	BlockErrors    int
	DiscoverErrors int
	ExtractErrors  int
	PersistErrors  int
	Fatal          bool
}

func (s *Summary) add(f func(*Summary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

func (s *Summary) PageErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FetchErrors + s.BlockErrors + s.DiscoverErrors + s.ExtractErrors + s.PersistErrors
}

// ExitCode distinguishes a clean run (0), a fatal/halted run (1) and a run
// that completed with page-level errors logged (2).
func (s *Summary) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.Fatal:
		return 1
	case s.FetchErrors+s.BlockErrors+s.DiscoverErrors+s.ExtractErrors+s.PersistErrors > 0:
		return 2
	default:
		return 0
	}
}

func (s *Summary) Log(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger.Info("run summary",
		zap.Int("attempted", s.Attempted),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("fetch_errors", s.FetchErrors),
		zap.Int("block_errors", s.BlockErrors),
		zap.Int("discover_errors", s.DiscoverErrors),
		zap.Int("extract_errors", s.ExtractErrors),
		zap.Int("persist_errors", s.PersistErrors),
		zap.Bool("fatal", s.Fatal))
}
