// Package procsnap holds the shared, rate limited view of the OS process table
// that every agent detector reads from during a poll.
package procsnap

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
)

var snapLog = logging.ForComponent(logging.CompSnapshot)

// DefaultMinInterval is the shared refresh cooldown.
const DefaultMinInterval = 750 * time.Millisecond

// Snapshot caches one process listing. Refresh is cheap to call from every
// detector: a real OS enumeration runs at most once per cooldown window, and
// concurrent callers share a single enumeration.
type Snapshot struct {
	platform platform.Platform
	limiter  *rate.Limiter
	sf       singleflight.Group
	now      func() time.Time

	mu    sync.Mutex
	procs []platform.Process
	byPID map[int]int
}

// Option customises a Snapshot.
type Option func(*Snapshot)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Snapshot) { s.now = now }
}

// New creates an empty snapshot backed by p. A non-positive minInterval uses
// DefaultMinInterval.
func New(p platform.Platform, minInterval time.Duration, opts ...Option) *Snapshot {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	s := &Snapshot{
		platform: p,
		limiter:  rate.NewLimiter(rate.Every(minInterval), 1),
		now:      time.Now,
		byPID:    make(map[int]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh re-reads the process table unless another refresh happened within
// the cooldown window. It reports whether this call observed a real refresh
// (its own or one it joined). OS errors leave an empty snapshot.
func (s *Snapshot) Refresh() bool {
	v, _, _ := s.sf.Do("refresh", func() (interface{}, error) {
		if !s.limiter.AllowN(s.now(), 1) {
			return false, nil
		}

		procs, err := s.platform.ListProcesses()
		if err != nil {
			snapLog.Warn("process_list_failed", slog.String("error", err.Error()))
			procs = nil
		}

		byPID := make(map[int]int, len(procs))
		for i := range procs {
			byPID[procs[i].PID] = i
		}

		s.mu.Lock()
		s.procs = procs
		s.byPID = byPID
		s.mu.Unlock()

		snapLog.Debug("snapshot_refreshed", slog.Int("processes", len(procs)))
		return true, nil
	})
	refreshed, _ := v.(bool)
	return refreshed
}

// Each calls fn for every process while the snapshot lock is held, stopping
// early when fn returns false. fn must not call back into the Snapshot.
func (s *Snapshot) Each(fn func(p *platform.Process) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.procs {
		if !fn(&s.procs[i]) {
			return
		}
	}
}

// Lookup returns a copy of the process with the given pid.
func (s *Snapshot) Lookup(pid int) (platform.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byPID[pid]
	if !ok {
		return platform.Process{}, false
	}
	return s.procs[i], true
}

// Len returns the number of processes in the current snapshot.
func (s *Snapshot) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// ListOpenFiles forwards to the underlying platform. It does not touch the
// snapshot lock, so it may block on an external tool safely.
func (s *Snapshot) ListOpenFiles(ctx context.Context, pid int) []string {
	return s.platform.ListOpenFiles(ctx, pid)
}
