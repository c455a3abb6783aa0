// Package monitor runs every agent detector against one shared process
// snapshot and folds their sessions into a single SessionsResponse.
package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Eric-Song-Nop/agentwatch/internal/agent"
	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

var monitorLog = logging.ForComponent(logging.CompMonitor)

// Monitor is the polling facade. Poll is synchronous and safe to call from
// several goroutines, but overlapping polls share the transition log.
type Monitor struct {
	src       agent.ProcessSource
	detectors []agent.Detector

	mu   sync.Mutex
	prev map[string]model.SessionStatus // by session id
}

// New returns a Monitor over src. Detectors run in the given order.
func New(src agent.ProcessSource, detectors ...agent.Detector) *Monitor {
	return &Monitor{
		src:       src,
		detectors: detectors,
		prev:      make(map[string]model.SessionStatus),
	}
}

// Detectors returns the configured detectors.
func (m *Monitor) Detectors() []agent.Detector {
	return m.detectors
}

// Poll discovers processes and sessions for every detector and returns the
// deduplicated, sorted result. It never fails; missing data yields fewer
// or emptier sessions.
func (m *Monitor) Poll(ctx context.Context) model.SessionsResponse {
	var all []model.Session
	for _, d := range m.detectors {
		if ctx.Err() != nil {
			break
		}
		procs := d.FindProcesses(ctx, m.src)
		if len(procs) == 0 {
			continue
		}
		sessions := d.FindSessions(ctx, procs)
		monitorLog.Debug("detector_done",
			slog.String("agent", string(d.AgentType())),
			slog.Int("processes", len(procs)),
			slog.Int("sessions", len(sessions)))
		all = append(all, sessions...)
	}

	all = Dedupe(all)
	m.logTransitions(all)
	return Aggregate(all)
}

// logTransitions records status changes against the previous poll. Ids not
// seen this poll are forgotten, so the map only tracks live sessions.
func (m *Monitor) logTransitions(sessions []model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]model.SessionStatus, len(sessions))
	for _, s := range sessions {
		next[s.ID] = s.Status
		from, ok := m.prev[s.ID]
		if !ok || from == s.Status {
			continue
		}
		monitorLog.Warn("status_transition",
			slog.String("session_id", s.ID),
			slog.String("project", s.ProjectName),
			slog.String("from", string(from)),
			slog.String("to", string(s.Status)),
			slog.Float64("cpu", s.CPUUsage),
			slog.String("last_role", s.LastMessageRole))
	}
	m.prev = next
}
