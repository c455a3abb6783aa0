package model

import (
	"strings"
	"time"
)

// AgentType identifies which coding agent produced a session.
type AgentType string

const (
	AgentClaude   AgentType = "claude"
	AgentCodex    AgentType = "codex"
	AgentOpenCode AgentType = "opencode"
)

// AllAgents lists the known agents in declaration order. Background sessions
// are sorted by this order.
var AllAgents = []AgentType{AgentClaude, AgentCodex, AgentOpenCode}

// ParseAgentType maps a user supplied name to an AgentType.
func ParseAgentType(name string) (AgentType, bool) {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, a := range AllAgents {
		if string(a) == name {
			return a, true
		}
	}
	return "", false
}

// Order returns the declaration index of the agent, or len(AllAgents) for
// unknown values.
func (a AgentType) Order() int {
	for i, known := range AllAgents {
		if known == a {
			return i
		}
	}
	return len(AllAgents)
}

// SessionStatus is the inferred activity state of a session.
type SessionStatus string

// Status constants, from most to least active.
const (
	StatusThinking   SessionStatus = "thinking"
	StatusProcessing SessionStatus = "processing"
	StatusWaiting    SessionStatus = "waiting"
	StatusIdle       SessionStatus = "idle"  // Waiting for 5+ minutes
	StatusStale      SessionStatus = "stale" // Waiting for 10+ minutes
)

// Priority returns the sort priority of a status. Lower is more active.
func (s SessionStatus) Priority() int {
	switch s {
	case StatusThinking:
		return 0
	case StatusProcessing:
		return 1
	case StatusWaiting:
		return 2
	case StatusIdle:
		return 3
	case StatusStale:
		return 4
	default:
		return 5
	}
}

// MoreActive reports whether s sorts before other.
func (s SessionStatus) MoreActive(other SessionStatus) bool {
	return s.Priority() < other.Priority()
}

// AgentProcess is one OS process believed to be a coding agent. It is built
// fresh on every poll and never mutated afterwards.
type AgentProcess struct {
	PID         int
	CPUUsage    float64 // percent, instantaneous sample
	MemoryBytes uint64
	Cwd         string // empty when unreadable
	StartedAt   time.Time
	// DataHome overrides the agent's default data directory when the process
	// environment points elsewhere (CLAUDE_CONFIG_DIR, CODEX_HOME, ...).
	DataHome string
	// ActiveSessionFile is the session file the process holds open, when an
	// open-file listing could resolve it.
	ActiveSessionFile string
}

// Session is one inferred conversation, the unit shown to the user.
type Session struct {
	ID                  string        `json:"id"`
	AgentType           AgentType     `json:"agentType"`
	ProjectName         string        `json:"projectName"`
	ProjectPath         string        `json:"projectPath"`
	GitBranch           string        `json:"gitBranch,omitempty"`
	GithubURL           string        `json:"githubUrl,omitempty"`
	Status              SessionStatus `json:"status"`
	LastMessage         string        `json:"lastMessage,omitempty"`
	LastMessageRole     string        `json:"lastMessageRole,omitempty"`
	LastActivityAt      string        `json:"lastActivityAt"`
	PID                 int           `json:"pid"`
	CPUUsage            float64       `json:"cpuUsage"`
	MemoryBytes         uint64        `json:"memoryBytes"`
	ActiveSubagentCount int           `json:"activeSubagentCount"`
	IsBackground        bool          `json:"isBackground"`
}

// ActivityTime parses LastActivityAt. The zero time is returned when the
// value is missing or not RFC 3339.
func (s *Session) ActivityTime() time.Time {
	t, err := time.Parse(time.RFC3339Nano, s.LastActivityAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NewerThan reports whether s has a more recent activity timestamp than other.
// Unparseable timestamps fall back to lexical comparison.
func (s *Session) NewerThan(other *Session) bool {
	a, b := s.ActivityTime(), other.ActivityTime()
	if a.IsZero() && b.IsZero() {
		return s.LastActivityAt > other.LastActivityAt
	}
	return a.After(b)
}

// SessionsResponse is the aggregate produced for the UI on each poll.
type SessionsResponse struct {
	Sessions           []Session `json:"sessions"`
	BackgroundSessions []Session `json:"backgroundSessions"`
	TotalCount         int       `json:"totalCount"`
	WaitingCount       int       `json:"waitingCount"`
}

// FormatTimestamp renders t the way session timestamps are exchanged.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
