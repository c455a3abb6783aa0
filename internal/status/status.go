// Package status maps raw session signals to a model.SessionStatus.
//
// Everything here is a pure function of its inputs; callers supply ages and
// CPU samples so the rules can be evaluated against any clock.
package status

import (
	"time"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

// Thresholds shared by every agent.
const (
	// RecentFileWindow: a session file modified within this window is being written.
	RecentFileWindow = 3 * time.Second
	// StaleMessageAge: a last message older than this no longer proves activity.
	StaleMessageAge = 30 * time.Second
	// IdleAfter and StaleAfter escalate a waiting session.
	IdleAfter  = 5 * time.Minute
	StaleAfter = 10 * time.Minute
	// HighCPU is the percentage above which a process counts as working.
	HighCPU = 15.0
)

// Message roles as recorded in session stores.
const (
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Signals are the facts extracted from the last meaningful message of a
// session plus the recency of its backing file.
type Signals struct {
	// Role is "assistant", "user", or anything else for unknown entries.
	Role           string
	HasToolUse     bool
	HasToolResult  bool
	IsLocalCommand bool
	IsInterrupted  bool
	// FileRecentlyModified is true when the file mtime is within RecentFileWindow.
	FileRecentlyModified bool
	// MessageStale is true when the message is older than StaleMessageAge or
	// has no usable timestamp.
	MessageStale bool
}

// Determine applies the precedence rules top to bottom; the first match wins.
func Determine(sig Signals) model.SessionStatus {
	known := sig.Role == RoleAssistant || sig.Role == RoleUser

	// A stale message short-circuits everything unless the file was just touched.
	if sig.MessageStale && !sig.FileRecentlyModified {
		if known {
			return model.StatusWaiting
		}
		return model.StatusIdle
	}

	switch sig.Role {
	case RoleAssistant:
		// Tool use or streaming text: both are Processing while the file moves.
		if sig.FileRecentlyModified {
			return model.StatusProcessing
		}
		return model.StatusWaiting
	case RoleUser:
		if sig.IsLocalCommand || sig.IsInterrupted {
			return model.StatusWaiting
		}
		if sig.FileRecentlyModified {
			return model.StatusThinking
		}
		return model.StatusWaiting
	}

	if sig.FileRecentlyModified {
		return model.StatusThinking
	}
	return model.StatusIdle
}

// Escalate turns a long Waiting (or Idle) session into Idle after IdleAfter
// and Stale after StaleAfter. Other statuses pass through, so the rule is
// idempotent once past either threshold.
func Escalate(s model.SessionStatus, age time.Duration) model.SessionStatus {
	if s != model.StatusWaiting && s != model.StatusIdle {
		return s
	}
	switch {
	case age >= StaleAfter:
		return model.StatusStale
	case age >= IdleAfter:
		return model.StatusIdle
	}
	return s
}

// CPUOverride promotes Waiting to Processing when the process is busy and
// the last message is still fresh.
func CPUOverride(s model.SessionStatus, cpu float64, messageStale bool) model.SessionStatus {
	if s == model.StatusWaiting && cpu > HighCPU && !messageStale {
		return model.StatusProcessing
	}
	return s
}

// Simple is the reduced rule set for stores that only expose the last role
// and an activity time: busy CPU or a pending user turn means Processing,
// anything else is Waiting escalated by age.
func Simple(cpu float64, lastRole string, age time.Duration) model.SessionStatus {
	var s model.SessionStatus
	switch {
	case cpu > HighCPU:
		s = model.StatusProcessing
	case lastRole == RoleUser:
		s = model.StatusProcessing
	default:
		s = model.StatusWaiting
	}
	if s == model.StatusWaiting {
		s = Escalate(s, age)
	}
	return s
}

// Fallback is the status of a session synthesized from the process alone.
func Fallback(cpu float64) model.SessionStatus {
	if cpu > HighCPU {
		return model.StatusProcessing
	}
	return model.StatusStale
}

// FileRecent reports whether mtime falls within RecentFileWindow of now.
func FileRecent(mtime, now time.Time) bool {
	return !mtime.IsZero() && now.Sub(mtime) < RecentFileWindow
}

// MessageStale reports whether a message timestamp is older than
// StaleMessageAge. A zero timestamp counts as stale.
func MessageStale(ts, now time.Time) bool {
	if ts.IsZero() {
		return true
	}
	return now.Sub(ts) > StaleMessageAge
}
