// Package agent discovers running coding agents and turns their on-disk
// session stores into model.Session values. Each supported agent implements
// Detector; nothing in here knows about more than one agent at a time.
package agent

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
	"github.com/Eric-Song-Nop/agentwatch/internal/status"
)

// Detector finds one agent's processes and builds their sessions.
type Detector interface {
	// Name is a human readable label, e.g. "Claude Code".
	Name() string
	AgentType() model.AgentType
	// FindProcesses selects this agent's processes from a shared snapshot.
	FindProcesses(ctx context.Context, src ProcessSource) []model.AgentProcess
	// FindSessions builds exactly one session per process.
	FindSessions(ctx context.Context, procs []model.AgentProcess) []model.Session
}

// StoreLocator is implemented by detectors whose session store lives on the
// local filesystem. The roots are the directories worth watching for changes.
type StoreLocator interface {
	StoreRoots() []string
}

// ProcessSource is the shared process snapshot detectors read from.
type ProcessSource interface {
	Refresh() bool
	Each(fn func(p *platform.Process) bool)
	Lookup(pid int) (platform.Process, bool)
	ListOpenFiles(ctx context.Context, pid int) []string
}

// RemoteResolver looks up the browsable repository URL of a project path.
type RemoteResolver interface {
	RemoteURL(ctx context.Context, dir string) (string, error)
}

// Options configures a detector.
type Options struct {
	// Home overrides the agent's default data directory. A per-process
	// environment override still wins.
	Home string
	// OpenFilesTimeout bounds the open file listing per process. Zero disables
	// active session file resolution.
	OpenFilesTimeout time.Duration
	// Remote, when set, fills Session.GithubURL.
	Remote RemoteResolver
	// Now replaces time.Now, for tests.
	Now func() time.Time
	// SelfPID is excluded from discovery. Defaults to os.Getpid().
	SelfPID int
}

// DefaultOpenFilesTimeout bounds lsof on macOS.
const DefaultOpenFilesTimeout = 2 * time.Second

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) selfPID() int {
	if o.SelfPID != 0 {
		return o.SelfPID
	}
	return os.Getpid()
}

// isSelf reports whether p is this program.
func (o Options) isSelf(p *platform.Process) bool {
	return p.PID == o.selfPID() || strings.Contains(strings.ToLower(p.Name), "agentwatch")
}

func (o Options) githubURL(ctx context.Context, dir string) string {
	if o.Remote == nil || dir == "" || dir == "/" {
		return ""
	}
	url, err := o.Remote.RemoteURL(ctx, dir)
	if err != nil {
		return ""
	}
	return url
}

// defaultHome joins rel onto the user's home directory.
func defaultHome(rel ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(append([]string{home}, rel...)...)
}

// toAgentProcess copies the fields a session needs out of a snapshot row.
func toAgentProcess(p *platform.Process, dataHome string) model.AgentProcess {
	return model.AgentProcess{
		PID:         p.PID,
		CPUUsage:    p.CPU,
		MemoryBytes: p.Memory,
		Cwd:         p.Cwd,
		StartedAt:   p.StartTime,
		DataHome:    dataHome,
	}
}

// projectName returns the last path element, or "Unknown" for "/" and "".
func projectName(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "Unknown"
	}
	return filepath.Base(trimmed)
}

// isBackground marks sessions without a resolvable project context.
func isBackground(projectPath, lastMessage string) bool {
	return projectPath == "/" && strings.TrimSpace(lastMessage) == ""
}

// truncate cuts s to max runes and appends "..." when anything was dropped.
func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// fallbackSession is the minimal session of a process whose store could not
// be matched. Its status is derived from CPU alone and its activity time is
// the process start, so repeated polls produce the same session.
func fallbackSession(agent model.AgentType, p model.AgentProcess, now time.Time) model.Session {
	path := p.Cwd
	if path == "" {
		path = "/"
	}
	activity := p.StartedAt
	if activity.IsZero() {
		activity = now
	}
	return model.Session{
		ID:             string(agent) + "-" + strconv.Itoa(p.PID),
		AgentType:      agent,
		ProjectName:    projectName(p.Cwd),
		ProjectPath:    path,
		Status:         status.Fallback(p.CPUUsage),
		LastActivityAt: model.FormatTimestamp(activity),
		PID:            p.PID,
		CPUUsage:       p.CPUUsage,
		MemoryBytes:    p.MemoryBytes,
		IsBackground:   isBackground(path, ""),
	}
}

// modTime returns the mtime of path, or the zero time.
func modTime(path string) time.Time {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
