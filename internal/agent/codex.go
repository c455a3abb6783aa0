package agent

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
	"github.com/Eric-Song-Nop/agentwatch/internal/status"
)

var codexLog = logging.ForDetector(string(model.AgentCodex))

// Codex detects Codex CLI sessions.
type Codex struct {
	opts Options

	mu     sync.Mutex
	caches map[string]*rolloutCache // by sessions dir
}

// Compile-time interface check.
var (
	_ Detector     = (*Codex)(nil)
	_ StoreLocator = (*Codex)(nil)
)

// NewCodex returns a Codex detector.
func NewCodex(opts Options) *Codex {
	return &Codex{opts: opts, caches: make(map[string]*rolloutCache)}
}

func (c *Codex) Name() string               { return "Codex" }
func (c *Codex) AgentType() model.AgentType { return model.AgentCodex }

func (c *Codex) home(dataHome string) string {
	switch {
	case dataHome != "":
		return dataHome
	case c.opts.Home != "":
		return c.opts.Home
	}
	return defaultHome(".codex")
}

// StoreRoots returns the configured rollout directory.
func (c *Codex) StoreRoots() []string {
	return []string{filepath.Join(c.home(""), "sessions")}
}

func (c *Codex) cache(dir string) *rolloutCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.caches[dir]
	if !ok {
		rc = newRolloutCache()
		c.caches[dir] = rc
	}
	return rc
}

// FindProcesses returns codex processes, skipping the long-running
// app-server helper.
func (c *Codex) FindProcesses(ctx context.Context, src ProcessSource) []model.AgentProcess {
	src.Refresh()

	var candidates []platform.Process
	src.Each(func(p *platform.Process) bool {
		if p.BinaryMatches("codex") {
			candidates = append(candidates, *p)
		}
		return true
	})

	var procs []model.AgentProcess
	for i := range candidates {
		p := &candidates[i]
		if c.opts.isSelf(p) {
			continue
		}
		if len(p.Cmdline) > 1 && p.Cmdline[1] == "app-server" {
			codexLog.Debug("skip_app_server", slog.Int("pid", p.PID))
			continue
		}
		ap := toAgentProcess(p, p.Env["CODEX_HOME"])
		ap.ActiveSessionFile = activeSessionFile(ctx, src, p.PID, c.opts.OpenFilesTimeout, isCodexRollout)
		procs = append(procs, ap)
	}

	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	codexLog.Debug("processes_found", slog.Int("count", len(procs)))
	return procs
}

// isCodexRollout accepts paths like .../sessions/2026/01/02/rollout-*.jsonl.
func isCodexRollout(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(path, "/sessions/") && strings.HasPrefix(base, "rollout-") && strings.HasSuffix(base, ".jsonl")
}

// FindSessions assigns rollouts to processes. Per process the preference is
// the file it holds open, then the newest unused rollout recorded for its
// cwd, then the newest unused rollout overall. Each rule is applied to every
// process before the next rule runs.
func (c *Codex) FindSessions(ctx context.Context, procs []model.AgentProcess) []model.Session {
	now := c.opts.now()

	var homes []string
	byHome := make(map[string][]model.AgentProcess)
	for _, p := range procs {
		h := c.home(p.DataHome)
		if _, ok := byHome[h]; !ok {
			homes = append(homes, h)
		}
		byHome[h] = append(byHome[h], p)
	}

	var sessions []model.Session
	for _, h := range homes {
		sessions = append(sessions, c.sessionsForHome(ctx, h, byHome[h], now)...)
	}
	return sessions
}

func (c *Codex) sessionsForHome(ctx context.Context, home string, procs []model.AgentProcess, now time.Time) []model.Session {
	sessionsDir := filepath.Join(home, "sessions")
	var rollouts []codexRollout
	if isDir(sessionsDir) {
		rollouts = c.cache(sessionsDir).scan(sessionsDir)
	} else {
		codexLog.Debug("sessions_dir_missing", slog.String("path", sessionsDir))
	}

	assigned := assignRollouts(procs, rollouts)

	var ids []uuid.UUID
	for _, idx := range assigned {
		if idx < 0 {
			continue
		}
		if id, ok := rolloutThreadID(rollouts[idx].Path); ok {
			ids = append(ids, id)
		}
	}
	threads := lookupCodexThreads(findCodexStateDB(home), ids)

	sessions := make([]model.Session, 0, len(procs))
	for i, p := range procs {
		if assigned[i] < 0 {
			codexLog.Debug("fallback_session", slog.Int("pid", p.PID), slog.String("cwd", p.Cwd))
			sessions = append(sessions, fallbackSession(model.AgentCodex, p, now))
			continue
		}
		r := rollouts[assigned[i]]
		var thread codexThread
		if id, ok := rolloutThreadID(r.Path); ok {
			thread = threads[id]
		}
		sessions = append(sessions, c.buildSession(ctx, p, r, thread, now))
	}
	return sessions
}

// assignRollouts returns, per process, an index into rollouts (newest
// first) or -1 when nothing is left.
func assignRollouts(procs []model.AgentProcess, rollouts []codexRollout) []int {
	assigned := make([]int, len(procs))
	used := make([]bool, len(rollouts))
	byPath := make(map[string]int, len(rollouts))
	for i, r := range rollouts {
		byPath[r.Path] = i
	}
	for i := range assigned {
		assigned[i] = -1
	}
	claim := func(i, idx int) {
		assigned[i] = idx
		used[idx] = true
	}

	for i, p := range procs {
		if idx, ok := byPath[p.ActiveSessionFile]; ok && !used[idx] {
			claim(i, idx)
		}
	}
	for i, p := range procs {
		if assigned[i] >= 0 || p.Cwd == "" {
			continue
		}
		for idx, r := range rollouts {
			if !used[idx] && r.Cwd == p.Cwd {
				claim(i, idx)
				break
			}
		}
	}
	for i := range procs {
		if assigned[i] >= 0 {
			continue
		}
		for idx := range rollouts {
			if !used[idx] {
				claim(i, idx)
				break
			}
		}
	}
	return assigned
}

func (c *Codex) buildSession(ctx context.Context, p model.AgentProcess, r codexRollout, thread codexThread, now time.Time) model.Session {
	path := selectCodexCwd(r.Cwd, p.Cwd, thread.Cwd)
	if path == "" {
		path = "/"
	}

	msg, role := r.LastMessage, r.LastRole
	if msg == "" && thread.Title != "" {
		msg = truncate(thread.Title, codexMessageLimit)
	}

	activity := r.LastActivity
	if activity.IsZero() {
		activity = r.Mod
	}

	id := strings.TrimSuffix(filepath.Base(r.Path), ".jsonl")
	if id == "" {
		id = r.SessionID
	}
	if id == "" {
		id = "codex-" + strconv.Itoa(p.PID)
	}

	if path == "/" {
		codexLog.Warn("unknown_project",
			slog.String("session_id", id),
			slog.String("file", r.Path),
			slog.String("file_cwd", r.Cwd),
			slog.String("process_cwd", p.Cwd))
	}

	return model.Session{
		ID:              id,
		AgentType:       model.AgentCodex,
		ProjectName:     projectName(path),
		ProjectPath:     path,
		GitBranch:       r.GitBranch,
		GithubURL:       c.opts.githubURL(ctx, path),
		Status:          status.Simple(p.CPUUsage, role, now.Sub(r.Mod)),
		LastMessage:     msg,
		LastMessageRole: role,
		LastActivityAt:  model.FormatTimestamp(activity),
		PID:             p.PID,
		CPUUsage:        p.CPUUsage,
		MemoryBytes:     p.MemoryBytes,
		IsBackground:    isBackground(path, msg),
	}
}
