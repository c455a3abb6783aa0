package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
	"github.com/Eric-Song-Nop/agentwatch/internal/status"
)

var claudeLog = logging.ForDetector(string(model.AgentClaude))

// sameSessionWindow: sibling transcripts written this recently may carry a
// more active status for the same session.
const sameSessionWindow = 10 * time.Second

// acpWrapperMarker identifies editor-embedded Claude Code clients.
const acpWrapperMarker = "claude-code-acp"

// Claude detects Claude Code CLI sessions.
type Claude struct {
	opts Options
}

// Compile-time interface check.
var (
	_ Detector     = (*Claude)(nil)
	_ StoreLocator = (*Claude)(nil)
)

// NewClaude returns a Claude Code detector.
func NewClaude(opts Options) *Claude {
	return &Claude{opts: opts}
}

func (c *Claude) Name() string               { return "Claude Code" }
func (c *Claude) AgentType() model.AgentType { return model.AgentClaude }

// home resolves the data directory for a process.
func (c *Claude) home(dataHome string) string {
	switch {
	case dataHome != "":
		return dataHome
	case c.opts.Home != "":
		return c.opts.Home
	}
	return defaultHome(".claude")
}

// StoreRoots returns the configured projects directory.
func (c *Claude) StoreRoots() []string {
	return []string{filepath.Join(c.home(""), "projects")}
}

// FindProcesses returns user-started Claude Code processes. Sub-agents (whose
// parent is another Claude process) and editor-hosted clients are dropped.
func (c *Claude) FindProcesses(ctx context.Context, src ProcessSource) []model.AgentProcess {
	src.Refresh()

	var candidates []platform.Process
	claudePIDs := make(map[int]bool)
	src.Each(func(p *platform.Process) bool {
		if p.BinaryMatches("claude") {
			claudePIDs[p.PID] = true
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
		if claudePIDs[p.PPID] {
			claudeLog.Debug("skip_subagent_process", slog.Int("pid", p.PID), slog.Int("ppid", p.PPID))
			continue
		}
		if parent, ok := src.Lookup(p.PPID); ok && strings.Contains(parent.CommandLine(), acpWrapperMarker) {
			claudeLog.Debug("skip_editor_client", slog.Int("pid", p.PID), slog.Int("ppid", p.PPID))
			continue
		}

		ap := toAgentProcess(p, p.Env["CLAUDE_CONFIG_DIR"])
		projectsDir := filepath.Join(c.home(ap.DataHome), "projects")
		ap.ActiveSessionFile = activeSessionFile(ctx, src, p.PID, c.opts.OpenFilesTimeout, func(path string) bool {
			return isClaudeTranscript(path, projectsDir)
		})
		procs = append(procs, ap)
	}

	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	claudeLog.Debug("processes_found", slog.Int("count", len(procs)))
	return procs
}

// isClaudeTranscript accepts main-session transcripts under a projects dir.
func isClaudeTranscript(path, projectsDir string) bool {
	if !strings.HasSuffix(path, ".jsonl") || strings.HasPrefix(filepath.Base(path), "agent-") {
		return false
	}
	if strings.HasPrefix(path, projectsDir+string(filepath.Separator)) {
		return true
	}
	return strings.Contains(path, "/projects/") && strings.Contains(path, "/.claude")
}

// FindSessions matches every process to a transcript in its project
// directory and builds one session each. Processes that cannot be matched
// get a fallback session.
func (c *Claude) FindSessions(ctx context.Context, procs []model.AgentProcess) []model.Session {
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

// claudeFile is a ranked transcript candidate.
type claudeFile struct {
	path string
	mod  time.Time
}

type projectGroup struct {
	dir   string
	procs []model.AgentProcess
}

func (c *Claude) sessionsForHome(ctx context.Context, home string, procs []model.AgentProcess, now time.Time) []model.Session {
	var sessions []model.Session
	fallback := func(p model.AgentProcess, reason string) {
		claudeLog.Debug("fallback_session", slog.Int("pid", p.PID), slog.String("cwd", p.Cwd), slog.String("reason", reason))
		sessions = append(sessions, fallbackSession(model.AgentClaude, p, now))
	}

	projectsDir := filepath.Join(home, "projects")
	if !isDir(projectsDir) {
		claudeLog.Warn("projects_dir_missing", slog.String("path", projectsDir))
		for _, p := range procs {
			fallback(p, "no projects dir")
		}
		return sessions
	}

	// Only directories named after a live cwd are ever scanned.
	index := newProjectDirIndex(projectsDir)
	var groups []*projectGroup
	byDir := make(map[string]*projectGroup)
	for _, p := range procs {
		if p.Cwd == "" {
			fallback(p, "no cwd")
			continue
		}
		name := index.lookup(p.Cwd)
		if name == "" {
			fallback(p, "no project dir")
			continue
		}
		g, ok := byDir[name]
		if !ok {
			g = &projectGroup{dir: filepath.Join(projectsDir, name)}
			byDir[name] = g
			groups = append(groups, g)
		}
		g.procs = append(g.procs, p)
	}

	for _, g := range groups {
		files := rankClaudeFiles(g.dir)
		assigned := assignFiles(g.procs, files, g.dir)
		for i, p := range g.procs {
			if assigned[i] < 0 {
				fallback(p, "no unused transcript")
				continue
			}
			s, err := c.buildSession(ctx, p, g.dir, files, assigned[i], now)
			if err != nil {
				fallback(p, err.Error())
				continue
			}
			sessions = append(sessions, s)
		}
	}
	return sessions
}

// rankClaudeFiles lists main transcripts in dir, newest first.
func rankClaudeFiles(dir string) []claudeFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []claudeFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || isSubagentFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, claudeFile{path: filepath.Join(dir, name), mod: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.After(files[j].mod)
		}
		return files[i].path < files[j].path
	})
	return files
}

// assignFiles gives each process a file index, or -1. A process holding one
// of the files open claims it first; the rest take the newest unused file in
// arrival order.
func assignFiles(procs []model.AgentProcess, files []claudeFile, dir string) []int {
	assigned := make([]int, len(procs))
	used := make([]bool, len(files))
	for i := range assigned {
		assigned[i] = -1
	}

	for i, p := range procs {
		if p.ActiveSessionFile == "" || filepath.Dir(p.ActiveSessionFile) != dir {
			continue
		}
		for j, f := range files {
			if !used[j] && f.path == p.ActiveSessionFile {
				assigned[i] = j
				used[j] = true
				break
			}
		}
	}

	next := 0
	for i := range procs {
		if assigned[i] >= 0 {
			continue
		}
		for next < len(files) && used[next] {
			next++
		}
		if next == len(files) {
			break
		}
		assigned[i] = next
		used[next] = true
	}
	return assigned
}

// claudeStatus runs the precedence rules and the age escalation for one transcript.
func claudeStatus(t claudeTranscript, mod, now time.Time) model.SessionStatus {
	sig := t.Signals
	sig.FileRecentlyModified = status.FileRecent(mod, now)
	sig.MessageStale = status.MessageStale(t.Timestamp, now)
	s := status.Determine(sig)
	if !t.Timestamp.IsZero() {
		s = status.Escalate(s, now.Sub(t.Timestamp))
	}
	return s
}

func (c *Claude) buildSession(ctx context.Context, p model.AgentProcess, dir string, files []claudeFile, idx int, now time.Time) (model.Session, error) {
	primary := files[idx]
	t, err := parseClaudeFile(primary.path)
	if err != nil {
		return model.Session{}, err
	}

	id := t.SessionID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(primary.path), ".jsonl")
	}

	st := claudeStatus(t, primary.mod, now)
	for j, other := range files {
		if j == idx || now.Sub(other.mod) >= sameSessionWindow {
			continue
		}
		ot, err := parseClaudeFile(other.path)
		if err != nil || ot.SessionID != id {
			continue
		}
		if sibling := claudeStatus(ot, other.mod, now); sibling.MoreActive(st) {
			claudeLog.Debug("status_upgraded_by_sibling",
				slog.String("session_id", id),
				slog.String("file", other.path),
				slog.String("from", string(st)),
				slog.String("to", string(sibling)))
			st = sibling
		}
	}
	st = status.CPUOverride(st, p.CPUUsage, status.MessageStale(t.Timestamp, now))

	activity := t.Timestamp
	if activity.IsZero() {
		activity = primary.mod
	}

	return model.Session{
		ID:                  id,
		AgentType:           model.AgentClaude,
		ProjectName:         projectName(p.Cwd),
		ProjectPath:         p.Cwd,
		GitBranch:           t.GitBranch,
		GithubURL:           c.opts.githubURL(ctx, p.Cwd),
		Status:              st,
		LastMessage:         t.LastMessage,
		LastMessageRole:     t.LastMessageRole,
		LastActivityAt:      model.FormatTimestamp(activity),
		PID:                 p.PID,
		CPUUsage:            p.CPUUsage,
		MemoryBytes:         p.MemoryBytes,
		ActiveSubagentCount: countActiveSubagents(dir, id, now),
		IsBackground:        isBackground(p.Cwd, t.LastMessage),
	}, nil
}
