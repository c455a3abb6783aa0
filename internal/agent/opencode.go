package agent

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
	"github.com/Eric-Song-Nop/agentwatch/internal/status"
)

var openCodeLog = logging.ForDetector(string(model.AgentOpenCode))

// openCodeMessageLimit bounds live message previews.
const openCodeMessageLimit = 200

// OpenCode detects OpenCode TUI sessions from its JSON document store.
type OpenCode struct {
	opts Options
}

// Compile-time interface check.
var (
	_ Detector     = (*OpenCode)(nil)
	_ StoreLocator = (*OpenCode)(nil)
)

// NewOpenCode returns an OpenCode detector.
func NewOpenCode(opts Options) *OpenCode {
	return &OpenCode{opts: opts}
}

func (o *OpenCode) Name() string               { return "OpenCode" }
func (o *OpenCode) AgentType() model.AgentType { return model.AgentOpenCode }

func (o *OpenCode) storage(dataHome string) string {
	switch {
	case dataHome != "":
		return dataHome
	case o.opts.Home != "":
		return o.opts.Home
	}
	return defaultHome(".local", "share", "opencode", "storage")
}

func (o *OpenCode) StoreRoots() []string { return []string{o.storage("")} }

// FindProcesses returns processes named exactly "opencode".
func (o *OpenCode) FindProcesses(ctx context.Context, src ProcessSource) []model.AgentProcess {
	src.Refresh()

	var procs []model.AgentProcess
	src.Each(func(p *platform.Process) bool {
		if !strings.EqualFold(p.Name, "opencode") || o.opts.isSelf(p) {
			return true
		}
		var dataHome string
		if xdg := p.Env["XDG_DATA_HOME"]; xdg != "" {
			dataHome = filepath.Join(xdg, "opencode", "storage")
		}
		procs = append(procs, toAgentProcess(p, dataHome))
		return true
	})

	sort.Slice(procs, func(i, j int) bool { return procs[i].PID < procs[j].PID })
	openCodeLog.Debug("processes_found", slog.Int("count", len(procs)))
	return procs
}

// FindSessions matches each process, in pid order, to the most specific
// project containing its cwd and takes that project's most recently updated
// unused session. Processes outside every project are matched against
// global sessions by their recorded directory.
func (o *OpenCode) FindSessions(ctx context.Context, procs []model.AgentProcess) []model.Session {
	now := o.opts.now()

	var roots []string
	byRoot := make(map[string][]model.AgentProcess)
	for _, p := range procs {
		r := o.storage(p.DataHome)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], p)
	}

	var sessions []model.Session
	for _, r := range roots {
		sessions = append(sessions, o.sessionsForStore(ctx, openCodeStore{root: r}, byRoot[r], now)...)
	}
	return sessions
}

func (o *OpenCode) sessionsForStore(ctx context.Context, store openCodeStore, procs []model.AgentProcess, now time.Time) []model.Session {
	if !isDir(store.root) {
		openCodeLog.Debug("storage_missing", slog.String("path", store.root))
	}

	var projects []openCodeProject
	for _, p := range store.projects() {
		if p.ID != globalProjectID {
			projects = append(projects, p)
		}
	}

	loaded := make(map[string][]openCodeSession)
	sessionsOf := func(projectID string) []openCodeSession {
		if s, ok := loaded[projectID]; ok {
			return s
		}
		s := store.sessions(projectID)
		loaded[projectID] = s
		return s
	}
	used := make(map[string]bool)

	var out []model.Session
	for _, p := range procs {
		if p.Cwd == "" {
			out = append(out, fallbackSession(model.AgentOpenCode, p, now))
			continue
		}

		var chosen *openCodeSession
		projectPath := p.Cwd
		if proj, ok := bestOpenCodeProject(projects, p.Cwd); ok {
			for _, s := range sessionsOf(proj.ID) {
				if !used[s.ID] {
					chosen = &s
					break
				}
			}
		}
		if chosen == nil {
			for _, s := range sessionsOf(globalProjectID) {
				if !used[s.ID] && pathWithin(p.Cwd, s.Directory) {
					chosen = &s
					projectPath = s.Directory
					break
				}
			}
		}
		if chosen == nil {
			openCodeLog.Debug("fallback_session", slog.Int("pid", p.PID), slog.String("cwd", p.Cwd))
			out = append(out, fallbackSession(model.AgentOpenCode, p, now))
			continue
		}

		used[chosen.ID] = true
		out = append(out, o.buildSession(ctx, store, *chosen, p, projectPath, now))
	}
	return out
}

// bestOpenCodeProject returns the project with the longest root containing cwd.
func bestOpenCodeProject(projects []openCodeProject, cwd string) (openCodeProject, bool) {
	best, bestLen := openCodeProject{}, -1
	for _, p := range projects {
		if n := p.matchLength(cwd); n > bestLen || (n == bestLen && n >= 0 && p.ID < best.ID) {
			best, bestLen = p, n
		}
	}
	return best, bestLen >= 0
}

func (o *OpenCode) buildSession(ctx context.Context, store openCodeStore, s openCodeSession, p model.AgentProcess, projectPath string, now time.Time) model.Session {
	role, text := store.lastMessage(s.ID)
	msg := text
	if msg == "" {
		msg = truncate(strings.TrimSpace(s.Title), openCodeMessageLimit)
	}

	updated := time.UnixMilli(s.Time.Updated)
	st := status.Simple(p.CPUUsage, role, now.Sub(updated))

	openCodeLog.Debug("session_built",
		slog.String("session_id", s.ID),
		slog.String("status", string(st)),
		slog.String("last_role", role))

	return model.Session{
		ID:              s.ID,
		AgentType:       model.AgentOpenCode,
		ProjectName:     projectName(projectPath),
		ProjectPath:     projectPath,
		GithubURL:       o.opts.githubURL(ctx, projectPath),
		Status:          st,
		LastMessage:     msg,
		LastMessageRole: role,
		LastActivityAt:  model.FormatTimestamp(updated),
		PID:             p.PID,
		CPUUsage:        p.CPUUsage,
		MemoryBytes:     p.MemoryBytes,
		IsBackground:    isBackground(projectPath, msg),
	}
}
