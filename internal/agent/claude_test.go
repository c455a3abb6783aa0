package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
)

type fakeRemote map[string]string

func (f fakeRemote) RemoteURL(_ context.Context, dir string) (string, error) {
	if u, ok := f[dir]; ok {
		return u, nil
	}
	return "", errors.New("no remote")
}

func newTestClaude(home string) *Claude {
	return NewClaude(Options{Home: home, Now: fixedClock, SelfPID: 999999, OpenFilesTimeout: time.Second})
}

func TestClaudeFindProcessesFilters(t *testing.T) {
	home := t.TempDir()
	active := filepath.Join(home, "projects", "-work-app", "11111111-aaaa.jsonl")
	writeJSONL(t, active, testNow, claudeLine("user", "x", 0, "hi"))
	sub := filepath.Join(home, "projects", "-work-app", "agent-1.jsonl")
	writeJSONL(t, sub, testNow.Add(time.Second), claudeLine("user", "x", 0, "hi"))

	src := &fakeSource{
		procs: []platform.Process{
			{PID: 100, PPID: 1, Name: "claude", Cmdline: []string{"claude"}, Cwd: "/work/app", CPU: 3, Memory: 2048},
			{PID: 101, PPID: 100, Name: "claude", Cmdline: []string{"claude", "--print"}, Cwd: "/work/app"},
			{PID: 200, PPID: 1, Name: "node", Cmdline: []string{"node", "/opt/zed/claude-code-acp/index.js"}},
			{PID: 201, PPID: 200, Name: "claude", Cmdline: []string{"/opt/zed/bin/claude"}, Cwd: "/work/zed"},
			{PID: 999999, PPID: 1, Name: "claude", Cmdline: []string{"claude"}},
			{PID: 50, PPID: 1, Name: "claude", Cmdline: []string{"/opt/homebrew/bin/claude"}, Cwd: "/work/b", Env: map[string]string{"CLAUDE_CONFIG_DIR": "/tmp/cc"}},
			{PID: 60, PPID: 1, Name: "vim", Cmdline: []string{"vim", "claude"}},
			{PID: 70, PPID: 1, Name: "claude-helper", Cmdline: []string{"/usr/bin/claude-helper"}},
		},
		openFiles: map[int][]string{
			100: {active, sub, "/tmp/notes.jsonl"},
		},
	}

	procs := newTestClaude(home).FindProcesses(context.Background(), src)
	require.Len(t, procs, 2)
	assert.Equal(t, 1, src.refreshes)

	assert.Equal(t, 50, procs[0].PID)
	assert.Equal(t, "/tmp/cc", procs[0].DataHome)
	assert.Empty(t, procs[0].ActiveSessionFile)

	assert.Equal(t, 100, procs[1].PID)
	assert.Equal(t, "/work/app", procs[1].Cwd)
	assert.Equal(t, 3.0, procs[1].CPUUsage)
	assert.Equal(t, uint64(2048), procs[1].MemoryBytes)
	assert.Equal(t, active, procs[1].ActiveSessionFile)
}

func TestClaudeSharedDirectoryAssignsNewestFirst(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "projects", "-work-app")
	writeJSONL(t, filepath.Join(dir, "old.jsonl"), testNow.Add(-time.Minute),
		claudeLine("assistant", "sess-old", time.Minute, "old answer"))
	writeJSONL(t, filepath.Join(dir, "new.jsonl"), testNow.Add(-10*time.Second),
		claudeLine("assistant", "sess-new", 10*time.Second, "new answer"))

	procs := []model.AgentProcess{
		{PID: 10, Cwd: "/work/app"},
		{PID: 11, Cwd: "/work/app"},
	}
	sessions := newTestClaude(home).FindSessions(context.Background(), procs)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-new", sessions[0].ID)
	assert.Equal(t, 10, sessions[0].PID)
	assert.Equal(t, "sess-old", sessions[1].ID)
	assert.Equal(t, 11, sessions[1].PID)
	assert.NotEqual(t, sessions[0].ID, sessions[1].ID)
	assert.Equal(t, "app", sessions[0].ProjectName)
	assert.Equal(t, "/work/app", sessions[0].ProjectPath)
	assert.Equal(t, "main", sessions[0].GitBranch)
}

func TestClaudeActiveSessionFileClaimedFirst(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "projects", "-work-app")
	oldPath := filepath.Join(dir, "old.jsonl")
	writeJSONL(t, oldPath, testNow.Add(-time.Minute), claudeLine("assistant", "sess-old", time.Minute, "old"))
	writeJSONL(t, filepath.Join(dir, "new.jsonl"), testNow.Add(-10*time.Second), claudeLine("assistant", "sess-new", 10*time.Second, "new"))

	procs := []model.AgentProcess{
		{PID: 10, Cwd: "/work/app"},
		{PID: 11, Cwd: "/work/app", ActiveSessionFile: oldPath},
	}
	sessions := newTestClaude(home).FindSessions(context.Background(), procs)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-new", sessions[0].ID)
	assert.Equal(t, "sess-old", sessions[1].ID)
	assert.Equal(t, 11, sessions[1].PID)
}

func TestClaudeStatusScenarios(t *testing.T) {
	tests := []struct {
		name    string
		fileAge time.Duration
		line    map[string]any
		cpu     float64
		want    model.SessionStatus
	}{
		{"tool use just written", time.Second, claudeLine("assistant", "s", time.Second, toolUse()), 0, model.StatusProcessing},
		{"text reply waiting", 10 * time.Second, claudeLine("assistant", "s", time.Minute, "done"), 0, model.StatusWaiting},
		{"text reply idle", 10 * time.Second, claudeLine("assistant", "s", 6*time.Minute, "done"), 0, model.StatusIdle},
		{"text reply stale", 10 * time.Second, claudeLine("assistant", "s", 11*time.Minute, "done"), 0, model.StatusStale},
		{"local command", time.Second, claudeLine("user", "s", time.Second, "/clear"), 0, model.StatusWaiting},
		{"fresh prompt", time.Second, claudeLine("user", "s", time.Second, "fix it"), 0, model.StatusThinking},
		{"busy cpu with fresh message", 10 * time.Second, claudeLine("assistant", "s", 10*time.Second, "working"), 50, model.StatusProcessing},
		{"busy cpu with stale message", 10 * time.Second, claudeLine("assistant", "s", time.Minute, "working"), 50, model.StatusWaiting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			writeJSONL(t, filepath.Join(home, "projects", "-p", "s.jsonl"), testNow.Add(-tt.fileAge), tt.line)
			sessions := newTestClaude(home).FindSessions(context.Background(), []model.AgentProcess{{PID: 1, Cwd: "/p", CPUUsage: tt.cpu}})
			require.Len(t, sessions, 1)
			assert.Equal(t, tt.want, sessions[0].Status)
		})
	}
}

func TestClaudeSiblingTranscriptUpgradesStatus(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "projects", "-work-app")
	primary := filepath.Join(dir, "a.jsonl")
	writeJSONL(t, primary, testNow.Add(-20*time.Second), claudeLine("assistant", "sess", time.Minute, "waiting on you"))
	writeJSONL(t, filepath.Join(dir, "b.jsonl"), testNow.Add(-time.Second), claudeLine("user", "sess", time.Second, "continue"))
	writeJSONL(t, filepath.Join(dir, "c.jsonl"), testNow.Add(-time.Second), claudeLine("assistant", "other", time.Second, toolUse()))

	procs := []model.AgentProcess{{PID: 10, Cwd: "/work/app", ActiveSessionFile: primary}}
	sessions := newTestClaude(home).FindSessions(context.Background(), procs)
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess", sessions[0].ID)
	assert.Equal(t, model.StatusThinking, sessions[0].Status)
	assert.Equal(t, "waiting on you", sessions[0].LastMessage)
}

func TestClaudeSubagentCount(t *testing.T) {
	home := t.TempDir()
	dir := filepath.Join(home, "projects", "-work-app")
	writeJSONL(t, filepath.Join(dir, "main.jsonl"), testNow.Add(-10*time.Second), claudeLine("assistant", "sess", 10*time.Second, "delegating"))
	writeJSONL(t, filepath.Join(dir, "agent-a.jsonl"), testNow.Add(-5*time.Second), claudeLine("user", "sess", 5*time.Second, "task"))
	writeJSONL(t, filepath.Join(dir, "agent-b.jsonl"), testNow.Add(-5*time.Second), claudeLine("user", "other", 5*time.Second, "task"))
	writeJSONL(t, filepath.Join(dir, "agent-c.jsonl"), testNow.Add(-time.Minute), claudeLine("user", "sess", time.Minute, "task"))
	writeJSONL(t, filepath.Join(dir, "sess", "subagents", "agent-d.jsonl"), testNow.Add(-2*time.Second), claudeLine("user", "sess", 2*time.Second, "task"))

	sessions := newTestClaude(home).FindSessions(context.Background(), []model.AgentProcess{{PID: 1, Cwd: "/work/app"}})
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess", sessions[0].ID, "sub-agent transcripts are never primary")
	assert.Equal(t, 2, sessions[0].ActiveSubagentCount)
}

func TestClaudeFallbackSessions(t *testing.T) {
	home := t.TempDir()
	writeJSONL(t, filepath.Join(home, "projects", "-work-app", "s.jsonl"), testNow, claudeLine("user", "s", 0, "hi"))

	procs := []model.AgentProcess{
		{PID: 7},
		{PID: 8, Cwd: "/work/unknown", CPUUsage: 40},
		{PID: 9, Cwd: "/work/app"},
		{PID: 10, Cwd: "/work/app"},
	}
	sessions := newTestClaude(home).FindSessions(context.Background(), procs)
	require.Len(t, sessions, 4)

	byPID := make(map[int]model.Session)
	for _, s := range sessions {
		byPID[s.PID] = s
	}

	assert.Equal(t, "claude-7", byPID[7].ID)
	assert.Equal(t, "/", byPID[7].ProjectPath)
	assert.Equal(t, "Unknown", byPID[7].ProjectName)
	assert.Equal(t, model.StatusStale, byPID[7].Status)
	assert.True(t, byPID[7].IsBackground)

	assert.Equal(t, "claude-8", byPID[8].ID)
	assert.Equal(t, "unknown", byPID[8].ProjectName)
	assert.Equal(t, model.StatusProcessing, byPID[8].Status)
	assert.False(t, byPID[8].IsBackground)

	assert.Equal(t, "s", byPID[9].ID)
	assert.Equal(t, "claude-10", byPID[10].ID, "only one transcript to share")
}

func TestClaudeMissingProjectsDir(t *testing.T) {
	sessions := newTestClaude(t.TempDir()).FindSessions(context.Background(), []model.AgentProcess{{PID: 3, Cwd: "/x"}})
	require.Len(t, sessions, 1)
	assert.Equal(t, "claude-3", sessions[0].ID)
}

func TestClaudeDataHomePerProcess(t *testing.T) {
	defaultHome := t.TempDir()
	custom := t.TempDir()
	writeJSONL(t, filepath.Join(custom, "projects", "-p", "s.jsonl"), testNow, claudeLine("user", "custom-sess", 0, "hi"))

	sessions := newTestClaude(defaultHome).FindSessions(context.Background(), []model.AgentProcess{{PID: 1, Cwd: "/p", DataHome: custom}})
	require.Len(t, sessions, 1)
	assert.Equal(t, "custom-sess", sessions[0].ID)
}

func TestClaudeGithubURL(t *testing.T) {
	home := t.TempDir()
	writeJSONL(t, filepath.Join(home, "projects", "-p", "s.jsonl"), testNow, claudeLine("user", "s", 0, "hi"))
	c := NewClaude(Options{Home: home, Now: fixedClock, Remote: fakeRemote{"/p": "https://github.com/me/p"}})

	sessions := c.FindSessions(context.Background(), []model.AgentProcess{{PID: 1, Cwd: "/p"}})
	require.Len(t, sessions, 1)
	assert.Equal(t, "https://github.com/me/p", sessions[0].GithubURL)
}
