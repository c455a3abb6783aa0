package agent

import (
	"context"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"abcdef", 3, "abc..."},
		{"héllo wörld", 5, "héllo..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.max), tt.in)
	}
}

func TestProjectName(t *testing.T) {
	assert.Equal(t, "app", projectName("/work/app"))
	assert.Equal(t, "app", projectName("/work/app/"))
	assert.Equal(t, "Unknown", projectName("/"))
	assert.Equal(t, "Unknown", projectName(""))
}

func TestIsBackground(t *testing.T) {
	assert.True(t, isBackground("/", ""))
	assert.True(t, isBackground("/", "   "))
	assert.False(t, isBackground("/", "hello"))
	assert.False(t, isBackground("/work", ""))
}

func TestFallbackSession(t *testing.T) {
	s := fallbackSession(model.AgentCodex, model.AgentProcess{PID: 42, CPUUsage: 1, MemoryBytes: 10}, testNow)
	assert.Equal(t, "codex-42", s.ID)
	assert.Equal(t, model.AgentCodex, s.AgentType)
	assert.Equal(t, "/", s.ProjectPath)
	assert.Equal(t, model.StatusStale, s.Status)
	assert.Equal(t, model.FormatTimestamp(testNow), s.LastActivityAt)
	assert.Equal(t, uint64(10), s.MemoryBytes)
	assert.True(t, s.IsBackground)

	s = fallbackSession(model.AgentClaude, model.AgentProcess{PID: 7, Cwd: "/srv/x", CPUUsage: 16}, testNow)
	assert.Equal(t, "x", s.ProjectName)
	assert.Equal(t, model.StatusProcessing, s.Status)
	assert.False(t, s.IsBackground)
}

func TestFallbackSessionUsesProcessStart(t *testing.T) {
	started := testNow.Add(-3 * time.Hour)
	p := model.AgentProcess{PID: 9, Cwd: "/srv/x", StartedAt: started}
	first := fallbackSession(model.AgentOpenCode, p, testNow)
	later := fallbackSession(model.AgentOpenCode, p, testNow.Add(time.Minute))
	assert.Equal(t, model.FormatTimestamp(started), first.LastActivityAt)
	assert.Equal(t, first, later)
}

func TestOptionsIsSelf(t *testing.T) {
	o := Options{SelfPID: 5}
	assert.True(t, o.isSelf(&platform.Process{PID: 5, Name: "claude"}))
	assert.True(t, o.isSelf(&platform.Process{PID: 6, Name: "agentwatch"}))
	assert.False(t, o.isSelf(&platform.Process{PID: 6, Name: "claude"}))
}

func TestGithubURLSkipsRoot(t *testing.T) {
	o := Options{Remote: fakeRemote{"/": "https://github.com/x/root", "/p": "https://github.com/x/p"}}
	assert.Empty(t, o.githubURL(context.Background(), "/"))
	assert.Empty(t, o.githubURL(context.Background(), "/missing"))
	assert.Equal(t, "https://github.com/x/p", o.githubURL(context.Background(), "/p"))
	assert.Empty(t, Options{}.githubURL(context.Background(), "/p"))
}

func TestConcurrentMap(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	var running, peak atomic.Int32
	got := ConcurrentMap(items, func(i int) *int {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		if i%2 == 1 {
			return nil
		}
		sq := i * i
		return &sq
	})

	sort.Ints(got)
	assert.Len(t, got, 25)
	assert.Equal(t, 0, got[0])
	assert.Equal(t, 48*48, got[24])
	assert.LessOrEqual(t, peak.Load(), int32(mapLimit))
}

func TestActiveSessionFilePicksNewest(t *testing.T) {
	dir := t.TempDir()
	older := dir + "/a.jsonl"
	newer := dir + "/b.jsonl"
	writeJSONL(t, older, testNow.Add(-time.Minute), map[string]any{})
	writeJSONL(t, newer, testNow, map[string]any{})

	src := &fakeSource{openFiles: map[int][]string{1: {older, dir + "/c.log", newer}}}
	match := func(p string) bool { return p != dir+"/c.log" }

	assert.Equal(t, newer, activeSessionFile(context.Background(), src, 1, time.Second, match))
	assert.Empty(t, activeSessionFile(context.Background(), src, 1, 0, match))
	assert.Empty(t, activeSessionFile(context.Background(), src, 2, time.Second, match))
}
