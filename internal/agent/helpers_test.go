package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
)

// testNow is the fixed clock used by detector tests.
var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// fakeSource is an in-memory ProcessSource.
type fakeSource struct {
	procs     []platform.Process
	openFiles map[int][]string
	refreshes int
}

func (f *fakeSource) Refresh() bool { f.refreshes++; return true }

func (f *fakeSource) Each(fn func(p *platform.Process) bool) {
	for i := range f.procs {
		if !fn(&f.procs[i]) {
			return
		}
	}
}

func (f *fakeSource) Lookup(pid int) (platform.Process, bool) {
	for _, p := range f.procs {
		if p.PID == pid {
			return p, true
		}
	}
	return platform.Process{}, false
}

func (f *fakeSource) ListOpenFiles(_ context.Context, pid int) []string {
	return f.openFiles[pid]
}

// writeJSONL writes one JSON document per line and sets the file mtime.
func writeJSONL(t *testing.T, path string, mod time.Time, lines ...any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	var b strings.Builder
	for _, l := range lines {
		data, err := json.Marshal(l)
		require.NoError(t, err)
		b.Write(data)
		b.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	touch(t, path, mod)
}

// writeJSON writes a single JSON document.
func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func ts(d time.Duration) string {
	return testNow.Add(-d).Format(time.RFC3339Nano)
}

// claudeLine builds a transcript entry.
func claudeLine(typ, sessionID string, age time.Duration, content any) map[string]any {
	return map[string]any{
		"type":      typ,
		"sessionId": sessionID,
		"timestamp": ts(age),
		"gitBranch": "main",
		"message":   map[string]any{"role": typ, "content": content},
	}
}

func toolUse() []map[string]any {
	return []map[string]any{{"type": "tool_use", "id": "t1", "name": "Bash"}}
}

// appendRaw appends text to a file while keeping its mtime.
func appendRaw(t *testing.T, path, text string) {
	t.Helper()
	fi, err := os.Stat(path)
	require.NoError(t, err)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	touch(t, path, fi.ModTime())
}
