package agent

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// subagentWindow is how recently a sub-agent transcript must have been
// written to count as running.
const subagentWindow = 30 * time.Second

// subagentHeaderLines is how far into a sub-agent file the parent session id is looked for.
const subagentHeaderLines = 5

// isSubagentFile reports whether name follows the sub-agent transcript convention.
func isSubagentFile(name string) bool {
	return strings.HasPrefix(name, "agent-") && strings.HasSuffix(name, ".jsonl")
}

// countActiveSubagents counts sub-agent transcripts of sessionID written in
// the last subagentWindow. Both the flat layout (agent-*.jsonl next to the
// session) and the nested one (<session>/subagents/agent-*.jsonl) are scanned.
func countActiveSubagents(projectDir, sessionID string, now time.Time) int {
	if sessionID == "" {
		return 0
	}
	dirs := []string{
		projectDir,
		filepath.Join(projectDir, sessionID, "subagents"),
	}
	count := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !isSubagentFile(e.Name()) {
				continue
			}
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) >= subagentWindow {
				continue
			}
			if readClaudeSessionID(filepath.Join(dir, e.Name()), subagentHeaderLines) == sessionID {
				count++
			}
		}
	}
	return count
}
