package agent

import (
	"bufio"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// codexMessageLimit bounds live message previews.
const codexMessageLimit = 200

// codexBoilerplate are prefixes of injected preambles that are not conversation.
var codexBoilerplate = []string{
	"<environment_context>",
	"<permissions instructions>",
	"# AGENTS.md instructions",
}

// codexLine is one event of a rollout file.
type codexLine struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// codexPayload covers the payload fields of every event type we read.
type codexPayload struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Cwd     string `json:"cwd"`
	Role    string `json:"role"`
	Message string `json:"message"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Git *struct {
		Branch string `json:"branch"`
	} `json:"git"`
}

// codexRollout is the parsed summary of one rollout file.
type codexRollout struct {
	Path         string
	Mod          time.Time
	Size         int64
	Cwd          string
	SessionID    string
	GitBranch    string
	LastMessage  string
	LastRole     string
	LastActivity time.Time
}

// parseCodexRollout reads a whole rollout file. Malformed lines are skipped.
func parseCodexRollout(path string) (codexRollout, error) {
	f, err := os.Open(path)
	if err != nil {
		return codexRollout{}, err
	}
	defer f.Close()

	r := codexRollout{Path: path}
	var cwdMeta, cwdTurn, cwdEnv string

	br := bufio.NewReaderSize(f, 256*1024)
	for {
		raw, readErr := br.ReadString('\n')
		line := strings.TrimSpace(raw)
		if line != "" {
			var l codexLine
			var p codexPayload
			if json.Unmarshal([]byte(line), &l) == nil && json.Unmarshal(l.Payload, &p) == nil {
				switch l.Type {
				case "session_meta":
					if r.SessionID == "" {
						r.SessionID = p.ID
					}
					if cwdMeta == "" {
						cwdMeta = p.Cwd
					}
					if r.GitBranch == "" && p.Git != nil {
						r.GitBranch = p.Git.Branch
					}
				case "turn_context":
					if p.Cwd != "" {
						cwdTurn = p.Cwd
					}
				case "response_item":
					if p.Type != "message" {
						break
					}
					text := payloadText(p)
					if text == "" {
						break
					}
					if cwd := environmentCwd(text); cwd != "" {
						cwdEnv = cwd
					}
					if p.Role == "assistant" || p.Role == "user" {
						if msg, ok := normalizeCodexMessage(text); ok {
							r.setMessage(msg, p.Role, l.Timestamp)
						}
					}
				case "event_msg":
					if p.Type != "user_message" || p.Message == "" {
						break
					}
					if cwd := environmentCwd(p.Message); cwd != "" {
						cwdEnv = cwd
					}
					if msg, ok := normalizeCodexMessage(p.Message); ok {
						r.setMessage(msg, "user", l.Timestamp)
					}
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return codexRollout{}, readErr
		}
	}

	r.Cwd = selectCodexCwd(cwdTurn, cwdEnv, cwdMeta)
	return r, nil
}

func (r *codexRollout) setMessage(msg, role, ts string) {
	r.LastMessage = msg
	r.LastRole = role
	r.LastActivity = time.Time{}
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		r.LastActivity = t
	}
}

// payloadText returns the first output_text or input_text item.
func payloadText(p codexPayload) string {
	for _, item := range p.Content {
		if item.Type == "output_text" || item.Type == "input_text" {
			return item.Text
		}
	}
	return ""
}

// normalizeCodexMessage trims text, drops injected preambles and truncates.
func normalizeCodexMessage(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	for _, prefix := range codexBoilerplate {
		if strings.HasPrefix(trimmed, prefix) {
			return "", false
		}
	}
	return truncate(trimmed, codexMessageLimit), true
}

// environmentCwd extracts the <cwd>...</cwd> value of an environment context block.
func environmentCwd(text string) string {
	_, rest, ok := strings.Cut(text, "<cwd>")
	if !ok {
		return ""
	}
	cwd, _, ok := strings.Cut(rest, "</cwd>")
	if !ok {
		return ""
	}
	return strings.TrimSpace(cwd)
}

// selectCodexCwd picks the first candidate that is not the bare root, then
// settles for any non-empty one.
func selectCodexCwd(candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" && c != "/" {
			return c
		}
	}
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	return ""
}

// rolloutCache keeps parsed rollouts keyed by path, valid while mtime and
// size are unchanged. Rollouts are append-only, so this skips re-reading
// every finished session on every poll.
type rolloutCache struct {
	mu      sync.Mutex
	entries map[string]codexRollout
}

func newRolloutCache() *rolloutCache {
	return &rolloutCache{entries: make(map[string]codexRollout)}
}

type rolloutStat struct {
	path string
	mod  time.Time
	size int64
}

// scan walks dir for *.jsonl files, parses new or changed ones concurrently
// and returns all rollouts newest first. Entries for vanished files are evicted.
func (c *rolloutCache) scan(dir string) []codexRollout {
	var stats []rolloutStat
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats = append(stats, rolloutStat{path: path, mod: info.ModTime(), size: info.Size()})
		return nil
	})

	var out []codexRollout
	var stale []rolloutStat
	c.mu.Lock()
	seen := make(map[string]bool, len(stats))
	for _, st := range stats {
		seen[st.path] = true
		if r, ok := c.entries[st.path]; ok && r.Mod.Equal(st.mod) && r.Size == st.size {
			out = append(out, r)
			continue
		}
		stale = append(stale, st)
	}
	for path := range c.entries {
		if !seen[path] {
			delete(c.entries, path)
		}
	}
	c.mu.Unlock()

	parsed := ConcurrentMap(stale, func(st rolloutStat) *codexRollout {
		r, err := parseCodexRollout(st.path)
		if err != nil {
			codexLog.Debug("rollout_parse_failed", "path", st.path, "error", err.Error())
			return nil
		}
		r.Mod, r.Size = st.mod, st.size
		return &r
	})

	c.mu.Lock()
	for _, r := range parsed {
		c.entries[r.Path] = r
	}
	c.mu.Unlock()

	out = append(out, parsed...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Mod.Equal(out[j].Mod) {
			return out[i].Mod.After(out[j].Mod)
		}
		return out[i].Path < out[j].Path
	})
	return out
}
