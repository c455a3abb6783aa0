package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// openCodeTime holds millisecond epoch timestamps.
type openCodeTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

type openCodeProject struct {
	ID        string       `json:"id"`
	Worktree  string       `json:"worktree"`
	Sandboxes []string     `json:"sandboxes"`
	Time      openCodeTime `json:"time"`
}

type openCodeSession struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectID"`
	Directory string       `json:"directory"`
	Title     string       `json:"title"`
	Time      openCodeTime `json:"time"`
}

type openCodeMessage struct {
	ID        string       `json:"id"`
	SessionID string       `json:"sessionID"`
	Role      string       `json:"role"`
	Time      openCodeTime `json:"time"`
}

type openCodePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// globalProjectID marks sessions not tied to a registered project.
const globalProjectID = "global"

// openCodeStore reads the storage tree:
//
//	project/{id}.json
//	session/{projectID}/{id}.json
//	message/{sessionID}/{id}.json
//	part/{messageID}/{id}.json
type openCodeStore struct {
	root string
}

// readJSONDir decodes every *.json file in dir, in file name order.
// Unreadable or malformed documents are skipped.
func readJSONDir[T any](dir string) []T {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []T
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s openCodeStore) projects() []openCodeProject {
	return readJSONDir[openCodeProject](filepath.Join(s.root, "project"))
}

// sessions returns a project's sessions, most recently updated first.
func (s openCodeStore) sessions(projectID string) []openCodeSession {
	sessions := readJSONDir[openCodeSession](filepath.Join(s.root, "session", projectID))
	sort.SliceStable(sessions, func(i, j int) bool {
		if sessions[i].Time.Updated != sessions[j].Time.Updated {
			return sessions[i].Time.Updated > sessions[j].Time.Updated
		}
		return sessions[i].ID > sessions[j].ID
	})
	return sessions
}

// lastMessage walks a session's messages newest first and returns the role
// and text of the first one with displayable content.
func (s openCodeStore) lastMessage(sessionID string) (role, text string) {
	messages := readJSONDir[openCodeMessage](filepath.Join(s.root, "message", sessionID))
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].Time.Created != messages[j].Time.Created {
			return messages[i].Time.Created > messages[j].Time.Created
		}
		return messages[i].ID > messages[j].ID
	})
	for _, m := range messages {
		if t := s.messageText(m.ID); t != "" {
			return m.Role, t
		}
	}
	return "", ""
}

// messageText prefers the last "text" part and falls back to the first
// "reasoning" part. Injected instruction blocks are not displayable.
func (s openCodeStore) messageText(messageID string) string {
	var text, reasoning string
	for _, p := range readJSONDir[openCodePart](filepath.Join(s.root, "part", messageID)) {
		switch p.Type {
		case "text":
			if p.Text != "" {
				text = p.Text
			}
		case "reasoning":
			if reasoning == "" {
				reasoning = p.Text
			}
		}
	}
	content := text
	if content == "" {
		content = reasoning
	}
	if content == "" || isInstructionBlock(content) {
		return ""
	}
	return truncate(content, openCodeMessageLimit)
}

// isInstructionBlock matches XML-like mode/system blocks injected into prompts.
func isInstructionBlock(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "<") && (strings.Contains(s, "ultrawork") || strings.Contains(s, "mode>"))
}

// pathWithin reports whether path equals root or lies beneath it. A root of
// "/" only matches "/" itself.
func pathWithin(path, root string) bool {
	if root == "" {
		return false
	}
	root = strings.TrimRight(root, "/")
	if root == "" {
		return path == "/"
	}
	return path == root || strings.HasPrefix(path, root+"/")
}

// matchLength returns the length of the longest project root containing
// cwd, or -1 when none does.
func (p openCodeProject) matchLength(cwd string) int {
	best := -1
	for _, root := range append([]string{p.Worktree}, p.Sandboxes...) {
		if pathWithin(cwd, root) && len(root) > best {
			best = len(root)
		}
	}
	return best
}
