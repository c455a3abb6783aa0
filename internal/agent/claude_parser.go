package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Eric-Song-Nop/agentwatch/internal/status"
)

// claudeTailLines is how many trailing lines of a transcript are inspected.
const claudeTailLines = 100

// claudeMessageLimit bounds the preview kept for tooltips.
const claudeMessageLimit = 5000

const interruptedMarker = "[Request interrupted by user]"

// localCommands are slash commands Claude Code handles without a model turn.
var localCommands = map[string]bool{
	"/clear": true, "/compact": true, "/help": true, "/config": true,
	"/cost": true, "/doctor": true, "/init": true, "/login": true,
	"/logout": true, "/memory": true, "/model": true, "/permissions": true,
	"/pr-comments": true, "/review": true, "/status": true,
	"/terminal-setup": true, "/vim": true,
}

// claudeEntry is one line of a Claude Code transcript.
type claudeEntry struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	GitBranch string `json:"gitBranch"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// claudeBlock is one element of an array-valued message content.
type claudeBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// claudeContent is message content, which is either a string or blocks.
type claudeContent struct {
	Text   string
	Blocks []claudeBlock
}

func parseClaudeContent(raw json.RawMessage) (claudeContent, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return claudeContent{}, false
	}
	var c claudeContent
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &c.Text); err != nil {
			return c, false
		}
		return c, c.Text != ""
	}
	if err := json.Unmarshal(raw, &c.Blocks); err != nil {
		return c, false
	}
	return c, len(c.Blocks) > 0
}

func (c claudeContent) hasBlock(typ string) bool {
	for _, b := range c.Blocks {
		if b.Type == typ {
			return true
		}
	}
	return false
}

// texts returns the string content or every text block.
func (c claudeContent) texts() []string {
	if c.Text != "" {
		return []string{c.Text}
	}
	var out []string
	for _, b := range c.Blocks {
		if b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// displayText is the string content or the first non-empty text block.
func (c claudeContent) displayText() string {
	if t := c.texts(); len(t) > 0 {
		return t[0]
	}
	return ""
}

func (c claudeContent) isInterrupted() bool {
	for _, t := range c.texts() {
		if strings.Contains(t, interruptedMarker) {
			return true
		}
	}
	return false
}

func (c claudeContent) isLocalCommand() bool {
	for _, t := range c.texts() {
		if IsLocalCommand(t) {
			return true
		}
	}
	return false
}

// IsLocalCommand reports whether text is a built-in slash command, with or
// without arguments. The tagged form Claude Code records
// ("<command-name>/clear</command-name>...") is accepted too.
func IsLocalCommand(text string) bool {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "<command-name>"); ok {
		if name, _, ok := strings.Cut(rest, "</command-name>"); ok {
			text = strings.TrimSpace(name)
		}
	}
	if !strings.HasPrefix(text, "/") {
		return false
	}
	name, _, _ := strings.Cut(text, " ")
	return localCommands[name]
}

// claudeTranscript is what a transcript tail says about its session.
type claudeTranscript struct {
	SessionID string
	GitBranch string
	// Timestamp of the newest entry that has one; zero when none parse.
	Timestamp time.Time
	// Signals carries role and content flags; recency flags are left unset.
	Signals         status.Signals
	LastMessage     string
	LastMessageRole string
}

// parseClaudeFile reads the last claudeTailLines lines of a transcript and
// extracts the session id, status signals and last displayable text.
func parseClaudeFile(path string) (claudeTranscript, error) {
	f, err := os.Open(path)
	if err != nil {
		return claudeTranscript{}, err
	}
	defer f.Close()

	lines, err := tailLines(f, claudeTailLines)
	if err != nil {
		return claudeTranscript{}, err
	}
	return parseClaudeLines(lines), nil
}

// tailLines keeps the last n non-empty lines of r in a ring buffer.
func tailLines(r io.Reader, n int) ([]string, error) {
	ring := make([]string, n)
	count := 0
	br := bufio.NewReaderSize(r, 256*1024)
	for {
		line, err := br.ReadString('\n')
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			ring[count%n] = trimmed
			count++
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if count <= n {
		return ring[:count], nil
	}
	start := count % n
	return append(ring[start:], ring[:start]...), nil
}

func parseClaudeLines(lines []string) claudeTranscript {
	var t claudeTranscript
	entries := make([]*claudeEntry, len(lines))
	for i, line := range lines {
		var e claudeEntry
		if json.Unmarshal([]byte(line), &e) == nil {
			entries[i] = &e
		}
	}

	// Newest first: metadata and the entry that drives status.
	foundStatus := false
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e == nil {
			continue
		}
		if t.SessionID == "" {
			t.SessionID = e.SessionID
		}
		if t.GitBranch == "" {
			t.GitBranch = e.GitBranch
		}
		if t.Timestamp.IsZero() && e.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				t.Timestamp = ts
			}
		}
		if !foundStatus && e.Message != nil {
			if c, ok := parseClaudeContent(e.Message.Content); ok {
				role := e.Type
				if role != status.RoleUser && role != status.RoleAssistant {
					role = e.Message.Role
				}
				t.Signals = status.Signals{
					Role:           role,
					HasToolUse:     c.hasBlock("tool_use"),
					HasToolResult:  c.hasBlock("tool_result"),
					IsLocalCommand: c.isLocalCommand(),
					IsInterrupted:  c.isInterrupted(),
				}
				foundStatus = true
			}
		}
		if foundStatus && t.SessionID != "" && t.GitBranch != "" && !t.Timestamp.IsZero() {
			break
		}
	}

	// Newest displayable text from either role.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e == nil || e.Message == nil {
			continue
		}
		c, ok := parseClaudeContent(e.Message.Content)
		if !ok {
			continue
		}
		if text := c.displayText(); text != "" {
			t.LastMessage = truncate(text, claudeMessageLimit)
			t.LastMessageRole = e.Message.Role
			break
		}
	}
	return t
}

// readClaudeSessionID returns the first sessionId within the first n lines.
func readClaudeSessionID(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64*1024)
	for i := 0; i < n; i++ {
		line, err := br.ReadString('\n')
		var e claudeEntry
		if json.Unmarshal([]byte(line), &e) == nil && e.SessionID != "" {
			return e.SessionID
		}
		if err != nil {
			break
		}
	}
	return ""
}
