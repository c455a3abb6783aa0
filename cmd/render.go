package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
)

// Status colors, borrowed from the Tokyo Night palette.
var statusColors = map[model.SessionStatus]lipgloss.Color{
	model.StatusThinking:   lipgloss.Color("#bb9af7"),
	model.StatusProcessing: lipgloss.Color("#7aa2f7"),
	model.StatusWaiting:    lipgloss.Color("#e0af68"),
	model.StatusIdle:       lipgloss.Color("#787fa0"),
	model.StatusStale:      lipgloss.Color("#565f89"),
}

const (
	colSep = "  "
	// minMessageWidth keeps the message column readable on narrow terminals.
	minMessageWidth = 20
)

var tableHeader = []string{"AGENT", "STATUS", "PROJECT", "BRANCH", "PID", "CPU", "MEM", "ACTIVE", "SUB", "MESSAGE"}

const statusCol = 1

type renderOptions struct {
	// All includes background sessions.
	All bool
	// Width is the terminal width; 0 leaves messages untruncated.
	Width int
	Now   time.Time
	r     *lipgloss.Renderer
}

// terminal reports whether w is a terminal and, if so, its width.
func terminal(w io.Writer) (bool, int) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false, 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return true, 0
	}
	return true, width
}

// newRenderer returns a lipgloss renderer for w. Colors are dropped when w is
// not a terminal or NO_COLOR is set.
func newRenderer(w io.Writer, tty bool) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	if !tty || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

func (o renderOptions) renderer() *lipgloss.Renderer {
	if o.r != nil {
		return o.r
	}
	r := lipgloss.NewRenderer(io.Discard)
	r.SetColorProfile(termenv.Ascii)
	return r
}

// renderTable writes the sessions as an aligned table followed by a summary.
func renderTable(w io.Writer, resp model.SessionsResponse, opts renderOptions) error {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	r := opts.renderer()

	if len(resp.Sessions) == 0 && (!opts.All || len(resp.BackgroundSessions) == 0) {
		_, err := fmt.Fprintln(w, "No agent sessions found.")
		return err
	}

	var b strings.Builder
	rows := make([][]string, 0, len(resp.Sessions))
	for i := range resp.Sessions {
		rows = append(rows, sessionRow(&resp.Sessions[i], opts.Now))
	}
	var bgRows [][]string
	if opts.All {
		for i := range resp.BackgroundSessions {
			bgRows = append(bgRows, sessionRow(&resp.BackgroundSessions[i], opts.Now))
		}
	}

	widths := columnWidths(append(append([][]string{tableHeader}, rows...), bgRows...))
	msgWidth := 0
	if opts.Width > 0 {
		used := 0
		for _, cw := range widths[:len(widths)-1] {
			used += cw + len(colSep)
		}
		msgWidth = max(opts.Width-used, minMessageWidth)
	}

	bold := r.NewStyle().Bold(true)
	writeRow(&b, tableHeader, widths, msgWidth, func(col int, cell string) string {
		return bold.Render(cell)
	})
	colorize := func(col int, cell string) string {
		if col != statusCol {
			return cell
		}
		c, ok := statusColors[model.SessionStatus(strings.TrimSpace(cell))]
		if !ok {
			return cell
		}
		return r.NewStyle().Foreground(c).Render(cell)
	}
	for _, row := range rows {
		writeRow(&b, row, widths, msgWidth, colorize)
	}
	if len(bgRows) > 0 {
		b.WriteString("\n")
		b.WriteString(bold.Render("BACKGROUND"))
		b.WriteString("\n")
		for _, row := range bgRows {
			writeRow(&b, row, widths, msgWidth, colorize)
		}
	}

	b.WriteString("\n")
	b.WriteString(summary(resp, opts.All))
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func summary(resp model.SessionsResponse, all bool) string {
	s := fmt.Sprintf("%d %s, %d waiting", resp.TotalCount, plural(resp.TotalCount, "session"), resp.WaitingCount)
	if n := len(resp.BackgroundSessions); n > 0 && !all {
		s += fmt.Sprintf(", %d background (use --all to show)", n)
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// sessionRow formats one session in tableHeader order.
func sessionRow(s *model.Session, now time.Time) []string {
	branch := s.GitBranch
	if branch == "" {
		branch = "-"
	}
	active := "-"
	if t := s.ActivityTime(); !t.IsZero() {
		active = humanize.RelTime(t, now, "ago", "from now")
	}
	sub := "-"
	if s.ActiveSubagentCount > 0 {
		sub = fmt.Sprint(s.ActiveSubagentCount)
	}
	msg := strings.Join(strings.Fields(s.LastMessage), " ")
	if msg != "" && s.LastMessageRole != "" {
		msg = s.LastMessageRole + ": " + msg
	}
	return []string{
		string(s.AgentType),
		string(s.Status),
		s.ProjectName,
		branch,
		fmt.Sprint(s.PID),
		fmt.Sprintf("%.1f%%", s.CPUUsage),
		humanize.Bytes(s.MemoryBytes),
		active,
		sub,
		msg,
	}
}

// columnWidths measures display width, so wide runes line up.
func columnWidths(rows [][]string) []int {
	widths := make([]int, len(tableHeader))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}
	return widths
}

// writeRow pads every cell but the last before styling it, since escape
// sequences would otherwise count towards the column width.
func writeRow(b *strings.Builder, row []string, widths []int, msgWidth int, style func(col int, cell string) string) {
	last := len(row) - 1
	for i, cell := range row {
		if i == last {
			if msgWidth > 0 {
				cell = runewidth.Truncate(cell, msgWidth, "...")
			}
			b.WriteString(style(i, cell))
			break
		}
		b.WriteString(style(i, runewidth.FillRight(cell, widths[i])))
		b.WriteString(colSep)
	}
	b.WriteString("\n")
}
