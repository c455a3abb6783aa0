package cmd

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/monitor"
)

var (
	listJSON   bool
	listAgents string
	listAll    bool
	listFilter string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the current agent sessions once",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	addListFlags(listCmd)
}

// addListFlags registers the output flags shared by the root and list
// commands.
func addListFlags(c *cobra.Command) {
	c.Flags().BoolVar(&listJSON, "json", false, "Output the full response as JSON")
	c.Flags().StringVar(&listAgents, "agents", "", "Comma-separated agents to discover (claude,codex,opencode); default: config")
	c.Flags().BoolVarP(&listAll, "all", "a", false, "Include background sessions")
	c.Flags().StringVarP(&listFilter, "filter", "f", "", "Fuzzy filter on project name and path")
}

func runList(cmd *cobra.Command, args []string) error {
	agents, err := selectAgents(cfg, listAgents, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a := newApp(cfg, agents)
	resp := filterSessions(a.monitor.Poll(cmd.Context()), listFilter)

	out := cmd.OutOrStdout()
	if listJSON {
		return writeJSON(out, resp)
	}
	tty, width := terminal(out)
	return renderTable(out, resp, renderOptions{
		All:   listAll,
		Width: width,
		r:     newRenderer(out, tty),
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sessionSource adapts sessions to fuzzy.Source.
type sessionSource []model.Session

func (s sessionSource) String(i int) string {
	return s[i].ProjectName + " " + s[i].ProjectPath
}

func (s sessionSource) Len() int { return len(s) }

// filterSessions keeps the sessions whose project fuzzy-matches pattern and
// recomputes the counts. Order is preserved.
func filterSessions(resp model.SessionsResponse, pattern string) model.SessionsResponse {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return resp
	}
	all := append(append([]model.Session{}, resp.Sessions...), resp.BackgroundSessions...)
	keep := make([]bool, len(all))
	for _, m := range fuzzy.FindFrom(pattern, sessionSource(all)) {
		keep[m.Index] = true
	}
	var matched []model.Session
	for i, s := range all {
		if keep[i] {
			matched = append(matched, s)
		}
	}
	return monitor.Aggregate(matched)
}
