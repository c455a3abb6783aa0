package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Eric-Song-Nop/agentwatch/internal/agent"
	"github.com/Eric-Song-Nop/agentwatch/internal/config"
	"github.com/Eric-Song-Nop/agentwatch/internal/model"
	"github.com/Eric-Song-Nop/agentwatch/internal/monitor"
	"github.com/Eric-Song-Nop/agentwatch/internal/platform"
	"github.com/Eric-Song-Nop/agentwatch/internal/procsnap"
	"github.com/Eric-Song-Nop/agentwatch/internal/vcs"
)

var errNoAgents = errors.New("no known agents selected")

// selectAgents resolves the --agents flag. An empty flag means every agent
// enabled in the config. Unknown names are reported on warn and skipped.
func selectAgents(c *config.Config, raw string, warn io.Writer) ([]model.AgentType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return c.EnabledAgents(), nil
	}

	known := make([]string, 0, len(model.AllAgents))
	for _, a := range model.AllAgents {
		known = append(known, string(a))
	}

	seen := make(map[model.AgentType]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		a, ok := model.ParseAgentType(name)
		if !ok {
			fmt.Fprintf(warn, "warning: unknown agent %q (known: %s)\n", name, strings.Join(known, ", "))
			continue
		}
		seen[a] = true
	}

	var out []model.AgentType
	for _, a := range model.AllAgents {
		if seen[a] {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, errNoAgents
	}
	return out, nil
}

// app is everything one command invocation polls with.
type app struct {
	monitor   *monitor.Monitor
	detectors []agent.Detector
	// resolver is nil when vcs lookups are disabled.
	resolver *vcs.Resolver
}

// newApp builds the process snapshot, the detectors for agents and the
// monitor over them.
func newApp(c *config.Config, agents []model.AgentType) *app {
	a := &app{}

	opts := agent.Options{OpenFilesTimeout: c.OpenFiles.Timeout}
	if c.VCS.Enabled {
		a.resolver = vcs.NewResolver(c.VCS.CacheTTL)
		opts.Remote = a.resolver
	}

	for _, t := range agents {
		o := opts
		switch t {
		case model.AgentClaude:
			o.Home = c.Claude.Home
			a.detectors = append(a.detectors, agent.NewClaude(o))
		case model.AgentCodex:
			o.Home = c.Codex.Home
			a.detectors = append(a.detectors, agent.NewCodex(o))
		case model.AgentOpenCode:
			o.Home = c.OpenCode.Storage
			a.detectors = append(a.detectors, agent.NewOpenCode(o))
		}
	}

	snap := procsnap.New(platform.P, c.Snapshot.MinInterval)
	a.monitor = monitor.New(snap, a.detectors...)

	names := make([]string, 0, len(a.detectors))
	for _, d := range a.detectors {
		names = append(names, d.Name())
	}
	cliLog.Debug("detectors_ready", slog.String("agents", strings.Join(names, ",")))
	return a
}

// storeRoots collects the on-disk roots of every detector that has one.
func (a *app) storeRoots() []string {
	var roots []string
	for _, d := range a.detectors {
		if l, ok := d.(agent.StoreLocator); ok {
			roots = append(roots, l.StoreRoots()...)
		}
	}
	return roots
}
