package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Eric-Song-Nop/agentwatch/internal/watch"
)

const clearScreen = "\033[H\033[2J"

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Redraw the session table until interrupted",
	Long: `Redraw the session table every poll interval. Changes to the agents'
session stores trigger an early redraw.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&listAgents, "agents", "", "Comma-separated agents to discover (claude,codex,opencode); default: config")
	watchCmd.Flags().BoolVarP(&listAll, "all", "a", false, "Include background sessions")
	watchCmd.Flags().StringVarP(&listFilter, "filter", "f", "", "Fuzzy filter on project name and path")
	watchCmd.Flags().DurationVarP(&watchInterval, "interval", "n", 0, "Poll interval (default: poll.interval from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	agents, err := selectAgents(cfg, listAgents, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	interval := cfg.Poll.Interval
	if watchInterval > 0 {
		interval = watchInterval
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, agents)
	changes := a.watchStores(ctx)

	out := cmd.OutOrStdout()
	tty, _ := terminal(out)
	r := newRenderer(out, tty)
	draw := func() error {
		resp := filterSessions(a.monitor.Poll(ctx), listFilter)
		_, width := terminal(out)
		if tty {
			fmt.Fprint(out, clearScreen)
		}
		return renderTable(out, resp, renderOptions{All: listAll, Width: width, r: r})
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if err := draw(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-changes:
		}
		if err := draw(); err != nil {
			return err
		}
	}
}

// watchStores starts a StoreWatcher over the detectors' store roots. The
// returned channel is nil, and never fires, when watching is unavailable.
func (a *app) watchStores(ctx context.Context) <-chan struct{} {
	sw, err := watch.New(a.storeRoots(), watch.DefaultDebounce)
	if err != nil {
		cliLog.Warn("store_watch_unavailable", slog.String("error", err.Error()))
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = sw.Close()
	}()
	go sw.Run(ctx)
	return sw.Changes()
}
