package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Eric-Song-Nop/agentwatch/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve sessions over HTTP and WebSocket",
	Long: `Serve the session list for a dashboard.

  GET /api/sessions            current SessionsResponse
  GET /api/diffstat?path=DIR   uncommitted line counts of a repository
  GET /healthz                 liveness
  GET /ws                      pushes {"type":"sessions",...} on every change`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		agents, err := selectAgents(cfg, listAgents, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		addr := cfg.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a := newApp(cfg, agents)
		var diff server.DiffStater
		if a.resolver != nil {
			diff = a.resolver
		}
		srv := server.New(a.monitor, diff, cfg.Poll.Interval)

		changes := a.watchStores(ctx)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-changes:
					srv.Trigger()
				}
			}
		}()

		cmd.PrintErrf("agentwatch listening on http://%s\n", addr)
		return srv.ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	serveCmd.Flags().StringVar(&listAgents, "agents", "", "Comma-separated agents to discover (claude,codex,opencode); default: config")
}
