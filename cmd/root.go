package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Eric-Song-Nop/agentwatch/internal/config"
	"github.com/Eric-Song-Nop/agentwatch/internal/logging"
)

var (
	cfgPath string
	cfg     *config.Config
	debug   bool
)

var cliLog = logging.ForComponent(logging.CompCLI)

var rootCmd = &cobra.Command{
	Use:   "agentwatch",
	Short: "Show what your coding agents are doing",
	Long: `agentwatch finds running Claude Code, Codex and OpenCode processes, matches
each one to its conversation on disk and reports whether it is thinking,
working or waiting for you.

Run without a subcommand to print the current sessions once.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help command
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logging.Init(logging.Config{
			LogDir:     cfg.Log.Dir,
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			Debug:      debug,
		})
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Shutdown()
	},
	RunE: runList,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default: "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Mirror log output to stderr")
	addListFlags(rootCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}
