// Package cmd provides the CLI commands for corpusmcp.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusmcp/internal/config"
	"github.com/Aman-CERP/corpusmcp/internal/logging"
	"github.com/Aman-CERP/corpusmcp/pkg/version"
)

var (
	flagDataDir    string
	flagDebug      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "corpusmcp",
		Short: "Personal knowledge-retrieval engine for AI agents",
		Long: `corpusmcp indexes a developer's working corpus (code, notes, documents)
and serves full-text, semantic, and keyword search to AI agents over MCP.

Run 'corpusmcp scan <dir>' to index a directory, then 'corpusmcp serve'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logCfg := logging.DefaultConfig()
			if cfg, err := config.Load(""); err == nil && cfg.Server.LogLevel != "" {
				logCfg.Level = cfg.Server.LogLevel
			}
			if flagDebug {
				logCfg.Level = "debug"
			}
			cleanup, err := logging.SetupDefault(logCfg)
			if err != nil {
				return err
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if loggingCleanup != nil {
				loggingCleanup()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "persisted state directory (default ~/data)")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		slog.Error("command_failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// loadConfig builds the effective config, honoring the --data-dir override.
func loadConfig(projectRoot string) (*config.Config, error) {
	cfg, err := config.Load(projectRoot)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.Paths.DataDir = flagDataDir
	}
	if flagDebug {
		cfg.Server.LogLevel = "debug"
	}
	return cfg, nil
}
