package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	engerr "github.com/Aman-CERP/corpusmcp/internal/errors"
	"github.com/Aman-CERP/corpusmcp/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var scanRoot string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the retrieval tools over MCP stdio",
		Long: `Starts the long-lived server: it owns the store connection pool, the
embedder, and the lazily built vector index, and dispatches tool requests
concurrently. With --scan-root a background scan runs under supervision.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cwd)
			if err != nil {
				return err
			}
			if watch {
				cfg.Watcher.Enabled = true
			}

			e, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer e.close()

			server, err := mcp.NewServer(e.st, e.index, e.embedder, e.scanner, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = server.Run(ctx, scanRoot)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil // clean shutdown, exit 0
			}
			if engerr.IsFatal(err) {
				slog.Error("fatal_engine_error", slog.String("error", err.Error()))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&scanRoot, "scan-root", "", "run a supervised background scan of this directory")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep the index warm with a file-system watcher (requires --scan-root)")
	return cmd
}
