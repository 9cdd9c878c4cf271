package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusmcp/internal/output"
	"github.com/Aman-CERP/corpusmcp/internal/scanner"
)

func newScanCmd() *cobra.Command {
	var (
		workers int
		include []string
		exclude []string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Index a directory tree",
		Long: `Walks the directory, chunks and embeds changed files, and writes them to
storage in bounded batches. Interrupt with Ctrl-C: in-flight files finish,
progress persists, and the session is audited as interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if workers > 0 {
				cfg.Scanner.Workers = workers
			}

			e, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer e.close()

			out := output.New(os.Stdout)
			e.scanner.Progress = func(processed, discovered int) {
				out.Dim("\rindexed %d/%d files", processed, discovered)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, err := e.scanner.Run(ctx, scanner.Options{
				Root:    root,
				Include: append(cfg.Paths.Include, include...),
				Exclude: append(cfg.Paths.Exclude, exclude...),
				Workers: cfg.Scanner.Workers,
				Force:   force,
			})
			if err != nil {
				return err
			}

			if sess.Interrupted {
				out.Warning("scan interrupted: %d processed, %d skipped, %d failed (of %d discovered)",
					sess.Processed, sess.Skipped, sess.Failed, sess.Discovered)
			} else {
				out.Success("scan complete: %d processed, %d skipped, %d failed (of %d discovered)",
					sess.Processed, sess.Skipped, sess.Failed, sess.Discovered)
			}
			out.Dim("session %s", sess.ID)
			if sess.Failed > 0 {
				return fmt.Errorf("%d files failed; see the log for details", sess.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (default: config or NumCPU)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "glob patterns to include")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest files even when the content hash is unchanged")
	return cmd
}
