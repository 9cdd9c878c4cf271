package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusmcp/internal/logging"
	"github.com/Aman-CERP/corpusmcp/internal/output"
)

func newLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View engine logs",
		Long: `Shows the engine's JSON logs, including rotated files. By default the
last 50 lines are printed; use -f to follow new entries like 'tail -f'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := logFile
			if path == "" {
				path = logging.DefaultLogPath()
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no log file at %s", path)
			}

			var pattern *regexp.Regexp
			if filter != "" {
				var err error
				pattern, err = regexp.Compile(filter)
				if err != nil {
					return fmt.Errorf("invalid --filter pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{Level: level, Pattern: pattern})
			out := output.New(os.Stdout)

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				out.Println(logging.FormatEntry(entry))
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			err = viewer.Follow(ctx, path, func(entry logging.Entry) {
				out.Println(logging.FormatEntry(entry))
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "minimum level to show (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "filter by regex pattern")
	cmd.Flags().StringVar(&logFile, "file", "", "custom log file path")
	return cmd
}
