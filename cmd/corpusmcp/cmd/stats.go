package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusmcp/internal/output"
)

func newStatsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cwd)
			if err != nil {
				return err
			}

			e, err := openEngine(cfg)
			if err != nil {
				return err
			}
			defer e.close()

			st, err := e.st.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(os.Stdout)
			if asJSON {
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				out.Println(string(data))
				return nil
			}

			out.Printf("files:       %d", st.Files)
			out.Printf("chunks:      %d", st.Chunks)
			out.Printf("embeddings:  %d", st.Embeddings)
			out.Printf("size:        %d bytes", st.SizeOnDiskBytes)
			out.Printf("write epoch: %d", st.WriteEpoch)
			out.Printf("index state: %s", e.index.State())
			for ext, count := range st.PerExtension {
				out.Dim("  .%s: %d", ext, count)
			}
			if st.LastSession != nil {
				s := st.LastSession
				out.Dim("last session %s: %d processed, %d skipped, %d failed, interrupted=%v",
					s.ID, s.Processed, s.Skipped, s.Failed, s.Interrupted)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
