package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusmcp/internal/output"
	"github.com/Aman-CERP/corpusmcp/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the corpusmcp version",
		Run: func(cmd *cobra.Command, args []string) {
			output.New(cmd.OutOrStdout()).Println("corpusmcp " + version.Version)
		},
	}
}
