package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/carwatch/internal/output"
	"github.com/jmylchreest/carwatch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := version.Get()
		if name, _ := cmd.Flags().GetString("format"); name != "" && name != string(output.FormatTable) {
			return render(cmd, info)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Full())
		return err
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
