package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sentinelctl version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(ioOut, "sentinelctl %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
