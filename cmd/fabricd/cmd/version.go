package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at link time via -ldflags "-X ...cmd.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the fabricd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "fabricd version %s\n", version)
		return nil
	},
}
