package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "fabricd",
	Short: "API Integration Fabric daemon",
	Long: `fabricd runs the Response Cache, Batch Processor, Polling Manager and
Webhook Manager that make up the API Integration Fabric, wired to a single
Gateway implementation.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
