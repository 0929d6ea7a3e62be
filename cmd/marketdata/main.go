package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "time/tzdata" // Embed zone data so Asia/Shanghai resolves on minimal images
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "marketdata",
		Short:        "Managed market-data ingestion pipeline",
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if configPath != "" {
				_ = os.Setenv("CONFIG_FILE", configPath)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides CONFIG_FILE)")

	root.AddCommand(newServeCmd(), newIngestCmd())
	return root
}
