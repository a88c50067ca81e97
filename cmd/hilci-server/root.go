package main

import (
	"github.com/spf13/cobra"

	"github.com/bobmcallan/hilci/internal/app"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hilci-server",
	Short: "Hardware-in-the-loop continuous integration server",
	Long: `hilci-server accepts build-and-test jobs targeting real microcontrollers
attached to debug probes, flashes and runs them, and reports pass/fail back
to the caller.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the JSON config file (default: $HILCI_CONFIG or ./hilci.config.json)")
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return app.DefaultConfigPath()
}
