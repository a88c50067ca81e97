package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bobmcallan/hilci/internal/app"
	"github.com/bobmcallan/hilci/internal/common"
	"github.com/bobmcallan/hilci/internal/server"
)

var (
	simulate         bool
	analyzerToolPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HIL-CI server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(app.Options{
			ConfigPath:       resolveConfigPath(),
			Simulate:         simulate,
			AnalyzerToolPath: analyzerToolPath,
		})
		if err != nil {
			return fmt.Errorf("initialize app: %w", err)
		}

		common.PrintBanner(a.Config, a.Logger, simulate)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.Run(ctx)

		srv := server.New(a)
		go func() {
			if err := srv.Start(); err != nil {
				a.Logger.Error().Err(err).Msg("HTTP server failed")
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		a.Logger.Info().Msg("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("HTTP server shutdown failed")
		}

		common.PrintShutdownBanner(a.Logger)
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&simulate, "simulate", false, "use the in-memory simulated probe driver instead of real hardware")
	serveCmd.Flags().StringVar(&analyzerToolPath, "analyzer-tool", "", "path to the external logic-analyzer capture tool (empty disables capture)")
	rootCmd.AddCommand(serveCmd)
}
