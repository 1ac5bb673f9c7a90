package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
)

var devAddr string

// devserverCmd serves the in-memory backend
var devserverCmd = &cobra.Command{
	Use:   "devserver",
	Short: "Serve an in-memory chat backend",
	Long: `Start a local chat backend with REST, notification discovery and a
websocket gateway. State lives in memory and is lost on exit.

Two public channels, #general and #random, are created on start.`,
	RunE: runDevserver,
}

func init() {
	devserverCmd.Flags().StringVar(&devAddr, "addr", "", "HTTP listen address")
}

func runDevserver(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.Config{DevAddr: devAddr})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := app.NewDevServer(cfg, logger)
	logger.Info().Str("addr", cfg.DevAddr).Msg("starting dev server")
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("dev server exited with error")
		return err
	}
	logger.Info().Msg("dev server stopped")
	return nil
}
