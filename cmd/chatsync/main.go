package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/log"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Realtime chat session client and dev server",
	Long: `chatsync keeps a local view of a chat account in sync with the server.

Available subcommands:
  run       - Connect a session and chat from the terminal
  devserver - Serve an in-memory chat backend for local testing
  token     - Issue a dev server access token`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ./chatsync.yaml or $WIRECHAT_CONFIG_DEFAULT_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devserverCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig resolves configuration and a logger honoring the root flags.
func loadConfig(overrides config.Config) (*config.Config, *zerolog.Logger, error) {
	boot := log.New("warn", nil)
	cfg, path, err := config.Load(boot, configPath)
	if err != nil {
		return nil, nil, err
	}
	overrides.LogLevel = logLevel
	cfg.UpdateFrom(overrides)

	logger := log.New(cfg.LogLevel, nil)
	logger.Debug().Str("config_path", path).Msg("configuration loaded")
	return &cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
