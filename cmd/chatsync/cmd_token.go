package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/devserver"
)

var (
	tokenUserID   int64
	tokenUsername string
	tokenTTL      time.Duration
)

// tokenCmd prints a dev server access token
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a dev server access token",
	Long: `Sign an access token with the dev server secret from the config.
The token is printed to stdout so it can be passed to "chatsync run --token".`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().Int64Var(&tokenUserID, "user-id", 0, "User id to embed in the token")
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "Username to embed in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
	_ = tokenCmd.MarkFlagRequired("user-id")
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(config.Config{})
	if err != nil {
		return err
	}
	if tokenUserID <= 0 {
		return fmt.Errorf("--user-id must be positive")
	}
	username := tokenUsername
	if username == "" {
		username = fmt.Sprintf("user%d", tokenUserID)
	}

	tokens := app.TokenConfig(cfg)
	tokens.TTL = tokenTTL
	token, err := devserver.IssueToken(&tokens, tokenUserID, username)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
