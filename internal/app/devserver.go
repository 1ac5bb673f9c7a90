package app

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/devserver"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// DevBotID is the user that owns the seeded dev channels.
const DevBotID int64 = 1

// TokenConfig returns the dev server's token settings.
func TokenConfig(cfg *config.Config) devserver.TokenConfig {
	return devserver.TokenConfig{
		Secret:   []byte(cfg.DevJWTSecret),
		Issuer:   cfg.DevJWTIssuer,
		Audience: cfg.DevJWTAudience,
	}
}

// NewDevServer builds a dev server with a couple of public channels.
func NewDevServer(cfg *config.Config, logger *zerolog.Logger) *devserver.Server {
	srv := devserver.New(devserver.Options{
		Addr:              cfg.DevAddr,
		Tokens:            TokenConfig(cfg),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		SendLimit:         cfg.DevSendLimit,
	}, logger)

	srv.AddUser(proto.User{ID: DevBotID, Username: "wirebot", IsBot: true})
	general := srv.AddChannel("#general", "PUBLIC", "General discussion", DevBotID)
	srv.AddChannel("#random", "PUBLIC", "Off-topic", DevBotID)
	if _, err := srv.Post(general, DevBotID, "welcome to the dev server"); err != nil {
		logger.Warn().Err(err).Msg("seed welcome message")
	}
	return srv
}
