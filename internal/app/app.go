package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/session"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
	"github.com/vovakirdan/wirechat-sync/internal/transport/rest"
	"github.com/vovakirdan/wirechat-sync/internal/transport/ws"
)

// App wires configuration, transports and the session controller.
type App struct {
	cfg     *config.Config
	session *session.Controller
	archive store.Archive
	log     *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	api, err := rest.New(cfg.APIBaseURL, cfg.RequestTimeout, log.Component(logger, "rest"))
	if err != nil {
		return nil, fmt.Errorf("init api client: %w", err)
	}

	var archive store.Archive
	if cfg.ArchivePath != "" {
		st, err := sqlite.New(cfg.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("init archive: %w", err)
		}
		archive = st
		logger.Info().Str("archive_path", cfg.ArchivePath).Msg("history archive enabled")
	}

	ctl := session.New(api, archive, session.Options{
		Socket: ws.Options{
			BaseDelay:        cfg.ReconnectBaseDelay,
			MaxAttempts:      cfg.ReconnectMaxAttempts,
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxMessageBytes:  cfg.MaxMessageBytes,
		},
		HistoryLimit: cfg.HistoryLimit,
		SyncTimeout:  cfg.RequestTimeout,
	}, log.Component(logger, "session"))

	return &App{
		cfg:     cfg,
		session: ctl,
		archive: archive,
		log:     logger,
	}, nil
}

// Session returns the session controller.
func (a *App) Session() *session.Controller {
	return a.session
}

// Start connects the session with the configured credentials.
func (a *App) Start(ctx context.Context) error {
	if a.cfg.AccessToken == "" {
		return fmt.Errorf("start session: access token is not configured")
	}
	return a.session.Connect(ctx, a.cfg.WSFallbackURL, a.cfg.AccessToken, a.cfg.UserID)
}

// Close disconnects the session and releases the archive.
func (a *App) Close() {
	a.session.Disconnect()
	a.cleanup()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close archive")
		} else {
			a.log.Info().Msg("archive closed")
		}
	}
}
