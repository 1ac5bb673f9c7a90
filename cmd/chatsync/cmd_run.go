package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-sync/internal/app"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/session"
)

var (
	runAPI         string
	runWS          string
	runAccessToken string
	runUserID      int64
	runChannel     int64
	runArchive     string
)

// runCmd connects a session and chats from stdin
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect a session and chat from the terminal",
	Long: `Connect to the chat server, print new messages as they arrive and send
lines typed on stdin to the active channel.

Commands:
  /me <action>          send an action to the active channel
  /join <channel-id>    join a channel
  /leave <channel-id>   leave a channel
  /switch <channel-id>  make a channel active and mark it read
  /pm <user-id> <text>  open a private chat
  /retry <id>           resend a failed message
  /dismiss <id>         forget a failed message
  /quit                 disconnect and exit`,
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVar(&runAPI, "api", "", "REST API base URL")
	runCmd.Flags().StringVar(&runWS, "ws", "", "Fallback websocket endpoint")
	runCmd.Flags().StringVar(&runAccessToken, "token", "", "Access token")
	runCmd.Flags().Int64Var(&runUserID, "user-id", 0, "Id of the authenticated user")
	runCmd.Flags().Int64Var(&runChannel, "channel", 0, "Channel to join and activate after connect")
	runCmd.Flags().StringVar(&runArchive, "archive", "", "SQLite file for the local history archive")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(config.Config{
		APIBaseURL:    runAPI,
		WSFallbackURL: runWS,
		AccessToken:   runAccessToken,
		UserID:        runUserID,
		ArchivePath:   runArchive,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	ctl := application.Session()
	out := cmd.OutOrStdout()

	if runChannel != 0 {
		if _, err := ctl.JoinChannel(ctx, runChannel); err != nil {
			logger.Warn().Err(err).Int64("channel_id", runChannel).Msg("join failed")
		} else if err := ctl.SwitchChannel(ctx, runChannel); err != nil {
			logger.Warn().Err(err).Int64("channel_id", runChannel).Msg("switch failed")
		}
	}

	fmt.Fprintln(out, "Connected. Type messages and press Enter to send, /quit to exit.")

	sub, unsubscribe := ctl.Subscribe()
	defer unsubscribe()
	go printLoop(ctx, out, sub)

	inputLoop(ctx, cmd.InOrStdin(), out, ctl, logger)
	return nil
}

func printLoop(ctx context.Context, out io.Writer, sub <-chan core.Snapshot) {
	p := newPrinter()
	var lastErr *core.CoreError
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub:
			if !ok {
				return
			}
			for _, line := range p.lines(snap) {
				fmt.Fprintln(out, line)
			}
			if snap.LastError != nil && snap.LastError != lastErr {
				fmt.Fprintf(out, "! %s: %s\n", snap.LastError.Code, snap.LastError.Message)
			}
			lastErr = snap.LastError
		}
	}
}

func inputLoop(ctx context.Context, in io.Reader, out io.Writer, ctl *session.Controller, logger *zerolog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd, err := parseInput(line)
			if err != nil {
				fmt.Fprintln(out, err)
				continue
			}
			if cmd.kind == inputQuit {
				return
			}
			if err := execute(ctx, ctl, cmd); err != nil {
				logger.Debug().Err(err).Msg("command failed")
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, ctl *session.Controller, cmd input) error {
	switch cmd.kind {
	case inputSay, inputAction:
		active := ctl.Snapshot().ActiveChannelID
		if active == 0 {
			return fmt.Errorf("no active channel, use /switch first")
		}
		_, err := ctl.SendMessage(ctx, active, cmd.text, cmd.kind == inputAction)
		return err
	case inputJoin:
		_, err := ctl.JoinChannel(ctx, cmd.target)
		return err
	case inputLeave:
		return ctl.LeaveChannel(ctx, cmd.target)
	case inputSwitch:
		return ctl.SwitchChannel(ctx, cmd.target)
	case inputPrivate:
		ch, err := ctl.CreatePrivateChat(ctx, cmd.target, cmd.text, false)
		if err != nil {
			return err
		}
		return ctl.SwitchChannel(ctx, ch.ID)
	case inputRetry:
		_, err := ctl.RetrySend(ctx, cmd.failedID)
		return err
	case inputDismiss:
		return ctl.DismissFailed(cmd.failedID)
	default:
		return nil
	}
}
