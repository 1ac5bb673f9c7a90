package session

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/notify"
	"github.com/vovakirdan/wirechat-sync/internal/outbound"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/transport/ws"
)

// binding is one connect's worth of components. It receives their events
// and drops them once the session it belongs to has ended.
type binding struct {
	c      *Controller
	epoch  uint64
	userID int64

	socket *ws.Socket
	feed   *notify.Feed
	coord  *outbound.Coordinator

	synced bool // guarded by c.mu
}

var (
	_ ws.Observer       = (*binding)(nil)
	_ outbound.Listener = (*binding)(nil)
	_ notify.Listener   = (*binding)(nil)
)

func (b *binding) live() bool {
	b.c.gate.RLock()
	defer b.c.gate.RUnlock()
	return b.c.epoch == b.epoch
}

// apply runs fn unless the session has ended. Teardown waits for a running fn.
func (b *binding) apply(fn func()) bool {
	b.c.gate.RLock()
	defer b.c.gate.RUnlock()
	if b.c.epoch != b.epoch {
		return false
	}
	fn()
	return true
}

func (b *binding) close() {
	if b.socket != nil {
		b.socket.Disconnect()
	}
	if b.feed != nil {
		b.feed.Close()
	}
	if b.coord != nil {
		b.coord.Abandon()
	}
}

func (b *binding) setStatus(status core.Status, cause *core.CoreError) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	b.c.status = status
	if cause != nil {
		b.c.lastErr = cause
	}
}

// Connected syncs channels on the first connect and runs a full catch-up
// after every reconnect.
func (b *binding) Connected() {
	var first bool
	ok := b.apply(func() {
		b.c.mu.Lock()
		b.c.status = core.StatusConnected
		first = !b.synced
		b.synced = true
		b.c.mu.Unlock()
	})
	if !ok {
		return
	}
	b.c.updateState()
	go b.sync(first)
}

func (b *binding) Disconnected(err error) {
	if err == nil {
		return
	}
	if b.apply(func() { b.setStatus(core.StatusConnecting, nil) }) {
		b.c.updateState()
	}
}

func (b *binding) Error(err error) {
	var serverErr *ws.ServerError
	applied := b.apply(func() {
		switch {
		case errors.Is(err, ws.ErrReconnectExhausted):
			b.setStatus(core.StatusDisconnected, core.NewError(core.ErrCodeReconnectExhausted, err))
		case errors.As(err, &serverErr):
			b.c.mu.Lock()
			b.c.lastErr = core.NewError(core.ErrCodeServer, err)
			b.c.mu.Unlock()
		default:
			b.c.mu.Lock()
			b.c.lastErr = core.NewError(core.ErrCodeTransport, err)
			b.c.mu.Unlock()
		}
	})
	if applied {
		b.c.log.Warn().Err(err).Msg("chat session error")
		b.c.updateState()
	}
}

func (b *binding) ChannelJoined(ch proto.Channel) {
	if b.apply(func() { b.c.store.AddChannel(proto.ChannelToUpdate(ch).Joining(true)) }) {
		b.c.updateState()
	}
}

func (b *binding) ChannelParted(ch proto.Channel) {
	if b.apply(func() { b.c.store.SetJoined(ch.ChannelID, false) }) {
		b.c.updateState()
	}
}

func (b *binding) NewMessages(data proto.NewMessages) {
	if !b.apply(func() { b.c.store.UpsertUsers(proto.UsersToCore(data.Users)) }) {
		return
	}
	for _, m := range data.Messages {
		b.coord.HandleIncomingMessage(proto.MessageToCore(m))
	}
	b.c.updateState()
}

// MessageReceived stores local echoes and messages from the server. Only
// messages of other users count as unread.
func (b *binding) MessageReceived(msg core.Message) {
	applied := b.apply(func() {
		if msg.Pending() || msg.SenderID == b.userID {
			b.c.store.AddMessage(msg)
		} else {
			b.c.store.ObserveMessage(msg)
		}
		if !msg.Pending() {
			b.feed.ObserveMessageID(msg.ID)
		}
	})
	if applied {
		b.c.updateState()
	}
}

func (b *binding) MessageSent(correlationID string, msg core.Message) {
	applied := b.apply(func() {
		b.c.store.AddMessage(msg)
		b.feed.ObserveMessageID(msg.ID)
	})
	if applied {
		b.c.updateState()
	}
}

func (b *binding) MessageFailed(correlationID string, pending core.Message, err error) {
	applied := b.apply(func() {
		b.c.store.RemovePending(pending.ChannelID, correlationID)
		b.c.mu.Lock()
		b.c.failed = append(b.c.failed, core.FailedSend{
			CorrelationID: correlationID,
			ChannelID:     pending.ChannelID,
			Content:       pending.Content,
			IsAction:      pending.IsAction,
			Error:         err.Error(),
		})
		b.c.lastErr = core.NewError(core.ErrCodeSendFailed, err)
		b.c.mu.Unlock()
	})
	if applied {
		b.c.updateState()
	}
}

func (b *binding) NotificationReceived(n core.Notification) {
	if b.live() {
		b.c.updateState()
	}
}

// sync pulls what the socket cannot replay. The first connect only needs the
// channel list; reconnects also pull missed messages and notifications.
func (b *binding) sync(first bool) {
	if !b.live() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.c.opts.SyncTimeout)
	defer cancel()

	if first {
		if _, err := b.c.store.FetchChannels(ctx); err != nil {
			b.c.log.Warn().Err(err).Msg("initial channel sync failed")
			return
		}
		b.c.log.Info().Msg("channel list synced")
		b.c.updateState()
		return
	}

	// The pulls are independent, so one failing must not cancel the others.
	var updates notify.Updates
	var g errgroup.Group
	g.Go(func() error {
		_, err := b.c.store.FetchChannels(ctx)
		return err
	})
	g.Go(func() error {
		var err error
		updates, err = b.feed.GetUpdates(ctx)
		return err
	})
	g.Go(func() error {
		return b.feed.Refresh(ctx)
	})
	if err := g.Wait(); err != nil {
		b.c.log.Warn().Err(err).Msg("reconnect catch-up incomplete")
	}

	if !b.apply(func() {
		for _, p := range updates.Presence {
			b.c.store.AddChannel(p.Joining(true))
		}
		b.c.store.UpsertUsers(updates.Users)
	}) {
		return
	}
	for _, m := range updates.Messages {
		b.coord.HandleIncomingMessage(m)
	}
	b.c.log.Info().Int("messages", len(updates.Messages)).Msg("reconnect catch-up applied")
	b.c.updateState()
}
