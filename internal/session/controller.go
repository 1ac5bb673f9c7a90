package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/log"
	"github.com/vovakirdan/wirechat-sync/internal/notify"
	"github.com/vovakirdan/wirechat-sync/internal/outbound"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/transport/ws"
)

// API is the chat REST API as used by one session.
type API interface {
	store.API
	outbound.API
	notify.API
	SetToken(token string)
}

// Options tune a controller.
type Options struct {
	Socket ws.Options
	// HistoryLimit bounds lazy history loads and archive warm starts.
	HistoryLimit int
	// SyncTimeout bounds the channel sync and catch-up run after each connect.
	SyncTimeout time.Duration
}

// Controller owns one chat session at a time and publishes its state as
// snapshots. It is safe for concurrent use.
type Controller struct {
	api   API
	opts  Options
	log   *zerolog.Logger
	store *store.ChannelStore

	// gate orders session teardown against event handlers. epoch is only
	// written under gate's write lock.
	gate  sync.RWMutex
	epoch uint64

	mu      sync.Mutex
	status  core.Status
	cur     *binding
	failed  []core.FailedSend
	lastErr *core.CoreError

	pubMu   sync.Mutex
	current core.Snapshot
	subs    map[int]chan core.Snapshot
	nextSub int
}

// New creates a disconnected controller. archive may be nil.
func New(api API, archive store.Archive, opts Options, logger *zerolog.Logger) *Controller {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	return &Controller{
		api:     api,
		opts:    opts,
		log:     logger,
		store:   store.NewChannelStore(api, archive, log.Component(logger, "store")),
		status:  core.StatusDisconnected,
		current: core.EmptySnapshot(),
		subs:    make(map[int]chan core.Snapshot),
	}
}

// Connect starts a session for userID. The socket endpoint comes from the
// notification handshake; fallbackEndpoint is used only if that fails. It is
// a no-op while a session is connecting or connected.
func (c *Controller) Connect(ctx context.Context, fallbackEndpoint, token string, userID int64) error {
	c.mu.Lock()
	if c.status != core.StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	prev := c.cur
	c.cur = nil
	c.status = core.StatusConnecting
	c.failed = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.gate.Lock()
	c.epoch++
	b := &binding{c: c, epoch: c.epoch, userID: userID}
	c.gate.Unlock()

	if prev != nil {
		prev.close()
	}
	c.store.Reset()
	c.updateState()

	c.api.SetToken(token)
	b.coord = outbound.NewCoordinator(c.api, b, log.Component(c.log, "outbound"))
	b.feed = notify.NewFeed(c.api, b, log.Component(c.log, "notify"))

	if err := c.store.Restore(ctx, c.opts.HistoryLimit); err != nil {
		c.log.Warn().Err(err).Msg("archive warm start failed")
	}

	endpoint, err := b.feed.Connect(ctx)
	switch {
	case err != nil:
		c.log.Warn().Err(err).Str("fallback", fallbackEndpoint).Msg("endpoint discovery failed, using fallback")
		endpoint = fallbackEndpoint
	case endpoint == "":
		endpoint = fallbackEndpoint
	}
	b.socket = ws.NewSocket(c.opts.Socket, b, log.Component(c.log, "socket"))

	if !c.install(b) {
		b.close()
		return core.ErrStaleSession
	}
	c.updateState()

	c.log.Info().Str("endpoint", endpoint).Int64("user_id", userID).Msg("connecting chat session")
	if err := b.socket.Connect(ctx, endpoint, token); err != nil {
		if c.end(b, core.NewError(core.ErrCodeConnectFailed, err)) {
			c.updateState()
		}
		return fmt.Errorf("connect chat socket: %w", err)
	}
	if !b.live() {
		// Disconnect ran before the socket existed; it must not outlive the session.
		b.close()
		return core.ErrStaleSession
	}
	return nil
}

// install makes b the current session unless it was superseded.
func (c *Controller) install(b *binding) bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.epoch != b.epoch {
		return false
	}
	c.mu.Lock()
	c.cur = b
	c.mu.Unlock()
	return true
}

// end tears down b after a failed connect and records cause.
func (c *Controller) end(b *binding, cause *core.CoreError) bool {
	c.gate.Lock()
	if c.epoch != b.epoch {
		c.gate.Unlock()
		return false
	}
	c.epoch++
	c.gate.Unlock()

	c.mu.Lock()
	if c.cur == b {
		c.cur = nil
	}
	c.status = core.StatusDisconnected
	c.lastErr = cause
	c.mu.Unlock()

	b.close()
	c.store.Reset()
	return true
}

// Disconnect tears the session down and publishes an empty snapshot.
// Responses still in flight are discarded. It is safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	b := c.cur
	idle := b == nil && c.status == core.StatusDisconnected
	c.cur = nil
	c.status = core.StatusDisconnected
	c.failed = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.gate.Lock()
	c.epoch++
	c.gate.Unlock()

	if b != nil {
		b.close()
	}
	c.store.Reset()
	if idle {
		return
	}
	c.log.Info().Msg("chat session disconnected")
	c.updateState()
}

// Status returns the connection status.
func (c *Controller) Status() core.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) session() (*binding, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur == nil {
		return nil, core.ErrNotConnected
	}
	return c.cur, nil
}

// SwitchChannel makes channelID active, marks it read and loads its history
// if none is cached yet.
func (c *Controller) SwitchChannel(ctx context.Context, channelID int64) error {
	if _, err := c.session(); err != nil {
		return err
	}
	if _, ok := c.store.Channel(channelID); !ok {
		return core.ErrUnknownChannel
	}
	c.store.SetActiveChannel(channelID)
	c.updateState()

	markErr := c.MarkAsRead(ctx, channelID)
	var fetchErr error
	if len(c.store.Messages(channelID)) == 0 {
		_, fetchErr = c.FetchMessages(ctx, channelID, core.MessageQuery{Limit: c.opts.HistoryLimit})
	}
	return errors.Join(markErr, fetchErr)
}

// FetchChannels merges the server's channel list.
func (c *Controller) FetchChannels(ctx context.Context) ([]core.Channel, error) {
	if _, err := c.session(); err != nil {
		return nil, err
	}
	channels, err := c.store.FetchChannels(ctx)
	if err != nil {
		return nil, err
	}
	c.updateState()
	return channels, nil
}

// FetchChannel merges one channel with its recent messages and users.
func (c *Controller) FetchChannel(ctx context.Context, channelID int64) (core.Channel, error) {
	if _, err := c.session(); err != nil {
		return core.Channel{}, err
	}
	ch, err := c.store.FetchChannel(ctx, channelID)
	if err != nil {
		return core.Channel{}, err
	}
	c.updateState()
	return ch, nil
}

// FetchMessages merges a page of history and returns everything cached for
// the channel, also when the request fails.
func (c *Controller) FetchMessages(ctx context.Context, channelID int64, q core.MessageQuery) ([]core.Message, error) {
	if _, err := c.session(); err != nil {
		return nil, err
	}
	msgs, err := c.store.FetchMessages(ctx, channelID, q)
	if err != nil {
		return msgs, err
	}
	c.updateState()
	return msgs, nil
}

// JoinChannel joins the session user to channelID.
func (c *Controller) JoinChannel(ctx context.Context, channelID int64) (core.Channel, error) {
	b, err := c.session()
	if err != nil {
		return core.Channel{}, err
	}
	ch, err := c.store.JoinChannel(ctx, channelID, b.userID)
	if err != nil {
		return core.Channel{}, err
	}
	c.updateState()
	return ch, nil
}

// LeaveChannel parts the session user from channelID. History stays cached.
func (c *Controller) LeaveChannel(ctx context.Context, channelID int64) error {
	b, err := c.session()
	if err != nil {
		return err
	}
	if err := c.store.LeaveChannel(ctx, channelID, b.userID); err != nil {
		return err
	}
	c.updateState()
	return nil
}

// MarkAsRead moves the read marker of channelID to its newest message. A
// channel without messages only has its local counter cleared.
func (c *Controller) MarkAsRead(ctx context.Context, channelID int64) error {
	if _, err := c.session(); err != nil {
		return err
	}
	ch, ok := c.store.Channel(channelID)
	if !ok {
		return core.ErrUnknownChannel
	}
	if ch.LastMessageID == 0 {
		c.store.ClearUnread(channelID)
		c.updateState()
		return nil
	}
	if err := c.store.MarkMessageAsRead(ctx, channelID, ch.LastMessageID); err != nil {
		return err
	}
	c.updateState()
	return nil
}

// SendMessage posts content to channelID with a local echo. A rejected send
// is returned and also listed in the snapshot's FailedSends.
func (c *Controller) SendMessage(ctx context.Context, channelID int64, content string, isAction bool) (core.Message, error) {
	b, err := c.session()
	if err != nil {
		return core.Message{}, err
	}
	return b.coord.SendMessage(ctx, channelID, content, isAction, b.userID)
}

// RetrySend resubmits a failed send under a fresh correlation id.
func (c *Controller) RetrySend(ctx context.Context, correlationID string) (core.Message, error) {
	if _, err := c.session(); err != nil {
		return core.Message{}, err
	}
	failed, ok := c.takeFailed(correlationID)
	if !ok {
		return core.Message{}, core.ErrUnknownFailure
	}
	c.updateState()
	return c.SendMessage(ctx, failed.ChannelID, failed.Content, failed.IsAction)
}

// DismissFailed forgets a failed send without resending it.
func (c *Controller) DismissFailed(correlationID string) error {
	if _, ok := c.takeFailed(correlationID); !ok {
		return core.ErrUnknownFailure
	}
	c.updateState()
	return nil
}

func (c *Controller) takeFailed(correlationID string) (core.FailedSend, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, f := range c.failed {
		if f.CorrelationID == correlationID {
			c.failed = append(c.failed[:i:i], c.failed[i+1:]...)
			return f, true
		}
	}
	return core.FailedSend{}, false
}

// CreatePrivateChat opens a private channel with targetID and sends the
// first message. The channel list is resynced to learn the new channel.
func (c *Controller) CreatePrivateChat(ctx context.Context, targetID int64, content string, isAction bool) (core.Channel, error) {
	b, err := c.session()
	if err != nil {
		return core.Channel{}, err
	}
	pc, err := b.coord.CreatePrivateChat(ctx, targetID, content, isAction, b.userID)
	if err != nil {
		return core.Channel{}, err
	}
	if _, err := c.store.FetchChannels(ctx); err != nil {
		return core.Channel{}, fmt.Errorf("resync channels: %w", err)
	}
	b.apply(func() {
		c.store.AddMessage(pc.Message)
		b.feed.ObserveMessageID(pc.Message.ID)
	})
	c.updateState()

	ch, ok := c.store.Channel(pc.Channel.ID)
	if !ok {
		return core.Channel{}, core.ErrStaleSession
	}
	return ch, nil
}

// MarkNotificationsAsRead marks notifications read and drops them locally.
func (c *Controller) MarkNotificationsAsRead(ctx context.Context, ids []int64) error {
	b, err := c.session()
	if err != nil {
		return err
	}
	if err := b.feed.MarkNotificationsAsRead(ctx, ids); err != nil {
		return err
	}
	c.updateState()
	return nil
}

// Notifications returns the unread notifications of the session.
func (c *Controller) Notifications() []core.Notification {
	b, err := c.session()
	if err != nil {
		return []core.Notification{}
	}
	return b.feed.Pending()
}
