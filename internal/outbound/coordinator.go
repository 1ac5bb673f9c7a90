package outbound

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// API is the part of the chat REST API used for sending.
type API interface {
	SendMessage(ctx context.Context, channelID int64, req proto.SendMessageRequest) (proto.Message, error)
	NewPrivateChat(ctx context.Context, req proto.NewPrivateChatRequest) (proto.NewPrivateChatResponse, error)
}

// Listener receives the lifecycle of outgoing and incoming messages.
// Callbacks are invoked without the coordinator's lock held.
type Listener interface {
	// MessageReceived reports a local echo or a message from another actor.
	MessageReceived(msg core.Message)
	// MessageSent reports the settlement of a pending local echo.
	MessageSent(correlationID string, msg core.Message)
	// MessageFailed reports a send the server rejected. pending is the echo
	// that was shown locally.
	MessageFailed(correlationID string, pending core.Message, err error)
}

// PrivateChat is the result of CreatePrivateChat.
type PrivateChat struct {
	Channel core.ChannelUpdate
	Message core.Message
}

// Coordinator runs optimistic sends and settles each one exactly once.
type Coordinator struct {
	api      API
	listener Listener
	log      *zerolog.Logger

	newID func() string
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]core.Message
	settled map[string]struct{}
	order   []string // settled ids, oldest first
}

// settledLimit bounds how many settled correlation ids are remembered for
// dropping late duplicates.
const settledLimit = 512

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator replaces uuid.NewString for correlation ids.
func WithIDGenerator(fn func() string) Option {
	return func(c *Coordinator) { c.newID = fn }
}

// WithClock replaces time.Now for local echo timestamps.
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// NewCoordinator binds a coordinator to its API and listener.
func NewCoordinator(api API, listener Listener, logger *zerolog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	c := &Coordinator{
		api:      api,
		listener: listener,
		log:      logger,
		newID:    uuid.NewString,
		now:      time.Now,
		pending:  make(map[string]core.Message),
		settled:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendMessage echoes a pending message to the listener, then posts it. The
// returned message is the authoritative one on success. A failed send is
// reported to the listener and returned; it is never retried here.
func (c *Coordinator) SendMessage(ctx context.Context, channelID int64, content string, isAction bool, senderID int64) (core.Message, error) {
	if strings.TrimSpace(content) == "" {
		return core.Message{}, core.ErrEmptyMessage
	}

	msg := core.Message{
		ID:            core.PendingID,
		CorrelationID: c.newID(),
		ChannelID:     channelID,
		SenderID:      senderID,
		Content:       content,
		IsAction:      isAction,
		Timestamp:     c.now().UTC(),
	}

	c.mu.Lock()
	c.pending[msg.CorrelationID] = msg
	c.mu.Unlock()

	c.listener.MessageReceived(msg)

	resp, err := c.api.SendMessage(ctx, channelID, proto.SendMessageRequest{
		Message:  content,
		IsAction: isAction,
		UUID:     msg.CorrelationID,
	})
	if err != nil {
		if _, ok := c.take(msg.CorrelationID); ok {
			c.log.Warn().Err(err).Str("correlation_id", msg.CorrelationID).Int64("channel_id", channelID).Msg("send failed")
			c.listener.MessageFailed(msg.CorrelationID, msg, err)
		}
		return core.Message{}, err
	}

	sent := merge(msg, proto.MessageToCore(resp))
	if _, ok := c.settle(msg.CorrelationID); ok {
		c.log.Debug().Str("correlation_id", msg.CorrelationID).Int64("message_id", sent.ID).Msg("send settled by response")
		c.listener.MessageSent(msg.CorrelationID, sent)
	}
	return sent, nil
}

// HandleIncomingMessage routes a pushed or polled message. A message that
// carries the correlation id of a pending send settles it; anything else is
// reported as received. Copies of an already settled send are dropped.
func (c *Coordinator) HandleIncomingMessage(msg core.Message) {
	if msg.CorrelationID != "" {
		local, ok, seen := c.settleIncoming(msg.CorrelationID)
		if seen {
			c.log.Debug().Str("correlation_id", msg.CorrelationID).Msg("duplicate of settled send dropped")
			return
		}
		if ok {
			sent := merge(local, msg)
			c.log.Debug().Str("correlation_id", msg.CorrelationID).Int64("message_id", sent.ID).Msg("send settled by push")
			c.listener.MessageSent(msg.CorrelationID, sent)
			return
		}
	}
	c.listener.MessageReceived(msg)
}

// CreatePrivateChat opens a private channel with targetID and sends the
// first message. Nothing is echoed locally; callers resync the channel list.
func (c *Coordinator) CreatePrivateChat(ctx context.Context, targetID int64, content string, isAction bool, senderID int64) (PrivateChat, error) {
	if strings.TrimSpace(content) == "" {
		return PrivateChat{}, core.ErrEmptyMessage
	}
	resp, err := c.api.NewPrivateChat(ctx, proto.NewPrivateChatRequest{
		TargetID: targetID,
		Message:  content,
		IsAction: isAction,
		UUID:     c.newID(),
	})
	if err != nil {
		return PrivateChat{}, err
	}

	msg := proto.MessageToCore(resp.Message)
	if msg.SenderID == 0 {
		msg.SenderID = senderID
	}
	ch := proto.ChannelToUpdate(resp.Channel)
	if msg.ChannelID == 0 {
		msg.ChannelID = ch.ID
	}
	return PrivateChat{Channel: ch, Message: msg}, nil
}

// Pending returns the number of unsettled sends.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Abandon forgets every unsettled send without notifying the listener,
// along with the record of settled ones.
func (c *Coordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]core.Message)
	c.settled = make(map[string]struct{})
	c.order = nil
}

// take removes and returns a pending entry. Only the first caller for a
// correlation id gets ok == true.
func (c *Coordinator) take(correlationID string) (core.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg, ok := c.pending[correlationID]
	if ok {
		delete(c.pending, correlationID)
	}
	return msg, ok
}

// settle is take for a successful settlement. The id is remembered so later
// copies of the message are recognized.
func (c *Coordinator) settle(correlationID string) (core.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settleLocked(correlationID)
}

// settleIncoming settles a pending send from an incoming message. seen
// reports that the send was settled before.
func (c *Coordinator) settleIncoming(correlationID string) (msg core.Message, ok, seen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.settled[correlationID]; done {
		return core.Message{}, false, true
	}
	msg, ok = c.settleLocked(correlationID)
	return msg, ok, false
}

func (c *Coordinator) settleLocked(correlationID string) (core.Message, bool) {
	msg, ok := c.pending[correlationID]
	if !ok {
		return core.Message{}, false
	}
	delete(c.pending, correlationID)
	c.settled[correlationID] = struct{}{}
	c.order = append(c.order, correlationID)
	if len(c.order) > settledLimit {
		delete(c.settled, c.order[0])
		c.order = c.order[1:]
	}
	return msg, true
}

// merge fills fields of the server copy that it left empty from the local echo.
func merge(local, remote core.Message) core.Message {
	out := remote
	out.CorrelationID = local.CorrelationID
	if out.ChannelID == 0 {
		out.ChannelID = local.ChannelID
	}
	if out.SenderID == 0 {
		out.SenderID = local.SenderID
	}
	if out.Content == "" {
		out.Content = local.Content
	}
	if !out.IsAction {
		out.IsAction = local.IsAction
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = local.Timestamp
	}
	return out
}
