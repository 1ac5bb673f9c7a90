package notify

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// API is the part of the chat REST API used by the feed.
type API interface {
	Notifications(ctx context.Context, maxID int64) (proto.NotificationsResponse, error)
	MarkNotificationsRead(ctx context.Context, ids []int64) error
	Updates(ctx context.Context, q proto.UpdatesQuery) (proto.UpdatesResponse, error)
}

// Listener is told about every notification exactly once.
type Listener interface {
	NotificationReceived(n core.Notification)
}

// Updates is the catch-up payload of GetUpdates.
type Updates struct {
	Presence []core.ChannelUpdate
	Messages []core.Message
	Users    []core.User
	Silences []core.Silence
}

// Feed tracks unread notifications and the catch-up watermark of a session.
type Feed struct {
	api      API
	listener Listener
	log      *zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	watermark int64
	pending   []core.Notification
	since     int64
}

// NewFeed creates a feed. listener may be nil.
func NewFeed(api API, listener Listener, logger *zerolog.Logger) *Feed {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Feed{api: api, listener: listener, log: logger}
}

// Connect fetches the current notifications and returns the socket endpoint
// the server advertised with them. The endpoint is empty if none was sent.
func (f *Feed) Connect(ctx context.Context) (string, error) {
	resp, err := f.fetch(ctx)
	if err != nil {
		return "", err
	}
	f.log.Debug().Str("endpoint", resp.NotificationEndpoint).Int("notifications", len(resp.Notifications)).Msg("notification handshake")
	return resp.NotificationEndpoint, nil
}

// Refresh fetches the newest notifications and emits the unseen ones.
func (f *Feed) Refresh(ctx context.Context) error {
	_, err := f.fetch(ctx)
	return err
}

func (f *Feed) fetch(ctx context.Context) (proto.NotificationsResponse, error) {
	gen := f.generation()
	resp, err := f.api.Notifications(ctx, 0)
	if err != nil {
		return proto.NotificationsResponse{}, err
	}

	ns := make([]core.Notification, 0, len(resp.Notifications))
	for _, n := range resp.Notifications {
		ns = append(ns, proto.NotificationToCore(n))
	}
	if !f.ingest(gen, ns) {
		return proto.NotificationsResponse{}, core.ErrStaleSession
	}
	return resp, nil
}

// ingest records notifications fetched under generation gen. Only ids above
// the highest one seen so far are kept and emitted. It reports false when
// the feed was closed or reset since gen.
func (f *Feed) ingest(gen uint64, ns []core.Notification) bool {
	sorted := append([]core.Notification(nil), ns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return false
	}
	var fresh []core.Notification
	for _, n := range sorted {
		if n.ID <= f.watermark {
			continue
		}
		f.watermark = n.ID
		f.pending = append(f.pending, n)
		fresh = append(fresh, n)
	}
	f.mu.Unlock()

	if f.listener != nil {
		for _, n := range fresh {
			f.listener.NotificationReceived(n)
		}
	}
	return true
}

// Pending returns the notifications not yet marked as read, oldest first.
func (f *Feed) Pending() []core.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Notification{}, f.pending...)
}

// MarkNotificationsAsRead marks ids read on the server and then evicts them
// from the pending list. Nothing is evicted if the call fails.
func (f *Feed) MarkNotificationsAsRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := f.api.MarkNotificationsRead(ctx, ids); err != nil {
		return err
	}

	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.pending[:0]
	for _, n := range f.pending {
		if _, ok := drop[n.ID]; !ok {
			kept = append(kept, n)
		}
	}
	f.pending = kept
	return nil
}

// GetUpdates pulls presence, messages and silences newer than the catch-up
// watermark. The watermark only moves past message ids actually returned.
func (f *Feed) GetUpdates(ctx context.Context) (Updates, error) {
	f.mu.Lock()
	gen, since := f.gen, f.since
	f.mu.Unlock()

	resp, err := f.api.Updates(ctx, proto.UpdatesQuery{
		Since:        since,
		HistorySince: since,
		Includes:     []string{proto.IncludePresence, proto.IncludeMessages, proto.IncludeSilences},
	})
	if err != nil {
		return Updates{}, err
	}

	out := Updates{
		Presence: make([]core.ChannelUpdate, 0, len(resp.Presence)),
		Messages: proto.MessagesToCore(resp.Messages),
		Silences: make([]core.Silence, 0, len(resp.Silences)),
	}
	for _, ch := range resp.Presence {
		out.Presence = append(out.Presence, proto.ChannelToUpdate(ch))
		out.Messages = append(out.Messages, proto.MessagesToCore(ch.RecentMessages)...)
	}
	for _, m := range resp.Messages {
		if m.Sender != nil {
			out.Users = append(out.Users, proto.UserToCore(*m.Sender))
		}
	}
	for _, s := range resp.Silences {
		out.Silences = append(out.Silences, proto.SilenceToCore(s))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return Updates{}, core.ErrStaleSession
	}
	for _, m := range out.Messages {
		if m.ID > f.since {
			f.since = m.ID
		}
	}
	f.log.Debug().Int64("since", f.since).Int("messages", len(out.Messages)).Msg("catch-up pulled")
	return out, nil
}

// ObserveMessageID advances the catch-up watermark from a live message.
func (f *Feed) ObserveMessageID(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id > f.since {
		f.since = id
	}
}

// Since returns the catch-up watermark.
func (f *Feed) Since() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since
}

// Close forgets all watermarks and pending notifications. Responses that
// were in flight are discarded.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.watermark = 0
	f.since = 0
	f.pending = nil
}

func (f *Feed) generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}
