package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// channelState is everything the store tracks for one channel.
type channelState struct {
	channel   core.Channel
	members   map[int64]struct{}
	confirmed []core.Message // ascending by ID
	pending   []core.Message // insertion order
	unread    int
}

// ChannelStore is the in-memory model of channels, messages and users for
// one session. All methods are safe for concurrent use.
type ChannelStore struct {
	api     API
	archive Archive
	log     *zerolog.Logger

	mu       sync.Mutex
	epoch    uint64
	channels map[int64]*channelState
	order    []int64
	users    map[int64]core.User
	active   int64
}

// NewChannelStore creates an empty store. archive may be nil.
func NewChannelStore(api API, archive Archive, logger *zerolog.Logger) *ChannelStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &ChannelStore{
		api:      api,
		archive:  archive,
		log:      logger,
		channels: make(map[int64]*channelState),
		users:    make(map[int64]core.User),
	}
}

// Epoch identifies the current store generation. Reset advances it.
func (s *ChannelStore) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// Reset drops all state. REST responses that were in flight are discarded
// when they arrive.
func (s *ChannelStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.channels = make(map[int64]*channelState)
	s.order = nil
	s.users = make(map[int64]core.User)
	s.active = 0
}

// AddChannel merges a possibly partial channel payload.
func (s *ChannelStore) AddChannel(upd core.ChannelUpdate) core.Channel {
	s.mu.Lock()
	ch := s.mergeChannelLocked(upd)
	s.mu.Unlock()

	s.persistChannel(ch)
	return ch
}

// AddMessage inserts a message without touching unread counters. It
// reports whether the channel's message list changed.
func (s *ChannelStore) AddMessage(msg core.Message) bool {
	s.mu.Lock()
	inserted := s.addMessageLocked(msg)
	s.mu.Unlock()

	if inserted && !msg.Pending() {
		s.persistMessages([]core.Message{msg})
	}
	return inserted
}

// ObserveMessage inserts a live message and counts it as unread unless its
// channel is active or it was already known.
func (s *ChannelStore) ObserveMessage(msg core.Message) bool {
	s.mu.Lock()
	inserted := s.addMessageLocked(msg)
	if inserted && !msg.Pending() && msg.ChannelID != s.active {
		s.channels[msg.ChannelID].unread++
	}
	s.mu.Unlock()

	if inserted && !msg.Pending() {
		s.persistMessages([]core.Message{msg})
	}
	return inserted
}

// RemovePending drops a local echo. It reports whether one was found.
func (s *ChannelStore) RemovePending(channelID int64, correlationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.channels[channelID]
	if !ok {
		return false
	}
	for i, m := range st.pending {
		if m.CorrelationID == correlationID {
			st.pending = append(st.pending[:i], st.pending[i+1:]...)
			return true
		}
	}
	return false
}

// UpsertUsers caches user records by id.
func (s *ChannelStore) UpsertUsers(users []core.User) {
	if len(users) == 0 {
		return
	}
	s.mu.Lock()
	for _, u := range users {
		s.users[u.ID] = u
	}
	s.mu.Unlock()

	s.persistUsers(users)
}

// SetActiveChannel marks the channel the user is looking at and zeroes its
// unread counter. Zero clears the active channel.
func (s *ChannelStore) SetActiveChannel(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = channelID
	if st, ok := s.channels[channelID]; ok {
		st.unread = 0
	}
}

// ActiveChannel returns the active channel id, or zero.
func (s *ChannelStore) ActiveChannel() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetJoined flips the membership flag of a known channel.
func (s *ChannelStore) SetJoined(channelID int64, joined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.channels[channelID]; ok {
		st.channel.Joined = joined
	}
}

// Channel returns a copy of one channel.
func (s *ChannelStore) Channel(channelID int64) (core.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channelID]
	if !ok {
		return core.Channel{}, false
	}
	return st.snapshot(), true
}

// Channels returns copies of all channels in first-observed order.
func (s *ChannelStore) Channels() []core.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Channel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id].snapshot())
	}
	return out
}

// Messages returns a copy of a channel's messages: confirmed ones by id,
// then pending local echoes.
func (s *ChannelStore) Messages(channelID int64) []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.channels[channelID]
	if !ok {
		return []core.Message{}
	}
	return st.messages()
}

// Unread returns a channel's unread counter.
func (s *ChannelStore) Unread(channelID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.channels[channelID]; ok {
		return st.unread
	}
	return 0
}

// User looks up a cached user.
func (s *ChannelStore) User(userID int64) (core.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	return u, ok
}

// Fill copies the whole model into snap under one lock.
func (s *ChannelStore) Fill(snap *core.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap.ActiveChannelID = s.active
	snap.Channels = make([]core.Channel, 0, len(s.order))
	snap.Messages = make(map[int64][]core.Message, len(s.channels))
	snap.Unread = make(map[int64]int, len(s.channels))
	for _, id := range s.order {
		st := s.channels[id]
		snap.Channels = append(snap.Channels, st.snapshot())
		snap.Messages[id] = st.messages()
		snap.Unread[id] = st.unread
	}
	snap.Users = make(map[int64]core.User, len(s.users))
	for id, u := range s.users {
		snap.Users[id] = u
	}
}

// FetchChannels merges the channel list from the API and returns every
// known channel.
func (s *ChannelStore) FetchChannels(ctx context.Context) ([]core.Channel, error) {
	epoch := s.Epoch()
	channels, err := s.api.ListChannels(ctx)
	if err != nil {
		return nil, err
	}

	var saved []core.Channel
	var history []core.Message
	err = s.apply(epoch, func() {
		for _, c := range channels {
			saved = append(saved, s.mergeChannelLocked(proto.ChannelToUpdate(c)))
			history = append(history, s.addHistoryLocked(c.RecentMessages)...)
		}
	})
	if err != nil {
		return nil, err
	}

	for _, ch := range saved {
		s.persistChannel(ch)
	}
	s.persistMessages(history)
	s.log.Debug().Int("channels", len(channels)).Msg("channel list merged")
	return s.Channels(), nil
}

// FetchChannel merges one channel with its recent messages and users.
func (s *ChannelStore) FetchChannel(ctx context.Context, channelID int64) (core.Channel, error) {
	epoch := s.Epoch()
	detail, err := s.api.GetChannel(ctx, channelID)
	if err != nil {
		return core.Channel{}, err
	}
	if detail.Channel.ChannelID == 0 {
		detail.Channel.ChannelID = channelID
	}

	var ch core.Channel
	var history []core.Message
	users := proto.UsersToCore(detail.Users)
	err = s.apply(epoch, func() {
		ch = s.mergeChannelLocked(proto.ChannelToUpdate(detail.Channel))
		history = s.addHistoryLocked(detail.Channel.RecentMessages)
		for _, u := range users {
			s.users[u.ID] = u
		}
		ch = s.channels[ch.ID].snapshot()
	})
	if err != nil {
		return core.Channel{}, err
	}

	s.persistChannel(ch)
	s.persistMessages(history)
	s.persistUsers(users)
	return ch, nil
}

// FetchMessages merges a page of history and returns the channel's full
// cached message list, including messages fetched earlier. When the request
// fails the cached list is returned along with the error.
func (s *ChannelStore) FetchMessages(ctx context.Context, channelID int64, q core.MessageQuery) ([]core.Message, error) {
	epoch := s.Epoch()
	msgs, err := s.api.ListMessages(ctx, channelID, q)
	if err != nil {
		return s.Messages(channelID), err
	}

	var added []core.Message
	var out []core.Message
	err = s.apply(epoch, func() {
		if _, ok := s.channels[channelID]; !ok {
			s.mergeChannelLocked(core.ChannelUpdate{ID: channelID})
		}
		added = s.addHistoryLocked(msgs)
		out = s.channels[channelID].messages()
	})
	if err != nil {
		return nil, err
	}

	s.persistMessages(added)
	return out, nil
}

// JoinChannel joins userID to the channel and marks it joined locally.
func (s *ChannelStore) JoinChannel(ctx context.Context, channelID, userID int64) (core.Channel, error) {
	epoch := s.Epoch()
	resp, err := s.api.JoinChannel(ctx, channelID, userID)
	if err != nil {
		return core.Channel{}, err
	}
	if resp.ChannelID == 0 {
		resp.ChannelID = channelID
	}

	var ch core.Channel
	err = s.apply(epoch, func() {
		ch = s.mergeChannelLocked(proto.ChannelToUpdate(resp).Joining(true))
		st := s.channels[ch.ID]
		if _, ok := st.members[userID]; !ok && userID != 0 {
			st.members[userID] = struct{}{}
			ch = st.snapshot()
		}
	})
	if err != nil {
		return core.Channel{}, err
	}

	s.persistChannel(ch)
	return ch, nil
}

// LeaveChannel removes userID from the channel. Cached history is kept.
func (s *ChannelStore) LeaveChannel(ctx context.Context, channelID, userID int64) error {
	epoch := s.Epoch()
	if err := s.api.LeaveChannel(ctx, channelID, userID); err != nil {
		return err
	}
	return s.apply(epoch, func() {
		st, ok := s.channels[channelID]
		if !ok {
			return
		}
		st.channel.Joined = false
		delete(st.members, userID)
	})
}

// MarkMessageAsRead moves the read marker on the server and then locally
// raises lastReadId and zeroes the unread counter.
func (s *ChannelStore) MarkMessageAsRead(ctx context.Context, channelID, messageID int64) error {
	epoch := s.Epoch()
	if err := s.api.MarkAsRead(ctx, channelID, messageID); err != nil {
		return err
	}
	return s.apply(epoch, func() {
		st, ok := s.channels[channelID]
		if !ok {
			return
		}
		if messageID > st.channel.LastReadID {
			st.channel.LastReadID = messageID
		}
		st.unread = 0
	})
}

// ClearUnread zeroes a channel's counter without contacting the server.
func (s *ChannelStore) ClearUnread(channelID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.channels[channelID]; ok {
		st.unread = 0
	}
}

// Restore warms the store from the archive. It is a no-op without one.
func (s *ChannelStore) Restore(ctx context.Context, historyLimit int) error {
	if s.archive == nil {
		return nil
	}
	epoch := s.Epoch()

	users, err := s.archive.LoadUsers(ctx)
	if err != nil {
		return fmt.Errorf("restore users: %w", err)
	}
	channels, err := s.archive.LoadChannels(ctx)
	if err != nil {
		return fmt.Errorf("restore channels: %w", err)
	}
	history := make(map[int64][]core.Message, len(channels))
	for _, ch := range channels {
		msgs, err := s.archive.LoadMessages(ctx, ch.ID, historyLimit)
		if err != nil {
			return fmt.Errorf("restore messages of channel %d: %w", ch.ID, err)
		}
		history[ch.ID] = msgs
	}

	err = s.apply(epoch, func() {
		for _, u := range users {
			s.users[u.ID] = u
		}
		for _, ch := range channels {
			s.mergeChannelLocked(updateFromChannel(ch))
			for _, m := range history[ch.ID] {
				s.addMessageLocked(m)
			}
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().Int("channels", len(channels)).Int("users", len(users)).Msg("store restored from archive")
	return nil
}

// apply runs fn under the lock unless the store was reset since epoch.
func (s *ChannelStore) apply(epoch uint64, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return core.ErrStaleSession
	}
	fn()
	return nil
}

func (s *ChannelStore) stateLocked(channelID int64) *channelState {
	st, ok := s.channels[channelID]
	if !ok {
		st = &channelState{
			channel: core.Channel{ID: channelID},
			members: make(map[int64]struct{}),
		}
		s.channels[channelID] = st
		s.order = append(s.order, channelID)
	}
	return st
}

func (s *ChannelStore) mergeChannelLocked(upd core.ChannelUpdate) core.Channel {
	st := s.stateLocked(upd.ID)
	ch := &st.channel

	if upd.Name != nil {
		ch.Name = *upd.Name
	}
	if upd.Description != nil {
		ch.Description = *upd.Description
	}
	if upd.Kind != nil {
		ch.Kind = *upd.Kind
	}
	if upd.LastMessageID != nil && *upd.LastMessageID > ch.LastMessageID {
		ch.LastMessageID = *upd.LastMessageID
	}
	if upd.LastReadID != nil && *upd.LastReadID > ch.LastReadID {
		ch.LastReadID = *upd.LastReadID
	}
	if upd.Moderated != nil {
		ch.Moderated = *upd.Moderated
	}
	if upd.Joined != nil {
		ch.Joined = *upd.Joined
	}
	if upd.Members != nil {
		st.members = make(map[int64]struct{}, len(upd.Members))
		for _, id := range upd.Members {
			st.members[id] = struct{}{}
		}
	}
	return st.snapshot()
}

// addMessageLocked inserts msg keeping confirmed messages sorted and unique.
// A confirmed message supersedes the pending echo with its correlation id.
func (s *ChannelStore) addMessageLocked(msg core.Message) bool {
	st := s.stateLocked(msg.ChannelID)
	if msg.Sender != nil {
		s.users[msg.Sender.ID] = *msg.Sender
	}

	if msg.Pending() {
		for _, m := range st.pending {
			if m.CorrelationID == msg.CorrelationID {
				return false
			}
		}
		st.pending = append(st.pending, msg)
		return true
	}

	if msg.CorrelationID != "" {
		for i, m := range st.pending {
			if m.CorrelationID == msg.CorrelationID {
				st.pending = append(st.pending[:i], st.pending[i+1:]...)
				break
			}
		}
	}

	i := sort.Search(len(st.confirmed), func(i int) bool {
		return st.confirmed[i].ID >= msg.ID
	})
	if i < len(st.confirmed) && st.confirmed[i].ID == msg.ID {
		return false
	}
	st.confirmed = append(st.confirmed, core.Message{})
	copy(st.confirmed[i+1:], st.confirmed[i:])
	st.confirmed[i] = msg

	if msg.ID > st.channel.LastMessageID {
		st.channel.LastMessageID = msg.ID
	}
	return true
}

func (s *ChannelStore) addHistoryLocked(msgs []proto.Message) []core.Message {
	var added []core.Message
	for _, m := range msgs {
		msg := proto.MessageToCore(m)
		if s.addMessageLocked(msg) {
			added = append(added, msg)
		}
	}
	return added
}

func (s *ChannelStore) persistChannel(ch core.Channel) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveChannel(context.Background(), ch); err != nil {
		s.log.Warn().Err(err).Int64("channel_id", ch.ID).Msg("archive channel")
	}
}

func (s *ChannelStore) persistMessages(msgs []core.Message) {
	if s.archive == nil || len(msgs) == 0 {
		return
	}
	if err := s.archive.SaveMessages(context.Background(), msgs); err != nil {
		s.log.Warn().Err(err).Int("count", len(msgs)).Msg("archive messages")
	}
}

func (s *ChannelStore) persistUsers(users []core.User) {
	if s.archive == nil || len(users) == 0 {
		return
	}
	if err := s.archive.SaveUsers(context.Background(), users); err != nil {
		s.log.Warn().Err(err).Int("count", len(users)).Msg("archive users")
	}
}

func (st *channelState) snapshot() core.Channel {
	ch := st.channel
	ch.Members = make([]int64, 0, len(st.members))
	for id := range st.members {
		ch.Members = append(ch.Members, id)
	}
	sort.Slice(ch.Members, func(i, j int) bool { return ch.Members[i] < ch.Members[j] })
	return ch
}

func (st *channelState) messages() []core.Message {
	out := make([]core.Message, 0, len(st.confirmed)+len(st.pending))
	out = append(out, st.confirmed...)
	return append(out, st.pending...)
}

func updateFromChannel(ch core.Channel) core.ChannelUpdate {
	return core.ChannelUpdate{
		ID:            ch.ID,
		Name:          &ch.Name,
		Description:   &ch.Description,
		Kind:          &ch.Kind,
		LastMessageID: &ch.LastMessageID,
		LastReadID:    &ch.LastReadID,
		Moderated:     &ch.Moderated,
		Members:       ch.Members,
	}
}
