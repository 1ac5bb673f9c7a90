package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

type fakeAPI struct {
	mu       sync.Mutex
	channels []proto.Channel
	detail   map[int64]proto.ChannelDetail
	history  map[int64][]proto.Message
	marks    [][2]int64
	joins    [][2]int64
	leaves   [][2]int64
	err      error

	// entered and block, when set, park ListChannels until block is closed.
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeAPI) ListChannels(ctx context.Context) ([]proto.Channel, error) {
	if f.block != nil {
		f.entered <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels, f.err
}

func (f *fakeAPI) GetChannel(ctx context.Context, channelID int64) (proto.ChannelDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail[channelID], f.err
}

func (f *fakeAPI) ListMessages(ctx context.Context, channelID int64, q core.MessageQuery) ([]proto.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.history[channelID], nil
}

func (f *fakeAPI) JoinChannel(ctx context.Context, channelID, userID int64) (proto.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, [2]int64{channelID, userID})
	return proto.Channel{ChannelID: channelID}, f.err
}

func (f *fakeAPI) LeaveChannel(ctx context.Context, channelID, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, [2]int64{channelID, userID})
	return f.err
}

func (f *fakeAPI) MarkAsRead(ctx context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, [2]int64{channelID, messageID})
	return f.err
}

func msg(channelID, id int64) core.Message {
	return core.Message{
		ID:        id,
		ChannelID: channelID,
		SenderID:  2,
		Content:   "m",
		Timestamp: time.Unix(id, 0).UTC(),
	}
}

func ids(msgs []core.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func kindPtr(k core.ChannelKind) *core.ChannelKind { return &k }

func TestAddMessageKeepsAscendingOrder(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	for _, id := range []int64{5, 1, 3} {
		require.True(t, s.AddMessage(msg(1, id)))
	}
	require.Equal(t, []int64{1, 3, 5}, ids(s.Messages(1)))

	ch, ok := s.Channel(1)
	require.True(t, ok)
	require.EqualValues(t, 5, ch.LastMessageID)
}

func TestAddMessageIsIdempotent(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	s.AddMessage(msg(1, 1))
	s.AddMessage(msg(1, 2))
	before := s.Messages(1)

	require.False(t, s.AddMessage(msg(1, 2)))
	if diff := cmp.Diff(before, s.Messages(1)); diff != "" {
		t.Fatalf("messages changed after duplicate insert (-before +after):\n%s", diff)
	}
}

func TestConfirmedMessageSupersedesPending(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	pending := core.Message{ID: core.PendingID, CorrelationID: "c1", ChannelID: 4, Content: "hi"}
	require.True(t, s.AddMessage(pending))
	require.False(t, s.AddMessage(pending), "same correlation id must not be echoed twice")
	require.Len(t, s.Messages(4), 1)

	confirmed := pending
	confirmed.ID = 77
	require.True(t, s.AddMessage(confirmed))

	got := s.Messages(4)
	require.Len(t, got, 1)
	require.EqualValues(t, 77, got[0].ID)
	require.False(t, got[0].Pending())
}

func TestPendingMessagesFollowConfirmed(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	s.AddMessage(core.Message{ID: core.PendingID, CorrelationID: "a", ChannelID: 1})
	s.AddMessage(msg(1, 10))
	s.AddMessage(core.Message{ID: core.PendingID, CorrelationID: "b", ChannelID: 1})

	got := s.Messages(1)
	require.Equal(t, []int64{10, core.PendingID, core.PendingID}, ids(got))
	require.Equal(t, "a", got[1].CorrelationID)
	require.Equal(t, "b", got[2].CorrelationID)

	require.True(t, s.RemovePending(1, "a"))
	require.False(t, s.RemovePending(1, "a"))
	require.Len(t, s.Messages(1), 2)
}

func TestUnreadAccounting(t *testing.T) {
	api := &fakeAPI{}
	s := NewChannelStore(api, nil, nil)
	s.AddChannel(core.ChannelUpdate{ID: 1, Name: strPtr("#a")})
	s.AddChannel(core.ChannelUpdate{ID: 2, Name: strPtr("#b")})
	s.SetActiveChannel(1)

	for _, id := range []int64{10, 11, 12} {
		s.ObserveMessage(msg(2, id))
	}
	s.ObserveMessage(msg(2, 12))
	s.ObserveMessage(msg(1, 13))

	require.Equal(t, 3, s.Unread(2))
	require.Equal(t, 0, s.Unread(1))

	require.NoError(t, s.MarkMessageAsRead(context.Background(), 2, 12))
	require.Equal(t, 0, s.Unread(2))
	ch, _ := s.Channel(2)
	require.EqualValues(t, 12, ch.LastReadID)
	require.Equal(t, [][2]int64{{2, 12}}, api.marks)
}

func TestMarkAsReadFailureIsReturnedUnchanged(t *testing.T) {
	boom := errors.New("boom")
	s := NewChannelStore(&fakeAPI{err: boom}, nil, nil)
	s.ObserveMessage(msg(3, 1))

	err := s.MarkMessageAsRead(context.Background(), 3, 1)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, s.Unread(3))
}

func TestAddChannelMergesPartialPayload(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	s.AddChannel(core.ChannelUpdate{
		ID:            9,
		Name:          strPtr("#lobby"),
		Description:   strPtr("general"),
		LastMessageID: i64Ptr(50),
		Members:       []int64{3, 1},
	})
	ch := s.AddChannel(core.ChannelUpdate{ID: 9, Description: strPtr(""), LastMessageID: i64Ptr(20)})

	want := core.Channel{ID: 9, Name: "#lobby", Description: "", LastMessageID: 50, Members: []int64{1, 3}}
	if diff := cmp.Diff(want, ch); diff != "" {
		t.Fatalf("merged channel mismatch (-want +got):\n%s", diff)
	}
}

func TestLeaveKeepsHistory(t *testing.T) {
	api := &fakeAPI{history: map[int64][]proto.Message{
		7: {{MessageID: 1, ChannelID: 7}, {MessageID: 2, ChannelID: 7}},
	}}
	s := NewChannelStore(api, nil, nil)
	ctx := context.Background()

	_, err := s.JoinChannel(ctx, 7, 42)
	require.NoError(t, err)
	ch, _ := s.Channel(7)
	require.True(t, ch.Joined)
	require.Equal(t, []int64{42}, ch.Members)

	_, err = s.FetchMessages(ctx, 7, core.MessageQuery{Limit: 50})
	require.NoError(t, err)

	require.NoError(t, s.LeaveChannel(ctx, 7, 42))
	ch, _ = s.Channel(7)
	require.False(t, ch.Joined)

	api.history[7] = nil
	got, err := s.FetchMessages(ctx, 7, core.MessageQuery{Limit: 50})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(got))
}

func TestLeftGroupHistoryServedFromCache(t *testing.T) {
	api := &fakeAPI{history: map[int64][]proto.Message{
		7: {{MessageID: 1, ChannelID: 7}, {MessageID: 2, ChannelID: 7}},
	}}
	s := NewChannelStore(api, nil, nil)
	ctx := context.Background()

	s.AddChannel(core.ChannelUpdate{ID: 7, Name: strPtr("crew"), Kind: kindPtr(core.ChannelGroup)})
	_, err := s.JoinChannel(ctx, 7, 42)
	require.NoError(t, err)
	_, err = s.FetchMessages(ctx, 7, core.MessageQuery{Limit: 50})
	require.NoError(t, err)
	require.NoError(t, s.LeaveChannel(ctx, 7, 42))

	forbidden := errors.New("status 403: not a member")
	api.mu.Lock()
	api.err = forbidden
	api.mu.Unlock()

	got, err := s.FetchMessages(ctx, 7, core.MessageQuery{Limit: 50})
	require.ErrorIs(t, err, forbidden)
	require.Equal(t, []int64{1, 2}, ids(got))
}

func TestFetchChannelsMergesWithoutClobbering(t *testing.T) {
	api := &fakeAPI{channels: []proto.Channel{
		{ChannelID: 1, Name: strPtr("#osu"), LastMessageID: i64Ptr(3)},
		{ChannelID: 2, Name: strPtr("#help"), RecentMessages: []proto.Message{{MessageID: 8, ChannelID: 2}}},
	}}
	s := NewChannelStore(api, nil, nil)
	s.ObserveMessage(msg(1, 10))

	chans, err := s.FetchChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, chans, 2)

	ch, _ := s.Channel(1)
	require.EqualValues(t, 10, ch.LastMessageID, "stale list must not lower the watermark")
	require.Equal(t, "#osu", ch.Name)
	require.Equal(t, []int64{10}, ids(s.Messages(1)))
	require.Equal(t, []int64{8}, ids(s.Messages(2)))
	require.Equal(t, 1, s.Unread(1), "list merge must not reset live counters")
}

func TestFetchChannelCachesUsers(t *testing.T) {
	api := &fakeAPI{detail: map[int64]proto.ChannelDetail{
		5: {
			Channel: proto.Channel{ChannelID: 5, Name: strPtr("#dev"), Users: []int64{7}},
			Users:   []proto.User{{ID: 7, Username: "peppy"}},
		},
	}}
	s := NewChannelStore(api, nil, nil)

	ch, err := s.FetchChannel(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, "#dev", ch.Name)
	require.Equal(t, []int64{7}, ch.Members)

	u, ok := s.User(7)
	require.True(t, ok)
	require.Equal(t, "peppy", u.Username)
}

func TestResetDropsInFlightResponses(t *testing.T) {
	api := &fakeAPI{
		channels: []proto.Channel{{ChannelID: 1, Name: strPtr("#late")}},
		entered:  make(chan struct{}),
		block:    make(chan struct{}),
	}
	s := NewChannelStore(api, nil, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := s.FetchChannels(context.Background())
		errc <- err
	}()

	<-api.entered
	s.Reset()
	close(api.block)

	require.ErrorIs(t, <-errc, core.ErrStaleSession)
	require.Empty(t, s.Channels())
}

func TestFillProducesIndependentCopies(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	s.AddChannel(core.ChannelUpdate{ID: 1, Name: strPtr("#a")})
	s.ObserveMessage(msg(1, 1))
	s.UpsertUsers([]core.User{{ID: 2, Username: "bob"}})

	snap := core.EmptySnapshot()
	s.Fill(&snap)
	snap.Messages[1][0].Content = "mutated"
	snap.Unread[1] = 99

	require.Equal(t, "m", s.Messages(1)[0].Content)
	require.Equal(t, 1, s.Unread(1))
	require.Equal(t, "bob", snap.Users[2].Username)
}
