package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/devserver"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
	"github.com/vovakirdan/wirechat-sync/internal/transport/rest"
	"github.com/vovakirdan/wirechat-sync/internal/transport/ws"
)

const (
	alice int64 = 42
	bob   int64 = 7
)

type fixture struct {
	srv   *devserver.Server
	ts    *httptest.Server
	ctl   *Controller
	token string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	srv := devserver.New(devserver.Options{
		Tokens: devserver.TokenConfig{Secret: []byte("sessionsecret"), Issuer: "wirechat-dev"},
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	srv.AddUser(proto.User{ID: bob, Username: "bob"})
	token, err := srv.IssueToken(alice, "alice")
	require.NoError(t, err)

	api, err := rest.New(ts.URL+"/api/v2", 5*time.Second, nil)
	require.NoError(t, err)

	ctl := New(api, nil, opts, nil)
	t.Cleanup(ctl.Disconnect)

	return &fixture{srv: srv, ts: ts, ctl: ctl, token: token}
}

func (f *fixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
}

func (f *fixture) connect(t *testing.T, channels int) core.Snapshot {
	t.Helper()
	require.NoError(t, f.ctl.Connect(context.Background(), f.wsURL(), f.token, alice))
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 1 }, 3*time.Second, 10*time.Millisecond)
	return waitFor(t, f.ctl, "connected with channels", func(s core.Snapshot) bool {
		return s.Status == core.StatusConnected && len(s.Channels) == channels
	})
}

func waitFor(t *testing.T, ctl *Controller, what string, cond func(core.Snapshot) bool) core.Snapshot {
	t.Helper()

	var last core.Snapshot
	require.Eventually(t, func() bool {
		last = ctl.Snapshot()
		return cond(last)
	}, 5*time.Second, 10*time.Millisecond, what)
	return last
}

func contents(msgs []core.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestOperationsRequireSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.ctl.SendMessage(ctx, 1, "hi", false)
	require.ErrorIs(t, err, core.ErrNotConnected)
	require.ErrorIs(t, f.ctl.SwitchChannel(ctx, 1), core.ErrNotConnected)
	_, err = f.ctl.FetchChannels(ctx)
	require.ErrorIs(t, err, core.ErrNotConnected)
	require.ErrorIs(t, f.ctl.MarkNotificationsAsRead(ctx, []int64{1}), core.ErrNotConnected)
	require.Empty(t, f.ctl.Notifications())
	require.Equal(t, core.StatusDisconnected, f.ctl.Status())
}

func TestColdConnectUsesDiscoveredEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice)
	f.srv.SetNotificationEndpoint(f.wsURL())

	err := f.ctl.Connect(context.Background(), "ws://127.0.0.1:1/unreachable", f.token, alice)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 1 }, 3*time.Second, 10*time.Millisecond)

	snap := waitFor(t, f.ctl, "channel list", func(s core.Snapshot) bool { return len(s.Channels) == 1 })
	require.Equal(t, core.StatusConnected, snap.Status)
	require.Equal(t, general, snap.Channels[0].ID)
	require.Equal(t, "#general", snap.Channels[0].Name)
}

func TestConnectFallsBackWhenDiscoveryFails(t *testing.T) {
	f := newFixture(t, Options{})

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	api, err := rest.New(deadURL+"/api/v2", time.Second, nil)
	require.NoError(t, err)
	ctl := New(api, nil, Options{}, nil)
	t.Cleanup(ctl.Disconnect)

	require.NoError(t, ctl.Connect(context.Background(), f.wsURL(), f.token, alice))
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.Equal(t, core.StatusConnected, ctl.Status())
}

func TestConnectFailureReported(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.RejectSockets(true)

	err := f.ctl.Connect(context.Background(), f.wsURL(), f.token, alice)
	require.Error(t, err)

	snap := f.ctl.Snapshot()
	require.Equal(t, core.StatusDisconnected, snap.Status)
	require.NotNil(t, snap.LastError)
	require.Equal(t, core.ErrCodeConnectFailed, snap.LastError.Code)

	f.srv.RejectSockets(false)
	f.connect(t, 0)
}

func TestConnectIsNoOpWhileConnected(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.AddChannel("#general", "PUBLIC", "", alice)
	f.connect(t, 1)

	require.NoError(t, f.ctl.Connect(context.Background(), f.wsURL(), f.token, alice))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, f.srv.Sockets(alice))
}

func TestSwitchChannelLoadsHistoryAndMarksRead(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice, bob)
	for _, text := range []string{"a", "b", "c"} {
		_, err := f.srv.Post(general, bob, text)
		require.NoError(t, err)
	}
	f.connect(t, 1)

	require.NoError(t, f.ctl.SwitchChannel(ctx, general))

	snap := f.ctl.Snapshot()
	require.Equal(t, general, snap.ActiveChannelID)
	require.Equal(t, []string{"a", "b", "c"}, contents(snap.Messages[general]))
	require.Zero(t, snap.Unread[general])
	ch, ok := snap.Channel(general)
	require.True(t, ok)
	require.EqualValues(t, 3, ch.LastReadID)
	require.Equal(t, "bob", snap.Users[bob].Username)

	require.ErrorIs(t, f.ctl.SwitchChannel(ctx, 999), core.ErrUnknownChannel)
}

func TestUnreadAccounting(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	chA := f.srv.AddChannel("#a", "PUBLIC", "", alice, bob)
	chB := f.srv.AddChannel("#b", "PUBLIC", "", alice, bob)
	f.connect(t, 2)

	require.NoError(t, f.ctl.SwitchChannel(ctx, chA))
	for i := 0; i < 3; i++ {
		_, err := f.srv.Post(chB, bob, "for b")
		require.NoError(t, err)
	}
	_, err := f.srv.Post(chA, bob, "for a")
	require.NoError(t, err)

	snap := waitFor(t, f.ctl, "pushed messages", func(s core.Snapshot) bool {
		return len(s.Messages[chB]) == 3 && len(s.Messages[chA]) == 1
	})
	require.Equal(t, 3, snap.Unread[chB])
	require.Equal(t, 0, snap.Unread[chA])

	require.NoError(t, f.ctl.MarkAsRead(ctx, chB))
	snap = f.ctl.Snapshot()
	require.Equal(t, 0, snap.Unread[chB])
	ch, _ := snap.Channel(chB)
	require.EqualValues(t, 3, ch.LastReadID)
}

func TestSendMessagePromotesEcho(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice, bob)
	f.connect(t, 1)
	require.NoError(t, f.ctl.SwitchChannel(ctx, general))

	sent, err := f.ctl.SendMessage(ctx, general, "hello", false)
	require.NoError(t, err)
	require.False(t, sent.Pending())
	require.NotEmpty(t, sent.CorrelationID)

	msgs := f.ctl.Snapshot().Messages[general]
	require.Len(t, msgs, 1)
	require.Equal(t, sent.ID, msgs[0].ID)

	_, err = f.srv.Post(general, bob, "after")
	require.NoError(t, err)
	snap := waitFor(t, f.ctl, "reply", func(s core.Snapshot) bool { return len(s.Messages[general]) >= 2 })
	require.Equal(t, []string{"hello", "after"}, contents(snap.Messages[general]))
	require.Equal(t, sent.CorrelationID, snap.Messages[general][0].CorrelationID)
	require.Zero(t, snap.Unread[general])
}

func TestOwnMessagesAreNotUnread(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	chA := f.srv.AddChannel("#a", "PUBLIC", "", alice)
	chB := f.srv.AddChannel("#b", "PUBLIC", "", alice)
	f.connect(t, 2)
	require.NoError(t, f.ctl.SwitchChannel(ctx, chA))

	_, err := f.ctl.SendMessage(ctx, chB, "note to self", false)
	require.NoError(t, err)
	_, err = f.srv.Post(chB, alice, "from another device")
	require.NoError(t, err)

	snap := waitFor(t, f.ctl, "own messages", func(s core.Snapshot) bool { return len(s.Messages[chB]) == 2 })
	require.Zero(t, snap.Unread[chB])
}

func TestFailedSendRetryAndDismiss(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice)
	f.connect(t, 1)

	f.srv.FailNextSend("boom")
	_, err := f.ctl.SendMessage(ctx, general, "hello", true)
	var apiErr *rest.Error
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	snap := f.ctl.Snapshot()
	require.Empty(t, snap.Messages[general])
	require.Len(t, snap.FailedSends, 1)
	failed := snap.FailedSends[0]
	require.Equal(t, "hello", failed.Content)
	require.True(t, failed.IsAction)
	require.Equal(t, general, failed.ChannelID)
	require.Equal(t, core.ErrCodeSendFailed, snap.LastError.Code)

	sent, err := f.ctl.RetrySend(ctx, failed.CorrelationID)
	require.NoError(t, err)
	require.NotEqual(t, failed.CorrelationID, sent.CorrelationID)

	snap = f.ctl.Snapshot()
	require.Empty(t, snap.FailedSends)
	require.Equal(t, []string{"hello"}, contents(snap.Messages[general]))
	require.True(t, snap.Messages[general][0].IsAction)

	_, err = f.ctl.RetrySend(ctx, failed.CorrelationID)
	require.ErrorIs(t, err, core.ErrUnknownFailure)

	f.srv.FailNextSend("again")
	_, err = f.ctl.SendMessage(ctx, general, "second", false)
	require.Error(t, err)
	id := f.ctl.Snapshot().FailedSends[0].CorrelationID
	require.NoError(t, f.ctl.DismissFailed(id))
	require.Empty(t, f.ctl.Snapshot().FailedSends)
	require.ErrorIs(t, f.ctl.DismissFailed(id), core.ErrUnknownFailure)
}

func TestLeaveThenHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	lobby := f.srv.AddChannel("#lobby", "PUBLIC", "")
	f.srv.AddChannel("#general", "PUBLIC", "", alice)
	f.connect(t, 2)

	ch, err := f.ctl.JoinChannel(ctx, lobby)
	require.NoError(t, err)
	require.True(t, ch.Joined)
	for _, text := range []string{"one", "two"} {
		_, err := f.srv.Post(lobby, alice, text)
		require.NoError(t, err)
	}
	waitFor(t, f.ctl, "lobby history", func(s core.Snapshot) bool { return len(s.Messages[lobby]) == 2 })

	require.NoError(t, f.ctl.LeaveChannel(ctx, lobby))
	msgs, err := f.ctl.FetchMessages(ctx, lobby, core.MessageQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two"}, contents(msgs))

	snap := waitFor(t, f.ctl, "parted", func(s core.Snapshot) bool {
		c, ok := s.Channel(lobby)
		return ok && !c.Joined
	})
	require.Len(t, snap.Messages[lobby], 2)
}

func TestDisconnectResetsAndIsIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice)
	_, err := f.srv.Post(general, alice, "hi")
	require.NoError(t, err)
	f.connect(t, 1)
	require.NoError(t, f.ctl.SwitchChannel(ctx, general))

	f.ctl.Disconnect()
	if diff := cmp.Diff(core.EmptySnapshot(), f.ctl.Snapshot()); diff != "" {
		t.Fatalf("snapshot after disconnect mismatch (-want +got):\n%s", diff)
	}
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 0 }, 3*time.Second, 10*time.Millisecond)

	f.ctl.Disconnect()
	require.Equal(t, core.StatusDisconnected, f.ctl.Status())
	_, err = f.ctl.SendMessage(ctx, general, "late", false)
	require.ErrorIs(t, err, core.ErrNotConnected)

	// A later post must not leak into the cleared state.
	_, err = f.srv.Post(general, alice, "after")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, f.ctl.Snapshot().Channels)
}

func TestReconnectCatchesUp(t *testing.T) {
	f := newFixture(t, Options{Socket: ws.Options{BaseDelay: 20 * time.Millisecond}})
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice, bob)
	f.connect(t, 1)

	f.srv.RejectSockets(true)
	f.srv.DropSockets()
	waitFor(t, f.ctl, "connection lost", func(s core.Snapshot) bool { return s.Status == core.StatusConnecting })
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 0 }, 3*time.Second, 10*time.Millisecond)

	missed, err := f.srv.Post(general, bob, "while you were away")
	require.NoError(t, err)
	f.srv.RejectSockets(false)

	snap := waitFor(t, f.ctl, "catch-up", func(s core.Snapshot) bool {
		return s.Status == core.StatusConnected && len(s.Messages[general]) == 1
	})
	require.Equal(t, missed.MessageID, snap.Messages[general][0].ID)
	require.Equal(t, 1, snap.Unread[general])
	ch, _ := snap.Channel(general)
	require.True(t, ch.Joined)
}

func TestReconnectCatchesUpWhenNotificationsFail(t *testing.T) {
	f := newFixture(t, Options{Socket: ws.Options{BaseDelay: 20 * time.Millisecond}})
	general := f.srv.AddChannel("#general", "PUBLIC", "", alice, bob)
	f.connect(t, 1)

	f.srv.FailNotifications(true)
	f.srv.RejectSockets(true)
	f.srv.DropSockets()
	waitFor(t, f.ctl, "connection lost", func(s core.Snapshot) bool { return s.Status == core.StatusConnecting })
	require.Eventually(t, func() bool { return f.srv.Sockets(alice) == 0 }, 3*time.Second, 10*time.Millisecond)

	missed, err := f.srv.Post(general, bob, "while you were away")
	require.NoError(t, err)
	f.srv.RejectSockets(false)

	snap := waitFor(t, f.ctl, "catch-up", func(s core.Snapshot) bool {
		return s.Status == core.StatusConnected && len(s.Messages[general]) == 1
	})
	require.Equal(t, missed.MessageID, snap.Messages[general][0].ID)
	require.Equal(t, 1, snap.Unread[general])
}

func TestLatePushAfterSendIsNotCountedTwice(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	chA := f.srv.AddChannel("#a", "PUBLIC", "", alice, bob)
	chB := f.srv.AddChannel("#b", "PUBLIC", "", alice, bob)
	f.connect(t, 2)
	require.NoError(t, f.ctl.SwitchChannel(ctx, chA))

	sent, err := f.ctl.SendMessage(ctx, chB, "mine", false)
	require.NoError(t, err)
	_, err = f.srv.Post(chB, bob, "theirs")
	require.NoError(t, err)

	snap := waitFor(t, f.ctl, "reply", func(s core.Snapshot) bool {
		msgs := s.Messages[chB]
		return len(msgs) > 0 && msgs[len(msgs)-1].Content == "theirs"
	})
	require.Equal(t, []string{"mine", "theirs"}, contents(snap.Messages[chB]))
	require.Equal(t, sent.ID, snap.Messages[chB][0].ID)
	require.Equal(t, 1, snap.Unread[chB])
}

func TestReconnectExhausted(t *testing.T) {
	f := newFixture(t, Options{Socket: ws.Options{BaseDelay: 5 * time.Millisecond, MaxAttempts: 2}})
	f.srv.AddChannel("#general", "PUBLIC", "", alice)
	f.connect(t, 1)

	f.srv.RejectSockets(true)
	f.srv.DropSockets()
	snap := waitFor(t, f.ctl, "gave up", func(s core.Snapshot) bool {
		return s.Status == core.StatusDisconnected && s.LastError != nil
	})
	require.Equal(t, core.ErrCodeReconnectExhausted, snap.LastError.Code)
	require.Len(t, snap.Channels, 1)

	f.srv.RejectSockets(false)
	f.connect(t, 1)
	require.Nil(t, f.ctl.Snapshot().LastError)
}

func TestServerErrorFrame(t *testing.T) {
	f := newFixture(t, Options{})
	f.connect(t, 0)

	f.srv.PushRaw(alice, []byte(`{"error":"slow down"}`))
	snap := waitFor(t, f.ctl, "server error", func(s core.Snapshot) bool { return s.LastError != nil })
	require.Equal(t, core.ErrCodeServer, snap.LastError.Code)
	require.Contains(t, snap.LastError.Message, "slow down")
	require.Equal(t, core.StatusConnected, snap.Status)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, Options{})
	n := f.srv.Notify(alice, "channel_message", "channel", 1, bob)
	f.connect(t, 0)

	snap := waitFor(t, f.ctl, "notifications", func(s core.Snapshot) bool { return len(s.Notifications) == 1 })
	require.Equal(t, n.ID, snap.Notifications[0].ID)
	require.Len(t, f.ctl.Notifications(), 1)

	require.NoError(t, f.ctl.MarkNotificationsAsRead(context.Background(), []int64{n.ID}))
	require.Empty(t, f.ctl.Snapshot().Notifications)
	require.Empty(t, f.ctl.Notifications())
}

func TestCreatePrivateChat(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.connect(t, 0)

	ch, err := f.ctl.CreatePrivateChat(ctx, bob, "psst", false)
	require.NoError(t, err)
	require.Equal(t, core.ChannelPM, ch.Kind)
	require.ElementsMatch(t, []int64{alice, bob}, ch.Members)

	_, err = f.srv.Post(ch.ID, bob, "yes?")
	require.NoError(t, err)
	snap := waitFor(t, f.ctl, "reply", func(s core.Snapshot) bool { return len(s.Messages[ch.ID]) >= 2 })
	require.Equal(t, []string{"psst", "yes?"}, contents(snap.Messages[ch.ID]))

	_, err = f.ctl.CreatePrivateChat(ctx, bob, "  ", false)
	require.ErrorIs(t, err, core.ErrEmptyMessage)
}

func TestSubscribeDeliversLatest(t *testing.T) {
	f := newFixture(t, Options{})
	f.srv.AddChannel("#general", "PUBLIC", "", alice)

	sub, cancel := f.ctl.Subscribe()
	first := <-sub
	require.Equal(t, core.StatusDisconnected, first.Status)

	require.NoError(t, f.ctl.Connect(context.Background(), f.wsURL(), f.token, alice))
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-sub:
			if snap.Status == core.StatusConnected && len(snap.Channels) == 1 {
				cancel()
				for range sub {
				}
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for connected snapshot")
		}
	}
}
