package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
)

func TestArchiveWriteThroughAndRestore(t *testing.T) {
	archive, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	first := NewChannelStore(&fakeAPI{}, archive, nil)
	first.AddChannel(core.ChannelUpdate{ID: 1, Name: strPtr("#osu")})
	first.ObserveMessage(msg(1, 2))
	first.ObserveMessage(msg(1, 1))
	first.AddMessage(core.Message{ID: core.PendingID, CorrelationID: "c", ChannelID: 1})
	first.UpsertUsers([]core.User{{ID: 2, Username: "bob"}})

	second := NewChannelStore(&fakeAPI{}, archive, nil)
	require.NoError(t, second.Restore(context.Background(), 50))

	ch, ok := second.Channel(1)
	require.True(t, ok)
	require.Equal(t, "#osu", ch.Name)
	require.Equal(t, []int64{1, 2}, ids(second.Messages(1)))
	require.Equal(t, 0, second.Unread(1), "restored history is not unread")

	u, ok := second.User(2)
	require.True(t, ok)
	require.Equal(t, "bob", u.Username)
}

func TestRestoreWithoutArchiveIsNoop(t *testing.T) {
	s := NewChannelStore(&fakeAPI{}, nil, nil)
	require.NoError(t, s.Restore(context.Background(), 10))
	require.Empty(t, s.Channels())
}
