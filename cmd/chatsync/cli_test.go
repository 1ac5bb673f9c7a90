package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirechat-sync/internal/core"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line string
		want input
	}{
		{"hello there", input{kind: inputSay, text: "hello there"}},
		{"  /me waves  ", input{kind: inputAction, text: "waves"}},
		{"/join 12", input{kind: inputJoin, target: 12}},
		{"/leave #12", input{kind: inputLeave, target: 12}},
		{"/switch 3", input{kind: inputSwitch, target: 3}},
		{"/pm 7 hi bob", input{kind: inputPrivate, target: 7, text: "hi bob"}},
		{"/retry abc-1", input{kind: inputRetry, failedID: "abc-1"}},
		{"/dismiss abc-1", input{kind: inputDismiss, failedID: "abc-1"}},
		{"/quit", input{kind: inputQuit}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseInput(tt.line)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseInputErrors(t *testing.T) {
	for _, line := range []string{"", "   ", "/me", "/join", "/join abc", "/switch -1", "/pm 7", "/pm x hi", "/retry", "/nope"} {
		_, err := parseInput(line)
		require.Error(t, err, "line %q", line)
	}
}

func TestPrinterShowsEachConfirmedMessageOnce(t *testing.T) {
	snap := core.EmptySnapshot()
	snap.Channels = []core.Channel{{ID: 1, Name: "#general"}}
	snap.Users = map[int64]core.User{7: {ID: 7, Username: "bob"}}
	snap.Messages = map[int64][]core.Message{
		1: {
			{ID: 10, ChannelID: 1, SenderID: 7, Content: "hi"},
			{ID: 11, ChannelID: 1, SenderID: 7, Content: "waves", IsAction: true},
			{ID: core.PendingID, ChannelID: 1, SenderID: 42, Content: "sending"},
		},
		2: {{ID: 5, ChannelID: 2, SenderID: 9, Content: "elsewhere"}},
	}

	p := newPrinter()
	require.Equal(t, []string{
		"[#general] bob: hi",
		"[#general] * bob waves",
		"[#2] user9: elsewhere",
	}, p.lines(snap))
	require.Empty(t, p.lines(snap))

	snap.Messages = map[int64][]core.Message{
		1: {
			{ID: 10, ChannelID: 1, SenderID: 7, Content: "hi"},
			{ID: 12, ChannelID: 1, SenderID: 42, Sender: &core.User{ID: 42, Username: "alice"}, Content: "sent"},
		},
	}
	require.Equal(t, []string{"[#general] alice: sent"}, p.lines(snap))
}
