package store

import (
	"context"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// API is the part of the chat REST API the channel store calls.
type API interface {
	// ListChannels returns the channels visible to the session.
	ListChannels(ctx context.Context) ([]proto.Channel, error)

	// GetChannel returns one channel with its recent messages and users.
	GetChannel(ctx context.Context, channelID int64) (proto.ChannelDetail, error)

	// ListMessages returns a page of channel history.
	ListMessages(ctx context.Context, channelID int64, q core.MessageQuery) ([]proto.Message, error)

	// JoinChannel adds userID to the channel.
	JoinChannel(ctx context.Context, channelID, userID int64) (proto.Channel, error)

	// LeaveChannel removes userID from the channel.
	LeaveChannel(ctx context.Context, channelID, userID int64) error

	// MarkAsRead moves the server-side read marker.
	MarkAsRead(ctx context.Context, channelID, messageID int64) error
}

// Archive persists confirmed channels, messages and users between sessions.
type Archive interface {
	// SaveChannel upserts a channel summary.
	SaveChannel(ctx context.Context, ch core.Channel) error

	// SaveMessages upserts confirmed messages. Pending messages are ignored.
	SaveMessages(ctx context.Context, msgs []core.Message) error

	// SaveUsers upserts cached users.
	SaveUsers(ctx context.Context, users []core.User) error

	// LoadChannels lists archived channels.
	LoadChannels(ctx context.Context) ([]core.Channel, error)

	// LoadMessages returns up to limit of the newest archived messages of a
	// channel, ascending by id.
	LoadMessages(ctx context.Context, channelID int64, limit int) ([]core.Message, error)

	// LoadUsers lists archived users.
	LoadUsers(ctx context.Context) ([]core.User, error)

	// Close closes the underlying database connection.
	Close() error
}
