package core

// ChannelKind enumerates the channel types the chat service knows about.
type ChannelKind string

const (
	ChannelPublic      ChannelKind = "PUBLIC"
	ChannelPrivate     ChannelKind = "PRIVATE"
	ChannelMultiplayer ChannelKind = "MULTIPLAYER"
	ChannelSpectator   ChannelKind = "SPECTATOR"
	ChannelTemporary   ChannelKind = "TEMPORARY"
	ChannelPM          ChannelKind = "PM"
	ChannelGroup       ChannelKind = "GROUP"
)

// Channel is a chat channel as seen by the local session.
type Channel struct {
	ID            int64
	Name          string
	Description   string
	Kind          ChannelKind
	LastMessageID int64
	LastReadID    int64
	Moderated     bool
	Joined        bool
	Members       []int64
}

// ChannelUpdate carries a possibly partial channel payload.
// Nil fields were absent from the payload and leave stored values untouched.
type ChannelUpdate struct {
	ID            int64
	Name          *string
	Description   *string
	Kind          *ChannelKind
	LastMessageID *int64
	LastReadID    *int64
	Moderated     *bool
	Joined        *bool
	Members       []int64
}

// Joining returns a copy of u that also marks the channel as joined or parted.
func (u ChannelUpdate) Joining(joined bool) ChannelUpdate {
	u.Joined = &joined
	return u
}
