package core

// Status is the externally visible session connection status.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// FailedSend is a local echo whose send was rejected; the UI may resubmit it.
type FailedSend struct {
	CorrelationID string
	ChannelID     int64
	Content       string
	IsAction      bool
	Error         string
}

// Snapshot is a consistent view of the session state. Its slices and maps
// are never mutated after publication and may be shared between readers.
type Snapshot struct {
	Status          Status
	ActiveChannelID int64
	Channels        []Channel
	Messages        map[int64][]Message
	Users           map[int64]User
	Unread          map[int64]int
	Notifications   []Notification
	FailedSends     []FailedSend
	LastError       *CoreError
}

// EmptySnapshot returns the initial disconnected snapshot.
func EmptySnapshot() Snapshot {
	return Snapshot{
		Status:   StatusDisconnected,
		Channels: []Channel{},
		Messages: map[int64][]Message{},
		Users:    map[int64]User{},
		Unread:   map[int64]int{},
	}
}

// Channel looks up a channel by id.
func (s Snapshot) Channel(id int64) (Channel, bool) {
	for _, ch := range s.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}
