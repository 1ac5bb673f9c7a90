package core

import "time"

// PendingID marks a message the server has not acknowledged yet.
const PendingID int64 = -1

// Message is the domain model for a chat message.
type Message struct {
	ID            int64
	CorrelationID string
	ChannelID     int64
	SenderID      int64
	Sender        *User
	Content       string
	IsAction      bool
	Timestamp     time.Time
}

// Pending reports whether the message is a local echo awaiting settlement.
func (m Message) Pending() bool {
	return m.ID == PendingID
}

// MessageQuery bounds a message history request. Zero fields are omitted.
type MessageQuery struct {
	Limit int
	Since int64
	Until int64
}
