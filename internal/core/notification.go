package core

import "time"

// Notification is a cross-cutting notice (achievement, follow, mention...).
// The local session treats every fetched notification as unread until marked.
type Notification struct {
	ID           int64
	Name         string
	ObjectType   string
	ObjectID     int64
	SourceUserID int64
	CreatedAt    time.Time
	Details      map[string]any
}

// Silence reports a user whose messages were hidden by moderation.
type Silence struct {
	ID     int64
	UserID int64
}
