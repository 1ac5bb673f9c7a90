package proto

import (
	"encoding/json"
	"time"
)

// Socket event names.
const (
	EventChatStart   = "chat.start"
	EventChannelJoin = "chat.channel.join"
	EventChannelPart = "chat.channel.part"
	EventMessageNew  = "chat.message.new"
)

// Envelope is the frame shape pushed by the chat gateway.
// A frame carries either an event with data or an error.
type Envelope struct {
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error json.RawMessage `json:"error,omitempty"`
}

// Control is a client-to-gateway control frame.
type Control struct {
	Event string `json:"event"`
}

// Channel is the channel payload shared by REST and socket events.
// Pointer fields distinguish "absent" from zero values.
type Channel struct {
	ChannelID      int64     `json:"channel_id"`
	Name           *string   `json:"name,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Type           *string   `json:"type,omitempty"`
	LastMessageID  *int64    `json:"last_message_id,omitempty"`
	LastReadID     *int64    `json:"last_read_id,omitempty"`
	Moderated      *bool     `json:"moderated,omitempty"`
	Users          []int64   `json:"users,omitempty"`
	RecentMessages []Message `json:"recent_messages,omitempty"`
}

// ChannelDetail is returned by GET /channels/{id}.
type ChannelDetail struct {
	Channel Channel `json:"channel"`
	Users   []User  `json:"users,omitempty"`
}

// ChannelEvent is the data of chat.channel.join and chat.channel.part.
// The gateway may send the channel bare or wrapped in a "channel" key.
type ChannelEvent struct {
	Channel Channel
}

// UnmarshalJSON accepts both {"channel": {...}} and a bare channel object.
func (e *ChannelEvent) UnmarshalJSON(data []byte) error {
	var wrapped struct {
		Channel *Channel `json:"channel"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.Channel != nil {
		e.Channel = *wrapped.Channel
		return nil
	}
	return json.Unmarshal(data, &e.Channel)
}

// MarshalJSON writes the wrapped form.
func (e ChannelEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Channel Channel `json:"channel"`
	}{Channel: e.Channel})
}

// NewMessages is the data of chat.message.new.
type NewMessages struct {
	Messages []Message `json:"messages"`
	Users    []User    `json:"users,omitempty"`
}

// Message is a chat message on the wire.
type Message struct {
	MessageID int64     `json:"message_id"`
	ChannelID int64     `json:"channel_id"`
	SenderID  int64     `json:"sender_id"`
	Sender    *User     `json:"sender,omitempty"`
	Content   string    `json:"content"`
	IsAction  bool      `json:"is_action"`
	Timestamp time.Time `json:"timestamp"`
	UUID      string    `json:"uuid,omitempty"`
}

// User is a compact user record.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsSupporter bool   `json:"is_supporter,omitempty"`
	IsBot       bool   `json:"is_bot,omitempty"`
	IsOnline    bool   `json:"is_online,omitempty"`
}

// SendMessageRequest is the body of POST /channels/{id}/messages.
type SendMessageRequest struct {
	Message  string `json:"message"`
	IsAction bool   `json:"is_action,omitempty"`
	UUID     string `json:"uuid,omitempty"`
}

// NewPrivateChatRequest is the body of POST /chat/new.
type NewPrivateChatRequest struct {
	TargetID int64  `json:"target_id"`
	Message  string `json:"message"`
	IsAction bool   `json:"is_action,omitempty"`
	UUID     string `json:"uuid,omitempty"`
}

// NewPrivateChatResponse is returned by POST /chat/new.
type NewPrivateChatResponse struct {
	Channel Channel `json:"channel"`
	Message Message `json:"message"`
}

// Notification is a notification record on the wire.
type Notification struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	CreatedAt    time.Time      `json:"created_at"`
	ObjectType   string         `json:"object_type"`
	ObjectID     int64          `json:"object_id"`
	SourceUserID int64          `json:"source_user_id,omitempty"`
	IsRead       bool           `json:"is_read"`
	Details      map[string]any `json:"details,omitempty"`
}

// NotificationsResponse is returned by GET /notifications.
type NotificationsResponse struct {
	Notifications        []Notification `json:"notifications"`
	NotificationEndpoint string         `json:"notification_endpoint"`
	HasMore              bool           `json:"has_more,omitempty"`
}

// MarkNotificationsRequest is the body of POST /notifications/mark-read.
type MarkNotificationsRequest struct {
	NotificationIDs []int64 `json:"notification_ids"`
}

// Silence is a moderation record returned by the updates endpoint.
type Silence struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

// UpdatesResponse is returned by GET /chat/updates.
type UpdatesResponse struct {
	Presence []Channel `json:"presence,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Silences []Silence `json:"silences,omitempty"`
}

// UpdatesQuery selects what GET /chat/updates returns.
type UpdatesQuery struct {
	Since        int64
	HistorySince int64
	Includes     []string
}

// Includes values accepted by the updates endpoint.
const (
	IncludePresence = "presence"
	IncludeMessages = "messages"
	IncludeSilences = "silences"
)

// ErrorResponse is the error body returned by the REST API.
type ErrorResponse struct {
	Error string `json:"error"`
}
