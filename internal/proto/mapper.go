package proto

import (
	"github.com/vovakirdan/wirechat-sync/internal/core"
)

// MessageToCore converts a wire message into a confirmed domain message.
func MessageToCore(m Message) core.Message {
	msg := core.Message{
		ID:            m.MessageID,
		CorrelationID: m.UUID,
		ChannelID:     m.ChannelID,
		SenderID:      m.SenderID,
		Content:       m.Content,
		IsAction:      m.IsAction,
		Timestamp:     m.Timestamp,
	}
	if m.Sender != nil {
		u := UserToCore(*m.Sender)
		msg.Sender = &u
	}
	return msg
}

// MessagesToCore converts a slice of wire messages.
func MessagesToCore(in []Message) []core.Message {
	out := make([]core.Message, 0, len(in))
	for _, m := range in {
		out = append(out, MessageToCore(m))
	}
	return out
}

// MessageFromCore converts a domain message back to the wire shape.
func MessageFromCore(m core.Message) Message {
	msg := Message{
		MessageID: m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		IsAction:  m.IsAction,
		Timestamp: m.Timestamp,
		UUID:      m.CorrelationID,
	}
	if m.Sender != nil {
		u := UserFromCore(*m.Sender)
		msg.Sender = &u
	}
	return msg
}

// UserToCore converts a wire user.
func UserToCore(u User) core.User {
	return core.User{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
		Supporter: u.IsSupporter,
		Bot:       u.IsBot,
		Online:    u.IsOnline,
	}
}

// UsersToCore converts a slice of wire users.
func UsersToCore(in []User) []core.User {
	out := make([]core.User, 0, len(in))
	for _, u := range in {
		out = append(out, UserToCore(u))
	}
	return out
}

// UserFromCore converts a domain user to the wire shape.
func UserFromCore(u core.User) User {
	return User{
		ID:          u.ID,
		Username:    u.Username,
		AvatarURL:   u.AvatarURL,
		IsSupporter: u.Supporter,
		IsBot:       u.Bot,
		IsOnline:    u.Online,
	}
}

// ChannelToUpdate converts a wire channel into a partial domain update.
// Embedded recent messages are not part of the update.
func ChannelToUpdate(c Channel) core.ChannelUpdate {
	upd := core.ChannelUpdate{
		ID:            c.ChannelID,
		Name:          c.Name,
		Description:   c.Description,
		LastMessageID: c.LastMessageID,
		LastReadID:    c.LastReadID,
		Moderated:     c.Moderated,
		Members:       c.Users,
	}
	if c.Type != nil {
		kind := core.ChannelKind(*c.Type)
		upd.Kind = &kind
	}
	return upd
}

// ChannelFromCore converts a full domain channel to the wire shape.
func ChannelFromCore(c core.Channel) Channel {
	name, desc, kind := c.Name, c.Description, string(c.Kind)
	lastMsg, lastRead, moderated := c.LastMessageID, c.LastReadID, c.Moderated
	return Channel{
		ChannelID:     c.ID,
		Name:          &name,
		Description:   &desc,
		Type:          &kind,
		LastMessageID: &lastMsg,
		LastReadID:    &lastRead,
		Moderated:     &moderated,
		Users:         append([]int64(nil), c.Members...),
	}
}

// NotificationToCore converts a wire notification. is_read is not carried over;
// fetched notifications stay unread until marked locally.
func NotificationToCore(n Notification) core.Notification {
	return core.Notification{
		ID:           n.ID,
		Name:         n.Name,
		ObjectType:   n.ObjectType,
		ObjectID:     n.ObjectID,
		SourceUserID: n.SourceUserID,
		CreatedAt:    n.CreatedAt,
		Details:      n.Details,
	}
}

// NotificationFromCore converts a domain notification to the wire shape.
func NotificationFromCore(n core.Notification) Notification {
	return Notification{
		ID:           n.ID,
		Name:         n.Name,
		CreatedAt:    n.CreatedAt,
		ObjectType:   n.ObjectType,
		ObjectID:     n.ObjectID,
		SourceUserID: n.SourceUserID,
		Details:      n.Details,
	}
}

// SilenceToCore converts a wire silence.
func SilenceToCore(s Silence) core.Silence {
	return core.Silence{ID: s.ID, UserID: s.UserID}
}
