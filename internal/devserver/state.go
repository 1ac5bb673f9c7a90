package devserver

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

var (
	errNoChannel  = errors.New("channel not found")
	errNoUser     = errors.New("user not found")
	errNotMember  = errors.New("not a member of this channel")
	errForbidden  = errors.New("forbidden")
	errEmptyInput = errors.New("message is empty")
)

const recentMessages = 50

type channel struct {
	id          int64
	name        string
	description string
	kind        string
	moderated   bool
	members     map[int64]struct{}
	messages    []proto.Message
	readMarks   map[int64]int64
}

type notification struct {
	proto.Notification
	userID int64
}

// world is the in-memory chat service state.
type world struct {
	mu            sync.Mutex
	now           func() time.Time
	nextChannelID int64
	nextMessageID int64
	nextNoteID    int64
	users         map[int64]proto.User
	channels      map[int64]*channel
	notifications []notification
}

func newWorld() *world {
	return &world{
		now:      time.Now,
		users:    make(map[int64]proto.User),
		channels: make(map[int64]*channel),
	}
}

func (w *world) addUser(u proto.User) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.users[u.ID] = u
}

// ensureUser registers a token holder on first sight.
func (w *world) ensureUser(id int64, username string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.users[id]; !ok {
		w.users[id] = proto.User{ID: id, Username: username}
	}
}

func (w *world) addChannel(name, kind, description string, members ...int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addChannelLocked(name, kind, description, members...)
}

func (w *world) addChannelLocked(name, kind, description string, members ...int64) int64 {
	w.nextChannelID++
	ch := &channel{
		id:          w.nextChannelID,
		name:        name,
		description: description,
		kind:        kind,
		members:     make(map[int64]struct{}),
		readMarks:   make(map[int64]int64),
	}
	for _, id := range members {
		ch.members[id] = struct{}{}
	}
	w.channels[ch.id] = ch
	return ch.id
}

func (w *world) visibleChannels(userID int64) []proto.Channel {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]int64, 0, len(w.channels))
	for id, ch := range w.channels {
		if _, member := ch.members[userID]; member || ch.kind == "PUBLIC" {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]proto.Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, w.channels[id].wire(userID, false))
	}
	return out
}

func (w *world) joinedChannels(userID int64) []proto.Channel {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []proto.Channel
	for _, ch := range w.channels {
		if _, ok := ch.members[userID]; ok {
			out = append(out, ch.wire(userID, false))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out
}

func (w *world) channelDetail(channelID, userID int64) (proto.ChannelDetail, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return proto.ChannelDetail{}, errNoChannel
	}
	if err := ch.readable(userID); err != nil {
		return proto.ChannelDetail{}, err
	}
	detail := proto.ChannelDetail{Channel: ch.wire(userID, true)}
	for _, id := range ch.sortedMembers() {
		if u, ok := w.users[id]; ok {
			detail.Users = append(detail.Users, u)
		}
	}
	return detail, nil
}

func (w *world) history(channelID, userID int64, limit int, since, until int64) ([]proto.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return nil, errNoChannel
	}
	if err := ch.readable(userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > recentMessages {
		limit = recentMessages
	}

	var out []proto.Message
	for _, m := range ch.messages {
		if since > 0 && m.MessageID <= since {
			continue
		}
		if until > 0 && m.MessageID >= until {
			continue
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]proto.Message{}, out...), nil
}

func (w *world) join(channelID, userID int64) (proto.Channel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return proto.Channel{}, errNoChannel
	}
	if ch.kind != "PUBLIC" {
		if _, member := ch.members[userID]; !member {
			return proto.Channel{}, errForbidden
		}
	}
	ch.members[userID] = struct{}{}
	return ch.wire(userID, false), nil
}

func (w *world) leave(channelID, userID int64) (proto.Channel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return proto.Channel{}, errNoChannel
	}
	delete(ch.members, userID)
	return proto.Channel{ChannelID: ch.id}, nil
}

func (w *world) markRead(channelID, userID, messageID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return errNoChannel
	}
	if messageID > ch.readMarks[userID] {
		ch.readMarks[userID] = messageID
	}
	return nil
}

// post appends a message and returns it with the ids of everyone who
// should receive the push.
func (w *world) post(channelID, senderID int64, req proto.SendMessageRequest) (proto.Message, []int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.channels[channelID]
	if !ok {
		return proto.Message{}, nil, errNoChannel
	}
	if _, member := ch.members[senderID]; !member {
		return proto.Message{}, nil, errNotMember
	}
	return w.postLocked(ch, senderID, req)
}

func (w *world) postLocked(ch *channel, senderID int64, req proto.SendMessageRequest) (proto.Message, []int64, error) {
	if req.Message == "" {
		return proto.Message{}, nil, errEmptyInput
	}
	w.nextMessageID++
	msg := proto.Message{
		MessageID: w.nextMessageID,
		ChannelID: ch.id,
		SenderID:  senderID,
		Content:   req.Message,
		IsAction:  req.IsAction,
		Timestamp: w.now().UTC(),
		UUID:      req.UUID,
	}
	if u, ok := w.users[senderID]; ok {
		msg.Sender = &u
	}
	ch.messages = append(ch.messages, msg)
	return msg, ch.sortedMembers(), nil
}

// openPrivate finds or creates the PM channel between two users and posts
// the first message into it.
func (w *world) openPrivate(senderID int64, req proto.NewPrivateChatRequest) (proto.Channel, proto.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	target, ok := w.users[req.TargetID]
	if !ok {
		return proto.Channel{}, proto.Message{}, errNoUser
	}

	var pm *channel
	for _, ch := range w.channels {
		if ch.kind != "PM" || len(ch.members) != 2 {
			continue
		}
		_, a := ch.members[senderID]
		_, b := ch.members[req.TargetID]
		if a && b {
			pm = ch
			break
		}
	}
	if pm == nil {
		pm = w.channels[w.addChannelLocked(target.Username, "PM", "", senderID, req.TargetID)]
	}

	msg, _, err := w.postLocked(pm, senderID, proto.SendMessageRequest{Message: req.Message, IsAction: req.IsAction, UUID: req.UUID})
	if err != nil {
		return proto.Channel{}, proto.Message{}, err
	}
	return pm.wire(senderID, false), msg, nil
}

func (w *world) notify(userID int64, name, objectType string, objectID, sourceUserID int64) proto.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextNoteID++
	n := proto.Notification{
		ID:           w.nextNoteID,
		Name:         name,
		CreatedAt:    w.now().UTC(),
		ObjectType:   objectType,
		ObjectID:     objectID,
		SourceUserID: sourceUserID,
	}
	w.notifications = append(w.notifications, notification{Notification: n, userID: userID})
	return n
}

func (w *world) notificationsFor(userID, maxID int64) []proto.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := []proto.Notification{}
	for _, n := range w.notifications {
		if n.userID != userID {
			continue
		}
		if maxID > 0 && n.ID > maxID {
			continue
		}
		out = append(out, n.Notification)
	}
	return out
}

func (w *world) markNotificationsRead(userID int64, ids []int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range w.notifications {
		n := &w.notifications[i]
		if _, ok := want[n.ID]; ok && n.userID == userID {
			n.IsRead = true
		}
	}
}

// messagesSince returns messages newer than since from the user's channels.
func (w *world) messagesSince(userID, since int64) []proto.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []proto.Message
	for _, ch := range w.channels {
		if _, ok := ch.members[userID]; !ok {
			continue
		}
		for _, m := range ch.messages {
			if m.MessageID > since {
				out = append(out, m)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out
}

func (ch *channel) readable(userID int64) error {
	if ch.kind == "PUBLIC" {
		return nil
	}
	if _, ok := ch.members[userID]; !ok {
		return errNotMember
	}
	return nil
}

func (ch *channel) sortedMembers() []int64 {
	ids := make([]int64, 0, len(ch.members))
	for id := range ch.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (ch *channel) wire(userID int64, withRecent bool) proto.Channel {
	name, desc, kind, moderated := ch.name, ch.description, ch.kind, ch.moderated
	var lastID int64
	if n := len(ch.messages); n > 0 {
		lastID = ch.messages[n-1].MessageID
	}
	lastRead := ch.readMarks[userID]
	out := proto.Channel{
		ChannelID:     ch.id,
		Name:          &name,
		Description:   &desc,
		Type:          &kind,
		LastMessageID: &lastID,
		LastReadID:    &lastRead,
		Moderated:     &moderated,
	}
	if kind != "PUBLIC" {
		out.Users = ch.sortedMembers()
	}
	if withRecent {
		recent := ch.messages
		if len(recent) > recentMessages {
			recent = recent[len(recent)-recentMessages:]
		}
		out.RecentMessages = append([]proto.Message{}, recent...)
	}
	return out
}
