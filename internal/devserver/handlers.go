package devserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// GET /api/v2/channels
func (s *Server) listChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.visibleChannels(currentUser(c)))
}

// GET /api/v2/channels/:channel
func (s *Server) getChannel(c *gin.Context) {
	channelID, ok := pathID(c, "channel")
	if !ok {
		return
	}
	detail, err := s.world.channelDetail(channelID, currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// GET /api/v2/channels/:channel/messages
func (s *Server) listMessages(c *gin.Context) {
	channelID, ok := pathID(c, "channel")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	until, _ := strconv.ParseInt(c.Query("until"), 10, 64)

	msgs, err := s.world.history(channelID, currentUser(c), limit, since, until)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// POST /api/v2/channels/:channel/messages
func (s *Server) sendMessage(c *gin.Context) {
	channelID, ok := pathID(c, "channel")
	if !ok {
		return
	}
	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.log.Debug().Err(err).Msg("invalid send message request")
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	uid := currentUser(c)
	if failure := s.takeFailure(); failure != "" {
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: failure})
		return
	}
	if !s.limiter.allow(uid) {
		c.JSON(http.StatusTooManyRequests, proto.ErrorResponse{Error: "rate limit exceeded"})
		return
	}

	msg, recipients, err := s.world.post(channelID, uid, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.pushMessage(msg, recipients)

	s.log.Debug().Int64("channel_id", channelID).Int64("message_id", msg.MessageID).Str("uuid", msg.UUID).Msg("message posted")
	c.JSON(http.StatusOK, msg)
}

// PUT /api/v2/channels/:channel/users/:user
func (s *Server) joinChannel(c *gin.Context) {
	channelID, userID, ok := s.membershipTarget(c)
	if !ok {
		return
	}
	ch, err := s.world.join(channelID, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.push(proto.EventChannelJoin, proto.ChannelEvent{Channel: ch}, userID)
	c.JSON(http.StatusOK, ch)
}

// DELETE /api/v2/channels/:channel/users/:user
func (s *Server) leaveChannel(c *gin.Context) {
	channelID, userID, ok := s.membershipTarget(c)
	if !ok {
		return
	}
	ch, err := s.world.leave(channelID, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.push(proto.EventChannelPart, proto.ChannelEvent{Channel: ch}, userID)
	c.Status(http.StatusNoContent)
}

// PUT /api/v2/channels/:channel/mark-as-read/:message
func (s *Server) markAsRead(c *gin.Context) {
	channelID, ok := pathID(c, "channel")
	if !ok {
		return
	}
	messageID, ok := pathID(c, "message")
	if !ok {
		return
	}
	if err := s.world.markRead(channelID, currentUser(c), messageID); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/v2/chat/new
func (s *Server) newPrivateChat(c *gin.Context) {
	var req proto.NewPrivateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.TargetID == 0 {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}

	uid := currentUser(c)
	ch, msg, err := s.world.openPrivate(uid, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.push(proto.EventChannelJoin, proto.ChannelEvent{Channel: ch}, uid, req.TargetID)
	s.pushMessage(msg, []int64{uid, req.TargetID})

	c.JSON(http.StatusOK, proto.NewPrivateChatResponse{Channel: ch, Message: msg})
}

// GET /api/v2/chat/updates
func (s *Server) updates(c *gin.Context) {
	uid := currentUser(c)
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	historySince, _ := strconv.ParseInt(c.Query("history_since"), 10, 64)
	if historySince == 0 {
		historySince = since
	}

	var resp proto.UpdatesResponse
	for _, inc := range c.QueryArray("includes[]") {
		switch inc {
		case proto.IncludePresence:
			resp.Presence = s.world.joinedChannels(uid)
		case proto.IncludeMessages:
			resp.Messages = s.world.messagesSince(uid, historySince)
		case proto.IncludeSilences:
			resp.Silences = []proto.Silence{}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v2/notifications
func (s *Server) listNotifications(c *gin.Context) {
	maxID, _ := strconv.ParseInt(c.Query("max_id"), 10, 64)

	s.mu.Lock()
	endpoint, failing := s.endpoint, s.failNotes
	s.mu.Unlock()
	if failing {
		c.JSON(http.StatusInternalServerError, proto.ErrorResponse{Error: "notifications unavailable"})
		return
	}
	if endpoint == "" {
		endpoint = "ws://" + c.Request.Host + "/ws"
	}

	c.JSON(http.StatusOK, proto.NotificationsResponse{
		Notifications:        s.world.notificationsFor(currentUser(c), maxID),
		NotificationEndpoint: endpoint,
	})
}

// POST /api/v2/notifications/mark-read
func (s *Server) markNotificationsRead(c *gin.Context) {
	var req proto.MarkNotificationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid request body"})
		return
	}
	s.world.markNotificationsRead(currentUser(c), req.NotificationIDs)
	c.Status(http.StatusNoContent)
}

func (s *Server) takeFailure() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	failure := s.failNext
	s.failNext = ""
	return failure
}

// membershipTarget parses the channel and user path params. Users may only
// change their own membership.
func (s *Server) membershipTarget(c *gin.Context) (int64, int64, bool) {
	channelID, ok := pathID(c, "channel")
	if !ok {
		return 0, 0, false
	}
	userID, ok := pathID(c, "user")
	if !ok {
		return 0, 0, false
	}
	if userID != currentUser(c) {
		c.JSON(http.StatusForbidden, proto.ErrorResponse{Error: errForbidden.Error()})
		return 0, 0, false
	}
	return channelID, userID, true
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errNoChannel), errors.Is(err, errNoUser):
		status = http.StatusNotFound
	case errors.Is(err, errNotMember), errors.Is(err, errForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errEmptyInput):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	c.JSON(status, proto.ErrorResponse{Error: err.Error()})
}

func currentUser(c *gin.Context) int64 {
	return c.GetInt64(ContextKeyUserID)
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, proto.ErrorResponse{Error: "invalid " + name + " id"})
		return 0, false
	}
	return id, true
}
