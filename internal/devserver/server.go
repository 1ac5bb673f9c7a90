package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// Options configure a dev server.
type Options struct {
	Addr              string
	Tokens            TokenConfig
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxMessageBytes   int64
	// SendLimit caps messages per user per minute. Zero disables it.
	SendLimit int
}

// Server is an in-memory chat service speaking the same REST and socket
// contract as the production one.
type Server struct {
	opts    Options
	log     *zerolog.Logger
	world   *world
	hub     *hub
	limiter *rateLimiter
	engine  *gin.Engine
	mux     *stdhttp.ServeMux

	mu            sync.Mutex
	endpoint      string
	failNext      string
	failNotes     bool
	rejectSockets bool
}

// New builds a dev server with an empty world.
func New(opts Options, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if opts.Tokens.TTL == 0 {
		opts.Tokens.TTL = 24 * time.Hour
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		log:     logger,
		world:   newWorld(),
		hub:     newHub(),
		limiter: newRateLimiter(opts.SendLimit),
		engine:  gin.New(),
		mux:     stdhttp.NewServeMux(),
	}
	s.routes()
	return s
}

// routes mounts the socket gateway on the plain mux and everything else on
// gin. gin's writer refuses to be hijacked once the 101 header is flushed.
func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.serveSocket)
	s.mux.Handle("/", s.engine)

	r := s.engine
	r.Use(gin.Recovery(), LoggerMiddleware(s.log))

	r.GET("/health", func(c *gin.Context) { c.String(stdhttp.StatusOK, "ok") })

	auth := AuthMiddleware(&s.opts.Tokens, s.log)

	api := r.Group("/api/v2", auth)
	api.GET("/channels", s.listChannels)
	api.GET("/channels/:channel", s.getChannel)
	api.GET("/channels/:channel/messages", s.listMessages)
	api.POST("/channels/:channel/messages", s.sendMessage)
	api.PUT("/channels/:channel/users/:user", s.joinChannel)
	api.DELETE("/channels/:channel/users/:user", s.leaveChannel)
	api.PUT("/channels/:channel/mark-as-read/:message", s.markAsRead)
	api.POST("/chat/new", s.newPrivateChat)
	api.GET("/chat/updates", s.updates)
	api.GET("/notifications", s.listNotifications)
	api.POST("/notifications/mark-read", s.markNotificationsRead)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() stdhttp.Handler {
	return s.mux
}

// Run serves on opts.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &stdhttp.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("dev server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down dev server")
		s.hub.closeAll(websocket.StatusGoingAway, "server shutdown")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-serverErr
	}
}

// IssueToken mints an access token for userID and registers the user.
func (s *Server) IssueToken(userID int64, username string) (string, error) {
	s.world.ensureUser(userID, username)
	return IssueToken(&s.opts.Tokens, userID, username)
}

// AddUser registers or replaces a user record.
func (s *Server) AddUser(u proto.User) {
	s.world.addUser(u)
}

// AddChannel creates a channel and returns its id. kind is one of the
// channel type names, e.g. PUBLIC or PM.
func (s *Server) AddChannel(name, kind, description string, members ...int64) int64 {
	return s.world.addChannel(name, kind, description, members...)
}

// Post sends a message as senderID and pushes it to channel members.
func (s *Server) Post(channelID, senderID int64, content string) (proto.Message, error) {
	msg, recipients, err := s.world.post(channelID, senderID, proto.SendMessageRequest{Message: content})
	if err != nil {
		return proto.Message{}, err
	}
	s.pushMessage(msg, recipients)
	return msg, nil
}

// Notify records a notification for userID.
func (s *Server) Notify(userID int64, name, objectType string, objectID, sourceUserID int64) proto.Notification {
	return s.world.notify(userID, name, objectType, objectID, sourceUserID)
}

// SetNotificationEndpoint overrides the socket endpoint advertised by
// GET /notifications. Empty restores the default of this server's /ws.
func (s *Server) SetNotificationEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
}

// FailNextSend makes the next message send fail with a 500 and message.
func (s *Server) FailNextSend(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = message
}

// FailNotifications makes the notification list answer 500 until called
// with false.
func (s *Server) FailNotifications(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNotes = fail
}

// RejectSockets makes /ws answer 503 until called with false.
func (s *Server) RejectSockets(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectSockets = reject
}

// DropSockets closes every open socket as if the server went away.
func (s *Server) DropSockets() {
	s.hub.closeAll(websocket.StatusGoingAway, "dropped")
}

// PushRaw writes frame verbatim to every socket of userID.
func (s *Server) PushRaw(userID int64, frame []byte) {
	s.hub.send(frame, userID)
}

// Sockets returns the number of open sockets of userID.
func (s *Server) Sockets(userID int64) int {
	return s.hub.count(userID)
}

func (s *Server) pushMessage(msg proto.Message, recipients []int64) {
	data := proto.NewMessages{Messages: []proto.Message{msg}}
	if msg.Sender != nil {
		data.Users = []proto.User{*msg.Sender}
	}
	s.push(proto.EventMessageNew, data, recipients...)
}

func (s *Server) push(event string, data any, userIDs ...int64) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode push")
		return
	}
	s.hub.send(frame, userIDs...)
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", event, err)
	}
	return json.Marshal(proto.Envelope{Event: event, Data: raw})
}
