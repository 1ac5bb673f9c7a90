package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

// State is the lifecycle state of the physical connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrReconnectExhausted is reported through Observer.Error once every
	// reconnect attempt has failed.
	ErrReconnectExhausted = errors.New("chat socket: reconnect attempts exhausted")

	errSuperseded = errors.New("chat socket: connection superseded")
)

// ServerError is an {"error": ...} frame sent by the gateway.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "chat gateway: " + e.Message
}

// Observer receives lifecycle signals and raw domain events.
// Callbacks run on socket goroutines and must not call back into Disconnect
// synchronously while holding their own locks.
type Observer interface {
	Connected()
	// Disconnected reports a closed connection. err is nil for Disconnect.
	Disconnected(err error)
	Error(err error)
	ChannelJoined(ch proto.Channel)
	ChannelParted(ch proto.Channel)
	NewMessages(data proto.NewMessages)
}

// Scheduler runs fn after d on another goroutine and returns a cancel func.
type Scheduler func(d time.Duration, fn func()) (cancel func())

// Options tune reconnect and handshake behavior.
type Options struct {
	BaseDelay        time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
	MaxMessageBytes  int64
	Schedule         Scheduler
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.Schedule == nil {
		o.Schedule = afterFunc
	}
	return o
}

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Socket owns a single connection to the chat gateway.
type Socket struct {
	opts Options
	obs  Observer
	log  *zerolog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	attempt     int
	intentional bool
	endpoint    string
	token       string
	conn        *websocket.Conn
	stopRead    context.CancelFunc
	cancelRetry func()
}

// NewSocket builds an idle socket reporting to obs.
func NewSocket(opts Options, obs Observer, logger *zerolog.Logger) *Socket {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Socket{
		opts:  opts.withDefaults(),
		obs:   obs,
		log:   logger,
		state: StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the connection and sends the chat.start frame. It returns once
// the handshake frame is written. A failure of this initial attempt is only
// reported through the returned error; later drops reconnect automatically.
func (s *Socket) Connect(ctx context.Context, endpoint, token string) error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateOpen {
		s.mu.Unlock()
		return nil
	}
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	s.gen++
	gen := s.gen
	s.intentional = false
	s.attempt = 0
	s.endpoint, s.token = endpoint, token
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.open(ctx, gen); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateClosed
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the connection and suppresses any pending reconnect.
// It is safe to call repeatedly.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	if s.intentional && s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.intentional = true
	s.gen++
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	conn, stop := s.conn, s.stopRead
	s.conn, s.stopRead = nil, nil
	s.state = StateClosing
	s.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "disconnect"); err != nil {
			s.log.Debug().Err(err).Msg("chat socket close handshake")
		}
	}
	if stop != nil {
		stop()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.log.Info().Msg("chat socket disconnected")
	s.obs.Disconnected(nil)
}

func (s *Socket) open(ctx context.Context, gen uint64) error {
	s.mu.Lock()
	endpoint, token := s.endpoint, s.token
	s.mu.Unlock()

	target, err := dialURL(endpoint, token)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial chat gateway: %w", err)
	}
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}
	if err := wsjson.Write(ctx, conn, proto.Control{Event: proto.EventChatStart}); err != nil {
		conn.CloseNow()
		return fmt.Errorf("send %s: %w", proto.EventChatStart, err)
	}

	readCtx, stopRead := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.gen != gen || s.intentional {
		s.mu.Unlock()
		stopRead()
		conn.Close(websocket.StatusNormalClosure, "superseded")
		return errSuperseded
	}
	s.conn = conn
	s.stopRead = stopRead
	s.state = StateOpen
	s.attempt = 0
	s.mu.Unlock()

	s.log.Info().Str("endpoint", endpoint).Msg("chat socket open")
	s.obs.Connected()

	go s.readLoop(readCtx, gen, conn)
	return nil
}

func (s *Socket) readLoop(ctx context.Context, gen uint64, conn *websocket.Conn) {
	frames := &frameBuffer{limit: s.opts.MaxMessageBytes}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.handleClose(gen, conn, err)
			return
		}

		doc, discarded := frames.push(data)
		if discarded > 0 {
			s.log.Warn().Int("bytes", discarded).Msg("discarded malformed frame data")
		}
		if doc == nil {
			continue
		}
		s.dispatch(doc)
	}
}

func (s *Socket) dispatch(doc []byte) {
	var env proto.Envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		s.log.Warn().Err(err).Msg("dropping frame with unexpected shape")
		return
	}

	if len(env.Error) > 0 && string(env.Error) != "null" {
		s.obs.Error(&ServerError{Message: errorText(env.Error)})
		return
	}

	switch env.Event {
	case proto.EventChannelJoin, proto.EventChannelPart:
		var ev proto.ChannelEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			s.log.Warn().Err(err).Str("event", env.Event).Msg("dropping undecodable event")
			return
		}
		if env.Event == proto.EventChannelJoin {
			s.obs.ChannelJoined(ev.Channel)
		} else {
			s.obs.ChannelParted(ev.Channel)
		}
	case proto.EventMessageNew:
		var data proto.NewMessages
		if err := json.Unmarshal(env.Data, &data); err != nil {
			s.log.Warn().Err(err).Str("event", env.Event).Msg("dropping undecodable event")
			return
		}
		s.obs.NewMessages(data)
	default:
		s.log.Warn().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (s *Socket) handleClose(gen uint64, conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.gen != gen || s.intentional {
		s.mu.Unlock()
		return
	}
	stop := s.stopRead
	s.conn, s.stopRead = nil, nil
	s.state = StateClosed
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	conn.CloseNow()

	s.log.Warn().Err(err).Int("status", int(websocket.CloseStatus(err))).Msg("chat socket closed unexpectedly")
	s.obs.Disconnected(err)
	s.scheduleReconnect(gen)
}

func (s *Socket) scheduleReconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.intentional {
		s.mu.Unlock()
		return
	}
	if s.attempt >= s.opts.MaxAttempts {
		attempts := s.attempt
		s.state = StateClosed
		s.mu.Unlock()

		err := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempts)
		s.log.Error().Err(err).Msg("giving up on chat socket")
		s.obs.Error(err)
		return
	}
	delay := s.opts.BaseDelay << s.attempt
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	s.log.Info().Dur("delay", delay).Int("attempt", attempt).Msg("chat socket reconnect scheduled")
	cancel := s.opts.Schedule(delay, func() { s.reconnect(gen) })

	s.mu.Lock()
	if s.gen == gen && !s.intentional {
		s.cancelRetry = cancel
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	cancel()
}

func (s *Socket) reconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.intentional {
		s.mu.Unlock()
		return
	}
	s.cancelRetry = nil
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.open(context.Background(), gen)
	if err == nil || errors.Is(err, errSuperseded) {
		return
	}

	s.mu.Lock()
	stale := s.gen != gen || s.intentional
	if !stale {
		s.state = StateClosed
	}
	s.mu.Unlock()
	if stale {
		return
	}

	s.log.Warn().Err(err).Msg("chat socket reconnect failed")
	s.obs.Disconnected(err)
	s.scheduleReconnect(gen)
}

// dialURL embeds the token as a query parameter; browsers and most gateways
// cannot rely on custom headers during the upgrade.
func dialURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse chat endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("parse chat endpoint: unsupported scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("access_token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func errorText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
