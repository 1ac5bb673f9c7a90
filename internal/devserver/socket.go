package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

const startTimeout = 10 * time.Second

// GET /ws
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := authenticate(&s.opts.Tokens, r)
	if err != nil {
		s.log.Debug().Err(err).Msg("ws request rejected")
		writeError(w, http.StatusUnauthorized, authError(err))
		return
	}

	s.mu.Lock()
	reject := s.rejectSockets
	s.mu.Unlock()
	if reject {
		writeError(w, http.StatusServiceUnavailable, "socket gateway unavailable")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	uid := claims.UserID
	if err := awaitStart(ctx, conn); err != nil {
		s.log.Warn().Err(err).Int64("user_id", uid).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "expected "+proto.EventChatStart)
		return
	}

	cl := newClient(uid, conn)
	s.hub.add(cl)
	defer s.hub.remove(cl)
	s.log.Info().Int64("user_id", uid).Msg("chat socket started")

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx, conn)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, conn, cl)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.CloseStatus(err)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF),
		status == websocket.StatusNormalClosure, status == websocket.StatusGoingAway:
		conn.Close(websocket.StatusNormalClosure, "closing")
	default:
		s.log.Warn().Err(err).Int64("user_id", uid).Msg("ws connection closed with error")
		conn.Close(websocket.StatusInternalError, "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(proto.ErrorResponse{Error: message})
}

func awaitStart(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	var ctrl proto.Control
	if err := wsjson.Read(ctx, conn, &ctrl); err != nil {
		return err
	}
	if ctrl.Event != proto.EventChatStart {
		return errors.New("unexpected first event " + ctrl.Event)
	}
	return nil
}

// readLoop drains client frames; the gateway accepts no commands after start.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, cl *client) error {
	for {
		select {
		case frame := <-cl.frames:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				s.log.Error().Err(err).Int64("user_id", cl.userID).Msg("write ws frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
