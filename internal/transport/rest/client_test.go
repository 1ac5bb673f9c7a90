package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	c, err := New(ts.URL+"/api/v2/", time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetToken("tok")
	return c
}

func TestNewRejectsNonHTTPBase(t *testing.T) {
	if _, err := New("ws://example.com", 0, nil); err == nil {
		t.Fatalf("expected error for ws scheme")
	}
}

func TestListMessagesBuildsQueryAndAuth(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v2/channels/7/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		q := r.URL.Query()
		if q.Get("limit") != "50" || q.Get("until") != "100" || q.Has("since") {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]proto.Message{{MessageID: 99, ChannelID: 7, Content: "hi"}})
	})

	msgs, err := c.ListMessages(context.Background(), 7, core.MessageQuery{Limit: 50, Until: 100})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != 99 {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestSendMessageEncodesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v2/channels/3/messages" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var req proto.SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(proto.Message{MessageID: 10, ChannelID: 3, Content: req.Message, IsAction: req.IsAction, UUID: req.UUID})
	})

	msg, err := c.SendMessage(context.Background(), 3, proto.SendMessageRequest{Message: "waves", IsAction: true, UUID: "abc"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.MessageID != 10 || msg.UUID != "abc" || !msg.IsAction {
		t.Fatalf("unexpected echo %+v", msg)
	}
}

func TestErrorBodyIsDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"channel is moderated"}`)
	})

	err := c.MarkAsRead(context.Background(), 1, 2)
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusForbidden || apiErr.Message != "channel is moderated" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestPlainTextErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.ListChannels(context.Background())
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestUpdatesSendsIncludes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("since") != "42" || q.Get("history_since") != "40" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if inc := q["includes[]"]; len(inc) != 2 || inc[0] != proto.IncludePresence || inc[1] != proto.IncludeMessages {
			t.Errorf("unexpected includes %v", inc)
		}
		_, _ = io.WriteString(w, `{"presence":[{"channel_id":1}],"messages":[{"message_id":43,"channel_id":1}]}`)
	})

	resp, err := c.Updates(context.Background(), proto.UpdatesQuery{
		Since:        42,
		HistorySince: 40,
		Includes:     []string{proto.IncludePresence, proto.IncludeMessages},
	})
	if err != nil {
		t.Fatalf("Updates: %v", err)
	}
	if len(resp.Presence) != 1 || len(resp.Messages) != 1 || resp.Messages[0].MessageID != 43 {
		t.Fatalf("unexpected updates %+v", resp)
	}
}

func TestEmptySuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if _, err := c.JoinChannel(context.Background(), 5, 9); err != nil {
		t.Fatalf("JoinChannel: %v", err)
	}
}
