package proto

import (
	"encoding/json"
	"testing"
)

func TestChannelEventAcceptsWrappedAndBare(t *testing.T) {
	cases := map[string]string{
		"wrapped": `{"channel":{"channel_id":7,"name":"#lobby","type":"PUBLIC"}}`,
		"bare":    `{"channel_id":7,"name":"#lobby","type":"PUBLIC"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			var ev ChannelEvent
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if ev.Channel.ChannelID != 7 || ev.Channel.Name == nil || *ev.Channel.Name != "#lobby" {
				t.Fatalf("unexpected channel: %+v", ev.Channel)
			}
		})
	}
}

func TestChannelToUpdateKeepsAbsentFieldsNil(t *testing.T) {
	var ch Channel
	if err := json.Unmarshal([]byte(`{"channel_id":3,"last_message_id":12}`), &ch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	upd := ChannelToUpdate(ch)
	if upd.ID != 3 {
		t.Fatalf("unexpected id %d", upd.ID)
	}
	if upd.Name != nil || upd.Kind != nil || upd.Description != nil || upd.Moderated != nil {
		t.Fatalf("absent fields must stay nil: %+v", upd)
	}
	if upd.LastMessageID == nil || *upd.LastMessageID != 12 {
		t.Fatalf("expected last_message_id 12, got %v", upd.LastMessageID)
	}
}

func TestMessageToCoreCarriesUUID(t *testing.T) {
	raw := `{"message_id":5,"channel_id":1,"sender_id":2,"content":"hi","is_action":true,"timestamp":"2024-01-02T03:04:05Z","uuid":"abc","sender":{"id":2,"username":"bob"}}`
	var m Message
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	msg := MessageToCore(m)
	if msg.ID != 5 || msg.CorrelationID != "abc" || !msg.IsAction {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.Sender == nil || msg.Sender.Username != "bob" {
		t.Fatalf("expected sender bob, got %+v", msg.Sender)
	}
	if msg.Pending() {
		t.Fatalf("server message must not be pending")
	}
}
