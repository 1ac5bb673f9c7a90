package ws

import "testing"

func TestFrameBufferPassesCompleteDocuments(t *testing.T) {
	var b frameBuffer
	doc, discarded := b.push([]byte(`{"event":"chat.message.new"}`))
	if string(doc) != `{"event":"chat.message.new"}` || discarded != 0 {
		t.Fatalf("unexpected result: %q discarded=%d", doc, discarded)
	}
}

func TestFrameBufferJoinsFragments(t *testing.T) {
	var b frameBuffer
	if doc, _ := b.push([]byte(`{"event":"chat.chan`)); doc != nil {
		t.Fatalf("fragment must be buffered, got %q", doc)
	}
	if doc, _ := b.push([]byte(`nel.join","data":{"channel_id`)); doc != nil {
		t.Fatalf("second fragment must be buffered, got %q", doc)
	}
	doc, discarded := b.push([]byte(`":1}}`))
	if string(doc) != `{"event":"chat.channel.join","data":{"channel_id":1}}` {
		t.Fatalf("unexpected joined doc %q", doc)
	}
	if discarded != 0 || len(b.buf) != 0 {
		t.Fatalf("buffer must be empty after completion")
	}
}

func TestFrameBufferDropsCorruptPayload(t *testing.T) {
	var b frameBuffer
	doc, discarded := b.push([]byte(`}}}`))
	if doc != nil || discarded != 3 {
		t.Fatalf("expected corrupt payload to be dropped, got %q discarded=%d", doc, discarded)
	}
	if len(b.buf) != 0 {
		t.Fatalf("corrupt payload must not be buffered")
	}
}

func TestFrameBufferStaleFragmentDoesNotPoisonNextFrame(t *testing.T) {
	var b frameBuffer
	b.push([]byte(`{"event":"chat.mess`))

	doc, discarded := b.push([]byte(`{"event":"chat.channel.part","data":{}}`))
	if string(doc) != `{"event":"chat.channel.part","data":{}}` {
		t.Fatalf("expected the fresh frame to be dispatched, got %q", doc)
	}
	if discarded != len(`{"event":"chat.mess`) {
		t.Fatalf("expected stale fragment to be discarded, got %d", discarded)
	}
}

func TestFrameBufferRespectsLimit(t *testing.T) {
	b := frameBuffer{limit: 8}
	doc, discarded := b.push([]byte(`{"event":"chat`))
	if doc != nil || discarded == 0 || len(b.buf) != 0 {
		t.Fatalf("oversized fragment must be discarded")
	}
}
