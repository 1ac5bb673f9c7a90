package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// frameBuffer joins payloads that arrive split across transport messages.
// It holds at most one incomplete JSON document at a time.
type frameBuffer struct {
	buf   []byte
	limit int64
}

// push feeds one payload. It returns a complete JSON document when one is
// available, and the number of bytes thrown away as unrecoverable.
func (b *frameBuffer) push(data []byte) (doc []byte, discarded int) {
	if len(b.buf) == 0 {
		if json.Valid(data) {
			return data, 0
		}
		if truncated(data) && b.fits(len(data)) {
			b.buf = append([]byte(nil), data...)
			return nil, 0
		}
		return nil, len(data)
	}

	combined := append(b.buf, data...)
	if json.Valid(combined) {
		b.buf = nil
		return combined, 0
	}
	if truncated(combined) && b.fits(len(combined)) {
		b.buf = combined
		return nil, 0
	}

	// The buffered fragment can never complete; retry the payload on its own.
	stale := len(combined) - len(data)
	b.buf = nil
	doc, n := b.push(data)
	return doc, stale + n
}

func (b *frameBuffer) fits(n int) bool {
	return b.limit <= 0 || int64(n) <= b.limit
}

// truncated reports whether data is a prefix of a JSON value.
func truncated(data []byte) bool {
	if len(bytes.TrimSpace(data)) == 0 {
		return false
	}
	var raw json.RawMessage
	err := json.NewDecoder(bytes.NewReader(data)).Decode(&raw)
	return errors.Is(err, io.ErrUnexpectedEOF)
}
