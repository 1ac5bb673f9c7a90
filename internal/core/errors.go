package core

import "errors"

// Error codes surfaced in snapshots.
const (
	ErrCodeSendFailed         = "send_failed"
	ErrCodeReconnectExhausted = "reconnect_exhausted"
	ErrCodeTransport          = "transport_error"
	ErrCodeServer             = "server_error"
	ErrCodeConnectFailed      = "connect_failed"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownFailure = errors.New("unknown failed send")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrStaleSession   = errors.New("session was reset while the request was in flight")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

// NewError builds a CoreError from a code and an underlying error.
func NewError(code string, err error) *CoreError {
	if err == nil {
		return &CoreError{Code: code, Message: code}
	}
	return &CoreError{Code: code, Message: err.Error()}
}
