package wire

import "fmt"

// Numeric error codes. Ranges follow the reservation scheme: 1xx protocol,
// 2xx addressing/value, 3xx auth, 4xx rate/flow, 5xx server.
const (
	ErrCodeProtocol        = 100
	ErrCodeProtocolVersion = 101
	ErrCodeFrameTooLarge   = 102

	ErrCodeInvalidAddress = 200
	ErrCodeValueRange     = 201
	ErrCodeValueType      = 202

	ErrCodeRevisionConflict = 210
	ErrCodeLockHeld         = 211
	ErrCodeConflictRejected = 212
	ErrCodeAtCapacity       = 213

	ErrCodeAuthInvalid   = 300
	ErrCodeAuthExpired   = 302
	ErrCodeAuthForbidden = 403

	ErrCodeRateLimited    = 429
	ErrCodeBufferOverflow = 503

	ErrCodeServer = 500
)

// Error is the canonical CLASP error, carrying the numeric code and optional
// address/correlation id so it serializes directly to an ERROR frame body.
type Error struct {
	Code          int
	Message       string
	Address       string
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("clasp error %d: %s (address=%s)", e.Code, e.Message, e.Address)
	}
	return fmt.Sprintf("clasp error %d: %s", e.Code, e.Message)
}

// NewError builds an Error with the given code and formatted message.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAddress returns a copy of the error annotated with an address.
func (e *Error) WithAddress(addr string) *Error {
	c := *e
	c.Address = addr
	return &c
}

// WithCorrelation returns a copy of the error annotated with a correlation id.
func (e *Error) WithCorrelation(id string) *Error {
	c := *e
	c.CorrelationID = id
	return &c
}
