package protocol

import (
	"errors"
	"fmt"

	"github.com/danmuck/ownetctl/internal/protocol/frame"
)

var (
	ErrConnection      = errors.New("ownet: connection failed")
	ErrMalformedHeader = errors.New("ownet: malformed header")
	ErrShortRead       = errors.New("ownet: short read")
	ErrShortWrite      = errors.New("ownet: short write")
	ErrTimeout         = errors.New("ownet: protocol timeout")
	ErrServer          = errors.New("ownet: server error")
	ErrInvalidPath     = errors.New("ownet: invalid path")
	ErrSizeTooLarge    = errors.New("ownet: requested size exceeds max payload")
	ErrNegativeArg     = errors.New("ownet: size and offset must be non-negative")
	ErrOffsetRange     = errors.New("ownet: offset exceeds 32-bit range")
)

// ConnError reports a failure to resolve, reach or talk to the server.
type ConnError struct {
	Addr string
	Err  error
}

func (e *ConnError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("ownet: connection failed: %v", e.Err)
	}
	return fmt.Sprintf("ownet: connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

func (e *ConnError) Is(target error) bool { return target == ErrConnection }

// MalformedHeaderError carries the reply header that failed validation.
type MalformedHeaderError struct {
	Reason string
	Header frame.Header
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("ownet: malformed header: %s, got %s", e.Reason, e.Header)
}

func (e *MalformedHeaderError) Is(target error) bool { return target == ErrMalformedHeader }

// ShortIOError reports a transfer that ended before Want bytes moved.
type ShortIOError struct {
	Op   string
	Got  int
	Want int
	Err  error
}

func (e *ShortIOError) Error() string {
	return fmt.Sprintf("ownet: short %s: %d bytes instead of %d", e.Op, e.Got, e.Want)
}

func (e *ShortIOError) Unwrap() error { return e.Err }

func (e *ShortIOError) Is(target error) bool {
	switch target {
	case ErrShortRead:
		return e.Op == "read"
	case ErrShortWrite:
		return e.Op == "write"
	}
	return false
}

// ServerError is a negative return code translated through the error table.
// Code is the positive error number.
type ServerError struct {
	Code    int32
	Message string
	Path    string
}

func (e *ServerError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("ownet: [Errno %d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("ownet: [Errno %d] %s: '%s'", e.Code, e.Message, e.Path)
}

func (e *ServerError) Is(target error) bool { return target == ErrServer }

// IsTransport reports whether err leaves a connection in an unknown state.
// Server errors and client-side rejections do not.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrShortRead) ||
		errors.Is(err, ErrShortWrite) ||
		errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrTimeout)
}
