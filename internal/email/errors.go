package email

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"syscall"
)

// ErrorLevel splits transport failures into the two classes the job engine
// cares about: a rejected message leaves the session usable, a connection
// failure invalidates every remaining send.
type ErrorLevel int

const (
	LevelMessage ErrorLevel = iota
	LevelConnection
)

func (l ErrorLevel) String() string {
	if l == LevelConnection {
		return "connection"
	}
	return "message"
}

type TransportError struct {
	Level ErrorLevel
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport (%s-level): %v", e.Level, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err is a connection-level TransportError.
func IsConnectionError(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr) && terr.Level == LevelConnection
}

// classify maps raw SMTP client errors onto the transport taxonomy. Protocol
// replies are message-level except 421 (service closing); anything that
// indicates the socket itself died is connection-level.
func classify(err error) *TransportError {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		if proto.Code == 421 {
			return &TransportError{Level: LevelConnection, Err: err}
		}
		return &TransportError{Level: LevelMessage, Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return &TransportError{Level: LevelConnection, Err: err}
	}

	return &TransportError{Level: LevelMessage, Err: err}
}
