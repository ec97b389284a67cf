// Package server defines the error taxonomy shared by the authenticator,
// dispatcher and connection handlers.
package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

var (
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrAlreadyLoggedIn = errors.New("username is already logged in")
	ErrAuthTimeout     = errors.New("authentication timed out")
)

// ErrorKind groups errors by how the server reacts to them.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	// KindProtocol covers malformed or oversized input; the connection stays open.
	KindProtocol
	// KindAuth covers failed logins; the connection is closed.
	KindAuth
	// KindCommand covers rejected commands; the registry is left unchanged.
	KindCommand
	// KindResource covers transient overload such as a full outbound queue.
	KindResource
	// KindTransport covers socket failures; fatal for that connection only.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindCommand:
		return "command"
	case KindResource:
		return "resource"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Fatal reports whether an error of this kind ends the connection.
func (k ErrorKind) Fatal() bool {
	return k == KindAuth || k == KindTransport
}

// Classify maps err onto the server's error taxonomy. Unrecognized errors
// are treated as transport failures.
func Classify(err error) ErrorKind {
	var usageErr *protocol.UsageError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, protocol.ErrLineTooLong),
		errors.Is(err, protocol.ErrInvalidUTF8),
		errors.Is(err, protocol.ErrNotACommand),
		errors.Is(err, protocol.ErrUnknownCommand),
		errors.Is(err, protocol.ErrEmptyLine),
		errors.As(err, &usageErr):
		return KindProtocol
	case errors.Is(err, ErrBadCredentials),
		errors.Is(err, ErrAlreadyLoggedIn),
		errors.Is(err, ErrAuthTimeout):
		return KindAuth
	case errors.Is(err, registry.ErrNotFound),
		errors.Is(err, registry.ErrNoSuchGroup),
		errors.Is(err, registry.ErrNotAMember),
		errors.Is(err, registry.ErrAlreadyExists),
		errors.Is(err, registry.ErrDuplicateUser):
		return KindCommand
	case errors.Is(err, registry.ErrQueueFull):
		return KindResource
	default:
		return KindTransport
	}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
