//go:generate go run go.uber.org/mock/mockgen -source=authenticator.go -destination=mocks/mock_authenticator.go -package=mocks
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/linechat/internal/protocol"
	"github.com/Tyrowin/linechat/internal/registry"
)

const (
	promptUsername = "Enter username:"
	promptPassword = "Enter password:"
	welcomeMessage = "Welcome to the chat server!"
)

// CredentialChecker validates a username/password pair and returns the
// canonical username on success.
type CredentialChecker interface {
	Verify(username, password string) (string, bool)
}

// Authenticator runs the login exchange on a fresh connection.
type Authenticator struct {
	creds    CredentialChecker
	registry *registry.Registry
	log      *slog.Logger
	timeout  time.Duration
}

// NewAuthenticator returns an Authenticator. A zero timeout disables the
// login deadline.
func NewAuthenticator(creds CredentialChecker, reg *registry.Registry, log *slog.Logger, timeout time.Duration) *Authenticator {
	return &Authenticator{creds: creds, registry: reg, log: log, timeout: timeout}
}

// Authenticate prompts for a username and password, verifies them and
// registers the session. On failure the reason has already been sent to the
// client; the caller only has to close the connection.
func (a *Authenticator) Authenticate(conn Conn) (*registry.Session, error) {
	if a.timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
			return nil, fmt.Errorf("set auth deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}

	username, err := a.ask(conn, promptUsername)
	if err != nil {
		return nil, a.reject(conn, err)
	}
	password, err := a.ask(conn, promptPassword)
	if err != nil {
		return nil, a.reject(conn, err)
	}

	canonical, ok := a.creds.Verify(username, password)
	if !ok {
		a.log.Info("authentication failed", "user", username, "addr", conn.RemoteAddr(), "reason", "bad credentials")
		return nil, a.reject(conn, ErrBadCredentials)
	}

	sess, err := a.registry.Register(canonical, conn.RemoteAddr())
	if errors.Is(err, registry.ErrDuplicateUser) {
		a.log.Info("authentication failed", "user", canonical, "addr", conn.RemoteAddr(), "reason", "already logged in")
		return nil, a.reject(conn, ErrAlreadyLoggedIn)
	}
	if err != nil {
		return nil, a.reject(conn, err)
	}

	if err := conn.WriteLine(welcomeMessage); err != nil {
		a.registry.Remove(sess)
		return nil, fmt.Errorf("send welcome: %w", err)
	}

	a.log.Info("authentication succeeded", "user", sess.Username(), "addr", sess.RemoteAddr(), "session", sess.ID())
	return sess, nil
}

// ask sends prompt and reads the answer line.
func (a *Authenticator) ask(conn Conn, prompt string) (string, error) {
	if err := conn.WriteLine(prompt); err != nil {
		return "", err
	}

	answer, err := conn.ReadLine()
	switch {
	case err == nil:
	case isTimeout(err):
		return "", ErrAuthTimeout
	case errors.Is(err, protocol.ErrLineTooLong), errors.Is(err, protocol.ErrInvalidUTF8):
		return "", ErrBadCredentials
	default:
		return "", err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrBadCredentials
	}
	return answer, nil
}

// reject tells the client why the login failed, when the failure is one the
// client can be told about, and returns err unchanged.
func (a *Authenticator) reject(conn Conn, err error) error {
	var reason string
	switch {
	case errors.Is(err, ErrBadCredentials):
		reason = "Invalid username or password."
	case errors.Is(err, ErrAlreadyLoggedIn):
		reason = "This username is already logged in."
	case errors.Is(err, ErrAuthTimeout):
		a.log.Info("authentication failed", "addr", conn.RemoteAddr(), "reason", "timeout")
		reason = "Authentication timed out."
	default:
		return err
	}

	if writeErr := conn.WriteLine(reason); writeErr != nil && !isExpectedCloseError(writeErr) {
		a.log.Debug("could not send rejection", "addr", conn.RemoteAddr(), "error", writeErr)
	}
	return err
}
