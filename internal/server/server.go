// Package server implements the chat server's connection acceptor and owns
// the per-connection goroutines.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Tyrowin/linechat/internal/registry"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Server accepts connections and runs the authenticator, dispatcher and
// delivery worker for each of them.
type Server struct {
	cfg        Config
	log        *slog.Logger
	registry   *registry.Registry
	auth       *Authenticator
	dispatcher *Dispatcher
	origins    originPolicy

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[Conn]struct{}
	closing   bool
	quit      chan struct{}
	wg        sync.WaitGroup
	slots     chan struct{}
}

// New builds a Server from cfg. Unset configuration values fall back to
// defaults.
func New(cfg Config, creds CredentialChecker, log *slog.Logger) *Server {
	cfg = sanitizeConfig(cfg)
	if log == nil {
		log = slog.Default()
	}

	reg := registry.New(registry.Options{
		QueueSize:       cfg.QueueSize,
		CaseInsensitive: cfg.CaseInsensitiveUsernames,
	})

	s := &Server{
		cfg:        cfg,
		log:        log,
		registry:   reg,
		auth:       NewAuthenticator(creds, reg, log, cfg.AuthTimeout),
		dispatcher: NewDispatcher(reg, log, cfg.MaxLineLength),
		origins:    newOriginPolicy(cfg.AllowedOrigins, log),
		listeners:  make(map[net.Listener]struct{}),
		conns:      make(map[Conn]struct{}),
		quit:       make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// Registry exposes the session registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// ListenAndServe listens on the configured TCP address and serves until
// Shutdown is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and spawns one handler per connection.
// Accepting is the only thing it does; it holds no chat state.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	s.log.Info("server listening", "addr", ln.Addr().String())

	var tempDelay time.Duration
	for {
		if !s.acquireSlot() {
			return ErrServerClosed
		}

		raw, err := ln.Accept()
		if err != nil {
			s.releaseSlot()
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			if isTimeout(err) {
				tempDelay = nextDelay(tempDelay)
				s.log.Warn("accept error, retrying", "error", err, "delay", tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			s.log.Error("acceptor error", "error", err)
			return err
		}
		tempDelay = 0

		s.log.Info("connection accepted", "addr", raw.RemoteAddr().String())
		s.spawn(NewStreamConn(raw, s.cfg.MaxLineLength, s.cfg.WriteTimeout), true)
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}

// spawn starts the handler goroutine for conn. holdsSlot is true when the
// caller acquired a connection slot that the handler must release.
func (s *Server) spawn(conn Conn, holdsSlot bool) {
	if !s.trackConn(conn) {
		_ = conn.Close()
		if holdsSlot {
			s.releaseSlot()
		}
		return
	}

	go func() {
		defer s.wg.Done()
		if holdsSlot {
			defer s.releaseSlot()
		}
		s.handleConnection(conn)
	}()
}

func (s *Server) acquireSlot() bool {
	if s.slots == nil {
		return !s.isClosing()
	}
	select {
	case s.slots <- struct{}{}:
	case <-s.quit:
		return false
	}
	if s.isClosing() {
		<-s.slots
		return false
	}
	return true
}

func (s *Server) releaseSlot() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

// trackConn registers conn and counts its handler in s.wg. Both happen under
// s.mu so Shutdown either rejects conn or waits for its handler.
func (s *Server) trackConn(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

// closeConn closes conn once and forgets it.
func (s *Server) closeConn(conn Conn) {
	s.mu.Lock()
	_, tracked := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()

	if !tracked {
		return
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("error closing connection", "addr", conn.RemoteAddr(), "error", err)
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Shutdown stops accepting, closes every live connection (each runs its
// normal deregistration path) and waits for handlers to finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("initiating server shutdown")

	s.mu.Lock()
	if !s.closing {
		s.closing = true
		close(s.quit)
	}
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	conns := make([]Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, conn := range conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug("error closing connection", "addr", conn.RemoteAddr(), "error", err)
		}
	}
	s.log.Info("closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("server shutdown completed")
		return nil
	case <-ctx.Done():
		s.log.Warn("server shutdown timeout reached, some goroutines may still be running")
		return ctx.Err()
	}
}
