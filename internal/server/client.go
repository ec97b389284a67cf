// Package server runs one authenticated connection through its read loop and
// delivery worker, and cleans up when either side ends.
package server

import (
	"fmt"
	"time"

	"github.com/Tyrowin/linechat/internal/registry"
)

// handleConnection drives a connection from login to cleanup. It is the
// task boundary: nothing that goes wrong here reaches another connection.
func (s *Server) handleConnection(conn Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in connection handler", "addr", conn.RemoteAddr(), "panic", fmt.Sprint(r))
		}
		s.closeConn(conn)
	}()

	sess, err := s.auth.Authenticate(conn)
	if err != nil {
		if kind := Classify(err); kind != KindAuth && !isExpectedCloseError(err) {
			s.log.Warn("authentication aborted", "addr", conn.RemoteAddr(), "kind", kind.String(), "error", err)
		}
		return
	}

	s.dispatcher.notify(s.registry.Others(sess), sess.Username()+" has joined the chat.")

	done := make(chan struct{})
	go s.deliver(sess, conn, done)

	reason := s.readPump(sess, conn)
	s.disconnect(sess, reason)

	// Let the worker flush what was queued before the session closed, such
	// as the reply to /quit.
	select {
	case <-done:
	case <-time.After(s.cfg.WriteTimeout):
		s.log.Warn("delivery worker did not finish in time", "user", sess.Username())
	}
}

// readPump reads and dispatches lines until the client quits or the
// transport fails, and returns why it stopped.
func (s *Server) readPump(sess *registry.Session, conn Conn) string {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if !Classify(err).Fatal() {
				s.dispatcher.ReplyError(sess, err)
				continue
			}
			if !isExpectedCloseError(err) {
				s.log.Warn("read failed", "user", sess.Username(), "error", err)
				return "read error"
			}
			return "connection closed"
		}

		if !sess.Alive() {
			return "session closed"
		}
		if s.dispatcher.Dispatch(sess, line) {
			return "quit"
		}
	}
}

// deliver is the session's delivery worker: it drains the outbound queue
// in order until the queue is closed or a write fails.
func (s *Server) deliver(sess *registry.Session, conn Conn, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic in delivery worker", "user", sess.Username(), "panic", fmt.Sprint(r))
			s.disconnect(sess, "delivery panic")
			s.closeConn(conn)
		}
	}()

	for line := range sess.Outbound() {
		if err := conn.WriteLine(line); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Warn("delivery failed", "user", sess.Username(), "error", err)
			}
			s.disconnect(sess, "write error")
			// Unblock the read loop.
			s.closeConn(conn)
			return
		}
	}
}

// disconnect deregisters sess and tells the people it shared the chat with.
// Safe to call from both the reader and the delivery worker; only the first
// call has an effect.
func (s *Server) disconnect(sess *registry.Session, reason string) {
	dep, removed := s.registry.Remove(sess)
	if !removed {
		return
	}

	s.log.Info("client disconnected", "user", sess.Username(), "addr", sess.RemoteAddr(), "reason", reason,
		"duration", time.Since(sess.ConnectedAt()).Round(time.Millisecond), "online", s.registry.Count())

	others := s.registry.Others(sess)
	for _, change := range dep.Groups {
		if change.Deleted {
			s.log.Info("group deleted", "group", change.Group)
			s.dispatcher.notify(others, groupDeletedNotice(change.Group))
			continue
		}
		s.dispatcher.notify(change.Remaining, fmt.Sprintf("[Group %s]: %s has left the group.", change.Group, sess.Username()))
	}
	s.dispatcher.notify(others, sess.Username()+" has left the chat.")
}
