package registry

import (
	"sync"
	"time"
)

// Session is one authenticated connection. It is created and owned by the
// Registry; other components hold it only for the duration of an operation.
type Session struct {
	id          string
	username    string
	key         string
	remoteAddr  string
	connectedAt time.Time

	// groups is guarded by the owning Registry's mutex, not by mu.
	groups map[string]struct{}

	mu     sync.Mutex
	queue  chan string
	closed bool
}

func newSession(id, username, key, remoteAddr string, capacity int) *Session {
	return &Session{
		id:          id,
		username:    username,
		key:         key,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		groups:      make(map[string]struct{}),
		queue:       make(chan string, capacity),
	}
}

// ID returns the unique connection handle.
func (s *Session) ID() string { return s.id }

// Username returns the name the session authenticated as.
func (s *Session) Username() string { return s.username }

// RemoteAddr returns the peer address of the underlying connection.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// ConnectedAt returns when the session was registered.
func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Enqueue appends line to the outbound queue without blocking. It fails with
// ErrQueueFull when the queue is at capacity and with ErrSessionClosed once
// the session has been deregistered.
func (s *Session) Enqueue(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	select {
	case s.queue <- line:
		return nil
	default:
		return ErrQueueFull
	}
}

// Outbound is drained by the session's delivery worker. The channel is
// closed when the session is deregistered; items queued before that are
// still delivered.
func (s *Session) Outbound() <-chan string {
	return s.queue
}

// Pending returns the number of queued, undelivered lines.
func (s *Session) Pending() int {
	return len(s.queue)
}

// Alive reports whether the session is still registered.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// close marks the session dead and closes its queue. Callers hold the
// Registry lock; the queue is closed under mu so no Enqueue races it.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.queue)
}
