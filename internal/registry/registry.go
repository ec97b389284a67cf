// Package registry holds the shared state of the chat server: who is online,
// which groups exist and who belongs to them. Every exported operation runs
// under the registry's single lock, so callers never observe a partially
// applied change.
package registry

import (
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	ErrDuplicateUser = errors.New("user already registered")
	ErrNotFound      = errors.New("user not found")
	ErrAlreadyExists = errors.New("group already exists")
	ErrNoSuchGroup   = errors.New("no such group")
	ErrNotAMember    = errors.New("not a member of group")
	ErrQueueFull     = errors.New("outbound queue full")
	ErrSessionClosed = errors.New("session closed")
)

// DefaultQueueSize is the outbound queue capacity used when Options leaves it
// unset.
const DefaultQueueSize = 256

// Options configures a Registry.
type Options struct {
	QueueSize       int
	CaseInsensitive bool
}

type group struct {
	name    string
	members map[string]*Session // keyed by session key
}

// Registry is the authoritative store of sessions and groups.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	groups    map[string]*group
	queueSize int
	fold      bool
}

// New returns an empty Registry.
func New(opts Options) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		groups:    make(map[string]*group),
		queueSize: opts.QueueSize,
		fold:      opts.CaseInsensitive,
	}
}

func (r *Registry) key(username string) string {
	if r.fold {
		return strings.ToLower(username)
	}
	return username
}

// Register adds a session for username. It fails with ErrDuplicateUser when
// the name is already online.
func (r *Registry) Register(username, remoteAddr string) (*Session, error) {
	key := r.key(username)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[key]; exists {
		return nil, ErrDuplicateUser
	}

	s := newSession(uuid.NewString(), username, key, remoteAddr, r.queueSize)
	r.sessions[key] = s
	return s, nil
}

// GroupChange describes what happened to one group when a member departed.
type GroupChange struct {
	Group     string
	Deleted   bool
	Remaining []*Session
}

// Departure reports the effects of removing a session.
type Departure struct {
	Session *Session
	Groups  []GroupChange
}

// Deregister removes username, drops it from every group and deletes groups
// left empty, all in one step. Removing an absent user is a no-op that
// returns false.
func (r *Registry) Deregister(username string) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[r.key(username)]
	if !ok {
		return Departure{}, false
	}
	return r.removeLocked(s), true
}

// Remove deregisters s only if it is still the registered session for its
// username, so a stale handler can never evict a newer login.
func (r *Registry) Remove(s *Session) (Departure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[s.key]; !ok || current != s {
		return Departure{}, false
	}
	return r.removeLocked(s), true
}

func (r *Registry) removeLocked(s *Session) Departure {
	delete(r.sessions, s.key)

	names := lo.Keys(s.groups)
	slices.Sort(names)

	changes := make([]GroupChange, 0, len(names))
	for _, name := range names {
		g := r.groups[name]
		delete(g.members, s.key)
		change := GroupChange{Group: name}
		if len(g.members) == 0 {
			delete(r.groups, name)
			change.Deleted = true
		} else {
			change.Remaining = lo.Values(g.members)
		}
		changes = append(changes, change)
	}
	clear(s.groups)
	s.close()

	return Departure{Session: s, Groups: changes}
}

// Lookup returns the session registered for username.
func (r *Registry) Lookup(username string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[r.key(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// ListUsers returns a sorted snapshot of online usernames.
func (r *Registry) ListUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.MapToSlice(r.sessions, func(_ string, s *Session) string {
		return s.username
	})
	slices.Sort(names)
	return names
}

// Count returns the number of online sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Others returns every online session except exclude.
func (r *Registry) Others(exclude *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Filter(lo.Values(r.sessions), func(s *Session, _ int) bool {
		return s != exclude
	})
}

// CreateGroup creates name with creator as its first member. Creation and
// the creator's join happen atomically so no empty group is ever visible.
func (r *Registry) CreateGroup(name, creator string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[r.key(creator)]
	if !ok {
		return ErrNotFound
	}
	if _, exists := r.groups[name]; exists {
		return ErrAlreadyExists
	}

	r.groups[name] = &group{
		name:    name,
		members: map[string]*Session{s.key: s},
	}
	s.groups[name] = struct{}{}
	return nil
}

// JoinResult reports the outcome of JoinGroup.
type JoinResult struct {
	// Joined is false when the user was already a member.
	Joined bool
	// Others are the members other than the joiner.
	Others []*Session
}

// JoinGroup adds username to name. Joining a group twice succeeds with
// Joined set to false.
func (r *Registry) JoinGroup(username, name string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[r.key(username)]
	if !ok {
		return JoinResult{}, ErrNotFound
	}
	g, ok := r.groups[name]
	if !ok {
		return JoinResult{}, ErrNoSuchGroup
	}

	_, already := g.members[s.key]
	others := lo.Filter(lo.Values(g.members), func(m *Session, _ int) bool {
		return m != s
	})
	if already {
		return JoinResult{Joined: false, Others: others}, nil
	}

	g.members[s.key] = s
	s.groups[name] = struct{}{}
	return JoinResult{Joined: true, Others: others}, nil
}

// LeaveResult reports the outcome of LeaveGroup.
type LeaveResult struct {
	// Left is false when the user was not a member (or the group is absent).
	Left bool
	// Deleted is true when the departure emptied and removed the group.
	Deleted bool
	// Remaining are the members still in the group.
	Remaining []*Session
}

// LeaveGroup removes username from name, deleting the group when it becomes
// empty. Leaving a group one is not in is a successful no-op.
func (r *Registry) LeaveGroup(username, name string) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[r.key(username)]
	if !ok {
		return LeaveResult{}, ErrNotFound
	}
	g, ok := r.groups[name]
	if !ok {
		return LeaveResult{}, nil
	}
	if _, member := g.members[s.key]; !member {
		return LeaveResult{}, nil
	}

	delete(g.members, s.key)
	delete(s.groups, name)

	if len(g.members) == 0 {
		delete(r.groups, name)
		return LeaveResult{Left: true, Deleted: true}, nil
	}
	return LeaveResult{Left: true, Remaining: lo.Values(g.members)}, nil
}

// GroupMembers returns the sorted usernames in name.
func (r *Registry) GroupMembers(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return nil, ErrNoSuchGroup
	}
	return memberNames(g), nil
}

// GroupRecipients returns the members of name other than sender. It fails
// with ErrNoSuchGroup or, when sender does not belong to the group,
// ErrNotAMember.
func (r *Registry) GroupRecipients(name, sender string) ([]*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[name]
	if !ok {
		return nil, ErrNoSuchGroup
	}
	from, ok := g.members[r.key(sender)]
	if !ok {
		return nil, ErrNotAMember
	}
	return lo.Filter(lo.Values(g.members), func(m *Session, _ int) bool {
		return m != from
	}), nil
}

// Memberships returns the sorted group names username belongs to.
func (r *Registry) Memberships(username string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[r.key(username)]
	if !ok {
		return nil, ErrNotFound
	}
	names := lo.Keys(s.groups)
	slices.Sort(names)
	return names, nil
}

// GroupSnapshot is a point-in-time copy of one group.
type GroupSnapshot struct {
	Name    string
	Members []string
}

// Groups returns every group with its members, sorted by name.
func (r *Registry) Groups() []GroupSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := lo.MapToSlice(r.groups, func(name string, g *group) GroupSnapshot {
		return GroupSnapshot{Name: name, Members: memberNames(g)}
	})
	slices.SortFunc(out, func(a, b GroupSnapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func memberNames(g *group) []string {
	names := lo.MapToSlice(g.members, func(_ string, s *Session) string {
		return s.username
	})
	slices.Sort(names)
	return names
}
