// Package credentials loads the username:password file the server
// authenticates against. The store is read-only after loading.
package credentials

import (
	"bufio"
	"crypto/subtle"
	"fmt"
	"io"
	"os"
	"strings"
)

// Store maps usernames to stored secrets. A secret is either a plaintext
// password or an argon2id hash produced by HashPassword.
type Store struct {
	users    map[string]entry
	foldCase bool
}

type entry struct {
	username string
	secret   string
}

// Option configures a Store.
type Option func(*Store)

// WithCaseInsensitiveUsernames makes lookups ignore username case. The
// spelling from the file is kept as the canonical name.
func WithCaseInsensitiveUsernames(fold bool) Option {
	return func(s *Store) {
		s.foldCase = fold
	}
}

// NewStore builds a Store from an in-memory map.
func NewStore(users map[string]string, opts ...Option) *Store {
	s := &Store{users: make(map[string]entry, len(users))}
	for _, opt := range opts {
		opt(s)
	}
	for name, secret := range users {
		s.users[s.key(name)] = entry{username: name, secret: secret}
	}
	return s
}

// Load reads the credential file at path. A missing file is reported with an
// error wrapping fs.ErrNotExist so callers can fall back to an empty store.
func Load(path string, opts ...Option) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open credentials %s: %w", path, err)
	}
	defer f.Close()

	s, err := Parse(f, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return s, nil
}

// Parse reads "username:password" lines. Blank lines and lines starting with
// '#' are skipped; the password is everything after the first ':'. Argon2id
// entries are checked here so a bad hash fails the load, not a login.
func Parse(r io.Reader, opts ...Option) (*Store, error) {
	s := NewStore(nil, opts...)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, secret, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || secret == "" || strings.ContainsFunc(name, isSpace) {
			return nil, fmt.Errorf("line %d: expected username:password", lineNo)
		}
		if isHashed(secret) {
			if err := CheckHash(secret); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		}

		key := s.key(name)
		if _, dup := s.users[key]; dup {
			return nil, fmt.Errorf("line %d: duplicate user %q", lineNo, name)
		}
		s.users[key] = entry{username: name, secret: secret}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// Len returns the number of known users.
func (s *Store) Len() int {
	return len(s.users)
}

// Verify checks password for username. On success it returns the canonical
// username as spelled in the credential file.
func (s *Store) Verify(username, password string) (string, bool) {
	e, ok := s.users[s.key(username)]
	if !ok {
		return "", false
	}

	if isHashed(e.secret) {
		match, err := ComparePassword(password, e.secret)
		if err != nil || !match {
			return "", false
		}
		return e.username, true
	}

	if subtle.ConstantTimeCompare([]byte(e.secret), []byte(password)) != 1 {
		return "", false
	}
	return e.username, true
}

func (s *Store) key(name string) string {
	if s.foldCase {
		return strings.ToLower(name)
	}
	return name
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t'
}
