package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters used for new hashes.
const (
	Memory      = 64 * 1024
	Iterations  = 3
	Parallelism = 2
	SaltLength  = 16
	KeyLength   = 32
)

const hashPrefix = "$argon2id$"

// HashPassword returns an encoded argon2id hash suitable for the credential
// file.
func HashPassword(password string) (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, Iterations, Memory, Parallelism, KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, Memory, Iterations, Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// MaxMemory caps the m= parameter accepted from an encoded hash, in KiB.
const MaxMemory = 256 * 1024

// ErrInvalidHash is returned for encoded hashes that are malformed or carry
// parameters argon2id cannot run with.
var ErrInvalidHash = errors.New("invalid argon2id hash")

type hashParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

// decodeHash parses and checks an encoded argon2id hash.
func decodeHash(encodedHash string) (*hashParams, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}

	var p hashParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	switch {
	case p.iterations < 1:
		return nil, fmt.Errorf("%w: t must be at least 1", ErrInvalidHash)
	case p.parallelism < 1:
		return nil, fmt.Errorf("%w: p must be at least 1", ErrInvalidHash)
	case p.memory < 8*uint32(p.parallelism):
		return nil, fmt.Errorf("%w: m must be at least 8*p", ErrInvalidHash)
	case p.memory > MaxMemory:
		return nil, fmt.Errorf("%w: m exceeds %d KiB", ErrInvalidHash, MaxMemory)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) == 0 {
		return nil, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return nil, fmt.Errorf("%w: bad hash", ErrInvalidHash)
	}
	return &p, nil
}

// CheckHash reports whether encodedHash is an argon2id hash that
// ComparePassword can evaluate.
func CheckHash(encodedHash string) error {
	_, err := decodeHash(encodedHash)
	return err
}

// ComparePassword checks password against an encoded argon2id hash in
// constant time.
func ComparePassword(password, encodedHash string) (bool, error) {
	p, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	comparisonHash := argon2.IDKey([]byte(password), p.salt, p.iterations, p.memory, p.parallelism, uint32(len(p.key)))

	return subtle.ConstantTimeCompare(p.key, comparisonHash) == 1, nil
}

func isHashed(secret string) bool {
	return strings.HasPrefix(secret, hashPrefix)
}
