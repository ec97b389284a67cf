package credentials

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_ReadsUserLines(t *testing.T) {
	req := require.New(t)
	input := `# chat users
alice:wonderland

bob:builder:with:colons
`
	store, err := Parse(strings.NewReader(input))
	req.NoError(err)
	req.Equal(2, store.Len())

	name, ok := store.Verify("alice", "wonderland")
	req.True(ok)
	req.Equal("alice", name)

	_, ok = store.Verify("bob", "builder:with:colons")
	req.True(ok)
}

func TestParse_RejectsMalformedLines(t *testing.T) {
	tests := map[string]string{
		"missing colon":   "alice\n",
		"empty password":  "alice:\n",
		"empty username":  ":secret\n",
		"space in name":   "al ice:secret\n",
		"duplicate entry": "alice:a\nalice:b\n",
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(input))
			require.Error(t, err)
			require.Contains(t, err.Error(), "line")
		})
	}
}

func TestVerify_WrongPasswordOrUnknownUser(t *testing.T) {
	req := require.New(t)
	store := NewStore(map[string]string{"alice": "secret"})

	_, ok := store.Verify("alice", "Secret")
	req.False(ok)
	_, ok = store.Verify("mallory", "secret")
	req.False(ok)
	_, ok = store.Verify("Alice", "secret")
	req.False(ok, "usernames are case-sensitive by default")
}

func TestVerify_CaseInsensitiveReturnsCanonicalName(t *testing.T) {
	req := require.New(t)
	store := NewStore(map[string]string{"Alice": "secret"}, WithCaseInsensitiveUsernames(true))

	name, ok := store.Verify("alice", "secret")
	req.True(ok)
	req.Equal("Alice", name)

	_, err := Parse(strings.NewReader("bob:a\nBOB:b\n"), WithCaseInsensitiveUsernames(true))
	req.Error(err, "folded duplicates are rejected")
}

func TestVerify_HashedEntries(t *testing.T) {
	req := require.New(t)
	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$argon2id$"))

	store := NewStore(map[string]string{"carol": hash})

	_, ok := store.Verify("carol", "correct horse")
	req.True(ok)
	_, ok = store.Verify("carol", "battery staple")
	req.False(ok)
	_, ok = store.Verify("carol", hash)
	req.False(ok, "the stored hash itself is not a valid password")
}

func TestComparePassword_InvalidFormat(t *testing.T) {
	_, err := ComparePassword("x", "$argon2id$broken")
	require.ErrorIs(t, err, ErrInvalidHash)
}

func TestParse_ValidatesHashedEntries(t *testing.T) {
	const (
		salt = "c29tZXNhbHRzb21lc2FsdA"
		key  = "aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g"
	)
	tests := []struct {
		name  string
		entry string
		valid bool
	}{
		{"sane parameters", "$argon2id$v=19$m=65536,t=3,p=2$" + salt + "$" + key, true},
		{"zero parallelism", "$argon2id$v=19$m=65536,t=3,p=0$" + salt + "$" + key, false},
		{"zero iterations", "$argon2id$v=19$m=65536,t=0,p=2$" + salt + "$" + key, false},
		{"memory below 8p", "$argon2id$v=19$m=8,t=3,p=2$" + salt + "$" + key, false},
		{"huge memory", "$argon2id$v=19$m=4294967295,t=3,p=2$" + salt + "$" + key, false},
		{"parallelism overflow", "$argon2id$v=19$m=65536,t=3,p=300$" + salt + "$" + key, false},
		{"old version", "$argon2id$v=16$m=65536,t=3,p=2$" + salt + "$" + key, false},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=2$!!!$" + key, false},
		{"empty hash", "$argon2id$v=19$m=65536,t=3,p=2$" + salt + "$", false},
		{"missing fields", "$argon2id$v=19$" + salt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "# users\nalice:wonderland\neve:" + tt.entry + "\n"
			store, err := Parse(strings.NewReader(input))
			if tt.valid {
				require.NoError(t, err)
				_, ok := store.Verify("eve", "anything")
				require.False(t, ok)
				return
			}
			require.ErrorIs(t, err, ErrInvalidHash)
			require.Contains(t, err.Error(), "line 3")

			_, err = ComparePassword("anything", tt.entry)
			require.ErrorIs(t, err, ErrInvalidHash)
		})
	}
}

func TestParse_GeneratedHashLoads(t *testing.T) {
	req := require.New(t)
	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.NoError(CheckHash(hash))

	store, err := Parse(strings.NewReader("carol:" + hash + "\n"))
	req.NoError(err)
	_, ok := store.Verify("carol", "correct horse")
	req.True(ok)
}

func TestLoad_FromFile(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "users.txt")
	req.NoError(os.WriteFile(path, []byte("alice:password1\nbob:password2\n"), 0o600))

	store, err := Load(path)
	req.NoError(err)
	req.Equal(2, store.Len())
}

func TestLoad_MissingFileWrapsNotExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.txt"))
	require.ErrorIs(t, err, fs.ErrNotExist)
}
