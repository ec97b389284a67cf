package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/credentials"
)

func TestRun_PrintsLoadableEntry(t *testing.T) {
	req := require.New(t)

	var out bytes.Buffer
	req.NoError(run([]string{"-u", "alice", "-p", "wonderland"}, &out))

	line := out.String()
	req.True(strings.HasPrefix(line, "alice:$argon2id$"), line)

	store, err := credentials.Parse(strings.NewReader(line))
	req.NoError(err)

	name, ok := store.Verify("alice", "wonderland")
	req.True(ok)
	req.Equal("alice", name)

	_, ok = store.Verify("alice", "wrong")
	req.False(ok)
}

func TestRun_RejectsBadUsername(t *testing.T) {
	for _, name := range []string{"", "a b", "a:b"} {
		var out bytes.Buffer
		err := run([]string{"-u", name, "-p", "x"}, &out)
		require.Error(t, err, name)
		require.Zero(t, out.Len())
	}
}
