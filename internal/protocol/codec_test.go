package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReader_ReadLine_SplitsOnNewlines(t *testing.T) {
	req := require.New(t)
	r := NewReader(strings.NewReader("alice\r\nsecret\n/users\n"), MaxLineLength)

	for _, want := range []string{"alice", "secret", "/users"} {
		line, err := r.ReadLine()
		req.NoError(err)
		req.Equal(want, line)
	}

	_, err := r.ReadLine()
	req.ErrorIs(err, io.EOF)
}

func TestReader_ReadLine_ReturnsUnterminatedTail(t *testing.T) {
	req := require.New(t)
	r := NewReader(strings.NewReader("/quit"), MaxLineLength)

	line, err := r.ReadLine()
	req.NoError(err)
	req.Equal("/quit", line)

	_, err = r.ReadLine()
	req.ErrorIs(err, io.EOF)
}

func TestReader_ReadLine_OversizedLineIsDiscarded(t *testing.T) {
	req := require.New(t)
	long := strings.Repeat("x", 100)
	r := NewReader(strings.NewReader(long+"\n/users\n"), 32)

	// When a line exceeds the cap
	_, err := r.ReadLine()

	// Then it is reported and the stream stays aligned on the next line
	req.ErrorIs(err, ErrLineTooLong)
	line, err := r.ReadLine()
	req.NoError(err)
	req.Equal("/users", line)
}

func TestReader_ReadLine_ExactlyAtCapIsAccepted(t *testing.T) {
	req := require.New(t)
	exact := strings.Repeat("y", 32)
	r := NewReader(strings.NewReader(exact+"\r\n"), 32)

	line, err := r.ReadLine()
	req.NoError(err)
	req.Equal(exact, line)
}

func TestReader_ReadLine_OversizedTailBeforeEOF(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("z", 64)), 16)

	_, err := r.ReadLine()
	require.ErrorIs(t, err, ErrLineTooLong)
	_, err = r.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestReader_ReadLine_RejectsInvalidUTF8(t *testing.T) {
	req := require.New(t)
	r := NewReader(bytes.NewReader([]byte{0xff, 0xfe, '\n', 'o', 'k', '\n'}), MaxLineLength)

	_, err := r.ReadLine()
	req.ErrorIs(err, ErrInvalidUTF8)

	line, err := r.ReadLine()
	req.NoError(err)
	req.Equal("ok", line)
}

func TestReader_DefaultsNonPositiveMax(t *testing.T) {
	require.Equal(t, MaxLineLength, NewReader(strings.NewReader(""), 0).Max())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriteLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello\n"},
		{"empty", "", "\n"},
		{"embedded newline flattened", "a\nb", "a b\n"},
		{"embedded crlf flattened", "a\r\nb", "a b\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteLine(&buf, tt.in))
			require.Equal(t, tt.want, buf.String())
		})
	}

	require.Error(t, WriteLine(failingWriter{}, "x"))
}
