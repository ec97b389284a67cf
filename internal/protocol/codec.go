// Package protocol implements the newline-delimited text protocol spoken
// between chat clients and the server, and parses client input into typed
// commands.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// MaxLineLength is the default cap, in bytes, on a single protocol line
// excluding its terminator.
const MaxLineLength = 1024

var (
	// ErrLineTooLong is returned when an inbound line exceeds the configured cap.
	// The offending line is discarded and the reader stays usable.
	ErrLineTooLong = errors.New("line exceeds maximum length")
	// ErrInvalidUTF8 is returned for lines that are not valid UTF-8.
	ErrInvalidUTF8 = errors.New("line is not valid UTF-8")
)

// Reader frames an inbound byte stream into lines.
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader returns a Reader capping lines at max bytes. A non-positive max
// falls back to MaxLineLength.
func NewReader(r io.Reader, max int) *Reader {
	if max <= 0 {
		max = MaxLineLength
	}
	return &Reader{br: bufio.NewReaderSize(r, max+2), max: max}
}

// Max reports the line cap in bytes.
func (r *Reader) Max() int {
	return r.max
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator.
// A final unterminated line before EOF is returned as a regular line.
func (r *Reader) ReadLine() (string, error) {
	var buf []byte
	tooLong := false

	for {
		chunk, err := r.br.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, chunk...)
			if len(trimEOL(buf)) > r.max {
				tooLong = true
				buf = nil
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return "", ErrLineTooLong
			}
			return checkLine(trimEOL(buf))
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && tooLong:
			return "", ErrLineTooLong
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return checkLine(trimEOL(buf))
		default:
			return "", err
		}
	}
}

func checkLine(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

func trimEOL(b []byte) []byte {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return b[:n]
}

// FormatLine turns an arbitrary reply into exactly one wire line: embedded
// CR/LF characters are flattened to spaces and a single "\n" is appended.
func FormatLine(line string) []byte {
	if strings.ContainsAny(line, "\r\n") {
		line = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(line)
	}
	out := make([]byte, 0, len(line)+1)
	out = append(out, line...)
	return append(out, '\n')
}

// WriteLine writes line to w as a single protocol line.
func WriteLine(w io.Writer, line string) error {
	_, err := w.Write(FormatLine(line))
	return err
}
