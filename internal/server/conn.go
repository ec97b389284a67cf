package server

import (
	"net"
	"time"

	"github.com/Tyrowin/linechat/internal/protocol"
)

// Conn is one client transport carrying protocol lines. After login only the
// session's delivery worker calls WriteLine.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	Close() error
	RemoteAddr() string
}

// tcpConn frames a raw stream connection.
type tcpConn struct {
	conn         net.Conn
	reader       *protocol.Reader
	writeTimeout time.Duration
}

// NewStreamConn wraps a stream connection (TCP, unix socket, net.Pipe) in
// the line protocol.
func NewStreamConn(conn net.Conn, maxLine int, writeTimeout time.Duration) Conn {
	return &tcpConn{
		conn:         conn,
		reader:       protocol.NewReader(conn, maxLine),
		writeTimeout: writeTimeout,
	}
}

func (c *tcpConn) ReadLine() (string, error) {
	return c.reader.ReadLine()
}

func (c *tcpConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteLine(c.conn, line)
}

func (c *tcpConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
