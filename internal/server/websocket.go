package server

import (
	"bytes"
	"io"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/protocol"
)

// wsFrameSlack is how far past the line limit a frame may go before the
// connection is dropped instead of the frame being rejected.
const wsFrameSlack = 4

// wsConn carries protocol lines as WebSocket text frames, one line per frame.
type wsConn struct {
	conn         *websocket.Conn
	maxLine      int
	writeTimeout time.Duration
	remoteAddr   string
}

func newWebSocketConn(conn *websocket.Conn, remoteAddr string, maxLine int, writeTimeout time.Duration) *wsConn {
	if maxLine <= 0 {
		maxLine = protocol.MaxLineLength
	}
	conn.SetReadLimit(int64(maxLine * wsFrameSlack))
	if remoteAddr == "" {
		remoteAddr = conn.RemoteAddr().String()
	}
	return &wsConn{
		conn:         conn,
		maxLine:      maxLine,
		writeTimeout: writeTimeout,
		remoteAddr:   remoteAddr,
	}
}

func (c *wsConn) ReadLine() (string, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return "", io.EOF
		}
		return "", err
	}

	data = bytes.TrimRight(data, "\r\n")
	if len(data) > c.maxLine {
		return "", protocol.ErrLineTooLong
	}
	if !utf8.Valid(data) {
		return "", protocol.ErrInvalidUTF8
	}
	return string(data), nil
}

func (c *wsConn) WriteLine(line string) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	frame := bytes.TrimSuffix(protocol.FormatLine(line), []byte("\n"))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	// Best effort; the peer may already be gone.
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.remoteAddr
}
