// Package testhelpers provides common utilities for end-to-end tests of the
// chat server.
//
// It starts servers on loopback listeners, drives line-protocol clients over
// TCP and WebSocket, and asserts on what those clients receive.
package testhelpers

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/linechat/internal/credentials"
	"github.com/Tyrowin/linechat/internal/server"
)

// DefaultTimeout bounds every blocking read a helper performs.
const DefaultTimeout = 3 * time.Second

// TestServer is a running chat server on a loopback port.
type TestServer struct {
	*server.Server
	Addr string
}

// StartServer starts a chat server for users on 127.0.0.1 with an ephemeral
// port. It is shut down when the test ends.
func StartServer(t *testing.T, cfg server.Config, users map[string]string) *TestServer {
	t.Helper()

	log := logs.GetLoggerFromLevel(slog.LevelError)
	store := credentials.NewStore(users, credentials.WithCaseInsensitiveUsernames(cfg.CaseInsensitiveUsernames))
	srv := server.New(cfg, store, log)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown failed: %v", err)
		}
		if err := <-served; err != nil && !errors.Is(err, server.ErrServerClosed) {
			t.Errorf("Serve returned %v", err)
		}
	})

	return &TestServer{Server: srv, Addr: ln.Addr().String()}
}

// StartWebSocket serves the server's HTTP routes on an httptest server and
// returns the ws:// URL of the chat endpoint.
func StartWebSocket(t *testing.T, srv *TestServer) string {
	t.Helper()
	hs := httptest.NewServer(server.SetupRoutes(srv.Server))
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
}

// Client is a line-protocol client.
type Client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a raw TCP connection without logging in.
func Dial(t *testing.T, addr string) *Client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &Client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// Login dials addr and completes the login exchange.
func Login(t *testing.T, addr, username, password string) *Client {
	t.Helper()
	c := Dial(t, addr)
	c.ExpectLine("Enter username:")
	c.Send(username)
	c.ExpectLine("Enter password:")
	c.Send(password)
	c.ExpectLine("Welcome to the chat server!")
	return c
}

// Send writes one line.
func (c *Client) Send(line string) {
	c.t.Helper()
	c.SendRaw([]byte(line + "\n"))
}

// SendRaw writes b unchanged.
func (c *Client) SendRaw(b []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout))
	if _, err := c.conn.Write(b); err != nil {
		c.t.Fatalf("Failed to send: %v", err)
	}
}

// ReadLine returns the next line without its terminator.
func (c *Client) ReadLine() (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	line, err := c.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// ExpectLine fails unless the very next line equals want.
func (c *Client) ExpectLine(want string) {
	c.t.Helper()
	line, err := c.ReadLine()
	if err != nil {
		c.t.Fatalf("Expected %q, read failed: %v", want, err)
	}
	if line != want {
		c.t.Fatalf("Expected line %q, got %q", want, line)
	}
}

// Expect reads until a line contains substr and returns that line. Lines
// before it are skipped.
func (c *Client) Expect(substr string) string {
	c.t.Helper()
	var seen []string
	for {
		line, err := c.ReadLine()
		if err != nil {
			c.t.Fatalf("Expected a line containing %q, read failed after %q: %v", substr, seen, err)
		}
		if strings.Contains(line, substr) {
			return line
		}
		seen = append(seen, line)
	}
}

// ExpectNone fails if any line arrives within d.
func (c *Client) ExpectNone(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	line, err := c.r.ReadString('\n')
	if err == nil {
		c.t.Fatalf("Expected no line, got %q", strings.TrimRight(line, "\r\n"))
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Fatalf("Expected a read timeout, got %v", err)
	}
}

// ExpectClosed fails unless the server closes the connection.
func (c *Client) ExpectClosed() {
	c.t.Helper()
	for {
		_, err := c.ReadLine()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.t.Fatal("Expected the connection to close, it is still open")
		}
		return
	}
}

// Close closes the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// ConnectWebSocket opens a WebSocket connection to url with an allowed
// Origin header.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost:8080")

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// ReadText reads one text frame.
func ReadText(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(DefaultTimeout))
	_, data, err := conn.ReadMessage()
	return string(data), err
}

// SendText writes line as one text frame.
func SendText(conn *websocket.Conn, line string) error {
	return conn.WriteMessage(websocket.TextMessage, []byte(line))
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}
