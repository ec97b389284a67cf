package server

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/linechat/internal/credentials"
)

func newTestServer() *Server {
	return New(*NewConfig(), credentials.NewStore(nil), logs.GetLoggerFromLevel(slog.LevelError))
}

func TestTrackConn_ShutdownWaitsForTrackedHandler(t *testing.T) {
	req := require.New(t)
	s := newTestServer()
	conn, _ := newPipe(t)

	// Tracked but the handler goroutine has not started yet.
	req.True(s.trackConn(conn))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req.ErrorIs(s.Shutdown(ctx), context.DeadlineExceeded)

	s.wg.Done()
	req.NoError(s.Shutdown(context.Background()))
}

func TestTrackConn_RejectedAfterShutdown(t *testing.T) {
	req := require.New(t)
	s := newTestServer()
	req.NoError(s.Shutdown(context.Background()))

	conn, _ := newPipe(t)
	req.False(s.trackConn(conn))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req.NoError(s.Shutdown(ctx), "a rejected connection is not waited for")
}

func TestSpawn_ShutdownRacingConnects(t *testing.T) {
	s := newTestServer()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		close(started)
		for i := 0; i < 50; i++ {
			conn, _ := newPipe(t)
			s.spawn(conn, false)
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	<-done

	// Anything spawned after Shutdown returned was rejected.
	require.NoError(t, s.Shutdown(ctx))
	require.Zero(t, s.Registry().Count())
}
