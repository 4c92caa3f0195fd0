package httpserver_test

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafitos77/vipgate/pkg/httpserver"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "server did not stop")
	}
}

func TestRunAndShutdown(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	srv := httpserver.New(
		httpserver.WithAddr(addr),
		httpserver.WithShutdownTimeout(100*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}()

	var resp *http.Response
	var err error
	for range 50 {
		resp, err = http.Get("http://" + addr)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	waitDone(t, done)
}

func TestLifecycleHooks(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	var stopped atomic.Bool
	start := make(chan struct{})
	srv := httpserver.New(
		httpserver.WithAddr(addr),
		httpserver.WithShutdownTimeout(50*time.Millisecond),
		httpserver.WithStartHook(func(*slog.Logger) { close(start) }),
		httpserver.WithStopHook(func(*slog.Logger) { stopped.Store(true) }),
	)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background(), http.NewServeMux()) }()
	<-start

	require.NoError(t, srv.Shutdown(context.Background()))
	waitDone(t, done)
	assert.True(t, stopped.Load())

	// Repeated shutdown is a no-op.
	require.NoError(t, srv.Shutdown(context.Background()))
}

func TestStartError(t *testing.T) {
	t.Parallel()

	srv := httpserver.New(httpserver.WithAddr(":invalid"))
	err := srv.Run(context.Background(), http.NewServeMux())
	assert.ErrorIs(t, err, httpserver.ErrStart)
}

func TestSecondRunRejected(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	start := make(chan struct{})
	srv := httpserver.New(
		httpserver.WithAddr(addr),
		httpserver.WithShutdownTimeout(50*time.Millisecond),
		httpserver.WithStartHook(func(*slog.Logger) { close(start) }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Run(ctx, http.NewServeMux()) }()
	<-start

	err := srv.Run(context.Background(), http.NewServeMux())
	assert.ErrorIs(t, err, httpserver.ErrStart)

	cancel()
	_ = srv.Shutdown(context.Background())
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	addr := freeAddr(t)
	hs := &http.Server{}
	start := make(chan struct{})
	srv := httpserver.NewFromConfig(
		httpserver.Config{
			Addr:            addr,
			ReadTimeout:     time.Second,
			WriteTimeout:    2 * time.Second,
			IdleTimeout:     3 * time.Second,
			ShutdownTimeout: 50 * time.Millisecond,
		},
		httpserver.WithServer(hs),
		httpserver.WithStartHook(func(*slog.Logger) { close(start) }),
	)

	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background(), nil) }()
	<-start

	assert.Equal(t, addr, hs.Addr)
	assert.Equal(t, time.Second, hs.ReadTimeout)
	assert.Equal(t, 2*time.Second, hs.WriteTimeout)
	assert.Equal(t, 3*time.Second, hs.IdleTimeout)

	_ = srv.Shutdown(context.Background())
	waitDone(t, done)
}

func TestOptionPanics(t *testing.T) {
	t.Parallel()

	for name, fn := range map[string]func(){
		"empty addr":       func() { httpserver.WithAddr("") },
		"negative read":    func() { httpserver.WithReadTimeout(-time.Second) },
		"negative write":   func() { httpserver.WithWriteTimeout(-time.Second) },
		"negative idle":    func() { httpserver.WithIdleTimeout(-time.Second) },
		"negative shutdown": func() { httpserver.WithShutdownTimeout(-time.Second) },
		"nil server":       func() { httpserver.WithServer(nil) },
		"nil start hook":   func() { httpserver.WithStartHook(nil) },
		"nil stop hook":    func() { httpserver.WithStopHook(nil) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.Panics(t, fn)
		})
	}
}
