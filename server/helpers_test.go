package server

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go-appbridge/bridge"
	"go-appbridge/internal/lifecycle"
)

// newTestHost returns a host on a random loopback port whose PID file
// lives in a temp dir.
func newTestHost(t *testing.T, app bridge.Application, opts ...Option) (*Host, string) {
	t.Helper()

	pidPath := filepath.Join(t.TempDir(), "appbridge.pid")
	opts = append([]Option{WithProcessRecorder(lifecycle.NewManager(pidPath))}, opts...)

	h := New("127.0.0.1", "0", opts...)
	if app != nil {
		h.SetApplication(app)
	}
	return h, pidPath
}

type running struct {
	base   string
	cancel context.CancelFunc
	errc   chan error

	once sync.Once
	err  error
}

// startHost runs h.Start in the background and waits until it serves.
func startHost(t *testing.T, h *Host) *running {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel, errc: make(chan error, 1)}

	go func() { r.errc <- h.Start(ctx) }()

	require.Eventually(t, func() bool {
		select {
		case err := <-r.errc:
			r.errc <- err
			return true
		default:
		}
		return h.State() == StateRunning
	}, 3*time.Second, 5*time.Millisecond)
	require.Equal(t, StateRunning, h.State(), "host did not reach running")

	r.base = "http://" + h.Addr().String()
	t.Cleanup(func() { _ = r.stop() })
	return r
}

// stop cancels the Start context and returns Start's error.
func (r *running) stop() error {
	r.once.Do(func() {
		r.cancel()
		select {
		case r.err = <-r.errc:
		case <-time.After(5 * time.Second):
			r.err = errors.New("host did not stop")
		}
	})
	return r.err
}

func okApp(body string) bridge.Application {
	return bridge.ApplicationFunc(func(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
		resp := bridge.NewResponse(200, []byte(body))
		resp.Headers.Set("Content-Type", "text/plain")
		return resp, nil
	})
}

type failingRecorder struct{ err error }

func (f failingRecorder) OnStart(int) error { return f.err }
func (f failingRecorder) OnShutdown() error { return nil }
