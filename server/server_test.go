package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-appbridge/bridge"
	"go-appbridge/internal/lifecycle"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewDefaults(t *testing.T) {
	h := New("", "")
	assert.Equal(t, DefaultHost, h.host)
	assert.Equal(t, DefaultPort, h.port)
	assert.Equal(t, StateUninitialized, h.State())
	assert.Nil(t, h.Addr())
	assert.Nil(t, h.Application())
}

func TestInitializeIsIdempotent(t *testing.T) {
	h, _ := newTestHost(t, okApp("x"))

	require.NoError(t, h.Initialize())
	addr := h.Addr().String()
	ln := h.listener

	require.NoError(t, h.Initialize())
	assert.Equal(t, addr, h.Addr().String())
	assert.Same(t, ln, h.listener)
	assert.Equal(t, StateInitialized, h.State())

	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, StateStopped, h.State())
	assert.ErrorIs(t, h.Start(context.Background()), ErrServerStopped)
}

func TestInitializeBindFailure(t *testing.T) {
	a, _ := newTestHost(t, okApp("x"))
	require.NoError(t, a.Initialize())
	defer a.Stop(context.Background())

	_, port, _ := strings.Cut(a.Addr().String(), ":")
	b := New("127.0.0.1", port)
	assert.Error(t, b.Initialize())
	assert.Equal(t, StateUninitialized, b.State())
}

func TestServeRequest(t *testing.T) {
	app := bridge.ApplicationFunc(func(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
		resp := bridge.NewResponse(201, []byte(req.Method()+" "+req.Path()+" "+req.Query().Get("q")))
		resp.Headers.Add("X-Multi", "a")
		resp.Headers.Add("X-Multi", "b")
		resp.SetCookie(bridge.Cookie{Name: "sid", Value: "abc", Path: "/"})
		return resp, nil
	})

	h, _ := newTestHost(t, app)
	r := startHost(t, h)

	resp, err := http.Get(r.base + "/hello?q=world")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "GET /hello world", string(body))
	assert.Equal(t, []string{"a", "b"}, resp.Header.Values("X-Multi"))
	assert.Equal(t, "sid=abc; Path=/", resp.Header.Get("Set-Cookie"))
}

func TestPIDRecordFollowsLifecycle(t *testing.T) {
	h, pidPath := newTestHost(t, okApp("x"))
	r := startHost(t, h)

	pid, err := lifecycle.ReadPID(pidPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, r.stop())
	assert.Equal(t, StateStopped, h.State())

	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "PID record must be gone after shutdown")
}

func TestShutdownWithMissingPIDRecord(t *testing.T) {
	h, pidPath := newTestHost(t, okApp("x"))
	r := startHost(t, h)

	require.NoError(t, os.Remove(pidPath))
	require.NoError(t, r.stop())
	assert.Equal(t, StateStopped, h.State())
}

func TestFailingRequestDoesNotAffectNext(t *testing.T) {
	var calls atomic.Int32
	app := bridge.ApplicationFunc(func(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
		switch calls.Add(1) {
		case 1:
			return nil, errors.New("database unavailable")
		case 2:
			panic("nil map write")
		case 3:
			return nil, nil
		}
		return bridge.NewResponse(200, []byte("ok")), nil
	})

	h, _ := newTestHost(t, app)
	h.Configure(map[string]any{"worker_num": 1})
	r := startHost(t, h)

	for i := 0; i < 3; i++ {
		status, body := get(t, r.base+"/")
		assert.Equal(t, http.StatusInternalServerError, status, "request %d", i+1)
		assert.Equal(t, "Internal Server Error", body)
	}

	status, body := get(t, r.base+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body)
}

func TestConfigureAfterStartIgnored(t *testing.T) {
	h, _ := newTestHost(t, okApp("x"))
	h.Configure(map[string]any{"worker_num": 2, "request_timeout": "1s"})
	startHost(t, h)

	h.Configure(map[string]any{"worker_num": 9})
	h.SetApplication(okApp("replaced"))

	opts := h.Options()
	assert.Equal(t, 2, opts.WorkerNum)
	assert.Equal(t, time.Second, opts.RequestTimeout)

	_, body := get(t, "http://"+h.Addr().String()+"/")
	assert.Equal(t, "x", body)
}

func TestStartWithoutApplication(t *testing.T) {
	h, pidPath := newTestHost(t, nil)

	err := h.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoApplication)
	assert.Equal(t, StateStopped, h.State())

	_, statErr := os.Stat(pidPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartRecorderFailureIsFatal(t *testing.T) {
	recErr := errors.New("read-only file system")
	h := New("127.0.0.1", "0", WithProcessRecorder(failingRecorder{err: recErr}))
	h.SetApplication(okApp("x"))

	err := h.Start(context.Background())
	assert.ErrorIs(t, err, recErr)
	assert.Equal(t, StateStopped, h.State())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done must be closed after a failed start")
	}
}

type closingApp struct {
	bridge.Application
	closed atomic.Bool
}

func (c *closingApp) Close() error {
	c.closed.Store(true)
	return nil
}

func TestResolverBuildsAndClosesApplication(t *testing.T) {
	app := &closingApp{Application: okApp("resolved")}
	var gotOpts Options

	h, _ := newTestHost(t, nil, WithResolver(func(ctx context.Context, opts Options) (bridge.Application, error) {
		gotOpts = opts
		return app, nil
	}))
	h.Configure(map[string]any{"max_request": 100})
	r := startHost(t, h)

	_, body := get(t, r.base+"/")
	assert.Equal(t, "resolved", body)
	assert.Equal(t, 100, gotOpts.MaxRequest)

	require.NoError(t, r.stop())
	assert.True(t, app.closed.Load(), "resolved application must be closed on shutdown")
}

func TestResolverFailure(t *testing.T) {
	h, _ := newTestHost(t, nil, WithResolver(func(ctx context.Context, opts Options) (bridge.Application, error) {
		return nil, errors.New("bootstrap/worker.php not found")
	}))

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve application")
	assert.Equal(t, StateStopped, h.State())
}

func TestStopWhileRunning(t *testing.T) {
	h, _ := newTestHost(t, okApp("x"))
	r := startHost(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	assert.Equal(t, StateStopped, h.State())
	assert.NoError(t, r.stop())
}

func TestPackageMaxLength(t *testing.T) {
	var calls atomic.Int32
	var seen atomic.Value
	app := bridge.ApplicationFunc(func(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
		calls.Add(1)
		seen.Store(string(req.Body()))
		return bridge.NewResponse(200, []byte("ok")), nil
	})

	h, _ := newTestHost(t, app)
	h.Configure(map[string]any{"package_max_length": 16})
	r := startHost(t, h)

	resp, err := http.Post(r.base+"/upload", "text/plain", strings.NewReader(strings.Repeat("a", 64)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	// A MultiReader has no known length, so the client sends it chunked.
	chunked := io.MultiReader(strings.NewReader(strings.Repeat("a", 32)), strings.NewReader(strings.Repeat("b", 32)))
	req, err := http.NewRequest(http.MethodPost, r.base+"/upload", chunked)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, int32(0), calls.Load(), "oversized bodies must not reach the application")

	resp, err = http.Post(r.base+"/upload", "text/plain", strings.NewReader("small"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "small", seen.Load())

	req, err = http.NewRequest(http.MethodPost, r.base+"/upload", io.MultiReader(strings.NewReader("chunked "), strings.NewReader("fits")))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "chunked fits", seen.Load())
}

func TestStopCancelsResolverContext(t *testing.T) {
	var resolveCtx context.Context
	h, _ := newTestHost(t, nil, WithResolver(func(ctx context.Context, opts Options) (bridge.Application, error) {
		resolveCtx = ctx
		return okApp("x"), nil
	}))
	startHost(t, h)
	require.NoError(t, resolveCtx.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Stop(ctx))
	assert.ErrorIs(t, resolveCtx.Err(), context.Canceled)
}

func TestRequestTimeoutReachesApplication(t *testing.T) {
	app := bridge.ApplicationFunc(func(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h, _ := newTestHost(t, app)
	h.Configure(map[string]any{"request_timeout": "50ms"})
	r := startHost(t, h)

	status, _ := get(t, r.base+"/slow")
	assert.Equal(t, http.StatusInternalServerError, status)
}
