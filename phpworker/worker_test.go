package phpworker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestWorkerHandleHappyPath(t *testing.T) {
	w := newFakeWorker(t, "w0", time.Second)

	resp, err := w.Handle(context.Background(), &RequestPayload{
		ID:     "abc",
		Method: "GET",
		Path:   "/test",
	})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}

	if resp.ID != "abc" {
		t.Fatalf("expected id abc, got %q", resp.ID)
	}
	if resp.Status != 200 {
		t.Fatalf("expected status 200, got %d", resp.Status)
	}
	if string(resp.Body) != "w0:/test" {
		t.Fatalf("unexpected response body: %q", resp.Body)
	}
	if w.RequestCount() != 1 {
		t.Fatalf("expected request count 1, got %d", w.RequestCount())
	}
}

func TestWorkerHandleSequential(t *testing.T) {
	w := newFakeWorker(t, "w0", time.Second)

	for _, path := range []string{"/a", "/b", "/c"} {
		resp, err := w.Handle(context.Background(), &RequestPayload{Method: "GET", Path: path})
		if err != nil {
			t.Fatalf("Handle(%s): %v", path, err)
		}
		if string(resp.Body) != "w0:"+path {
			t.Fatalf("Handle(%s) body = %q", path, resp.Body)
		}
	}
}

func TestWorkerMaxRequestsMarksDead(t *testing.T) {
	w := newFakeWorker(t, "w0", time.Second)
	w.maxRequests = 2

	for i := 0; i < 2; i++ {
		if _, err := w.Handle(context.Background(), &RequestPayload{Path: "/"}); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}

	if !w.isDead() {
		t.Fatalf("expected worker to be marked for recycling after max requests")
	}
}

func TestIsBrokenPipe(t *testing.T) {
	if !isBrokenPipe(io.EOF) {
		t.Fatalf("expected io.EOF to be treated as broken pipe")
	}
	if !isBrokenPipe(errors.New("write |1: broken pipe")) {
		t.Fatalf("expected broken pipe message to be detected")
	}
	if isBrokenPipe(nil) {
		t.Fatalf("nil error should not be broken pipe")
	}
	if isBrokenPipe(errors.New("some other error")) {
		t.Fatalf("unexpected error treated as broken pipe")
	}
}

func TestWorkerTimeoutMarksDead(t *testing.T) {
	// stdout never produces a frame, so the timeout has to fire
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() { _ = stdoutW.Close() })

	w := &Worker{
		stdin:          nopWriteCloser{},
		stdout:         stdoutR,
		maxRequests:    1000,
		requestTimeout: 10 * time.Millisecond,
	}

	_, err := w.Handle(context.Background(), &RequestPayload{ID: "1", Path: "/timeout"})
	if err == nil {
		t.Fatalf("expected timeout error from Handle")
	}
	if !errors.Is(err, ErrWorkerTimeout) {
		t.Fatalf("expected ErrWorkerTimeout, got %v", err)
	}

	var werr *WorkerError
	if !errors.As(err, &werr) || werr.HTTPStatus() != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 WorkerError, got %#v", err)
	}

	if !w.isDead() {
		t.Fatalf("expected worker to be marked dead after timeout")
	}
}

func TestWorkerContextCancel(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	t.Cleanup(func() { _ = stdoutW.Close() })

	w := &Worker{stdin: nopWriteCloser{}, stdout: stdoutR}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Handle(ctx, &RequestPayload{Path: "/"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !w.isDead() {
		t.Fatalf("expected worker to be marked dead after cancellation")
	}
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
