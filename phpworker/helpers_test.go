package phpworker

import (
	"io"
	"testing"
	"time"
)

// newFakeWorker returns a Worker whose stdin/stdout are in-memory pipes.
// The goroutine reads a RequestPayload and answers with a body of
// label + ":" + req.Path, so you can tell which worker handled it.
func newFakeWorker(t *testing.T, label string, timeout time.Duration) *Worker {
	t.Helper()

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	w := &Worker{
		stdin:          stdinW,
		stdout:         stdoutR,
		maxRequests:    1000,
		requestTimeout: timeout,
	}

	// fake PHP worker loop
	go func() {
		defer stdinR.Close()
		defer stdoutW.Close()

		for {
			var req RequestPayload
			if err := readFrame(stdinR, &req); err != nil {
				return
			}

			resp := ResponsePayload{
				ID:     req.ID,
				Status: 200,
				Headers: []HeaderPayload{
					{Name: "X-Worker", Values: []string{label}},
				},
				Cookies: []CookiePayload{
					{Name: "seen", Value: req.Cookies["seen"] + "+", Path: "/"},
				},
				Body: []byte(label + ":" + req.Path),
			}

			if err := writeFrame(stdoutW, &resp); err != nil {
				return
			}
		}
	}()

	t.Cleanup(func() { _ = w.Close() })
	return w
}

// newFakePool builds a Pool with n fake workers labeled w0, w1, ...
func newFakePool(t *testing.T, n int, timeout time.Duration) *Pool {
	t.Helper()
	workers := make([]*Worker, 0, n)
	for i := 0; i < n; i++ {
		w := newFakeWorker(t, "w"+string(rune('0'+i)), timeout)
		w.id = i
		workers = append(workers, w)
	}

	return &Pool{workers: workers, uploadDir: t.TempDir()}
}
