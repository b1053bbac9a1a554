package phpworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-appbridge/internal/logger"
)

// WorkerError carries the HTTP status a worker failure maps to.
type WorkerError struct {
	Status int
	Err    error
}

func (e *WorkerError) Error() string   { return e.Err.Error() }
func (e *WorkerError) Unwrap() error   { return e.Err }
func (e *WorkerError) HTTPStatus() int { return e.Status }

// ErrWorkerTimeout is wrapped by errors returned when a worker does not
// answer within the request timeout.
var ErrWorkerTimeout = errors.New("worker request timeout")

// Worker is one long-lived PHP process speaking length-prefixed JSON on
// stdin/stdout. It serves one request at a time.
type Worker struct {
	id             int
	cfg            Config
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	mu             sync.Mutex
	dead           bool
	deadMu         sync.RWMutex
	maxRequests    int
	requestTimeout time.Duration
	requestCount   uint64
}

// NewWorker starts the PHP process described by cfg.
func NewWorker(id int, cfg Config) (*Worker, error) {
	w := &Worker{
		id:             id,
		cfg:            cfg,
		maxRequests:    cfg.MaxRequests,
		requestTimeout: cfg.RequestTimeout,
	}

	if err := w.spawn(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Worker) spawn() error {
	script := w.cfg.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(w.cfg.BaseDir, script)
	}

	cmd := exec.Command(w.cfg.Binary, script)
	cmd.Dir = w.cfg.BaseDir
	cmd.Env = append(os.Environ(), w.cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return err
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("start php worker %s: %w", script, err)
	}

	w.cmd = cmd
	w.stdin = stdin
	w.stdout = stdout
	return nil
}

func (w *Worker) isDead() bool {
	w.deadMu.RLock()
	defer w.deadMu.RUnlock()
	return w.dead
}

func (w *Worker) markDead() {
	w.deadMu.Lock()
	w.dead = true
	w.deadMu.Unlock()
}

func (w *Worker) kill() {
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
		_, _ = w.cmd.Process.Wait()
	}
}

func (w *Worker) restart() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.stdout != nil {
		_ = w.stdout.Close()
	}
	w.kill()

	if err := w.spawn(); err != nil {
		return err
	}

	w.deadMu.Lock()
	w.dead = false
	w.deadMu.Unlock()

	atomic.StoreUint64(&w.requestCount, 0)

	logger.Info("Restarted PHP worker", logger.KeyWorker, w.id, "dir", w.cfg.BaseDir)
	return nil
}

// Handle sends payload and waits for the answer. A broken pipe marks the
// worker dead and the request is retried once on a fresh process.
func (w *Worker) Handle(ctx context.Context, payload *RequestPayload) (*ResponsePayload, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if w.isDead() {
			if err := w.restart(); err != nil {
				return nil, &WorkerError{Status: http.StatusBadGateway, Err: err}
			}
		}

		resp, err := w.handleRequest(ctx, payload)
		if err != nil {
			w.markDead()
			if isBrokenPipe(err) {
				continue
			}
			return nil, err
		}

		// recycle after maxRequests
		n := atomic.AddUint64(&w.requestCount, 1)
		if w.maxRequests > 0 && int(n) >= w.maxRequests {
			w.markDead()
		}

		return resp, nil
	}

	return nil, &WorkerError{Status: http.StatusBadGateway, Err: io.ErrUnexpectedEOF}
}

func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "file already closed")
}

func (w *Worker) handleRequest(ctx context.Context, payload *RequestPayload) (*ResponsePayload, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := writeFrame(w.stdin, payload); err != nil {
		return nil, err
	}

	type result struct {
		resp *ResponsePayload
		err  error
	}

	resCh := make(chan result, 1)
	go func() {
		var resp ResponsePayload
		if err := readFrame(w.stdout, &resp); err != nil {
			resCh <- result{nil, err}
			return
		}
		resCh <- result{&resp, nil}
	}()

	var timeout <-chan time.Time
	if w.requestTimeout > 0 {
		timer := time.NewTimer(w.requestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-resCh:
		return res.resp, res.err
	case <-timeout:
		// kill and mark dead so the next request gets a fresh process
		w.markDead()
		w.kill()
		return nil, &WorkerError{
			Status: http.StatusGatewayTimeout,
			Err:    fmt.Errorf("%w after %s", ErrWorkerTimeout, w.requestTimeout),
		}
	case <-ctx.Done():
		w.markDead()
		w.kill()
		return nil, &WorkerError{Status: http.StatusGatewayTimeout, Err: ctx.Err()}
	}
}

// RequestCount returns requests served since the last (re)start.
func (w *Worker) RequestCount() uint64 {
	return atomic.LoadUint64(&w.requestCount)
}

// Close stops the process.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.markDead()
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	w.kill()
	return nil
}
