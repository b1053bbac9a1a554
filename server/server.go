// Package server hosts a bridge.Application on a persistent HTTP
// listener. A Host owns the listener, a fixed pool of request workers and
// the process record, and moves through an explicit lifecycle:
//
//	Uninitialized -> Initialized -> Running -> ShuttingDown -> Stopped
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go-appbridge/bridge"
	"go-appbridge/internal/lifecycle"
	"go-appbridge/internal/logger"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "8083"
)

var (
	// ErrNoApplication is returned by Start when no application is set
	// and no resolver is configured.
	ErrNoApplication = errors.New("no application to serve")

	// ErrServerStopped is returned by Start on a host that has stopped.
	ErrServerStopped = errors.New("server stopped")

	// ErrAlreadyStarted is returned by a second concurrent Start.
	ErrAlreadyStarted = errors.New("server already started")
)

// ProcessRecorder receives the start and shutdown events.
// lifecycle.Manager is the usual implementation.
type ProcessRecorder interface {
	OnStart(pid int) error
	OnShutdown() error
}

// Host is a persistent server process hosting one application.
type Host struct {
	host string
	port string

	mu         sync.Mutex
	state      State
	starting   bool
	rawOptions map[string]any
	opts       Options
	app        bridge.Application
	ownsApp    bool
	startedAt  time.Time

	resolver Resolver
	recorder ProcessRecorder
	admin    AdminConfig
	metrics  *Metrics
	events   *EventHub
	tracer   trace.Tracer

	listener   net.Listener
	router     chi.Router
	httpServer *http.Server
	pool       *WorkerPool
	cancelRun  context.CancelFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
}

// Option customizes a Host at construction.
type Option func(*Host)

// WithResolver sets how the application is built when none is set.
func WithResolver(r Resolver) Option {
	return func(h *Host) { h.resolver = r }
}

// WithProcessRecorder replaces the default PID file manager.
func WithProcessRecorder(rec ProcessRecorder) Option {
	return func(h *Host) { h.recorder = rec }
}

// WithAdmin mounts the admin routes.
func WithAdmin(cfg AdminConfig) Option {
	return func(h *Host) { h.admin = cfg }
}

// WithMetrics uses m instead of a private collector set.
func WithMetrics(m *Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// New returns an uninitialized host. Empty host or port fall back to
// DefaultHost and DefaultPort.
func New(host, port string, opts ...Option) *Host {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}

	h := &Host{
		host:       host,
		port:       port,
		state:      StateUninitialized,
		rawOptions: map[string]any{},
		opts:       DefaultOptions(),
		events:     NewEventHub(),
		tracer:     otel.Tracer("go-appbridge/server"),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.recorder == nil {
		h.recorder = lifecycle.NewManager("")
	}
	if h.metrics == nil {
		h.metrics = NewMetrics(nil)
	}
	return h
}

// -------------------------------------------------------------
// Accessors
// -------------------------------------------------------------

// State returns the current lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Addr returns the bound address, or nil before Initialize.
func (h *Host) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Options returns the options in effect. Before Start they are the
// defaults.
func (h *Host) Options() Options {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opts
}

// Events returns the lifecycle event hub.
func (h *Host) Events() *EventHub { return h.events }

// Metrics returns the host collectors.
func (h *Host) Metrics() *Metrics { return h.metrics }

// Application returns the application, or nil before it is set or
// resolved.
func (h *Host) Application() bridge.Application {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.app
}

// SetApplication sets the application to serve. It is ignored once the
// host is running.
func (h *Host) SetApplication(app bridge.Application) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state >= StateRunning || h.starting {
		logger.Warn("ignoring SetApplication on a started server", logger.KeyState, h.state.String())
		return h
	}
	h.app = app
	h.ownsApp = false
	return h
}

// Configure merges options into the option map applied at Start. Calls
// after Start are ignored.
func (h *Host) Configure(options map[string]any) *Host {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state >= StateRunning || h.starting {
		logger.Warn("ignoring Configure on a started server", logger.KeyState, h.state.String())
		return h
	}
	maps.Copy(h.rawOptions, options)
	return h
}

// must hold h.mu
func (h *Host) setState(s State) {
	if h.state == s {
		return
	}
	prev := h.state
	h.state = s
	logger.Debug("server state changed", "from", prev.String(), logger.KeyState, s.String())
	h.events.Publish(EventStateChanged, map[string]string{"from": prev.String(), "to": s.String()})
}

// -------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------

// Initialize binds the listener and builds the router. It only acts on
// an uninitialized host; later calls return nil and change nothing.
func (h *Host) Initialize() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != StateUninitialized {
		return nil
	}

	addr := net.JoinHostPort(h.host, h.port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	h.listener = ln
	h.router = h.buildRouter()
	h.setState(StateInitialized)

	logger.Debug("listener bound", logger.KeyAddr, ln.Addr().String())
	return nil
}

func (h *Host) buildRouter() chi.Router {
	r := chi.NewRouter()
	if h.admin.Enabled {
		r.Route(AdminPrefix, h.mountAdmin)
	}
	r.Handle("/*", http.HandlerFunc(h.handleApp))
	return r
}

// Start serves until ctx is done or Stop is called. It initializes the
// host if needed, decodes options, resolves the application, fires the
// start event and, on the way out, the shutdown event.
func (h *Host) Start(ctx context.Context) error {
	if err := h.Initialize(); err != nil {
		return err
	}

	h.mu.Lock()
	switch {
	case h.state >= StateShuttingDown:
		h.mu.Unlock()
		return ErrServerStopped
	case h.state == StateRunning, h.starting:
		h.mu.Unlock()
		return ErrAlreadyStarted
	}
	h.starting = true
	raw := maps.Clone(h.rawOptions)
	app := h.app
	runCtx, cancelRun := context.WithCancel(ctx)
	h.cancelRun = cancelRun
	h.mu.Unlock()

	opts, err := DecodeOptions(raw)
	if err != nil {
		return h.abort(err)
	}
	for key := range opts.Extra {
		logger.Debug("unknown server option", "option", key)
	}

	ownsApp := false
	if app == nil {
		if h.resolver == nil {
			return h.abort(ErrNoApplication)
		}
		app, err = h.resolver(runCtx, opts)
		if err != nil {
			return h.abort(fmt.Errorf("resolve application: %w", err))
		}
		if app == nil {
			return h.abort(ErrNoApplication)
		}
		ownsApp = true
	}

	pool := NewPool(opts.WorkerNum)
	srv := &http.Server{
		Handler:        h.router,
		ReadTimeout:    opts.ReadTimeout,
		WriteTimeout:   opts.WriteTimeout,
		IdleTimeout:    opts.IdleTimeout,
		MaxHeaderBytes: opts.MaxHeaderBytes,
	}

	h.mu.Lock()
	h.opts = opts
	h.app = app
	h.ownsApp = ownsApp
	h.pool = pool
	h.httpServer = srv
	h.mu.Unlock()

	pid := os.Getpid()
	if err := h.recorder.OnStart(pid); err != nil {
		pool.Stop()
		h.closeApp()
		return h.abort(fmt.Errorf("start event: %w", err))
	}

	h.mu.Lock()
	h.starting = false
	h.startedAt = time.Now()
	h.setState(StateRunning)
	ln := h.listener
	h.mu.Unlock()

	logger.Info("Server started",
		logger.KeyAddr, ln.Addr().String(),
		logger.KeyPID, pid,
		"workers", opts.WorkerNum,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested", "reason", context.Cause(ctx).Error())
	case <-h.stopCh:
		logger.Info("Shutdown requested", "reason", "stop")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}

	h.shutdown(opts.ShutdownTimeout)
	return runErr
}

// abort unwinds a Start that failed before serving.
func (h *Host) abort(err error) error {
	h.mu.Lock()
	h.starting = false
	if h.listener != nil {
		_ = h.listener.Close()
	}
	if h.cancelRun != nil {
		h.cancelRun()
	}
	h.setState(StateStopped)
	h.mu.Unlock()

	h.finish()
	logger.Error("Server failed to start", logger.KeyError, err)
	return err
}

func (h *Host) shutdown(timeout time.Duration) {
	h.mu.Lock()
	h.setState(StateShuttingDown)
	srv := h.httpServer
	pool := h.pool
	cancelRun := h.cancelRun
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown incomplete, closing connections", logger.KeyError, err)
		_ = srv.Close()
	}
	pool.Stop()
	cancelRun()
	h.closeApp()

	if err := h.recorder.OnShutdown(); err != nil {
		logger.Warn("shutdown event failed", logger.KeyError, err)
	}

	h.mu.Lock()
	h.setState(StateStopped)
	h.mu.Unlock()

	h.finish()
	logger.Info("Server stopped")
}

// closeApp closes a resolved application that holds resources.
func (h *Host) closeApp() {
	h.mu.Lock()
	app, owns := h.app, h.ownsApp
	h.mu.Unlock()

	if !owns {
		return
	}
	if c, ok := app.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("closing application", logger.KeyError, err)
		}
	}
}

func (h *Host) finish() {
	h.doneOnce.Do(func() { close(h.done) })
}

// Stop begins a graceful shutdown and waits for it to finish or for ctx
// to end. Stopping a host that never started releases its listener.
func (h *Host) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.state < StateRunning && !h.starting {
		if h.listener != nil {
			_ = h.listener.Close()
		}
		h.setState(StateStopped)
		h.mu.Unlock()
		h.finish()
		return nil
	}
	h.mu.Unlock()

	h.stopOnce.Do(func() { close(h.stopCh) })

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the host has stopped.
func (h *Host) Done() <-chan struct{} { return h.done }

// -------------------------------------------------------------
// Request path
// -------------------------------------------------------------

func (h *Host) handleApp(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.metrics.inFlight.Inc()
	defer h.metrics.inFlight.Dec()

	h.mu.Lock()
	opts := h.opts
	pool := h.pool
	h.mu.Unlock()

	if pool == nil {
		h.metrics.rejected.WithLabelValues("stopping").Inc()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	if limit := opts.PackageMaxLength; limit > 0 {
		if r.ContentLength > limit {
			h.metrics.rejected.WithLabelValues("too_large").Inc()
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		// Chunked bodies carry no length, so read them here where the
		// overflow can still become a 413.
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.rejected.WithLabelValues("too_large").Inc()
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		if err != nil {
			h.metrics.rejected.WithLabelValues("bad_body").Inc()
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		r.ContentLength = int64(len(raw))
	}

	ran := pool.Submit(func(worker int) {
		h.metrics.busyWorkers.Inc()
		defer h.metrics.busyWorkers.Dec()
		h.serveOnWorker(w, r, worker, opts, start)
	})
	if !ran {
		h.metrics.rejected.WithLabelValues("stopping").Inc()
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}

// serveOnWorker adapts, dispatches and writes one request. Nothing that
// goes wrong here may take the worker down.
func (h *Host) serveOnWorker(w http.ResponseWriter, r *http.Request, worker int, opts Options, start time.Time) {
	defer func() {
		if v := recover(); v != nil {
			logger.Error("panic while writing response", logger.KeyWorker, worker, logger.KeyError, fmt.Sprint(v))
		}
	}()

	req := bridge.AdaptRequest(r)
	ctx := logger.WithRequestID(r.Context(), req.ID())
	if opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
		defer cancel()
	}

	resp := h.dispatch(ctx, req, worker)

	rw := bridge.NewHTTPResponseWriter(w)
	if err := bridge.AdaptResponse(rw, resp); err != nil {
		logger.Warn("writing response failed", logger.KeyRequestID, req.ID(), logger.KeyError, err)
	}

	elapsed := time.Since(start)
	h.metrics.observe(req.Method(), rw.StatusCode(), elapsed)
	logger.DebugCtx(ctx, "request served",
		logger.KeyMethod, req.Method(),
		logger.KeyPath, req.Path(),
		logger.KeyStatus, rw.StatusCode(),
		logger.KeyDuration, float64(elapsed.Microseconds())/1000,
		logger.KeyWorker, worker,
	)
}

// dispatch calls the application inside the error boundary. It always
// returns a response.
func (h *Host) dispatch(ctx context.Context, req *bridge.Request, worker int) *bridge.Response {
	ctx, span := h.tracer.Start(ctx, "appbridge.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method()),
			attribute.String("url.path", req.Path()),
			attribute.String("appbridge.request_id", req.ID()),
			attribute.Int("appbridge.worker", worker),
		),
	)
	defer span.End()

	h.mu.Lock()
	app := h.app
	h.mu.Unlock()

	resp, err := safeDispatch(ctx, app, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.dispatchErrors.WithLabelValues(failureKind(err)).Inc()

		args := []any{
			logger.KeyMethod, req.Method(),
			logger.KeyPath, req.Path(),
			logger.KeyWorker, worker,
			logger.KeyError, err,
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			args = append(args, "stack", string(pe.Stack))
		}
		logger.ErrorCtx(ctx, "application failed", args...)

		resp = errorResponse(err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	return resp
}
