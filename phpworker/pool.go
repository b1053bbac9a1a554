// Package phpworker hosts a PHP application as a pool of long-lived
// worker processes. The pool implements bridge.Application, so the server
// host can dispatch canonical requests to it directly.
package phpworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"go-appbridge/bridge"
)

// Config describes how worker processes are started.
type Config struct {
	Binary         string        // PHP executable, default "php"
	Script         string        // worker script, relative to BaseDir
	BaseDir        string        // working directory of the workers
	Workers        int           // number of processes
	MaxRequests    int           // recycle a process after this many requests, 0 = never
	RequestTimeout time.Duration // kill a process that takes longer, 0 = no limit
	UploadDir      string        // where uploads are spooled, default os.TempDir()
	Env            []string      // extra KEY=VALUE entries
}

// DefaultScript is the worker entry point looked up under BaseDir.
const DefaultScript = "bootstrap/worker.php"

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "php"
	}
	if c.Script == "" {
		c.Script = DefaultScript
	}
	if c.BaseDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.BaseDir = wd
		}
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.UploadDir == "" {
		c.UploadDir = os.TempDir()
	}
}

// ErrPoolClosed is returned by Dispatch after Close.
var ErrPoolClosed = errors.New("php worker pool closed")

// Pool dispatches requests round-robin over its workers.
type Pool struct {
	workers   []*Worker
	next      uint32
	uploadDir string
	closed    atomic.Bool
}

// PoolStats summarizes worker health.
type PoolStats struct {
	Workers     int    `json:"workers"`
	DeadWorkers int    `json:"dead_workers"`
	Requests    uint64 `json:"requests"`
}

// NewPool starts cfg.Workers processes. If any fails to start, the ones
// already running are stopped.
func NewPool(cfg Config) (*Pool, error) {
	cfg.applyDefaults()

	workers := make([]*Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		w, err := NewWorker(i, cfg)
		if err != nil {
			for _, started := range workers {
				_ = started.Close()
			}
			return nil, fmt.Errorf("start worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	return &Pool{workers: workers, uploadDir: cfg.UploadDir}, nil
}

// Dispatch implements bridge.Application.
func (p *Pool) Dispatch(ctx context.Context, req *bridge.Request) (*bridge.Response, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	payload, cleanup := BuildPayload(req, p.uploadDir)
	defer cleanup()

	i := atomic.AddUint32(&p.next, 1)
	w := p.workers[i%uint32(len(p.workers))]

	resp, err := w.Handle(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("php worker %d: %w", w.id, err)
	}
	return resp.ToResponse(), nil
}

// Stats reports worker counts.
func (p *Pool) Stats() PoolStats {
	stats := PoolStats{}
	if p == nil {
		return stats
	}

	stats.Workers = len(p.workers)
	for _, w := range p.workers {
		if w.isDead() {
			stats.DeadWorkers++
		}
		stats.Requests += w.RequestCount()
	}
	return stats
}

// Recycle marks every worker dead; each respawns on its next request.
func (p *Pool) Recycle() {
	for _, w := range p.workers {
		w.markDead()
	}
}

// Close stops all workers.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, w := range p.workers {
		_ = w.Close()
	}
	return nil
}
