package server

import (
	"context"
	"fmt"

	"go-appbridge/bridge"
	"go-appbridge/internal/logger"
	"go-appbridge/phpworker"
)

// Resolver builds the application when none was set with SetApplication.
// It runs once, inside Start, after options are decoded.
type Resolver func(ctx context.Context, opts Options) (bridge.Application, error)

// PHPResolver starts a phpworker.Pool from cfg. worker_num, max_request
// and request_timeout fill the matching Config fields when those are
// unset, so each request worker has a PHP process to talk to.
// When watchDirs is non-empty, PHP source changes recycle the workers
// until ctx ends.
func PHPResolver(cfg phpworker.Config, watchDirs []string, onReload func(path string)) Resolver {
	return func(ctx context.Context, opts Options) (bridge.Application, error) {
		if cfg.Workers == 0 {
			cfg.Workers = opts.WorkerNum
		}
		if cfg.MaxRequests == 0 {
			cfg.MaxRequests = opts.MaxRequest
		}
		if cfg.RequestTimeout == 0 {
			cfg.RequestTimeout = opts.RequestTimeout
		}

		pool, err := phpworker.NewPool(cfg)
		if err != nil {
			return nil, fmt.Errorf("start php workers: %w", err)
		}

		if len(watchDirs) > 0 {
			w, err := phpworker.NewWatcher(cfg.BaseDir, watchDirs, pool, onReload)
			if err != nil {
				logger.Warn("hot reload disabled", logger.KeyError, err)
			} else {
				go w.Run(ctx)
			}
		}

		return pool, nil
	}
}
