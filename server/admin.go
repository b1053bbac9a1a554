package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"go-appbridge/internal/logger"
	"go-appbridge/phpworker"
)

// AdminPrefix is where the admin routes are mounted.
const AdminPrefix = "/__appbridge"

// AdminConfig enables the admin routes. With JWTSecret set, /recycle and
// /events need an HS256 bearer token signed with it; /health and /metrics
// stay open for load balancers and scrapers.
type AdminConfig struct {
	Enabled   bool
	JWTSecret string
}

type statsReporter interface {
	Stats() phpworker.PoolStats
}

type recycler interface {
	Recycle()
}

// Health is the body of GET /__appbridge/health.
type Health struct {
	State         string               `json:"state" yaml:"state"`
	PID           int                  `json:"pid" yaml:"pid"`
	UptimeSeconds float64              `json:"uptime_seconds" yaml:"uptime_seconds"`
	Workers       int                  `json:"workers" yaml:"workers"`
	BusyWorkers   int                  `json:"busy_workers" yaml:"busy_workers"`
	Pool          *phpworker.PoolStats `json:"pool,omitempty" yaml:"pool,omitempty"`
}

func (h *Host) mountAdmin(r chi.Router) {
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/health", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	r.With(h.requireToken).Method(http.MethodGet, "/events", h.events)
	r.With(h.requireToken).Post("/recycle", h.handleRecycle)
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	health := Health{
		State: h.state.String(),
		PID:   os.Getpid(),
	}
	if !h.startedAt.IsZero() {
		health.UptimeSeconds = time.Since(h.startedAt).Seconds()
	}
	pool := h.pool
	app := h.app
	h.mu.Unlock()

	if pool != nil {
		health.Workers = pool.Size()
		health.BusyWorkers = pool.Busy()
	}
	if sr, ok := app.(statsReporter); ok {
		stats := sr.Stats()
		health.Pool = &stats
	}

	writeJSON(w, http.StatusOK, health)
}

func (h *Host) handleRecycle(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	app := h.app
	h.mu.Unlock()

	rc, ok := app.(recycler)
	if !ok {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "application cannot recycle workers"})
		return
	}

	rc.Recycle()
	logger.Info("Workers recycled via admin route", "remote", r.RemoteAddr)
	h.events.Publish(EventRecycle, map[string]string{"source": "admin"})

	writeJSON(w, http.StatusAccepted, map[string]bool{"recycled": true})
}

// requireToken checks the bearer token when a secret is configured.
func (h *Host) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.admin.JWTSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		if err := verifyBearer(r, []byte(h.admin.JWTSecret)); err != nil {
			logger.Warn("admin request rejected", "remote", r.RemoteAddr, logger.KeyError, err)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNoBearer = errors.New("missing bearer token")

func verifyBearer(r *http.Request, secret []byte) error {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return errNoBearer
	}
	tokenStr := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
