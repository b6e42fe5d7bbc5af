// Package router exposes pipeline runs over HTTP.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

type Runner interface {
	Run(ctx context.Context) *model.Result
}

// Tracker serializes runs and remembers the last outcome for readiness.
type Tracker struct {
	runner Runner

	running sync.Mutex

	mu      sync.RWMutex
	last    model.Status
	lastAt  time.Time
	lastRun string
}

func NewTracker(r Runner) *Tracker { return &Tracker{runner: r} }

// TryRun returns false without running when another run is in progress.
func (t *Tracker) TryRun(ctx context.Context) (*model.Result, bool) {
	if !t.running.TryLock() {
		return nil, false
	}
	defer t.running.Unlock()

	res := t.runner.Run(ctx)
	t.mu.Lock()
	t.last, t.lastAt, t.lastRun = res.Status, time.Now(), res.RunID
	t.mu.Unlock()
	return res, true
}

// LastRun reports the most recent status; ok is false before the first run.
func (t *Tracker) LastRun() (status string, at time.Time, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastRun == "" {
		return "", time.Time{}, false
	}
	return string(t.last), t.lastAt, true
}

// HandleRun runs the pipeline once and writes the result document. An error status is
// answered with 503 so schedulers see the failure.
func HandleRun(logger *slog.Logger, t *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/run", sw.code, time.Since(start).Seconds())
		}()

		res, ok := t.TryRun(r.Context())
		if !ok {
			http.Error(sw, "a run is already in progress", http.StatusConflict)
			return
		}

		sw.Header().Set("Content-Type", "application/json")
		if res.Status == model.StatusError {
			sw.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(sw).Encode(res); err != nil {
			logger.WarnContext(r.Context(), "write run result", "err", err)
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
