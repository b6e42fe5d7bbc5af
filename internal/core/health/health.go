// Package health serves liveness and readiness probes.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

func Liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

type RunReporter interface {
	LastRun() (status string, at time.Time, ok bool)
}

// Readiness is 503 only while the most recent run ended in error. Before the first run the
// service counts as ready.
func Readiness(rr RunReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string     `json:"status"`
			LastStatus string     `json:"last_status,omitempty"`
			LastRunAt  *time.Time `json:"last_run_at,omitempty"`
		}
		out := resp{Status: "ready"}
		st, at, ok := rr.LastRun()
		if ok {
			out.LastStatus = st
			out.LastRunAt = &at
			if st == "error" {
				out.Status = "not_ready"
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if out.Status != "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
