package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness. The API flips it off when shutdown begins so
// load balancers drain traffic before the listener closes.
func SetReady(v bool) { ready.Store(v) }

// ErrDisabled may be returned by a probe whose dependency is intentionally
// not configured. It is reported as "disabled" and never fails readiness.
var ErrDisabled = disabledError{}

type disabledError struct{}

func (disabledError) Error() string { return "disabled" }

// Probe checks a single dependency. Non-critical probes are reported but do
// not fail readiness.
type Probe struct {
	Name     string
	Check    func(ctx context.Context) error
	Timeout  time.Duration
	Critical bool
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes []Probe
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	healthy := ready.Load()
	if !healthy {
		status["status"] = "shutting_down"
	}
	for _, probe := range h.Probes {
		result := runProbe(r.Context(), probe)
		status[probe.Name] = result
		if probe.Critical && result != "ok" && result != ErrDisabled.Error() {
			healthy = false
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func runProbe(ctx context.Context, probe Probe) string {
	if probe.Check == nil {
		return ErrDisabled.Error()
	}
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := probe.Check(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
