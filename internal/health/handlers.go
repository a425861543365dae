package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/toko-tax/internal/common"
)

// Probe checks one dependency. A nil Probe marks the dependency as not
// configured, which is reported but does not fail readiness.
type Probe func(ctx context.Context) error

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady flips the process readiness flag, typically to false on shutdown.
func SetReady(v bool) { ready.Store(v) }

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	DB      Probe
	Redis   Probe
	Timeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{
		"db":    h.run(r.Context(), h.DB),
		"redis": h.run(r.Context(), h.Redis),
	}
	code := http.StatusOK
	if !ready.Load() {
		status["process"] = "shutting_down"
		code = http.StatusServiceUnavailable
	}
	for _, v := range status {
		if v != "ok" && v != "disabled" && v != "shutting_down" {
			code = http.StatusServiceUnavailable
		}
	}
	common.JSON(w, code, status)
}

func (h Handler) run(ctx context.Context, probe Probe) string {
	if probe == nil {
		return "disabled"
	}
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := probe(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}
