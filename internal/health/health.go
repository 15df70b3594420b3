// Package health exposes liveness and readiness probes for the analysis
// service.
//
//   - /healthz answers 200 whenever the process can serve HTTP. It says
//     nothing about dependencies, so restart loops key off it safely.
//   - /readyz answers 200 only while every registered [Checker] passes —
//     typically the postgres session store. Load balancers use it to drain
//     a node whose database connection is gone without killing analyses
//     already in flight.
//
// Both endpoints return a JSON body with a "status" of "ok" or "fail" and,
// for readiness, a per-dependency "checks" map so an operator can see which
// dependency took the node out of rotation.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single dependency probe. A hung postgres ping must
// not hold the readiness response hostage.
const checkTimeout = 5 * time.Second

// Checker probes one dependency of the service. Check returns nil while the
// dependency can serve analysis traffic. The name becomes a key in the
// /readyz response, e.g. "postgres".
type Checker struct {
	Name string

	// Check must respect context cancellation; it is called with a
	// [checkTimeout] deadline.
	Check func(ctx context.Context) error
}

// result is the wire shape of both probe responses.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction, which keeps it safe for concurrent requests without locking.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given dependency checkers. Checkers run
// sequentially in registration order on every /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. It always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker and reports 200 only when all of them pass.
// Failures answer 503 with the failing dependencies named in the body.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	writeJSON(w, status, res)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, degrading to a plain 500
// if encoding itself fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
