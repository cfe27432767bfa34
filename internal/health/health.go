// Package health exposes the probe endpoints that gate whether this process
// may host a review session.
//
//   - /healthz — liveness; 200 whenever the process can serve HTTP.
//   - /readyz  — readiness; 200 only once every session dependency
//     (postgres chunk store, checkpoint backend, ...) answers its probe.
//
// An unready instance must not accept a room join or a session resume: a
// session started against a dead checkpoint backend cannot be recovered
// after a disconnect.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
)

// probeTimeout bounds each dependency probe. Readiness is polled by
// schedulers on short intervals, so a hung dependency must fail fast rather
// than stall the whole endpoint.
const probeTimeout = 5 * time.Second

// probeSessionID is the sentinel session used to exercise the checkpoint
// backend's read path. No real session ever carries this ID, so ErrNotFound
// is the healthy answer.
const probeSessionID = "_readyz"

// Checker probes one dependency of the review pipeline. Check returns nil
// when the dependency can serve a session and a descriptive error otherwise.
type Checker struct {
	// Name labels the probe in the /readyz body, e.g. "postgres" or
	// "checkpoints".
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

// CheckpointChecker probes the checkpoint backend by reading the latest
// checkpoint of a sentinel session. A clean miss means the backend is
// reachable; anything else is a failure that would also break resume.
func CheckpointChecker(store checkpoint.Store) Checker {
	return Checker{
		Name: "checkpoints",
		Check: func(ctx context.Context) error {
			_, err := store.Latest(ctx, probeSessionID)
			if err == nil || errors.Is(err, checkpoint.ErrNotFound) {
				return nil
			}
			return err
		},
	}
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New builds a Handler over the given dependency probes.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz reports liveness. It never consults the checkers: a process that
// can still serve HTTP is alive even while a dependency is down.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every dependency probe concurrently and reports 200 only when
// all of them pass. Each probe gets its own probeTimeout so one slow
// dependency cannot mask the state of the others.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checkers))

	g, gctx := errgroup.WithContext(r.Context())
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(gctx, probeTimeout)
			defer cancel()
			outcomes[i] = c.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	res := report{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK
	for i, c := range h.checkers {
		if err := outcomes[i]; err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
