package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivadeck/vivadeck/internal/review"
)

// DefaultPeriodicInterval is the default period between timed checkpoints.
const DefaultPeriodicInterval = 60 * time.Second

// SnapshotFunc returns the live session state and the workflow node it is
// currently at. The orchestrator supplies this; it is called once per tick.
type SnapshotFunc func() (review.State, string)

// Periodic saves a session checkpoint on a fixed interval. It is started
// when the session connects and stopped on termination; in between it keeps
// a recent restart point even when the workflow sits in a long phase such
// as QUESTIONING.
type Periodic struct {
	store    Store
	snap     SnapshotFunc
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewPeriodic creates a [Periodic] saving to store every interval. A
// non-positive interval uses [DefaultPeriodicInterval].
func NewPeriodic(store Store, snap SnapshotFunc, interval time.Duration) *Periodic {
	if interval <= 0 {
		interval = DefaultPeriodicInterval
	}
	return &Periodic{
		store:    store,
		snap:     snap,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins periodic saving in a background goroutine. The goroutine
// runs until [Periodic.Stop] is called or ctx is cancelled.
func (p *Periodic) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop halts the save loop. Safe to call multiple times.
func (p *Periodic) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// SaveNow performs an immediate periodic-reason save.
func (p *Periodic) SaveNow(ctx context.Context) error {
	state, node := p.snap()
	_, err := p.store.Save(ctx, state, Origin{Node: node, Reason: ReasonPeriodic})
	if err != nil {
		return fmt.Errorf("periodic checkpoint: %w", err)
	}
	return nil
}

// loop runs the save ticker.
func (p *Periodic) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.SaveNow(ctx); err != nil {
				slog.Warn("periodic checkpoint failed", "error", err)
			}
		}
	}
}
