// Package checkpoint persists review session snapshots so a dropped
// connection or process restart resumes a session instead of losing it.
//
// Each session keeps a bounded ring of checkpoints (default 10); saving
// into a full ring evicts the oldest entry. Snapshots are deep copies in
// both directions: the state handed to Save and the state handed back by
// Latest or ByID share no mutable storage with the caller.
//
// Two implementations are provided: [MemoryStore] for tests and
// single-process deployments, and [RedisStore] for deployments where the
// orchestrator may restart or move hosts mid-session.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/vivadeck/vivadeck/internal/review"
)

// DefaultRingSize is how many checkpoints a session retains.
const DefaultRingSize = 10

var (
	// ErrNotFound is returned when the requested checkpoint does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrNoSession is returned by Save when the state carries no session ID.
	ErrNoSession = errors.New("state carries no session id")
)

// Reason classifies what triggered a checkpoint.
type Reason string

const (
	// ReasonPhaseTransition marks a save on entering a new phase.
	ReasonPhaseTransition Reason = "phase_transition"

	// ReasonBeforeQuestion marks a save before a question is asked.
	ReasonBeforeQuestion Reason = "before_question"

	// ReasonAfterEvaluation marks a save after an answer was scored.
	ReasonAfterEvaluation Reason = "after_evaluation"

	// ReasonEmergencyPause marks a save when the session pauses on a fatal
	// error.
	ReasonEmergencyPause Reason = "emergency_pause"

	// ReasonConnectionLost marks a save when the room connection dropped.
	ReasonConnectionLost Reason = "connection_lost"

	// ReasonPeriodic marks a save by the interval runner.
	ReasonPeriodic Reason = "periodic"

	// ReasonManual marks an operator-requested save.
	ReasonManual Reason = "manual"
)

// IsValid reports whether r is a recognised reason.
func (r Reason) IsValid() bool {
	switch r {
	case ReasonPhaseTransition, ReasonBeforeQuestion, ReasonAfterEvaluation,
		ReasonEmergencyPause, ReasonConnectionLost, ReasonPeriodic, ReasonManual:
		return true
	}
	return false
}

// Origin records where in the workflow a checkpoint was taken and why.
// The store fills in everything else.
type Origin struct {
	// Node is the workflow node active when the save happened.
	Node string

	// Reason classifies the trigger.
	Reason Reason

	// Description is optional free text, e.g. "before asking q-3".
	Description string
}

// Metadata describes one stored checkpoint without its snapshot.
type Metadata struct {
	// ID uniquely identifies the checkpoint within its session.
	ID string `json:"id"`

	// SessionID is the session the checkpoint belongs to.
	SessionID string `json:"session_id"`

	// CreatedAt is when the checkpoint was saved.
	CreatedAt time.Time `json:"created_at"`

	// Node is the workflow node active at save time.
	Node string `json:"node,omitempty"`

	// Phase is the session phase at save time, taken from the snapshot.
	Phase review.Phase `json:"phase"`

	// Reason classifies the trigger.
	Reason Reason `json:"reason"`

	// Description is optional free text from the saver.
	Description string `json:"description,omitempty"`
}

// Checkpoint pairs a snapshot with its metadata.
type Checkpoint struct {
	Metadata Metadata     `json:"metadata"`
	State    review.State `json:"state"`
}

// Store is the checkpoint persistence contract. Implementations must be
// safe for concurrent use.
type Store interface {
	// Save appends a checkpoint for state.SessionID, evicting the oldest
	// entry when the ring is full, and returns the new checkpoint's ID.
	Save(ctx context.Context, state review.State, origin Origin) (string, error)

	// Latest returns the most recent checkpoint, or ErrNotFound when the
	// session has none.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// ByID returns one checkpoint, or ErrNotFound.
	ByID(ctx context.Context, sessionID, id string) (*Checkpoint, error)

	// List returns metadata for the session's checkpoints, oldest first.
	List(ctx context.Context, sessionID string) ([]Metadata, error)

	// Clear drops every checkpoint the session has.
	Clear(ctx context.Context, sessionID string) error
}
