package checkpoint

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vivadeck/vivadeck/internal/review"
)

// MemoryStore keeps checkpoint rings in process memory. It is the default
// store for tests and single-process deployments; a restart loses all
// sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	ring     int
	sessions map[string][]Checkpoint // oldest first
}

// Compile-time interface assertion.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a [MemoryStore] keeping ring checkpoints per
// session. A non-positive ring uses [DefaultRingSize].
func NewMemoryStore(ring int) *MemoryStore {
	if ring <= 0 {
		ring = DefaultRingSize
	}
	return &MemoryStore{
		ring:     ring,
		sessions: make(map[string][]Checkpoint),
	}
}

// Save implements [Store].
func (s *MemoryStore) Save(ctx context.Context, state review.State, origin Origin) (string, error) {
	if state.SessionID == "" {
		return "", ErrNoSession
	}

	cp := Checkpoint{
		Metadata: Metadata{
			ID:          uuid.NewString(),
			SessionID:   state.SessionID,
			CreatedAt:   time.Now(),
			Node:        origin.Node,
			Phase:       state.Phase,
			Reason:      origin.Reason,
			Description: origin.Description,
		},
		State: state.Clone(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.sessions[state.SessionID]
	if len(entries) >= s.ring {
		// Shift left in place so the backing array never grows past the ring.
		copy(entries, entries[1:])
		entries = entries[:len(entries)-1]
	}
	s.sessions[state.SessionID] = append(entries, cp)
	return cp.Metadata.ID, nil
}

// Latest implements [Store].
func (s *MemoryStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(entries[len(entries)-1]), nil
}

// ByID implements [Store].
func (s *MemoryStore) ByID(ctx context.Context, sessionID, id string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.sessions[sessionID] {
		if cp.Metadata.ID == id {
			return cloneCheckpoint(cp), nil
		}
	}
	return nil, ErrNotFound
}

// List implements [Store].
func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[sessionID]
	metas := make([]Metadata, len(entries))
	for i, cp := range entries {
		metas[i] = cp.Metadata
	}
	return metas, nil
}

// Clear implements [Store].
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// cloneCheckpoint deep-copies cp so callers cannot reach the stored ring
// entry.
func cloneCheckpoint(cp Checkpoint) *Checkpoint {
	return &Checkpoint{
		Metadata: cp.Metadata,
		State:    cp.State.Clone(),
	}
}
