package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vivadeck/vivadeck/internal/review"
)

// defaultKeyPrefix namespaces checkpoint keys in a shared Redis.
const defaultKeyPrefix = "vivadeck"

// RedisStore keeps each session's checkpoint ring in a Redis list, so a
// restarted orchestrator can resume sessions saved by its predecessor.
// The ring is enforced with RPUSH + LTRIM in one pipeline.
type RedisStore struct {
	client *redis.Client
	ring   int
	prefix string
	ttl    time.Duration
}

// Compile-time interface assertion.
var _ Store = (*RedisStore)(nil)

// RedisOption configures a [RedisStore].
type RedisOption func(*RedisStore)

// WithRing sets how many checkpoints a session retains. Defaults to
// [DefaultRingSize].
func WithRing(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.ring = n
		}
	}
}

// WithPrefix sets the key prefix. Defaults to "vivadeck".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTTL expires a session's ring this long after its last save. Zero, the
// default, keeps rings until Clear.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// NewRedisStore creates a [RedisStore] on client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ring:   DefaultRingSize,
		prefix: defaultKeyPrefix,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// key returns the Redis list key holding sessionID's ring.
func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%s:checkpoints:%s", s.prefix, sessionID)
}

// Save implements [Store].
func (s *RedisStore) Save(ctx context.Context, state review.State, origin Origin) (string, error) {
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
		State: state,
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("redis checkpoint store: marshal: %w", err)
	}

	key := s.key(state.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, int64(-s.ring), -1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("redis checkpoint store: save: %w", err)
	}
	return cp.Metadata.ID, nil
}

// Latest implements [Store].
func (s *RedisStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	data, err := s.client.LIndex(ctx, s.key(sessionID), -1).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis checkpoint store: latest: %w", err)
	}
	return decodeCheckpoint(data)
}

// ByID implements [Store].
func (s *RedisStore) ByID(ctx context.Context, sessionID, id string) (*Checkpoint, error) {
	entries, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis checkpoint store: by id: %w", err)
	}
	for _, raw := range entries {
		cp, err := decodeCheckpoint([]byte(raw))
		if err != nil {
			return nil, err
		}
		if cp.Metadata.ID == id {
			return cp, nil
		}
	}
	return nil, ErrNotFound
}

// List implements [Store].
func (s *RedisStore) List(ctx context.Context, sessionID string) ([]Metadata, error) {
	entries, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis checkpoint store: list: %w", err)
	}
	metas := make([]Metadata, 0, len(entries))
	for _, raw := range entries {
		cp, err := decodeCheckpoint([]byte(raw))
		if err != nil {
			return nil, err
		}
		metas = append(metas, cp.Metadata)
	}
	return metas, nil
}

// Clear implements [Store].
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis checkpoint store: clear: %w", err)
	}
	return nil
}

// decodeCheckpoint unmarshals one ring entry. Serialization already yields
// an independent value, so no further copying is needed.
func decodeCheckpoint(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("redis checkpoint store: unmarshal: %w", err)
	}
	return &cp, nil
}
