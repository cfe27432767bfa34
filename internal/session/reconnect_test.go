package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/pkg/room"
	roommock "github.com/vivadeck/vivadeck/pkg/room/mock"
)

func TestReconnector_Connect(t *testing.T) {
	t.Run("successful initial join", func(t *testing.T) {
		conn := &roommock.Conn{}
		gateway := &roommock.Room{JoinResult: conn}

		r := NewReconnector(ReconnectorConfig{
			Gateway:  gateway,
			RoomName: "room-1",
		})

		got, err := r.Connect(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != conn {
			t.Error("expected returned connection to match mock")
		}
		if r.Connection() != conn {
			t.Error("expected stored connection to match mock")
		}

		if len(gateway.JoinCalls) != 1 {
			t.Errorf("expected 1 join call, got %d", len(gateway.JoinCalls))
		}
		if gateway.JoinCalls[0].RoomName != "room-1" {
			t.Errorf("expected room-1, got %s", gateway.JoinCalls[0].RoomName)
		}
	})

	t.Run("join failure", func(t *testing.T) {
		gateway := &roommock.Room{
			JoinError: errors.New("auth failed"),
		}

		r := NewReconnector(ReconnectorConfig{
			Gateway:  gateway,
			RoomName: "room-1",
		})

		_, err := r.Connect(context.Background())
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if r.Connection() != nil {
			t.Error("expected nil connection after failure")
		}
	})
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{
		Gateway:  &roommock.Room{},
		RoomName: "room-1",
	})

	if r.maxRetries != 10 {
		t.Errorf("expected default maxRetries=10, got %d", r.maxRetries)
	}
	if r.backoff != 1*time.Second {
		t.Errorf("expected default backoff=1s, got %v", r.backoff)
	}
	if r.maxBackoff != 30*time.Second {
		t.Errorf("expected default maxBackoff=30s, got %v", r.maxBackoff)
	}
}

func TestReconnector_ReconnectOnDisconnect(t *testing.T) {
	conn1 := &roommock.Conn{}
	conn2 := &roommock.Conn{}

	var reconnected atomic.Pointer[room.Conn]

	// Custom join logic: first call = conn1, second = conn2.
	gateway := &sequenceGateway{
		conns: []room.Conn{conn1, conn2},
	}

	r := NewReconnector(ReconnectorConfig{
		Gateway:    gateway,
		RoomName:   "room-1",
		MaxRetries: 3,
		Backoff:    1 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
		OnReconnect: func(c room.Conn) {
			reconnected.Store(&c)
		},
	})

	// Initial join.
	_, err := r.Connect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := t.Context()

	r.Monitor(ctx)

	// Simulate disconnect.
	r.NotifyDisconnect()

	// Wait for reconnection.
	time.Sleep(50 * time.Millisecond)

	gotPtr := reconnected.Load()
	if gotPtr == nil {
		t.Fatal("expected OnReconnect to be called")
	}
	if *gotPtr != conn2 {
		t.Error("expected OnReconnect to be called with conn2")
	}

	_ = r.Stop()
}

func TestReconnector_ExponentialBackoff(t *testing.T) {
	var failCount atomic.Int32

	gateway := &failNTimesGateway{
		failTimes: 3,
		conn:      &roommock.Conn{},
		count:     &failCount,
	}

	var reconnected atomic.Bool

	r := NewReconnector(ReconnectorConfig{
		Gateway:    gateway,
		RoomName:   "room-1",
		MaxRetries: 5,
		Backoff:    1 * time.Millisecond,
		MaxBackoff: 10 * time.Millisecond,
		OnReconnect: func(c room.Conn) {
			reconnected.Store(true)
		},
	})

	// Set initial connection directly.
	r.mu.Lock()
	r.conn = &roommock.Conn{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	// Wait for retries to complete.
	time.Sleep(200 * time.Millisecond)

	if !reconnected.Load() {
		t.Error("expected successful rejoin after failures")
	}

	attempts := failCount.Load()
	// Should have had 3 failures + 1 success = 4 total attempts.
	if attempts < 4 {
		t.Errorf("expected at least 4 join attempts, got %d", attempts)
	}

	_ = r.Stop()
}

func TestReconnector_MaxRetriesExhausted(t *testing.T) {
	var joinAttempts atomic.Int32
	gateway := &countingFailGateway{
		err:   errors.New("permanently down"),
		count: &joinAttempts,
	}

	var reconnected atomic.Bool
	r := NewReconnector(ReconnectorConfig{
		Gateway:    gateway,
		RoomName:   "room-1",
		MaxRetries: 2,
		Backoff:    1 * time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		OnReconnect: func(c room.Conn) {
			reconnected.Store(true)
		},
	})

	r.mu.Lock()
	r.conn = &roommock.Conn{}
	r.mu.Unlock()

	ctx := t.Context()

	r.Monitor(ctx)
	r.NotifyDisconnect()

	// Wait for retries to exhaust.
	time.Sleep(100 * time.Millisecond)

	if reconnected.Load() {
		t.Error("expected OnReconnect NOT to be called when all retries fail")
	}

	// Gateway should have been called maxRetries times.
	if got := joinAttempts.Load(); got != 2 {
		t.Errorf("expected 2 join attempts, got %d", got)
	}

	_ = r.Stop()
}

func TestReconnector_Stop(t *testing.T) {
	conn := &roommock.Conn{}
	gateway := &roommock.Room{JoinResult: conn}

	r := NewReconnector(ReconnectorConfig{
		Gateway:  gateway,
		RoomName: "room-1",
	})

	_, _ = r.Connect(context.Background())

	err := r.Stop()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Connection() != nil {
		t.Error("expected nil connection after Stop")
	}

	if conn.CallCountDisconnect != 1 {
		t.Errorf("expected 1 Disconnect call, got %d", conn.CallCountDisconnect)
	}

	// Double stop should not panic.
	err = r.Stop()
	if err != nil {
		t.Fatalf("unexpected error on double Stop: %v", err)
	}
}

func TestReconnector_NotifyDisconnectNonBlocking(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{
		Gateway:  &roommock.Room{},
		RoomName: "room-1",
	})

	// Multiple calls should not block.
	r.NotifyDisconnect()
	r.NotifyDisconnect()
	r.NotifyDisconnect()
}

// sequenceGateway returns connections from a list, repeating the last one
// once the list is spent.
type sequenceGateway struct {
	mu        sync.Mutex
	conns     []room.Conn
	callCount int
}

func (g *sequenceGateway) Join(_ context.Context, _ string) (room.Conn, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	idx := g.callCount
	g.callCount++
	if idx < len(g.conns) {
		return g.conns[idx], nil
	}
	return g.conns[len(g.conns)-1], nil
}

// failNTimesGateway fails the first N Join calls, then succeeds.
type failNTimesGateway struct {
	failTimes int
	conn      room.Conn
	count     *atomic.Int32
}

func (g *failNTimesGateway) Join(_ context.Context, _ string) (room.Conn, error) {
	n := g.count.Add(1)
	if int(n) <= g.failTimes {
		return nil, errors.New("join failed")
	}
	return g.conn, nil
}

// countingFailGateway always fails but counts attempts atomically.
type countingFailGateway struct {
	err   error
	count *atomic.Int32
}

func (g *countingFailGateway) Join(_ context.Context, _ string) (room.Conn, error) {
	g.count.Add(1)
	return nil, g.err
}
