// Package mock provides in-memory mock implementations of the [room.Room]
// and [room.Conn] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	out := make(chan audio.AudioFrame, 16)
//	conn := &mock.Conn{
//	    InputStreamsResult: map[string]<-chan audio.AudioFrame{
//	        "candidate-1": make(chan audio.AudioFrame),
//	    },
//	    OutputStreamResult: out,
//	    MetadataResult:     `{"agentType":"project-review","sessionId":"s-1"}`,
//	}
//	gateway := &mock.Room{JoinResult: conn}
//	got, err := gateway.Join(ctx, "room-42")
package mock

import (
	"context"
	"sync"

	"github.com/vivadeck/vivadeck/pkg/audio"
	"github.com/vivadeck/vivadeck/pkg/room"
)

// ─── Conn ─────────────────────────────────────────────────────────────────────

// Conn is a mock implementation of [room.Conn].
// Set the exported Result fields before use; inspect the Call* fields after.
type Conn struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Conn.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// OutputStreamResult is returned by [Conn.OutputStream].
	OutputStreamResult chan<- audio.AudioFrame

	// DataMessagesResult is returned by [Conn.DataMessages]. Tests hold the
	// write side to inject messages. Defaults to a closed channel if left nil.
	DataMessagesResult <-chan room.DataMessage

	// MetadataResult is returned by [Conn.Metadata].
	MetadataResult string

	// DoneResult is returned by [Conn.Done]. Tests close it to simulate a
	// transport drop. Defaults to a never-closed channel if left nil.
	DoneResult chan struct{}

	// PublishDataError is returned by [Conn.PublishData].
	PublishDataError error

	// DisconnectError is returned by [Conn.Disconnect].
	DisconnectError error

	// PublishedData records the payloads passed to PublishData, in order.
	PublishedData [][]byte

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// RecordedCallbacks holds the callbacks registered via OnParticipantChange,
	// in order of registration.
	RecordedCallbacks []func(room.Event)
}

// InputStreams implements [room.Conn]. Returns InputStreamsResult.
// If InputStreamsResult is nil, an empty non-nil map is returned.
func (c *Conn) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	if c.InputStreamsResult == nil {
		return map[string]<-chan audio.AudioFrame{}
	}
	return c.InputStreamsResult
}

// OutputStream implements [room.Conn]. Returns OutputStreamResult.
func (c *Conn) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OutputStreamResult
}

// DataMessages implements [room.Conn]. Returns DataMessagesResult, or a
// closed channel when unset.
func (c *Conn) DataMessages() <-chan room.DataMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DataMessagesResult == nil {
		ch := make(chan room.DataMessage)
		close(ch)
		c.DataMessagesResult = ch
	}
	return c.DataMessagesResult
}

// PublishData implements [room.Conn]. Records the payload.
func (c *Conn) PublishData(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.PublishedData = append(c.PublishedData, cp)
	return c.PublishDataError
}

// OnParticipantChange implements [room.Conn].
// The callback is appended to RecordedCallbacks. To simulate events in tests,
// call [Conn.EmitEvent].
func (c *Conn) OnParticipantChange(cb func(room.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RecordedCallbacks = append(c.RecordedCallbacks, cb)
}

// Metadata implements [room.Conn]. Returns MetadataResult.
func (c *Conn) Metadata() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MetadataResult
}

// Done implements [room.Conn]. Returns DoneResult, creating an open channel
// on first use when unset.
func (c *Conn) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DoneResult == nil {
		c.DoneResult = make(chan struct{})
	}
	return c.DoneResult
}

// Disconnect implements [room.Conn]. Returns DisconnectError.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitEvent calls all registered participant-change callbacks with the given
// event. Use this in tests to simulate participants joining or leaving.
func (c *Conn) EmitEvent(ev room.Event) {
	c.mu.Lock()
	cbs := make([]func(room.Event), len(c.RecordedCallbacks))
	copy(cbs, c.RecordedCallbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// Compile-time interface checks.
var (
	_ room.Conn = (*Conn)(nil)
	_ room.Room = (*Room)(nil)
)

// ─── Room ─────────────────────────────────────────────────────────────────────

// JoinCall records the arguments of a single [Room.Join] invocation.
type JoinCall struct {
	// RoomName is the roomName argument passed to Join.
	RoomName string
}

// Room is a mock implementation of [room.Room].
type Room struct {
	mu sync.Mutex

	// JoinResult is the [room.Conn] returned by Join.
	JoinResult room.Conn

	// JoinError is the error returned by Join.
	JoinError error

	// JoinCalls records all Join invocations.
	JoinCalls []JoinCall
}

// Join implements [room.Room]. Records the call and returns JoinResult / JoinError.
func (r *Room) Join(_ context.Context, roomName string) (room.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.JoinCalls = append(r.JoinCalls, JoinCall{RoomName: roomName})
	return r.JoinResult, r.JoinError
}
