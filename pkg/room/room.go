// Package room defines the interfaces and types for media-room connectivity.
//
// The two primary abstractions are:
//
//   - [Room] — joins a named room on the media server and returns a [Conn].
//   - [Conn] — represents an active presence in that room, giving callers
//     per-participant audio input streams, a single output stream for the
//     reviewer's voice, participant lifecycle events, and the room's data
//     channel for out-of-band client messages (artifact upload notifications,
//     report egress).
//
// Implementations of these interfaces are provided by gateway-specific
// adapter packages (e.g., room/wsroom). The interfaces are intentionally
// narrow to keep the orchestrator decoupled from media-server details.
//
// This package lives under pkg/ because external code (alternative media
// gateways) is expected to implement [Room] and [Conn].
package room

import (
	"context"
	"time"

	"github.com/vivadeck/vivadeck/pkg/audio"
)

// EventType classifies participant lifecycle events emitted by a [Conn].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change in a room.
// Callbacks registered via [Conn.OnParticipantChange] receive values of this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// ParticipantID is the media-server identifier for the participant.
	ParticipantID string

	// Name is the human-readable display name of the participant.
	Name string
}

// DataMessage is an out-of-band message received on the room's data channel.
// The payload is opaque to the transport; the orchestrator decodes it
// (typically JSON envelopes such as upload notifications).
type DataMessage struct {
	// From is the participant id of the sender, when the gateway reports it.
	From string

	// Payload is the raw message body.
	Payload []byte

	// ReceivedAt is when the gateway delivered the message.
	ReceivedAt time.Time
}

// Conn represents an active presence in a media room.
//
// A Conn is obtained by calling [Room.Join] and remains valid until
// [Conn.Disconnect] is called or the transport drops. All channels returned
// by Conn methods are closed automatically when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// InputStreams returns a snapshot of the current per-participant audio channels.
	// The map key is the participant ID; the value is a read-only channel that
	// delivers [audio.AudioFrame] values as they arrive from that participant.
	// A new entry appears for each joining participant and is removed (channel
	// closed) when that participant leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin]
	// event to pick up newly added channels.
	InputStreams() map[string]<-chan audio.AudioFrame

	// OutputStream returns the single write-only channel for the reviewer's
	// voice. Frames written here are published to all room participants.
	// The channel is buffered; writes must not block indefinitely.
	//
	// Ownership: The returned channel is owned by the caller (writer). The
	// transport does NOT close this channel on Disconnect — the caller is
	// responsible for stopping writes. Writing after Disconnect results in
	// dropped frames (not a panic).
	OutputStream() chan<- audio.AudioFrame

	// DataMessages returns the stream of data-channel messages sent by room
	// participants. The channel is closed when the connection terminates.
	DataMessages() <-chan DataMessage

	// PublishData sends payload on the room's data channel, visible to all
	// participants. Used for report egress and status notifications.
	PublishData(ctx context.Context, payload []byte) error

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves the room. Only one callback may be registered
	// at a time; subsequent calls replace the previous registration.
	// The callback is invoked on an internal goroutine — callers must not block.
	OnParticipantChange(cb func(Event))

	// Metadata returns the room metadata string set by the collaborator that
	// created the room (a JSON object carrying the session descriptor).
	// Empty when the gateway supplied none.
	Metadata() string

	// Done returns a channel that is closed when the connection has
	// terminated, whether by a local [Conn.Disconnect] call or a transport
	// failure. By the time it closes, all input and data channels have been
	// closed as well.
	Done() <-chan struct{}

	// Disconnect cleanly tears down the connection, drains pending frames, and
	// closes all channels. It is safe to call Disconnect more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Room is the entry point for a media-server gateway.
// Implementations wrap transport-specific protocols and expose a uniform
// [Conn] abstraction.
//
// Implementations must be safe for concurrent use.
type Room interface {
	// Join enters the room identified by roomName and returns an active [Conn].
	// The supplied ctx governs the lifetime of the join attempt only; once
	// joined, the Conn remains alive until [Conn.Disconnect] is called
	// explicitly or the transport drops.
	//
	// Returns an error if the room cannot be joined (auth failure, unknown
	// room, network error).
	Join(ctx context.Context, roomName string) (Conn, error)
}
