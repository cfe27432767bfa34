package pipeline

import "time"

// EventKind identifies the type of a dialogue [Event].
type EventKind int

const (
	// EventUserFinalUtterance carries a complete, corrected candidate
	// utterance: the unit the review workflow evaluates.
	EventUserFinalUtterance EventKind = iota

	// EventUserInterimUtterance carries a low-latency partial transcript.
	// Interims are advisory — they drive interruption detection and live
	// captions, never evaluation — and may be dropped under load.
	EventUserInterimUtterance

	// EventAIUtteranceStarted marks the beginning of reviewer speech.
	EventAIUtteranceStarted

	// EventAIUtteranceComplete marks the end of reviewer speech. Interrupted
	// reports whether the utterance was cut short by candidate barge-in.
	EventAIUtteranceComplete

	// EventParticipantJoined fires when a participant enters the room.
	EventParticipantJoined

	// EventParticipantLeft fires when a participant leaves the room.
	EventParticipantLeft

	// EventDisconnected fires once when the underlying room transport drops.
	EventDisconnected
)

// String returns a stable label for logging.
func (k EventKind) String() string {
	switch k {
	case EventUserFinalUtterance:
		return "user_final_utterance"
	case EventUserInterimUtterance:
		return "user_interim_utterance"
	case EventAIUtteranceStarted:
		return "ai_utterance_started"
	case EventAIUtteranceComplete:
		return "ai_utterance_complete"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is a single dialogue occurrence emitted on [Pipeline.Events].
//
// Events are emitted in wall-clock order per session. Fields beyond Kind and
// Timestamp are populated depending on the kind; unused fields are zero.
type Event struct {
	Kind EventKind

	// ParticipantID identifies the speaking or joining/leaving participant.
	ParticipantID string

	// Name is the display name for participant join/leave events.
	Name string

	// Text is the utterance text. For final candidate utterances this is the
	// corrected transcript; for AI utterances it is the spoken text (empty on
	// EventAIUtteranceStarted when the response is generated on the fly).
	Text string

	// RawText is the pre-correction transcript for final candidate utterances.
	RawText string

	// Confidence is the recognizer confidence in [0.0, 1.0] for candidate
	// utterances. For merged utterances it is the lowest fragment confidence.
	Confidence float64

	// Interrupted reports, on EventAIUtteranceComplete, whether synthesis was
	// cancelled mid-utterance by candidate speech.
	Interrupted bool

	// Timestamp is the wall-clock time the event was observed.
	Timestamp time.Time
}
