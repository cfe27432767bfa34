// Package types defines the shared types used across all Vivadeck packages.
//
// These types form the lingua franca between providers, the dialogue pipeline,
// the retrieval index, and the orchestrator. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package types

import "time"

// Transcript represents a speech-to-text result from an ASR provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the provider
	// does not report confidence.
	Confidence float64

	// Words contains per-word detail when available (Deepgram).
	// May be nil for providers that don't support word-level output.
	Words []WordDetail

	// SpeakerID identifies the speaker when speaker diarization is active.
	SpeakerID string

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata from ASR providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// TranscriptEntry is one line of the running session transcript: a candidate
// utterance or a reviewer utterance, in actual spoken order.
type TranscriptEntry struct {
	// Role is "user" for the candidate and "assistant" for the reviewer.
	Role string

	// Text is the (possibly corrected) transcript text.
	Text string

	// RawText is the original uncorrected ASR output. Preserved for debugging;
	// empty when the entry did not pass through correction (reviewer speech).
	RawText string

	// Timestamp is when this entry was recorded.
	Timestamp time.Time

	// Duration is the length of the utterance, when known.
	Duration time.Duration
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// VoiceProfile describes a TTS voice configuration for the reviewer.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is a BCP-47 language tag (e.g., "en", "en-US").
	Language string

	// Speed adjusts speaking rate (0.5–2.0, 1.0 = default).
	Speed float64

	// Metadata holds provider-specific voice attributes (model, emotion, etc.).
	Metadata map[string]string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool

	// SupportsStructured indicates native JSON-schema constrained output support.
	// Providers without it fall back to schema-in-prompt extraction.
	SupportsStructured bool
}

// KeywordBoost represents a keyword to boost in ASR recognition.
// Used to improve recognition of artifact-specific terms (project names,
// library names, domain jargon from the uploaded slides).
type KeywordBoost struct {
	// Keyword is the text to boost (e.g., "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech.
	VADSpeechContinue

	// VADSpeechEnd indicates speech has just ended.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence
)
