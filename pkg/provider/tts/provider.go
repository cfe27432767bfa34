// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Cartesia or
// ElevenLabs) and presents a uniform streaming interface. The primary entry
// point is SynthesizeStream, which accepts a channel of text fragments and
// returns a channel of raw PCM audio bytes as they become available —
// enabling low-latency pipelining between the reasoner's streaming output and
// the room's audio track. Synthesize covers the request/response case for
// scripted reviewer lines that are known up front.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/vivadeck/vivadeck/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize converts a complete text into raw PCM audio in a single
	// request/response round trip. It is the right call for short scripted
	// lines (greetings, rephrase prompts) where the full text is known before
	// synthesis starts.
	//
	// voice specifies the voice profile to use. Providers should return an
	// error if the requested voice is not available or text is empty.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. This design allows the caller to pipe streaming LLM output
	// directly into synthesis without waiting for the full text to be
	// available.
	//
	// The returned audio channel is closed by the implementation when all text
	// has been synthesised or when ctx is cancelled. The caller must drain the
	// audio channel to avoid blocking the provider's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// encountered during synthesis are signalled by closing the audio channel
	// early; callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	//
	// Returns an error if the provider cannot be reached or if ctx is
	// cancelled before the list is retrieved.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
