package resilience

import (
	"context"

	"github.com/vivadeck/vivadeck/pkg/provider/tts"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends (e.g. Cartesia primary, ElevenLabs fallback). Each
// backend is guarded per operation by the group's breaker registry.
//
// Voice IDs are provider-specific, so a VoiceProfile that names a particular
// backend's voice will not resolve on a fallback. Configure fallback-aware
// voices via VoiceProfile.Metadata or accept the fallback's default voice.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// Operation labels keying this wrapper's circuit breakers.
const (
	opSynthesize       = "tts.synthesize"
	opSynthesizeStream = "tts.synthesize_stream"
	opListVoices       = "tts.list_voices"
)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize converts text to audio using the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return ExecuteWithResult(f.group, opSynthesize, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// SynthesizeStream consumes text fragments and returns a channel of audio
// bytes, trying the first healthy provider. Only the initial stream setup is
// covered by failover; mid-stream errors are the caller's responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, opSynthesizeStream, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, opListVoices, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
