// Package energy provides a Voice Activity Detection engine based on frame
// energy.
//
// Each frame's root-mean-square amplitude is mapped to a pseudo-probability
// with a soft knee around the configured noise floor, and a run-length state
// machine turns per-frame classifications into segment events: a burst must
// persist for MinSpeechMs before VADSpeechStart fires, and a segment survives
// dips shorter than MinSilenceMs plus PaddingMs before VADSpeechEnd.
//
// An energy detector is deliberately simple: it needs no model download, runs
// in microseconds per frame, and is deterministic in tests. It misclassifies
// loud non-speech (keyboard strikes, music) as speech, which downstream ASR
// endpointing tolerates.
package energy

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/vivadeck/vivadeck/pkg/provider/vad"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// Default endpointing values applied by NewSession for zero Config fields.
const (
	DefaultSpeechThreshold  = 0.5
	DefaultSilenceThreshold = 0.35
	DefaultMinSpeechMs      = 200
	DefaultMinSilenceMs     = 500
	DefaultPaddingMs        = 150
)

// DefaultNoiseFloor is the RMS amplitude at which a frame scores probability
// 0.5. Raw int16 PCM of quiet rooms sits well below this.
const DefaultNoiseFloor = 300.0

// Ensure Engine implements the vad.Engine interface.
var _ vad.Engine = (*Engine)(nil)

// Engine creates energy-based VAD sessions. One Engine serves the whole
// process; sessions are independent and cheap.
type Engine struct {
	noiseFloor float64
}

// Option is a functional option for Engine.
type Option func(*Engine)

// WithNoiseFloor sets the RMS amplitude mapped to probability 0.5. Raise it
// in noisy capture environments, lower it for very quiet microphones.
func WithNoiseFloor(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.noiseFloor = rms
		}
	}
}

// New constructs an energy VAD Engine.
func New(opts ...Option) *Engine {
	e := &Engine{noiseFloor: DefaultNoiseFloor}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	cfg = withDefaults(cfg)

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy vad: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: frame size must be positive, got %dms", cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %v outside [0,1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %v outside [0, speech threshold %v]",
			cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	if cfg.MinSpeechMs < 0 || cfg.MinSilenceMs < 0 || cfg.PaddingMs < 0 {
		return nil, fmt.Errorf("energy vad: negative duration in config")
	}

	return &Session{
		cfg:        cfg,
		noiseFloor: e.noiseFloor,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
	}, nil
}

// withDefaults fills zero Config fields with the package defaults.
func withDefaults(cfg vad.Config) vad.Config {
	if cfg.SpeechThreshold == 0 {
		cfg.SpeechThreshold = DefaultSpeechThreshold
	}
	if cfg.SilenceThreshold == 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.MinSpeechMs == 0 {
		cfg.MinSpeechMs = DefaultMinSpeechMs
	}
	if cfg.MinSilenceMs == 0 {
		cfg.MinSilenceMs = DefaultMinSilenceMs
	}
	if cfg.PaddingMs == 0 {
		cfg.PaddingMs = DefaultPaddingMs
	}
	return cfg
}

// Ensure Session implements the vad.SessionHandle interface.
var _ vad.SessionHandle = (*Session)(nil)

// Session is a single-stream energy VAD session. Safe for concurrent use,
// though the pipeline drives each session from one goroutine.
type Session struct {
	cfg        vad.Config
	noiseFloor float64
	frameBytes int

	mu           sync.Mutex
	closed       bool
	inSpeech     bool
	speechRunMs  int // consecutive active ms while confirming a segment
	silenceRunMs int // consecutive inactive ms inside a segment
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return types.VADEvent{}, vad.ErrSessionClosed
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, fmt.Errorf("%w: got %d bytes, want %d",
			vad.ErrFrameSize, len(frame), s.frameBytes)
	}

	prob := s.probability(frame)

	if !s.inSpeech {
		if prob >= s.cfg.SpeechThreshold {
			s.speechRunMs += s.cfg.FrameSizeMs
			if s.speechRunMs >= s.cfg.MinSpeechMs {
				s.inSpeech = true
				s.silenceRunMs = 0
				return types.VADEvent{Type: types.VADSpeechStart, Probability: prob}, nil
			}
			// Burst not yet long enough to confirm a segment.
			return types.VADEvent{Type: types.VADSilence, Probability: prob}, nil
		}
		s.speechRunMs = 0
		return types.VADEvent{Type: types.VADSilence, Probability: prob}, nil
	}

	if prob >= s.cfg.SilenceThreshold {
		s.silenceRunMs = 0
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}, nil
	}

	s.silenceRunMs += s.cfg.FrameSizeMs
	if s.silenceRunMs < s.cfg.MinSilenceMs+s.cfg.PaddingMs {
		// Hangover: dips and the trailing padding margin stay inside the segment.
		return types.VADEvent{Type: types.VADSpeechContinue, Probability: prob}, nil
	}

	s.inSpeech = false
	s.speechRunMs = 0
	s.silenceRunMs = 0
	return types.VADEvent{Type: types.VADSpeechEnd, Probability: prob}, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.inSpeech = false
	s.speechRunMs = 0
	s.silenceRunMs = 0
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// probability maps the frame's RMS amplitude to [0,1) with a soft knee:
// rms² / (rms² + floor²). A frame at the noise floor scores exactly 0.5.
func (s *Session) probability(frame []byte) float64 {
	var sum float64
	n := len(frame) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2:]))
		sum += float64(sample) * float64(sample)
	}
	if n == 0 {
		return 0
	}
	rms := math.Sqrt(sum / float64(n))
	return (rms * rms) / (rms*rms + s.noiseFloor*s.noiseFloor)
}
