package energy

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/vivadeck/vivadeck/pkg/provider/vad"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// testConfig returns a session config with short windows so tests need few frames.
// 16kHz, 20ms frames; speech confirms after 2 frames, ends after 3 inactive
// frames (40ms min silence + 20ms padding).
func testConfig() vad.Config {
	return vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
		MinSpeechMs:      40,
		MinSilenceMs:     40,
		PaddingMs:        20,
	}
}

// frame builds a 20ms 16kHz mono PCM frame with every sample at amplitude.
func frame(amplitude int16) []byte {
	const samples = 16000 * 20 / 1000
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(amplitude))
	}
	return buf
}

// loud is well above the default noise floor, quiet well below.
var (
	loud  = frame(3000)
	quiet = frame(50)
)

func newTestSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	sess, err := New().NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

// process runs one frame and fails the test on error.
func process(t *testing.T, sess vad.SessionHandle, f []byte) types.VADEvent {
	t.Helper()
	ev, err := sess.ProcessFrame(f)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return ev
}

// TestSpeechStart_RequiresMinDuration checks that a single loud frame does not
// confirm a segment, but a sustained burst does.
func TestSpeechStart_RequiresMinDuration(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	if ev := process(t, sess, loud); ev.Type != types.VADSilence {
		t.Errorf("frame 1: expected VADSilence while confirming, got %v", ev.Type)
	}
	if ev := process(t, sess, loud); ev.Type != types.VADSpeechStart {
		t.Errorf("frame 2: expected VADSpeechStart after 40ms, got %v", ev.Type)
	}
	if ev := process(t, sess, loud); ev.Type != types.VADSpeechContinue {
		t.Errorf("frame 3: expected VADSpeechContinue, got %v", ev.Type)
	}
}

// TestShortBurst_NeverStarts checks that a click shorter than MinSpeechMs is
// swallowed entirely.
func TestShortBurst_NeverStarts(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	if ev := process(t, sess, loud); ev.Type != types.VADSilence {
		t.Errorf("expected VADSilence, got %v", ev.Type)
	}
	// Burst ends before confirmation; counter must reset.
	if ev := process(t, sess, quiet); ev.Type != types.VADSilence {
		t.Errorf("expected VADSilence, got %v", ev.Type)
	}
	if ev := process(t, sess, loud); ev.Type != types.VADSilence {
		t.Errorf("expected VADSilence after counter reset, got %v", ev.Type)
	}
}

// TestSpeechEnd_AfterSilenceAndPadding checks that the segment survives
// MinSilenceMs+PaddingMs of quiet before ending.
func TestSpeechEnd_AfterSilenceAndPadding(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	process(t, sess, loud)
	if ev := process(t, sess, loud); ev.Type != types.VADSpeechStart {
		t.Fatalf("expected VADSpeechStart, got %v", ev.Type)
	}

	// 40ms min silence + 20ms padding = 3 quiet frames; first two stay inside.
	if ev := process(t, sess, quiet); ev.Type != types.VADSpeechContinue {
		t.Errorf("quiet frame 1: expected VADSpeechContinue, got %v", ev.Type)
	}
	if ev := process(t, sess, quiet); ev.Type != types.VADSpeechContinue {
		t.Errorf("quiet frame 2: expected VADSpeechContinue, got %v", ev.Type)
	}
	if ev := process(t, sess, quiet); ev.Type != types.VADSpeechEnd {
		t.Errorf("quiet frame 3: expected VADSpeechEnd, got %v", ev.Type)
	}
	if ev := process(t, sess, quiet); ev.Type != types.VADSilence {
		t.Errorf("after end: expected VADSilence, got %v", ev.Type)
	}
}

// TestDip_DoesNotEndSegment checks that a quiet dip shorter than the hangover
// keeps the segment alive and resets the silence counter on recovery.
func TestDip_DoesNotEndSegment(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	process(t, sess, loud)
	process(t, sess, loud) // start

	process(t, sess, quiet)
	process(t, sess, quiet)
	if ev := process(t, sess, loud); ev.Type != types.VADSpeechContinue {
		t.Fatalf("recovery: expected VADSpeechContinue, got %v", ev.Type)
	}
	// Counter was reset: two more quiet frames must not end the segment.
	process(t, sess, quiet)
	if ev := process(t, sess, quiet); ev.Type != types.VADSpeechContinue {
		t.Errorf("expected VADSpeechContinue after counter reset, got %v", ev.Type)
	}
}

// TestProbability_Monotonic checks the RMS→probability mapping: quiet frames
// score low, loud frames high, and the noise floor scores one half.
func TestProbability_Monotonic(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	evQuiet := process(t, sess, quiet)
	evLoud := process(t, sess, loud)
	if evQuiet.Probability >= 0.5 {
		t.Errorf("quiet frame probability %v, expected < 0.5", evQuiet.Probability)
	}
	if evLoud.Probability <= 0.9 {
		t.Errorf("loud frame probability %v, expected > 0.9", evLoud.Probability)
	}

	evFloor := process(t, sess, frame(int16(DefaultNoiseFloor)))
	if evFloor.Probability < 0.49 || evFloor.Probability > 0.51 {
		t.Errorf("noise-floor frame probability %v, expected ≈0.5", evFloor.Probability)
	}
}

// TestProcessFrame_WrongSize rejects frames that do not match the config.
func TestProcessFrame_WrongSize(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	_, err := sess.ProcessFrame(make([]byte, 10))
	if !errors.Is(err, vad.ErrFrameSize) {
		t.Fatalf("expected ErrFrameSize, got %v", err)
	}
}

// TestReset_ClearsSegmentState checks that Reset drops an active segment.
func TestReset_ClearsSegmentState(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	process(t, sess, loud)
	process(t, sess, loud) // start
	sess.Reset()

	// After reset the session is in silence and must re-confirm from scratch.
	if ev := process(t, sess, loud); ev.Type != types.VADSilence {
		t.Errorf("after reset: expected VADSilence, got %v", ev.Type)
	}
}

// TestClose_RejectsFurtherFrames checks the closed-session error and that
// double Close is safe.
func TestClose_RejectsFurtherFrames(t *testing.T) {
	sess := newTestSession(t)

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	_, err := sess.ProcessFrame(loud)
	if !errors.Is(err, vad.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

// TestNewSession_Validation rejects out-of-range configurations.
func TestNewSession_Validation(t *testing.T) {
	eng := New()
	cases := []struct {
		name string
		cfg  vad.Config
	}{
		{"zero sample rate", vad.Config{FrameSizeMs: 20}},
		{"zero frame size", vad.Config{SampleRate: 16000}},
		{"threshold above one", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5}},
		{"silence above speech", vad.Config{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.4, SilenceThreshold: 0.6}},
		{"negative duration", vad.Config{SampleRate: 16000, FrameSizeMs: 20, MinSpeechMs: -1}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := eng.NewSession(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// TestNewSession_Defaults checks that zero endpointing fields receive defaults
// and the session works.
func TestNewSession_Defaults(t *testing.T) {
	sess, err := New().NewSession(vad.Config{SampleRate: 16000, FrameSizeMs: 20})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()
	if _, err := sess.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame with defaults: %v", err)
	}
}

// TestWithNoiseFloor checks that raising the floor suppresses moderate frames.
func TestWithNoiseFloor(t *testing.T) {
	sess, err := New(WithNoiseFloor(10000)).NewSession(testConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer sess.Close()

	// Amplitude 3000 is loud against floor 300 but quiet against floor 10000.
	ev := process(t, sess, loud)
	if ev.Probability >= 0.5 {
		t.Errorf("expected probability < 0.5 with raised floor, got %v", ev.Probability)
	}
	if ev.Type != types.VADSilence {
		t.Errorf("expected VADSilence with raised floor, got %v", ev.Type)
	}
}
