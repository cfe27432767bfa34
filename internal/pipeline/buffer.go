package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/vivadeck/vivadeck/pkg/types"
)

const (
	// defaultUtteranceHold is the silence window after the last recognizer
	// final before the buffered fragments are flushed as one utterance.
	// Candidates pause mid-answer; a hold shorter than a natural thinking
	// pause would split answers into fragments the evaluator scores badly.
	defaultUtteranceHold = 1200 * time.Millisecond

	// defaultUtteranceMaxAge bounds how long fragments accumulate before a
	// forced flush, so a candidate who never stops talking still produces
	// evaluable utterances.
	defaultUtteranceMaxAge = 30 * time.Second
)

// utteranceBuffer merges consecutive recognizer finals into a single
// utterance. A final restarts the hold timer; when the timer expires the
// accumulated fragments are flushed through the callback as one unit.
//
// Safe for concurrent use. The flush callback runs on the timer goroutine.
type utteranceBuffer struct {
	hold   time.Duration
	maxAge time.Duration
	flush  func([]types.Transcript)

	mu      sync.Mutex
	parts   []types.Transcript
	firstAt time.Time
	timer   *time.Timer
	stopped bool
}

func newUtteranceBuffer(hold, maxAge time.Duration, flush func([]types.Transcript)) *utteranceBuffer {
	if hold <= 0 {
		hold = defaultUtteranceHold
	}
	if maxAge <= 0 {
		maxAge = defaultUtteranceMaxAge
	}
	return &utteranceBuffer{hold: hold, maxAge: maxAge, flush: flush}
}

// add appends a recognizer final and restarts the hold timer. Finals with
// empty text are dropped. If the oldest buffered fragment exceeds maxAge the
// buffer is flushed immediately on the caller's goroutine.
func (b *utteranceBuffer) add(t types.Transcript) {
	if strings.TrimSpace(t.Text) == "" {
		return
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	if len(b.parts) == 0 {
		b.firstAt = time.Now()
	}
	b.parts = append(b.parts, t)

	if time.Since(b.firstAt) >= b.maxAge {
		parts := b.take()
		b.mu.Unlock()
		b.flush(parts)
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.hold, b.fire)
	} else {
		b.timer.Reset(b.hold)
	}
	b.mu.Unlock()
}

// fire is the hold-timer expiry path.
func (b *utteranceBuffer) fire() {
	b.mu.Lock()
	if b.stopped || len(b.parts) == 0 {
		b.mu.Unlock()
		return
	}
	parts := b.take()
	b.mu.Unlock()
	b.flush(parts)
}

// take detaches the buffered fragments. Callers must hold b.mu.
func (b *utteranceBuffer) take() []types.Transcript {
	parts := b.parts
	b.parts = nil
	if b.timer != nil {
		b.timer.Stop()
	}
	return parts
}

// stop halts the timer and discards any buffered fragments. The buffer
// accepts no further finals afterwards.
func (b *utteranceBuffer) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.parts = nil
	if b.timer != nil {
		b.timer.Stop()
	}
}

// mergeTranscripts joins fragments into one Transcript. Text is concatenated
// with single spaces, confidence is the minimum across fragments (the merged
// utterance is only as trustworthy as its weakest piece), duration is summed,
// and speaker and timestamp come from the first fragment.
func mergeTranscripts(parts []types.Transcript) types.Transcript {
	if len(parts) == 0 {
		return types.Transcript{}
	}

	merged := types.Transcript{
		IsFinal:    true,
		Confidence: parts[0].Confidence,
		SpeakerID:  parts[0].SpeakerID,
		Timestamp:  parts[0].Timestamp,
	}

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, strings.TrimSpace(p.Text))
		if p.Confidence < merged.Confidence {
			merged.Confidence = p.Confidence
		}
		merged.Duration += p.Duration
		merged.Words = append(merged.Words, p.Words...)
	}
	merged.Text = strings.Join(texts, " ")
	return merged
}
