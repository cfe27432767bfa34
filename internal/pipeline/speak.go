package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vivadeck/vivadeck/pkg/audio"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// Say synthesizes scripted text and plays it into the room. It blocks until
// the audio has been fully handed to the output stream, the context is
// cancelled, or the utterance is interrupted by candidate speech.
//
// Say serializes against other Say and Respond calls so reviewer speech never
// overlaps itself. Returns ErrInterrupted when barge-in cut the utterance
// short; the text still counts as spoken and is appended to the history.
func (p *Pipeline) Say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := p.ready(); err != nil {
		return err
	}

	p.sayMu.Lock()
	defer p.sayMu.Unlock()

	utterCtx, done := p.beginUtterance(ctx)
	defer done()

	p.emit(Event{Kind: EventAIUtteranceStarted, Text: text, Timestamp: time.Now()})

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	err := p.speakStream(utterCtx, textCh)
	interrupted := errors.Is(context.Cause(utterCtx), ErrInterrupted)

	if err == nil || interrupted {
		p.appendHistory(types.Message{Role: "assistant", Content: text})
	}
	p.emit(Event{Kind: EventAIUtteranceComplete, Text: text, Interrupted: interrupted, Timestamp: time.Now()})

	switch {
	case interrupted:
		return ErrInterrupted
	case err != nil:
		return err
	default:
		return nil
	}
}

// Respond generates a free-form reviewer turn. instruction is a directive for
// the response model ("rephrase the question more simply", "nudge the
// candidate to upload the deck") layered on the session system prompt and the
// running conversation; it is not itself recorded as candidate speech.
//
// The completion streams into TTS sentence by sentence, so playback starts
// before generation finishes. Returns the full generated text, which the
// caller records in the session transcript.
func (p *Pipeline) Respond(ctx context.Context, instruction string) (string, error) {
	if p.brain == nil {
		return "", ErrNoResponder
	}
	if err := p.ready(); err != nil {
		return "", err
	}

	p.sayMu.Lock()
	defer p.sayMu.Unlock()

	req := llm.CompletionRequest{
		SystemPrompt: p.systemPromptSnapshot(),
		Messages:     append(p.historySnapshot(), types.Message{Role: "user", Content: instruction}),
		Temperature:  p.cfg.Temperature,
		MaxTokens:    p.cfg.MaxTokens,
	}

	utterCtx, done := p.beginUtterance(ctx)
	defer done()

	chunks, err := p.brain.StreamCompletion(utterCtx, req)
	if err != nil {
		return "", fmt.Errorf("pipeline: response stream: %w", err)
	}

	p.emit(Event{Kind: EventAIUtteranceStarted, Timestamp: time.Now()})

	textCh, fullCh := pipeSentences(utterCtx, chunks)
	err = p.speakStream(utterCtx, textCh)
	if err != nil {
		// Release the sentence splitter before collecting the text; without
		// this a failed synthesis start would leave it blocked mid-write.
		done()
	}
	spoken := <-fullCh
	interrupted := errors.Is(context.Cause(utterCtx), ErrInterrupted)

	if spoken != "" && (err == nil || interrupted) {
		p.appendHistory(types.Message{Role: "assistant", Content: spoken})
	}
	p.emit(Event{Kind: EventAIUtteranceComplete, Text: spoken, Interrupted: interrupted, Timestamp: time.Now()})

	switch {
	case interrupted:
		return spoken, ErrInterrupted
	case err != nil:
		return spoken, err
	default:
		return spoken, nil
	}
}

func (p *Pipeline) systemPromptSnapshot() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.systemPrompt
}

// beginUtterance marks the reviewer as speaking and registers the barge-in
// cancel for the new utterance. The returned cleanup must run when the
// utterance ends.
func (p *Pipeline) beginUtterance(ctx context.Context) (context.Context, func()) {
	utterCtx, cancel := context.WithCancelCause(ctx)

	// Tie the utterance to pipeline shutdown as well as the caller's context.
	stopWatch := context.AfterFunc(p.runCtx, func() { cancel(ErrClosed) })

	p.intMu.Lock()
	p.utterCancel = func() { cancel(ErrInterrupted) }
	p.interimWords = 0
	p.intMu.Unlock()
	p.speaking.Store(true)

	return utterCtx, func() {
		p.speaking.Store(false)
		p.intMu.Lock()
		p.utterCancel = nil
		p.intMu.Unlock()
		stopWatch()
		cancel(context.Canceled)
	}
}

// speakStream opens a synthesis stream over textCh and forwards the audio to
// the room output. It returns nil once the synthesizer closes the audio
// channel, or the context error when cancelled mid-utterance. On cancellation
// the remaining audio is drained in the background so the synthesizer's
// goroutine never leaks.
func (p *Pipeline) speakStream(ctx context.Context, textCh <-chan string) error {
	audioCh, err := p.synth.SynthesizeStream(ctx, textCh, p.voice)
	if err != nil {
		return fmt.Errorf("pipeline: synthesis start: %w", err)
	}

	out := p.conn.OutputStream()
	for {
		select {
		case <-ctx.Done():
			go audio.Drain(audioCh)
			return ctx.Err()
		case chunk, ok := <-audioCh:
			if !ok {
				return nil
			}
			if len(chunk) == 0 {
				continue
			}
			frame := audio.AudioFrame{
				Data:       chunk,
				SampleRate: p.cfg.TTSSampleRate,
				Channels:   1,
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				go audio.Drain(audioCh)
				return ctx.Err()
			}
		}
	}
}

// pipeSentences converts a token stream into sentence-sized fragments on the
// returned text channel, flushing each sentence as soon as its boundary
// appears so synthesis can start early. The second channel delivers the full
// accumulated text exactly once, after the stream ends or the context is
// cancelled.
func pipeSentences(ctx context.Context, chunks <-chan llm.Chunk) (<-chan string, <-chan string) {
	textCh := make(chan string, defaultSentenceBuffer)
	fullCh := make(chan string, 1)

	go func() {
		defer close(textCh)

		var all strings.Builder
		var buf strings.Builder

		finish := func() {
			if buf.Len() > 0 {
				select {
				case textCh <- buf.String():
				case <-ctx.Done():
				}
			}
			fullCh <- strings.TrimSpace(all.String())
		}

		for {
			select {
			case <-ctx.Done():
				fullCh <- strings.TrimSpace(all.String())
				return
			case chunk, ok := <-chunks:
				if !ok {
					finish()
					return
				}

				if chunk.Text != "" {
					all.WriteString(chunk.Text)
					buf.WriteString(chunk.Text)
				}

				// Flush complete sentences eagerly for lower synthesis latency.
				for {
					idx := firstSentenceBoundary(buf.String())
					if idx < 0 {
						break
					}
					sentence := buf.String()[:idx+1]
					rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
					buf.Reset()
					buf.WriteString(rest)
					select {
					case textCh <- sentence:
					case <-ctx.Done():
						fullCh <- strings.TrimSpace(all.String())
						return
					}
				}

				if chunk.FinishReason != "" {
					finish()
					go drainChunks(chunks)
					return
				}
			}
		}
	}()

	return textCh, fullCh
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// immediately followed by whitespace, or -1 when s holds no complete
// sentence yet.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// drainChunks discards the remainder of a completion stream so the provider
// goroutine can exit.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
