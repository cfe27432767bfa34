// Package pipeline binds a review room's audio to the speech providers and
// exposes the session's dialogue as a typed event stream.
//
// # Architecture
//
//  1. Each participant's input stream is gated by VAD so the recognizer only
//     receives frames around actual speech.
//  2. Gated frames feed a single streaming STT session. Partials drive
//     interruption detection; finals are merged by an utterance buffer,
//     corrected against the deck lexicon, and emitted as
//     [EventUserFinalUtterance].
//  3. Outgoing speech is serialized: [Pipeline.Say] synthesizes scripted text
//     directly, [Pipeline.Respond] streams an LLM completion into TTS with
//     sentence-boundary pipelining so playback starts before generation ends.
//  4. While the reviewer is speaking, sustained candidate speech cancels the
//     in-flight synthesis when interruptions are enabled.
//
// The pipeline owns no review semantics. It reports what was said and speaks
// what it is told; the session workflow decides what that means.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vivadeck/vivadeck/internal/transcript"
	"github.com/vivadeck/vivadeck/pkg/audio"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/provider/stt"
	"github.com/vivadeck/vivadeck/pkg/provider/tts"
	"github.com/vivadeck/vivadeck/pkg/provider/vad"
	"github.com/vivadeck/vivadeck/pkg/room"
	"github.com/vivadeck/vivadeck/pkg/types"
)

var (
	// ErrNotStarted is returned by speech methods before Start has been called.
	ErrNotStarted = errors.New("pipeline: not started")

	// ErrAlreadyStarted is returned by Start on a pipeline that is already
	// bound to a room connection. A pipeline serves exactly one connection;
	// reconnects get a fresh pipeline.
	ErrAlreadyStarted = errors.New("pipeline: already started")

	// ErrClosed is returned once the pipeline has been closed.
	ErrClosed = errors.New("pipeline: closed")

	// ErrInterrupted is returned by Say and Respond when the utterance was
	// cancelled mid-synthesis by candidate speech.
	ErrInterrupted = errors.New("pipeline: utterance interrupted")

	// ErrNoResponder is returned by Respond when no language model was
	// configured via WithResponder.
	ErrNoResponder = errors.New("pipeline: no response model configured")
)

const (
	// defaultSampleRate is the mono PCM rate of the recognizer leg. Room audio
	// arrives at 48 kHz stereo and is downmixed and resampled per frame.
	defaultSampleRate = 16000

	// defaultEndpointingMs is the provider-side silence window that finalises
	// an utterance fragment.
	defaultEndpointingMs = 300

	// defaultInterruptMinSpeech and defaultInterruptMinWords define barge-in:
	// both must be exceeded while the reviewer is speaking. The word floor
	// keeps coughs and "mm-hm" backchannels from cutting off a question.
	defaultInterruptMinSpeech = 250 * time.Millisecond
	defaultInterruptMinWords  = 2

	// defaultKeywordBoost is the recognition boost applied to lexicon terms.
	defaultKeywordBoost = 1.5

	// defaultEventBuffer is the capacity of the event channel.
	defaultEventBuffer = 64

	// defaultHistoryLimit caps the rolling conversation history handed to the
	// response model.
	defaultHistoryLimit = 40

	// defaultSentenceBuffer absorbs several sentences between the completion
	// stream and the synthesizer without blocking generation.
	defaultSentenceBuffer = 16
)

// Config carries the tunable knobs of a Pipeline. The zero value is usable;
// New fills in defaults.
type Config struct {
	// SampleRate is the mono PCM rate fed to VAD and STT. Default 16000.
	SampleRate int

	// Language is the BCP-47 recognition language, e.g. "en-US".
	Language string

	// Model selects the recognition model. Empty means provider default.
	Model string

	// EndpointingMs is the recognizer's silence window in milliseconds before
	// a fragment is finalised. Default 300.
	EndpointingMs int

	// DisablePunctuation turns off recognizer-side punctuation insertion.
	DisablePunctuation bool

	// DisableSmartFormat turns off recognizer-side formatting of numbers,
	// dates, and currency.
	DisableSmartFormat bool

	// Diarize requests speaker labels on transcripts. The room carries a
	// single candidate speaker, so this stays off unless a deployment wants
	// the labels downstream.
	Diarize bool

	// DisableUtterances turns off recognizer-side utterance segmentation,
	// leaving endpointing as the only fragment boundary.
	DisableUtterances bool

	// TTSSampleRate is the PCM rate of synthesized audio, used to stamp
	// outgoing frames. Default 16000. The room transport converts to its own
	// wire format.
	TTSSampleRate int

	// VAD configures the speech gate. Zero fields fall back to the engine's
	// defaults; SampleRate is aligned with Config.SampleRate when unset.
	VAD vad.Config

	// UtteranceHold is the post-final silence before buffered fragments are
	// flushed as one candidate utterance. Default 1.2s.
	UtteranceHold time.Duration

	// UtteranceMaxAge force-flushes a fragment run that never pauses.
	// Default 30s.
	UtteranceMaxAge time.Duration

	// AllowInterruptions enables candidate barge-in over reviewer speech.
	AllowInterruptions bool

	// InterruptMinSpeech is the minimum sustained candidate speech before an
	// interruption fires. Default 250ms.
	InterruptMinSpeech time.Duration

	// InterruptMinWords is the minimum recognized word count before an
	// interruption fires. Default 2.
	InterruptMinWords int

	// KeywordBoost is the recognition boost for deck lexicon terms.
	// Default 1.5.
	KeywordBoost float64

	// EventBuffer is the event channel capacity. Default 64.
	EventBuffer int

	// HistoryLimit caps the conversation history kept for Respond. Default 40.
	HistoryLimit int

	// Temperature and MaxTokens apply to free-form Respond completions.
	Temperature float64
	MaxTokens   int
}

// withDefaults returns cfg with zero fields replaced by defaults.
func (cfg Config) withDefaults() Config {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.EndpointingMs <= 0 {
		cfg.EndpointingMs = defaultEndpointingMs
	}
	if cfg.TTSSampleRate <= 0 {
		cfg.TTSSampleRate = defaultSampleRate
	}
	if cfg.VAD.SampleRate <= 0 {
		cfg.VAD.SampleRate = cfg.SampleRate
	}
	if cfg.UtteranceHold <= 0 {
		cfg.UtteranceHold = defaultUtteranceHold
	}
	if cfg.UtteranceMaxAge <= 0 {
		cfg.UtteranceMaxAge = defaultUtteranceMaxAge
	}
	if cfg.InterruptMinSpeech <= 0 {
		cfg.InterruptMinSpeech = defaultInterruptMinSpeech
	}
	if cfg.InterruptMinWords <= 0 {
		cfg.InterruptMinWords = defaultInterruptMinWords
	}
	if cfg.KeywordBoost <= 0 {
		cfg.KeywordBoost = defaultKeywordBoost
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return cfg
}

// Option is a functional option for configuring a Pipeline.
type Option func(*Pipeline)

// WithConfig replaces the pipeline configuration. Zero fields still receive
// defaults.
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) { p.cfg = cfg }
}

// WithResponder configures the language model used by [Pipeline.Respond] for
// free-form turns (nudges, rephrasings, apologies). Without it, Respond
// returns ErrNoResponder and callers fall back to scripted Say.
func WithResponder(provider llm.Provider) Option {
	return func(p *Pipeline) { p.brain = provider }
}

// WithCorrector configures the transcript correction applied to candidate
// finals before they are emitted.
func WithCorrector(c transcript.Pipeline) Option {
	return func(p *Pipeline) { p.corrector = c }
}

// WithLexicon seeds the deck vocabulary used for recognition keyword boosts
// and transcript correction. The lexicon can be replaced after the deck is
// parsed via [Pipeline.SetLexicon].
func WithLexicon(l *transcript.Lexicon) Option {
	return func(p *Pipeline) { p.lexicon = l }
}

// Pipeline connects one room connection to the speech providers.
//
// All exported methods are safe for concurrent use. Say and Respond serialize
// against each other so reviewer speech never overlaps itself.
type Pipeline struct {
	asr   stt.Provider
	synth tts.Provider
	gate  vad.Engine
	voice types.VoiceProfile

	brain     llm.Provider
	corrector transcript.Pipeline

	cfg Config

	events chan Event

	mu           sync.Mutex
	started      bool
	closed       bool
	conn         room.Conn
	sttSess      stt.SessionHandle
	systemPrompt string
	history      []types.Message
	lexicon      *transcript.Lexicon
	pumping      map[string]bool

	runCtx  context.Context
	runStop context.CancelFunc

	buffer  *utteranceBuffer
	flushMu sync.Mutex

	// sayMu serializes outgoing utterances.
	sayMu    sync.Mutex
	speaking atomic.Bool

	// intMu guards the barge-in bookkeeping below.
	intMu        sync.Mutex
	speechSince  time.Time
	interimWords int
	utterCancel  context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New constructs a Pipeline over the given speech providers and reviewer
// voice. The pipeline is inert until [Pipeline.Start] binds it to a room
// connection.
func New(asr stt.Provider, synth tts.Provider, gate vad.Engine, voice types.VoiceProfile, opts ...Option) *Pipeline {
	p := &Pipeline{
		asr:     asr,
		synth:   synth,
		gate:    gate,
		voice:   voice,
		pumping: make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	p.cfg = p.cfg.withDefaults()
	// Create the event channel after options so WithConfig buffer sizing
	// takes effect.
	p.events = make(chan Event, p.cfg.EventBuffer)
	return p
}

// StartOption configures a single Start call.
type StartOption func(*startOptions)

type startOptions struct {
	initialUtterance string
}

// WithInitialUtterance speaks text as soon as the pipeline is running,
// without blocking Start. Used on session resume to re-greet the candidate.
func WithInitialUtterance(text string) StartOption {
	return func(o *startOptions) { o.initialUtterance = text }
}

// Start binds the pipeline to conn and begins processing audio. systemPrompt
// frames every free-form Respond completion for this session.
//
// Start may be called once per pipeline. The ctx governs stream setup only;
// the pipeline runs until [Pipeline.Close].
func (p *Pipeline) Start(ctx context.Context, conn room.Conn, systemPrompt string, opts ...StartOption) error {
	var so startOptions
	for _, o := range opts {
		o(&so)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	sc := stt.StreamConfig{
		SampleRate:    p.cfg.SampleRate,
		Channels:      1,
		Language:      p.cfg.Language,
		Model:         p.cfg.Model,
		Punctuate:     !p.cfg.DisablePunctuation,
		SmartFormat:   !p.cfg.DisableSmartFormat,
		Diarize:       p.cfg.Diarize,
		Utterances:    !p.cfg.DisableUtterances,
		EndpointingMs: p.cfg.EndpointingMs,
	}
	if p.lexicon != nil {
		sc.Keywords = p.lexicon.Keywords(p.cfg.KeywordBoost)
	}

	sess, err := p.asr.StartStream(ctx, sc)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: start recognition stream: %w", err)
	}

	p.started = true
	p.conn = conn
	p.sttSess = sess
	p.systemPrompt = systemPrompt
	p.runCtx, p.runStop = context.WithCancel(context.Background())
	p.buffer = newUtteranceBuffer(p.cfg.UtteranceHold, p.cfg.UtteranceMaxAge, p.flushUtterance)
	p.mu.Unlock()

	conn.OnParticipantChange(p.handleRoomEvent)

	p.wg.Add(2)
	go p.consumeTranscripts()
	go p.watchConn(conn)

	p.attachNewStreams()

	if so.initialUtterance != "" {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.Say(p.runCtx, so.initialUtterance); err != nil && !errors.Is(err, ErrClosed) {
				slog.Warn("pipeline: initial utterance failed", "error", err)
			}
		}()
	}

	return nil
}

// Events returns the dialogue event stream. The channel is closed by
// [Pipeline.Close].
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// SetLexicon replaces the deck lexicon after the artifact is parsed, pushing
// updated keyword boosts into the live recognition session.
func (p *Pipeline) SetLexicon(l *transcript.Lexicon) {
	p.mu.Lock()
	p.lexicon = l
	sess := p.sttSess
	p.mu.Unlock()

	if l == nil || sess == nil {
		return
	}
	if err := sess.SetKeywords(l.Keywords(p.cfg.KeywordBoost)); err != nil && !errors.Is(err, stt.ErrNotSupported) {
		slog.Warn("pipeline: keyword update failed", "error", err)
	}
}

// Close stops all audio processing, closes the recognition session, and
// closes the event channel. Safe to call more than once; it never closes the
// room connection, which the caller owns.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		sess := p.sttSess
		stop := p.runStop
		buffer := p.buffer
		p.mu.Unlock()

		if stop != nil {
			stop()
		}
		if sess != nil {
			if err := sess.Close(); err != nil {
				slog.Warn("pipeline: recognition session close failed", "error", err)
			}
		}
		if buffer != nil {
			buffer.stop()
		}
		p.wg.Wait()
		close(p.events)
	})
	return nil
}

// ready reports whether speech methods may run.
func (p *Pipeline) ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if !p.started {
		return ErrNotStarted
	}
	return nil
}

// ─── Room events and audio intake ─────────────────────────────────────────────

// handleRoomEvent is the participant-change callback registered on the room
// connection.
func (p *Pipeline) handleRoomEvent(ev room.Event) {
	switch ev.Type {
	case room.EventJoin:
		p.emit(Event{Kind: EventParticipantJoined, ParticipantID: ev.ParticipantID, Name: ev.Name})
		p.attachNewStreams()
	case room.EventLeave:
		p.emit(Event{Kind: EventParticipantLeft, ParticipantID: ev.ParticipantID, Name: ev.Name})
	}
}

// attachNewStreams starts an audio pump for every input stream that does not
// have one yet. Participant leave closes the stream, which ends its pump.
func (p *Pipeline) attachNewStreams() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.conn == nil {
		return
	}
	for id, ch := range p.conn.InputStreams() {
		if p.pumping[id] {
			continue
		}
		p.pumping[id] = true
		p.wg.Add(1)
		go p.pump(id, ch)
	}
}

// pump conditions one participant's audio and forwards speech to the
// recognizer. Frames are downmixed to the recognition format, gated by VAD,
// and silence outside speech is dropped before it ever reaches the provider.
func (p *Pipeline) pump(id string, in <-chan audio.AudioFrame) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.pumping, id)
		p.mu.Unlock()
	}()

	gate, err := p.gate.NewSession(p.cfg.VAD)
	if err != nil {
		slog.Error("pipeline: vad session failed", "participant", id, "error", err)
		return
	}
	defer gate.Close()

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: p.cfg.SampleRate, Channels: 1}}

	for {
		select {
		case <-p.runCtx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			frame = conv.Convert(frame)
			if len(frame.Data) == 0 {
				continue
			}

			ev, err := gate.ProcessFrame(frame.Data)
			if err != nil {
				if errors.Is(err, vad.ErrSessionClosed) {
					return
				}
				slog.Warn("pipeline: vad error", "participant", id, "error", err)
				continue
			}

			switch ev.Type {
			case types.VADSpeechStart:
				p.noteSpeechStart()
			case types.VADSpeechEnd:
				p.noteSpeechEnd()
			case types.VADSilence:
				// Gate: the recognizer never sees inter-speech silence.
				continue
			}

			if err := p.sttSess.SendAudio(frame.Data); err != nil {
				if errors.Is(err, stt.ErrSessionClosed) {
					return
				}
				slog.Error("pipeline: audio forward failed", "participant", id, "error", err)
				return
			}
			p.maybeInterrupt()
		}
	}
}

// watchConn surfaces the transport drop as a Disconnected event.
func (p *Pipeline) watchConn(conn room.Conn) {
	defer p.wg.Done()
	select {
	case <-conn.Done():
		p.emit(Event{Kind: EventDisconnected})
	case <-p.runCtx.Done():
	}
}

// ─── Transcript intake ────────────────────────────────────────────────────────

// consumeTranscripts drains the recognition session's partial and final
// streams until both close.
func (p *Pipeline) consumeTranscripts() {
	defer p.wg.Done()

	partials := p.sttSess.Partials()
	finals := p.sttSess.Finals()

	for partials != nil || finals != nil {
		select {
		case <-p.runCtx.Done():
			return
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			p.noteInterim(t.Text)
			p.emitLossy(Event{
				Kind:          EventUserInterimUtterance,
				ParticipantID: t.SpeakerID,
				Text:          t.Text,
				Confidence:    t.Confidence,
				Timestamp:     time.Now(),
			})
			p.maybeInterrupt()
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			p.buffer.add(t)
		}
	}
}

// flushUtterance is the utterance buffer callback: it merges fragments,
// applies transcript correction, and emits the final utterance event.
// flushMu keeps emission in wall-clock order when a slow correction overlaps
// the next flush.
func (p *Pipeline) flushUtterance(parts []types.Transcript) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	merged := mergeTranscripts(parts)
	if merged.Text == "" {
		return
	}

	text := merged.Text
	if c := p.correctorFor(); c != nil {
		corrected, err := c.Correct(p.runCtx, merged, p.lexiconTerms())
		if err != nil {
			slog.Warn("pipeline: transcript correction failed", "error", err)
		} else if corrected != nil && corrected.Corrected != "" {
			text = corrected.Corrected
		}
	}

	p.appendHistory(types.Message{Role: "user", Content: text})
	p.resetInterim()
	p.emit(Event{
		Kind:          EventUserFinalUtterance,
		ParticipantID: merged.SpeakerID,
		Text:          text,
		RawText:       merged.Text,
		Confidence:    merged.Confidence,
		Timestamp:     time.Now(),
	})
}

func (p *Pipeline) correctorFor() transcript.Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.corrector
}

func (p *Pipeline) lexiconTerms() []string {
	p.mu.Lock()
	l := p.lexicon
	p.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.Terms()
}

// ─── Interruption bookkeeping ─────────────────────────────────────────────────

func (p *Pipeline) noteSpeechStart() {
	p.intMu.Lock()
	if p.speechSince.IsZero() {
		p.speechSince = time.Now()
	}
	p.intMu.Unlock()
}

func (p *Pipeline) noteSpeechEnd() {
	p.intMu.Lock()
	p.speechSince = time.Time{}
	p.intMu.Unlock()
}

func (p *Pipeline) noteInterim(text string) {
	n := countWords(text)
	p.intMu.Lock()
	if n > p.interimWords {
		p.interimWords = n
	}
	p.intMu.Unlock()
}

func (p *Pipeline) resetInterim() {
	p.intMu.Lock()
	p.interimWords = 0
	p.intMu.Unlock()
}

// maybeInterrupt cancels the in-flight reviewer utterance when the candidate
// has been speaking long enough and said enough words to count as barge-in
// rather than a backchannel.
func (p *Pipeline) maybeInterrupt() {
	if !p.cfg.AllowInterruptions || !p.speaking.Load() {
		return
	}

	p.intMu.Lock()
	var spoken time.Duration
	if !p.speechSince.IsZero() {
		spoken = time.Since(p.speechSince)
	}
	words := p.interimWords
	cancel := p.utterCancel
	p.intMu.Unlock()

	if cancel != nil && spoken >= p.cfg.InterruptMinSpeech && words >= p.cfg.InterruptMinWords {
		cancel()
	}
}

// ─── History ──────────────────────────────────────────────────────────────────

func (p *Pipeline) appendHistory(msg types.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, msg)
	if over := len(p.history) - p.cfg.HistoryLimit; over > 0 {
		p.history = append([]types.Message(nil), p.history[over:]...)
	}
}

func (p *Pipeline) historySnapshot() []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Message, len(p.history))
	copy(out, p.history)
	return out
}

// ─── Event emission ───────────────────────────────────────────────────────────

// emit delivers an event, blocking until the consumer takes it or the
// pipeline shuts down.
func (p *Pipeline) emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case p.events <- ev:
	case <-p.runCtx.Done():
	}
}

// emitLossy delivers an event only if the channel has room. Interims arrive
// many times per second; dropping them under load is harmless.
func (p *Pipeline) emitLossy(ev Event) {
	select {
	case p.events <- ev:
	default:
	}
}

// countWords returns the number of whitespace-separated tokens in s.
func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}
