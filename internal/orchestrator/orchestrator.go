// Package orchestrator owns one live review session end to end. It joins
// the media room, decodes the runner's session metadata, builds the
// dialogue pipeline over the configured speech providers, restores or
// initialises the review state, and drives the session workflow until a
// terminal phase — surviving room drops along the way by checkpointing,
// rejoining, and rebinding a fresh pipeline.
//
// One orchestrator serves one room. Deployments that review several
// candidates at once run one orchestrator per room; nothing here is shared
// between them beyond the provider clients handed in through [Config].
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/observe"
	"github.com/vivadeck/vivadeck/internal/pipeline"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/session"
	"github.com/vivadeck/vivadeck/internal/transcript"
	"github.com/vivadeck/vivadeck/internal/workflow"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/provider/stt"
	"github.com/vivadeck/vivadeck/pkg/provider/tts"
	"github.com/vivadeck/vivadeck/pkg/provider/vad"
	"github.com/vivadeck/vivadeck/pkg/room"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// ErrRoomLost reports that the room connection dropped and could not be
// re-established within the rejoin deadline. [Orchestrator.Run] treats it
// as a clean stop: the session is parked at its last checkpoint, not
// failed.
var ErrRoomLost = errors.New("orchestrator: room connection lost")

const (
	defaultCheckpointInterval = time.Minute
	defaultReconnectDeadline  = 2 * time.Minute
)

// KnowledgeIndex is the retrieval surface the orchestrator needs: artifact
// ingestion for the workflow plus deck-context slices for prompting.
// *retrieval.Index implements it.
type KnowledgeIndex interface {
	session.Indexer
	ContextFor(ctx context.Context, sessionID, queryText string, maxChunks int) (string, error)
}

// Config wires one session's collaborators and tunables.
type Config struct {
	// Gateway joins media rooms. Required.
	Gateway room.Room

	// RoomName is the room to serve. Required.
	RoomName string

	// ASR, TTS, LLM, and VAD are the speech providers the dialogue
	// pipeline is built from. All required.
	ASR stt.Provider
	TTS tts.Provider
	LLM llm.Provider
	VAD vad.Engine

	// Voice is the reviewer's TTS voice profile.
	Voice types.VoiceProfile

	// Reasoner runs the structured review tasks. Required.
	Reasoner session.Reasoner

	// Index is the retrieval index. Required.
	Index KnowledgeIndex

	// Checkpoints persists session snapshots. Required.
	Checkpoints checkpoint.Store

	// Parser splits artifact text into slides. Defaults to the text
	// parser.
	Parser artifact.Parser

	// Fetcher resolves URL-only uploads. Optional; the workflow falls
	// back to its own default.
	Fetcher session.Fetcher

	// Corrector post-processes transcripts before they reach the
	// workflow. Optional.
	Corrector transcript.Pipeline

	// Pipeline tunes the dialogue pipeline. Zero fields use pipeline
	// defaults.
	Pipeline pipeline.Config

	// AnswerTimeout, NudgeInterval, DisconnectGrace, and QuestionCounts
	// pass through to the session workflow; zero values use its defaults.
	AnswerTimeout   time.Duration
	NudgeInterval   time.Duration
	DisconnectGrace time.Duration
	QuestionCounts  map[review.Level]int

	// CheckpointInterval spaces periodic snapshots. Zero means one
	// minute; negative disables the periodic saver.
	CheckpointInterval time.Duration

	// ReconnectDeadline bounds how long a dropped room may stay dropped
	// before the session is abandoned at its last checkpoint. Zero means
	// two minutes.
	ReconnectDeadline time.Duration

	// Resume restores the session's latest checkpoint instead of
	// starting fresh.
	Resume bool

	// Metrics receives session instrumentation. Optional.
	Metrics *observe.Metrics
}

func (c *Config) validate() error {
	switch {
	case c.Gateway == nil:
		return errors.New("orchestrator: Gateway is required")
	case c.RoomName == "":
		return errors.New("orchestrator: RoomName is required")
	case c.ASR == nil:
		return errors.New("orchestrator: ASR provider is required")
	case c.TTS == nil:
		return errors.New("orchestrator: TTS provider is required")
	case c.LLM == nil:
		return errors.New("orchestrator: LLM provider is required")
	case c.VAD == nil:
		return errors.New("orchestrator: VAD engine is required")
	case c.Reasoner == nil:
		return errors.New("orchestrator: Reasoner is required")
	case c.Index == nil:
		return errors.New("orchestrator: Index is required")
	case c.Checkpoints == nil:
		return errors.New("orchestrator: Checkpoints store is required")
	}
	return nil
}

// Orchestrator drives one review session. Create with [New], run with
// [Orchestrator.Run]; Run blocks for the life of the session.
type Orchestrator struct {
	cfg  Config
	meta Metadata

	recon *session.Reconnector
	voice *roomVoice

	uploads      chan review.ArtifactRef
	disconnected chan struct{}
	rebound      chan struct{}

	runCtx   context.Context
	roomLost context.CancelCauseFunc

	mu       sync.Mutex
	pipe     *pipeline.Pipeline
	live     review.State
	liveNode string
	lexicon  *transcript.Lexicon
}

// New validates cfg and builds an orchestrator. It does not touch the
// network; the room is joined by [Orchestrator.Run].
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Parser == nil {
		cfg.Parser = &artifact.TextParser{}
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.ReconnectDeadline <= 0 {
		cfg.ReconnectDeadline = defaultReconnectDeadline
	}

	o := &Orchestrator{
		cfg:          cfg,
		uploads:      make(chan review.ArtifactRef, 4),
		disconnected: make(chan struct{}, 1),
		rebound:      make(chan struct{}, 1),
	}
	o.voice = newRoomVoice(o.currentPipe)
	o.recon = session.NewReconnector(session.ReconnectorConfig{
		Gateway:     cfg.Gateway,
		RoomName:    cfg.RoomName,
		OnReconnect: o.onReconnect,
	})
	return o, nil
}

// Run joins the room and drives the session to a terminal phase. It
// returns nil on a completed or cleanly parked session (room lost past the
// rejoin deadline), and the workflow's error otherwise. Cancelling ctx
// aborts the session after the engine's detached grace for error handling.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	o.runCtx = runCtx
	o.roomLost = cancel

	conn, err := o.recon.Connect(runCtx)
	if err != nil {
		return fmt.Errorf("orchestrator: join room %q: %w", o.cfg.RoomName, err)
	}
	defer o.recon.Stop()

	meta, err := ParseMetadata(conn.Metadata())
	if err != nil {
		return err
	}
	if meta.AgentType != "" && meta.AgentType != AgentTypeProjectReview {
		slog.Warn("unexpected agent type in room metadata, serving anyway",
			"agent_type", meta.AgentType)
	}
	o.meta = meta

	state, entry, resumed, err := o.startingPoint(runCtx, meta)
	if err != nil {
		return err
	}
	if entry == "" {
		slog.Info("session already terminal, nothing to do",
			"session_id", state.SessionID, "phase", state.Phase)
		return nil
	}
	o.setLive(state, string(entry))

	if m := o.cfg.Metrics; m != nil {
		m.ActiveSessions.Add(runCtx, 1)
		defer m.ActiveSessions.Add(context.WithoutCancel(runCtx), -1)
	}

	var opening string
	if resumed {
		opening = resumeGreeting(state)
	}
	if err := o.bind(runCtx, conn, opening); err != nil {
		return err
	}
	defer o.unbind()

	o.recon.Monitor(runCtx)

	if o.cfg.CheckpointInterval > 0 {
		periodic := checkpoint.NewPeriodic(o.cfg.Checkpoints, o.snapshot, o.cfg.CheckpointInterval)
		periodic.Start(runCtx)
		defer periodic.Stop()
	}

	nodes, err := session.New(session.Config{
		Voice:           o.voice,
		Reasoner:        o.cfg.Reasoner,
		Index:           o.cfg.Index,
		Checkpoints:     o.cfg.Checkpoints,
		Uploads:         o.uploads,
		Disconnected:    o.disconnected,
		Parser:          o.cfg.Parser,
		Fetcher:         o.cfg.Fetcher,
		AnswerTimeout:   o.cfg.AnswerTimeout,
		NudgeInterval:   o.cfg.NudgeInterval,
		DisconnectGrace: o.cfg.DisconnectGrace,
		QuestionCounts:  o.cfg.QuestionCounts,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: build session workflow: %w", err)
	}
	engine, err := workflow.New(nodes.Graph(entry),
		workflow.WithStepHook(o.stepHook(state.Phase)))
	if err != nil {
		return fmt.Errorf("orchestrator: build workflow engine: %w", err)
	}

	slog.Info("review session running",
		"session_id", state.SessionID,
		"room", o.cfg.RoomName,
		"entry", string(entry),
		"resumed", resumed)

	final, runErr := engine.Run(runCtx, state)
	o.setLive(final, "")

	o.publishReport(final)

	if runErr != nil {
		if errors.Is(context.Cause(runCtx), ErrRoomLost) {
			slog.Info("room lost for good, session parked at last checkpoint",
				"session_id", final.SessionID, "phase", final.Phase)
			return nil
		}
		return fmt.Errorf("orchestrator: session %s: %w", final.SessionID, runErr)
	}

	slog.Info("review session finished",
		"session_id", final.SessionID,
		"phase", final.Phase,
		"questions_asked", len(final.Asked))
	return nil
}

// startingPoint decides the state and entry node the engine starts from.
// With Resume set it restores the latest checkpoint for the metadata's
// session id, falling back to a fresh session when none exists. An empty
// entry means the restored session already reached a terminal phase.
func (o *Orchestrator) startingPoint(ctx context.Context, meta Metadata) (review.State, workflow.NodeID, bool, error) {
	fresh := initialState(meta, o.cfg.RoomName)
	freshEntry, _ := session.EntryFor("")

	if !o.cfg.Resume {
		return fresh, freshEntry, false, nil
	}

	cp, err := o.cfg.Checkpoints.Latest(ctx, fresh.SessionID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		slog.Info("no checkpoint to resume, starting fresh", "session_id", fresh.SessionID)
		return fresh, freshEntry, false, nil
	}
	if err != nil {
		return review.State{}, "", false, fmt.Errorf("orchestrator: load latest checkpoint: %w", err)
	}

	state := cp.State.Clone()
	entry, ok := session.EntryFor(state.Phase)
	if !ok {
		return state, "", true, nil
	}
	state.Connection = review.ConnConnected
	state.LastHeartbeat = time.Now()
	state.ErrorCount = 0
	slog.Info("resuming from checkpoint",
		"session_id", state.SessionID,
		"checkpoint_id", cp.Metadata.ID,
		"phase", state.Phase,
		"entry", string(entry))
	return state, entry, true, nil
}

// resumeGreeting is the opening line of a restored session. When a
// question was in flight at checkpoint time it is repeated, since the
// candidate may not have heard it before the drop.
func resumeGreeting(s review.State) string {
	if q := s.CurrentQuestion; q != nil {
		return "Welcome back! Let's pick up where we left off. My last question was: " + q.Text
	}
	return "Welcome back! Let's pick up where we left off."
}

// bind builds a dialogue pipeline over conn, starts it, and spawns the
// event and data-channel consumers. Called once at startup and again on
// every successful rejoin.
func (o *Orchestrator) bind(ctx context.Context, conn room.Conn, opening string) error {
	opts := []pipeline.Option{
		pipeline.WithConfig(o.cfg.Pipeline),
		pipeline.WithResponder(o.cfg.LLM),
	}
	if o.cfg.Corrector != nil {
		opts = append(opts, pipeline.WithCorrector(o.cfg.Corrector))
	}
	o.mu.Lock()
	lex := o.lexicon
	sid := o.live.SessionID
	o.mu.Unlock()
	if lex != nil {
		opts = append(opts, pipeline.WithLexicon(lex))
	}

	p := pipeline.New(o.cfg.ASR, o.cfg.TTS, o.cfg.VAD, o.cfg.Voice, opts...)

	var starts []pipeline.StartOption
	if opening != "" {
		starts = append(starts, pipeline.WithInitialUtterance(opening))
	}
	if err := p.Start(ctx, conn, o.systemPrompt(ctx, sid), starts...); err != nil {
		return fmt.Errorf("orchestrator: start dialogue pipeline: %w", err)
	}

	o.mu.Lock()
	o.pipe = p
	o.mu.Unlock()

	go o.consumeEvents(ctx, p)
	go o.consumeData(conn)
	return nil
}

func (o *Orchestrator) unbind() {
	o.mu.Lock()
	p := o.pipe
	o.pipe = nil
	o.mu.Unlock()
	if p != nil {
		_ = p.Close()
	}
}

func (o *Orchestrator) currentPipe() *pipeline.Pipeline {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pipe
}

func (o *Orchestrator) setLive(state review.State, node string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.live = state.Clone()
	if node != "" {
		o.liveNode = node
	}
}

// snapshot feeds the periodic checkpointer the engine's most recent state.
func (o *Orchestrator) snapshot() (review.State, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live.Clone(), o.liveNode
}

// consumeEvents drains one pipeline's event stream until Close ends it.
func (o *Orchestrator) consumeEvents(ctx context.Context, p *pipeline.Pipeline) {
	for ev := range p.Events() {
		switch ev.Kind {
		case pipeline.EventUserFinalUtterance:
			o.voice.deliver(session.Utterance{
				Text:       ev.Text,
				Confidence: ev.Confidence,
				At:         ev.Timestamp,
			})
		case pipeline.EventAIUtteranceComplete:
			if ev.Interrupted {
				if m := o.cfg.Metrics; m != nil {
					m.RecordInterruption(ctx)
				}
			}
		case pipeline.EventParticipantJoined:
			slog.Info("participant joined", "participant", ev.ParticipantID)
			if m := o.cfg.Metrics; m != nil {
				m.RecordParticipantChange(ctx, 1)
			}
		case pipeline.EventParticipantLeft:
			slog.Info("participant left", "participant", ev.ParticipantID)
			if m := o.cfg.Metrics; m != nil {
				m.RecordParticipantChange(ctx, -1)
			}
		case pipeline.EventDisconnected:
			o.onDisconnect(ctx, p)
		}
	}
}

// onDisconnect handles a room drop: checkpoint the live state with reason
// connection_lost, signal the workflow, retire the dead pipeline, and kick
// the reconnector. A watchdog abandons the session if no rejoin lands
// within the deadline.
func (o *Orchestrator) onDisconnect(ctx context.Context, p *pipeline.Pipeline) {
	o.mu.Lock()
	if o.pipe != p {
		// A rebind already replaced this pipeline; stale event.
		o.mu.Unlock()
		return
	}
	o.pipe = nil
	state := o.live.Clone()
	node := o.liveNode
	o.mu.Unlock()

	slog.Warn("room connection lost", "session_id", state.SessionID, "node", node)

	state.Connection = review.ConnReconnecting
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	id, err := o.cfg.Checkpoints.Save(saveCtx, state, checkpoint.Origin{
		Node:        node,
		Reason:      checkpoint.ReasonConnectionLost,
		Description: "room transport dropped",
	})
	cancel()
	if err != nil {
		slog.Error("connection-lost checkpoint failed", "error", err)
	} else {
		slog.Info("connection-lost checkpoint saved", "checkpoint_id", id)
		if m := o.cfg.Metrics; m != nil {
			m.RecordCheckpoint(ctx, string(checkpoint.ReasonConnectionLost))
		}
	}

	select {
	case o.disconnected <- struct{}{}:
	default:
	}

	_ = p.Close()
	o.recon.NotifyDisconnect()
	go o.watchRebind(ctx, state.SessionID)
}

// watchRebind gives the reconnector a bounded window to restore the room
// before the session is abandoned at its last checkpoint.
func (o *Orchestrator) watchRebind(ctx context.Context, sessionID string) {
	t := time.NewTimer(o.cfg.ReconnectDeadline)
	defer t.Stop()
	select {
	case <-o.rebound:
	case <-ctx.Done():
	case <-t.C:
		slog.Error("rejoin deadline exceeded, abandoning room",
			"session_id", sessionID, "deadline", o.cfg.ReconnectDeadline)
		o.roomLost(ErrRoomLost)
	}
}

// onReconnect runs on the reconnector's goroutine after a successful
// rejoin. It binds a fresh pipeline to the new connection and greets the
// candidate, repeating the in-flight question if there was one.
func (o *Orchestrator) onReconnect(conn room.Conn) {
	ctx := o.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}

	// Clear a stale workflow signal from the drop we just recovered from.
	select {
	case <-o.disconnected:
	default:
	}

	o.mu.Lock()
	cq := o.live.CurrentQuestion
	o.mu.Unlock()
	greet := "Welcome back, sorry about the interruption."
	if cq != nil {
		greet += " Let me repeat my last question: " + cq.Text
	}

	if err := o.bind(ctx, conn, greet); err != nil {
		slog.Error("rebind after reconnect failed", "error", err)
		o.recon.NotifyDisconnect()
		return
	}

	o.mu.Lock()
	o.live.Connection = review.ConnConnected
	o.live.LastHeartbeat = time.Now()
	o.mu.Unlock()

	select {
	case o.rebound <- struct{}{}:
	default:
	}
	slog.Info("room reconnected, pipeline rebound", "room", o.cfg.RoomName)
}

// stepHook composes the per-step bookkeeping: live-state capture for the
// periodic checkpointer and disconnect path, phase-transition checkpoints,
// lexicon seeding once the deck text lands, and node metrics.
func (o *Orchestrator) stepHook(from review.Phase) workflow.StepHook[review.State] {
	phases := session.PhaseTransitions(o.cfg.Checkpoints, from)
	return func(ctx context.Context, step workflow.Step, state review.State) {
		o.setLive(state, string(step.Node))
		o.maybeSeedLexicon(state)
		phases(ctx, step, state)

		if m := o.cfg.Metrics; m != nil {
			m.RecordNodeStep(ctx, string(step.Node), step.Elapsed.Seconds(), step.Err != nil)
		}
		if step.Err != nil {
			slog.Warn("workflow step failed", "node", string(step.Node), "error", step.Err)
		}
	}
}

// maybeSeedLexicon builds the recognition lexicon from the deck the first
// time artifact text is present in state, and pushes it into the live
// pipeline so the recognizer starts boosting deck terms mid-session.
func (o *Orchestrator) maybeSeedLexicon(state review.State) {
	o.mu.Lock()
	seeded := o.lexicon != nil
	o.mu.Unlock()
	if seeded || state.Artifact.Text == "" {
		return
	}

	slides, err := o.cfg.Parser.Parse(state.Artifact.Text)
	if err != nil {
		slog.Warn("lexicon build skipped", "error", err)
		return
	}
	lex := transcript.BuildLexicon(slides)
	if t := o.meta.ProjectTitle; t != "" {
		lex.Add(t)
	}
	if n := o.meta.CandidateName; n != "" {
		lex.Add(n)
	}

	o.mu.Lock()
	o.lexicon = lex
	p := o.pipe
	o.mu.Unlock()
	if p != nil {
		p.SetLexicon(lex)
	}
	slog.Info("recognition lexicon seeded", "terms", len(lex.Terms()))
}
