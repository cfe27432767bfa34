// Package session binds the review workflow: thirteen nodes that carry a
// candidate from greeting through artifact upload, ingestion, AI-content
// detection, the question ladder, and final report delivery.
//
// Nodes follow the engine's discipline: each receives the current
// [review.State] value, works through the [Voice], [Reasoner], and
// [Indexer] collaborators, and returns the state with a [review.Delta]
// applied plus a route label. The engine serialises all of it per session,
// so nodes hold no locks and share nothing.
//
// The graph tracks the phase ladder:
//
//  1. initialise greets and enters UPLOAD (PARSING when metadata already
//     carried the deck).
//  2. await_upload and route_upload loop with periodic nudges until an
//     artifact lands on the state or three ingestion attempts have failed.
//  3. parse fetches, parses, and indexes the deck, then detect_ai and
//     generate_questions prepare the interview.
//  4. ask_question, route_question, evaluate, and transition_level walk
//     the easy → medium → hard ladder until the pool or the question cap
//     is exhausted.
//  5. generate_report writes the assessment and closing says goodbye.
//
// on_error is the graph's failure sink: it apologises, marks the ERROR
// phase, and checkpoints the wreckage for post-mortem.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
)

// Default timing knobs.
const (
	// DefaultAnswerTimeout is how long evaluate waits for an answer before
	// synthesising a follow-up.
	DefaultAnswerTimeout = 90 * time.Second

	// DefaultNudgeInterval is how long await_upload stays quiet before
	// reminding the candidate to upload.
	DefaultNudgeInterval = 30 * time.Second

	// DefaultDisconnectGrace bounds how long closing waits for the
	// candidate to leave after the goodbye.
	DefaultDisconnectGrace = 30 * time.Second
)

// maxUploadAttempts is how many consecutive ingestion failures route_upload
// tolerates before abandoning the session.
const maxUploadAttempts = 3

// maxEvaluationFailures is how many consecutive evaluation failures the
// questioning loop tolerates before abandoning the session. Without the cap
// a dead evaluator would skip every question and still produce a verdict.
const maxEvaluationFailures = 3

// Utterance is one finalised candidate utterance handed to the workflow.
type Utterance struct {
	// Text is the corrected transcript text.
	Text string

	// Confidence is the recogniser's confidence in the transcript.
	Confidence float64

	// At is when the utterance completed.
	At time.Time
}

// Voice is the session's spoken surface, backed by the dialogue pipeline.
//
// Candidate barge-in is not an error: an utterance the candidate cut off
// counts as delivered, so implementations return nil from Say and the
// partial text from Respond in that case. A non-nil error means the line
// did not reach the room.
type Voice interface {
	// Say speaks scripted text and blocks until it has gone out.
	Say(ctx context.Context, text string) error

	// Respond derives a reply from the conversation so far plus
	// instruction, speaks it, and returns the full spoken text.
	Respond(ctx context.Context, instruction string) (string, error)

	// NextUtterance blocks until the candidate's next final utterance.
	NextUtterance(ctx context.Context) (Utterance, error)
}

// Reasoner is the structured-output surface the workflow drives.
// *reason.Reasoner implements it.
type Reasoner interface {
	DetectAIContent(ctx context.Context, slides []artifact.Slide) (*review.AIDetectionReport, error)
	GenerateQuestions(ctx context.Context, brief reason.QuestionBrief) (*review.Pool, error)
	EvaluateAnswer(ctx context.Context, sessionID string, q review.Question, answer string) (*review.Evaluation, error)
	GenerateReport(ctx context.Context, brief reason.ReportBrief) (*review.Report, error)
}

// Indexer ingests artifact text into the retrieval index.
// *retrieval.Index implements it.
type Indexer interface {
	Ingest(ctx context.Context, sessionID, text string) (int, error)
}

// Fetcher downloads artifact text from an upload-store URL.
// *artifact.Fetcher implements it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Config wires the workflow's collaborators and tunables.
type Config struct {
	// Voice is the spoken surface. Required.
	Voice Voice

	// Reasoner runs the structured LLM tasks. Required.
	Reasoner Reasoner

	// Index receives the parsed artifact. Required.
	Index Indexer

	// Checkpoints persists session snapshots. Required.
	Checkpoints checkpoint.Store

	// Uploads delivers artifact references as upload notifications arrive
	// on the data channel. Required.
	Uploads <-chan review.ArtifactRef

	// Disconnected is closed when the room connection ends. Optional;
	// without it closing relies on the grace timer alone.
	Disconnected <-chan struct{}

	// Parser splits artifact text into slides. Defaults to the text
	// parser.
	Parser artifact.Parser

	// Fetcher resolves URL-only uploads. Defaults to an HTTP fetcher.
	Fetcher Fetcher

	// AnswerTimeout bounds each wait for an answer. Defaults to
	// [DefaultAnswerTimeout].
	AnswerTimeout time.Duration

	// NudgeInterval spaces upload reminders. Defaults to
	// [DefaultNudgeInterval].
	NudgeInterval time.Duration

	// DisconnectGrace bounds the post-goodbye wait. Defaults to
	// [DefaultDisconnectGrace].
	DisconnectGrace time.Duration

	// QuestionCounts overrides how many questions to generate per level.
	// Nil uses the generator's defaults.
	QuestionCounts map[review.Level]int
}

// Nodes holds the bound workflow nodes. Build the runnable graph with
// [Nodes.Graph].
type Nodes struct {
	cfg          Config
	voice        Voice
	reason       Reasoner
	index        Indexer
	checkpoints  checkpoint.Store
	parser       artifact.Parser
	fetch        Fetcher
	uploads      <-chan review.ArtifactRef
	disconnected <-chan struct{}
}

// New validates cfg, applies defaults, and binds the workflow nodes.
func New(cfg Config) (*Nodes, error) {
	switch {
	case cfg.Voice == nil:
		return nil, errors.New("session: no voice")
	case cfg.Reasoner == nil:
		return nil, errors.New("session: no reasoner")
	case cfg.Index == nil:
		return nil, errors.New("session: no retrieval index")
	case cfg.Checkpoints == nil:
		return nil, errors.New("session: no checkpoint store")
	case cfg.Uploads == nil:
		return nil, errors.New("session: no upload channel")
	}

	if cfg.Parser == nil {
		cfg.Parser = &artifact.TextParser{}
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = artifact.NewFetcher()
	}
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	if cfg.NudgeInterval <= 0 {
		cfg.NudgeInterval = DefaultNudgeInterval
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultDisconnectGrace
	}

	return &Nodes{
		cfg:          cfg,
		voice:        cfg.Voice,
		reason:       cfg.Reasoner,
		index:        cfg.Index,
		checkpoints:  cfg.Checkpoints,
		parser:       cfg.Parser,
		fetch:        cfg.Fetcher,
		uploads:      cfg.Uploads,
		disconnected: cfg.Disconnected,
	}, nil
}
