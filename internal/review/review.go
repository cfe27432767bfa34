// Package review defines the session state model for a project review:
// phases, the question ladder, transcripts, evaluations, and the reports
// the reasoner produces.
//
// [State] is the single value the workflow engine threads through the
// review graph. Nodes never mutate it; they return a [Delta] and the
// engine merges it via [State.Apply] (arrays append, scalars last-write-
// wins, the question pool replaces wholesale). The orchestrator owns the
// live State; everything else sees snapshots.
package review

// Phase is a session's position in the review lifecycle. Phases only
// advance along the review graph's transitions; ERROR is a sink.
type Phase string

const (
	// PhaseUpload waits for the artifact to arrive.
	PhaseUpload Phase = "UPLOAD"

	// PhaseParsing ingests the artifact into the retrieval index.
	PhaseParsing Phase = "PARSING"

	// PhaseAIDetection runs the per-slide AI-content detector.
	PhaseAIDetection Phase = "AI_DETECTION"

	// PhaseQuestionGeneration populates the question pool.
	PhaseQuestionGeneration Phase = "QUESTION_GENERATION"

	// PhaseQuestioning is the ask/answer/evaluate loop.
	PhaseQuestioning Phase = "QUESTIONING"

	// PhaseReportGeneration produces the final report.
	PhaseReportGeneration Phase = "REPORT_GENERATION"

	// PhaseCompleted is the successful terminal phase.
	PhaseCompleted Phase = "COMPLETED"

	// PhaseError is the failure sink.
	PhaseError Phase = "ERROR"
)

// IsValid reports whether p is a recognised phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseUpload, PhaseParsing, PhaseAIDetection, PhaseQuestionGeneration,
		PhaseQuestioning, PhaseReportGeneration, PhaseCompleted, PhaseError:
		return true
	}
	return false
}

// Terminal reports whether p ends the session.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Level is a question difficulty level.
type Level string

const (
	// LevelEasy questions establish basic familiarity with the project.
	LevelEasy Level = "easy"

	// LevelMedium questions probe design decisions.
	LevelMedium Level = "medium"

	// LevelHard questions test deep ownership and trade-off reasoning.
	LevelHard Level = "hard"
)

// Levels returns the ladder in ascending difficulty: easy, medium, hard.
func Levels() []Level {
	return []Level{LevelEasy, LevelMedium, LevelHard}
}

// IsValid reports whether l is a recognised level.
func (l Level) IsValid() bool {
	switch l {
	case LevelEasy, LevelMedium, LevelHard:
		return true
	}
	return false
}

// Next returns the level after l on the ladder, and false at the top.
func (l Level) Next() (Level, bool) {
	switch l {
	case LevelEasy:
		return LevelMedium, true
	case LevelMedium:
		return LevelHard, true
	default:
		return l, false
	}
}

// DefaultQuestionCount is how many questions the generator produces per
// level: five easy, five medium, three hard.
func DefaultQuestionCount(l Level) int {
	if l == LevelHard {
		return 3
	}
	return 5
}

// MaxQuestions caps how many questions one session may ask, regardless of
// pool size.
const MaxQuestions = 10

// ConnState is the session's connection state to the room.
type ConnState string

const (
	// ConnConnected means the room connection is live.
	ConnConnected ConnState = "connected"

	// ConnReconnecting means the connection dropped and recovery attempts
	// are in flight.
	ConnReconnecting ConnState = "reconnecting"

	// ConnDisconnected means the connection is gone for good.
	ConnDisconnected ConnState = "disconnected"
)

// Transcript roles.
const (
	// RoleReviewer marks utterances spoken by the AI reviewer.
	RoleReviewer = "reviewer"

	// RoleCandidate marks utterances spoken by the candidate.
	RoleCandidate = "candidate"
)
