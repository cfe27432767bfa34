package review

import "time"

// Candidate identifies the person being reviewed.
type Candidate struct {
	// ID is the candidate's external identifier.
	ID string `json:"id"`

	// Name is the candidate's display name.
	Name string `json:"name"`
}

// ArtifactRef points at the uploaded presentation and carries what is known
// about it. Before upload, all fields may be empty.
type ArtifactRef struct {
	// URL is the upload-store location, when the artifact arrived by URL.
	URL string `json:"url,omitempty"`

	// Name is the uploaded file name, when known.
	Name string `json:"name,omitempty"`

	// Text is the extracted artifact text, when it was supplied in room
	// metadata or already fetched.
	Text string `json:"text,omitempty"`

	// SlideCount is the number of parsed slides, filled after ingestion.
	SlideCount int `json:"slide_count,omitempty"`

	// ChunkCount is the number of indexed chunks, filled after ingestion.
	ChunkCount int `json:"chunk_count,omitempty"`
}

// Present reports whether an artifact is available for parsing, either as
// pre-extracted text or as a fetchable URL.
func (a ArtifactRef) Present() bool {
	return a.Text != "" || a.URL != ""
}

// Question is one generated review question. Questions are created in
// batch after ingestion and never mutated afterwards.
type Question struct {
	// ID is unique across the session's pool.
	ID string `json:"id"`

	// Level is the question's difficulty.
	Level Level `json:"level"`

	// Text is what the reviewer speaks.
	Text string `json:"text"`

	// Context is the retrieval grounding the question was generated from.
	Context string `json:"context,omitempty"`

	// ExpectedPoints are the answer elements a strong candidate would hit.
	ExpectedPoints []string `json:"expected_points,omitempty"`

	// SlideReference is the slide the question is about, 0 when the
	// question spans the whole deck.
	SlideReference int `json:"slide_reference,omitempty"`
}

// Evaluation scores one answer. Created exactly once per answered question.
type Evaluation struct {
	// QuestionID links back to the asked question.
	QuestionID string `json:"question_id"`

	// Score grades the answer from 1 (no understanding) to 10 (expert).
	Score int `json:"score"`

	// Feedback is the evaluator's free-text justification.
	Feedback string `json:"feedback"`

	// DemonstratesUnderstanding is the evaluator's binary ownership call.
	DemonstratesUnderstanding bool `json:"demonstrates_understanding"`

	// FlaggedConcerns lists red flags spotted in the answer.
	FlaggedConcerns []string `json:"flagged_concerns,omitempty"`
}

// AnswerRecord pairs a candidate answer with its evaluation, in the order
// the questions were asked.
type AnswerRecord struct {
	// QuestionID links back to the asked question.
	QuestionID string `json:"question_id"`

	// Answer is the candidate's (corrected) final utterance.
	Answer string `json:"answer"`

	// Evaluation is the reasoner's score for the answer.
	Evaluation Evaluation `json:"evaluation"`

	// AnsweredAt is when the final utterance arrived.
	AnsweredAt time.Time `json:"answered_at"`
}

// TranscriptEntry is one utterance in the session's running transcript.
type TranscriptEntry struct {
	// Role is RoleReviewer or RoleCandidate.
	Role string `json:"role"`

	// Text is the spoken text.
	Text string `json:"text"`

	// Timestamp is when the utterance completed.
	Timestamp time.Time `json:"timestamp"`
}

// Pool partitions the generated questions by difficulty. It is written
// once by question generation and replaced wholesale on the rare re-run.
type Pool struct {
	Easy   []Question `json:"easy,omitempty"`
	Medium []Question `json:"medium,omitempty"`
	Hard   []Question `json:"hard,omitempty"`
}

// ByLevel returns the pool partition for l.
func (p Pool) ByLevel(l Level) []Question {
	switch l {
	case LevelEasy:
		return p.Easy
	case LevelMedium:
		return p.Medium
	case LevelHard:
		return p.Hard
	}
	return nil
}

// Total is the number of questions across all levels.
func (p Pool) Total() int {
	return len(p.Easy) + len(p.Medium) + len(p.Hard)
}

// State is the complete per-session review state. It is a value type: the
// engine threads copies through nodes and merges node deltas with
// [State.Apply]; [State.Clone] produces the deep copies checkpoints need.
type State struct {
	// SessionID is the unique review session identifier.
	SessionID string `json:"session_id"`

	// RoomID is the media room this session is attached to.
	RoomID string `json:"room_id"`

	// Candidate is who is being reviewed.
	Candidate Candidate `json:"candidate"`

	// ProjectTitle is the project under review.
	ProjectTitle string `json:"project_title"`

	// ProjectDescription is optional free-text context from metadata.
	ProjectDescription string `json:"project_description,omitempty"`

	// Artifact references the uploaded presentation.
	Artifact ArtifactRef `json:"artifact"`

	// Phase is the session's lifecycle position.
	Phase Phase `json:"phase"`

	// CurrentQuestion is the question awaiting an answer, nil between
	// questions.
	CurrentQuestion *Question `json:"current_question,omitempty"`

	// CurrentLevel is the ladder position questions are being drawn from.
	CurrentLevel Level `json:"current_level,omitempty"`

	// Pool holds the generated, not-yet-asked questions per level.
	Pool Pool `json:"pool"`

	// Asked lists questions in the order they were presented. It is a
	// prefix-monotone sequence drawn from the pool.
	Asked []Question `json:"asked,omitempty"`

	// Answers pairs each answered question with its evaluation, in asked
	// order.
	Answers []AnswerRecord `json:"answers,omitempty"`

	// Transcript is the session's running utterance log.
	Transcript []TranscriptEntry `json:"transcript,omitempty"`

	// LastUtterance is the reviewer's most recent spoken text.
	LastUtterance string `json:"last_utterance,omitempty"`

	// Connection is the room connection state.
	Connection ConnState `json:"connection"`

	// LastHeartbeat is the most recent sign of life from the room.
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`

	// StartedAt is when the session began.
	StartedAt time.Time `json:"started_at"`

	// QuestionStartedAt is when the current question was spoken, used for
	// the answer timeout.
	QuestionStartedAt time.Time `json:"question_started_at,omitempty"`

	// Accumulated is total session time carried across reconnects.
	Accumulated time.Duration `json:"accumulated_duration,omitempty"`

	// ErrorCount counts consecutive recoverable failures; three routes the
	// workflow to its error node.
	ErrorCount int `json:"error_count,omitempty"`

	// LastError describes the most recent failure.
	LastError string `json:"last_error,omitempty"`

	// Detection is the AI-content report, set after AI_DETECTION.
	Detection *AIDetectionReport `json:"detection,omitempty"`

	// Report is the final report, set after REPORT_GENERATION.
	Report *Report `json:"report,omitempty"`
}

// NextQuestion returns the first pool question that has not been asked,
// walking easy → medium → hard, and false when the pool is exhausted.
func (s *State) NextQuestion() (Question, bool) {
	asked := make(map[string]struct{}, len(s.Asked))
	for _, q := range s.Asked {
		asked[q.ID] = struct{}{}
	}
	for _, level := range Levels() {
		for _, q := range s.Pool.ByLevel(level) {
			if _, done := asked[q.ID]; !done {
				return q, true
			}
		}
	}
	return Question{}, false
}

// QuestionBudget is how many questions this session may still ask: the
// smaller of [MaxQuestions] and the pool size, minus questions already
// asked. Never negative.
func (s *State) QuestionBudget() int {
	ceiling := min(MaxQuestions, s.Pool.Total())
	if remaining := ceiling - len(s.Asked); remaining > 0 {
		return remaining
	}
	return 0
}

// Clone returns a deep copy of s: mutating the copy's slices, maps, or
// pointer fields never touches the original.
func (s State) Clone() State {
	out := s
	out.Pool = Pool{
		Easy:   cloneQuestions(s.Pool.Easy),
		Medium: cloneQuestions(s.Pool.Medium),
		Hard:   cloneQuestions(s.Pool.Hard),
	}
	out.Asked = cloneQuestions(s.Asked)

	if s.Answers != nil {
		out.Answers = make([]AnswerRecord, len(s.Answers))
		for i, a := range s.Answers {
			a.Evaluation.FlaggedConcerns = cloneStrings(a.Evaluation.FlaggedConcerns)
			out.Answers[i] = a
		}
	}
	if s.Transcript != nil {
		out.Transcript = append([]TranscriptEntry(nil), s.Transcript...)
	}
	if s.CurrentQuestion != nil {
		q := cloneQuestion(*s.CurrentQuestion)
		out.CurrentQuestion = &q
	}
	if s.Detection != nil {
		d := s.Detection.Clone()
		out.Detection = &d
	}
	if s.Report != nil {
		r := s.Report.Clone()
		out.Report = &r
	}
	return out
}

func cloneQuestion(q Question) Question {
	q.ExpectedPoints = cloneStrings(q.ExpectedPoints)
	return q
}

func cloneQuestions(qs []Question) []Question {
	if qs == nil {
		return nil
	}
	out := make([]Question, len(qs))
	for i, q := range qs {
		out[i] = cloneQuestion(q)
	}
	return out
}

func cloneStrings(ss []string) []string {
	if ss == nil {
		return nil
	}
	return append([]string(nil), ss...)
}
