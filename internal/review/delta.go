package review

import "time"

// Delta is the partial state update a workflow node returns. Merge rules,
// applied by [State.Apply]:
//
//   - nil pointer fields leave the state untouched; set pointers replace
//     the scalar (last write wins)
//   - slice fields append in order
//   - Pool replaces the whole pool (last write wins)
//   - CurrentQuestion is set via SetCurrent and removed via ClearCurrent;
//     when both are present, ClearCurrent wins
type Delta struct {
	// Phase advances the lifecycle phase.
	Phase *Phase

	// Artifact replaces the artifact reference.
	Artifact *ArtifactRef

	// SetCurrent makes a question current.
	SetCurrent *Question

	// ClearCurrent removes the current question.
	ClearCurrent bool

	// CurrentLevel moves the ladder position.
	CurrentLevel *Level

	// Pool replaces the question pool wholesale.
	Pool *Pool

	// AppendAsked appends to the asked-question sequence.
	AppendAsked []Question

	// AppendAnswers appends answer/evaluation pairs.
	AppendAnswers []AnswerRecord

	// AppendTranscript appends transcript entries.
	AppendTranscript []TranscriptEntry

	// LastUtterance replaces the reviewer's last spoken text.
	LastUtterance *string

	// Connection replaces the connection state.
	Connection *ConnState

	// LastHeartbeat replaces the heartbeat timestamp.
	LastHeartbeat *time.Time

	// QuestionStartedAt replaces the current question's start time.
	QuestionStartedAt *time.Time

	// Accumulated replaces the accumulated session duration.
	Accumulated *time.Duration

	// ErrorCount replaces the consecutive-error counter.
	ErrorCount *int

	// LastError replaces the last error description.
	LastError *string

	// Detection replaces the AI-content report.
	Detection *AIDetectionReport

	// Report replaces the final report.
	Report *Report
}

// Empty reports whether d carries no update at all.
func (d Delta) Empty() bool {
	return d.Phase == nil &&
		d.Artifact == nil &&
		d.SetCurrent == nil &&
		!d.ClearCurrent &&
		d.CurrentLevel == nil &&
		d.Pool == nil &&
		len(d.AppendAsked) == 0 &&
		len(d.AppendAnswers) == 0 &&
		len(d.AppendTranscript) == 0 &&
		d.LastUtterance == nil &&
		d.Connection == nil &&
		d.LastHeartbeat == nil &&
		d.QuestionStartedAt == nil &&
		d.Accumulated == nil &&
		d.ErrorCount == nil &&
		d.LastError == nil &&
		d.Detection == nil &&
		d.Report == nil
}

// Apply merges d into a copy of s and returns the result. The receiver is
// never modified; appended slices are reallocated so the result shares no
// backing arrays with s on the fields d touches.
func (s State) Apply(d Delta) State {
	if d.Phase != nil {
		s.Phase = *d.Phase
	}
	if d.Artifact != nil {
		s.Artifact = *d.Artifact
	}
	if d.SetCurrent != nil {
		q := cloneQuestion(*d.SetCurrent)
		s.CurrentQuestion = &q
	}
	if d.ClearCurrent {
		s.CurrentQuestion = nil
	}
	if d.CurrentLevel != nil {
		s.CurrentLevel = *d.CurrentLevel
	}
	if d.Pool != nil {
		s.Pool = Pool{
			Easy:   cloneQuestions(d.Pool.Easy),
			Medium: cloneQuestions(d.Pool.Medium),
			Hard:   cloneQuestions(d.Pool.Hard),
		}
	}
	if len(d.AppendAsked) > 0 {
		s.Asked = append(cloneQuestions(s.Asked), d.AppendAsked...)
	}
	if len(d.AppendAnswers) > 0 {
		s.Answers = append(append([]AnswerRecord(nil), s.Answers...), d.AppendAnswers...)
	}
	if len(d.AppendTranscript) > 0 {
		s.Transcript = append(append([]TranscriptEntry(nil), s.Transcript...), d.AppendTranscript...)
	}
	if d.LastUtterance != nil {
		s.LastUtterance = *d.LastUtterance
	}
	if d.Connection != nil {
		s.Connection = *d.Connection
	}
	if d.LastHeartbeat != nil {
		s.LastHeartbeat = *d.LastHeartbeat
	}
	if d.QuestionStartedAt != nil {
		s.QuestionStartedAt = *d.QuestionStartedAt
	}
	if d.Accumulated != nil {
		s.Accumulated = *d.Accumulated
	}
	if d.ErrorCount != nil {
		s.ErrorCount = *d.ErrorCount
	}
	if d.LastError != nil {
		s.LastError = *d.LastError
	}
	if d.Detection != nil {
		det := d.Detection.Clone()
		s.Detection = &det
	}
	if d.Report != nil {
		rep := d.Report.Clone()
		s.Report = &rep
	}
	return s
}

// Ptr returns a pointer to v, for building delta scalar fields without
// intermediate variables.
func Ptr[T any](v T) *T { return &v }
