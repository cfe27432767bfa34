package review_test

import (
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/review"
)

func q(id string, level review.Level) review.Question {
	return review.Question{
		ID:             id,
		Level:          level,
		Text:           "tell me about " + id,
		ExpectedPoints: []string{"point-" + id},
	}
}

func ladderState() review.State {
	return review.State{
		SessionID: "sess-1",
		Phase:     review.PhaseQuestioning,
		Pool: review.Pool{
			Easy:   []review.Question{q("e1", review.LevelEasy), q("e2", review.LevelEasy)},
			Medium: []review.Question{q("m1", review.LevelMedium)},
			Hard:   []review.Question{q("h1", review.LevelHard)},
		},
	}
}

// --- Phases and levels ---

func TestPhase_Terminal(t *testing.T) {
	t.Parallel()

	for _, p := range []review.Phase{
		review.PhaseUpload, review.PhaseParsing, review.PhaseAIDetection,
		review.PhaseQuestionGeneration, review.PhaseQuestioning,
		review.PhaseReportGeneration,
	} {
		if p.Terminal() {
			t.Errorf("%s.Terminal()=true, want false", p)
		}
		if !p.IsValid() {
			t.Errorf("%s.IsValid()=false, want true", p)
		}
	}
	if !review.PhaseCompleted.Terminal() || !review.PhaseError.Terminal() {
		t.Error("COMPLETED and ERROR must be terminal")
	}
	if review.Phase("QUESTIONING_HARDER").IsValid() {
		t.Error("unknown phase reported valid")
	}
}

func TestLevel_Ladder(t *testing.T) {
	t.Parallel()

	next, ok := review.LevelEasy.Next()
	if !ok || next != review.LevelMedium {
		t.Errorf("easy.Next()=(%v,%v), want (medium,true)", next, ok)
	}
	next, ok = review.LevelMedium.Next()
	if !ok || next != review.LevelHard {
		t.Errorf("medium.Next()=(%v,%v), want (hard,true)", next, ok)
	}
	if _, ok := review.LevelHard.Next(); ok {
		t.Error("hard.Next() ok=true, want false at the top of the ladder")
	}
}

func TestDefaultQuestionCount(t *testing.T) {
	t.Parallel()

	if n := review.DefaultQuestionCount(review.LevelEasy); n != 5 {
		t.Errorf("easy count=%d, want 5", n)
	}
	if n := review.DefaultQuestionCount(review.LevelMedium); n != 5 {
		t.Errorf("medium count=%d, want 5", n)
	}
	if n := review.DefaultQuestionCount(review.LevelHard); n != 3 {
		t.Errorf("hard count=%d, want 3", n)
	}
}

// --- Question selection ---

func TestState_NextQuestionWalksLadder(t *testing.T) {
	t.Parallel()

	s := ladderState()
	wantOrder := []string{"e1", "e2", "m1", "h1"}

	for _, wantID := range wantOrder {
		next, ok := s.NextQuestion()
		if !ok {
			t.Fatalf("NextQuestion ok=false before %s", wantID)
		}
		if next.ID != wantID {
			t.Fatalf("NextQuestion=%s, want %s", next.ID, wantID)
		}
		s.Asked = append(s.Asked, next)
	}

	if _, ok := s.NextQuestion(); ok {
		t.Error("NextQuestion ok=true on exhausted pool")
	}
}

func TestState_NextQuestionSkipsEmptyLevel(t *testing.T) {
	t.Parallel()

	s := review.State{
		Pool: review.Pool{
			// No easy questions at all.
			Medium: []review.Question{q("m1", review.LevelMedium)},
		},
	}
	next, ok := s.NextQuestion()
	if !ok || next.ID != "m1" {
		t.Errorf("NextQuestion=(%v,%v), want m1 via level skip", next.ID, ok)
	}
}

func TestState_QuestionBudget(t *testing.T) {
	t.Parallel()

	s := ladderState() // 4 questions total
	if got := s.QuestionBudget(); got != 4 {
		t.Errorf("budget=%d, want 4 (pool smaller than cap)", got)
	}

	s.Asked = s.Pool.Easy
	if got := s.QuestionBudget(); got != 2 {
		t.Errorf("budget=%d after 2 asked, want 2", got)
	}

	// A pool larger than the ceiling is capped at MaxQuestions.
	var big review.Pool
	for i := 0; i < 12; i++ {
		big.Easy = append(big.Easy, q(string(rune('a'+i)), review.LevelEasy))
	}
	s = review.State{Pool: big}
	if got := s.QuestionBudget(); got != review.MaxQuestions {
		t.Errorf("budget=%d for oversized pool, want %d", got, review.MaxQuestions)
	}
}

// --- Clone ---

func TestState_CloneIsDeep(t *testing.T) {
	t.Parallel()

	s := ladderState()
	s.Transcript = []review.TranscriptEntry{
		{Role: review.RoleReviewer, Text: "hello", Timestamp: time.Now()},
	}
	cur := q("e1", review.LevelEasy)
	s.CurrentQuestion = &cur
	s.Detection = &review.AIDetectionReport{
		OverallResult: review.DetectionLikelyHuman,
		Sections: []review.SectionDetection{
			{SlideNumber: 1, Result: review.DetectionUncertain, Indicators: []string{"short"}},
		},
	}
	s.Report = &review.Report{Recommendation: review.RecommendPass, NextSteps: []string{"hire"}}

	c := s.Clone()

	// Mutate every mutable corner of the clone.
	c.Pool.Easy[0].Text = "mutated"
	c.Pool.Easy[0].ExpectedPoints[0] = "mutated"
	c.Transcript[0].Text = "mutated"
	c.CurrentQuestion.Text = "mutated"
	c.Detection.Sections[0].Indicators[0] = "mutated"
	c.Report.NextSteps[0] = "mutated"

	if s.Pool.Easy[0].Text == "mutated" || s.Pool.Easy[0].ExpectedPoints[0] == "mutated" {
		t.Error("clone shares pool storage with the original")
	}
	if s.Transcript[0].Text == "mutated" {
		t.Error("clone shares transcript storage with the original")
	}
	if s.CurrentQuestion.Text == "mutated" {
		t.Error("clone shares the current question with the original")
	}
	if s.Detection.Sections[0].Indicators[0] == "mutated" {
		t.Error("clone shares detection storage with the original")
	}
	if s.Report.NextSteps[0] == "mutated" {
		t.Error("clone shares report storage with the original")
	}
}

func TestArtifactRef_Present(t *testing.T) {
	t.Parallel()

	if (review.ArtifactRef{}).Present() {
		t.Error("empty ref reported present")
	}
	if !(review.ArtifactRef{Text: "slides"}).Present() {
		t.Error("text ref reported absent")
	}
	if !(review.ArtifactRef{URL: "https://uploads/deck"}).Present() {
		t.Error("url ref reported absent")
	}
}
