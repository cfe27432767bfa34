package reason

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// ErrEmptyAnswer is returned when there is no answer text to evaluate.
// Skipped questions never reach the evaluator; this guards against caller
// bugs, not against candidates.
var ErrEmptyAnswer = errors.New("no answer to evaluate")

const (
	opEvaluate = "reason.evaluate"

	evaluateTemperature = 0.2
	evaluateMaxTokens   = 1024

	// evaluateContextChunks is how many retrieval passages ground an
	// evaluation.
	evaluateContextChunks = 3
)

// evaluationSchema constrains the evaluation reply.
var evaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score": map[string]any{
			"type":        "integer",
			"description": "1 (no understanding) to 10 (expert command of the material).",
		},
		"feedback": map[string]any{
			"type":        "string",
			"description": "Two or three sentences justifying the score.",
		},
		"demonstrates_understanding": map[string]any{
			"type":        "boolean",
			"description": "Whether the answer shows the candidate owns this part of the work.",
		},
		"flagged_concerns": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Red flags: contradictions, recited definitions, claims the slides refute.",
		},
	},
	"required":             []string{"score", "feedback", "demonstrates_understanding", "flagged_concerns"},
	"additionalProperties": false,
}

// evaluationVerdict mirrors evaluationSchema.
type evaluationVerdict struct {
	Score                     int      `json:"score"`
	Feedback                  string   `json:"feedback"`
	DemonstratesUnderstanding bool     `json:"demonstrates_understanding"`
	FlaggedConcerns           []string `json:"flagged_concerns"`
}

const evaluateSystemPrompt = `You are a senior engineer scoring a candidate's spoken answer in a project review. The answer text comes from speech recognition: ignore filler words, false starts, and transcription artefacts; judge only the substance.

Score from 1 (no understanding) to 10 (expert command of the material). An answer that hits the expected points in the candidate's own words scores high; a vague answer that could apply to any project scores low. Flag concerns such as contradicting the slides, reciting a definition instead of describing their own work, or deflecting the question.`

// evaluateUserPrompt renders the question, grounding material, and answer.
func evaluateUserPrompt(q review.Question, grounding, answer string) string {
	var sb strings.Builder
	sb.WriteString("Score the candidate's answer to the following question.\n\n## Question\n")
	sb.WriteString(q.Text)

	if len(q.ExpectedPoints) > 0 {
		sb.WriteString("\n\nExpected points:\n")
		for _, p := range q.ExpectedPoints {
			sb.WriteString("- ")
			sb.WriteString(p)
			sb.WriteString("\n")
		}
	}

	if grounding != "" {
		sb.WriteString("\n## Reference Material\n")
		sb.WriteString(grounding)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Candidate Answer\n")
	sb.WriteString(answer)
	return sb.String()
}

// EvaluateAnswer scores one answer against its question.
//
// When a context provider is attached, the evaluation is grounded in the
// artifact passages most relevant to the question; a failed lookup degrades
// to the context captured at generation time rather than failing the task.
func (r *Reasoner) EvaluateAnswer(ctx context.Context, sessionID string, q review.Question, answer string) (*review.Evaluation, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}

	grounding := q.Context
	if r.grounds != nil {
		passages, err := r.grounds.ContextFor(ctx, sessionID, q.Text, evaluateContextChunks)
		switch {
		case err != nil:
			slog.Warn("evaluation grounding lookup failed, using question context",
				"session_id", sessionID,
				"error", err)
		case passages != "":
			grounding = passages
		}
	}

	req := llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: evaluateUserPrompt(q, grounding, answer)}},
		SystemPrompt: evaluateSystemPrompt,
		SchemaName:   "answer_evaluation",
		Schema:       evaluationSchema,
		Temperature:  evaluateTemperature,
		MaxTokens:    evaluateMaxTokens,
	}
	verdict, err := structuredTask(ctx, r, opEvaluate, req, checkEvaluation)
	if err != nil {
		return nil, fmt.Errorf("evaluate answer to %q: %w", q.ID, err)
	}

	return &review.Evaluation{
		QuestionID:                q.ID,
		Score:                     verdict.Score,
		Feedback:                  verdict.Feedback,
		DemonstratesUnderstanding: verdict.DemonstratesUnderstanding,
		FlaggedConcerns:           verdict.FlaggedConcerns,
	}, nil
}

// checkEvaluation clamps the score to [1, 10].
func checkEvaluation(v *evaluationVerdict) error {
	v.Score = min(max(v.Score, 1), 10)
	return nil
}
