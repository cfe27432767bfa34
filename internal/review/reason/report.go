package reason

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

const (
	opReport = "reason.report"

	reportTemperature = 0.3
	reportMaxTokens   = 2048
)

// reportSchema constrains the final report reply.
var reportSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"technical_understanding": map[string]any{
			"type":        "integer",
			"description": "Depth of technical grasp, 1 to 10.",
		},
		"project_ownership": map[string]any{
			"type":        "integer",
			"description": "How much of the work is plausibly the candidate's own, 1 to 10.",
		},
		"communication_clarity": map[string]any{
			"type":        "integer",
			"description": "How clearly answers were expressed, 1 to 10.",
		},
		"ai_content_concerns": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Detection findings worth flagging to the reviewing team.",
		},
		"knowledge_gaps": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Topics the candidate could not speak to.",
		},
		"overall_assessment": map[string]any{
			"type":        "string",
			"description": "Narrative summary of the session, one paragraph.",
		},
		"recommendation": map[string]any{
			"type": "string",
			"enum": []string{"pass", "conditional_pass", "fail", "needs_review"},
		},
		"next_steps": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Suggested follow-up actions for the reviewing team.",
		},
	},
	"required": []string{
		"technical_understanding", "project_ownership", "communication_clarity",
		"ai_content_concerns", "knowledge_gaps", "overall_assessment",
		"recommendation", "next_steps",
	},
	"additionalProperties": false,
}

// reportDraft mirrors reportSchema.
type reportDraft struct {
	TechnicalUnderstanding int      `json:"technical_understanding"`
	ProjectOwnership       int      `json:"project_ownership"`
	CommunicationClarity   int      `json:"communication_clarity"`
	AIContentConcerns      []string `json:"ai_content_concerns"`
	KnowledgeGaps          []string `json:"knowledge_gaps"`
	OverallAssessment      string   `json:"overall_assessment"`
	Recommendation         string   `json:"recommendation"`
	NextSteps              []string `json:"next_steps"`
}

// ReportBrief is the input to [Reasoner.GenerateReport]: everything the
// session accumulated that the report draws on.
type ReportBrief struct {
	// Candidate identifies who was reviewed.
	Candidate review.Candidate

	// ProjectTitle names the project under review.
	ProjectTitle string

	// Artifact carries the upload metadata (name, slide count).
	Artifact review.ArtifactRef

	// Detection is the AI-content report, nil when detection never ran.
	Detection *review.AIDetectionReport

	// Asked lists the questions put to the candidate, in asked order.
	Asked []review.Question

	// Answers pairs answers with their evaluations, in asked order.
	// Skipped questions have no record here.
	Answers []review.AnswerRecord
}

const reportSystemPrompt = `You are a senior engineer writing the final assessment of a project review session. You have the AI-content analysis of the candidate's slides and the scored record of their spoken answers.

Weigh the evidence as a whole: one weak answer does not fail a candidate, but a pattern of vague answers combined with machine-generated slides does. Recommend "pass" only when ownership is clear, "conditional_pass" when ownership is plausible with noted gaps, "fail" when the candidate clearly does not own the work, and "needs_review" when the evidence is too thin or contradictory to call either way.`

// reportUserPrompt renders the session record for the report task.
func reportUserPrompt(brief ReportBrief) string {
	var sb strings.Builder
	sb.WriteString("Write the final assessment for the review session below.\n\n## Candidate\n")
	sb.WriteString(brief.Candidate.Name)

	sb.WriteString("\n\n## Project\n")
	sb.WriteString(brief.ProjectTitle)
	if brief.Artifact.Name != "" {
		fmt.Fprintf(&sb, "\nArtifact: %s (%d slides)", brief.Artifact.Name, brief.Artifact.SlideCount)
	}

	sb.WriteString("\n\n## AI-Content Detection\n")
	if brief.Detection == nil {
		sb.WriteString("Detection did not run for this session.")
	} else {
		fmt.Fprintf(&sb, "Overall: %s (confidence %d). %s",
			brief.Detection.OverallResult,
			brief.Detection.OverallConfidence,
			brief.Detection.Summary)
		for _, s := range brief.Detection.Sections {
			if s.Result == review.DetectionLikelyAI {
				fmt.Fprintf(&sb, "\n- Slide %d flagged likely_ai: %s", s.SlideNumber, s.Explanation)
			}
		}
	}

	sb.WriteString("\n\n## Question and Answer Record\n")
	if len(brief.Answers) == 0 {
		sb.WriteString("The candidate answered no questions.")
	} else {
		answered := answersByQuestion(brief.Answers)
		for i, q := range brief.Asked {
			fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, q.Level, q.Text)
			rec, ok := answered[q.ID]
			if !ok {
				sb.WriteString("   (skipped)\n")
				continue
			}
			fmt.Fprintf(&sb, "   Score %d/10. %s\n", rec.Evaluation.Score, rec.Evaluation.Feedback)
			for _, c := range rec.Evaluation.FlaggedConcerns {
				fmt.Fprintf(&sb, "   Concern: %s\n", c)
			}
		}
	}
	return sb.String()
}

// answersByQuestion indexes answer records by question ID.
func answersByQuestion(answers []review.AnswerRecord) map[string]review.AnswerRecord {
	m := make(map[string]review.AnswerRecord, len(answers))
	for _, a := range answers {
		m[a.QuestionID] = a
	}
	return m
}

// GenerateReport produces the session's final assessment. It works with
// whatever the session gathered: a missing detection report or an empty
// answer record narrows the evidence but does not fail the task, so even a
// session that collapsed early yields a report for the reviewing team.
func (r *Reasoner) GenerateReport(ctx context.Context, brief ReportBrief) (*review.Report, error) {
	req := llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: reportUserPrompt(brief)}},
		SystemPrompt: reportSystemPrompt,
		SchemaName:   "final_report",
		Schema:       reportSchema,
		Temperature:  reportTemperature,
		MaxTokens:    reportMaxTokens,
	}
	draft, err := structuredTask(ctx, r, opReport, req, checkReport)
	if err != nil {
		return nil, fmt.Errorf("final report: %w", err)
	}

	report := &review.Report{
		TechnicalUnderstanding: draft.TechnicalUnderstanding,
		ProjectOwnership:       draft.ProjectOwnership,
		CommunicationClarity:   draft.CommunicationClarity,
		AIContentConcerns:      draft.AIContentConcerns,
		KnowledgeGaps:          draft.KnowledgeGaps,
		OverallAssessment:      draft.OverallAssessment,
		Recommendation:         review.Recommendation(draft.Recommendation),
		NextSteps:              draft.NextSteps,
	}
	slog.Info("final report generated",
		"recommendation", report.Recommendation,
		"technical", report.TechnicalUnderstanding,
		"ownership", report.ProjectOwnership,
		"clarity", report.CommunicationClarity)
	return report, nil
}

// checkReport rejects unknown recommendations and clamps the three scores
// to [1, 10].
func checkReport(d *reportDraft) error {
	if !review.Recommendation(d.Recommendation).IsValid() {
		return fmt.Errorf("unknown recommendation %q", d.Recommendation)
	}
	d.TechnicalUnderstanding = min(max(d.TechnicalUnderstanding, 1), 10)
	d.ProjectOwnership = min(max(d.ProjectOwnership, 1), 10)
	d.CommunicationClarity = min(max(d.CommunicationClarity, 1), 10)
	return nil
}
