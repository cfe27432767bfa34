package reason

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// ErrNoSlides is returned by [Reasoner.DetectAIContent] when there is
// nothing to analyse: the slide list is empty, or every per-slide call
// failed after retries.
var ErrNoSlides = errors.New("no slides could be analysed")

const (
	opDetect = "reason.detect"

	// detectConcurrency bounds how many slides are analysed at once so a
	// long deck does not burst through the provider's rate limit.
	detectConcurrency = 3

	detectTemperature = 0.1
	detectMaxTokens   = 1024
)

// detectionSchema constrains the per-slide verdict reply.
var detectionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"result": map[string]any{
			"type": "string",
			"enum": []string{"likely_ai", "possibly_ai", "likely_human", "uncertain"},
		},
		"confidence": map[string]any{
			"type":        "integer",
			"description": "Certainty of the verdict, 0 to 100.",
		},
		"indicators": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Concrete markers the verdict rests on.",
		},
		"explanation": map[string]any{
			"type":        "string",
			"description": "One short paragraph of reasoning.",
		},
	},
	"required":             []string{"result", "confidence", "indicators", "explanation"},
	"additionalProperties": false,
}

// sectionVerdict mirrors detectionSchema field for field.
type sectionVerdict struct {
	Result      string   `json:"result"`
	Confidence  int      `json:"confidence"`
	Indicators  []string `json:"indicators"`
	Explanation string   `json:"explanation"`
}

const detectSystemPrompt = `You are an expert reviewer who detects AI-generated text in technical presentations.

Judge only the writing itself. Markers of machine generation include: uniformly polished prose with no abbreviations or slide shorthand, generic claims that could describe any project, hedging boilerplate ("it is important to note"), perfectly parallel bullet structure across unrelated topics, and an absence of concrete numbers, names, or dates. Markers of human writing include: terse fragments, inconsistent capitalisation, project-specific jargon, concrete metrics, and uneven bullet depth.

Be conservative: when the slide is too short to judge, answer "uncertain" with low confidence rather than guessing.`

// detectUserPrompt renders one slide for analysis.
func detectUserPrompt(slide artifact.Slide) string {
	var sb strings.Builder
	sb.WriteString("Classify the authorship of the following presentation slide.\n\n## Slide\n")
	sb.WriteString(slide.Text())
	return sb.String()
}

// DetectAIContent classifies every slide's likely authorship and aggregates
// the verdicts into a report.
//
// Slides are analysed concurrently, at most detectConcurrency at a time. A
// slide whose call fails after retries degrades to an "uncertain" section
// rather than failing the whole task; detection is advisory and a partial
// report beats none. Only when no slide at all could be analysed does the
// task return [ErrNoSlides]. Context cancellation aborts immediately.
func (r *Reasoner) DetectAIContent(ctx context.Context, slides []artifact.Slide) (*review.AIDetectionReport, error) {
	if len(slides) == 0 {
		return nil, ErrNoSlides
	}

	sections := make([]review.SectionDetection, len(slides))
	var failures atomic.Int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(detectConcurrency)
	for i, slide := range slides {
		eg.Go(func() error {
			section, err := r.detectSlide(egCtx, slide)
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				slog.Warn("slide analysis failed, marking uncertain",
					"slide", slide.Number,
					"error", err)
				failures.Add(1)
				section = review.SectionDetection{
					SlideNumber: slide.Number,
					Result:      review.DetectionUncertain,
					Explanation: "Automated analysis did not complete for this slide.",
				}
			}
			sections[i] = section
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("ai detection: %w", err)
	}
	if int(failures.Load()) == len(slides) {
		return nil, fmt.Errorf("ai detection: %w", ErrNoSlides)
	}

	report := aggregateDetections(sections)
	slog.Info("ai detection complete",
		"slides", report.TotalSections,
		"ai_likely", report.AILikelySections,
		"overall", report.OverallResult,
		"confidence", report.OverallConfidence)
	return report, nil
}

// detectSlide runs the structured detection task for one slide.
func (r *Reasoner) detectSlide(ctx context.Context, slide artifact.Slide) (review.SectionDetection, error) {
	req := llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: detectUserPrompt(slide)}},
		SystemPrompt: detectSystemPrompt,
		SchemaName:   "slide_ai_detection",
		Schema:       detectionSchema,
		Temperature:  detectTemperature,
		MaxTokens:    detectMaxTokens,
	}
	verdict, err := structuredTask(ctx, r, opDetect, req, checkVerdict)
	if err != nil {
		return review.SectionDetection{}, fmt.Errorf("slide %d: %w", slide.Number, err)
	}
	return review.SectionDetection{
		SlideNumber: slide.Number,
		Result:      review.DetectionResult(verdict.Result),
		Confidence:  verdict.Confidence,
		Indicators:  verdict.Indicators,
		Explanation: verdict.Explanation,
	}, nil
}

// checkVerdict rejects unknown result labels and clamps confidence to
// [0, 100].
func checkVerdict(v *sectionVerdict) error {
	if !review.DetectionResult(v.Result).IsValid() {
		return fmt.Errorf("unknown detection result %q", v.Result)
	}
	v.Confidence = min(max(v.Confidence, 0), 100)
	return nil
}

// aggregateDetections folds per-slide verdicts into the artifact-level
// report. The overall verdict follows majority shares: half or more slides
// likely_ai wins likely_ai; likely_ai plus possibly_ai reaching half wins
// possibly_ai; a strict uncertain majority wins uncertain; everything else
// reads as human-written. Overall confidence is the mean of the section
// confidences.
func aggregateDetections(sections []review.SectionDetection) *review.AIDetectionReport {
	total := len(sections)
	var likelyAI, possiblyAI, uncertain, confidenceSum int
	for _, s := range sections {
		confidenceSum += s.Confidence
		switch s.Result {
		case review.DetectionLikelyAI:
			likelyAI++
		case review.DetectionPossiblyAI:
			possiblyAI++
		case review.DetectionUncertain:
			uncertain++
		}
	}

	overall := review.DetectionLikelyHuman
	switch {
	case likelyAI*2 >= total:
		overall = review.DetectionLikelyAI
	case (likelyAI+possiblyAI)*2 >= total:
		overall = review.DetectionPossiblyAI
	case uncertain*2 > total:
		overall = review.DetectionUncertain
	}

	return &review.AIDetectionReport{
		OverallResult:     overall,
		OverallConfidence: int(math.Round(float64(confidenceSum) / float64(total))),
		TotalSections:     total,
		AILikelySections:  likelyAI,
		Sections:          sections,
		Summary:           detectionSummary(overall, likelyAI, possiblyAI, total),
	}
}

// detectionSummary renders the one-paragraph digest embedded in the final
// report.
func detectionSummary(overall review.DetectionResult, likelyAI, possiblyAI, total int) string {
	switch overall {
	case review.DetectionLikelyAI:
		return fmt.Sprintf("%d of %d slides show strong machine-generation markers.", likelyAI, total)
	case review.DetectionPossiblyAI:
		return fmt.Sprintf("%d of %d slides show possible machine-generation markers.", likelyAI+possiblyAI, total)
	case review.DetectionUncertain:
		return "The detector could not reach a confident verdict for most slides."
	default:
		return fmt.Sprintf("All %d slides read as predominantly human-written.", total)
	}
}
