package reason

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// ErrEmptyPool is returned when question generation was asked to produce
// zero questions across all levels.
var ErrEmptyPool = errors.New("question generation produced an empty pool")

const (
	opQuestions = "reason.questions"

	questionTemperature = 0.7
	questionMaxTokens   = 2048
)

// questionListSchema constrains the per-level generation reply. The reply
// is an object wrapping the array because schema-constrained backends
// require a top-level object.
var questionListSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "The question, phrased for speaking aloud.",
					},
					"context": map[string]any{
						"type":        "string",
						"description": "The slide passage the question is grounded in.",
					},
					"expected_points": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Elements a strong answer would cover.",
					},
					"slide_reference": map[string]any{
						"type":        "integer",
						"description": "Slide number the question is about, 0 for the whole deck.",
					},
				},
				"required":             []string{"question", "context", "expected_points", "slide_reference"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"questions"},
	"additionalProperties": false,
}

// questionList mirrors questionListSchema.
type questionList struct {
	Questions []questionItem `json:"questions"`
}

type questionItem struct {
	Question       string   `json:"question"`
	Context        string   `json:"context"`
	ExpectedPoints []string `json:"expected_points"`
	SlideReference int      `json:"slide_reference"`
}

// QuestionBrief is the input to [Reasoner.GenerateQuestions].
type QuestionBrief struct {
	// ProjectTitle names the project under review.
	ProjectTitle string

	// ProjectDescription is an optional one-paragraph summary supplied in
	// the room metadata.
	ProjectDescription string

	// ArtifactText is the parsed slide text the questions draw from.
	ArtifactText string

	// Counts overrides how many questions to generate per level. A nil map
	// uses the defaults (five easy, five medium, three hard); an explicit
	// zero skips that level entirely.
	Counts map[review.Level]int
}

// countFor resolves the question count for one level.
func (b QuestionBrief) countFor(l review.Level) int {
	if b.Counts == nil {
		return review.DefaultQuestionCount(l)
	}
	return b.Counts[l]
}

const questionSystemPrompt = `You are a senior engineer preparing to interview a candidate about a project they claim to have built. You write questions that can only be answered well by someone who actually did the work.

Ground every question in the slide material. Phrase questions for speaking aloud: one sentence, no bullet lists, no "part a / part b". For each question record the slide passage it is grounded in, the elements a strong answer would cover, and the slide number it refers to (0 when it spans the whole deck).`

// levelGuidance steers question difficulty per ladder level.
func levelGuidance(l review.Level) string {
	switch l {
	case review.LevelEasy:
		return "Easy questions establish basic familiarity: what the project does, its main components, the technologies used."
	case review.LevelMedium:
		return "Medium questions probe design decisions: why this approach, what alternatives were considered, which trade-offs were made."
	default:
		return "Hard questions test deep ownership: edge cases, failure modes, scaling limits, and what would break first under load."
	}
}

// questionUserPrompt renders the generation request for one level.
func questionUserPrompt(brief QuestionBrief, level review.Level, count int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate exactly %d %s-level review questions about the project below.\n\n", count, level)
	sb.WriteString(levelGuidance(level))

	sb.WriteString("\n\n## Project\n")
	sb.WriteString(brief.ProjectTitle)
	if desc := strings.TrimSpace(brief.ProjectDescription); desc != "" {
		sb.WriteString("\n")
		sb.WriteString(desc)
	}

	sb.WriteString("\n\n## Slides\n")
	sb.WriteString(brief.ArtifactText)
	return sb.String()
}

// GenerateQuestions produces the session's question pool, running all three
// levels in parallel. Question order within a level is the model's; IDs are
// assigned here and are unique across the pool.
//
// Generation is all-or-nothing: if any level fails after retries the whole
// task fails, because a silently missing level would shrink the review
// without trace. Levels with a zero count are skipped. When every level is
// skipped the task returns [ErrEmptyPool].
func (r *Reasoner) GenerateQuestions(ctx context.Context, brief QuestionBrief) (*review.Pool, error) {
	levels := review.Levels()
	results := make([][]review.Question, len(levels))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, level := range levels {
		count := brief.countFor(level)
		if count <= 0 {
			continue
		}
		eg.Go(func() error {
			qs, err := r.generateLevel(egCtx, brief, level, count)
			if err != nil {
				return fmt.Errorf("%s questions: %w", level, err)
			}
			results[i] = qs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("question generation: %w", err)
	}

	pool := &review.Pool{Easy: results[0], Medium: results[1], Hard: results[2]}
	if pool.Total() == 0 {
		return nil, ErrEmptyPool
	}
	slog.Info("question pool generated",
		"easy", len(pool.Easy),
		"medium", len(pool.Medium),
		"hard", len(pool.Hard))
	return pool, nil
}

// generateLevel runs the structured generation task for one level and maps
// the items into questions with fresh IDs.
func (r *Reasoner) generateLevel(ctx context.Context, brief QuestionBrief, level review.Level, count int) ([]review.Question, error) {
	req := llm.StructuredRequest{
		Messages:     []types.Message{{Role: "user", Content: questionUserPrompt(brief, level, count)}},
		SystemPrompt: questionSystemPrompt,
		SchemaName:   "question_generation",
		Schema:       questionListSchema,
		Temperature:  questionTemperature,
		MaxTokens:    questionMaxTokens,
	}
	list, err := structuredTask(ctx, r, opQuestions, req, checkQuestionList)
	if err != nil {
		return nil, err
	}

	items := list.Questions
	if len(items) > count {
		items = items[:count]
	}
	if len(items) < count {
		slog.Warn("model returned fewer questions than requested",
			"level", level,
			"want", count,
			"got", len(items))
	}

	qs := make([]review.Question, len(items))
	for i, item := range items {
		qs[i] = review.Question{
			ID:             uuid.NewString(),
			Level:          level,
			Text:           item.Question,
			Context:        item.Context,
			ExpectedPoints: item.ExpectedPoints,
			SlideReference: max(item.SlideReference, 0),
		}
	}
	return qs, nil
}

// checkQuestionList rejects empty replies and items without question text.
func checkQuestionList(list *questionList) error {
	if len(list.Questions) == 0 {
		return errors.New("reply contains no questions")
	}
	for i, item := range list.Questions {
		if strings.TrimSpace(item.Question) == "" {
			return fmt.Errorf("question %d has empty text", i)
		}
	}
	return nil
}
