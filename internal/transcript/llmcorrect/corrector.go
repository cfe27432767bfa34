// Package llmcorrect implements a language-model-based transcript correction
// stage that resolves lexicon-term misspellings not caught by the phonetic
// matcher.
//
// The [Corrector] sends the raw transcript text to an [llm.Provider] along
// with the list of known deck terms. The model is instructed (via a
// conservative system prompt) to fix only words that look like misheard
// technical terms and to return a structured JSON response containing the
// corrected text and an itemised list of substitutions.
//
// Every substitution the model reports is verified against an actual
// token-level diff of its output; edits the model made but did not declare
// are reverted, so the stage can never silently rewrite the candidate's
// answer.
//
// This stage runs exclusively between utterance finalisation and answer
// evaluation — never on the real-time voice path — so the small latency
// penalty (100–200 ms) is acceptable. When the LLM response cannot be parsed,
// the corrector returns the original text unchanged rather than surfacing an
// error, ensuring pipeline robustness.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/types"
)

const (
	defaultTemperature = 0.1
)

// systemPromptTemplate is the base system prompt. The term list is appended
// at call time so each request carries the current session's deck vocabulary.
const systemPromptTemplate = `You are a transcript correction assistant for a spoken technical project review.

Your task: fix misheard technical terms in the provided transcript text.

Rules:
- ONLY correct words that appear to be misheard versions of the known terms listed below (project names, library names, tool names, acronyms).
- Do NOT change ordinary words, grammar, punctuation, or sentence structure.
- Do NOT paraphrase or improve the speaker's wording in any way.
- Be conservative — if you are not confident a word is a misheard term, leave it unchanged.
- Preserve the original capitalisation style of the surrounding text where possible.
- Terms in the corrected text should match the canonical spelling from the term list exactly.

Known terms:
%s

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrected_text": "<full corrected transcript>",
  "corrections": [
    {"original": "<original word>", "corrected": "<corrected word>", "confidence": <0.0-1.0>}
  ]
}

If no corrections are needed, return an empty corrections array and corrected_text equal to the input.`

// Correction captures a single word-level substitution produced by the LLM
// corrector. The pipeline maps these to [transcript.Correction] values with
// Method set to "llm".
type Correction struct {
	// Original is the word as it appeared in the input transcript.
	Original string

	// Corrected is the replacement term suggested by the LLM.
	Corrected string

	// Confidence is the LLM's reported confidence for this substitution (0.0–1.0).
	Confidence float64
}

// llmResponse is the expected JSON structure returned by the LLM.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
	Corrections   []struct {
		Original   string  `json:"original"`
		Corrected  string  `json:"corrected"`
		Confidence float64 `json:"confidence"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the LLM sampling temperature. Lower values produce
// more deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// Corrector uses an [llm.Provider] to correct term misspellings in transcript
// text. It is safe for concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for correction, construct the [llm.Provider] with that
// model configured, rather than overriding per-request.
type Corrector struct {
	llm         llm.Provider
	temperature float64
}

// New returns a new [Corrector] backed by the given [llm.Provider].
// Apply [Option] values to override the default temperature.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:         provider,
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct sends text to the LLM with the term list as context and asks it to
// fix misheard technical terms. lowConfidenceSpans are highlighted in the
// user message as candidate spans that may be misheard.
//
// The model's output is verified before it is accepted: token-level changes
// that do not correspond to a declared correction are reverted to the
// original wording, and declared corrections that do not appear in the output
// are dropped from the returned list.
//
// When the LLM response is unparseable, Correct returns the original text
// unchanged with a nil corrections slice and a nil error (graceful
// degradation — the pipeline must continue).
//
// Context cancellation and network errors are returned as non-nil errors.
func (c *Corrector) Correct(
	ctx context.Context,
	text string,
	terms []string,
	lowConfidenceSpans []string,
) (string, []Correction, error) {
	if len(terms) == 0 {
		return text, nil, nil
	}

	sysPrompt := buildSystemPrompt(terms)

	userMsg := text
	if len(lowConfidenceSpans) > 0 {
		userMsg = fmt.Sprintf(
			"Transcript: %s\n\nLow-confidence spans that may be misheard: %s",
			text,
			strings.Join(lowConfidenceSpans, ", "),
		)
	}

	req := llm.CompletionRequest{
		SystemPrompt: sysPrompt,
		Temperature:  c.temperature,
		Messages: []types.Message{
			{Role: "user", Content: userMsg},
		},
	}

	resp, err := c.llm.Complete(ctx, req)
	if err != nil {
		return text, nil, fmt.Errorf("llm corrector: complete: %w", err)
	}

	corrected, corrections, parseErr := parseResponse(resp.Content, text)
	if parseErr != nil {
		// Unparseable response: return original unchanged, no error.
		return text, nil, nil //nolint:nilerr // intentional graceful fallback
	}

	verified, verifiedCorrections := verifyCorrectedText(text, corrected, corrections)
	return verified, verifiedCorrections, nil
}

// buildSystemPrompt formats the system prompt template with the term list.
func buildSystemPrompt(terms []string) string {
	var sb strings.Builder
	for _, t := range terms {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteByte('\n')
	}
	return fmt.Sprintf(systemPromptTemplate, sb.String())
}

// parseResponse attempts to unmarshal the LLM output into an [llmResponse].
// It strips markdown code fences before parsing.
func parseResponse(content, originalText string) (string, []Correction, error) {
	cleaned := stripMarkdown(content)

	var r llmResponse
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return "", nil, fmt.Errorf("llm corrector: parse response: %w", err)
	}

	if r.CorrectedText == "" {
		return originalText, nil, nil
	}

	corrections := make([]Correction, 0, len(r.Corrections))
	for _, c := range r.Corrections {
		if c.Original == c.Corrected || c.Original == "" {
			continue
		}
		corrections = append(corrections, Correction{
			Original:   c.Original,
			Corrected:  c.Corrected,
			Confidence: c.Confidence,
		})
	}

	return r.CorrectedText, corrections, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
