// Package phonetic implements the [transcript.PhoneticMatcher] interface using
// Double Metaphone phonetic encoding combined with Jaro-Winkler string
// similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word in the input and for each known term. If any code from the
//     input overlaps with any code from a term, the term becomes a phonetic
//     candidate.
//
//  2. Jaro-Winkler ranking: Among phonetic candidates, the term with the
//     highest Jaro-Winkler similarity (computed on the original strings,
//     case-insensitive) is selected — provided its score exceeds the
//     configurable phonetic threshold.
//
//     When no phonetic candidate is found, a secondary pass tests pure
//     Jaro-Winkler similarity against all terms using a higher fuzzy
//     threshold (default 0.85).
//
// Multi-word terms (e.g., "Apache Kafka") are supported: the matcher computes
// phonetic codes for each word and considers the best pairwise score across
// all word pairs when ranking candidates.
//
// Callers that test many n-gram windows against the same term list should
// precompute the per-term codes once with [PrepareTerms] and use
// [Matcher.MatchPrepared].
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is a phonetic term matcher. It implements [transcript.PhoneticMatcher].
// All methods are safe for concurrent use — the Matcher is read-only after
// construction.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
// Default thresholds are 0.70 for phonetic matches and 0.85 for fuzzy
// fallback matches.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// PreparedTerms holds precomputed tokenisations and Double Metaphone code
// sets for a term list, so that repeated window matching against the same
// list avoids re-encoding every term on every call.
//
// A PreparedTerms value is read-only after [PrepareTerms] returns and is safe
// to share between goroutines.
type PreparedTerms struct {
	terms    []preparedTerm
	maxWords int
}

type preparedTerm struct {
	// original is the canonical spelling as supplied by the caller.
	original string

	// lower is the trimmed, lowercased form used for similarity scoring.
	lower string

	// tokens are the whitespace-separated words of lower.
	tokens []string

	// codes is the union of Double Metaphone codes over tokens.
	codes map[string]struct{}
}

// PrepareTerms precomputes the tokenisation and phonetic codes for each term.
// Blank terms are dropped. The result is intended for [Matcher.MatchPrepared].
func PrepareTerms(terms []string) PreparedTerms {
	pt := PreparedTerms{terms: make([]preparedTerm, 0, len(terms))}
	for _, term := range terms {
		lower := strings.ToLower(strings.TrimSpace(term))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		if len(tokens) > pt.maxWords {
			pt.maxWords = len(tokens)
		}
		pt.terms = append(pt.terms, preparedTerm{
			original: term,
			lower:    lower,
			tokens:   tokens,
			codes:    codesForTokens(tokens),
		})
	}
	return pt
}

// MaxWords returns the largest word count of any prepared term, or 0 when the
// prepared list is empty. Callers use it to bound n-gram window sizes.
func (pt PreparedTerms) MaxWords() int {
	return pt.maxWords
}

// Len returns the number of prepared (non-blank) terms.
func (pt PreparedTerms) Len() int {
	return len(pt.terms)
}

// Match attempts to find the term from terms that is most phonetically
// similar to word.
//
// word may be a single word or a space-separated phrase (n-gram). When word
// contains multiple tokens, the matcher checks whether any token phonetically
// aligns with any token in a multi-word term, then ranks by Jaro-Winkler on
// the full strings.
//
// Return values follow the [transcript.PhoneticMatcher] contract: when
// matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, terms []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, PrepareTerms(terms))
}

// MatchPrepared is [Matcher.Match] against a precomputed term list. Candidate
// selection and scoring are identical; only the per-term encoding work is
// skipped. Use this form when matching many words or windows against the same
// list.
func (m *Matcher) MatchPrepared(word string, pt PreparedTerms) (corrected string, confidence float64, matched bool) {
	if len(pt.terms) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)

	// Build the phonetic code set for the input once.
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for i := range pt.terms {
		term := &pt.terms[i]

		// Check phonetic overlap between input tokens and term tokens.
		phoneticMatch := codesOverlap(inputCodes, term.codes)

		// Compute the best Jaro-Winkler score for this term using several
		// comparison strategies to handle multi-word mismatches robustly.
		jwScore := bestJWScore(wordTokens, term.tokens, wordLower, term.lower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: term.original, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: term.original, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the term using three strategies:
//
//  1. Full-string comparison (e.g., "kuber netties" vs "kubernetes").
//  2. Space-stripped comparison (e.g., "kubernetties" vs "kubernetes").
//  3. Best per-word comparison for single-token input — the maximum JW score
//     between the input and any term token (for when one spoken word
//     corresponds to one word of a multi-word term).
//
// Strategy 3 is restricted to single-token input: scoring a multi-token
// window by its best individual word would let windows that merely contain
// a term-like word ("with kuber") outrank the precise window ("kuber
// netties").
//
// longTolerance is passed as false to use standard Jaro-Winkler scoring.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, termFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best per-word score, single-token input only.
	if len(inputTokens) == 1 && len(termTokens) > 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(inputTokens[0], tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
