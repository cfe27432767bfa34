package transcript

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// DefaultMaxTerms is the default cap on lexicon size. ASR keyword boosting
// degrades when the list grows unbounded, so only the highest-ranked terms
// are kept.
const DefaultMaxTerms = 64

// LexiconOption is a functional option for configuring [BuildLexicon].
type LexiconOption func(*Lexicon)

// WithMaxTerms overrides the maximum number of terms [Lexicon.Terms] returns.
// Zero or negative disables the cap.
func WithMaxTerms(n int) LexiconOption {
	return func(l *Lexicon) {
		l.maxTerms = n
	}
}

// Lexicon is the deck-specific vocabulary extracted from a parsed slide deck.
// It feeds two consumers: the ASR keyword-boost list (so terms are recognised
// in the first place) and the correction pipeline's term list (so misheard
// terms are repaired in final transcripts).
//
// Terms are ranked by pin status, then occurrence count, then first
// appearance. A Lexicon is not safe for concurrent mutation; build it fully
// (including any [Lexicon.Add] calls) before sharing, after which Terms and
// Keywords may be called from any goroutine.
type Lexicon struct {
	entries  []lexEntry
	index    map[string]int
	maxTerms int
}

// lexEntry tracks one distinct term. The first-seen spelling is kept as
// canonical; later occurrences only bump the count.
type lexEntry struct {
	term   string
	count  int
	pinned bool
	seq    int
}

// BuildLexicon scans the parsed deck for vocabulary an off-the-shelf speech
// model is likely to miss. A token becomes a term when it is
//
//   - shaped like a technical name: an inner capital ("PostgreSQL", "gRPC"),
//     an acronym of two to six capitals ("API", "GDPR"), or a letter-digit
//     mix ("S3", "k8s", "x86"), anywhere in the deck; or
//   - a capitalised word in a slide title; or
//   - a capitalised word in body text that does not start a sentence.
//
// Runs of adjacent capitalised tokens ("Apache Kafka") are additionally kept
// as multi-word phrases so the phonetic matcher can repair them whole.
// Common function words, deck furniture ("Agenda", "Summary"), all-caps
// styling longer than six letters, bare numbers, and ordinals are excluded.
func BuildLexicon(slides []artifact.Slide, opts ...LexiconOption) *Lexicon {
	l := &Lexicon{
		index:    make(map[string]int),
		maxTerms: DefaultMaxTerms,
	}
	for _, o := range opts {
		o(l)
	}
	for _, slide := range slides {
		l.scan(slide.Title, true)
		l.scan(slide.Content, false)
		for _, bullet := range slide.Bullets {
			l.scan(bullet, false)
		}
	}
	return l
}

// Add records explicit terms that did not come from the deck, such as the
// project name or the candidate's name from session metadata. Added terms
// are pinned: they rank ahead of extracted terms and always survive the cap.
func (l *Lexicon) Add(terms ...string) {
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			l.record(t, true)
		}
	}
}

// Terms returns the ranked term list, capped at the configured maximum.
// The returned slice is a copy.
func (l *Lexicon) Terms() []string {
	ranked := make([]lexEntry, len(l.entries))
	copy(ranked, l.entries)
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.pinned != b.pinned {
			return a.pinned
		}
		if a.count != b.count {
			return a.count > b.count
		}
		return a.seq < b.seq
	})

	n := len(ranked)
	if l.maxTerms > 0 && n > l.maxTerms {
		n = l.maxTerms
	}
	out := make([]string, n)
	for i := range out {
		out[i] = ranked[i].term
	}
	return out
}

// Keywords renders the lexicon as an ASR keyword-boost list, all terms at the
// given boost. Multi-word phrases are skipped — keyword boosting operates on
// single words, and phrase components are already carried as separate terms.
func (l *Lexicon) Keywords(boost float64) []types.KeywordBoost {
	terms := l.Terms()
	kws := make([]types.KeywordBoost, 0, len(terms))
	for _, t := range terms {
		if strings.ContainsRune(t, ' ') {
			continue
		}
		kws = append(kws, types.KeywordBoost{Keyword: t, Boost: boost})
	}
	return kws
}

// record counts one occurrence of term, keeping the first-seen spelling.
func (l *Lexicon) record(term string, pinned bool) {
	key := strings.ToLower(term)
	if i, ok := l.index[key]; ok {
		l.entries[i].count++
		if pinned {
			l.entries[i].pinned = true
		}
		return
	}
	l.index[key] = len(l.entries)
	l.entries = append(l.entries, lexEntry{
		term:   term,
		count:  1,
		pinned: pinned,
		seq:    len(l.entries),
	})
}

// scan tokenises one block of slide text and records qualifying terms.
// In titles every capitalised token is eligible; in body text a capitalised
// token must not be the first word of its sentence, since sentence-initial
// capitals carry no signal.
func (l *Lexicon) scan(text string, title bool) {
	var run []string
	flushRun := func() {
		if len(run) >= 2 {
			l.record(strings.Join(run, " "), false)
		}
		run = run[:0]
	}

	sentenceStart := true
	for _, raw := range strings.Fields(text) {
		tok := cleanToken(raw)
		if tok == "" || stopwords[strings.ToLower(tok)] {
			flushRun()
			sentenceStart = endsSentence(raw)
			continue
		}

		// Slash-joined pairs like "CI/CD" qualify part by part.
		if strings.ContainsRune(tok, '/') {
			for _, part := range strings.Split(tok, "/") {
				if shaped(part) {
					l.record(part, false)
				}
			}
			flushRun()
			sentenceStart = endsSentence(raw)
			continue
		}

		eligible := title || !sentenceStart
		switch {
		case shaped(tok):
			l.record(tok, false)
			if eligible && startsUpper(tok) {
				run = append(run, tok)
			} else {
				flushRun()
			}
		case startsUpper(tok) && hasLower(tok) && eligible:
			l.record(tok, false)
			run = append(run, tok)
		default:
			flushRun()
		}

		sentenceStart = endsSentence(raw)
		if sentenceStart {
			flushRun()
		}
	}
	flushRun()
}

// stopwords are cleaned, lowercased tokens that never become terms, even when
// capitalised: function words plus generic slide headings.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true,
	"has": true, "have": true, "how": true, "if": true, "in": true,
	"into": true, "is": true, "it": true, "its": true, "my": true,
	"no": true, "not": true, "of": true, "on": true, "or": true,
	"our": true, "so": true, "that": true, "the": true, "their": true,
	"then": true, "these": true, "this": true, "those": true, "to": true,
	"via": true, "was": true, "we": true, "were": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "why": true,
	"will": true, "with": true, "you": true, "your": true,

	"agenda": true, "conclusion": true, "introduction": true,
	"overview": true, "questions": true, "summary": true, "thanks": true,
}

// cleanToken strips surrounding punctuation and possessive suffixes from a
// raw whitespace token.
func cleanToken(raw string) string {
	tok := strings.Trim(raw, ".,;:!?\"'()[]{}<>*`")
	tok = strings.TrimSuffix(tok, "'s")
	tok = strings.TrimSuffix(tok, "’s")
	return tok
}

// endsSentence reports whether the raw token terminates a sentence, which
// makes the next token sentence-initial.
func endsSentence(raw string) bool {
	trimmed := strings.TrimRight(raw, "\"')")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}

// shaped reports whether the token looks like a technical name regardless of
// sentence position: an inner capital, a short acronym, or a letter-digit
// mix that is not a plain ordinal or multiplier.
func shaped(tok string) bool {
	runes := []rune(tok)
	if len(runes) < 2 {
		return false
	}

	var upper, lower, digit int
	innerUpper := false
	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			upper++
			if i > 0 {
				innerUpper = true
			}
		case unicode.IsLower(r):
			lower++
		case unicode.IsDigit(r):
			digit++
		}
	}

	switch {
	case digit > 0 && upper+lower > 0:
		return !isNumericShorthand(tok)
	case innerUpper && lower > 0:
		return true
	case upper == len(runes) && len(runes) <= 6:
		return true
	}
	return false
}

// isNumericShorthand reports whether tok is digits plus a counting suffix:
// ordinals ("1st", "42nd") and multipliers ("10x", "50k"). These read as
// technical names to shaped but are ordinary speech.
func isNumericShorthand(tok string) bool {
	lower := strings.ToLower(tok)
	for _, suffix := range []string{"st", "nd", "rd", "th", "x", "k"} {
		num, ok := strings.CutSuffix(lower, suffix)
		if !ok || num == "" {
			continue
		}
		allDigits := true
		for _, r := range num {
			if !unicode.IsDigit(r) {
				allDigits = false
				break
			}
		}
		if allDigits {
			return true
		}
	}
	return false
}

// startsUpper reports whether the token begins with an uppercase letter.
func startsUpper(tok string) bool {
	r, _ := utf8.DecodeRuneInString(tok)
	return unicode.IsUpper(r)
}

// hasLower reports whether the token contains at least one lowercase letter.
// All-caps tokens longer than the acronym limit are slide styling, not names.
func hasLower(tok string) bool {
	for _, r := range tok {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}
