package retrieval

import (
	"strings"

	"github.com/vivadeck/vivadeck/internal/artifact"
)

const (
	// DefaultChunkBudget is the maximum chunk length in characters,
	// roughly 500 tokens.
	DefaultChunkBudget = 2000

	// DefaultChunkOverlap is the tail of a chunk repeated at the start of
	// its successor so context survives the split.
	DefaultChunkOverlap = 200
)

// chunker splits slides into chunks of at most budget characters, carrying
// an overlap window across consecutive chunks of the same slide.
type chunker struct {
	budget  int
	overlap int
}

// split converts slides into chunks with slide attribution and
// session-monotone indexes starting at 0. Embedding and SessionID are left
// for the caller to fill.
func (c chunker) split(slides []artifact.Slide) []Chunk {
	var chunks []Chunk
	for _, slide := range slides {
		for _, text := range c.splitSlide(slide) {
			chunks = append(chunks, Chunk{
				SlideNumber: slide.Number,
				SlideTitle:  slide.Title,
				Content:     text,
				Index:       len(chunks),
			})
		}
	}
	return chunks
}

// splitSlide renders the slide as its text block ("Slide N: Title" heading,
// content, bullets) and returns it whole when it fits the budget. Oversized
// blocks are split on whitespace: words are greedy-packed up to the budget,
// and each continuation chunk starts with the overlap tail of its
// predecessor.
func (c chunker) splitSlide(slide artifact.Slide) []string {
	block := slide.Text()
	if len(block) <= c.budget {
		return []string{block}
	}
	return c.packWords(strings.Fields(block))
}

func (c chunker) packWords(words []string) []string {
	var chunks []string
	var cur string

	for _, word := range words {
		// A single word longer than the budget has no boundary to split
		// on; hard-cut it so packing terminates.
		for len(word) > c.budget {
			if cur != "" {
				chunks = append(chunks, cur)
				cur = ""
			}
			chunks = append(chunks, word[:c.budget])
			word = word[c.budget:]
		}
		if word == "" {
			continue
		}

		switch {
		case cur == "":
			cur = word
		case len(cur)+1+len(word) <= c.budget:
			cur += " " + word
		default:
			chunks = append(chunks, cur)
			// Seed the next chunk with the overlap tail, unless doing so
			// would immediately blow the budget.
			tail := overlapTail(cur, c.overlap)
			if tail != "" && len(tail)+1+len(word) <= c.budget {
				cur = tail + " " + word
			} else {
				cur = word
			}
		}
	}
	if cur != "" {
		chunks = append(chunks, cur)
	}
	return chunks
}

// overlapTail returns at most the last n characters of text, trimmed
// forward to the next word boundary so the overlap never starts mid-word.
// Returns "" when no boundary falls inside the window.
func overlapTail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	i := strings.IndexByte(tail, ' ')
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(tail[i:])
}
