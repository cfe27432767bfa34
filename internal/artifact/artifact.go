// Package artifact turns an uploaded presentation into ordered slides.
//
// The package has three concerns:
//
//  1. [Slide] — the parsed representation of one presentation slide.
//  2. [Parser] — text → slides. [TextParser] handles JSON slide dumps,
//     markdown decks, and plain text; [MockParser] returns a fixed
//     development deck and is only selected by explicit configuration.
//  3. [Fetcher] — downloads artifact text from the upload store URL
//     delivered over the room data channel.
//
// Parsed slides feed the retrieval index, the AI-content detector, and the
// question generator; none of those consume raw artifact text directly.
package artifact

import (
	"strconv"
	"strings"
)

// Slide is one parsed presentation slide.
type Slide struct {
	// Number is the 1-based slide position within the deck.
	Number int `json:"number"`

	// Title is the slide heading. May be empty for untitled slides.
	Title string `json:"title,omitempty"`

	// Content is the slide body text, excluding the title and bullets.
	Content string `json:"content"`

	// Bullets are the slide's list items, in order.
	Bullets []string `json:"bullets,omitempty"`
}

// Text renders the slide as a single block: the heading line
// ("Slide N: Title", or "Slide N" when untitled), then the content,
// then one "- " line per bullet.
func (s Slide) Text() string {
	var b strings.Builder
	b.WriteString("Slide ")
	b.WriteString(strconv.Itoa(s.Number))
	if s.Title != "" {
		b.WriteString(": ")
		b.WriteString(s.Title)
	}
	if s.Content != "" {
		b.WriteString("\n")
		b.WriteString(s.Content)
	}
	for _, bullet := range s.Bullets {
		b.WriteString("\n- ")
		b.WriteString(bullet)
	}
	return b.String()
}

// IsEmpty reports whether the slide carries no usable text beyond its number.
func (s Slide) IsEmpty() bool {
	return s.Title == "" && strings.TrimSpace(s.Content) == "" && len(s.Bullets) == 0
}
