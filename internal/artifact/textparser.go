package artifact

import (
	"encoding/json"
	"strings"
)

const (
	// maxTitleLen bounds the first line of a plain-text block that is
	// promoted to a slide title. Longer first lines stay in the content.
	maxTitleLen = 80
)

// TextParser is the production [Parser]. It detects the input format
// structurally and applies the matching strategy, in order:
//
//  1. JSON — input starting with "[" or "{" is decoded as a slide array
//     or a {"slides": [...]} wrapper. Malformed JSON falls through to
//     the text strategies.
//  2. Form feed — "\f" characters delimit slides, as emitted by several
//     presentation-to-text extractors.
//  3. Markdown — "#" headings start slides, "---" rules separate them,
//     and "-", "*", "•" lines become bullets.
//  4. Plain text — blank-line separated blocks, one slide per block,
//     with a short first line promoted to the title.
//
// TextParser is stateless and safe for concurrent use.
type TextParser struct{}

// Ensure TextParser satisfies the Parser interface at compile time.
var _ Parser = (*TextParser)(nil)

// Parse implements [Parser].
func (p *TextParser) Parse(text string) ([]Slide, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmpty
	}

	if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
		if slides, ok := parseJSONSlides(trimmed); ok {
			return finalize(slides)
		}
	}

	if strings.Contains(trimmed, "\f") {
		return finalize(parseBlocks(strings.Split(trimmed, "\f")))
	}

	if hasMarkdownHeading(trimmed) {
		return finalize(parseMarkdown(trimmed))
	}

	return finalize(parseBlocks(splitOnBlankLines(trimmed)))
}

// finalize drops empty slides, renumbers the remainder 1..n, and maps a
// fully empty deck to [ErrEmpty].
func finalize(slides []Slide) ([]Slide, error) {
	out := slides[:0]
	for _, s := range slides {
		if s.IsEmpty() {
			continue
		}
		s.Number = len(out) + 1
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

// ─── JSON strategy ───────────────────────────────────────────────────────────

// jsonSlide mirrors the slide objects emitted by the upload extractor.
// "text" is accepted as an alternate name for "content".
type jsonSlide struct {
	Number  int      `json:"number"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Text    string   `json:"text"`
	Bullets []string `json:"bullets"`
}

func (j jsonSlide) toSlide() Slide {
	content := j.Content
	if content == "" {
		content = j.Text
	}
	return Slide{
		Number:  j.Number,
		Title:   strings.TrimSpace(j.Title),
		Content: strings.TrimSpace(content),
		Bullets: trimAll(j.Bullets),
	}
}

// parseJSONSlides decodes either a bare slide array or a {"slides": [...]}
// wrapper. The second return value is false when the input is not valid
// JSON of either shape, so the caller can fall through to text parsing.
func parseJSONSlides(text string) ([]Slide, bool) {
	var raw []jsonSlide
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return nil, false
		}
	} else {
		var wrapper struct {
			Slides []jsonSlide `json:"slides"`
		}
		if err := json.Unmarshal([]byte(text), &wrapper); err != nil || wrapper.Slides == nil {
			return nil, false
		}
		raw = wrapper.Slides
	}

	slides := make([]Slide, 0, len(raw))
	for _, j := range raw {
		slides = append(slides, j.toSlide())
	}
	return slides, true
}

// ─── Markdown strategy ───────────────────────────────────────────────────────

func hasMarkdownHeading(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if headingTitle(strings.TrimSpace(line)) != "" {
			return true
		}
	}
	return false
}

// headingTitle returns the heading text of a "#".."######" line, or "".
func headingTitle(line string) string {
	i := 0
	for i < len(line) && i < 6 && line[i] == '#' {
		i++
	}
	if i == 0 || i >= len(line) || line[i] != ' ' {
		return ""
	}
	return strings.TrimSpace(line[i+1:])
}

// parseMarkdown splits a markdown deck into slides. A heading starts a new
// slide and becomes its title; a horizontal rule ("---") separates slides
// without titling the next one; bullet lines accumulate as bullets and
// everything else as content.
func parseMarkdown(text string) []Slide {
	var slides []Slide
	current := Slide{}
	flush := func() {
		slides = append(slides, current)
		current = Slide{}
	}

	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		switch {
		case headingTitle(line) != "":
			if !current.IsEmpty() {
				flush()
			}
			current.Title = headingTitle(line)
		case isRule(line):
			if !current.IsEmpty() {
				flush()
			}
		case bulletText(line) != "":
			current.Bullets = append(current.Bullets, bulletText(line))
		case line != "":
			current.Content = appendLine(current.Content, line)
		}
	}
	if !current.IsEmpty() {
		flush()
	}
	return slides
}

// isRule reports whether line is a markdown horizontal rule of dashes.
func isRule(line string) bool {
	if len(line) < 3 {
		return false
	}
	return strings.Trim(line, "-") == ""
}

// ─── Plain-text strategy ─────────────────────────────────────────────────────

// splitOnBlankLines splits text into blocks separated by one or more blank
// lines. Windows line endings are normalised first.
func splitOnBlankLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}

// parseBlocks builds one slide per text block. A short first line followed
// by more text is promoted to the slide title; bullet-marked lines become
// bullets; the rest is content.
func parseBlocks(blocks []string) []Slide {
	var slides []Slide
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) == 0 {
			continue
		}

		s := Slide{}
		body := lines
		first := strings.TrimSpace(lines[0])
		if len(lines) > 1 && first != "" && len(first) <= maxTitleLen && bulletText(first) == "" {
			s.Title = first
			body = lines[1:]
		}

		for _, rawLine := range body {
			line := strings.TrimSpace(rawLine)
			if line == "" {
				continue
			}
			if b := bulletText(line); b != "" {
				s.Bullets = append(s.Bullets, b)
				continue
			}
			s.Content = appendLine(s.Content, line)
		}
		slides = append(slides, s)
	}
	return slides
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

// bulletText returns the text of a bullet line ("- x", "* x", "• x"), or "".
func bulletText(line string) string {
	for _, marker := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker))
		}
	}
	return ""
}

func appendLine(content, line string) string {
	if content == "" {
		return line
	}
	return content + "\n" + line
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.TrimSpace(s); t != "" {
			out = append(out, t)
		}
	}
	return out
}
