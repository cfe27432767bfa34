package artifact

import (
	"errors"
	"fmt"
)

// ErrEmpty is returned by parsers when the input yields no usable slides.
var ErrEmpty = errors.New("artifact contains no slides")

// Parser converts raw artifact text into an ordered slide sequence.
//
// Implementations must be deterministic: the same input always produces the
// same slides, so re-ingesting an artifact yields identical retrieval chunks.
type Parser interface {
	// Parse returns the slides extracted from text, in presentation order
	// with 1-based numbering. It returns [ErrEmpty] when no slide carries
	// any usable content.
	Parse(text string) ([]Slide, error)
}

// NewParser returns the parser selected by mode.
//
// Recognised modes:
//   - "" or "text": [TextParser], the production parser.
//   - "mock": [MockParser], a fixed development deck. Never selected
//     implicitly; the caller must opt in through configuration.
func NewParser(mode string) (Parser, error) {
	switch mode {
	case "", "text":
		return &TextParser{}, nil
	case "mock":
		return &MockParser{}, nil
	default:
		return nil, fmt.Errorf("unknown artifact parser %q (want \"text\" or \"mock\")", mode)
	}
}
