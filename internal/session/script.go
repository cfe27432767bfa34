package session

import (
	"fmt"
	"strings"

	"github.com/vivadeck/vivadeck/internal/review"
)

// Scripted reviewer lines. Questions, rephrasings, and the report come
// from the language model; everything else the reviewer says is fixed
// text so the session sounds the same regardless of provider health.
const (
	nudgeLine = "Just a reminder: once your slide deck is uploaded, we can begin."

	uploadRetryLine = "I'm sorry, I couldn't read that upload. Could you try sending it again?"

	beginLine = "I've read through your slides. Let's talk about your project."

	deeperLine = "Alright, let's go a little deeper."

	skipLine = "No problem, let's set that one aside and move on."

	repeatLine = "I'm having a moment of difficulty. Could you please repeat that?"

	reportLine = "That's everything I wanted to ask. Give me a moment to put your report together."

	rephraseInstruction = "The candidate has been silent. Briefly and encouragingly rephrase your last question in different words. Speak one sentence."
)

// greetingLine opens the session, adapting to whether the deck already
// arrived with the room metadata.
func greetingLine(s review.State) string {
	var b strings.Builder
	if name := strings.TrimSpace(s.Candidate.Name); name != "" {
		fmt.Fprintf(&b, "Hello %s! ", name)
	} else {
		b.WriteString("Hello! ")
	}
	b.WriteString("I'm your reviewer for today's session")
	if title := strings.TrimSpace(s.ProjectTitle); title != "" {
		fmt.Fprintf(&b, " on %s", title)
	}
	b.WriteString(". ")
	if s.Artifact.Present() {
		b.WriteString("I already have your slides, so give me a moment to read through them.")
	} else {
		b.WriteString("Whenever you're ready, upload your slide deck and we'll get started.")
	}
	return b.String()
}

// closingLine says goodbye and points at the report.
func closingLine(s review.State) string {
	var b strings.Builder
	b.WriteString("That wraps up our review")
	if name := strings.TrimSpace(s.Candidate.Name); name != "" {
		fmt.Fprintf(&b, ", %s", name)
	}
	b.WriteString(". Thank you for walking me through your project. Your report is on its way. Goodbye!")
	return b.String()
}

// fatalLine is the user-visible apology for an unrecoverable failure.
func fatalLine(reason string) string {
	return fmt.Sprintf("I apologize, but we've encountered an issue: %s. Please contact support.", reason)
}

// rephraseFallback restates a question verbatim when the model cannot
// produce a variant.
func rephraseFallback(q review.Question) string {
	return "Let me put that another way: " + q.Text
}
