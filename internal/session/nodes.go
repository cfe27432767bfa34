package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
	"github.com/vivadeck/vivadeck/internal/workflow"
)

// initialise greets the candidate and opens the UPLOAD phase, or PARSING
// when the room metadata already carried the deck.
func (n *Nodes) initialise(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	phase := review.PhaseUpload
	if state.Artifact.Present() {
		phase = review.PhaseParsing
	}
	delta.Phase = &phase
	n.speak(ctx, &delta, greetingLine(state))
	slog.Info("session opened",
		"session_id", state.SessionID,
		"candidate", state.Candidate.Name,
		"project", state.ProjectTitle,
		"artifact_present", state.Artifact.Present(),
	)
	return state.Apply(delta), routeContinue, nil
}

// awaitUpload idles until an upload notification lands, nudging the
// candidate once per quiet interval. Each pass makes at most one wait so
// the routing node between passes keeps the failure counter authoritative.
func (n *Nodes) awaitUpload(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	if state.Artifact.Present() {
		return state, routeContinue, nil
	}

	nudge := time.NewTimer(n.cfg.NudgeInterval)
	defer nudge.Stop()

	select {
	case ref, ok := <-n.uploads:
		if !ok {
			return state, "", errors.New("upload notifications ended")
		}
		var delta review.Delta
		delta.Artifact = &ref
		slog.Info("artifact received",
			"session_id", state.SessionID,
			"file", ref.Name,
			"by_url", ref.URL != "",
		)
		return state.Apply(delta), routeContinue, nil
	case <-nudge.C:
		var delta review.Delta
		n.speak(ctx, &delta, nudgeLine)
		return state.Apply(delta), routeContinue, nil
	case <-ctx.Done():
		return state, "", ctx.Err()
	}
}

// routeUpload steers the upload loop: parse when an artifact is present,
// abandon after too many consecutive ingestion failures, otherwise keep
// waiting.
func (n *Nodes) routeUpload(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	switch {
	case state.Artifact.Present():
		return state, routeParse, nil
	case state.ErrorCount >= maxUploadAttempts:
		return state, routeFail, nil
	default:
		return state, routeWait, nil
	}
}

// parse resolves the artifact to text, splits it into slides, and ingests
// it into the retrieval index. Failures clear the artifact and send the
// session back through the upload loop.
func (n *Nodes) parse(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	if state.Phase != review.PhaseParsing {
		delta.Phase = review.Ptr(review.PhaseParsing)
	}

	ref := state.Artifact
	text := ref.Text
	if text == "" && ref.URL != "" {
		fetched, err := n.fetch.Fetch(ctx, ref.URL)
		if err != nil {
			return n.parseFailed(ctx, state, delta, fmt.Errorf("fetch artifact: %w", err))
		}
		text = fetched
	}

	slides, err := n.parser.Parse(text)
	if err != nil {
		return n.parseFailed(ctx, state, delta, fmt.Errorf("parse artifact: %w", err))
	}
	chunks, err := n.index.Ingest(ctx, state.SessionID, text)
	if err != nil {
		return n.parseFailed(ctx, state, delta, fmt.Errorf("ingest artifact: %w", err))
	}

	ref.Text = text
	ref.SlideCount = len(slides)
	ref.ChunkCount = chunks
	delta.Artifact = &ref
	delta.ErrorCount = review.Ptr(0)
	delta.LastError = review.Ptr("")
	slog.Info("artifact ingested",
		"session_id", state.SessionID,
		"file", ref.Name,
		"slides", len(slides),
		"chunks", chunks,
	)
	return state.Apply(delta), routeOK, nil
}

// parseFailed clears the rejected artifact, bumps the failure counter, and
// routes back into the upload loop. The retry request is only spoken while
// another attempt remains; on the final failure route_upload delivers the
// fatal apology instead.
func (n *Nodes) parseFailed(ctx context.Context, state review.State, delta review.Delta, cause error) (review.State, workflow.Route, error) {
	if err := ctx.Err(); err != nil {
		return state.Apply(delta), "", err
	}
	attempt := state.ErrorCount + 1
	slog.Warn("artifact ingestion failed",
		"session_id", state.SessionID,
		"attempt", attempt,
		"error", cause,
	)
	delta.Artifact = &review.ArtifactRef{}
	delta.ErrorCount = review.Ptr(attempt)
	delta.LastError = review.Ptr("we could not process your presentation")
	if attempt < maxUploadAttempts {
		n.speak(ctx, &delta, uploadRetryLine)
	}
	return state.Apply(delta), routeRetry, nil
}

// detectAI runs the AI-content detector over the parsed slides. Detection
// is advisory: when it cannot run, the review continues without a report.
func (n *Nodes) detectAI(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	delta.Phase = review.Ptr(review.PhaseAIDetection)

	slides, err := n.parser.Parse(state.Artifact.Text)
	if err == nil {
		var rep *review.AIDetectionReport
		rep, err = n.reason.DetectAIContent(ctx, slides)
		if err == nil {
			delta.Detection = rep
			slog.Info("ai detection complete",
				"session_id", state.SessionID,
				"result", rep.OverallResult,
				"confidence", rep.OverallConfidence,
				"flagged", rep.AILikelySections,
			)
			return state.Apply(delta), routeOK, nil
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return state.Apply(delta), "", ctxErr
	}
	slog.Warn("ai detection unavailable", "session_id", state.SessionID, "error", err)
	delta.LastError = review.Ptr("AI-content detection was unavailable")
	return state.Apply(delta), routeOK, nil
}

// generateQuestions populates the question pool from the ingested deck.
// An empty or failed generation is fatal; there is no interview without
// questions.
func (n *Nodes) generateQuestions(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	delta.Phase = review.Ptr(review.PhaseQuestionGeneration)

	pool, err := n.reason.GenerateQuestions(ctx, reason.QuestionBrief{
		ProjectTitle:       state.ProjectTitle,
		ProjectDescription: state.ProjectDescription,
		ArtifactText:       state.Artifact.Text,
		Counts:             n.cfg.QuestionCounts,
	})
	if err != nil {
		delta.ErrorCount = review.Ptr(state.ErrorCount + 1)
		delta.LastError = review.Ptr("question generation failed")
		return state.Apply(delta), "", fmt.Errorf("generate questions: %w", err)
	}

	delta.Pool = pool
	if first, ok := poolEntryLevel(*pool); ok {
		delta.CurrentLevel = &first
	}
	slog.Info("question pool ready",
		"session_id", state.SessionID,
		"easy", len(pool.Easy),
		"medium", len(pool.Medium),
		"hard", len(pool.Hard),
	)
	n.speak(ctx, &delta, beginLine)
	return state.Apply(delta), routeOK, nil
}

// askQuestion speaks the next pool question, walking easy → medium → hard,
// and marks it current. With the pool or the question cap exhausted it
// clears the current marker so route_question moves to the report.
func (n *Nodes) askQuestion(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	if state.Phase != review.PhaseQuestioning {
		delta.Phase = review.Ptr(review.PhaseQuestioning)
	}

	q, ok := state.NextQuestion()
	if !ok || state.QuestionBudget() == 0 {
		delta.ClearCurrent = true
		return state.Apply(delta), routeNext, nil
	}

	n.checkpoint(ctx, state, checkpoint.Origin{
		Node:        string(NodeAskQuestion),
		Reason:      checkpoint.ReasonBeforeQuestion,
		Description: "before asking " + q.ID,
	})

	// The answer window opens before synthesis so a candidate answering
	// over the tail of the question still counts.
	askedAt := time.Now()
	if err := n.voice.Say(ctx, q.Text); err != nil {
		delta.ErrorCount = review.Ptr(state.ErrorCount + 1)
		delta.LastError = review.Ptr("we could not continue the conversation")
		return state.Apply(delta), "", fmt.Errorf("speak question %s: %w", q.ID, err)
	}

	delta.SetCurrent = &q
	delta.CurrentLevel = &q.Level
	delta.AppendAsked = []review.Question{q}
	delta.QuestionStartedAt = &askedAt
	delta.LastUtterance = &q.Text
	delta.AppendTranscript = []review.TranscriptEntry{reviewerEntry(q.Text, askedAt)}
	slog.Info("question asked",
		"session_id", state.SessionID,
		"question_id", q.ID,
		"level", q.Level,
		"asked", len(state.Asked)+1,
	)
	return state.Apply(delta), routeNext, nil
}

// routeQuestion sends an open question to evaluation and an exhausted
// session to the report. It is also the QUESTIONING re-entry point for
// resumed sessions: a cleared current question with pool budget left only
// happens on resume, and goes back to the ladder.
func (n *Nodes) routeQuestion(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	if state.CurrentQuestion != nil {
		return state, routeEvaluate, nil
	}
	if _, ok := state.NextQuestion(); ok && state.QuestionBudget() > 0 {
		return state, routeAsk, nil
	}
	return state, routeReport, nil
}

// evaluate waits for the candidate's answer to the current question and
// scores it. A silent answer window earns one rephrased follow-up; a
// second earns a skip without evaluation. A failed evaluation task earns
// one repeat request before the question is likewise skipped — but a third
// consecutive failure routes to the error sink instead of skipping again,
// so a dead evaluator cannot burn through the pool and report on nothing.
func (n *Nodes) evaluate(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	if state.CurrentQuestion == nil {
		return state, routeNext, nil
	}
	q := *state.CurrentQuestion
	var delta review.Delta

	u, err := n.awaitAnswer(ctx, state.QuestionStartedAt)
	if timedOut(ctx, err) {
		n.followUp(ctx, &delta, q)
		u, err = n.awaitAnswer(ctx, state.QuestionStartedAt)
		if timedOut(ctx, err) {
			slog.Info("question skipped, no answer",
				"session_id", state.SessionID,
				"question_id", q.ID,
			)
			n.speak(ctx, &delta, skipLine)
			delta.ClearCurrent = true
			return state.Apply(delta), routeNext, nil
		}
	}
	if err != nil {
		return state.Apply(delta), "", err
	}

	delta.AppendTranscript = append(delta.AppendTranscript, candidateEntry(u.Text, u.At))
	eval, evalErr := n.reason.EvaluateAnswer(ctx, state.SessionID, q, u.Text)
	if evalErr != nil && ctx.Err() == nil {
		slog.Warn("evaluation failed, asking candidate to repeat",
			"session_id", state.SessionID,
			"question_id", q.ID,
			"error", evalErr,
		)
		n.speak(ctx, &delta, repeatLine)
		if again, askErr := n.awaitAnswer(ctx, state.QuestionStartedAt); askErr == nil {
			u = again
			delta.AppendTranscript = append(delta.AppendTranscript, candidateEntry(u.Text, u.At))
			eval, evalErr = n.reason.EvaluateAnswer(ctx, state.SessionID, q, u.Text)
		}
	}
	if evalErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state.Apply(delta), "", ctxErr
		}
		failures := state.ErrorCount + 1
		delta.ClearCurrent = true
		delta.ErrorCount = review.Ptr(failures)
		delta.LastError = review.Ptr("answer evaluation failed")
		if failures >= maxEvaluationFailures {
			slog.Error("evaluation failures exhausted, abandoning session",
				"session_id", state.SessionID,
				"question_id", q.ID,
				"failures", failures,
				"error", evalErr,
			)
			return state.Apply(delta), routeFail, nil
		}
		slog.Warn("evaluation abandoned, skipping question",
			"session_id", state.SessionID,
			"question_id", q.ID,
			"failures", failures,
			"error", evalErr,
		)
		return state.Apply(delta), routeNext, nil
	}

	answeredAt := u.At
	if answeredAt.IsZero() {
		answeredAt = time.Now()
	}
	delta.AppendAnswers = []review.AnswerRecord{{
		QuestionID: q.ID,
		Answer:     u.Text,
		Evaluation: *eval,
		AnsweredAt: answeredAt,
	}}
	delta.ClearCurrent = true
	delta.ErrorCount = review.Ptr(0)

	applied := state.Apply(delta)
	n.checkpoint(ctx, applied, checkpoint.Origin{
		Node:        string(NodeEvaluate),
		Reason:      checkpoint.ReasonAfterEvaluation,
		Description: "scored " + q.ID,
	})
	slog.Info("answer evaluated",
		"session_id", state.SessionID,
		"question_id", q.ID,
		"score", eval.Score,
		"understood", eval.DemonstratesUnderstanding,
	)
	return applied, routeNext, nil
}

// transitionLevel advances the difficulty ladder when the next question
// sits on a higher level, and moves to the report once the pool or the
// question cap is spent.
func (n *Nodes) transitionLevel(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	next, ok := state.NextQuestion()
	if !ok || state.QuestionBudget() == 0 {
		return state, routeReport, nil
	}

	var delta review.Delta
	if next.Level != state.CurrentLevel {
		delta.CurrentLevel = &next.Level
		slog.Info("difficulty advanced",
			"session_id", state.SessionID,
			"from", state.CurrentLevel,
			"to", next.Level,
		)
		n.speak(ctx, &delta, deeperLine)
	}
	return state.Apply(delta), routeAsk, nil
}

// generateReport runs the final-report task over the asked questions and
// scored answers.
func (n *Nodes) generateReport(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	delta.Phase = review.Ptr(review.PhaseReportGeneration)
	n.speak(ctx, &delta, reportLine)

	rep, err := n.reason.GenerateReport(ctx, reason.ReportBrief{
		Candidate:    state.Candidate,
		ProjectTitle: state.ProjectTitle,
		Artifact:     state.Artifact,
		Detection:    state.Detection,
		Asked:        state.Asked,
		Answers:      state.Answers,
	})
	if err != nil {
		delta.ErrorCount = review.Ptr(state.ErrorCount + 1)
		delta.LastError = review.Ptr("report generation failed")
		return state.Apply(delta), "", fmt.Errorf("generate report: %w", err)
	}

	delta.Report = rep
	slog.Info("report generated",
		"session_id", state.SessionID,
		"recommendation", rep.Recommendation,
		"ownership", rep.ProjectOwnership,
		"answers", len(state.Answers),
	)
	return state.Apply(delta), routeDone, nil
}

// closing completes the session, says goodbye, and waits for the candidate
// to leave, bounded by the disconnect grace. It never fails: by this point
// the session's outcome is already on the state.
func (n *Nodes) closing(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	var delta review.Delta
	if state.Phase == review.PhaseReportGeneration {
		delta.Phase = review.Ptr(review.PhaseCompleted)
	}
	n.speak(ctx, &delta, closingLine(state))
	applied := state.Apply(delta)

	grace := time.NewTimer(n.cfg.DisconnectGrace)
	defer grace.Stop()
	select {
	case <-n.disconnected:
	case <-grace.C:
	case <-ctx.Done():
	}
	slog.Info("session closed", "session_id", state.SessionID, "phase", applied.Phase)
	return applied, "", nil
}

// onError is the failure sink: it apologises with the recorded reason,
// marks the ERROR phase, and checkpoints the final state for post-mortem.
func (n *Nodes) onError(ctx context.Context, state review.State) (review.State, workflow.Route, error) {
	why := state.LastError
	if why == "" {
		why = "an unexpected internal error"
	}

	var delta review.Delta
	delta.Phase = review.Ptr(review.PhaseError)
	n.speak(ctx, &delta, fatalLine(why))

	applied := state.Apply(delta)
	n.checkpoint(ctx, applied, checkpoint.Origin{
		Node:        string(NodeOnError),
		Reason:      checkpoint.ReasonEmergencyPause,
		Description: why,
	})
	slog.Error("session failed",
		"session_id", state.SessionID,
		"phase", state.Phase,
		"reason", why,
	)
	return applied, "", nil
}

// awaitAnswer blocks for the next candidate utterance that postdates the
// current question, bounded by the answer timeout. Utterances spoken
// before the question went out are discarded as stale.
func (n *Nodes) awaitAnswer(ctx context.Context, askedAt time.Time) (Utterance, error) {
	waitCtx, cancel := context.WithTimeout(ctx, n.cfg.AnswerTimeout)
	defer cancel()

	for {
		u, err := n.voice.NextUtterance(waitCtx)
		if err != nil {
			return Utterance{}, err
		}
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		if !u.At.IsZero() && u.At.Before(askedAt) {
			continue
		}
		return u, nil
	}
}

// followUp restates the current question after a silent answer window,
// preferring a model-phrased variant over the scripted fallback.
func (n *Nodes) followUp(ctx context.Context, d *review.Delta, q review.Question) {
	line, err := n.voice.Respond(ctx, rephraseInstruction)
	if err == nil && strings.TrimSpace(line) != "" {
		d.AppendTranscript = append(d.AppendTranscript, reviewerEntry(line, time.Now()))
		d.LastUtterance = &line
		return
	}
	if err != nil {
		slog.Warn("rephrase failed, using scripted fallback", "error", err)
	}
	n.speak(ctx, d, rephraseFallback(q))
}

// speak voices a scripted line and, when it was delivered, stamps it on
// d's transcript. Delivery failure is logged and absorbed; callers that
// cannot proceed without speech use the voice directly.
func (n *Nodes) speak(ctx context.Context, d *review.Delta, line string) bool {
	if err := n.voice.Say(ctx, line); err != nil {
		slog.Warn("utterance failed", "error", err)
		return false
	}
	d.AppendTranscript = append(d.AppendTranscript, reviewerEntry(line, time.Now()))
	d.LastUtterance = &line
	return true
}

// checkpoint saves best-effort: a failed save is logged, never fatal.
func (n *Nodes) checkpoint(ctx context.Context, state review.State, origin checkpoint.Origin) {
	if _, err := n.checkpoints.Save(ctx, state, origin); err != nil {
		slog.Warn("checkpoint save failed",
			"session_id", state.SessionID,
			"node", origin.Node,
			"reason", origin.Reason,
			"error", err,
		)
	}
}

// timedOut reports whether err is the answer window expiring rather than
// the session being cancelled.
func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// poolEntryLevel is the ladder level of the first question the pool will
// serve.
func poolEntryLevel(p review.Pool) (review.Level, bool) {
	for _, l := range review.Levels() {
		if len(p.ByLevel(l)) > 0 {
			return l, true
		}
	}
	return "", false
}

func reviewerEntry(text string, at time.Time) review.TranscriptEntry {
	return review.TranscriptEntry{Role: review.RoleReviewer, Text: text, Timestamp: at}
}

func candidateEntry(text string, at time.Time) review.TranscriptEntry {
	if at.IsZero() {
		at = time.Now()
	}
	return review.TranscriptEntry{Role: review.RoleCandidate, Text: text, Timestamp: at}
}
