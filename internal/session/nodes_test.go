package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
	"github.com/vivadeck/vivadeck/internal/workflow"
)

// nextResult scripts one NextUtterance outcome. A timeout entry blocks
// until the caller's wait context expires.
type nextResult struct {
	u       Utterance
	timeout bool
}

// fakeVoice records spoken lines and serves scripted candidate utterances.
// An exhausted script behaves like silence.
type fakeVoice struct {
	said       []string
	sayErr     error
	respond    string
	respondErr error
	responds   []string
	script     []nextResult
}

func (v *fakeVoice) Say(_ context.Context, text string) error {
	if v.sayErr != nil {
		return v.sayErr
	}
	v.said = append(v.said, text)
	return nil
}

func (v *fakeVoice) Respond(_ context.Context, instruction string) (string, error) {
	v.responds = append(v.responds, instruction)
	return v.respond, v.respondErr
}

func (v *fakeVoice) NextUtterance(ctx context.Context) (Utterance, error) {
	if len(v.script) == 0 {
		<-ctx.Done()
		return Utterance{}, ctx.Err()
	}
	next := v.script[0]
	v.script = v.script[1:]
	if next.timeout {
		<-ctx.Done()
		return Utterance{}, ctx.Err()
	}
	return next.u, nil
}

type evalCall struct {
	sessionID  string
	questionID string
	answer     string
}

// fakeReasoner serves fixed task results and records the briefs it saw.
type fakeReasoner struct {
	detectResult *review.AIDetectionReport
	detectErr    error
	detectCalls  int

	poolResult     *review.Pool
	poolErr        error
	questionBriefs []reason.QuestionBrief

	evalResult  *review.Evaluation
	evalErr     error
	evalErrOnce bool
	evalCalls   []evalCall

	reportResult *review.Report
	reportErr    error
	reportBriefs []reason.ReportBrief
}

func (r *fakeReasoner) DetectAIContent(_ context.Context, _ []artifact.Slide) (*review.AIDetectionReport, error) {
	r.detectCalls++
	return r.detectResult, r.detectErr
}

func (r *fakeReasoner) GenerateQuestions(_ context.Context, brief reason.QuestionBrief) (*review.Pool, error) {
	r.questionBriefs = append(r.questionBriefs, brief)
	return r.poolResult, r.poolErr
}

func (r *fakeReasoner) EvaluateAnswer(_ context.Context, sessionID string, q review.Question, answer string) (*review.Evaluation, error) {
	r.evalCalls = append(r.evalCalls, evalCall{sessionID: sessionID, questionID: q.ID, answer: answer})
	if r.evalErr != nil {
		err := r.evalErr
		if r.evalErrOnce {
			r.evalErr = nil
		}
		return nil, err
	}
	return r.evalResult, nil
}

func (r *fakeReasoner) GenerateReport(_ context.Context, brief reason.ReportBrief) (*review.Report, error) {
	r.reportBriefs = append(r.reportBriefs, brief)
	return r.reportResult, r.reportErr
}

type ingestCall struct {
	sessionID string
	text      string
}

type fakeIndex struct {
	chunks int
	err    error
	calls  []ingestCall
}

func (i *fakeIndex) Ingest(_ context.Context, sessionID, text string) (int, error) {
	i.calls = append(i.calls, ingestCall{sessionID: sessionID, text: text})
	if i.err != nil {
		return 0, i.err
	}
	return i.chunks, nil
}

type fakeFetch struct {
	text string
	err  error
	urls []string
}

func (f *fakeFetch) Fetch(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

type fakeParser struct {
	slides int
	err    error
	inputs []string
}

func (p *fakeParser) Parse(text string) ([]artifact.Slide, error) {
	p.inputs = append(p.inputs, text)
	if p.err != nil {
		return nil, p.err
	}
	out := make([]artifact.Slide, p.slides)
	for i := range out {
		out[i] = artifact.Slide{Number: i + 1, Title: fmt.Sprintf("Slide %d", i+1), Content: "body"}
	}
	return out, nil
}

type nodeFixture struct {
	nodes        *Nodes
	voice        *fakeVoice
	brain        *fakeReasoner
	index        *fakeIndex
	fetch        *fakeFetch
	parser       *fakeParser
	store        *checkpoint.MemoryStore
	uploads      chan review.ArtifactRef
	disconnected chan struct{}
}

func newNodeFixture(t *testing.T) *nodeFixture {
	t.Helper()
	f := &nodeFixture{
		voice:        &fakeVoice{},
		brain:        &fakeReasoner{},
		index:        &fakeIndex{chunks: 4},
		fetch:        &fakeFetch{},
		parser:       &fakeParser{slides: 3},
		store:        checkpoint.NewMemoryStore(0),
		uploads:      make(chan review.ArtifactRef, 4),
		disconnected: make(chan struct{}),
	}
	nodes, err := New(Config{
		Voice:           f.voice,
		Reasoner:        f.brain,
		Index:           f.index,
		Checkpoints:     f.store,
		Uploads:         f.uploads,
		Disconnected:    f.disconnected,
		Parser:          f.parser,
		Fetcher:         f.fetch,
		AnswerTimeout:   40 * time.Millisecond,
		NudgeInterval:   20 * time.Millisecond,
		DisconnectGrace: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.nodes = nodes
	return f
}

// reasons lists the checkpoint reasons saved for the session, in order.
func (f *nodeFixture) reasons(t *testing.T, sessionID string) []checkpoint.Reason {
	t.Helper()
	metas, err := f.store.List(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	out := make([]checkpoint.Reason, len(metas))
	for i, m := range metas {
		out[i] = m.Reason
	}
	return out
}

func baseState() review.State {
	return review.State{
		SessionID:    "sess-1",
		RoomID:       "room-1",
		Candidate:    review.Candidate{ID: "cand-1", Name: "Ada"},
		ProjectTitle: "Flood Sensor Mesh",
		Phase:        review.PhaseUpload,
		StartedAt:    time.Now(),
	}
}

func question(id string, level review.Level) review.Question {
	return review.Question{ID: id, Level: level, Text: "Tell me about " + id + "."}
}

func saidContains(said []string, substr string) bool {
	for _, s := range said {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func TestNew_RequiresCollaborators(t *testing.T) {
	base := Config{
		Voice:       &fakeVoice{},
		Reasoner:    &fakeReasoner{},
		Index:       &fakeIndex{},
		Checkpoints: checkpoint.NewMemoryStore(0),
		Uploads:     make(chan review.ArtifactRef),
	}

	if _, err := New(base); err != nil {
		t.Fatalf("complete config rejected: %v", err)
	}

	tests := []struct {
		name  string
		strip func(*Config)
	}{
		{"voice", func(c *Config) { c.Voice = nil }},
		{"reasoner", func(c *Config) { c.Reasoner = nil }},
		{"index", func(c *Config) { c.Index = nil }},
		{"checkpoints", func(c *Config) { c.Checkpoints = nil }},
		{"uploads", func(c *Config) { c.Uploads = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.strip(&cfg)
			if _, err := New(cfg); err == nil {
				t.Errorf("config without %s accepted", tt.name)
			}
		})
	}
}

func TestInitialise_GreetsIntoUpload(t *testing.T) {
	f := newNodeFixture(t)
	state := baseState()
	state.Phase = ""

	got, route, err := f.nodes.initialise(context.Background(), state)
	if err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if route != routeContinue {
		t.Errorf("route = %q, want %q", route, routeContinue)
	}
	if got.Phase != review.PhaseUpload {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseUpload)
	}
	if len(f.voice.said) != 1 || !strings.Contains(f.voice.said[0], "Ada") {
		t.Errorf("greeting = %v, want one line naming the candidate", f.voice.said)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Role != review.RoleReviewer {
		t.Errorf("transcript = %+v, want one reviewer entry", got.Transcript)
	}
}

func TestInitialise_SkipsUploadWhenArtifactPresent(t *testing.T) {
	f := newNodeFixture(t)
	state := baseState()
	state.Phase = ""
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	got, _, err := f.nodes.initialise(context.Background(), state)
	if err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if got.Phase != review.PhaseParsing {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseParsing)
	}
	if !saidContains(f.voice.said, "already have your slides") {
		t.Errorf("greeting = %v, want the pre-uploaded variant", f.voice.said)
	}
}

func TestAwaitUpload_ReceivesArtifact(t *testing.T) {
	f := newNodeFixture(t)
	f.uploads <- review.ArtifactRef{URL: "https://uploads.test/deck.txt", Name: "deck.txt"}

	got, route, err := f.nodes.awaitUpload(context.Background(), baseState())
	if err != nil {
		t.Fatalf("awaitUpload: %v", err)
	}
	if route != routeContinue {
		t.Errorf("route = %q, want %q", route, routeContinue)
	}
	if got.Artifact.URL != "https://uploads.test/deck.txt" || got.Artifact.Name != "deck.txt" {
		t.Errorf("artifact = %+v, want the uploaded reference", got.Artifact)
	}
}

func TestAwaitUpload_NudgesAfterQuietInterval(t *testing.T) {
	f := newNodeFixture(t)

	got, route, err := f.nodes.awaitUpload(context.Background(), baseState())
	if err != nil {
		t.Fatalf("awaitUpload: %v", err)
	}
	if route != routeContinue {
		t.Errorf("route = %q, want %q", route, routeContinue)
	}
	if got.Artifact.Present() {
		t.Error("artifact appeared without an upload")
	}
	if len(f.voice.said) != 1 || f.voice.said[0] != nudgeLine {
		t.Errorf("said = %v, want the nudge", f.voice.said)
	}
}

func TestAwaitUpload_PassesThroughWhenArtifactPresent(t *testing.T) {
	f := newNodeFixture(t)
	state := baseState()
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	_, route, err := f.nodes.awaitUpload(context.Background(), state)
	if err != nil {
		t.Fatalf("awaitUpload: %v", err)
	}
	if route != routeContinue {
		t.Errorf("route = %q, want %q", route, routeContinue)
	}
	if len(f.voice.said) != 0 {
		t.Errorf("said = %v, want silence", f.voice.said)
	}
}

func TestRouteUpload(t *testing.T) {
	tests := []struct {
		name  string
		state func(*review.State)
		want  workflow.Route
	}{
		{"artifact present", func(s *review.State) { s.Artifact.Text = "Slide 1: A" }, routeParse},
		{"failures exhausted", func(s *review.State) { s.ErrorCount = maxUploadAttempts }, routeFail},
		{"still waiting", func(s *review.State) {}, routeWait},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newNodeFixture(t)
			state := baseState()
			tt.state(&state)

			_, route, err := f.nodes.routeUpload(context.Background(), state)
			if err != nil {
				t.Fatalf("routeUpload: %v", err)
			}
			if route != tt.want {
				t.Errorf("route = %q, want %q", route, tt.want)
			}
		})
	}
}

func TestParse_IngestsArtifactText(t *testing.T) {
	f := newNodeFixture(t)
	state := baseState()
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview", Name: "deck.txt"}
	state.ErrorCount = 1

	got, route, err := f.nodes.parse(context.Background(), state)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if route != routeOK {
		t.Errorf("route = %q, want %q", route, routeOK)
	}
	if got.Phase != review.PhaseParsing {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseParsing)
	}
	if got.Artifact.SlideCount != 3 || got.Artifact.ChunkCount != 4 {
		t.Errorf("artifact = %+v, want 3 slides and 4 chunks", got.Artifact)
	}
	if got.ErrorCount != 0 {
		t.Errorf("error count = %d, want reset to 0", got.ErrorCount)
	}
	if len(f.index.calls) != 1 || f.index.calls[0].sessionID != "sess-1" || f.index.calls[0].text != "Slide 1: Overview" {
		t.Errorf("ingest calls = %+v", f.index.calls)
	}
	if len(f.fetch.urls) != 0 {
		t.Errorf("fetched %v for a text artifact", f.fetch.urls)
	}
}

func TestParse_FetchesURLArtifact(t *testing.T) {
	f := newNodeFixture(t)
	f.fetch.text = "Slide 1: Fetched"
	state := baseState()
	state.Artifact = review.ArtifactRef{URL: "https://uploads.test/deck.txt"}

	got, route, err := f.nodes.parse(context.Background(), state)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if route != routeOK {
		t.Errorf("route = %q, want %q", route, routeOK)
	}
	if len(f.fetch.urls) != 1 || f.fetch.urls[0] != "https://uploads.test/deck.txt" {
		t.Errorf("fetch urls = %v", f.fetch.urls)
	}
	if got.Artifact.Text != "Slide 1: Fetched" {
		t.Errorf("artifact text = %q, want the fetched body", got.Artifact.Text)
	}
	if len(f.index.calls) != 1 || f.index.calls[0].text != "Slide 1: Fetched" {
		t.Errorf("ingest calls = %+v, want the fetched text", f.index.calls)
	}
}

func TestParse_FailureClearsArtifactAndRetries(t *testing.T) {
	f := newNodeFixture(t)
	f.index.err = errors.New("pgvector down")
	state := baseState()
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	got, route, err := f.nodes.parse(context.Background(), state)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if route != routeRetry {
		t.Errorf("route = %q, want %q", route, routeRetry)
	}
	if got.Artifact.Present() {
		t.Errorf("artifact = %+v, want cleared", got.Artifact)
	}
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
	if len(f.voice.said) != 1 || f.voice.said[0] != uploadRetryLine {
		t.Errorf("said = %v, want the retry request", f.voice.said)
	}
}

func TestParse_FinalFailureStaysQuiet(t *testing.T) {
	f := newNodeFixture(t)
	f.parser.err = artifact.ErrEmpty
	state := baseState()
	state.Artifact = review.ArtifactRef{Text: "x"}
	state.ErrorCount = maxUploadAttempts - 1

	got, route, err := f.nodes.parse(context.Background(), state)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if route != routeRetry {
		t.Errorf("route = %q, want %q", route, routeRetry)
	}
	if got.ErrorCount != maxUploadAttempts {
		t.Errorf("error count = %d, want %d", got.ErrorCount, maxUploadAttempts)
	}
	// route_upload speaks the fatal apology next; a retry request here
	// would contradict it.
	if len(f.voice.said) != 0 {
		t.Errorf("said = %v, want silence on the final failure", f.voice.said)
	}
}

func TestDetectAI_StoresReport(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.detectResult = &review.AIDetectionReport{
		OverallResult:     review.DetectionPossiblyAI,
		OverallConfidence: 61,
		TotalSections:     3,
	}
	state := baseState()
	state.Phase = review.PhaseParsing
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview", SlideCount: 3}

	got, route, err := f.nodes.detectAI(context.Background(), state)
	if err != nil {
		t.Fatalf("detectAI: %v", err)
	}
	if route != routeOK {
		t.Errorf("route = %q, want %q", route, routeOK)
	}
	if got.Phase != review.PhaseAIDetection {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseAIDetection)
	}
	if got.Detection == nil || got.Detection.OverallResult != review.DetectionPossiblyAI {
		t.Errorf("detection = %+v, want the stored report", got.Detection)
	}
	if f.brain.detectCalls != 1 {
		t.Errorf("detect calls = %d, want 1", f.brain.detectCalls)
	}
}

func TestDetectAI_DegradesWhenDetectorFails(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.detectErr = errors.New("model offline")
	state := baseState()
	state.Phase = review.PhaseParsing
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	got, route, err := f.nodes.detectAI(context.Background(), state)
	if err != nil {
		t.Fatalf("detectAI: %v", err)
	}
	if route != routeOK {
		t.Errorf("route = %q, want %q", route, routeOK)
	}
	if got.Detection != nil {
		t.Errorf("detection = %+v, want nil on degradation", got.Detection)
	}
	if got.LastError == "" {
		t.Error("degradation not recorded on last error")
	}
}

func TestGenerateQuestions_PopulatesPool(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.poolResult = &review.Pool{
		Easy:   []review.Question{question("q-e1", review.LevelEasy), question("q-e2", review.LevelEasy)},
		Medium: []review.Question{question("q-m1", review.LevelMedium)},
	}
	state := baseState()
	state.Phase = review.PhaseAIDetection
	state.ProjectDescription = "A mesh of river sensors."
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	got, route, err := f.nodes.generateQuestions(context.Background(), state)
	if err != nil {
		t.Fatalf("generateQuestions: %v", err)
	}
	if route != routeOK {
		t.Errorf("route = %q, want %q", route, routeOK)
	}
	if got.Phase != review.PhaseQuestionGeneration {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseQuestionGeneration)
	}
	if got.Pool.Total() != 3 {
		t.Errorf("pool total = %d, want 3", got.Pool.Total())
	}
	if got.CurrentLevel != review.LevelEasy {
		t.Errorf("current level = %s, want %s", got.CurrentLevel, review.LevelEasy)
	}
	if len(f.brain.questionBriefs) != 1 {
		t.Fatalf("briefs = %d, want 1", len(f.brain.questionBriefs))
	}
	brief := f.brain.questionBriefs[0]
	if brief.ProjectTitle != "Flood Sensor Mesh" || brief.ProjectDescription != "A mesh of river sensors." || brief.ArtifactText != "Slide 1: Overview" {
		t.Errorf("brief = %+v, want the session context", brief)
	}
	if !saidContains(f.voice.said, "Let's talk about your project") {
		t.Errorf("said = %v, want the opening line", f.voice.said)
	}
}

func TestGenerateQuestions_FailureIsFatal(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.poolErr = reason.ErrEmptyPool
	state := baseState()
	state.Phase = review.PhaseAIDetection
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview"}

	got, _, err := f.nodes.generateQuestions(context.Background(), state)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", got.ErrorCount)
	}
	if got.LastError == "" {
		t.Error("last error not recorded")
	}
}

func questioningState() review.State {
	state := baseState()
	state.Phase = review.PhaseQuestioning
	state.Artifact = review.ArtifactRef{Text: "Slide 1: Overview", SlideCount: 1, ChunkCount: 2}
	state.CurrentLevel = review.LevelEasy
	state.Pool = review.Pool{
		Easy:   []review.Question{question("q-e1", review.LevelEasy), question("q-e2", review.LevelEasy)},
		Medium: []review.Question{question("q-m1", review.LevelMedium)},
	}
	return state
}

func TestAskQuestion_SpeaksAndMarksCurrent(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()
	state.Phase = review.PhaseQuestionGeneration

	got, route, err := f.nodes.askQuestion(context.Background(), state)
	if err != nil {
		t.Fatalf("askQuestion: %v", err)
	}
	if route != routeNext {
		t.Errorf("route = %q, want %q", route, routeNext)
	}
	if got.Phase != review.PhaseQuestioning {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseQuestioning)
	}
	if got.CurrentQuestion == nil || got.CurrentQuestion.ID != "q-e1" {
		t.Fatalf("current = %+v, want q-e1", got.CurrentQuestion)
	}
	if len(got.Asked) != 1 || got.Asked[0].ID != "q-e1" {
		t.Errorf("asked = %+v, want [q-e1]", got.Asked)
	}
	if got.QuestionStartedAt.IsZero() {
		t.Error("question start time not recorded")
	}
	if len(f.voice.said) != 1 || f.voice.said[0] != got.CurrentQuestion.Text {
		t.Errorf("said = %v, want the question text", f.voice.said)
	}
	if rs := f.reasons(t, "sess-1"); len(rs) != 1 || rs[0] != checkpoint.ReasonBeforeQuestion {
		t.Errorf("checkpoint reasons = %v, want [before_question]", rs)
	}
}

func TestAskQuestion_ExhaustedPoolClearsCurrent(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()
	state.Asked = append(append(append([]review.Question{},
		state.Pool.Easy...), state.Pool.Medium...), state.Pool.Hard...)

	got, route, err := f.nodes.askQuestion(context.Background(), state)
	if err != nil {
		t.Fatalf("askQuestion: %v", err)
	}
	if route != routeNext {
		t.Errorf("route = %q, want %q", route, routeNext)
	}
	if got.CurrentQuestion != nil {
		t.Errorf("current = %+v, want nil", got.CurrentQuestion)
	}
	if len(f.voice.said) != 0 {
		t.Errorf("said = %v, want silence", f.voice.said)
	}
}

func TestAskQuestion_HonoursQuestionCap(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()
	// Fill the pool and the asked list so the cap, not the pool, is the
	// limiting factor.
	state.Pool = review.Pool{}
	for i := range review.MaxQuestions + 2 {
		q := question(fmt.Sprintf("q-%d", i), review.LevelEasy)
		state.Pool.Easy = append(state.Pool.Easy, q)
		if i < review.MaxQuestions {
			state.Asked = append(state.Asked, q)
		}
	}

	got, _, err := f.nodes.askQuestion(context.Background(), state)
	if err != nil {
		t.Fatalf("askQuestion: %v", err)
	}
	if got.CurrentQuestion != nil {
		t.Errorf("current = %+v, want nil at the cap", got.CurrentQuestion)
	}
	if len(got.Asked) != review.MaxQuestions {
		t.Errorf("asked = %d, want unchanged %d", len(got.Asked), review.MaxQuestions)
	}
}

func TestRouteQuestion(t *testing.T) {
	f := newNodeFixture(t)

	state := questioningState()
	q := state.Pool.Easy[0]
	state.CurrentQuestion = &q
	if _, route, _ := f.nodes.routeQuestion(context.Background(), state); route != routeEvaluate {
		t.Errorf("route with current = %q, want %q", route, routeEvaluate)
	}

	// No current question but pool left: a resumed session going back to
	// the ladder.
	state.CurrentQuestion = nil
	if _, route, _ := f.nodes.routeQuestion(context.Background(), state); route != routeAsk {
		t.Errorf("route on resume = %q, want %q", route, routeAsk)
	}

	state.Asked = append(append(append([]review.Question{},
		state.Pool.Easy...), state.Pool.Medium...), state.Pool.Hard...)
	if _, route, _ := f.nodes.routeQuestion(context.Background(), state); route != routeReport {
		t.Errorf("route when exhausted = %q, want %q", route, routeReport)
	}
}

func evaluatingState() review.State {
	state := questioningState()
	q := state.Pool.Easy[0]
	state.CurrentQuestion = &q
	state.Asked = []review.Question{q}
	state.QuestionStartedAt = time.Now().Add(-time.Second)
	return state
}

func TestEvaluate_ScoresAnswer(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.script = []nextResult{{u: Utterance{Text: "I built the ingest path myself.", At: time.Now()}}}
	f.brain.evalResult = &review.Evaluation{
		QuestionID:                "q-e1",
		Score:                     8,
		Feedback:                  "Confident and specific.",
		DemonstratesUnderstanding: true,
	}
	state := evaluatingState()
	state.ErrorCount = 1

	got, route, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if route != routeNext {
		t.Errorf("route = %q, want %q", route, routeNext)
	}
	if got.CurrentQuestion != nil {
		t.Errorf("current = %+v, want cleared", got.CurrentQuestion)
	}
	if len(got.Answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(got.Answers))
	}
	rec := got.Answers[0]
	if rec.QuestionID != "q-e1" || rec.Answer != "I built the ingest path myself." || rec.Evaluation.Score != 8 {
		t.Errorf("record = %+v", rec)
	}
	if got.ErrorCount != 0 {
		t.Errorf("error count = %d, want reset", got.ErrorCount)
	}
	if len(f.brain.evalCalls) != 1 || f.brain.evalCalls[0].questionID != "q-e1" {
		t.Errorf("eval calls = %+v", f.brain.evalCalls)
	}
	var candidateEntries int
	for _, e := range got.Transcript {
		if e.Role == review.RoleCandidate {
			candidateEntries++
		}
	}
	if candidateEntries != 1 {
		t.Errorf("candidate transcript entries = %d, want 1", candidateEntries)
	}
	if rs := f.reasons(t, "sess-1"); len(rs) != 1 || rs[0] != checkpoint.ReasonAfterEvaluation {
		t.Errorf("checkpoint reasons = %v, want [after_evaluation]", rs)
	}
}

func TestEvaluate_DiscardsStaleUtterances(t *testing.T) {
	f := newNodeFixture(t)
	asked := time.Now().Add(-time.Second)
	f.voice.script = []nextResult{
		{u: Utterance{Text: "earlier chatter", At: asked.Add(-time.Minute)}},
		{u: Utterance{Text: "the real answer", At: time.Now()}},
	}
	f.brain.evalResult = &review.Evaluation{QuestionID: "q-e1", Score: 6, Feedback: "ok"}
	state := evaluatingState()
	state.QuestionStartedAt = asked

	got, _, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "the real answer" {
		t.Errorf("answers = %+v, want only the post-question utterance", got.Answers)
	}
}

func TestEvaluate_TimeoutRephrasesThenSkips(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.respond = "Could you walk me through that part again?"
	// No scripted utterances: both waits run into the answer timeout.
	state := evaluatingState()

	got, route, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if route != routeNext {
		t.Errorf("route = %q, want %q", route, routeNext)
	}
	if got.CurrentQuestion != nil {
		t.Errorf("current = %+v, want cleared on skip", got.CurrentQuestion)
	}
	if len(got.Answers) != 0 {
		t.Errorf("answers = %+v, want none for a skipped question", got.Answers)
	}
	if len(f.voice.responds) != 1 {
		t.Errorf("rephrase requests = %d, want 1", len(f.voice.responds))
	}
	if !saidContains(f.voice.said, "move on") {
		t.Errorf("said = %v, want the skip line", f.voice.said)
	}
	if len(f.brain.evalCalls) != 0 {
		t.Errorf("eval calls = %+v, want none", f.brain.evalCalls)
	}
}

func TestEvaluate_AnswerAfterRephrase(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.respond = "Put differently, what was your part in it?"
	f.voice.script = []nextResult{
		{timeout: true},
		{u: Utterance{Text: "Right, I wrote the scheduler.", At: time.Now()}},
	}
	f.brain.evalResult = &review.Evaluation{QuestionID: "q-e1", Score: 7, Feedback: "solid"}
	state := evaluatingState()

	got, _, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "Right, I wrote the scheduler." {
		t.Errorf("answers = %+v, want the post-rephrase answer", got.Answers)
	}
	if len(f.voice.responds) != 1 {
		t.Errorf("rephrase requests = %d, want 1", len(f.voice.responds))
	}
}

func TestEvaluate_RephraseFallsBackToScript(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.respondErr = errors.New("model offline")
	f.voice.script = []nextResult{
		{timeout: true},
		{u: Utterance{Text: "It polls every five seconds.", At: time.Now()}},
	}
	f.brain.evalResult = &review.Evaluation{QuestionID: "q-e1", Score: 5, Feedback: "thin"}
	state := evaluatingState()

	got, _, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !saidContains(f.voice.said, "Let me put that another way") {
		t.Errorf("said = %v, want the scripted rephrase", f.voice.said)
	}
	if len(got.Answers) != 1 {
		t.Errorf("answers = %d, want 1", len(got.Answers))
	}
}

func TestEvaluate_EvaluationFailureRecoversOnRepeat(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.script = []nextResult{
		{u: Utterance{Text: "mumbled words", At: time.Now()}},
		{u: Utterance{Text: "I said it polls every five seconds.", At: time.Now()}},
	}
	f.brain.evalErr = errors.New("schema mismatch")
	f.brain.evalErrOnce = true
	f.brain.evalResult = &review.Evaluation{QuestionID: "q-e1", Score: 6, Feedback: "clear enough"}
	state := evaluatingState()

	got, _, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(f.brain.evalCalls) != 2 {
		t.Fatalf("eval calls = %d, want 2", len(f.brain.evalCalls))
	}
	if f.brain.evalCalls[1].answer != "I said it polls every five seconds." {
		t.Errorf("second eval answer = %q", f.brain.evalCalls[1].answer)
	}
	if !saidContains(f.voice.said, "repeat that") {
		t.Errorf("said = %v, want the repeat request", f.voice.said)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "I said it polls every five seconds." {
		t.Errorf("answers = %+v, want the repeated answer scored", got.Answers)
	}
}

func TestEvaluate_PersistentEvaluationFailureSkips(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.script = []nextResult{
		{u: Utterance{Text: "first try", At: time.Now()}},
		{u: Utterance{Text: "second try", At: time.Now()}},
	}
	f.brain.evalErr = errors.New("schema mismatch")
	state := evaluatingState()

	got, route, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if route != routeNext {
		t.Errorf("route = %q, want %q", route, routeNext)
	}
	if len(got.Answers) != 0 {
		t.Errorf("answers = %+v, want none", got.Answers)
	}
	if got.CurrentQuestion != nil {
		t.Error("current question not cleared")
	}
	if got.ErrorCount != 1 || got.LastError == "" {
		t.Errorf("error state = (%d, %q), want the failure recorded", got.ErrorCount, got.LastError)
	}
}

func TestEvaluate_FailuresExhaustedAbandons(t *testing.T) {
	f := newNodeFixture(t)
	f.voice.script = []nextResult{
		{u: Utterance{Text: "first try", At: time.Now()}},
		{u: Utterance{Text: "second try", At: time.Now()}},
	}
	f.brain.evalErr = errors.New("schema mismatch")
	state := evaluatingState()
	state.ErrorCount = maxEvaluationFailures - 1

	got, route, err := f.nodes.evaluate(context.Background(), state)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if route != routeFail {
		t.Errorf("route = %q, want %q", route, routeFail)
	}
	if got.ErrorCount != maxEvaluationFailures {
		t.Errorf("error count = %d, want %d", got.ErrorCount, maxEvaluationFailures)
	}
	if len(got.Answers) != 0 {
		t.Errorf("answers = %+v, want none", got.Answers)
	}
}

func TestTransitionLevel(t *testing.T) {
	t.Run("same level keeps asking", func(t *testing.T) {
		f := newNodeFixture(t)
		state := questioningState()
		state.Asked = []review.Question{state.Pool.Easy[0]}

		got, route, err := f.nodes.transitionLevel(context.Background(), state)
		if err != nil {
			t.Fatalf("transitionLevel: %v", err)
		}
		if route != routeAsk {
			t.Errorf("route = %q, want %q", route, routeAsk)
		}
		if got.CurrentLevel != review.LevelEasy {
			t.Errorf("level = %s, want unchanged easy", got.CurrentLevel)
		}
		if len(f.voice.said) != 0 {
			t.Errorf("said = %v, want silence", f.voice.said)
		}
	})

	t.Run("advances when level exhausted", func(t *testing.T) {
		f := newNodeFixture(t)
		state := questioningState()
		state.Asked = []review.Question{state.Pool.Easy[0], state.Pool.Easy[1]}

		got, route, err := f.nodes.transitionLevel(context.Background(), state)
		if err != nil {
			t.Fatalf("transitionLevel: %v", err)
		}
		if route != routeAsk {
			t.Errorf("route = %q, want %q", route, routeAsk)
		}
		if got.CurrentLevel != review.LevelMedium {
			t.Errorf("level = %s, want %s", got.CurrentLevel, review.LevelMedium)
		}
		if len(f.voice.said) != 1 || f.voice.said[0] != deeperLine {
			t.Errorf("said = %v, want the level transition line", f.voice.said)
		}
	})

	t.Run("pool exhausted moves to report", func(t *testing.T) {
		f := newNodeFixture(t)
		state := questioningState()
		state.Asked = append(append([]review.Question{}, state.Pool.Easy...), state.Pool.Medium...)

		_, route, err := f.nodes.transitionLevel(context.Background(), state)
		if err != nil {
			t.Fatalf("transitionLevel: %v", err)
		}
		if route != routeReport {
			t.Errorf("route = %q, want %q", route, routeReport)
		}
	})

	t.Run("cap reached moves to report", func(t *testing.T) {
		f := newNodeFixture(t)
		state := questioningState()
		state.Pool = review.Pool{}
		for i := range review.MaxQuestions + 1 {
			q := question(fmt.Sprintf("q-%d", i), review.LevelEasy)
			state.Pool.Easy = append(state.Pool.Easy, q)
			if i < review.MaxQuestions {
				state.Asked = append(state.Asked, q)
			}
		}

		_, route, err := f.nodes.transitionLevel(context.Background(), state)
		if err != nil {
			t.Fatalf("transitionLevel: %v", err)
		}
		if route != routeReport {
			t.Errorf("route = %q, want %q", route, routeReport)
		}
	})
}

func TestGenerateReport_StoresReport(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.reportResult = &review.Report{
		TechnicalUnderstanding: 7,
		ProjectOwnership:       8,
		CommunicationClarity:   6,
		OverallAssessment:      "Owns the work.",
		Recommendation:         review.RecommendPass,
	}
	state := questioningState()
	state.Detection = &review.AIDetectionReport{OverallResult: review.DetectionLikelyHuman}
	q := state.Pool.Easy[0]
	state.Asked = []review.Question{q}
	state.Answers = []review.AnswerRecord{{QuestionID: q.ID, Answer: "mine", Evaluation: review.Evaluation{QuestionID: q.ID, Score: 8}}}

	got, route, err := f.nodes.generateReport(context.Background(), state)
	if err != nil {
		t.Fatalf("generateReport: %v", err)
	}
	if route != routeDone {
		t.Errorf("route = %q, want %q", route, routeDone)
	}
	if got.Phase != review.PhaseReportGeneration {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseReportGeneration)
	}
	if got.Report == nil || got.Report.Recommendation != review.RecommendPass {
		t.Errorf("report = %+v", got.Report)
	}
	if len(f.brain.reportBriefs) != 1 {
		t.Fatalf("report briefs = %d, want 1", len(f.brain.reportBriefs))
	}
	brief := f.brain.reportBriefs[0]
	if brief.Candidate.Name != "Ada" || brief.Detection == nil || len(brief.Asked) != 1 || len(brief.Answers) != 1 {
		t.Errorf("brief = %+v, want the session record", brief)
	}
	if !saidContains(f.voice.said, "report") {
		t.Errorf("said = %v, want the report announcement", f.voice.said)
	}
}

func TestGenerateReport_FailureIsFatal(t *testing.T) {
	f := newNodeFixture(t)
	f.brain.reportErr = errors.New("model offline")
	state := questioningState()

	got, _, err := f.nodes.generateReport(context.Background(), state)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got.ErrorCount != 1 || got.LastError == "" {
		t.Errorf("error state = (%d, %q), want the failure recorded", got.ErrorCount, got.LastError)
	}
}

func TestClosing_CompletesAndWaitsForDisconnect(t *testing.T) {
	f := newNodeFixture(t)
	// A grace far above the test's runtime: only the disconnect signal can
	// release the wait quickly.
	f.nodes.cfg.DisconnectGrace = time.Minute
	close(f.disconnected)
	state := questioningState()
	state.Phase = review.PhaseReportGeneration

	start := time.Now()
	got, _, err := f.nodes.closing(context.Background(), state)
	if err != nil {
		t.Fatalf("closing: %v", err)
	}
	if got.Phase != review.PhaseCompleted {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseCompleted)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("closing waited %v despite the disconnect", elapsed)
	}
	if !saidContains(f.voice.said, "Ada") {
		t.Errorf("said = %v, want a goodbye naming the candidate", f.voice.said)
	}
}

func TestClosing_GraceBoundsTheWait(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()
	state.Phase = review.PhaseReportGeneration

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.nodes.closing(context.Background(), state)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("closing did not return within the disconnect grace")
	}
}

func TestClosing_KeepsErrorPhase(t *testing.T) {
	f := newNodeFixture(t)
	close(f.disconnected)
	state := questioningState()
	state.Phase = review.PhaseError

	got, _, err := f.nodes.closing(context.Background(), state)
	if err != nil {
		t.Fatalf("closing: %v", err)
	}
	if got.Phase != review.PhaseError {
		t.Errorf("phase = %s, want %s preserved", got.Phase, review.PhaseError)
	}
}

func TestOnError_ApologisesAndCheckpoints(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()
	state.LastError = "we could not process your presentation"

	got, _, err := f.nodes.onError(context.Background(), state)
	if err != nil {
		t.Fatalf("onError: %v", err)
	}
	if got.Phase != review.PhaseError {
		t.Errorf("phase = %s, want %s", got.Phase, review.PhaseError)
	}
	want := "I apologize, but we've encountered an issue: we could not process your presentation. Please contact support."
	if len(f.voice.said) != 1 || f.voice.said[0] != want {
		t.Errorf("said = %v, want %q", f.voice.said, want)
	}
	rs := f.reasons(t, "sess-1")
	if len(rs) != 1 || rs[0] != checkpoint.ReasonEmergencyPause {
		t.Errorf("checkpoint reasons = %v, want [emergency_pause]", rs)
	}
	cp, err := f.store.Latest(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if cp.State.Phase != review.PhaseError {
		t.Errorf("checkpoint phase = %s, want %s", cp.State.Phase, review.PhaseError)
	}
}

func TestOnError_FallsBackToGenericReason(t *testing.T) {
	f := newNodeFixture(t)
	state := questioningState()

	_, _, err := f.nodes.onError(context.Background(), state)
	if err != nil {
		t.Fatalf("onError: %v", err)
	}
	if !saidContains(f.voice.said, "an unexpected internal error") {
		t.Errorf("said = %v, want the generic reason", f.voice.said)
	}
}
