package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/workflow"
)

// Node identifiers of the review graph.
const (
	NodeInitialise        workflow.NodeID = "initialise"
	NodeAwaitUpload       workflow.NodeID = "await_upload"
	NodeRouteUpload       workflow.NodeID = "route_upload"
	NodeParse             workflow.NodeID = "parse"
	NodeDetectAI          workflow.NodeID = "detect_ai"
	NodeGenerateQuestions workflow.NodeID = "generate_questions"
	NodeAskQuestion       workflow.NodeID = "ask_question"
	NodeRouteQuestion     workflow.NodeID = "route_question"
	NodeEvaluate          workflow.NodeID = "evaluate"
	NodeTransitionLevel   workflow.NodeID = "transition_level"
	NodeGenerateReport    workflow.NodeID = "generate_report"
	NodeClosing           workflow.NodeID = "closing"
	NodeOnError           workflow.NodeID = "on_error"
)

// Route labels nodes return.
const (
	routeContinue workflow.Route = "continue"
	routeParse    workflow.Route = "parse"
	routeWait     workflow.Route = "wait"
	routeFail     workflow.Route = "fail"
	routeOK       workflow.Route = "ok"
	routeRetry    workflow.Route = "retry"
	routeNext     workflow.Route = "next"
	routeEvaluate workflow.Route = "evaluate"
	routeReport   workflow.Route = "report"
	routeAsk      workflow.Route = "ask"
	routeDone     workflow.Route = "done"
)

// Graph assembles the review workflow rooted at entry. Fresh sessions
// enter at [NodeInitialise]; resumed sessions enter at the node [EntryFor]
// selects for their restored phase. on_error is the graph's error sink.
func (n *Nodes) Graph(entry workflow.NodeID) workflow.Graph[review.State] {
	return workflow.Graph[review.State]{
		Entry:     entry,
		ErrorNode: NodeOnError,
		Nodes: []workflow.Node[review.State]{
			{
				ID:     NodeInitialise,
				Run:    n.initialise,
				Routes: map[workflow.Route]workflow.NodeID{routeContinue: NodeAwaitUpload},
			},
			{
				ID:     NodeAwaitUpload,
				Run:    n.awaitUpload,
				Routes: map[workflow.Route]workflow.NodeID{routeContinue: NodeRouteUpload},
			},
			{
				ID:  NodeRouteUpload,
				Run: n.routeUpload,
				Routes: map[workflow.Route]workflow.NodeID{
					routeParse: NodeParse,
					routeWait:  NodeAwaitUpload,
					routeFail:  NodeOnError,
				},
			},
			{
				ID:  NodeParse,
				Run: n.parse,
				Routes: map[workflow.Route]workflow.NodeID{
					routeOK:    NodeDetectAI,
					routeRetry: NodeRouteUpload,
				},
			},
			{
				ID:     NodeDetectAI,
				Run:    n.detectAI,
				Routes: map[workflow.Route]workflow.NodeID{routeOK: NodeGenerateQuestions},
			},
			{
				ID:     NodeGenerateQuestions,
				Run:    n.generateQuestions,
				Routes: map[workflow.Route]workflow.NodeID{routeOK: NodeAskQuestion},
			},
			{
				ID:     NodeAskQuestion,
				Run:    n.askQuestion,
				Routes: map[workflow.Route]workflow.NodeID{routeNext: NodeRouteQuestion},
			},
			{
				ID:  NodeRouteQuestion,
				Run: n.routeQuestion,
				Routes: map[workflow.Route]workflow.NodeID{
					routeEvaluate: NodeEvaluate,
					routeAsk:      NodeAskQuestion,
					routeReport:   NodeGenerateReport,
				},
			},
			{
				ID:  NodeEvaluate,
				Run: n.evaluate,
				Routes: map[workflow.Route]workflow.NodeID{
					routeNext: NodeTransitionLevel,
					routeFail: NodeOnError,
				},
			},
			{
				ID:  NodeTransitionLevel,
				Run: n.transitionLevel,
				Routes: map[workflow.Route]workflow.NodeID{
					routeAsk:    NodeAskQuestion,
					routeReport: NodeGenerateReport,
				},
			},
			{
				ID:     NodeGenerateReport,
				Run:    n.generateReport,
				Routes: map[workflow.Route]workflow.NodeID{routeDone: NodeClosing},
			},
			{
				ID:  NodeClosing,
				Run: n.closing,
			},
			{
				ID:  NodeOnError,
				Run: n.onError,
			},
		},
	}
}

// EntryFor maps a restored session phase to the node a resumed run enters
// at. The second result is false for terminal phases, which have nothing
// left to run.
func EntryFor(p review.Phase) (workflow.NodeID, bool) {
	switch p {
	case "":
		return NodeInitialise, true
	case review.PhaseUpload:
		return NodeAwaitUpload, true
	case review.PhaseParsing:
		return NodeRouteUpload, true
	case review.PhaseAIDetection:
		return NodeDetectAI, true
	case review.PhaseQuestionGeneration:
		return NodeGenerateQuestions, true
	case review.PhaseQuestioning:
		return NodeRouteQuestion, true
	case review.PhaseReportGeneration:
		return NodeGenerateReport, true
	}
	return "", false
}

// PhaseTransitions returns a step hook that checkpoints the session each
// time a step changes its phase. from is the phase the run starts in, the
// empty phase for a fresh session. The hook runs on the engine's loop
// goroutine and needs no locking.
func PhaseTransitions(store checkpoint.Store, from review.Phase) workflow.StepHook[review.State] {
	last := from
	return func(ctx context.Context, step workflow.Step, state review.State) {
		if state.Phase == last {
			return
		}
		desc := fmt.Sprintf("%s -> %s", last, state.Phase)
		if last == "" {
			desc = "entered " + string(state.Phase)
		}
		last = state.Phase

		origin := checkpoint.Origin{
			Node:        string(step.Node),
			Reason:      checkpoint.ReasonPhaseTransition,
			Description: desc,
		}
		if _, err := store.Save(ctx, state, origin); err != nil {
			slog.Warn("phase checkpoint failed",
				"session_id", state.SessionID,
				"node", step.Node,
				"phase", state.Phase,
				"error", err,
			)
		}
	}
}
