package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxSteps bounds a single run.
	DefaultMaxSteps = 1000

	// DefaultErrorGrace is how long the error path may keep running after
	// the run's context is cancelled.
	DefaultErrorGrace = 10 * time.Second
)

// ErrMaxSteps is returned when a run exceeds its step bound. Hitting it
// means the graph cycled without reaching a terminal node.
var ErrMaxSteps = errors.New("maximum steps exceeded")

// Engine drives a [Graph] over state values of type S.
type Engine[S any] struct {
	graph    Graph[S]
	nodes    map[NodeID]Node[S]
	maxSteps int
	grace    time.Duration
	onStep   StepHook[S]
}

// Option configures an [Engine].
type Option[S any] func(*Engine[S])

// WithMaxSteps bounds how many nodes a single run may execute. Defaults to
// [DefaultMaxSteps].
func WithMaxSteps[S any](n int) Option[S] {
	return func(e *Engine[S]) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithErrorGrace sets how long the error path may keep running after the
// run's context is cancelled. Defaults to [DefaultErrorGrace].
func WithErrorGrace[S any](d time.Duration) Option[S] {
	return func(e *Engine[S]) {
		if d > 0 {
			e.grace = d
		}
	}
}

// WithStepHook registers h on the engine. See [StepHook].
func WithStepHook[S any](h StepHook[S]) Option[S] {
	return func(e *Engine[S]) { e.onStep = h }
}

// New validates g and builds an engine for it.
func New[S any](g Graph[S], opts ...Option[S]) (*Engine[S], error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("workflow: invalid graph: %w", err)
	}

	e := &Engine[S]{
		graph:    g,
		nodes:    make(map[NodeID]Node[S], len(g.Nodes)),
		maxSteps: DefaultMaxSteps,
		grace:    DefaultErrorGrace,
	}
	for _, n := range g.Nodes {
		e.nodes[n.ID] = n
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Run executes the graph from its entry node until a terminal node
// completes, a failure cannot be diverted, or the step bound is hit. It
// returns the final state and, when the run went through the error path,
// the failure that sent it there. A run that ends on the error path still
// executes that path to completion; the cause is reported afterwards.
//
// Run blocks for the whole session and must be called from exactly one
// goroutine per state value.
func (e *Engine[S]) Run(ctx context.Context, initial S) (S, error) {
	state := initial
	current := e.graph.Entry

	// cause is the first failure of the run. Once set the engine is on the
	// error path and any further failure ends the run immediately.
	var cause error

	for step := 1; ; step++ {
		if step > e.maxSteps {
			return state, errors.Join(cause, fmt.Errorf("workflow: %w after %d steps at node %s", ErrMaxSteps, e.maxSteps, current))
		}

		if err := ctx.Err(); err != nil {
			sink, ok := e.divert(current, cause)
			if !ok {
				return state, errors.Join(cause, fmt.Errorf("workflow: %w", err))
			}
			// The error path runs on a detached grace context so the
			// closing utterance can still go out after cancellation.
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.grace)
			defer cancel()
			cause = fmt.Errorf("workflow: cancelled before node %s: %w", current, err)
			current = sink
			continue
		}

		node := e.nodes[current]
		started := time.Now()
		next, route, err := e.invoke(ctx, node, state)
		state = next
		if e.onStep != nil {
			e.onStep(ctx, Step{Index: step, Node: current, Route: route, Err: err, Elapsed: time.Since(started)}, state)
		}

		if err == nil {
			if len(node.Routes) == 0 {
				return state, cause
			}
			target, ok := node.Routes[route]
			if !ok {
				err = fmt.Errorf("undeclared route %q", route)
			} else {
				current = target
				continue
			}
		}

		failed := fmt.Errorf("workflow: node %s: %w", current, err)
		sink, ok := e.divert(current, cause)
		if !ok {
			return state, errors.Join(cause, failed)
		}
		// A node may surface the run's cancellation as its own failure;
		// the error path still runs, on the same detached grace context a
		// cancellation observed between nodes would get.
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), e.grace)
			defer cancel()
		}
		cause = failed
		current = sink
	}
}

// divert returns the node to continue at after a failure at node at. It
// refuses when no error node is configured, when the run is already on the
// error path, or when the error node itself failed.
func (e *Engine[S]) divert(at NodeID, cause error) (NodeID, bool) {
	if e.graph.ErrorNode == "" || cause != nil || at == e.graph.ErrorNode {
		return "", false
	}
	return e.graph.ErrorNode, true
}

// invoke runs one node, converting a panic into an ordinary node error so a
// bug in one session cannot take down the process. On panic the node's
// input state is kept; a panicking node's partial update is not trusted.
func (e *Engine[S]) invoke(ctx context.Context, n Node[S], state S) (out S, route Route, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, route, err = state, "", fmt.Errorf("panic: %v", rec)
		}
	}()
	return n.Run(ctx, state)
}
