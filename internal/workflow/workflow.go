// Package workflow runs a session as a directed graph of named nodes over a
// caller-owned state value.
//
// Each node receives the current state and returns the updated state plus a
// typed route label selecting its successor. Every label a node may return
// is declared up front on [Graph] and checked by [Graph.Validate] before any
// session starts, so a node can never steer a run to an unknown target at
// runtime.
//
// A single goroutine owns the run loop: nodes of the same session never
// execute concurrently, which keeps state mutation single-writer without
// locks. State is passed by value; a node that wants to fan work out shares
// nothing with the loop until it returns.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// NodeID names a node in a [Graph].
type NodeID string

// Route is a typed edge label. A node returns one of its declared routes to
// select the successor node.
type Route string

// NodeFunc runs one node. It returns the updated state, the route to follow
// out of the node, and an error. On error the returned state is still
// adopted before the engine diverts to the graph's error node, so a failing
// node can record what went wrong on the state it hands back.
type NodeFunc[S any] func(ctx context.Context, state S) (S, Route, error)

// Node declares one graph node: its behaviour and every route it may
// return. A node with an empty route map is terminal; the run stops after
// it completes.
type Node[S any] struct {
	// ID is the node's unique name.
	ID NodeID

	// Run is the node's behaviour.
	Run NodeFunc[S]

	// Routes maps each label Run may return to the successor node.
	Routes map[Route]NodeID
}

// Graph declares a session workflow: the node set, the entry node, and an
// optional error sink.
type Graph[S any] struct {
	// Entry is where a run starts.
	Entry NodeID

	// ErrorNode, when set, receives control after a node fails, panics,
	// returns an undeclared route, or the run's context is cancelled. A
	// node may also name it as an ordinary route target. Left empty, any
	// failure ends the run immediately.
	ErrorNode NodeID

	// Nodes is the full node set.
	Nodes []Node[S]
}

// Validate checks the graph's static shape: a declared entry node, unique
// node IDs, behaviour on every node, and every route target resolving to a
// declared node. All problems are reported, not just the first.
func (g Graph[S]) Validate() error {
	var errs []error

	declared := make(map[NodeID]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			errs = append(errs, errors.New("node with empty id"))
			continue
		}
		if declared[n.ID] {
			errs = append(errs, fmt.Errorf("duplicate node %s", n.ID))
			continue
		}
		declared[n.ID] = true
		if n.Run == nil {
			errs = append(errs, fmt.Errorf("node %s has no behaviour", n.ID))
		}
	}

	for _, n := range g.Nodes {
		for route, target := range n.Routes {
			if route == "" {
				errs = append(errs, fmt.Errorf("node %s declares an empty route label", n.ID))
			}
			if !declared[target] {
				errs = append(errs, fmt.Errorf("node %s routes %q to unknown node %s", n.ID, route, target))
			}
		}
	}

	switch {
	case g.Entry == "":
		errs = append(errs, errors.New("no entry node"))
	case !declared[g.Entry]:
		errs = append(errs, fmt.Errorf("entry node %s not declared", g.Entry))
	}
	if g.ErrorNode != "" && !declared[g.ErrorNode] {
		errs = append(errs, fmt.Errorf("error node %s not declared", g.ErrorNode))
	}

	return errors.Join(errs...)
}

// Step describes one completed engine step.
type Step struct {
	// Index is the 1-based step number within the run.
	Index int

	// Node is the node that ran.
	Node NodeID

	// Route is the label the node returned, empty when it failed.
	Route Route

	// Err is the node's failure, nil on success.
	Err error

	// Elapsed is how long the node ran.
	Elapsed time.Duration
}

// StepHook observes every step of a run. The engine calls it synchronously
// from the run loop after the node's state update has been adopted, so the
// hook sees exactly the state the successor will receive. Checkpointing and
// metrics hang off this.
type StepHook[S any] func(ctx context.Context, step Step, state S)
