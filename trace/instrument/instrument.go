// Package instrument wraps a host graph's nodes and conditional edges so
// every state transition is recorded by a trace.Collector, without the
// graph author writing any recording code of their own. It plays the role
// the original project's LangGraph adapter (adapters/langgraph.py) played
// for Python LangGraph graphs: wrap, don't fork.
package instrument

import (
	"context"
	"sync"

	"github.com/lgtrace/lgtrace-go/graph"
	"github.com/lgtrace/lgtrace-go/trace"
	"github.com/lgtrace/lgtrace-go/trace/tree"
)

// ExecIDCarrier lets a state type report its own execution ID explicitly,
// for graphs that thread one through state rather than context — mirrors
// the original adapter's check for a `execution_id` attribute on state
// before falling back to context or memoization.
type ExecIDCarrier interface {
	TraceExecutionID() string
}

var execIDMemo sync.Map // context.Context -> string, root-context fallback

// resolveExecID finds the trace execution ID to record under, trying in
// order: (1) the host engine's own RunIDKey, already present in ctx for
// every node the Engine invokes, so the common case needs nothing extra;
// (2) an ExecIDCarrier the state type implements; (3) a per-root-context
// memoized ID, minted once and reused for the lifetime of that context —
// the fallback for graphs invoked outside an Engine.Run call (unit tests,
// hand-rolled harnesses), grounded on the original adapter's
// _get_or_create_execution_id.
func resolveExecID[S any](ctx context.Context, state S) string {
	if id, ok := ctx.Value(graph.RunIDKey).(string); ok && id != "" {
		return id
	}
	if carrier, ok := any(state).(ExecIDCarrier); ok {
		if id := carrier.TraceExecutionID(); id != "" {
			return id
		}
	}
	if v, ok := execIDMemo.Load(ctx); ok {
		return v.(string)
	}
	id := trace.NewExecutionID()
	execIDMemo.Store(ctx, id)
	return id
}

// Node wraps n so every Run call is recorded by c as a step of nodeName.
// The wrapped node's observable behavior — its Delta, Route, and Err — is
// returned completely unchanged; recording is purely an observer. reduce
// computes the post-node state the same way the host Engine would, so the
// recorded state_after reflects what the rest of the graph will actually
// see, per the original adapter's _compute_state_after.
//
// If c is nil, Node returns n unwrapped: instrumentation is opt-in and
// must cost nothing when absent.
func Node[S any](c *trace.Collector, nodeName string, n graph.Node[S], reduce graph.Reducer[S]) graph.Node[S] {
	if c == nil {
		return n
	}
	return graph.NodeFunc[S](func(ctx context.Context, state S) graph.NodeResult[S] {
		execID := resolveExecID(ctx, state)
		before := tree.AsMap(state)

		result := n.Run(ctx, state)

		after := state
		if result.Err == nil {
			after = reduce(state, result.Delta)
		}

		c.RecordStep(ctx, execID, nodeName, before, tree.AsMap(after), result.Err)
		return result
	})
}

// Predicate wraps p so every evaluation of the conditional edge identified
// by sourceNode/targetNode is recorded as a routing decision, grounded on
// the original adapter's _wrap_conditional_edge. The boolean result
// p(state) is returned unchanged.
//
// graph.Predicate carries no context.Context, unlike graph.Node, so the
// context-value and memoized-fallback tiers resolveExecID uses for nodes
// are not available here — the original adapter worked around the
// equivalent gap with a contextvar-based thread-local tracker, which Go
// has no direct analogue for without risking cross-goroutine leakage.
// Routing decisions therefore resolve their execution ID from an
// ExecIDCarrier on state alone; without one, they record under the
// sentinel "unknown" rather than guess, exactly as a reader filtering by
// execution ID would want to be able to tell apart from a real ID.
func Predicate[S any](c *trace.Collector, sourceNode, targetNode, description string, p graph.Predicate[S]) graph.Predicate[S] {
	if c == nil {
		return p
	}
	return func(state S) bool {
		value := p(state)

		execID := "unknown"
		if carrier, ok := any(state).(ExecIDCarrier); ok {
			if id := carrier.TraceExecutionID(); id != "" {
				execID = id
			}
		}
		c.RecordRouting(context.Background(), "", execID, sourceNode, targetNode, description, tree.AsMap(state), value)
		return value
	}
}

// Graph wraps every node in nodes for recording under graphName, returning
// a new map safe to hand to Engine.Add in place of the original. It does
// not wrap edges — conditional edges carry per-edge descriptions that only
// the graph author can supply meaningfully, so call Predicate directly at
// each Connect call site instead.
func Graph[S any](c *trace.Collector, nodes map[string]graph.Node[S], reduce graph.Reducer[S]) map[string]graph.Node[S] {
	if c == nil {
		return nodes
	}
	out := make(map[string]graph.Node[S], len(nodes))
	for name, n := range nodes {
		out[name] = Node(c, name, n, reduce)
	}
	return out
}
