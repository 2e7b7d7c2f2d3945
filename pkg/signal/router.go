package signal

import (
	"sort"
	"strings"
	"sync"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// Target names the action a routed signal should invoke, with optional
// bound parameters. The server turns targets into instructions, stamping
// correlation ids from the signal being routed.
type Target struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// Route binds a type pattern to a target. Patterns are dotted paths
// where "*" matches exactly one segment and "**" (final segment only)
// matches zero or more trailing segments.
type Route struct {
	Pattern string
	Target  Target
}

type routeEntry struct {
	seq    int
	target Target
}

type routeNode struct {
	children map[string]*routeNode
	entries  []routeEntry // routes terminating at this node
	tail     []routeEntry // "**" routes anchored at this node
}

func newRouteNode() *routeNode {
	return &routeNode{children: map[string]*routeNode{}}
}

// Router maps signal types to targets. Safe for concurrent use.
type Router struct {
	mu   sync.RWMutex
	root *routeNode
	seq  int
}

// BuildRouter constructs a router from the given routes. An invalid
// pattern fails the whole build.
func BuildRouter(routes ...Route) (*Router, error) {
	r := &Router{root: newRouteNode()}
	for _, rt := range routes {
		if err := r.Add(rt); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers a route.
func (r *Router) Add(rt Route) error {
	segs, err := parsePattern(rt.Pattern)
	if err != nil {
		return err
	}
	if rt.Target.Action == "" {
		return errmodel.Routing("invalid_route", "route target has no action", map[string]any{"pattern": rt.Pattern})
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	node := r.root
	for i, seg := range segs {
		if seg == "**" {
			// parsePattern guarantees ** is last
			node.tail = append(node.tail, routeEntry{seq: r.seq, target: rt.Target})
			return nil
		}
		child, ok := node.children[seg]
		if !ok {
			child = newRouteNode()
			node.children[seg] = child
		}
		node = child
		if i == len(segs)-1 {
			node.entries = append(node.entries, routeEntry{seq: r.seq, target: rt.Target})
		}
	}
	return nil
}

// Remove drops every route registered under the exact pattern.
func (r *Router) Remove(pattern string) {
	segs, err := parsePattern(pattern)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	node := r.root
	for i, seg := range segs {
		if seg == "**" {
			node.tail = nil
			return
		}
		child, ok := node.children[seg]
		if !ok {
			return
		}
		node = child
		if i == len(segs)-1 {
			node.entries = nil
		}
	}
}

// Route resolves a signal to its targets. Exact (wildcard-free) matches
// order before wildcard matches; within each group, registration order
// is preserved. No match returns a routing error with code "no_handler".
func (r *Router) Route(sig *Signal) ([]Target, error) {
	if sig == nil || sig.Type == "" {
		return nil, errmodel.Routing("no_handler", "signal has no type", nil)
	}
	segs := strings.Split(sig.Type, ".")

	type match struct {
		seq   int
		exact bool
		t     Target
	}
	var matches []match

	r.mu.RLock()
	var walk func(node *routeNode, i int, exact bool)
	walk = func(node *routeNode, i int, exact bool) {
		for _, e := range node.tail {
			matches = append(matches, match{seq: e.seq, exact: false, t: e.target})
		}
		if i == len(segs) {
			for _, e := range node.entries {
				matches = append(matches, match{seq: e.seq, exact: exact, t: e.target})
			}
			return
		}
		if child, ok := node.children[segs[i]]; ok {
			walk(child, i+1, exact)
		}
		if child, ok := node.children["*"]; ok {
			walk(child, i+1, false)
		}
	}
	walk(r.root, 0, true)
	r.mu.RUnlock()

	if len(matches) == 0 {
		return nil, errmodel.Routing("no_handler", "no route matches signal type", map[string]any{"type": sig.Type})
	}
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].exact != matches[b].exact {
			return matches[a].exact
		}
		return matches[a].seq < matches[b].seq
	})
	out := make([]Target, len(matches))
	for i, m := range matches {
		out[i] = m.t
	}
	return out, nil
}

func parsePattern(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, errmodel.Routing("invalid_route", "route pattern is empty", nil)
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if seg == "" {
			return nil, errmodel.Routing("invalid_route", "route pattern has empty segment", map[string]any{"pattern": pattern})
		}
		if seg == "**" && i != len(segs)-1 {
			return nil, errmodel.Routing("invalid_route", "multi-segment wildcard must be the final segment", map[string]any{"pattern": pattern})
		}
	}
	return segs, nil
}
