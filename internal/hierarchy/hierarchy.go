// Package hierarchy rebuilds parent/child trees from a flat span stream.
package hierarchy

import (
	"sort"

	"github.com/tracehub/tracehub/internal/span"
)

// Node is one span and its children, ordered by start time.
type Node struct {
	Span     span.Span `json:"trace"`
	Children []*Node   `json:"children"`
}

// Walk calls fn for n and every descendant, depth first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Reconstruct groups spans by trace and returns one Node per root. Within a
// trace a span is a root when its parent is empty or does not resolve.
// Groups appear in order of first encounter; roots and children are sorted by
// start time with ties kept in input order.
//
// Repeated span ids within a trace keep their first occurrence. Spans left
// unreachable because their parent chain forms a cycle are promoted to roots
// so every distinct span appears exactly once.
func Reconstruct(spans []span.Span) []*Node {
	if len(spans) == 0 {
		return []*Node{}
	}

	var (
		order  []string
		groups = make(map[string][]span.Span)
	)
	for _, item := range spans {
		if _, ok := groups[item.TraceID]; !ok {
			order = append(order, item.TraceID)
		}
		groups[item.TraceID] = append(groups[item.TraceID], item)
	}

	out := make([]*Node, 0, len(order))
	for _, traceID := range order {
		out = append(out, reconstructGroup(groups[traceID])...)
	}
	return out
}

func reconstructGroup(group []span.Span) []*Node {
	unique := make([]span.Span, 0, len(group))
	byID := make(map[string]int, len(group))
	for _, item := range group {
		if _, seen := byID[item.SpanID]; seen {
			continue
		}
		byID[item.SpanID] = len(unique)
		unique = append(unique, item)
	}

	var roots []int
	children := make(map[string][]int, len(unique))
	for idx, item := range unique {
		if item.ParentID == "" || item.ParentID == item.SpanID {
			roots = append(roots, idx)
			continue
		}
		if _, ok := byID[item.ParentID]; !ok {
			roots = append(roots, idx)
			continue
		}
		children[item.ParentID] = append(children[item.ParentID], idx)
	}

	byStart := func(indexes []int) {
		sort.SliceStable(indexes, func(i, j int) bool {
			return unique[indexes[i]].StartTime.Before(unique[indexes[j]].StartTime)
		})
	}
	for key := range children {
		byStart(children[key])
	}

	visited := make([]bool, len(unique))
	var build func(idx int) *Node
	build = func(idx int) *Node {
		visited[idx] = true
		node := &Node{Span: unique[idx], Children: []*Node{}}
		for _, childIdx := range children[unique[idx].SpanID] {
			if visited[childIdx] {
				continue
			}
			node.Children = append(node.Children, build(childIdx))
		}
		return node
	}

	byStart(roots)
	out := make([]*Node, 0, len(roots))
	for _, idx := range roots {
		out = append(out, build(idx))
	}

	// Whatever is left sits on a parent cycle. Promote the earliest span of
	// each cycle and keep going until everything has been placed.
	var stranded []int
	for idx := range unique {
		if !visited[idx] {
			stranded = append(stranded, idx)
		}
	}
	byStart(stranded)
	for _, idx := range stranded {
		if visited[idx] {
			continue
		}
		out = append(out, build(idx))
	}
	return out
}
