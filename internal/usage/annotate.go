package usage

import (
	"github.com/tracehub/tracehub/internal/hierarchy"
	"github.com/tracehub/tracehub/internal/span"
)

// Trace is a root node annotated with the rolled-up usage of its whole tree.
// Children carry their own spans and subtrees only.
type Trace struct {
	Trace           span.Span         `json:"trace"`
	Children        []*hierarchy.Node `json:"children"`
	Tokens          Tokens            `json:"tokens"`
	InputCost       float64           `json:"input_cost"`
	OutputCost      float64           `json:"output_cost"`
	CachedInputCost float64           `json:"cached_input_cost"`
	TotalCost       float64           `json:"total_cost"`
	// Cost mirrors TotalCost for clients that predate the split costs.
	Cost float64 `json:"cost"`
}

// Annotate rolls up every root in roots.
func (a *Aggregator) Annotate(roots []*hierarchy.Node) []Trace {
	out := make([]Trace, 0, len(roots))
	for _, root := range roots {
		if root == nil {
			continue
		}
		metrics := a.Aggregate(root)
		children := root.Children
		if children == nil {
			children = []*hierarchy.Node{}
		}
		total := metrics.Cost.Total()
		out = append(out, Trace{
			Trace:           root.Span,
			Children:        children,
			Tokens:          metrics.Tokens,
			InputCost:       metrics.Cost.Input,
			OutputCost:      metrics.Cost.Output,
			CachedInputCost: metrics.Cost.CachedInput,
			TotalCost:       total,
			Cost:            total,
		})
	}
	return out
}
