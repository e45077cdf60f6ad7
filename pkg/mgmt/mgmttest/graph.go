package mgmttest

import (
	"context"
	"strings"
	"sync"
)

type graphRule struct {
	fragments []string
	rows      []map[string]any
	err       error
}

// Graph is a scripted resourcegraph.Querier. A query returns the rows of the first rule whose
// fragments all appear in it (case-insensitively); unmatched queries return no rows.
type Graph struct {
	mu      sync.Mutex
	rules   []graphRule
	queries []string
}

// GraphRuleBuilder completes a rule started by Graph.On.
type GraphRuleBuilder struct {
	graph     *Graph
	fragments []string
}

// On starts a rule matching queries containing every fragment.
func (g *Graph) On(fragments ...string) *GraphRuleBuilder {
	return &GraphRuleBuilder{graph: g, fragments: fragments}
}

// Return registers the rows for the rule.
func (b *GraphRuleBuilder) Return(rows ...map[string]any) *Graph {
	b.graph.mu.Lock()
	defer b.graph.mu.Unlock()
	b.graph.rules = append(b.graph.rules, graphRule{fragments: b.fragments, rows: rows})
	return b.graph
}

// Fail registers an error for the rule.
func (b *GraphRuleBuilder) Fail(err error) *Graph {
	b.graph.mu.Lock()
	defer b.graph.mu.Unlock()
	b.graph.rules = append(b.graph.rules, graphRule{fragments: b.fragments, err: err})
	return b.graph
}

// Queries returns the queries seen so far.
func (g *Graph) Queries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

func (g *Graph) Query(ctx context.Context, query string) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, query)
	lowered := strings.ToLower(query)
	for _, rule := range g.rules {
		matched := true
		for _, fragment := range rule.fragments {
			if !strings.Contains(lowered, strings.ToLower(fragment)) {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		if rule.err != nil {
			return nil, rule.err
		}
		out := make([]map[string]any, 0, len(rule.rows))
		for _, row := range rule.rows {
			copied := make(map[string]any, len(row))
			for k, v := range row {
				copied[k] = v
			}
			out = append(out, copied)
		}
		return out, nil
	}
	return []map[string]any{}, nil
}
