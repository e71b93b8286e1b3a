// Package resolver computes the load order for a batch of plugins from
// their declared dependencies and priorities. The order is
// deterministic: dependencies first, ties broken by ascending priority
// and then lexicographic id.
package resolver

import (
	"fmt"
	"sort"
	"strings"
)

// Node is one plugin in the dependency graph.
type Node struct {
	ID           string
	Priority     int
	Dependencies []string
}

// Graph holds the batch being resolved.
type Graph struct {
	nodes map[string]Node
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// Add inserts a node. A duplicate id overwrites the previous entry.
func (g *Graph) Add(id string, priority int, deps []string) {
	g.nodes[id] = Node{ID: id, Priority: priority, Dependencies: deps}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Result is the outcome of a resolution pass.
type Result struct {
	// Order is the load order for all resolvable nodes.
	Order []string

	// Failed maps unresolvable node ids to the reason they were
	// excluded (missing dependency or cycle membership).
	Failed map[string]error
}

// MissingDependencyError reports a dependency that is not in the batch.
type MissingDependencyError struct {
	Plugin     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q depends on %q which is not present", e.Plugin, e.Dependency)
}

// CycleError reports a dependency cycle.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// Resolve computes the load order using Kahn's algorithm with a sorted
// frontier. Nodes with missing dependencies or in cycles are excluded
// and reported in Failed; the rest of the batch still resolves.
func (g *Graph) Resolve() Result {
	res := Result{Failed: make(map[string]error)}

	// Exclude nodes whose dependencies are absent, transitively: a node
	// depending on an excluded node is itself unresolvable.
	excluded := make(map[string]error)
	for changed := true; changed; {
		changed = false
		for id, node := range g.nodes {
			if _, done := excluded[id]; done {
				continue
			}
			for _, dep := range node.Dependencies {
				if _, ok := g.nodes[dep]; !ok {
					excluded[id] = &MissingDependencyError{Plugin: id, Dependency: dep}
					changed = true
					break
				}
				if depErr, bad := excluded[dep]; bad {
					excluded[id] = fmt.Errorf("plugin %q depends on unresolvable %q: %w", id, dep, depErr)
					changed = true
					break
				}
			}
		}
	}

	// Build in-degree and reverse edges over the remaining nodes.
	indegree := make(map[string]int)
	dependents := make(map[string][]string)
	for id, node := range g.nodes {
		if _, bad := excluded[id]; bad {
			continue
		}
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range node.Dependencies {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var frontier []string
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool {
			a, b := g.nodes[frontier[i]], g.nodes[frontier[j]]
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			return a.ID < b.ID
		})

		next := frontier[0]
		frontier = frontier[1:]
		res.Order = append(res.Order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	// Anything with remaining in-degree sits on a cycle (or behind one).
	var cycleMembers []string
	for id, deg := range indegree {
		if deg > 0 {
			cycleMembers = append(cycleMembers, id)
		}
	}
	if len(cycleMembers) > 0 {
		sort.Strings(cycleMembers)
		cycleErr := &CycleError{Members: cycleMembers}
		for _, id := range cycleMembers {
			res.Failed[id] = cycleErr
		}
	}

	for id, err := range excluded {
		res.Failed[id] = err
	}

	return res
}
