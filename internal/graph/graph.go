// Package graph builds and validates the task dependency DAG.
//
// The graph is immutable once constructed and safe for concurrent read
// access; all execution-time state lives in a separate State map so the same
// graph can be executed repeatedly.
package graph

import (
	"container/heap"
	"sort"

	"firmforge/internal/config"
)

type edgeIndex struct {
	from int
	to   int
}

// Edge represents a dependency relation: To depends on From, so To can only
// run after From finishes successfully.
type Edge struct {
	From string
	To   string
}

// Node is an immutable node in the Graph.
type Node struct {
	Name           string
	Task           config.Task
	canonicalIndex int
}

// Graph is an immutable, validated task DAG.
type Graph struct {
	nodesByName map[string]*Node
	nodes       []*Node // canonical order (sorted by name)

	edges []edgeIndex // sorted

	outgoing [][]int // by canonical index, sorted ascending
	incoming [][]int // by canonical index, sorted ascending
	indeg    []int   // by canonical index
	depth    []int   // by canonical index (topological depth)
}

// New builds and validates a Graph from config tasks. Each entry in a task's
// dependsOn list yields an edge dependency -> task.
//
// Validation rejects:
//   - empty task set, empty or duplicate task names
//   - dependencies referencing unknown tasks
//   - duplicate edges and self-loops
//   - any cycle (direct or indirect), reporting one cycle path
func New(tasks []config.Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	nodesByName := make(map[string]*Node, len(tasks))
	nodes := make([]*Node, 0, len(tasks))
	for _, t := range tasks {
		if t.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, exists := nodesByName[t.Name]; exists {
			return nil, invalidf("duplicate task name: %q", t.Name)
		}
		node := &Node{Name: t.Name, Task: t}
		nodesByName[t.Name] = node
		nodes = append(nodes, node)
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for i, n := range nodes {
		n.canonicalIndex = i
	}

	mapped := make([]edgeIndex, 0)
	seen := make(map[edgeIndex]struct{})
	for _, t := range tasks {
		to := nodesByName[t.Name].canonicalIndex
		for _, dep := range t.DependsOn {
			fromNode, ok := nodesByName[dep]
			if !ok {
				return nil, invalidf("task %q depends on unknown task %q", t.Name, dep)
			}
			if fromNode.Name == t.Name {
				return nil, invalidf("self-loop: %q", t.Name)
			}
			pair := edgeIndex{from: fromNode.canonicalIndex, to: to}
			if _, dup := seen[pair]; dup {
				return nil, invalidf("duplicate dependency: %q -> %q", dep, t.Name)
			}
			seen[pair] = struct{}{}
			mapped = append(mapped, pair)
		}
	}

	sort.Slice(mapped, func(i, j int) bool {
		a, b := mapped[i], mapped[j]
		if a.from != b.from {
			return a.from < b.from
		}
		return a.to < b.to
	})

	outgoing := make([][]int, len(nodes))
	incoming := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}
	for i := range outgoing {
		sort.Ints(outgoing[i])
	}
	for i := range incoming {
		sort.Ints(incoming[i])
	}

	g := &Graph{
		nodesByName: nodesByName,
		nodes:       nodes,
		edges:       mapped,
		outgoing:    outgoing,
		incoming:    incoming,
		indeg:       indeg,
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodesByName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the dependency edges as (From, To) name pairs in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Depth returns the topological depth of the named node: the length of the
// longest path from any root to the node.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.nodesByName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.canonicalIndex], true
}

// TopologicalOrder returns a deterministic topological ordering of task
// names: ascending depth, then name. Every dependency edge strictly
// increases depth, so this is always a valid topological order, and it
// matches the order in which Ready offers tasks to the runner.
func (g *Graph) TopologicalOrder() []string {
	order := make([]int, len(g.nodes))
	for i := range order {
		order[i] = i
	}
	// Nodes are in canonical (name-sorted) order, so index order is name
	// order within a depth.
	sort.Slice(order, func(a, b int) bool {
		u, v := order[a], order[b]
		if g.depth[u] != g.depth[v] {
			return g.depth[u] < g.depth[v]
		}
		return u < v
	})
	names := make([]string, 0, len(order))
	for _, idx := range order {
		names = append(names, g.nodes[idx].Name)
	}
	return names
}

// Closure returns the set of the given tasks plus all their transitive
// dependencies. An unknown target name is an error.
func (g *Graph) Closure(targets []string) (map[string]bool, error) {
	out := make(map[string]bool)
	var visit func(idx int)
	visit = func(idx int) {
		name := g.nodes[idx].Name
		if out[name] {
			return
		}
		out[name] = true
		for _, p := range g.incoming[idx] {
			visit(p)
		}
	}
	for _, target := range targets {
		n, ok := g.nodesByName[target]
		if !ok {
			return nil, invalidf("unknown task: %q", target)
		}
		visit(n.canonicalIndex)
	}
	return out, nil
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		maxParent := 0
		for _, p := range g.incoming[u] {
			if cand := depth[p] + 1; cand > maxParent {
				maxParent = cand
			}
		}
		depth[u] = maxParent
	}
	return depth
}

// validateAcyclic proves the graph has no cycles using Kahn's algorithm,
// extracting one deterministic cycle path for the error when it fails.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices returns a deterministic topological ordering of node
// indices. The ready queue is a min-heap by canonical index.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	heap.Init(ready)
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle performs a deterministic DFS over canonical indices to extract
// one cycle path as a stable witness.
func (g *Graph) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] { // already sorted
			if color[v] == white {
				parent[v] = u
				if dfs(v) {
					return true
				}
				continue
			}
			if color[v] == gray {
				// Back-edge u -> v. Reconstruct cycle v ... u -> v.
				cycle = append(cycle, v)
				cur := u
				for cur != -1 && cur != v {
					cycle = append(cycle, cur)
					cur = parent[cur]
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := 0; i < len(g.nodes); i++ {
		if color[i] != white {
			continue
		}
		if dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	out := make([]string, 0, len(cycle))
	for i := len(cycle) - 1; i >= 0; i-- {
		out = append(out, g.nodes[cycle[i]].Name)
	}
	return out
}
