package graph

import "fmt"

// TaskState is the runtime execution state of a node. It is separated from
// Graph, which is immutable.
type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskSkipped   TaskState = "SKIPPED"
	TaskUpToDate  TaskState = "UP-TO-DATE"
)

// State maps task name to its current TaskState.
//
// It is intentionally a plain map so the scheduler can remain a pure
// function without coupling to a runner implementation.
type State map[string]TaskState

// NewState returns a State with every node in the graph set to PENDING.
func NewState(g *Graph) State {
	s := make(State, len(g.nodes))
	for _, n := range g.nodes {
		s[n.Name] = TaskPending
	}
	return s
}

// IsTerminal reports whether the state is terminal (finished).
func IsTerminal(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskUpToDate:
		return true
	default:
		return false
	}
}

// IsSuccessful reports whether the state satisfies dependents.
func IsSuccessful(s TaskState) bool {
	switch s {
	case TaskCompleted, TaskUpToDate:
		return true
	default:
		return false
	}
}

// Transition performs an atomic validated transition for a single task.
//
// The caller supplies the expected prior state (from) to make races
// observable. The state map is mutated iff the transition is valid.
func Transition(state State, taskName string, from, to TaskState) error {
	cur, ok := state[taskName]
	if !ok {
		return fmt.Errorf("unknown task in state: %q", taskName)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", taskName, from, cur)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", taskName, from, to)
	}
	state[taskName] = to
	return nil
}

func isAllowedTransition(from, to TaskState) bool {
	switch from {
	case TaskPending:
		return to == TaskRunning || to == TaskUpToDate || to == TaskSkipped
	case TaskRunning:
		return to == TaskCompleted || to == TaskFailed
	default:
		return false
	}
}

// FailAndPropagate transitions taskName from RUNNING to FAILED and
// transitively marks all downstream PENDING tasks as SKIPPED, in
// deterministic canonical index order.
//
// A downstream node found RUNNING is an invariant violation: it means a task
// started before its dependency finished.
func FailAndPropagate(g *Graph, state State, taskName string) error {
	if g == nil {
		return fmt.Errorf("nil graph")
	}
	node, ok := g.nodesByName[taskName]
	if !ok {
		return fmt.Errorf("unknown task: %q", taskName)
	}
	if err := Transition(state, taskName, TaskRunning, TaskFailed); err != nil {
		return err
	}

	// BFS over dependents in canonical order.
	queue := append([]int(nil), g.outgoing[node.canonicalIndex]...)
	enqueued := make(map[int]bool, len(queue))
	for _, idx := range queue {
		enqueued[idx] = true
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		name := g.nodes[idx].Name

		switch state[name] {
		case TaskPending:
			if err := Transition(state, name, TaskPending, TaskSkipped); err != nil {
				return err
			}
		case TaskRunning:
			return fmt.Errorf("dependent %q is RUNNING while dependency %q failed", name, taskName)
		default:
			// Already terminal; downstream of it was handled when it
			// reached that state.
			continue
		}

		for _, next := range g.outgoing[idx] {
			if !enqueued[next] {
				enqueued[next] = true
				queue = append(queue, next)
			}
		}
	}
	return nil
}
