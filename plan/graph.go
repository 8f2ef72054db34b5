package plan

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"
)

// ValidateGraph checks that the task set forms a well-formed dependency DAG:
// ids are unique and non-empty, every dependency resolves within the set, and
// no dependency cycle exists. It runs before any simulation work begins so a
// bad plan never produces a partial log.
func ValidateGraph(tasks []*Task) error {
	if len(tasks) == 0 {
		return &ValidationError{Reason: "plan contains no tasks"}
	}

	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return &ValidationError{Reason: "task id is empty"}
		}
		if _, dup := byID[t.ID]; dup {
			return &ValidationError{TaskID: t.ID, Reason: "duplicate task id"}
		}
		byID[t.ID] = t
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			// Edge from nil keeps dependency-free tasks in the sort.
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return &ValidationError{TaskID: t.ID, Reason: "task depends on itself"}
			}
			if _, ok := byID[dep]; !ok {
				return &ValidationError{TaskID: t.ID, Reason: fmt.Sprintf("unresolved dependency %q", dep)}
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("dependency cycle: %v", err)}
	}

	seen := 0
	for _, id := range sorted {
		if id != nil {
			seen++
		}
	}
	if seen != len(tasks) {
		return &ValidationError{Reason: "dependency cycle: not all tasks reachable in topological order"}
	}
	return nil
}

// Dependents builds the reverse adjacency of the dependency graph: for each
// task id, the ids of tasks that depend on it, sorted for deterministic
// iteration.
func Dependents(tasks []*Task) map[string][]string {
	rev := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			rev[dep] = append(rev[dep], t.ID)
		}
	}
	for _, ids := range rev {
		sort.Strings(ids)
	}
	return rev
}

// Layers groups tasks into dependency layers: every task in layer n depends
// only on tasks in layers before n. Within a layer, tasks are ordered by
// priority descending then id ascending, the same order the simulator admits
// them. The input must already satisfy ValidateGraph.
func Layers(tasks []*Task) [][]*Task {
	placed := make(map[string]int, len(tasks)) // id -> layer index
	remaining := append([]*Task(nil), tasks...)

	var layers [][]*Task
	for len(remaining) > 0 {
		var layer []*Task
		var next []*Task
		for _, t := range remaining {
			ready := true
			for _, dep := range t.Dependencies {
				if _, ok := placed[dep]; !ok {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, t)
			} else {
				next = append(next, t)
			}
		}
		if len(layer) == 0 {
			// Unreachable after ValidateGraph; avoid spinning on bad input.
			break
		}
		sort.Slice(layer, func(i, j int) bool {
			if layer[i].Priority != layer[j].Priority {
				return layer[i].Priority > layer[j].Priority
			}
			return layer[i].ID < layer[j].ID
		})
		for _, t := range layer {
			placed[t.ID] = len(layers)
		}
		layers = append(layers, layer)
		remaining = next
	}
	return layers
}
