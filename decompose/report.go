package decompose

import (
	"sort"

	"github.com/planforge/planforge/plan"
)

// Report describes how a decomposition went, layer by layer.
type Report struct {
	TotalCreated       int                    `json:"total_tasks_created"`
	Layers             []LayerReport          `json:"decomposition_layers"`
	AgentContributions map[plan.AgentType]int `json:"agent_contributions"`
	Quality            Quality                `json:"quality_metrics"`
}

// LayerReport covers one expansion round.
type LayerReport struct {
	Depth           int `json:"depth"`
	TasksProcessed  int `json:"tasks_processed"`
	SubtasksCreated int `json:"subtasks_created"`
}

// Quality aggregates coverage and sizing metrics over the produced
// plan. Coverage values are percentages.
type Quality struct {
	TotalTasks          int        `json:"total_tasks"`
	DescriptionCoverage float64    `json:"description_coverage"`
	EstimationCoverage  float64    `json:"estimation_coverage"`
	DependencyCoverage  float64    `json:"dependency_coverage"`
	AverageTaskSize     float64    `json:"average_task_size_hours"`
	Complexity          Complexity `json:"complexity_distribution"`
}

// Complexity buckets tasks by estimated size.
type Complexity struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// PlanStep is one entry in the suggested execution order.
type PlanStep struct {
	Step           int            `json:"step"`
	TaskID         string         `json:"task_id"`
	TaskTitle      string         `json:"task_title"`
	Agent          plan.AgentType `json:"suggested_agent"`
	Priority       int            `json:"priority"`
	EstimatedHours float64        `json:"estimated_hours"`
	Dependencies   []string       `json:"dependencies,omitempty"`
	Category       string         `json:"category,omitempty"`
}

func measureQuality(tasks []*plan.Task) Quality {
	q := Quality{TotalTasks: len(tasks)}
	if len(tasks) == 0 {
		return q
	}

	var described, estimated, dependent int
	var totalHours float64
	for _, t := range tasks {
		if t.Description != "" {
			described++
		}
		if t.EstimatedHours > 0 {
			estimated++
			totalHours += t.EstimatedHours
		}
		if len(t.Dependencies) > 0 {
			dependent++
		}
		switch h := t.EffectiveHours(); {
		case h <= 4:
			q.Complexity.Low++
		case h <= 12:
			q.Complexity.Medium++
		default:
			q.Complexity.High++
		}
	}
	total := float64(len(tasks))
	q.DescriptionCoverage = float64(described) / total * 100
	q.EstimationCoverage = float64(estimated) / total * 100
	q.DependencyCoverage = float64(dependent) / total * 100
	if estimated > 0 {
		q.AverageTaskSize = totalHours / float64(estimated)
	}
	return q
}

// executionPlan orders tasks for execution: repeatedly pick the
// highest-priority task whose dependencies are already scheduled, ties
// broken by id. Terminal placeholder tasks still appear so the plan
// covers the whole project.
func executionPlan(tasks []*plan.Task) []PlanStep {
	scheduled := make(map[string]bool, len(tasks))
	remaining := make([]*plan.Task, len(tasks))
	copy(remaining, tasks)

	var steps []PlanStep
	for len(remaining) > 0 {
		var ready []*plan.Task
		for _, t := range remaining {
			ok := true
			for _, dep := range t.Dependencies {
				if !scheduled[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			// unreachable once the graph validated; breaks the
			// stall instead of looping forever
			ready = remaining
		}
		sort.Slice(ready, func(i, j int) bool {
			if ready[i].Priority != ready[j].Priority {
				return ready[i].Priority > ready[j].Priority
			}
			return ready[i].ID < ready[j].ID
		})

		next := ready[0]
		scheduled[next.ID] = true
		steps = append(steps, PlanStep{
			Step:           len(steps) + 1,
			TaskID:         next.ID,
			TaskTitle:      next.Title,
			Agent:          next.Agent,
			Priority:       next.Priority,
			EstimatedHours: next.EffectiveHours(),
			Dependencies:   next.Dependencies,
			Category:       next.Category,
		})
		for i, t := range remaining {
			if t.ID == next.ID {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return steps
}
