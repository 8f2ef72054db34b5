// Package plan defines the project plan model shared by the decomposer, the
// execution simulator, and the persistence layer.
package plan

import (
	"errors"
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task within a plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether a task in this status can never run again.
// Blocked is terminal: a task blocked by a failed ancestor is not re-evaluated.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBlocked, StatusCancelled:
		return true
	default:
		return false
	}
}

// AgentType identifies one of the six fixed agent roles. The set is closed so
// workload accounting can switch over it exhaustively.
type AgentType string

const (
	AgentPlanner     AgentType = "planner"
	AgentAnalyzer    AgentType = "analyzer"
	AgentDeveloper   AgentType = "developer"
	AgentTester      AgentType = "tester"
	AgentReviewer    AgentType = "reviewer"
	AgentCoordinator AgentType = "coordinator"
)

// AgentTypes returns every agent role in canonical order.
func AgentTypes() []AgentType {
	return []AgentType{
		AgentPlanner,
		AgentAnalyzer,
		AgentDeveloper,
		AgentTester,
		AgentReviewer,
		AgentCoordinator,
	}
}

// ParseAgentType converts a string into a known AgentType.
func ParseAgentType(s string) (AgentType, error) {
	switch t := AgentType(s); t {
	case AgentPlanner, AgentAnalyzer, AgentDeveloper, AgentTester, AgentReviewer, AgentCoordinator:
		return t, nil
	default:
		return "", fmt.Errorf("plan: unknown agent type %q", s)
	}
}

// Priority bounds. 5 is most urgent. A zero priority on an incoming task is
// normalized to PriorityDefault.
const (
	PriorityMin     = 1
	PriorityDefault = 3
	PriorityMax     = 5
)

// DefaultEstimateHours is assumed for tasks submitted without an estimate.
const DefaultEstimateHours = 4.0

// Task is a unit of plannable work produced by decomposition and consumed by
// the execution simulator.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Status         Status    `json:"status"`
	Priority       int       `json:"priority"`
	EstimatedHours float64   `json:"estimated_hours"`
	Agent          AgentType `json:"assigned_agent"`
	Dependencies   []string  `json:"dependencies,omitempty"`
	ParentID       string    `json:"parent_id,omitempty"`
	Category       string    `json:"category,omitempty"`
}

// EffectiveHours returns the task's estimate, or DefaultEstimateHours when
// the task carries no estimate.
func (t *Task) EffectiveHours() float64 {
	if t.EstimatedHours <= 0 {
		return DefaultEstimateHours
	}
	return t.EstimatedHours
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = append([]string(nil), t.Dependencies...)
	}
	return &c
}

// Normalize fills defaulted fields in place: zero priority becomes
// PriorityDefault, an empty status becomes pending, and an empty agent is
// assigned to the developer role.
func (t *Task) Normalize() {
	if t.Priority == 0 {
		t.Priority = PriorityDefault
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Agent == "" {
		t.Agent = AgentDeveloper
	}
}

// Validate checks the task's own fields. Graph-level checks (dependency
// resolution, cycles) are done by ValidateGraph.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Reason: "task id is empty"}
	}
	if t.Priority != 0 && (t.Priority < PriorityMin || t.Priority > PriorityMax) {
		return &ValidationError{TaskID: t.ID, Reason: fmt.Sprintf("priority %d outside %d..%d", t.Priority, PriorityMin, PriorityMax)}
	}
	if t.EstimatedHours < 0 {
		return &ValidationError{TaskID: t.ID, Reason: fmt.Sprintf("negative estimate %.2f", t.EstimatedHours)}
	}
	if t.Agent != "" {
		if _, err := ParseAgentType(string(t.Agent)); err != nil {
			return &ValidationError{TaskID: t.ID, Reason: fmt.Sprintf("unknown agent type %q", t.Agent)}
		}
	}
	return nil
}

// Project is a decomposed plan: a named set of tasks forming a dependency DAG.
// TaskCount is populated only by Store.List, which does not load tasks.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tasks       []*Task   `json:"tasks,omitempty"`
	TaskCount   int       `json:"task_count,omitempty"`
	TotalHours  float64   `json:"total_estimated_hours"`
	CreatedAt   time.Time `json:"created_at"`
}

// CloneTasks returns deep copies of the project's tasks in order.
func (p *Project) CloneTasks() []*Task {
	out := make([]*Task, len(p.Tasks))
	for i, t := range p.Tasks {
		out[i] = t.Clone()
	}
	return out
}

// ValidationError reports a plan that cannot be simulated or persisted:
// malformed task fields, unresolved dependencies, or dependency cycles.
type ValidationError struct {
	TaskID string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("plan: task %s: %s", e.TaskID, e.Reason)
	}
	return "plan: " + e.Reason
}

// ErrNotFound is returned by stores when a project does not exist.
var ErrNotFound = errors.New("plan: project not found")
