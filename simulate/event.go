package simulate

import (
	"time"

	"github.com/planforge/planforge/plan"
)

// EventType classifies entries in the simulation log.
type EventType string

const (
	// EventState is a periodic snapshot of run progress.
	EventState EventType = "state"
	// EventTaskStart records a task being admitted to execution.
	EventTaskStart EventType = "task_start"
	// EventTaskProgress records a running task crossing a progress checkpoint.
	EventTaskProgress EventType = "task_progress"
	// EventTaskProcessing records the assigned agent engaging a task.
	EventTaskProcessing EventType = "task_processing"
	// EventTaskCompletion records a task finishing successfully.
	EventTaskCompletion EventType = "task_completion"
	// EventError records a failure, a blocked task or a stalled run.
	EventError EventType = "error"
)

// Event is a single timestamped entry in the simulation log. Only the
// fields relevant to the event type are populated.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	TaskTitle string         `json:"task_title,omitempty"`
	Agent     plan.AgentType `json:"agent_type,omitempty"`
	Hours     float64        `json:"estimated_hours,omitempty"`
	Progress  float64        `json:"progress_percentage,omitempty"`
	Running   int            `json:"running_tasks,omitempty"`
	Queued    int            `json:"queued_tasks,omitempty"`
	Completed int            `json:"completed_tasks,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Sink receives events as the simulation emits them, in log order.
// Implementations must not block; slow consumers should buffer or drop.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }
