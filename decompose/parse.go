package decompose

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/plan"
)

type rawDecomposition struct {
	Analysis string       `json:"analysis"`
	Subtasks []rawSubtask `json:"subtasks"`
}

type rawSubtask struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	EstimatedHours float64 `json:"estimated_hours"`
	Priority       int     `json:"priority"`
	DependsOn      []int   `json:"depends_on"`
	Category       string  `json:"category"`
	Agent          string  `json:"agent"`
}

// parseSubtasks extracts subtasks from a provider response. Responses
// are treated leniently: the JSON document is located between the first
// opening and last closing brace, missing fields fall back to defaults
// and an unparseable response degrades to a single catch-all subtask
// rather than an error.
func parseSubtasks(content string, parent *plan.Task, opts Options) []*plan.Task {
	raw, ok := extract(content)
	if !ok || len(raw.Subtasks) == 0 {
		return []*plan.Task{fallbackSubtask(content, parent, opts)}
	}
	if len(raw.Subtasks) > opts.MaxSubtasks {
		raw.Subtasks = raw.Subtasks[:opts.MaxSubtasks]
	}

	ids := make([]string, len(raw.Subtasks))
	for i := range raw.Subtasks {
		ids[i] = uuid.NewString()
	}

	tasks := make([]*plan.Task, len(raw.Subtasks))
	for i, r := range raw.Subtasks {
		t := &plan.Task{
			ID:          ids[i],
			Title:       r.Title,
			Description: r.Description,
			Status:      plan.StatusPending,
			Priority:    r.Priority,
			Category:    r.Category,
			ParentID:    parent.ID,
		}
		if t.Title == "" {
			t.Title = fmt.Sprintf("Subtask %d", i+1)
		}
		if t.Priority < plan.PriorityMin || t.Priority > plan.PriorityMax {
			t.Priority = plan.PriorityDefault
		}
		if t.Category == "" {
			t.Category = "general"
		}
		if !opts.OmitEstimates {
			t.EstimatedHours = r.EstimatedHours
			if t.EstimatedHours <= 0 {
				t.EstimatedHours = plan.DefaultEstimateHours
			}
		}
		if at, err := plan.ParseAgentType(r.Agent); err == nil && r.Agent != "" {
			t.Agent = at
		} else {
			t.Agent = agent.SuggestType(t.Category, t.Title, t.Description)
		}
		// only earlier siblings may be dependencies, which keeps the
		// graph acyclic no matter what the model answered
		for _, idx := range r.DependsOn {
			if idx >= 0 && idx < i {
				t.Dependencies = append(t.Dependencies, ids[idx])
			}
		}
		tasks[i] = t
	}
	return tasks
}

// extract locates and decodes the outermost JSON object in content.
func extract(content string) (rawDecomposition, bool) {
	var raw rawDecomposition
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return raw, false
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return raw, false
	}
	return raw, true
}

// fallbackSubtask wraps an unparseable response in one generic subtask
// so the decomposition still moves forward.
func fallbackSubtask(content string, parent *plan.Task, opts Options) *plan.Task {
	t := &plan.Task{
		ID:          uuid.NewString(),
		Title:       "Decomposed Task",
		Description: truncateText(content, 200),
		Status:      plan.StatusPending,
		Priority:    plan.PriorityDefault,
		Category:    "general",
		ParentID:    parent.ID,
		Agent:       plan.AgentDeveloper,
	}
	if !opts.OmitEstimates {
		t.EstimatedHours = 8
	}
	return t
}
