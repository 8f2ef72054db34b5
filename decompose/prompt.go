package decompose

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge/plan"
)

// rolePreamble returns the system message framing the provider as one
// of the agent roles. The role decides which angle the breakdown takes.
func rolePreamble(at plan.AgentType) string {
	switch at {
	case plan.AgentPlanner:
		return "You are a senior software architect and project planner. You decompose requirements into detailed, actionable subtasks using chain-of-thought reasoning."
	case plan.AgentAnalyzer:
		return "You are a technical analyzer. You break work down by examining requirements, surfacing implicit constraints and assessing complexity and risk."
	case plan.AgentDeveloper:
		return "You are an experienced software developer. You break implementation work into concrete coding tasks with clear boundaries."
	case plan.AgentTester:
		return "You are a quality assurance engineer. You break testing work into specific verification tasks covering functionality, edge cases and regressions."
	case plan.AgentReviewer:
		return "You are a code reviewer. You break review and documentation work into focused, verifiable tasks."
	case plan.AgentCoordinator:
		return "You are a delivery coordinator. You break integration and deployment work into sequenced, dependency-aware tasks."
	default:
		return "You are a senior software architect and project planner. You decompose requirements into detailed, actionable subtasks."
	}
}

// buildPrompt renders the chain-of-thought decomposition prompt for one
// task. The JSON contract at the end is what parseSubtasks consumes:
// depends_on entries are zero-based indices of earlier subtasks in the
// same list.
func buildPrompt(task *plan.Task, projectContext, extraContext string) string {
	ctx := projectContext
	if extraContext != "" {
		ctx += "\n" + extraContext
	}
	if strings.TrimSpace(ctx) == "" {
		ctx = "No additional context provided"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Decompose the following requirement into detailed, actionable subtasks.\n\n")
	fmt.Fprintf(&b, "REQUIREMENT: %s\n\n", task.Description)
	fmt.Fprintf(&b, "CONTEXT: %s\n\n", ctx)
	b.WriteString(`Follow this chain-of-thought process:

1. ANALYSIS: What is the core functionality? What are the implicit
   requirements, the technical domains involved and the risks?
2. DECOMPOSITION: What are the main functional areas, the supporting
   infrastructure needs, the integration points and the testing
   requirements?
3. TASK CREATION: For each component create a specific, measurable
   task with estimated hours (1-40), a priority (1-5, where 5 is
   highest) and its dependencies.
4. VALIDATION: Check the set for completeness, clarity, feasibility
   and logical ordering.

Respond in exactly this JSON format:
{
    "analysis": "Your analysis of the requirement",
    "subtasks": [
        {
            "title": "Task title",
            "description": "Detailed task description",
            "estimated_hours": 8,
            "priority": 3,
            "depends_on": [0],
            "category": "frontend|backend|database|testing|deployment|documentation",
            "agent": "planner|analyzer|developer|tester|reviewer|coordinator"
        }
    ]
}

depends_on lists zero-based indices of earlier entries in the subtasks
array that must finish first. Leave it empty for independent tasks.
`)
	return b.String()
}
