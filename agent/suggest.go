package agent

import (
	"strings"

	"github.com/planforge/planforge/plan"
)

// categoryRoles maps decomposition categories to the role that naturally owns
// them. Categories come from the decomposition response and are advisory.
var categoryRoles = map[string]plan.AgentType{
	"frontend":      plan.AgentDeveloper,
	"backend":       plan.AgentDeveloper,
	"database":      plan.AgentDeveloper,
	"testing":       plan.AgentTester,
	"deployment":    plan.AgentCoordinator,
	"documentation": plan.AgentReviewer,
}

// keywordRoles is scanned in order; the first keyword found in the task text
// wins. Order matters: "test" must be checked before the developer fallback
// since implementation tasks often mention testing.
var keywordRoles = []struct {
	keyword string
	role    plan.AgentType
}{
	{"test", plan.AgentTester},
	{"review", plan.AgentReviewer},
	{"audit", plan.AgentReviewer},
	{"analy", plan.AgentAnalyzer},
	{"research", plan.AgentAnalyzer},
	{"assess", plan.AgentAnalyzer},
	{"investigat", plan.AgentAnalyzer},
	{"plan", plan.AgentPlanner},
	{"design", plan.AgentPlanner},
	{"architect", plan.AgentPlanner},
	{"deploy", plan.AgentCoordinator},
	{"coordinat", plan.AgentCoordinator},
	{"integrat", plan.AgentCoordinator},
	{"document", plan.AgentReviewer},
}

// SuggestType picks an agent role for a task when the model's own suggestion
// is missing or invalid. Category is consulted first, then keywords in the
// title and description. Defaults to the developer role.
func SuggestType(category, title, description string) plan.AgentType {
	if role, ok := categoryRoles[strings.ToLower(strings.TrimSpace(category))]; ok {
		return role
	}
	text := strings.ToLower(title + " " + description)
	for _, kr := range keywordRoles {
		if strings.Contains(text, kr.keyword) {
			return kr.role
		}
	}
	return plan.AgentDeveloper
}
