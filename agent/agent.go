// Package agent defines the six fixed agent roles, their capabilities, and
// the read-only directory the simulator consults for workload accounting.
package agent

import (
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/planforge/planforge/plan"
)

// DefaultMaxActive is the per-role workload ceiling used when a profile does
// not set its own.
const DefaultMaxActive = 3

// Profile describes one agent role: what it does and how much concurrent
// work it accepts.
type Profile struct {
	Type         plan.AgentType `json:"type"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Capabilities []string       `json:"capabilities"`
	Available    bool           `json:"is_available"`
	MaxActive    int            `json:"max_concurrent_tasks"`
}

// Directory maps agent roles to their profiles. A simulation run takes its
// own snapshot (Clone) so mid-run availability changes cannot corrupt
// workload accounting.
type Directory map[plan.AgentType]Profile

// DefaultDirectory returns the six canonical roles, all available.
func DefaultDirectory() Directory {
	d := make(Directory, 6)
	for _, p := range []Profile{
		{
			Type:        plan.AgentPlanner,
			Name:        "Strategic Planner",
			Description: "Decomposes high-level requirements into detailed, actionable tasks",
			Capabilities: []string{
				"task_decomposition", "requirement_analysis", "work_breakdown_structure",
				"dependency_mapping", "priority_assignment", "resource_estimation",
			},
		},
		{
			Type:        plan.AgentAnalyzer,
			Name:        "Technical Analyzer",
			Description: "Analyzes requirements, assesses technical feasibility, and identifies potential issues",
			Capabilities: []string{
				"requirement_analysis", "technical_feasibility_assessment", "risk_identification",
				"dependency_analysis", "performance_analysis", "security_assessment", "architecture_review",
			},
		},
		{
			Type:        plan.AgentDeveloper,
			Name:        "Code Developer",
			Description: "Implements features, writes code, and handles technical implementation tasks",
			Capabilities: []string{
				"code_implementation", "feature_development", "bug_fixing", "code_review",
				"refactoring", "api_development", "database_design", "frontend_development",
				"backend_development", "testing_implementation",
			},
		},
		{
			Type:        plan.AgentTester,
			Name:        "Quality Tester",
			Description: "Creates test cases, performs quality assurance, and validates implementations",
			Capabilities: []string{
				"test_case_creation", "unit_testing", "integration_testing", "end_to_end_testing",
				"performance_testing", "security_testing", "bug_reproduction", "test_automation",
				"quality_assurance", "validation_testing",
			},
		},
		{
			Type:        plan.AgentReviewer,
			Name:        "Code Reviewer",
			Description: "Reviews code, assesses quality, and provides feedback for improvements",
			Capabilities: []string{
				"code_review", "quality_assessment", "security_review", "performance_review",
				"architecture_review", "documentation_review", "best_practices_validation",
				"compliance_checking", "technical_debt_assessment", "mentoring_feedback",
			},
		},
		{
			Type:        plan.AgentCoordinator,
			Name:        "Workflow Coordinator",
			Description: "Orchestrates multi-agent workflows, manages task dependencies, and coordinates execution",
			Capabilities: []string{
				"workflow_orchestration", "task_coordination", "dependency_management",
				"resource_allocation", "progress_monitoring", "conflict_resolution",
				"workflow_optimization", "agent_scheduling", "execution_planning", "quality_control",
			},
		},
	} {
		p.Available = true
		p.MaxActive = DefaultMaxActive
		d[p.Type] = p
	}
	return d
}

// Available reports whether the role exists in the directory and is marked
// available. Unknown roles are unavailable.
func (d Directory) Available(t plan.AgentType) bool {
	p, ok := d[t]
	return ok && p.Available
}

// MaxActive returns the role's workload ceiling, or DefaultMaxActive when the
// profile leaves it unset.
func (d Directory) MaxActive(t plan.AgentType) int {
	p, ok := d[t]
	if !ok || p.MaxActive <= 0 {
		return DefaultMaxActive
	}
	return p.MaxActive
}

// Clone returns an independent copy of the directory.
func (d Directory) Clone() Directory {
	out := make(Directory, len(d))
	for t, p := range d {
		p.Capabilities = append([]string(nil), p.Capabilities...)
		out[t] = p
	}
	return out
}

// Profiles returns the directory's profiles in canonical role order, with any
// non-canonical entries appended alphabetically.
func (d Directory) Profiles() []Profile {
	var out []Profile
	seen := make(map[plan.AgentType]bool, len(d))
	for _, t := range plan.AgentTypes() {
		if p, ok := d[t]; ok {
			out = append(out, p)
			seen[t] = true
		}
	}
	var extra []Profile
	for t, p := range d {
		if !seen[t] {
			extra = append(extra, p)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Type < extra[j].Type })
	return append(out, extra...)
}

var titleCaser = cases.Title(language.English)

// RoleLabel renders an agent type as a human-readable label, e.g.
// "developer" becomes "Developer".
func RoleLabel(t plan.AgentType) string {
	return titleCaser.String(string(t))
}
