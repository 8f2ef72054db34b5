package decompose

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/events"
	"github.com/planforge/planforge/plan"
	"github.com/planforge/planforge/provider/mock"
)

const twoSubtasksJSON = `Here is the breakdown you asked for:
{
    "analysis": "The request needs an API and tests.",
    "subtasks": [
        {
            "title": "Build API endpoints",
            "description": "Implement the REST endpoints",
            "estimated_hours": 6,
            "priority": 4,
            "depends_on": [],
            "category": "backend",
            "agent": "developer"
        },
        {
            "title": "Write integration tests",
            "description": "Cover the endpoints with tests",
            "estimated_hours": 4,
            "priority": 3,
            "depends_on": [0],
            "category": "testing",
            "agent": "tester"
        }
    ]
}`

func TestDecompose_SingleLayer(t *testing.T) {
	d := New(mock.New(twoSubtasksJSON), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build a user management API", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	p := res.Project
	if len(p.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3 (root + 2 subtasks)", len(p.Tasks))
	}
	root := p.Tasks[0]
	if root.Status != plan.StatusCompleted {
		t.Errorf("root status = %s, want completed after expansion", root.Status)
	}
	if root.Agent != plan.AgentPlanner || root.Priority != plan.PriorityMax {
		t.Errorf("root = %+v, want planner at priority 5", root)
	}

	api, tests := p.Tasks[1], p.Tasks[2]
	if api.Title != "Build API endpoints" || api.Agent != plan.AgentDeveloper {
		t.Errorf("first subtask = %q agent %s", api.Title, api.Agent)
	}
	if tests.Agent != plan.AgentTester {
		t.Errorf("second subtask agent = %s, want tester", tests.Agent)
	}
	if len(tests.Dependencies) != 1 || tests.Dependencies[0] != api.ID {
		t.Errorf("second subtask dependencies = %v, want [%s]", tests.Dependencies, api.ID)
	}
	if api.ParentID != root.ID || tests.ParentID != root.ID {
		t.Error("subtasks not linked to root")
	}
	for _, st := range []*plan.Task{api, tests} {
		if st.Status != plan.StatusPending {
			t.Errorf("subtask %s status = %s, want pending", st.Title, st.Status)
		}
	}

	if p.TaskCount != 3 {
		t.Errorf("TaskCount = %d, want 3", p.TaskCount)
	}
	if p.TotalHours != 10 {
		t.Errorf("TotalHours = %v, want 10", p.TotalHours)
	}
	if res.Report.TotalCreated != 2 || len(res.Report.Layers) != 1 {
		t.Errorf("report = %+v, want 2 tasks in 1 layer", res.Report)
	}
	if res.Report.AgentContributions[plan.AgentPlanner] != 1 {
		t.Errorf("planner contributions = %d, want 1", res.Report.AgentContributions[plan.AgentPlanner])
	}
	if !strings.Contains(res.Summary, "2 tasks") {
		t.Errorf("summary = %q, want task count mentioned", res.Summary)
	}
}

func TestDecompose_TwoLayers(t *testing.T) {
	leafJSON := func(title string) string {
		return `{"subtasks": [{"title": "` + title + `", "description": "detail", "estimated_hours": 2, "priority": 3, "category": "backend"}]}`
	}
	p := mock.New(twoSubtasksJSON, leafJSON("Define schema"), leafJSON("Add fixtures"))
	d := New(p, nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build a user management API", Options{
		MaxDepth:    2,
		Concurrency: 1, // keep scripted responses aligned with call order
	})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if got := len(res.Project.Tasks); got != 5 {
		t.Fatalf("tasks = %d, want 5 (root + 2 + 2)", got)
	}
	if p.Calls() != 3 {
		t.Errorf("provider calls = %d, want 3", p.Calls())
	}

	var completed, pending int
	for _, task := range res.Project.Tasks {
		switch task.Status {
		case plan.StatusCompleted:
			completed++
		case plan.StatusPending:
			pending++
		}
	}
	if completed != 3 || pending != 2 {
		t.Errorf("completed = %d pending = %d, want 3 and 2", completed, pending)
	}

	if len(res.Report.Layers) != 2 {
		t.Fatalf("layers = %d, want 2", len(res.Report.Layers))
	}
	if res.Report.Layers[0].SubtasksCreated != 2 || res.Report.Layers[1].SubtasksCreated != 2 {
		t.Errorf("layer sizes = %+v", res.Report.Layers)
	}
	if res.Report.Layers[1].TasksProcessed != 2 {
		t.Errorf("second layer processed %d, want 2", res.Report.Layers[1].TasksProcessed)
	}
}

func TestDecompose_FallbackOnMalformedResponse(t *testing.T) {
	d := New(mock.New("I would suggest starting with the database."), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if len(res.Project.Tasks) != 2 {
		t.Fatalf("tasks = %d, want root + fallback", len(res.Project.Tasks))
	}
	fb := res.Project.Tasks[1]
	if fb.Title != "Decomposed Task" {
		t.Errorf("fallback title = %q", fb.Title)
	}
	if fb.EstimatedHours != 8 || fb.Priority != plan.PriorityDefault {
		t.Errorf("fallback task = %+v, want 8h at default priority", fb)
	}
	if fb.Description != "I would suggest starting with the database." {
		t.Errorf("fallback description = %q, want the raw response", fb.Description)
	}
}

func TestDecompose_FallbackTruncatesLongResponse(t *testing.T) {
	long := strings.Repeat("x", 300)
	d := New(mock.New(long), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	desc := res.Project.Tasks[1].Description
	if !strings.HasSuffix(desc, "...") {
		t.Errorf("description %q not truncated", desc)
	}
	if len([]rune(desc)) != 203 {
		t.Errorf("description length = %d runes, want 203", len([]rune(desc)))
	}
}

func TestDecompose_EmptyRequest(t *testing.T) {
	d := New(mock.New(), nil, nil, nil)
	for _, req := range []string{"", "   "} {
		if _, err := d.Decompose(context.Background(), req, Options{}); err == nil {
			t.Errorf("Decompose(%q) expected error", req)
		}
	}
}

func TestDecompose_ProviderError(t *testing.T) {
	d := New(mock.NewFailing(context.DeadlineExceeded), nil, nil, nil)
	_, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err == nil {
		t.Fatal("expected provider error to surface")
	}
	if !strings.Contains(err.Error(), "expand") {
		t.Errorf("error = %v, want expand context", err)
	}
}

func TestDecompose_AgentFallsBackToSuggestion(t *testing.T) {
	response := `{"subtasks": [
		{"title": "Create users table", "category": "database"},
		{"title": "Review API documentation", "category": "general"},
		{"title": "Ship it", "category": "deployment", "agent": "not-a-role"}
	]}`
	d := New(mock.New(response), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	subs := res.Project.Tasks[1:]
	want := []plan.AgentType{plan.AgentDeveloper, plan.AgentReviewer, plan.AgentCoordinator}
	for i, st := range subs {
		if st.Agent != want[i] {
			t.Errorf("subtask %d agent = %s, want %s", i, st.Agent, want[i])
		}
	}
}

func TestDecompose_MaxSubtasksCap(t *testing.T) {
	response := `{"subtasks": [
		{"title": "t1"}, {"title": "t2"}, {"title": "t3"}, {"title": "t4"}, {"title": "t5"}
	]}`
	d := New(mock.New(response), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1, MaxSubtasks: 3})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if got := len(res.Project.Tasks); got != 4 {
		t.Errorf("tasks = %d, want root + 3 capped subtasks", got)
	}
}

func TestDecompose_InvalidDependencyIndicesDropped(t *testing.T) {
	response := `{"subtasks": [
		{"title": "first", "depends_on": [1, 99]},
		{"title": "second", "depends_on": [0, -1, 7]}
	]}`
	d := New(mock.New(response), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	first, second := res.Project.Tasks[1], res.Project.Tasks[2]
	if len(first.Dependencies) != 0 {
		t.Errorf("first dependencies = %v, want none (forward refs dropped)", first.Dependencies)
	}
	if len(second.Dependencies) != 1 || second.Dependencies[0] != first.ID {
		t.Errorf("second dependencies = %v, want [%s]", second.Dependencies, first.ID)
	}
}

func TestDecompose_DefaultsApplied(t *testing.T) {
	response := `{"subtasks": [{"description": "no title", "priority": 9, "estimated_hours": -2}]}`
	d := New(mock.New(response), nil, nil, nil)

	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	st := res.Project.Tasks[1]
	if st.Title != "Subtask 1" {
		t.Errorf("title = %q, want Subtask 1", st.Title)
	}
	if st.Priority != plan.PriorityDefault {
		t.Errorf("priority = %d, want clamped to default", st.Priority)
	}
	if st.EstimatedHours != plan.DefaultEstimateHours {
		t.Errorf("hours = %v, want default", st.EstimatedHours)
	}
	if st.Category != "general" {
		t.Errorf("category = %q, want general", st.Category)
	}
}

func TestDecompose_OmitEstimates(t *testing.T) {
	d := New(mock.New(twoSubtasksJSON), nil, nil, nil)
	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1, OmitEstimates: true})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	for _, st := range res.Project.Tasks[1:] {
		if st.EstimatedHours != 0 {
			t.Errorf("subtask %q hours = %v, want 0", st.Title, st.EstimatedHours)
		}
	}
}

func TestDecompose_PublishesEvents(t *testing.T) {
	bus := events.NewInMemoryBus()
	var kinds []string
	bus.Subscribe(events.TopicDecomposition, func(_ context.Context, ev *events.Envelope) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})

	d := New(mock.New(twoSubtasksJSON), nil, bus, nil)
	if _, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1}); err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	want := []string{"started", "layer_complete", "complete"}
	if len(kinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", kinds, want)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("event %d = %q, want %q", i, kinds[i], k)
		}
	}
}

func TestDecompose_ExecutionPlanRespectsDependencies(t *testing.T) {
	d := New(mock.New(twoSubtasksJSON), nil, nil, nil)
	res, err := d.Decompose(context.Background(), "Build something", Options{MaxDepth: 1})
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if len(res.Plan) != 3 {
		t.Fatalf("plan steps = %d, want 3", len(res.Plan))
	}
	position := make(map[string]int)
	for _, step := range res.Plan {
		position[step.TaskID] = step.Step
	}
	for _, task := range res.Project.Tasks {
		for _, dep := range task.Dependencies {
			if position[dep] >= position[task.ID] {
				t.Errorf("task %s scheduled at %d before dependency %s at %d",
					task.ID, position[task.ID], dep, position[dep])
			}
		}
	}
	if res.Plan[0].Step != 1 {
		t.Errorf("first step = %d, want 1", res.Plan[0].Step)
	}
}

func TestMeasureQuality(t *testing.T) {
	tasks := []*plan.Task{
		{ID: "a", Description: "desc", EstimatedHours: 2},
		{ID: "b", Description: "desc", EstimatedHours: 8, Dependencies: []string{"a"}},
		{ID: "c", EstimatedHours: 20},
	}
	q := measureQuality(tasks)

	if q.TotalTasks != 3 {
		t.Errorf("total = %d, want 3", q.TotalTasks)
	}
	if math.Abs(q.DescriptionCoverage-200.0/3) > 0.01 {
		t.Errorf("description coverage = %v, want ~66.67", q.DescriptionCoverage)
	}
	if q.EstimationCoverage != 100 {
		t.Errorf("estimation coverage = %v, want 100", q.EstimationCoverage)
	}
	if math.Abs(q.DependencyCoverage-100.0/3) > 0.01 {
		t.Errorf("dependency coverage = %v, want ~33.33", q.DependencyCoverage)
	}
	if q.AverageTaskSize != 10 {
		t.Errorf("average size = %v, want 10", q.AverageTaskSize)
	}
	if q.Complexity.Low != 1 || q.Complexity.Medium != 1 || q.Complexity.High != 1 {
		t.Errorf("complexity = %+v, want one per bucket", q.Complexity)
	}
}

func TestSuggestTypeUsedForCategories(t *testing.T) {
	// guard the mapping the parser leans on
	if got := agent.SuggestType("testing", "", ""); got != plan.AgentTester {
		t.Errorf("testing category = %s, want tester", got)
	}
	if got := agent.SuggestType("general", "Investigate slow queries", ""); got != plan.AgentAnalyzer {
		t.Errorf("investigate title = %s, want analyzer", got)
	}
}
