package simulate

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/plan"
)

var testStart = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func testTask(id string, priority int, hours float64, at plan.AgentType, deps ...string) *plan.Task {
	return &plan.Task{
		ID:             id,
		Title:          "Task " + id,
		Priority:       priority,
		EstimatedHours: hours,
		Agent:          at,
		Dependencies:   deps,
	}
}

func testOptions() Options {
	return Options{Start: testStart, MaxConcurrent: 3}
}

func eventsOfType(log []Event, et EventType) []Event {
	var out []Event
	for _, e := range log {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

// peakConcurrency replays start and settle events to find the largest
// number of tasks running at once.
func peakConcurrency(log []Event) int {
	running := make(map[string]bool)
	peak := 0
	for _, e := range log {
		switch e.Type {
		case EventTaskStart:
			running[e.TaskID] = true
		case EventTaskCompletion, EventError:
			delete(running, e.TaskID)
		}
		if len(running) > peak {
			peak = len(running)
		}
	}
	return peak
}

func TestRunCompletesAllTasks(t *testing.T) {
	tasks := []*plan.Task{
		testTask("a", 3, 2, plan.AgentDeveloper),
		testTask("b", 3, 1, plan.AgentDeveloper, "a"),
		testTask("c", 3, 1, plan.AgentTester, "b"),
	}
	res, err := Run(context.Background(), tasks, nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Summary.Success {
		t.Errorf("expected success, got %+v", res.Summary)
	}
	if res.Summary.CompletedTasks != 3 || res.Summary.RemainingTasks != 0 {
		t.Errorf("completed = %d, remaining = %d, want 3 and 0",
			res.Summary.CompletedTasks, res.Summary.RemainingTasks)
	}
	if res.Summary.CompletionRate != 100 {
		t.Errorf("completion rate = %v, want 100", res.Summary.CompletionRate)
	}
	for _, task := range res.Tasks {
		if task.Status != plan.StatusCompleted {
			t.Errorf("task %s status = %s, want completed", task.ID, task.Status)
		}
	}
	if got := len(eventsOfType(res.Log, EventTaskCompletion)); got != 3 {
		t.Errorf("completion events = %d, want 3", got)
	}
	if res.Log[0].Type != EventState {
		t.Errorf("first event type = %s, want state", res.Log[0].Type)
	}
	// chain of 2h+1h+1h with no jitter
	if res.Summary.SimulatedHours != 4 {
		t.Errorf("simulated hours = %v, want 4", res.Summary.SimulatedHours)
	}
}

func TestRunInputTasksUntouched(t *testing.T) {
	in := testTask("a", 3, 1, plan.AgentDeveloper)
	if _, err := Run(context.Background(), []*plan.Task{in}, nil, testOptions()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if in.Status != "" {
		t.Errorf("input task status mutated to %q", in.Status)
	}
}

func TestRunPriorityOrder(t *testing.T) {
	// a and b compete for two slots, c depends on both
	tasks := []*plan.Task{
		testTask("b", 1, 1, plan.AgentDeveloper),
		testTask("a", 5, 2, plan.AgentDeveloper),
		testTask("c", 3, 1, plan.AgentDeveloper, "a", "b"),
	}
	opts := testOptions()
	opts.MaxConcurrent = 2
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	starts := eventsOfType(res.Log, EventTaskStart)
	if len(starts) != 3 {
		t.Fatalf("start events = %d, want 3", len(starts))
	}
	if starts[0].TaskID != "a" || starts[1].TaskID != "b" {
		t.Errorf("start order = %s, %s, want a then b", starts[0].TaskID, starts[1].TaskID)
	}

	completions := eventsOfType(res.Log, EventTaskCompletion)
	if len(completions) != 3 {
		t.Fatalf("completion events = %d, want 3", len(completions))
	}
	if completions[0].TaskID != "b" || completions[1].TaskID != "a" || completions[2].TaskID != "c" {
		t.Errorf("completion order = %s, %s, %s, want b, a, c",
			completions[0].TaskID, completions[1].TaskID, completions[2].TaskID)
	}

	// c may only start once a, the later of its dependencies, finishes
	if starts[2].TaskID != "c" {
		t.Fatalf("third start = %s, want c", starts[2].TaskID)
	}
	if starts[2].Timestamp.Before(completions[1].Timestamp) {
		t.Errorf("c started %v before dependency a finished %v",
			starts[2].Timestamp, completions[1].Timestamp)
	}
	if !res.Summary.Success {
		t.Errorf("expected success, got %+v", res.Summary)
	}
}

func TestRunMaxConcurrent(t *testing.T) {
	var tasks []*plan.Task
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tasks = append(tasks, testTask(id, 3, 1, plan.AgentDeveloper))
	}
	opts := testOptions()
	opts.MaxConcurrent = 2
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peakConcurrency(res.Log); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}
	if res.Summary.CompletedTasks != 5 {
		t.Errorf("completed = %d, want 5", res.Summary.CompletedTasks)
	}
}

func TestRunAgentCeiling(t *testing.T) {
	dir := agent.DefaultDirectory()
	p := dir[plan.AgentDeveloper]
	p.MaxActive = 1
	dir[plan.AgentDeveloper] = p

	tasks := []*plan.Task{
		testTask("a", 3, 1, plan.AgentDeveloper),
		testTask("b", 3, 1, plan.AgentDeveloper),
		testTask("c", 3, 1, plan.AgentTester),
	}
	opts := testOptions()
	opts.MaxConcurrent = 10
	res, err := Run(context.Background(), tasks, dir, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Summary.Success {
		t.Fatalf("expected success, got %+v", res.Summary)
	}

	// replay the log: never two developer tasks at once
	devRunning := 0
	for _, e := range res.Log {
		switch {
		case e.Type == EventTaskStart && e.Agent == plan.AgentDeveloper:
			devRunning++
			if devRunning > 1 {
				t.Fatalf("two developer tasks running at %v", e.Timestamp)
			}
		case e.Type == EventTaskCompletion && e.Agent == plan.AgentDeveloper:
			devRunning--
		}
	}
	// the tester task is free to run alongside the first developer task
	if got := peakConcurrency(res.Log); got != 2 {
		t.Errorf("peak concurrency = %d, want 2", got)
	}
}

func TestRunFailureBlocksDependents(t *testing.T) {
	tasks := []*plan.Task{
		testTask("x", 3, 1, plan.AgentDeveloper, "y"),
		testTask("y", 3, 1, plan.AgentDeveloper),
		testTask("z", 3, 1, plan.AgentTester, "x"),
	}
	opts := testOptions()
	opts.FailureRate = 1
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Success {
		t.Error("expected failure, got success")
	}
	if res.Summary.FailedTasks < 1 {
		t.Errorf("failed tasks = %d, want at least 1", res.Summary.FailedTasks)
	}
	byID := make(map[string]*plan.Task)
	for _, task := range res.Tasks {
		byID[task.ID] = task
	}
	if got := byID["y"].Status; got != plan.StatusCancelled {
		t.Errorf("y status = %s, want cancelled", got)
	}
	if got := byID["x"].Status; got != plan.StatusBlocked {
		t.Errorf("x status = %s, want blocked", got)
	}
	if got := byID["z"].Status; got != plan.StatusBlocked {
		t.Errorf("z status = %s, want blocked", got)
	}
	if got := len(eventsOfType(res.Log, EventTaskCompletion)); got != 0 {
		t.Errorf("completion events = %d, want 0", got)
	}
	if got := len(eventsOfType(res.Log, EventError)); got < 3 {
		t.Errorf("error events = %d, want at least 3", got)
	}
	if res.Summary.RemainingTasks != 2 {
		t.Errorf("remaining = %d, want 2", res.Summary.RemainingTasks)
	}
}

func TestRunCycleRejected(t *testing.T) {
	tasks := []*plan.Task{
		testTask("a", 3, 1, plan.AgentDeveloper, "b"),
		testTask("b", 3, 1, plan.AgentDeveloper, "a"),
	}
	var seen []Event
	opts := testOptions()
	opts.Sink = SinkFunc(func(e Event) { seen = append(seen, e) })

	res, err := Run(context.Background(), tasks, nil, opts)
	if err == nil {
		t.Fatal("expected error for cyclic plan")
	}
	var verr *plan.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *plan.ValidationError", err)
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	if len(seen) != 0 {
		t.Errorf("sink saw %d events before validation failed", len(seen))
	}
}

func TestRunUnresolvedDependencyRejected(t *testing.T) {
	tasks := []*plan.Task{testTask("a", 3, 1, plan.AgentDeveloper, "ghost")}
	_, err := Run(context.Background(), tasks, nil, testOptions())
	var verr *plan.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *plan.ValidationError", err)
	}
	if verr.TaskID != "a" {
		t.Errorf("TaskID = %q, want a", verr.TaskID)
	}
}

func TestRunOptionValidation(t *testing.T) {
	cases := []struct {
		name   string
		opts   Options
		option string
	}{
		{"negative concurrency", Options{MaxConcurrent: -1}, "max_concurrent"},
		{"failure rate above one", Options{FailureRate: 1.5}, "failure_rate"},
		{"negative failure rate", Options{FailureRate: -0.1}, "failure_rate"},
		{"negative jitter", Options{MaxJitter: -1}, "max_jitter"},
		{"negative hour scale", Options{HourScale: -time.Hour}, "hour_scale"},
	}
	tasks := []*plan.Task{testTask("a", 3, 1, plan.AgentDeveloper)}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Run(context.Background(), tasks, nil, tc.opts)
			var cerr *ConfigError
			if !errors.As(err, &cerr) {
				t.Fatalf("error type = %T, want *ConfigError", err)
			}
			if cerr.Option != tc.option {
				t.Errorf("option = %q, want %q", cerr.Option, tc.option)
			}
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	build := func() []*plan.Task {
		return []*plan.Task{
			testTask("a", 5, 3, plan.AgentPlanner),
			testTask("b", 4, 2, plan.AgentDeveloper, "a"),
			testTask("c", 4, 5, plan.AgentDeveloper, "a"),
			testTask("d", 2, 1, plan.AgentTester, "b", "c"),
			testTask("e", 3, 2, plan.AgentReviewer, "b"),
			testTask("f", 1, 4, plan.AgentCoordinator),
		}
	}
	opts := testOptions()
	opts.Seed = 42
	opts.FailureRate = 0.3
	opts.MaxJitter = 0.25

	first, err := Run(context.Background(), build(), nil, opts)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(context.Background(), build(), nil, opts)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first.Log, second.Log) {
		t.Error("identical seeds produced different logs")
	}
	if !reflect.DeepEqual(first.Summary, second.Summary) {
		t.Errorf("summaries differ: %+v vs %+v", first.Summary, second.Summary)
	}
}

func TestRunJitterBounds(t *testing.T) {
	tasks := []*plan.Task{testTask("a", 3, 1, plan.AgentDeveloper)}
	opts := testOptions()
	opts.Seed = 7
	opts.MaxJitter = 1
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	h := res.Summary.SimulatedHours
	if h < 1 || h > 2 {
		t.Errorf("simulated hours = %v, want within [1, 2]", h)
	}
}

func TestRunStallsWithoutAvailableAgent(t *testing.T) {
	dir := agent.DefaultDirectory()
	p := dir[plan.AgentTester]
	p.Available = false
	dir[plan.AgentTester] = p

	tasks := []*plan.Task{testTask("a", 3, 1, plan.AgentTester)}
	res, err := Run(context.Background(), tasks, dir, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Summary.Success {
		t.Error("expected stalled run, got success")
	}
	if res.Summary.RemainingTasks != 1 {
		t.Errorf("remaining = %d, want 1", res.Summary.RemainingTasks)
	}
	if res.Tasks[0].Status != plan.StatusPending {
		t.Errorf("task status = %s, want pending", res.Tasks[0].Status)
	}
	if got := len(eventsOfType(res.Log, EventTaskStart)); got != 0 {
		t.Errorf("start events = %d, want 0", got)
	}
	errs := eventsOfType(res.Log, EventError)
	if len(errs) == 0 {
		t.Fatal("expected a stall error event")
	}
	if errs[len(errs)-1].Message == "" {
		t.Error("stall error has empty message")
	}
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []*plan.Task{testTask("a", 3, 1, plan.AgentDeveloper)}
	res, err := Run(ctx, tasks, nil, testOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil {
		t.Fatal("expected partial result")
	}
	if res.Summary.Success {
		t.Error("cancelled run reported success")
	}
	errs := eventsOfType(res.Log, EventError)
	if len(errs) != 1 || errs[0].Message != "simulation cancelled" {
		t.Errorf("error events = %+v, want single cancellation notice", errs)
	}
}

func TestRunProgressCheckpoints(t *testing.T) {
	// b finishes at hour 2 while a is a quarter done
	tasks := []*plan.Task{
		testTask("a", 3, 8, plan.AgentDeveloper),
		testTask("b", 3, 2, plan.AgentTester),
	}
	res, err := Run(context.Background(), tasks, nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	progress := eventsOfType(res.Log, EventTaskProgress)
	if len(progress) != 1 {
		t.Fatalf("progress events = %d, want 1", len(progress))
	}
	if progress[0].TaskID != "a" || progress[0].Progress != 25 {
		t.Errorf("progress = %+v, want task a at 25", progress[0])
	}
}

func TestRunTimestampsMonotone(t *testing.T) {
	tasks := []*plan.Task{
		testTask("a", 5, 2, plan.AgentPlanner),
		testTask("b", 3, 3, plan.AgentDeveloper, "a"),
		testTask("c", 3, 1, plan.AgentDeveloper, "a"),
		testTask("d", 2, 2, plan.AgentTester, "b", "c"),
	}
	res, err := Run(context.Background(), tasks, nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 1; i < len(res.Log); i++ {
		if res.Log[i].Timestamp.Before(res.Log[i-1].Timestamp) {
			t.Fatalf("event %d at %v precedes event %d at %v",
				i, res.Log[i].Timestamp, i-1, res.Log[i-1].Timestamp)
		}
	}
}

func TestRunPreCompletedDependency(t *testing.T) {
	done := testTask("a", 3, 2, plan.AgentDeveloper)
	done.Status = plan.StatusCompleted
	tasks := []*plan.Task{done, testTask("b", 3, 1, plan.AgentDeveloper, "a")}

	res, err := Run(context.Background(), tasks, nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Summary.Success {
		t.Fatalf("expected success, got %+v", res.Summary)
	}
	if res.Summary.CompletedTasks != 2 {
		t.Errorf("completed = %d, want 2", res.Summary.CompletedTasks)
	}
	starts := eventsOfType(res.Log, EventTaskStart)
	if len(starts) != 1 || starts[0].TaskID != "b" {
		t.Errorf("start events = %+v, want only b", starts)
	}
}

func TestRunAgentWorkloadTotals(t *testing.T) {
	tasks := []*plan.Task{
		testTask("a", 3, 1, plan.AgentDeveloper),
		testTask("b", 3, 1, plan.AgentDeveloper),
		testTask("c", 3, 1, plan.AgentTester),
	}
	res, err := Run(context.Background(), tasks, nil, testOptions())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	w := res.Summary.AgentWorkloads
	if len(w) != len(agent.DefaultDirectory()) {
		t.Errorf("workload entries = %d, want one per role", len(w))
	}
	if w[plan.AgentDeveloper] != 2 {
		t.Errorf("developer workload = %d, want 2", w[plan.AgentDeveloper])
	}
	if w[plan.AgentTester] != 1 {
		t.Errorf("tester workload = %d, want 1", w[plan.AgentTester])
	}
	if w[plan.AgentPlanner] != 0 {
		t.Errorf("planner workload = %d, want 0", w[plan.AgentPlanner])
	}
}

func TestRunEstimatedRemainingHours(t *testing.T) {
	tasks := []*plan.Task{
		testTask("y", 3, 1, plan.AgentDeveloper),
		testTask("x", 3, 2, plan.AgentDeveloper, "y"),
	}
	opts := testOptions()
	opts.FailureRate = 1
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// x never ran and is blocked, so nothing counts as remaining work
	if res.Summary.RemainingHours != 0 {
		t.Errorf("remaining hours = %v, want 0", res.Summary.RemainingHours)
	}
	if res.Summary.SimulatedHours != 1 {
		t.Errorf("simulated hours = %v, want 1", res.Summary.SimulatedHours)
	}
}

func TestRunEmptyPlanRejected(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, testOptions())
	var verr *plan.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *plan.ValidationError", err)
	}
}

func TestRunSinkMirrorsLog(t *testing.T) {
	var seen []Event
	opts := testOptions()
	opts.Sink = SinkFunc(func(e Event) { seen = append(seen, e) })

	tasks := []*plan.Task{
		testTask("a", 3, 1, plan.AgentDeveloper),
		testTask("b", 3, 1, plan.AgentDeveloper, "a"),
	}
	res, err := Run(context.Background(), tasks, nil, opts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(seen, res.Log) {
		t.Errorf("sink saw %d events, log has %d", len(seen), len(res.Log))
	}
}
