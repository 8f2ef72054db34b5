// Package simulate runs dependency-ordered execution simulations over a
// project plan. The engine admits tasks as their dependencies complete,
// bounds concurrency globally and per agent role, advances a logical
// clock from completion to completion and records every state change in
// an ordered event log. Durations derive from task estimates, failure
// injection and the random source are caller-controlled, so a run is
// fully reproducible from its inputs.
package simulate

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/plan"
)

const (
	// DefaultMaxConcurrent bounds simultaneously running tasks when the
	// caller does not choose a limit.
	DefaultMaxConcurrent = 3

	// progressStep is the minimum percentage gain between two progress
	// events for the same task. Keeps the log bounded for long runs.
	progressStep = 25.0

	// minDuration floors simulated task durations so that every task
	// occupies a strictly positive slice of the timeline.
	minDuration = time.Minute
)

// Options configure a simulation run. The zero value is usable: three
// concurrent tasks, no failure injection, one simulated hour per
// estimated hour and a clock starting at the current wall time.
type Options struct {
	// MaxConcurrent caps tasks running at once. Zero selects
	// DefaultMaxConcurrent, negative values are rejected.
	MaxConcurrent int

	// FailureRate is the probability in [0, 1] that a finishing task
	// fails and is cancelled instead of completed.
	FailureRate float64

	// HourScale is the simulated duration of one estimated hour.
	// Zero selects time.Hour.
	HourScale time.Duration

	// MaxJitter stretches all durations in a run by a single random
	// factor drawn from [0, MaxJitter]. Zero disables jitter.
	MaxJitter float64

	// Start anchors the logical clock. Zero selects time.Now in UTC.
	Start time.Time

	// Seed initialises the random source when Rand is nil.
	Seed int64

	// Rand supplies randomness for failure draws and jitter. Runs with
	// the same inputs and the same source produce identical logs.
	Rand *rand.Rand

	// Sink, when set, receives every event as it is appended to the log.
	Sink Sink

	// Logger receives debug output. Nil discards it.
	Logger *slog.Logger
}

// ConfigError reports an unusable option value. It is returned before
// any validation of the plan itself.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("simulate: option %s: %s", e.Option, e.Reason)
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxConcurrent < 0 {
		return o, &ConfigError{Option: "max_concurrent", Reason: "must be at least 1"}
	}
	if o.MaxConcurrent == 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.FailureRate < 0 || o.FailureRate > 1 {
		return o, &ConfigError{Option: "failure_rate", Reason: "must be between 0 and 1"}
	}
	if o.HourScale < 0 {
		return o, &ConfigError{Option: "hour_scale", Reason: "must be positive"}
	}
	if o.HourScale == 0 {
		o.HourScale = time.Hour
	}
	if o.MaxJitter < 0 {
		return o, &ConfigError{Option: "max_jitter", Reason: "must not be negative"}
	}
	if o.Start.IsZero() {
		o.Start = time.Now().UTC()
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(o.Seed), uint64(o.Seed)))
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o, nil
}

// Summary aggregates the outcome of a run.
type Summary struct {
	TotalTasks     int                    `json:"total_tasks"`
	CompletedTasks int                    `json:"completed_tasks"`
	FailedTasks    int                    `json:"failed_tasks"`
	RemainingTasks int                    `json:"remaining_tasks"`
	CompletionRate float64                `json:"completion_rate"`
	AgentWorkloads map[plan.AgentType]int `json:"agent_workloads"`
	SimulatedHours float64                `json:"simulated_hours"`
	RemainingHours float64                `json:"estimated_remaining_hours"`
	Success        bool                   `json:"success"`
}

// Result carries the full event log, the aggregate summary and the final
// task states of a run. Tasks preserve input order.
type Result struct {
	Log     []Event      `json:"execution_log"`
	Summary Summary      `json:"final_status"`
	Tasks   []*plan.Task `json:"tasks"`
}

// Run simulates the execution of tasks against the given agent
// directory. It validates options and the dependency graph before
// emitting any event: option errors surface as *ConfigError and plan
// errors as *plan.ValidationError. A run that stalls with unrunnable
// tasks is not an error, it returns a Result with Success false.
// Cancelling ctx stops the run at the next tick boundary and returns
// the partial Result together with the context error.
func Run(ctx context.Context, tasks []*plan.Task, dir agent.Directory, opts Options) (*Result, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	r, err := newRun(tasks, dir, opts)
	if err != nil {
		return nil, err
	}
	return r.run(ctx)
}

type activeTask struct {
	task         *plan.Task
	start        time.Time
	finish       time.Time
	duration     time.Duration
	lastProgress float64
}

type runState struct {
	opts       Options
	logger     *slog.Logger
	clock      time.Time
	factor     float64
	tasks      []*plan.Task
	byID       map[string]*plan.Task
	dependents map[string][]string
	dir        agent.Directory
	active     map[string]*activeTask
	workload   map[plan.AgentType]int
	started    map[plan.AgentType]int
	completed  int
	tick       int
	log        []Event
}

func newRun(tasks []*plan.Task, dir agent.Directory, opts Options) (*runState, error) {
	clones := make([]*plan.Task, len(tasks))
	for i, t := range tasks {
		c := t.Clone()
		c.Normalize()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		switch c.Status {
		case plan.StatusCompleted, plan.StatusCancelled, plan.StatusBlocked:
			// terminal on input, preserved as-is
		default:
			c.Status = plan.StatusPending
		}
		clones[i] = c
	}
	if err := plan.ValidateGraph(clones); err != nil {
		return nil, err
	}
	if dir == nil {
		dir = agent.DefaultDirectory()
	}
	r := &runState{
		opts:       opts,
		logger:     opts.Logger,
		clock:      opts.Start,
		factor:     1 + opts.Rand.Float64()*opts.MaxJitter,
		tasks:      clones,
		byID:       make(map[string]*plan.Task, len(clones)),
		dependents: plan.Dependents(clones),
		dir:        dir.Clone(),
		active:     make(map[string]*activeTask),
		workload:   make(map[plan.AgentType]int),
		started:    make(map[plan.AgentType]int),
	}
	for _, t := range clones {
		r.byID[t.ID] = t
		if t.Status == plan.StatusCompleted {
			r.completed++
		}
	}
	for at := range r.dir {
		r.started[at] = 0
	}
	return r, nil
}

func (r *runState) run(ctx context.Context) (*Result, error) {
	r.logger.Debug("simulation starting",
		slog.Int("tasks", len(r.tasks)),
		slog.Int("max_concurrent", r.opts.MaxConcurrent),
		slog.Float64("failure_rate", r.opts.FailureRate))
	r.emitState(fmt.Sprintf("simulation started: %d tasks, concurrency %d", len(r.tasks), r.opts.MaxConcurrent))

	for {
		if err := ctx.Err(); err != nil {
			r.emit(Event{Type: EventError, Message: "simulation cancelled"})
			return r.result(), err
		}
		r.tick++
		r.admit()
		r.emitState(fmt.Sprintf("execution round %d", r.tick))
		if len(r.active) == 0 {
			break
		}
		r.advance()
	}

	if n := r.countStatus(plan.StatusPending); n > 0 {
		r.emit(Event{
			Type:    EventError,
			Message: fmt.Sprintf("no runnable tasks: %d pending tasks cannot proceed", n),
		})
	}
	res := r.result()
	r.logger.Debug("simulation finished",
		slog.Int("completed", res.Summary.CompletedTasks),
		slog.Int("failed", res.Summary.FailedTasks),
		slog.Bool("success", res.Summary.Success))
	return res, nil
}

// admit moves ready tasks into execution until the concurrency cap or
// an agent ceiling stops it. Ready tasks start in priority order,
// highest first, ties broken by task id.
func (r *runState) admit() {
	if len(r.active) >= r.opts.MaxConcurrent {
		return
	}
	ready := r.readyTasks()
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	for _, t := range ready {
		if len(r.active) >= r.opts.MaxConcurrent {
			return
		}
		if r.workload[t.Agent] >= r.dir.MaxActive(t.Agent) {
			continue
		}
		r.start(t)
	}
}

func (r *runState) readyTasks() []*plan.Task {
	var ready []*plan.Task
	for _, t := range r.tasks {
		if t.Status != plan.StatusPending {
			continue
		}
		if !r.depsCompleted(t) {
			continue
		}
		if !r.dir.Available(t.Agent) {
			continue
		}
		if r.workload[t.Agent] >= r.dir.MaxActive(t.Agent) {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

func (r *runState) depsCompleted(t *plan.Task) bool {
	for _, dep := range t.Dependencies {
		if r.byID[dep].Status != plan.StatusCompleted {
			return false
		}
	}
	return true
}

func (r *runState) start(t *plan.Task) {
	d := time.Duration(t.EffectiveHours() * r.factor * float64(r.opts.HourScale))
	if d < minDuration {
		d = minDuration
	}
	t.Status = plan.StatusInProgress
	r.active[t.ID] = &activeTask{
		task:     t,
		start:    r.clock,
		finish:   r.clock.Add(d),
		duration: d,
	}
	r.workload[t.Agent]++
	r.started[t.Agent]++
	r.emit(Event{
		Type:      EventTaskStart,
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Agent:     t.Agent,
		Hours:     t.EffectiveHours(),
		Message:   fmt.Sprintf("%s agent started work", agent.RoleLabel(t.Agent)),
	})
	r.emit(Event{
		Type:      EventTaskProcessing,
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Agent:     t.Agent,
		Message:   fmt.Sprintf("%s processing %s", agent.RoleLabel(t.Agent), t.Title),
	})
}

// advance moves the clock to the earliest finish among active tasks,
// settles every task finishing at that instant in id order, then emits
// progress for tasks still running.
func (r *runState) advance() {
	next := time.Time{}
	for _, a := range r.active {
		if next.IsZero() || a.finish.Before(next) {
			next = a.finish
		}
	}
	r.clock = next

	var done []*activeTask
	for _, a := range r.active {
		if a.finish.Equal(next) {
			done = append(done, a)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].task.ID < done[j].task.ID })
	for _, a := range done {
		r.settle(a)
	}

	running := make([]*activeTask, 0, len(r.active))
	for _, a := range r.active {
		running = append(running, a)
	}
	sort.Slice(running, func(i, j int) bool { return running[i].task.ID < running[j].task.ID })
	for _, a := range running {
		pct := float64(r.clock.Sub(a.start)) / float64(a.duration) * 100
		if pct-a.lastProgress < progressStep {
			continue
		}
		a.lastProgress = pct
		r.emit(Event{
			Type:      EventTaskProgress,
			TaskID:    a.task.ID,
			TaskTitle: a.task.Title,
			Agent:     a.task.Agent,
			Progress:  pct,
			Message:   fmt.Sprintf("%.0f%% complete", pct),
		})
	}
}

// settle finishes one task: a failure draw decides between completion
// and cancellation, and a cancellation blocks every transitive
// dependent.
func (r *runState) settle(a *activeTask) {
	t := a.task
	delete(r.active, t.ID)
	if r.workload[t.Agent] > 0 {
		r.workload[t.Agent]--
	}
	if r.opts.FailureRate > 0 && r.opts.Rand.Float64() < r.opts.FailureRate {
		t.Status = plan.StatusCancelled
		r.emit(Event{
			Type:      EventError,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			Agent:     t.Agent,
			Message:   "task failed and was cancelled",
		})
		r.block(t.ID)
		return
	}
	t.Status = plan.StatusCompleted
	r.completed++
	r.emit(Event{
		Type:      EventTaskCompletion,
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Agent:     t.Agent,
		Message:   fmt.Sprintf("completed in %.1f simulated hours", a.duration.Hours()),
	})
}

// block marks pending dependents of cause as blocked, recursively, so
// that a failed task takes its whole downstream subtree out of the run.
func (r *runState) block(cause string) {
	for _, id := range r.dependents[cause] {
		t := r.byID[id]
		if t.Status != plan.StatusPending {
			continue
		}
		t.Status = plan.StatusBlocked
		r.emit(Event{
			Type:      EventError,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			Agent:     t.Agent,
			Message:   fmt.Sprintf("blocked by failed dependency %s", cause),
		})
		r.block(id)
	}
}

func (r *runState) emit(e Event) {
	e.Timestamp = r.clock
	r.log = append(r.log, e)
	if r.opts.Sink != nil {
		r.opts.Sink.Emit(e)
	}
}

func (r *runState) emitState(msg string) {
	r.emit(Event{
		Type:      EventState,
		Running:   len(r.active),
		Queued:    r.countStatus(plan.StatusPending),
		Completed: r.completed,
		Message:   msg,
	})
}

func (r *runState) countStatus(s plan.Status) int {
	n := 0
	for _, t := range r.tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

func (r *runState) result() *Result {
	var failed, remaining int
	var remainingHours float64
	for _, t := range r.tasks {
		switch t.Status {
		case plan.StatusCompleted:
		case plan.StatusCancelled:
			failed++
		default:
			remaining++
			if t.Status == plan.StatusPending {
				remainingHours += t.EffectiveHours()
			}
		}
	}
	for _, a := range r.active {
		elapsed := float64(r.clock.Sub(a.start)) / float64(a.duration)
		if elapsed > 1 {
			elapsed = 1
		}
		remainingHours += a.task.EffectiveHours() * (1 - elapsed)
	}
	rate := 0.0
	if len(r.tasks) > 0 {
		rate = float64(r.completed) / float64(len(r.tasks)) * 100
	}
	workloads := make(map[plan.AgentType]int, len(r.started))
	for at, n := range r.started {
		workloads[at] = n
	}
	return &Result{
		Log: r.log,
		Summary: Summary{
			TotalTasks:     len(r.tasks),
			CompletedTasks: r.completed,
			FailedTasks:    failed,
			RemainingTasks: remaining,
			CompletionRate: rate,
			AgentWorkloads: workloads,
			SimulatedHours: r.clock.Sub(r.opts.Start).Hours(),
			RemainingHours: remainingHours,
			Success:        remaining == 0,
		},
		Tasks: r.tasks,
	}
}
