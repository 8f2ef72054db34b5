// Package decompose turns a free-form feature request into a structured
// project plan by fanning prompts out to an AI provider, layer by
// layer. Each round expands the current frontier of tasks into
// subtasks, assigns agent roles, and wires dependencies so the result
// is always a valid execution graph.
package decompose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/events"
	"github.com/planforge/planforge/plan"
	"github.com/planforge/planforge/provider"
)

const (
	// DefaultMaxDepth is the number of expansion rounds when the caller
	// does not choose one.
	DefaultMaxDepth = 2
	// MaxDepthLimit caps expansion rounds regardless of the request.
	MaxDepthLimit = 3
	// DefaultMaxSubtasks bounds how many subtasks one parent may spawn.
	DefaultMaxSubtasks = 8
	// DefaultConcurrency bounds parallel provider calls within a layer.
	DefaultConcurrency = 4
)

// Options tune a decomposition run. The zero value selects the
// defaults above and includes hour estimates.
type Options struct {
	// MaxDepth is the number of expansion rounds, clamped to [1, 3].
	MaxDepth int
	// MaxSubtasks caps subtasks per parent. Zero selects the default.
	MaxSubtasks int
	// Concurrency bounds parallel provider calls within one layer.
	Concurrency int
	// OmitEstimates drops hour estimates from generated tasks.
	OmitEstimates bool
	// Context is optional background given to the provider verbatim.
	Context string
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxDepth > MaxDepthLimit {
		o.MaxDepth = MaxDepthLimit
	}
	if o.MaxSubtasks <= 0 {
		o.MaxSubtasks = DefaultMaxSubtasks
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Result is a completed decomposition: the generated project, a
// human-readable summary, the suggested execution order and the
// quality report.
type Result struct {
	Project *plan.Project `json:"project"`
	Summary string        `json:"decomposition_summary"`
	Plan    []PlanStep    `json:"execution_plan"`
	Report  Report        `json:"report"`
}

// Decomposer expands feature requests into project plans.
type Decomposer struct {
	provider provider.Provider
	dir      agent.Directory
	bus      events.Bus
	logger   *slog.Logger
}

// New creates a Decomposer. bus may be nil to skip progress events and
// logger may be nil to discard logs.
func New(p provider.Provider, dir agent.Directory, bus events.Bus, logger *slog.Logger) *Decomposer {
	if dir == nil {
		dir = agent.DefaultDirectory()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decomposer{provider: p, dir: dir, bus: bus, logger: logger}
}

// Decompose expands request into a project plan. The root task carries
// the request itself; every expanded parent is marked completed so that
// simulation only executes the leaves.
func (d *Decomposer) Decompose(ctx context.Context, request string, opts Options) (*Result, error) {
	request = strings.TrimSpace(request)
	if request == "" {
		return nil, fmt.Errorf("decompose: empty request")
	}
	opts = opts.withDefaults()

	root := &plan.Task{
		ID:          uuid.NewString(),
		Title:       "Main Feature Request",
		Description: request,
		Status:      plan.StatusPending,
		Priority:    plan.PriorityMax,
		Agent:       plan.AgentPlanner,
		Category:    "planning",
	}
	project := &plan.Project{
		Name:        projectName(request),
		Description: request,
		Tasks:       []*plan.Task{root},
	}

	d.logger.Info("decomposition starting",
		slog.String("provider", d.provider.Name()),
		slog.Int("max_depth", opts.MaxDepth))
	d.publish(ctx, "started", map[string]any{"request": request, "max_depth": opts.MaxDepth})

	report := Report{AgentContributions: make(map[plan.AgentType]int)}
	frontier := []*plan.Task{root}
	for depth := 0; depth < opts.MaxDepth && len(frontier) > 0; depth++ {
		expanded, err := d.expandLayer(ctx, frontier, request, opts)
		if err != nil {
			return nil, err
		}

		layer := LayerReport{Depth: depth, TasksProcessed: len(frontier)}
		var next []*plan.Task
		for i, parent := range frontier {
			subs := expanded[i]
			if len(subs) == 0 {
				continue
			}
			parent.Status = plan.StatusCompleted
			report.AgentContributions[parent.Agent]++
			project.Tasks = append(project.Tasks, subs...)
			next = append(next, subs...)
			layer.SubtasksCreated += len(subs)
		}
		report.Layers = append(report.Layers, layer)
		report.TotalCreated += layer.SubtasksCreated
		frontier = next

		d.publish(ctx, "layer_complete", layer)
	}

	if err := plan.ValidateGraph(project.Tasks); err != nil {
		return nil, fmt.Errorf("decompose: invalid plan produced: %w", err)
	}

	project.TaskCount = len(project.Tasks)
	for _, t := range project.Tasks {
		project.TotalHours += t.EstimatedHours
	}
	report.Quality = measureQuality(project.Tasks)

	res := &Result{
		Project: project,
		Summary: fmt.Sprintf("Decomposition completed with %d tasks created across %d layers.",
			report.TotalCreated, len(report.Layers)),
		Plan:   executionPlan(project.Tasks),
		Report: report,
	}

	d.logger.Info("decomposition finished",
		slog.Int("tasks", project.TaskCount),
		slog.Int("layers", len(report.Layers)))
	d.publish(ctx, "complete", res.Report)
	return res, nil
}

// expandLayer asks the provider to break down every frontier task,
// bounded by opts.Concurrency. Results keep frontier order so the
// produced plan is independent of goroutine scheduling.
func (d *Decomposer) expandLayer(ctx context.Context, frontier []*plan.Task, projectContext string, opts Options) ([][]*plan.Task, error) {
	expanded := make([][]*plan.Task, len(frontier))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, parent := range frontier {
		g.Go(func() error {
			subs, err := d.expand(gctx, parent, projectContext, opts)
			if err != nil {
				return err
			}
			expanded[i] = subs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return expanded, nil
}

func (d *Decomposer) expand(ctx context.Context, parent *plan.Task, projectContext string, opts Options) ([]*plan.Task, error) {
	messages := []provider.Message{
		{Role: provider.RoleSystem, Content: rolePreamble(parent.Agent)},
		{Role: provider.RoleUser, Content: buildPrompt(parent, projectContext, opts.Context)},
	}
	resp, err := d.provider.Chat(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("decompose: expand %q: %w", parent.Title, err)
	}
	subs := parseSubtasks(resp.Content, parent, opts)
	d.logger.Debug("task expanded",
		slog.String("task", parent.ID),
		slog.String("agent", string(parent.Agent)),
		slog.Int("subtasks", len(subs)))
	return subs, nil
}

func (d *Decomposer) publish(ctx context.Context, kind string, payload any) {
	if d.bus == nil {
		return
	}
	if err := d.bus.Publish(ctx, events.New(events.TopicDecomposition, kind, payload)); err != nil {
		d.logger.Warn("publish decomposition event", slog.String("kind", kind), slog.Any("error", err))
	}
}

func projectName(request string) string {
	return "Project: " + truncateText(request, 50)
}

// truncateText shortens s to at most n runes, appending an ellipsis
// when anything was cut.
func truncateText(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
