// Package api defines the REST API handlers for the PlanForge server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/planforge/planforge/agent"
	"github.com/planforge/planforge/config"
	"github.com/planforge/planforge/decompose"
	"github.com/planforge/planforge/events"
	"github.com/planforge/planforge/metrics"
	"github.com/planforge/planforge/plan"
	"github.com/planforge/planforge/simulate"
)

// Decomposer is the interface the API uses to generate plans.
// Implemented by decompose.Decomposer.
type Decomposer interface {
	Decompose(ctx context.Context, request string, opts decompose.Options) (*decompose.Result, error)
}

// Bounds accepted for max_concurrent_tasks in simulation requests.
const (
	minConcurrent = 1
	maxConcurrent = 10
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Store      plan.Store
	Decomposer Decomposer
	Directory  agent.Directory
	Bus        events.Bus
	SimCfg     config.SimulationConfig
	DecompCfg  config.DecomposeConfig
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Version    string
	Commit     string
	BuildDate  string
	Provider   string // provider name reported by health
	StartAt    time.Time
}

// RegisterRoutes registers all protected API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/decompose", h.decompose)
	mux.HandleFunc("POST /api/simulate", h.simulate)

	mux.HandleFunc("GET /api/agents", h.listAgents)

	mux.HandleFunc("GET /api/projects", h.listProjects)
	mux.HandleFunc("GET /api/projects/{id}", h.getProject)
	mux.HandleFunc("DELETE /api/projects/{id}", h.deleteProject)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Decomposition ---

type decomposeRequest struct {
	Description string `json:"description"`
	Context     string `json:"context,omitempty"`
	MaxDepth    int    `json:"max_depth,omitempty"`
}

func (h *Handlers) decompose(w http.ResponseWriter, r *http.Request) {
	var req decomposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	if req.MaxDepth < 0 || req.MaxDepth > decompose.MaxDepthLimit {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("max_depth must be between 1 and %d", decompose.MaxDepthLimit))
		return
	}

	opts := decompose.Options{
		MaxDepth:    req.MaxDepth,
		MaxSubtasks: h.DecompCfg.MaxSubtasks,
		Concurrency: h.DecompCfg.Concurrency,
		Context:     req.Context,
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = h.DecompCfg.MaxDepth
	}

	res, err := h.Decomposer.Decompose(r.Context(), req.Description, opts)
	if h.Metrics != nil {
		h.Metrics.ObserveDecomposition(err)
	}
	if err != nil {
		h.Logger.Error("decompose request failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if err := h.Store.Create(r.Context(), res.Project); err != nil {
		h.Logger.Error("persist project", slog.String("project", res.Project.ID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "could not persist project")
		return
	}
	h.publish(r.Context(), events.TopicProjects, "created", map[string]any{
		"id":         res.Project.ID,
		"name":       res.Project.Name,
		"task_count": len(res.Project.Tasks),
	})

	writeJSON(w, http.StatusCreated, res)
}

// --- Simulation ---

type simulateRequest struct {
	ProjectID     string       `json:"project_id,omitempty"`
	Tasks         []*plan.Task `json:"tasks,omitempty"`
	MaxConcurrent int          `json:"max_concurrent_tasks,omitempty"`
	FailureRate   *float64     `json:"failure_rate,omitempty"`
	Seed          *int64       `json:"seed,omitempty"`
}

type simulateResponse struct {
	*simulate.Result
	Seed int64 `json:"seed"`
}

func (h *Handlers) simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tasks, ok := h.resolveTasks(w, r, &req)
	if !ok {
		return
	}

	mc := req.MaxConcurrent
	if mc == 0 {
		mc = h.SimCfg.MaxConcurrent
	}
	if mc < minConcurrent || mc > maxConcurrent {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("max_concurrent_tasks must be between %d and %d", minConcurrent, maxConcurrent))
		return
	}

	failureRate := h.SimCfg.FailureRate
	if req.FailureRate != nil {
		failureRate = *req.FailureRate
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	opts := simulate.Options{
		MaxConcurrent: mc,
		FailureRate:   failureRate,
		MaxJitter:     h.SimCfg.MaxJitter,
		Seed:          seed,
		Sink:          h.busSink(r.Context()),
		Logger:        h.Logger,
	}

	res, err := simulate.Run(r.Context(), tasks, h.Directory, opts)
	if h.Metrics != nil {
		taskCount := 0
		if res != nil {
			taskCount = res.Summary.TotalTasks
		}
		h.Metrics.ObserveSimulation(err, taskCount)
	}
	if err != nil {
		var ve *plan.ValidationError
		var ce *simulate.ConfigError
		switch {
		case errors.As(err, &ve):
			writeError(w, http.StatusUnprocessableEntity, ve.Error())
		case errors.As(err, &ce):
			writeError(w, http.StatusBadRequest, ce.Error())
		case errors.Is(err, context.Canceled):
			// Client went away mid-run; nothing useful to write.
		default:
			h.Logger.Error("simulation failed", slog.Any("err", err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, simulateResponse{Result: res, Seed: seed})
}

// resolveTasks loads the task list for a simulation request, from the
// store when project_id is given or from the inline tasks otherwise.
// On failure it writes the error response and returns ok false.
func (h *Handlers) resolveTasks(w http.ResponseWriter, r *http.Request, req *simulateRequest) ([]*plan.Task, bool) {
	if req.ProjectID != "" && req.Tasks != nil {
		writeError(w, http.StatusBadRequest, "provide either project_id or tasks, not both")
		return nil, false
	}
	if req.ProjectID == "" {
		if req.Tasks == nil {
			writeError(w, http.StatusBadRequest, "project_id or tasks is required")
			return nil, false
		}
		return req.Tasks, true
	}

	p, err := h.Store.Get(r.Context(), req.ProjectID)
	if err != nil {
		if errors.Is(err, plan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return nil, false
		}
		h.Logger.Error("load project", slog.String("project", req.ProjectID), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return p.CloneTasks(), true
}

// busSink returns a simulation event sink that republishes engine events
// on the bus, or nil when no bus is attached.
func (h *Handlers) busSink(ctx context.Context) simulate.Sink {
	if h.Bus == nil {
		return nil
	}
	return simulate.SinkFunc(func(e simulate.Event) {
		if err := h.Bus.Publish(ctx, events.New(events.TopicSimulation, string(e.Type), e)); err != nil {
			h.Logger.Warn("publish simulation event", slog.Any("err", err))
		}
	})
}

// --- Agents ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	profiles := h.Directory.Profiles()
	if profiles == nil {
		profiles = []agent.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// --- Projects ---

func (h *Handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := plan.Filter{}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}

	projects, err := h.Store.List(r.Context(), filter)
	if err != nil {
		h.Logger.Error("list projects", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []*plan.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *Handlers) getProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	p, err := h.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, plan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error("get project", slog.String("project", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, plan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		h.Logger.Error("delete project", slog.String("project", id), slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.publish(r.Context(), events.TopicProjects, "deleted", map[string]string{"id": id})
	w.WriteHeader(http.StatusNoContent)
}

// --- Health / version ---

// HealthHandler returns the public liveness handler.
func (h *Handlers) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "ok",
			"version":        h.Version,
			"provider":       h.Provider,
			"uptime_seconds": int(time.Since(h.StartAt).Seconds()),
		})
	}
}

// VersionHandler returns the public build info handler.
func (h *Handlers) VersionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version": h.Version,
			"commit":  h.Commit,
			"date":    h.BuildDate,
		})
	}
}

func (h *Handlers) publish(ctx context.Context, topic events.Topic, kind string, payload any) {
	if h.Bus == nil {
		return
	}
	if err := h.Bus.Publish(ctx, events.New(topic, kind, payload)); err != nil {
		h.Logger.Warn("publish event", slog.String("kind", kind), slog.Any("err", err))
	}
}
