// Command planforge is the PlanForge CLI client.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/planforge/planforge/internal/version"
	"github.com/planforge/planforge/provider"
	"github.com/planforge/planforge/update"
)

const defaultServer = "http://localhost:8000"

var jsonOut bool

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "planforge server URL")
		token     = flag.String("token", os.Getenv("PLANFORGE_TOKEN"), "JWT auth token")
	)
	flag.BoolVar(&jsonOut, "json", false, "print raw JSON responses")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "health":
		err = cli.cmdHealth(rest)
	case "agents":
		err = cli.cmdAgents(rest)
	case "models":
		err = cmdModels(rest)
	case "decompose":
		err = cli.cmdDecompose(rest)
	case "simulate":
		err = cli.cmdSimulate(rest)
	case "projects":
		err = cli.cmdProjects(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "update":
		err = cmdUpdate(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `planforge — PlanForge CLI

Usage:
  planforge [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:8000)
  --token   <token>  JWT auth token (or $PLANFORGE_TOKEN)
  --json             print raw JSON responses

Commands:
  version                        print version
  health                         show server health
  agents                         list agent roles
  models [openai|ollama|mock]    list available LLM models
  decompose <description>        decompose a feature request into a plan
      -depth <n>                   decomposition depth (1-3)
      -context <text>              extra context for the planner
  simulate <project-id>          simulate execution of a stored plan
      -concurrency <n>             max concurrent tasks (1-10)
      -failure-rate <f>            task failure probability (0-1)
      -seed <n>                    RNG seed for reproducible runs
  projects                       list stored projects
  projects show <id>             show one project with its tasks
  projects delete <id>           delete a project
  login <username> <password>    obtain a JWT token
  update                         self-update from GitHub releases
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("planforge %s\n", version.String())
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

// post performs a POST with a JSON body and decodes the response into v.
func (c *Client) post(path string, body io.Reader, v any) error {
	return c.do(http.MethodPost, path, body, v)
}

// del performs a DELETE.
func (c *Client) del(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}

func (c *Client) do(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- health ---

func (c *Client) cmdHealth(_ []string) error {
	var result map[string]any
	if err := c.get("/api/health", &result); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(result)
	}
	fmt.Printf("status:   %s\n", strVal(result["status"]))
	fmt.Printf("version:  %s\n", strVal(result["version"]))
	fmt.Printf("provider: %s\n", strVal(result["provider"]))
	fmt.Printf("uptime:   %ss\n", strVal(result["uptime_seconds"]))
	return nil
}

// --- agents ---

func (c *Client) cmdAgents(_ []string) error {
	var agents []map[string]any
	if err := c.get("/api/agents", &agents); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(agents)
	}
	if len(agents) == 0 {
		fmt.Println("no agents")
		return nil
	}
	fmt.Printf("%-14s %-22s %-10s %s\n", "TYPE", "NAME", "AVAILABLE", "MAX TASKS")
	fmt.Println(strings.Repeat("-", 58))
	for _, a := range agents {
		fmt.Printf("%-14s %-22s %-10v %s\n",
			strVal(a["type"]),
			strVal(a["name"]),
			a["is_available"],
			strVal(a["max_concurrent_tasks"]),
		)
	}
	return nil
}

// --- models ---

func cmdModels(args []string) error {
	providerType := os.Getenv("LLM_PROVIDER")
	if len(args) > 0 {
		providerType = args[0]
	}
	if providerType == "" {
		providerType = "openai"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	models, err := provider.ListModels(ctx, providerType,
		os.Getenv("OPENAI_API_KEY"), os.Getenv("OLLAMA_BASE_URL"))
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(models)
	}
	if len(models) == 0 {
		fmt.Println("no models")
		return nil
	}
	for _, m := range models {
		fmt.Println(m.ID)
	}
	return nil
}

// --- decompose ---

func (c *Client) cmdDecompose(args []string) error {
	fs := flag.NewFlagSet("decompose", flag.ExitOnError)
	depth := fs.Int("depth", 0, "decomposition depth (1-3)")
	extra := fs.String("context", "", "extra context for the planner")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: planforge decompose [flags] <description>")
	}
	description := strings.Join(fs.Args(), " ")

	body, _ := json.Marshal(map[string]any{
		"description": description,
		"context":     *extra,
		"max_depth":   *depth,
	})

	var res struct {
		Project struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Tasks []struct {
				ID             string  `json:"id"`
				Title          string  `json:"title"`
				Agent          string  `json:"assigned_agent"`
				EstimatedHours float64 `json:"estimated_hours"`
				Priority       int     `json:"priority"`
			} `json:"tasks"`
			TotalHours float64 `json:"total_estimated_hours"`
		} `json:"project"`
		Summary string `json:"decomposition_summary"`
	}
	if err := c.post("/api/decompose", bytes.NewReader(body), &res); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}

	fmt.Printf("project: %s (%s)\n\n", res.Project.Name, res.Project.ID)
	fmt.Printf("%-10s %-40s %-12s %6s %4s\n", "ID", "TITLE", "AGENT", "HOURS", "PRI")
	fmt.Println(strings.Repeat("-", 76))
	for _, t := range res.Project.Tasks {
		fmt.Printf("%-10s %-40s %-12s %6.1f %4d\n",
			shortID(t.ID), truncate(t.Title, 39), t.Agent, t.EstimatedHours, t.Priority)
	}
	fmt.Printf("\ntotal estimated hours: %.1f\n", res.Project.TotalHours)
	fmt.Println(res.Summary)
	return nil
}

// --- simulate ---

func (c *Client) cmdSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	concurrency := fs.Int("concurrency", 0, "max concurrent tasks (1-10)")
	failureRate := fs.Float64("failure-rate", -1, "task failure probability (0-1)")
	seed := fs.Int64("seed", 0, "RNG seed for reproducible runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: planforge simulate [flags] <project-id>")
	}

	req := map[string]any{"project_id": fs.Arg(0)}
	if *concurrency > 0 {
		req["max_concurrent_tasks"] = *concurrency
	}
	if *failureRate >= 0 {
		req["failure_rate"] = *failureRate
	}
	if *seed != 0 {
		req["seed"] = *seed
	}
	body, _ := json.Marshal(req)

	var res struct {
		Log []struct {
			Timestamp time.Time `json:"timestamp"`
			Type      string    `json:"type"`
			TaskTitle string    `json:"task_title"`
			Message   string    `json:"message"`
		} `json:"execution_log"`
		Summary struct {
			TotalTasks     int     `json:"total_tasks"`
			CompletedTasks int     `json:"completed_tasks"`
			FailedTasks    int     `json:"failed_tasks"`
			RemainingTasks int     `json:"remaining_tasks"`
			CompletionRate float64 `json:"completion_rate"`
			SimulatedHours float64 `json:"simulated_hours"`
			Success        bool    `json:"success"`
		} `json:"final_status"`
		Seed int64 `json:"seed"`
	}
	if err := c.post("/api/simulate", bytes.NewReader(body), &res); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}

	for _, e := range res.Log {
		line := e.Message
		if e.TaskTitle != "" {
			line = e.TaskTitle + ": " + line
		}
		fmt.Printf("%s  %-16s %s\n", e.Timestamp.Format("2006-01-02 15:04"), e.Type, line)
	}
	s := res.Summary
	fmt.Printf("\ncompleted %d/%d tasks (%.1f%%), %d failed, %d remaining\n",
		s.CompletedTasks, s.TotalTasks, s.CompletionRate, s.FailedTasks, s.RemainingTasks)
	fmt.Printf("simulated hours: %.1f, seed: %d\n", s.SimulatedHours, res.Seed)
	if s.Success {
		fmt.Println("result: success")
	} else {
		fmt.Println("result: incomplete")
	}
	return nil
}

// --- projects ---

func (c *Client) cmdProjects(args []string) error {
	if len(args) == 0 {
		return c.listProjects()
	}
	switch args[0] {
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: planforge projects show <id>")
		}
		return c.showProject(args[1])
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("usage: planforge projects delete <id>")
		}
		if err := c.del("/api/projects/" + args[1]); err != nil {
			return err
		}
		fmt.Printf("deleted project %s\n", args[1])
		return nil
	default:
		return fmt.Errorf("unknown projects subcommand: %s", args[0])
	}
}

func (c *Client) listProjects() error {
	var projects []map[string]any
	if err := c.get("/api/projects", &projects); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(projects)
	}
	if len(projects) == 0 {
		fmt.Println("no projects")
		return nil
	}
	fmt.Printf("%-36s %-36s %6s\n", "ID", "NAME", "TASKS")
	fmt.Println(strings.Repeat("-", 80))
	for _, p := range projects {
		fmt.Printf("%-36s %-36s %6s\n",
			strVal(p["id"]),
			truncate(strVal(p["name"]), 35),
			strVal(p["task_count"]),
		)
	}
	return nil
}

func (c *Client) showProject(id string) error {
	var p struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Tasks []struct {
			ID             string   `json:"id"`
			Title          string   `json:"title"`
			Status         string   `json:"status"`
			Agent          string   `json:"assigned_agent"`
			EstimatedHours float64  `json:"estimated_hours"`
			Dependencies   []string `json:"dependencies"`
		} `json:"tasks"`
		TotalHours float64 `json:"total_estimated_hours"`
	}
	if err := c.get("/api/projects/"+id, &p); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(p)
	}

	fmt.Printf("project: %s (%s)\n\n", p.Name, p.ID)
	fmt.Printf("%-10s %-36s %-12s %-12s %6s %5s\n", "ID", "TITLE", "STATUS", "AGENT", "HOURS", "DEPS")
	fmt.Println(strings.Repeat("-", 86))
	for _, t := range p.Tasks {
		fmt.Printf("%-10s %-36s %-12s %-12s %6.1f %5d\n",
			shortID(t.ID), truncate(t.Title, 35), t.Status, t.Agent,
			t.EstimatedHours, len(t.Dependencies))
	}
	fmt.Printf("\ntotal estimated hours: %.1f\n", p.TotalHours)
	return nil
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: planforge login <username> <password>")
	}
	body, _ := json.Marshal(map[string]string{
		"username": args[0],
		"password": args[1],
	})
	var resp map[string]string
	if err := c.post("/api/auth/login", bytes.NewReader(body), &resp); err != nil {
		return err
	}
	fmt.Println(resp["token"])
	fmt.Fprintf(os.Stderr, "\nexport PLANFORGE_TOKEN=%s\n", resp["token"])
	return nil
}

// --- update ---

func cmdUpdate(_ []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	u := update.New(version.Version)
	rel, err := u.CheckForUpdate(ctx)
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Println("already up to date")
		return nil
	}
	fmt.Printf("updating to %s...\n", rel.Version)
	if err := u.ApplyUpdate(ctx, rel); err != nil {
		return err
	}
	fmt.Printf("updated to %s\n", rel.Version)
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
