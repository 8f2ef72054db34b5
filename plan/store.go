package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	total_hours REAL NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	project_id      TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	id              TEXT NOT NULL,
	position        INTEGER NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	priority        INTEGER NOT NULL DEFAULT 3,
	estimated_hours REAL NOT NULL DEFAULT 0,
	agent           TEXT NOT NULL DEFAULT '',
	dependencies    TEXT NOT NULL DEFAULT '[]',
	parent_id       TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, position);
`

// Store persists and retrieves decomposed projects.
type Store interface {
	// Create persists a project and its tasks. Assigns the project an ID
	// and creation time when unset.
	Create(ctx context.Context, p *Project) error

	// Get retrieves a project with its tasks in original order.
	// Returns an error wrapping ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*Project, error)

	// List returns project headers, newest first. Tasks are not loaded;
	// TaskCount is populated instead.
	List(ctx context.Context, filter Filter) ([]*Project, error)

	// Delete removes a project and its tasks.
	Delete(ctx context.Context, id string) error

	Close() error
}

// Filter controls which projects List returns.
type Filter struct {
	Limit  int
	Offset int
}

// SQLiteStore persists projects in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables WAL
// mode and foreign keys, and ensures the schema exists. The caller is
// responsible for calling Close.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	// modernc.org/sqlite takes journal/busy settings in the DSN but needs
	// foreign keys enabled via PRAGMA after open.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewMemoryStore creates an in-memory store, used by tests and the default
// development configuration.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory")
	if err != nil {
		return nil, fmt.Errorf("open memory sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a project and its tasks atomically.
func (s *SQLiteStore) Create(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, total_hours, created_at)
		VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Description, p.TotalHours, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}

	for i, t := range p.Tasks {
		deps, _ := json.Marshal(t.Dependencies)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks
				(project_id, id, position, title, description, status, priority,
				 estimated_hours, agent, dependencies, parent_id, category)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
			p.ID, t.ID, i, t.Title, t.Description, string(t.Status), t.Priority,
			t.EstimatedHours, string(t.Agent), string(deps), t.ParentID, t.Category,
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project: %w", err)
	}
	return nil
}

// Get retrieves a project with its tasks in stored order.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, total_hours, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.TotalHours, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, priority, estimated_hours, agent, dependencies, parent_id, category
		FROM tasks WHERE project_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("get project tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanStoredTask(rows)
		if err != nil {
			return nil, err
		}
		p.Tasks = append(p.Tasks, t)
	}
	return &p, rows.Err()
}

// List returns project headers, newest first, with task counts.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Project, error) {
	q := `
		SELECT p.id, p.name, p.description, p.total_hours, p.created_at,
		       (SELECT COUNT(*) FROM tasks t WHERE t.project_id = p.id)
		FROM projects p ORDER BY p.created_at DESC, p.id ASC`
	args := []any{}
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.TotalHours, &p.CreatedAt, &p.TaskCount); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// Delete removes a project and, via the foreign key cascade, its tasks.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanStoredTask(rows *sql.Rows) (*Task, error) {
	var t Task
	var status, agent, depsJSON string
	err := rows.Scan(
		&t.ID, &t.Title, &t.Description, &status, &t.Priority,
		&t.EstimatedHours, &agent, &depsJSON, &t.ParentID, &t.Category,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = Status(status)
	t.Agent = AgentType(agent)
	_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	return &t, nil
}
