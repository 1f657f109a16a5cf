// Package db persists project metadata and propagation history in sqlite.
// The bulky per-project artifacts (segments, samples, predictions) live as
// GeoJSON files next to the database; see internal/geo.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

// ErrProjectNotFound is returned when a project id has no row.
var ErrProjectNotFound = errors.New("project not found")

type DB struct {
	*sql.DB
	path string
}

// NewDB opens (creating if needed) the sqlite database at path. Schema setup
// is handled by MigrateUp.
func NewDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: sqlite is single-writer, the foreign_keys pragma is
	// per-connection, and in-memory databases exist per-connection.
	sqldb.SetMaxOpenConns(1)
	if _, err := sqldb.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{DB: sqldb, path: path}, nil
}

// Project is one classification project: a named area of interest whose
// segment artifacts live under the project directory.
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	BBox      string    `json:"bbox,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateProject inserts a project row and returns its id.
func (db *DB) CreateProject(name, bbox string) (int64, error) {
	res, err := db.Exec(
		"INSERT INTO projects (name, bbox, created_at) VALUES (?, ?, ?)",
		name, bbox, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

// GetProject fetches one project row.
func (db *DB) GetProject(id int64) (*Project, error) {
	var p Project
	var createdAt string
	err := db.QueryRow(
		"SELECT project_id, name, bbox, created_at FROM projects WHERE project_id = ?", id,
	).Scan(&p.ID, &p.Name, &p.BBox, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (db *DB) ListProjects() ([]Project, error) {
	rows, err := db.Query("SELECT project_id, name, bbox, created_at FROM projects ORDER BY project_id DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.BBox, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project row and, via cascade, its history.
// Returns ErrProjectNotFound when nothing was deleted.
func (db *DB) DeleteProject(id int64) error {
	res, err := db.Exec("DELETE FROM projects WHERE project_id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return nil
}

// PropagationRun is one row of a project's propagation history.
type PropagationRun struct {
	RunID               string    `json:"run_id"`
	ProjectID           int64     `json:"project_id"`
	Method              string    `json:"method"`
	TrainingConsistency float64   `json:"training_consistency"`
	LabeledCount        int       `json:"labeled_count"`
	TotalCount          int       `json:"total_count"`
	Iterations          int       `json:"iterations"`
	DurationMs          int64     `json:"duration_ms"`
	CreatedAt           time.Time `json:"created_at"`
}

// InsertPropagationRun appends a history row.
func (db *DB) InsertPropagationRun(run *PropagationRun) error {
	_, err := db.Exec(
		`INSERT INTO propagation_runs (
			run_id, project_id, method, training_consistency,
			labeled_count, total_count, iterations, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ProjectID, run.Method, run.TrainingConsistency,
		run.LabeledCount, run.TotalCount, run.Iterations, run.DurationMs,
		run.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert propagation run: %w", err)
	}
	return nil
}

// ListPropagationRuns returns a project's history, oldest first.
func (db *DB) ListPropagationRuns(projectID int64) ([]PropagationRun, error) {
	rows, err := db.Query(
		`SELECT run_id, project_id, method, training_consistency,
		        labeled_count, total_count, iterations, duration_ms, created_at
		 FROM propagation_runs WHERE project_id = ? ORDER BY created_at, run_id`,
		projectID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PropagationRun
	for rows.Next() {
		var r PropagationRun
		var createdAt string
		if err := rows.Scan(&r.RunID, &r.ProjectID, &r.Method, &r.TrainingConsistency,
			&r.LabeledCount, &r.TotalCount, &r.Iterations, &r.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// AttachAdminRoutes mounts the tailsql live SQL console and a backup route
// under /debug/ on the given mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		monitoring.Logf("[DB] failed to create tailsql server: %v", err)
		return
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Classification DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a database backup", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		http.ServeFile(w, r, backupPath)
	}))
}
