// Package store persists context versions and decision runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/weflora/planning-core/internal/apperr"
	"github.com/weflora/planning-core/internal/engine"
	"github.com/weflora/planning-core/internal/graph"
	"github.com/weflora/planning-core/internal/logging"
	"github.com/weflora/planning-core/internal/pciv"
	"github.com/weflora/planning-core/internal/pointer"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS context_versions (
	id            TEXT PRIMARY KEY,
	parent_id     TEXT,
	body          TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	program_id    TEXT NOT NULL,
	status        TEXT NOT NULL,
	state         TEXT NOT NULL,
	context_doc   BLOB NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_status_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	status        TEXT NOT NULL,
	open_cards    INTEGER NOT NULL,
	saved_at      TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
CREATE INDEX IF NOT EXISTS idx_run_status_log_run ON run_status_log(run_id, id);
`

// #endregion schema

// #region store-struct
// Store implements pciv.Store and engine.RunStore on one database.
type Store struct {
	db     *sql.DB
	graphs *graph.GraphStore
	audit  *logging.AuditLog
}

var (
	_ pciv.Store      = (*Store)(nil)
	_ engine.RunStore = (*Store)(nil)
)

// #endregion store-struct

// #region constructor
// Open opens a SQLite database and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	graphs, err := graph.NewGraphStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	audit, err := logging.NewAuditLog(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, graphs: graphs, audit: audit}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Graphs exposes the provenance graph store.
func (s *Store) Graphs() *graph.GraphStore {
	return s.graphs
}

// Audit is the provenance log kept next to the contexts.
func (s *Store) Audit() *logging.AuditLog {
	return s.audit
}

// #endregion constructor

// #region contexts
// SaveContext writes the context version body and its provenance graph.
func (s *Store) SaveContext(ctx context.Context, cv *pciv.ContextVersion) error {
	body, err := json.Marshal(cv)
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", cv.ID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var parent any
	if cv.ParentID != "" {
		parent = cv.ParentID
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO context_versions (id, parent_id, body, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		cv.ID, parent, string(body), cv.CreatedAt.UTC().Format(time.RFC3339Nano), now,
	); err != nil {
		return fmt.Errorf("save context %s: %w", cv.ID, err)
	}
	if cv.Graph != nil {
		if err := s.graphs.Save(ctx, cv.Graph); err != nil {
			return fmt.Errorf("save context %s: %w", cv.ID, err)
		}
	}
	return nil
}

// LoadContext reads a context version and restores its graph.
func (s *Store) LoadContext(ctx context.Context, id string) (*pciv.ContextVersion, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM context_versions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("context version %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load context %s: %w", id, err)
	}
	var cv pciv.ContextVersion
	if err := json.Unmarshal([]byte(body), &cv); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", id, err)
	}
	g, err := s.graphs.Load(ctx, id)
	switch {
	case apperr.IsNotFound(err):
		cv.Graph = graph.New(id)
	case err != nil:
		return nil, err
	default:
		cv.Graph = g
	}
	return &cv, nil
}

// ListContexts returns the stored context version ids in creation order.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM context_versions ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// #endregion contexts

// #region runs
// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID     string           `json:"runId"`
	ProgramID string           `json:"programId"`
	Status    engine.RunStatus `json:"status"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// StatusChange is one entry of a run's status history.
type StatusChange struct {
	Status    engine.RunStatus `json:"status"`
	OpenCards int              `json:"openCards"`
	SavedAt   time.Time        `json:"savedAt"`
}

// SaveRun upserts the run. The context document is stored separately as
// protojson; every save appends to the status log when the status changed.
func (s *Store) SaveRun(ctx context.Context, st engine.ExecutionState) error {
	doc, err := pointer.MarshalDocument(st.Context)
	if err != nil {
		return fmt.Errorf("run %s: %w", st.RunID, err)
	}
	body := st
	body.Context = pointer.Undefined()
	state, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", st.RunID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var prev sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, st.RunID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read run %s: %w", st.RunID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, program_id, status, state, context_doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status = excluded.status,
		   state = excluded.state,
		   context_doc = excluded.context_doc,
		   updated_at = excluded.updated_at`,
		st.RunID, st.ProgramID, string(st.Status), string(state), doc,
		st.CreatedAt.UTC().Format(time.RFC3339Nano), now,
	); err != nil {
		return fmt.Errorf("save run %s: %w", st.RunID, err)
	}

	if !prev.Valid || prev.String != string(st.Status) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_status_log (run_id, status, open_cards, saved_at) VALUES (?, ?, ?, ?)`,
			st.RunID, string(st.Status), len(st.OpenCards()), now,
		); err != nil {
			return fmt.Errorf("log run %s: %w", st.RunID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadRun reads a run back. Unknown ids yield a NotFound error.
func (s *Store) LoadRun(ctx context.Context, runID string) (engine.ExecutionState, error) {
	var state string
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state, context_doc FROM runs WHERE run_id = ?`, runID,
	).Scan(&state, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.ExecutionState{}, apperr.NotFound("run %s", runID)
	}
	if err != nil {
		return engine.ExecutionState{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	var st engine.ExecutionState
	if err := json.Unmarshal([]byte(state), &st); err != nil {
		return engine.ExecutionState{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	st.Context, err = pointer.UnmarshalDocument(doc)
	if err != nil {
		return engine.ExecutionState{}, fmt.Errorf("run %s: %w", runID, err)
	}
	return st, nil
}

// ListRuns returns run summaries, most recently updated first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, program_id, status, updated_at FROM runs
		 ORDER BY updated_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var status, updated string
		if err := rows.Scan(&r.RunID, &r.ProgramID, &status, &updated); err != nil {
			return nil, err
		}
		r.Status = engine.RunStatus(status)
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// History returns the status changes of a run, oldest first.
func (s *Store) History(ctx context.Context, runID string) ([]StatusChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, open_cards, saved_at FROM run_status_log WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("run history %s: %w", runID, err)
	}
	defer rows.Close()

	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		var status, saved string
		if err := rows.Scan(&status, &c.OpenCards, &saved); err != nil {
			return nil, err
		}
		c.Status = engine.RunStatus(status)
		c.SavedAt, _ = time.Parse(time.RFC3339Nano, saved)
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion runs
