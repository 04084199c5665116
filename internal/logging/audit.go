package logging

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// #region auditor
// Auditor receives audit entries.
type Auditor interface {
	Audit(ctx context.Context, entry AuditEntry) error
}

// Nop discards entries.
type Nop struct{}

func (Nop) Audit(context.Context, AuditEntry) error { return nil }

// #endregion auditor

// #region sqlite
const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    subject     TEXT NOT NULL,
    scope       TEXT NOT NULL,
    action      TEXT NOT NULL,
    refs        TEXT,
    outcome     TEXT NOT NULL,
    detail      TEXT,
    created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_log(subject);
`

// AuditLog writes entries to the audit_log table.
type AuditLog struct {
	db *sql.DB
}

// NewAuditLog creates the table and returns an AuditLog.
func NewAuditLog(db *sql.DB) (*AuditLog, error) {
	if _, err := db.Exec(auditSchema); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return &AuditLog{db: db}, nil
}

// Audit inserts one row.
func (a *AuditLog) Audit(ctx context.Context, entry AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Outcome == "" {
		entry.Outcome = OutcomeOK
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (subject, scope, action, refs, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Subject,
		entry.Scope,
		entry.Action,
		nullIfEmpty(entry.Refs),
		entry.Outcome,
		nullIfEmpty(entry.Detail),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit %s/%s: %w", entry.Scope, entry.Action, err)
	}
	return nil
}

// List returns the entries for subject, oldest first.
func (a *AuditLog) List(ctx context.Context, subject string) ([]AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT subject, scope, action, COALESCE(refs, ''), outcome, COALESCE(detail, ''), created_at
		 FROM audit_log WHERE subject = ? ORDER BY id`, subject)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var created string
		if err := rows.Scan(&e.Subject, &e.Scope, &e.Action, &e.Refs, &e.Outcome, &e.Detail, &created); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion sqlite

// #region memory
// MemoryAudit keeps entries in memory.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *MemoryAudit) Audit(_ context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemoryAudit) Entries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.entries...)
}

// Actions returns the recorded action names for subject in order.
func (m *MemoryAudit) Actions(subject string) []string {
	var out []string
	for _, e := range m.Entries() {
		if e.Subject == subject {
			out = append(out, e.Action)
		}
	}
	return out
}

// #endregion memory

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// JoinRefs joins ids for the refs column.
func JoinRefs(ids ...string) string {
	return strings.Join(ids, ",")
}

// #endregion helpers
