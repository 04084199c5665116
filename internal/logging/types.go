package logging

import "time"

// #region audit-entry
// AuditEntry records one lifecycle transition of a context version or a run.
type AuditEntry struct {
	Subject   string    `json:"subject"` // context version id or run id
	Scope     string    `json:"scope"`   // "pciv" | "engine"
	Action    string    `json:"action"`
	Refs      string    `json:"refs,omitempty"` // comma-separated ids touched
	Outcome   string    `json:"outcome"`        // "ok" | "blocked" | "error"
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	ScopePCIV   = "pciv"
	ScopeEngine = "engine"

	OutcomeOK      = "ok"
	OutcomeBlocked = "blocked"
	OutcomeError   = "error"
)

// #endregion audit-entry
