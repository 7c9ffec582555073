package models

import "time"

// Level classifies the severity of an audit event.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Valid returns true if the level is one of the known audit levels.
func (l Level) Valid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// AuditEntry is one immutable record in the hash-chained audit ledger.
// Hash is an HMAC-SHA256 over the canonical serialization of every other
// field including PrevHash, so it serves both as integrity signature and
// as the forward link for the next entry.
type AuditEntry struct {
	ID            string         `json:"id"`
	Timestamp     int64          `json:"timestamp"` // unix milliseconds
	Event         string         `json:"event"`
	Level         Level          `json:"level"`
	Message       string         `json:"message"`
	UserID        string         `json:"user_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
}

// Time returns the entry timestamp as a time.Time.
func (e *AuditEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// VerificationResult reports the outcome of a full chain scan.
// BrokenAt identifies the first entry that failed hash or linkage
// checks; Error carries storage failures, which are distinct from
// integrity failures.
type VerificationResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAt       string `json:"broken_at,omitempty"`
	Error          string `json:"error,omitempty"`
	VerifiedAt     int64  `json:"verified_at"` // unix milliseconds
}

// ChainStats summarizes ledger state without forcing a fresh verification.
type ChainStats struct {
	EntryCount       int64               `json:"entry_count"`
	LastVerification *VerificationResult `json:"last_verification,omitempty"`
}

// ChainSnapshot is a forensic marker of chain metadata, captured before
// recovery or repair operations so a before-state is on record.
type ChainSnapshot struct {
	Timestamp    int64  `json:"timestamp"` // unix milliseconds
	EntriesCount int64  `json:"entries_count"`
	LastHash     string `json:"last_hash"`
	LastEntryID  string `json:"last_entry_id,omitempty"`
}
