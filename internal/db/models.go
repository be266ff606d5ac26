package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run statuses
const (
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(raw, j)
}

// ResearchRun is one finished research request
type ResearchRun struct {
	ID           uuid.UUID  `db:"id"`
	WorkflowID   string     `db:"workflow_id"`
	SessionID    string     `db:"session_id"`
	Path         string     `db:"path"`
	Query        string     `db:"query"`
	Status       string     `db:"status"`
	Rounds       int        `db:"rounds"`
	QueriesRun   int        `db:"queries_run"`
	SourcesKept  int        `db:"sources_kept"`
	Answer       *string    `db:"answer"`
	ErrorMessage *string    `db:"error_message"`
	Metadata     JSONB      `db:"metadata"`
	StartedAt    time.Time  `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	CreatedAt    time.Time  `db:"created_at"`
}
