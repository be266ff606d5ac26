package session

import (
	"errors"
	"time"

	"github.com/Kocoro-lab/converge/internal/state"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when stored session data cannot be decoded
	ErrInvalidSession = errors.New("invalid session")
)

// Session is the persisted conversation of one session id. Only the
// transcript survives between requests; round accumulators do not.
type Session struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	History   []state.Turn `json:"history"`
	Runs      int          `json:"runs"`
}
