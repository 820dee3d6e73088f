package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"presenced/internal/rules"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (ephemeral; used by tests and dry runs)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// HistoryRecord is one immutable activation interval.
// Appended when a profile activates; never updated.
type HistoryRecord struct {
	ID        uuid.UUID
	SubjectID string
	ProfileID uuid.UUID
	Payload   rules.Payload
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
}
