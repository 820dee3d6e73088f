package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"presenced/internal/rules"
	logx "presenced/pkg/logx"
)

// Store is the persistence API consumed by the engine and the CRUD surface.
//
// Mutating a profile through SaveProfile may change Enabled; the Active flag
// is owned by the engine, which is the only caller that writes it.
type Store interface {
	// ListSubjects returns subjects that have at least one enabled profile.
	ListSubjects(ctx context.Context) ([]string, error)

	ListEnabledProfiles(ctx context.Context, subjectID string) ([]rules.Profile, error)
	SaveProfile(ctx context.Context, p rules.Profile) error

	LoadStatusState(ctx context.Context, subjectID string) (rules.StatusState, error)
	SaveStatusState(ctx context.Context, s rules.StatusState) error

	AppendHistory(ctx context.Context, rec HistoryRecord) error
	ListHistory(ctx context.Context, subjectID string, limit int) ([]HistoryRecord, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func newHistoryID() uuid.UUID { return uuid.New() }
