package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"presenced/internal/rules"
)

// memoryStore keeps everything in process. It honors the same contracts as
// the sqlite driver so engine tests run against it unchanged.
type memoryStore struct {
	mu       sync.Mutex
	profiles map[string]rules.Profile // keyed by profile ID
	status   map[string]rules.StatusState
	history  []HistoryRecord
}

func NewMemory() Store {
	return &memoryStore{
		profiles: map[string]rules.Profile{},
		status:   map[string]rules.StatusState{},
	}
}

func (m *memoryStore) ListSubjects(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	for _, p := range m.profiles {
		if p.Enabled {
			seen[p.SubjectID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

func (m *memoryStore) ListEnabledProfiles(ctx context.Context, subjectID string) ([]rules.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rules.Profile
	for _, p := range m.profiles {
		if p.SubjectID == subjectID && p.Enabled {
			out = append(out, p)
		}
	}
	// Stable order so batch passes stay deterministic.
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *memoryStore) SaveProfile(ctx context.Context, p rules.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	m.profiles[p.ID.String()] = p
	return nil
}

func (m *memoryStore) LoadStatusState(ctx context.Context, subjectID string) (rules.StatusState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[subjectID]
	if !ok {
		return rules.StatusState{}, ErrNotFound
	}
	return s, nil
}

func (m *memoryStore) SaveStatusState(ctx context.Context, s rules.StatusState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[s.SubjectID] = s
	return nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = newHistoryID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, rec)
	return nil
}

func (m *memoryStore) ListHistory(ctx context.Context, subjectID string, limit int) ([]HistoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryRecord
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].SubjectID != subjectID {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) PruneHistory(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.history[:0]
	removed := 0
	for _, rec := range m.history {
		if rec.End.Before(olderThan) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.history = kept
	return removed, nil
}

func (m *memoryStore) Close() error { return nil }
