package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"presenced/internal/rules"
	logx "presenced/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT subject_id FROM profiles WHERE enabled = 1 ORDER BY subject_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListEnabledProfiles(ctx context.Context, subjectID string) ([]rules.Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, name, priority, offset_minutes, enabled, active,
		        payload_text, payload_emoji, notify_on_activate, notify_on_deactivate,
		        recurrence, updated_at
		 FROM profiles WHERE subject_id = ? AND enabled = 1 ORDER BY id`,
		subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(rows *sql.Rows) (rules.Profile, error) {
	var (
		p         rules.Profile
		id        string
		recJSON   string
		updatedAt string
		enabled   int
		active    int
		notifyOn  int
		notifyOff int
	)
	if err := rows.Scan(&id, &p.SubjectID, &p.Name, &p.Priority, &p.OffsetMinutes,
		&enabled, &active, &p.Payload.Text, &p.Payload.Emoji,
		&notifyOn, &notifyOff, &recJSON, &updatedAt); err != nil {
		return rules.Profile{}, err
	}
	pid, err := uuid.Parse(id)
	if err != nil {
		return rules.Profile{}, fmt.Errorf("bad profile id %q: %w", id, err)
	}
	p.ID = pid
	p.Enabled = enabled != 0
	p.Active = active != 0
	p.NotifyOnActivate = notifyOn != 0
	p.NotifyOnDeactivate = notifyOff != 0
	if err := json.Unmarshal([]byte(recJSON), &p.Recurrence); err != nil {
		return rules.Profile{}, fmt.Errorf("bad recurrence for profile %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p, nil
}

func (s *sqliteStore) SaveProfile(ctx context.Context, p rules.Profile) error {
	recJSON, err := json.Marshal(p.Recurrence)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles(id, subject_id, name, priority, offset_minutes, enabled, active,
		                      payload_text, payload_emoji, notify_on_activate, notify_on_deactivate,
		                      recurrence, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   subject_id=excluded.subject_id, name=excluded.name, priority=excluded.priority,
		   offset_minutes=excluded.offset_minutes, enabled=excluded.enabled, active=excluded.active,
		   payload_text=excluded.payload_text, payload_emoji=excluded.payload_emoji,
		   notify_on_activate=excluded.notify_on_activate, notify_on_deactivate=excluded.notify_on_deactivate,
		   recurrence=excluded.recurrence, updated_at=excluded.updated_at`,
		p.ID.String(), p.SubjectID, p.Name, p.Priority, p.OffsetMinutes,
		boolInt(p.Enabled), boolInt(p.Active),
		p.Payload.Text, p.Payload.Emoji,
		boolInt(p.NotifyOnActivate), boolInt(p.NotifyOnDeactivate),
		string(recJSON), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) LoadStatusState(ctx context.Context, subjectID string) (rules.StatusState, error) {
	var (
		st        rules.StatusState
		owner     sql.NullString
		expires   sql.NullString
		manual    int
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_id, payload_text, payload_emoji, owner_profile_id, expires_at, manual, updated_at
		 FROM status_state WHERE subject_id = ?`, subjectID).
		Scan(&st.SubjectID, &st.Payload.Text, &st.Payload.Emoji, &owner, &expires, &manual, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.StatusState{}, ErrNotFound
	}
	if err != nil {
		return rules.StatusState{}, err
	}
	st.Manual = manual != 0
	if owner.Valid && owner.String != "" {
		if id, perr := uuid.Parse(owner.String); perr == nil {
			st.OwnerProfileID = &id
		}
	}
	if expires.Valid && expires.String != "" {
		if t, perr := time.Parse(time.RFC3339Nano, expires.String); perr == nil {
			st.ExpiresAt = &t
		}
	}
	if t, perr := time.Parse(time.RFC3339Nano, updatedAt); perr == nil {
		st.UpdatedAt = t
	}
	return st, nil
}

func (s *sqliteStore) SaveStatusState(ctx context.Context, st rules.StatusState) error {
	var owner any
	if st.OwnerProfileID != nil {
		owner = st.OwnerProfileID.String()
	}
	var expires any
	if st.ExpiresAt != nil {
		expires = st.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO status_state(subject_id, payload_text, payload_emoji, owner_profile_id, expires_at, manual, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   payload_text=excluded.payload_text, payload_emoji=excluded.payload_emoji,
		   owner_profile_id=excluded.owner_profile_id, expires_at=excluded.expires_at,
		   manual=excluded.manual, updated_at=excluded.updated_at`,
		st.SubjectID, st.Payload.Text, st.Payload.Emoji, owner, expires,
		boolInt(st.Manual), st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendHistory(ctx context.Context, rec HistoryRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = newHistoryID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, subject_id, profile_id, payload_text, payload_emoji, start_at, end_at, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.SubjectID, rec.ProfileID.String(),
		rec.Payload.Text, rec.Payload.Emoji,
		rec.Start.UTC().Format(time.RFC3339Nano), rec.End.UTC().Format(time.RFC3339Nano),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ListHistory(ctx context.Context, subjectID string, limit int) ([]HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject_id, profile_id, payload_text, payload_emoji, start_at, end_at, created_at
		 FROM history WHERE subject_id = ? ORDER BY start_at DESC LIMIT ?`,
		subjectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		var (
			rec             HistoryRecord
			id, pid         string
			start, end, cat string
		)
		if err := rows.Scan(&id, &rec.SubjectID, &pid, &rec.Payload.Text, &rec.Payload.Emoji, &start, &end, &cat); err != nil {
			return nil, err
		}
		rec.ID, _ = uuid.Parse(id)
		rec.ProfileID, _ = uuid.Parse(pid)
		rec.Start, _ = time.Parse(time.RFC3339Nano, start)
		rec.End, _ = time.Parse(time.RFC3339Nano, end)
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, cat)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneHistory(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE end_at < ?`, olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
