package engine

import (
	"context"
	"errors"
	"time"

	"presenced/internal/storage"
	logx "presenced/pkg/logx"
)

// Housekeep runs the slow-interval maintenance work: pruning long-expired
// history and reclaiming expired manual statuses. Safe to run while the
// minute tick is active; per-subject locks serialize any overlap.
func (e *Engine) Housekeep(ctx context.Context) {
	started := e.clock()
	cfg := e.config()

	cutoff := started.Add(-cfg.HistoryRetention)
	pruned, err := e.store.PruneHistory(ctx, cutoff)
	if err != nil {
		e.log.Warn("history prune failed", logx.Err(err))
	} else if pruned > 0 {
		e.log.Info("history pruned", logx.Int("records", pruned), logx.Time("cutoff", cutoff))
	}

	subjects, err := e.store.ListSubjects(ctx)
	if err != nil {
		e.log.Warn("housekeeping subject list failed", logx.Err(err))
		return
	}
	reclaimed := 0
	for _, subject := range subjects {
		if e.reclaimExpiredManual(ctx, subject, started) {
			reclaimed++
		}
	}
	if reclaimed > 0 {
		e.log.Info("expired manual statuses reclaimed", logx.Int("subjects", reclaimed))
	}

	e.log.Debug("housekeeping done", logx.Duration("took", time.Since(started)))
}

func (e *Engine) reclaimExpiredManual(ctx context.Context, subjectID string, now time.Time) bool {
	lock := e.lockFor(subjectID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.store.LoadStatusState(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("housekeeping status load failed", logx.String("subject", subjectID), logx.Err(err))
		}
		return false
	}
	if !state.Manual || state.ExpiresAt == nil || now.Before(*state.ExpiresAt) {
		return false
	}
	if err := e.resetStatus(ctx, subjectID, nil, now); err != nil {
		e.log.Warn("manual status reclaim failed", logx.String("subject", subjectID), logx.Err(err))
		return false
	}
	return true
}
