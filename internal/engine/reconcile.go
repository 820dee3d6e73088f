package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"presenced/internal/rules"
	"presenced/internal/storage"
	logx "presenced/pkg/logx"
)

// ReconcileAll runs one batch pass over every subject with at least one
// enabled profile. Failures are isolated: subject i never blocks i+1..n.
func (e *Engine) ReconcileAll(ctx context.Context) PassSummary {
	started := e.clock()
	sum := PassSummary{Started: started}

	subjects, err := e.store.ListSubjects(ctx)
	if err != nil {
		e.log.Error("listing subjects failed, skipping pass", logx.Err(err))
		sum.Failures++
		sum.Took = time.Since(started)
		e.appendPass(sum)
		return sum
	}

	cfg := e.config()
	for _, subject := range subjects {
		sum.Subjects++
		transitions, err := e.reconcileIsolated(ctx, subject, cfg.SubjectTimeout)
		sum.Transitions += transitions
		if err != nil {
			sum.Failures++
			e.log.Warn("subject reconciliation failed", logx.String("subject", subject), logx.Err(err))
		}
	}

	sum.Took = time.Since(started)
	e.appendPass(sum)
	e.log.Debug("reconcile pass done",
		logx.Int("subjects", sum.Subjects),
		logx.Int("transitions", sum.Transitions),
		logx.Int("failures", sum.Failures),
		logx.Duration("took", sum.Took))
	return sum
}

// reconcileIsolated bounds one subject's pass with a timeout and converts
// panics (e.g. from a pathological rule) into errors.
func (e *Engine) reconcileIsolated(ctx context.Context, subjectID string, timeout time.Duration) (transitions int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("panic reconciling subject",
				logx.String("subject", subjectID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return e.ReconcileSubject(sctx, subjectID)
}

// ReconcileSubject computes the desired state for one subject and applies
// the minimal corrective transition. It is idempotent: with no time advance
// and no rule change, a second call produces zero side effects.
func (e *Engine) ReconcileSubject(ctx context.Context, subjectID string) (int, error) {
	lock := e.lockFor(subjectID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock()

	profiles, err := e.store.ListEnabledProfiles(ctx, subjectID)
	if err != nil {
		return 0, fmt.Errorf("list profiles: %w", err)
	}

	state, err := e.store.LoadStatusState(ctx, subjectID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("load status: %w", err)
	}

	// Never trust the last-known flags alone: recompute both sides from the
	// enabled set so a flag/owner mismatch self-heals.
	var active []rules.Profile
	for _, p := range profiles {
		if p.Active {
			active = append(active, p)
		}
	}

	candidates := e.candidates(profiles, now)

	if len(candidates) == 0 {
		return e.reconcileIdle(ctx, subjectID, active, state, now)
	}

	winner := candidates[0]

	// A manual status holds only while no rule claims the window.
	if state.Manual {
		e.log.Debug("manual status overridden by schedule",
			logx.String("subject", subjectID),
			logx.String("profile", winner.Name))
	}

	if winner.Active && state.OwnedBy(winner.ID) && !state.Manual {
		// Already live. Idempotent no-op.
		return 0, nil
	}

	transitions := 0
	for _, p := range active {
		if p.ID == winner.ID {
			continue
		}
		if err := e.deactivate(ctx, p, now); err != nil {
			return transitions, err
		}
		transitions++
	}
	if err := e.activate(ctx, winner, now); err != nil {
		return transitions, err
	}
	return transitions + 1, nil
}

// reconcileIdle handles the no-candidate branch: release whatever is still
// active, expire stale manual statuses, leave everything else alone.
func (e *Engine) reconcileIdle(ctx context.Context, subjectID string, active []rules.Profile, state rules.StatusState, now time.Time) (int, error) {
	transitions := 0
	for _, p := range active {
		if err := e.deactivate(ctx, p, now); err != nil {
			return transitions, err
		}
		transitions++
	}
	if transitions > 0 {
		return transitions, nil
	}

	// Status claims a profile owner but no enabled profile is active:
	// stale ownership (profile disabled or deleted mid-window). Reset it.
	if !state.Manual && state.OwnerProfileID != nil {
		if err := e.resetStatus(ctx, subjectID, state.OwnerProfileID, now); err != nil {
			return 0, err
		}
		return 1, nil
	}

	// Manual statuses are time-boxed: reclaim once expired.
	if state.Manual && state.ExpiresAt != nil && !now.Before(*state.ExpiresAt) {
		if err := e.resetStatus(ctx, subjectID, nil, now); err != nil {
			return 0, err
		}
		return 1, nil
	}

	return 0, nil
}

// candidates filters profiles whose window contains now and orders them:
// highest priority first, ties broken by the earlier time-of-day anchor,
// then by ID so the result is fully deterministic.
func (e *Engine) candidates(profiles []rules.Profile, now time.Time) []rules.Profile {
	var out []rules.Profile
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			e.log.Warn("skipping malformed profile",
				logx.String("subject", p.SubjectID),
				logx.String("profile", p.Name),
				logx.Err(err))
			continue
		}
		if p.WithinWindow(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if out[i].StartMinute() != out[j].StartMinute() {
			return out[i].StartMinute() < out[j].StartMinute()
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
