package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"presenced/internal/notify"
	"presenced/internal/rules"
	"presenced/internal/storage"
	logx "presenced/pkg/logx"
)

// activate makes the profile drive its subject's live status.
//
// Effect order matters: the profile flag, the status state and the history
// record are persisted (with bounded retries) before the single change
// notification goes out. On a store failure the already-applied steps are
// rolled back best-effort so the subject is never left half-applied.
func (e *Engine) activate(ctx context.Context, p rules.Profile, now time.Time) error {
	endUTC := p.WindowEndUTC(now)

	p.Active = true
	p.UpdatedAt = now
	if err := e.withRetry(ctx, "save profile", func(ctx context.Context) error {
		return e.store.SaveProfile(ctx, p)
	}); err != nil {
		return fmt.Errorf("activate %s: %w", p.Name, err)
	}

	state := rules.StatusState{
		SubjectID:      p.SubjectID,
		Payload:        p.Payload,
		OwnerProfileID: &p.ID,
		ExpiresAt:      &endUTC,
		UpdatedAt:      now,
	}
	if err := e.withRetry(ctx, "save status", func(ctx context.Context) error {
		return e.store.SaveStatusState(ctx, state)
	}); err != nil {
		e.rollbackProfile(ctx, p)
		return fmt.Errorf("activate %s: %w", p.Name, err)
	}

	rec := storage.HistoryRecord{
		ID:        uuid.New(),
		SubjectID: p.SubjectID,
		ProfileID: p.ID,
		Payload:   p.Payload,
		Start:     now,
		End:       endUTC,
		CreatedAt: now,
	}
	if err := e.withRetry(ctx, "append history", func(ctx context.Context) error {
		return e.store.AppendHistory(ctx, rec)
	}); err != nil {
		// Status and flag are already durable and consistent; a missing
		// history row is not worth unwinding the activation for.
		e.log.Warn("history append failed", logx.String("subject", p.SubjectID), logx.Err(err))
	}

	e.log.Info("profile activated",
		logx.String("subject", p.SubjectID),
		logx.String("profile", p.Name),
		logx.String("status", p.Payload.Text),
		logx.Time("expires", endUTC))

	if p.NotifyOnActivate {
		e.publish(ctx, notify.Event{
			SubjectID: p.SubjectID,
			Kind:      notify.EventActivated,
			Payload:   p.Payload,
			ProfileID: &p.ID,
			At:        now,
			ExpiresAt: &endUTC,
		})
	}
	return nil
}

// deactivate releases the profile and restores the subject default payload.
func (e *Engine) deactivate(ctx context.Context, p rules.Profile, now time.Time) error {
	p.Active = false
	p.UpdatedAt = now
	if err := e.withRetry(ctx, "save profile", func(ctx context.Context) error {
		return e.store.SaveProfile(ctx, p)
	}); err != nil {
		return fmt.Errorf("deactivate %s: %w", p.Name, err)
	}

	cfg := e.config()
	state := rules.StatusState{
		SubjectID: p.SubjectID,
		Payload:   cfg.DefaultPayload,
		UpdatedAt: now,
	}
	if err := e.withRetry(ctx, "save status", func(ctx context.Context) error {
		return e.store.SaveStatusState(ctx, state)
	}); err != nil {
		return fmt.Errorf("deactivate %s: %w", p.Name, err)
	}

	e.log.Info("profile deactivated",
		logx.String("subject", p.SubjectID),
		logx.String("profile", p.Name))

	if p.NotifyOnDeactivate {
		e.publish(ctx, notify.Event{
			SubjectID: p.SubjectID,
			Kind:      notify.EventDeactivated,
			Payload:   cfg.DefaultPayload,
			ProfileID: &p.ID,
			At:        now,
		})
	}
	return nil
}

// resetStatus clears a status no profile legitimately owns anymore
// (stale owner or expired manual override).
func (e *Engine) resetStatus(ctx context.Context, subjectID string, staleOwner *uuid.UUID, now time.Time) error {
	cfg := e.config()
	state := rules.StatusState{
		SubjectID: subjectID,
		Payload:   cfg.DefaultPayload,
		UpdatedAt: now,
	}
	if err := e.withRetry(ctx, "save status", func(ctx context.Context) error {
		return e.store.SaveStatusState(ctx, state)
	}); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}

	e.log.Info("status reset", logx.String("subject", subjectID))
	e.publish(ctx, notify.Event{
		SubjectID: subjectID,
		Kind:      notify.EventDeactivated,
		Payload:   cfg.DefaultPayload,
		ProfileID: staleOwner,
		At:        now,
	})
	return nil
}

// rollbackProfile reverts the Active flag after a failed activation.
// Best-effort only; the reconciler recomputes from enabled profiles anyway.
func (e *Engine) rollbackProfile(ctx context.Context, p rules.Profile) {
	p.Active = false
	if err := e.store.SaveProfile(ctx, p); err != nil {
		e.log.Warn("profile rollback failed",
			logx.String("subject", p.SubjectID),
			logx.String("profile", p.Name),
			logx.Err(err))
	}
}

// publish emits the transition event. Delivery problems are logged, not
// propagated: the mutation is already durable and the dedup window in the
// notifier absorbs a re-publish after a retried tick.
func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if e.pub == nil {
		return
	}
	if err := e.withRetry(ctx, "publish", func(ctx context.Context) error {
		return e.pub.Publish(ctx, ev)
	}); err != nil {
		e.log.Warn("status event publish failed",
			logx.String("subject", ev.SubjectID),
			logx.String("kind", string(ev.Kind)),
			logx.Err(err))
	}
}
