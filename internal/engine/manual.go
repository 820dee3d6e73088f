package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"presenced/internal/notify"
	"presenced/internal/rules"
	logx "presenced/pkg/logx"
)

var ErrEmptySubject = errors.New("subject id required")

// SetManualStatus writes a status outside the schedule engine.
//
// Manual statuses are best-effort and time-boxed by design: the next tick
// overrides them when a rule's window is open, and housekeeping (or the
// tick) reclaims them once the ttl expires. A zero ttl keeps the status
// until a rule claims the subject.
func (e *Engine) SetManualStatus(ctx context.Context, subjectID string, payload rules.Payload, ttl time.Duration) error {
	if strings.TrimSpace(subjectID) == "" {
		return ErrEmptySubject
	}

	lock := e.lockFor(subjectID)
	lock.Lock()
	defer lock.Unlock()

	now := e.clock()
	state := rules.StatusState{
		SubjectID: subjectID,
		Payload:   payload,
		Manual:    true,
		UpdatedAt: now,
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		state.ExpiresAt = &exp
	}

	if err := e.withRetry(ctx, "save status", func(ctx context.Context) error {
		return e.store.SaveStatusState(ctx, state)
	}); err != nil {
		return fmt.Errorf("manual status: %w", err)
	}

	e.publish(ctx, notify.Event{
		SubjectID: subjectID,
		Kind:      notify.EventManual,
		Payload:   payload,
		At:        now,
		ExpiresAt: state.ExpiresAt,
	})
	return nil
}

// PreviewInstances expands a profile's upcoming occurrences for display.
// The CRUD surface calls this when editing rules; it shares the exact
// expansion the reconciler uses, so previews never drift from behavior.
func (e *Engine) PreviewInstances(p rules.Profile, windowStart, windowEnd time.Time) ([]rules.Instance, error) {
	localStart := rules.LocalTime(windowStart, p.OffsetMinutes)
	localEnd := rules.LocalTime(windowEnd, p.OffsetMinutes)
	instances, err := rules.Expand(p.Recurrence, localStart, localEnd)
	if err != nil && errors.Is(err, rules.ErrExpansionCapped) {
		e.log.Warn("expansion hit iteration ceiling",
			logx.String("subject", p.SubjectID),
			logx.String("profile", p.Name))
		return instances, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]rules.Instance, 0, len(instances))
	for _, in := range instances {
		out = append(out, rules.Instance{
			Start: rules.UTCTime(in.Start, p.OffsetMinutes),
			End:   rules.UTCTime(in.End, p.OffsetMinutes),
		})
	}
	return out, nil
}
