package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrMalformedRule wraps all creation-time validation failures.
	// Malformed rules are rejected before they ever reach the engine.
	ErrMalformedRule = errors.New("malformed recurrence rule")
)

func errInvalidWeekday(n int) error {
	return fmt.Errorf("%w: weekday %d out of range 0..6", ErrMalformedRule, n)
}

var validKinds = map[RepeatKind]struct{}{
	RepeatNone:     {},
	RepeatDaily:    {},
	RepeatWeekdays: {},
	RepeatWeekends: {},
	RepeatWeekly:   {},
	RepeatBiweekly: {},
	RepeatMonthly:  {},
	RepeatCustom:   {},
}

// Validate checks the rule's structural invariants.
//
// The engine revalidates before expansion, so a rule that slipped past the
// CRUD surface still cannot drive the iteration loop with a non-advancing
// cursor.
func (r Recurrence) Validate() error {
	if _, ok := validKinds[r.Kind]; !ok {
		return fmt.Errorf("%w: unknown repeat kind %q", ErrMalformedRule, r.Kind)
	}
	if r.AnchorStart.IsZero() || r.AnchorEnd.IsZero() {
		return fmt.Errorf("%w: anchor start/end required", ErrMalformedRule)
	}
	if r.Kind != RepeatNone && r.Interval != 0 && r.Interval < 1 {
		return fmt.Errorf("%w: interval must be >= 1, got %d", ErrMalformedRule, r.Interval)
	}
	if minuteOfDay(r.AnchorStart) == minuteOfDay(r.AnchorEnd) {
		return fmt.Errorf("%w: window start equals end", ErrMalformedRule)
	}
	if r.Kind == RepeatCustom && r.Days.Empty() {
		return fmt.Errorf("%w: custom rule needs at least one weekday", ErrMalformedRule)
	}
	if r.MaxOccurrences < 0 {
		return fmt.Errorf("%w: max occurrences must be >= 0", ErrMalformedRule)
	}
	if r.EndDate != nil && dateOf(*r.EndDate).Before(dateOf(r.AnchorStart)) {
		return fmt.Errorf("%w: end date before anchor start", ErrMalformedRule)
	}
	for _, d := range r.Exceptions {
		if _, err := time.Parse(dateLayout, d); err != nil {
			return fmt.Errorf("%w: bad exception date %q", ErrMalformedRule, d)
		}
	}
	return nil
}

// Validate checks the profile, including its recurrence.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.SubjectID) == "" {
		return fmt.Errorf("%w: subject id required", ErrMalformedRule)
	}
	// Real-world UTC offsets stay within ±14 hours.
	if p.OffsetMinutes < -14*60 || p.OffsetMinutes > 14*60 {
		return fmt.Errorf("%w: utc offset %d minutes out of range", ErrMalformedRule, p.OffsetMinutes)
	}
	return p.Recurrence.Validate()
}
