package rules

import (
	"errors"
	"fmt"
	"time"
)

const (
	// maxExpandSteps bounds the cursor loop. Validation plus the closed-form
	// window check below should make this unreachable; it remains as a last
	// defense against a non-advancing cursor.
	maxExpandSteps = 10000

	// defaultOccurrenceCap bounds emissions for rules without an explicit
	// max_occurrences.
	defaultOccurrenceCap = 5000
)

var (
	// ErrWindowTooLarge is returned when the query window would require more
	// cursor steps than maxExpandSteps allows. Rejected up front instead of
	// truncating mid-expansion.
	ErrWindowTooLarge = errors.New("expansion window exceeds step ceiling")

	// ErrExpansionCapped is returned with a partial result when the runtime
	// step ceiling trips anyway. Callers should log it as a warning and use
	// the instances produced so far.
	ErrExpansionCapped = errors.New("expansion aborted at iteration ceiling")
)

// Expand translates a recurrence rule and a query window into the finite,
// ordered sequence of instances that intersect [windowStart, windowEnd].
//
// The result is deterministic for identical inputs. A degenerate window
// (windowStart == windowEnd) performs membership testing: it yields the
// instance containing that instant, if any.
//
// All times are wall-clock values in the rule's local frame; callers convert
// from UTC first (see WithinWindow).
func Expand(r Recurrence, windowStart, windowEnd time.Time) ([]Instance, error) {
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("%w: window end before start", ErrMalformedRule)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	dur := r.windowDuration()

	if r.Kind == RepeatNone {
		return expandSingle(r, dur, windowStart, windowEnd), nil
	}

	capN := r.MaxOccurrences
	if capN <= 0 {
		capN = defaultOccurrenceCap
	}

	// upperDate is the last local date an occurrence may start on.
	upperDate := dateOf(windowEnd)
	if r.EndDate != nil && dateOf(*r.EndDate).Before(upperDate) {
		upperDate = dateOf(*r.EndDate)
	}

	if r.Kind == RepeatMonthly {
		return expandMonthly(r, dur, capN, windowStart, windowEnd, upperDate)
	}
	return expandDayStepped(r, dur, capN, windowStart, windowEnd, upperDate)
}

// expandSingle handles the non-repeating kind: at most one instance, at the
// anchor itself.
func expandSingle(r Recurrence, dur time.Duration, winStart, winEnd time.Time) []Instance {
	start := r.atTimeOfDay(dateOf(r.AnchorStart))
	in := Instance{Start: start, End: start.Add(dur)}
	if !overlaps(in, winStart, winEnd) {
		return nil
	}
	if _, skip := r.exceptionSet()[DateKey(start)]; skip {
		return nil
	}
	return []Instance{in}
}

// expandDayStepped covers every kind whose cursor advances in whole days:
// the daily family steps by the interval directly, while the weekly family
// walks day by day and gates on week phase so multi-day sets and biweekly
// alignment fall out of the same loop.
func expandDayStepped(r Recurrence, dur time.Duration, capN int, winStart, winEnd time.Time, upperDate time.Time) ([]Instance, error) {
	anchorDay := dateOf(r.AnchorStart)
	interval := r.interval()

	step := 1
	if isDailyFamily(r.Kind) {
		step = interval
	}

	cursor := anchorDay
	counting := r.MaxOccurrences > 0
	if !counting {
		// Occurrences are not globally numbered, so fast-forward in whole
		// steps to just before the window. One day of slack keeps
		// cross-midnight instances that began the previous day.
		target := dateOf(winStart).AddDate(0, 0, -1)
		if target.After(cursor) {
			n := daysBetween(cursor, target) / step
			cursor = cursor.AddDate(0, 0, n*step)
		}
	}

	if bound := daysBetween(cursor, upperDate)/step + 2; bound > maxExpandSteps {
		return nil, fmt.Errorf("%w: %d steps for %s rule", ErrWindowTooLarge, bound, r.Kind)
	}

	exceptions := r.exceptionSet()
	var out []Instance
	emitted := 0
	for steps := 0; ; steps++ {
		if steps >= maxExpandSteps {
			return out, fmt.Errorf("%w: %s rule after %d steps", ErrExpansionCapped, r.Kind, steps)
		}
		if cursor.After(upperDate) || emitted >= capN {
			break
		}

		if r.matchesDay(cursor, anchorDay) {
			if _, skip := exceptions[DateKey(cursor)]; !skip {
				start := r.atTimeOfDay(cursor)
				emitted++
				in := Instance{Start: start, End: start.Add(dur)}
				if overlaps(in, winStart, winEnd) {
					out = append(out, in)
				}
			}
		}

		cursor = cursor.AddDate(0, 0, step)
	}
	return out, nil
}

// expandMonthly emits on the anchor's day of month every interval months.
// Months without that day (e.g. the 31st) are skipped, not rolled forward.
func expandMonthly(r Recurrence, dur time.Duration, capN int, winStart, winEnd time.Time, upperDate time.Time) ([]Instance, error) {
	anchor := dateOf(r.AnchorStart)
	interval := r.interval()
	dom := anchor.Day()
	ay, am, _ := anchor.Date()

	monthIdx := 0
	counting := r.MaxOccurrences > 0
	if !counting {
		target := dateOf(winStart).AddDate(0, 0, -1)
		if diff := monthsBetween(anchor, target); diff > 0 {
			monthIdx = (diff / interval) * interval
		}
	}

	if bound := (monthsBetween(anchor, upperDate)-monthIdx)/interval + 2; bound > maxExpandSteps {
		return nil, fmt.Errorf("%w: %d steps for monthly rule", ErrWindowTooLarge, bound)
	}

	exceptions := r.exceptionSet()
	var out []Instance
	emitted := 0
	for steps := 0; ; steps++ {
		if steps >= maxExpandSteps {
			return out, fmt.Errorf("%w: monthly rule after %d steps", ErrExpansionCapped, steps)
		}
		if emitted >= capN {
			break
		}

		// Step months ordinally; AddDate would normalize a day-31 anchor
		// into the next month and duplicate or skip candidates.
		months := ay*12 + int(am) - 1 + monthIdx
		y, m := months/12, time.Month(months%12+1)
		first := time.Date(y, m, 1, 0, 0, 0, 0, anchor.Location())
		if first.After(upperDate) {
			break
		}
		if dom <= daysInMonth(y, m) {
			day := time.Date(y, m, dom, 0, 0, 0, 0, anchor.Location())
			if day.After(upperDate) {
				break
			}
			if _, skip := exceptions[DateKey(day)]; !skip {
				start := r.atTimeOfDay(day)
				emitted++
				in := Instance{Start: start, End: start.Add(dur)}
				if overlaps(in, winStart, winEnd) {
					out = append(out, in)
				}
			}
		}

		monthIdx += interval
	}
	return out, nil
}

// matchesDay is the per-kind day predicate, evaluated on a date cursor.
func (r Recurrence) matchesDay(day, anchorDay time.Time) bool {
	wd := day.Weekday()
	switch r.Kind {
	case RepeatDaily:
		return daysBetween(anchorDay, day)%r.interval() == 0
	case RepeatWeekdays:
		if wd == time.Saturday || wd == time.Sunday {
			return false
		}
		return daysBetween(anchorDay, day)%r.interval() == 0
	case RepeatWeekends:
		if wd != time.Saturday && wd != time.Sunday {
			return false
		}
		return daysBetween(anchorDay, day)%r.interval() == 0
	case RepeatCustom:
		if !r.Days.Has(wd) {
			return false
		}
		return true
	case RepeatWeekly, RepeatBiweekly:
		days := r.Days
		if days.Empty() {
			days = DaysOf(anchorDay.Weekday())
		}
		if !days.Has(wd) {
			return false
		}
		return weeksBetween(anchorDay, day)%r.interval() == 0
	default:
		return false
	}
}

func isDailyFamily(k RepeatKind) bool {
	switch k {
	case RepeatDaily, RepeatWeekdays, RepeatWeekends, RepeatCustom:
		return true
	}
	return false
}

// weeksBetween counts whole week buckets between the anchor's week and the
// cursor's week, with weeks starting on Sunday (weekday 0).
func weeksBetween(anchorDay, day time.Time) int {
	aw := anchorDay.AddDate(0, 0, -int(anchorDay.Weekday()))
	dw := day.AddDate(0, 0, -int(day.Weekday()))
	return daysBetween(aw, dw) / 7
}

func monthsBetween(a, b time.Time) int {
	ay, am, _ := a.Date()
	by, bm, _ := b.Date()
	return (by*12 + int(bm)) - (ay*12 + int(am))
}

func daysInMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// overlaps keeps instances intersecting the half-open query semantics:
// an instance ending exactly at windowStart is already over, an instance
// starting exactly at windowEnd has just begun.
func overlaps(in Instance, winStart, winEnd time.Time) bool {
	return in.End.After(winStart) && !in.Start.After(winEnd)
}
