package rules

import "time"

// LocalTime converts a UTC instant into a profile's fixed-offset local wall
// clock. Convention: local = utc − offset minutes, so a negative offset is
// ahead of UTC. The result keeps the UTC location but must be read as wall
// time in the profile's frame.
func LocalTime(nowUTC time.Time, offsetMinutes int) time.Time {
	return nowUTC.UTC().Add(-time.Duration(offsetMinutes) * time.Minute)
}

// UTCTime reverses LocalTime.
func UTCTime(local time.Time, offsetMinutes int) time.Time {
	return local.Add(time.Duration(offsetMinutes) * time.Minute)
}

// CurrentInstance returns the rule instance containing localNow, if any.
// It reuses Expand with a degenerate single-instant window, so day
// predicates, exceptions, end date and occurrence caps all apply.
func CurrentInstance(r Recurrence, localNow time.Time) (Instance, bool) {
	instances, err := Expand(r, localNow, localNow)
	if err != nil {
		// A capped expansion may still have found the containing instance.
		if len(instances) == 0 {
			return Instance{}, false
		}
	}
	for _, in := range instances {
		if in.Contains(localNow) {
			return in, true
		}
	}
	return Instance{}, false
}

// WithinWindow reports whether the rule's window contains nowUTC in the
// given fixed-offset local frame. The window is half-open [start, end):
// adjacent windows never double-claim the boundary minute.
func WithinWindow(r Recurrence, offsetMinutes int, nowUTC time.Time) bool {
	_, ok := CurrentInstance(r, LocalTime(nowUTC, offsetMinutes))
	return ok
}

// WithinWindow reports whether the profile's window contains nowUTC.
func (p Profile) WithinWindow(nowUTC time.Time) bool {
	return WithinWindow(p.Recurrence, p.OffsetMinutes, nowUTC)
}

// WindowEndUTC computes when the window containing nowUTC closes, as a UTC
// instant. When the local end-of-day has already passed (a cross-midnight
// window observed before midnight), the end rolls to the next calendar day.
// The returned instant is exclusive, matching [start, end).
func (p Profile) WindowEndUTC(nowUTC time.Time) time.Time {
	local := LocalTime(nowUTC, p.OffsetMinutes)
	if in, ok := CurrentInstance(p.Recurrence, local); ok {
		return UTCTime(in.End, p.OffsetMinutes)
	}
	// Fallback for an out-of-band activation: today's end time of day,
	// rolled forward if already behind us.
	end := dateOf(local).Add(time.Duration(minuteOfDay(p.Recurrence.AnchorEnd)) * time.Minute)
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return UTCTime(end, p.OffsetMinutes)
}

// StartMinute is the window's local start expressed as minutes after
// midnight. The reconciler uses it to break priority ties deterministically.
func (p Profile) StartMinute() int { return minuteOfDay(p.Recurrence.AnchorStart) }
