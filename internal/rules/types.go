package rules

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RepeatKind selects the recurrence pattern of a rule.
type RepeatKind string

const (
	RepeatNone     RepeatKind = "none"
	RepeatDaily    RepeatKind = "daily"
	RepeatWeekdays RepeatKind = "weekdays"
	RepeatWeekends RepeatKind = "weekends"
	RepeatWeekly   RepeatKind = "weekly"
	RepeatBiweekly RepeatKind = "biweekly"
	RepeatMonthly  RepeatKind = "monthly"
	RepeatCustom   RepeatKind = "custom"
)

// Weekdays is a day-of-week set (bit 0 = Sunday, matching time.Weekday).
type Weekdays uint8

func DaysOf(days ...time.Weekday) Weekdays {
	var w Weekdays
	for _, d := range days {
		w = w.Add(d)
	}
	return w
}

func (w Weekdays) Add(d time.Weekday) Weekdays { return w | 1<<uint(d) }
func (w Weekdays) Has(d time.Weekday) bool     { return w&(1<<uint(d)) != 0 }
func (w Weekdays) Empty() bool                 { return w == 0 }

func (w Weekdays) Days() []time.Weekday {
	var out []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// JSON form is a list of weekday numbers (0=Sunday..6=Saturday) so stored
// rules stay readable in the database and in config fixtures.
func (w Weekdays) MarshalJSON() ([]byte, error) {
	days := w.Days()
	nums := make([]int, 0, len(days))
	for _, d := range days {
		nums = append(nums, int(d))
	}
	return json.Marshal(nums)
}

func (w *Weekdays) UnmarshalJSON(b []byte) error {
	var nums []int
	if err := json.Unmarshal(b, &nums); err != nil {
		return err
	}
	var out Weekdays
	for _, n := range nums {
		if n < 0 || n > 6 {
			return errInvalidWeekday(n)
		}
		out = out.Add(time.Weekday(n))
	}
	*w = out
	return nil
}

// Recurrence describes when a profile's window repeats.
//
// AnchorStart/AnchorEnd are wall-clock values in the profile's local frame
// (stored with the UTC location but never interpreted as UTC): the anchor
// date is the first day the rule may fire, and the times of day bound the
// window. If the end time-of-day is not after the start, the window crosses
// midnight and its duration is end+24h−start.
type Recurrence struct {
	Kind     RepeatKind `json:"kind"`
	Interval int        `json:"interval,omitempty"`
	Days     Weekdays   `json:"days,omitempty"`

	AnchorStart time.Time `json:"anchor_start"`
	AnchorEnd   time.Time `json:"anchor_end"`

	// Exceptions are local calendar dates ("2006-01-02") on which an
	// otherwise-matching occurrence is skipped.
	Exceptions []string `json:"exceptions,omitempty"`

	// EndDate, when set, is the last local date (inclusive) on which an
	// occurrence may start.
	EndDate *time.Time `json:"end_date,omitempty"`

	// MaxOccurrences, when > 0, caps the total number of occurrences
	// counted from the anchor.
	MaxOccurrences int `json:"max_occurrences,omitempty"`
}

// Payload is the status content a profile drives while active.
type Payload struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji,omitempty"`
}

func (p Payload) IsZero() bool { return p.Text == "" && p.Emoji == "" }

// Profile binds a named recurrence to one subject.
//
// Enabled is writable by the CRUD surface; Active is owned exclusively by
// the reconciliation engine and must never be set from outside.
type Profile struct {
	ID         uuid.UUID  `json:"id"`
	SubjectID  string     `json:"subject_id"`
	Name       string     `json:"name"`
	Recurrence Recurrence `json:"recurrence"`

	Priority int `json:"priority"`

	// OffsetMinutes converts UTC into the profile's local frame:
	// local = utc − offset. Negative offsets are ahead of UTC.
	OffsetMinutes int `json:"offset_minutes"`

	Enabled bool `json:"enabled"`
	Active  bool `json:"active"`

	Payload            Payload `json:"payload"`
	NotifyOnActivate   bool    `json:"notify_on_activate"`
	NotifyOnDeactivate bool    `json:"notify_on_deactivate"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Instance is one concrete occurrence of a rule, in the rule's local wall
// frame. Instances are ephemeral: regenerated per query, never persisted.
type Instance struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls in the half-open interval [Start, End).
func (in Instance) Contains(t time.Time) bool {
	return !t.Before(in.Start) && t.Before(in.End)
}

// StatusState is the externally visible live status of one subject.
type StatusState struct {
	SubjectID string  `json:"subject_id"`
	Payload   Payload `json:"payload"`

	// OwnerProfileID is set while a schedule profile drives the status.
	OwnerProfileID *uuid.UUID `json:"owner_profile_id,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Manual marks a status written outside the engine. The next tick may
	// reclaim it (a rule's window is open) or leave it until expiry.
	Manual bool `json:"manual"`

	UpdatedAt time.Time `json:"updated_at"`
}

// OwnedBy reports whether the status is currently driven by the given profile.
func (s StatusState) OwnedBy(id uuid.UUID) bool {
	return s.OwnerProfileID != nil && *s.OwnerProfileID == id
}

const dateLayout = "2006-01-02"

// DateKey formats a wall-clock instant as its local calendar date.
// Exception comparisons use this key only, never the time of day.
func DateKey(t time.Time) string { return t.Format(dateLayout) }

func (r Recurrence) exceptionSet() map[string]struct{} {
	if len(r.Exceptions) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(r.Exceptions))
	for _, d := range r.Exceptions {
		m[d] = struct{}{}
	}
	return m
}

// interval returns the effective repeat interval, never below 1.
// Biweekly is a fixed two-week cadence regardless of the Interval field.
func (r Recurrence) interval() int {
	if r.Kind == RepeatBiweekly {
		return 2
	}
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// minuteOfDay maps a wall instant to minutes since its local midnight.
func minuteOfDay(t time.Time) int { return t.Hour()*60 + t.Minute() }

// windowDuration is the window length derived from the anchor times of day.
// It is always in (0, 24h]: an end at or before the start wraps midnight.
func (r Recurrence) windowDuration() time.Duration {
	startMin := minuteOfDay(r.AnchorStart)
	endMin := minuteOfDay(r.AnchorEnd)
	d := endMin - startMin
	if d <= 0 {
		d += 24 * 60
	}
	return time.Duration(d) * time.Minute
}

// dateOf truncates a wall instant to its local midnight.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// atTimeOfDay places the anchor's start time of day onto the given date.
func (r Recurrence) atTimeOfDay(date time.Time) time.Time {
	return date.Add(time.Duration(minuteOfDay(r.AnchorStart)) * time.Minute)
}

func daysBetween(a, b time.Time) int {
	return int(dateOf(b).Sub(dateOf(a)) / (24 * time.Hour))
}
