package rules

import (
	"errors"
	"testing"
	"time"
)

// Jan 1 2024 is a Monday; most fixtures anchor there.
func anchorAt(hh, mm, endHH, endMM int) (time.Time, time.Time) {
	start := time.Date(2024, 1, 1, hh, mm, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, endHH, endMM, 0, 0, time.UTC)
	return start, end
}

func dailyRule(t *testing.T) Recurrence {
	t.Helper()
	start, end := anchorAt(9, 0, 9, 30)
	return Recurrence{Kind: RepeatDaily, Interval: 1, AnchorStart: start, AnchorEnd: end}
}

func TestExpandDaily(t *testing.T) {
	t.Parallel()
	r := dailyRule(t)

	winStart := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	winEnd := time.Date(2024, 1, 13, 23, 0, 0, 0, time.UTC)
	got, err := Expand(r, winStart, winEnd)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(got))
	}
	first := got[0]
	if !first.Start.Equal(time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first start: %v", first.Start)
	}
	if !first.End.Equal(time.Date(2024, 1, 10, 9, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first end: %v", first.End)
	}
	for i := 1; i < len(got); i++ {
		if !got[i-1].Start.Before(got[i].Start) {
			t.Fatalf("instances not ordered at %d", i)
		}
	}
}

func TestExpandDeterministic(t *testing.T) {
	t.Parallel()
	r := dailyRule(t)
	winStart := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	winEnd := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)

	a, err := Expand(r, winStart, winEnd)
	if err != nil {
		t.Fatalf("first Expand error: %v", err)
	}
	b, err := Expand(r, winStart, winEnd)
	if err != nil {
		t.Fatalf("second Expand error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].Start.Equal(b[i].Start) || !a[i].End.Equal(b[i].End) {
			t.Fatalf("instance %d differs between runs", i)
		}
	}
}

func TestExpandMaxOccurrences(t *testing.T) {
	t.Parallel()
	r := dailyRule(t)
	r.MaxOccurrences = 5

	winEnd := r.AnchorStart.AddDate(1, 0, 0)
	got, err := Expand(r, r.AnchorStart, winEnd)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected exactly 5 instances over a 1-year window, got %d", len(got))
	}
	last := got[len(got)-1]
	if !last.Start.Equal(time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected last occurrence: %v", last.Start)
	}
}

func TestExpandWeeklyExceptionSkipsOneCycle(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(9, 0, 10, 0)
	r := Recurrence{
		Kind:        RepeatWeekly,
		Interval:    1,
		AnchorStart: start,
		AnchorEnd:   end,
		Exceptions:  []string{"2024-01-08"},
	}

	got, err := Expand(r, start, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 29, 9, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d instances, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Start.Equal(want[i]) {
			t.Fatalf("instance %d = %v, want %v", i, got[i].Start, want[i])
		}
	}
}

func TestExpandBiweeklyPhase(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(9, 0, 10, 0)
	r := Recurrence{Kind: RepeatBiweekly, AnchorStart: start, AnchorEnd: end}

	got, err := Expand(r, start, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 29, 9, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d instances, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if !got[i].Start.Equal(want[i]) {
			t.Fatalf("instance %d = %v, want %v", i, got[i].Start, want[i])
		}
	}
}

func TestExpandMonthlySkipsShortMonths(t *testing.T) {
	t.Parallel()
	r := Recurrence{
		Kind:        RepeatMonthly,
		Interval:    1,
		AnchorStart: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC),
		AnchorEnd:   time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC),
	}

	got, err := Expand(r, r.AnchorStart, time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	// Only the seven 31-day months of 2024, each exactly once.
	wantMonths := []time.Month{
		time.January, time.March, time.May, time.July,
		time.August, time.October, time.December,
	}
	if len(got) != len(wantMonths) {
		t.Fatalf("expected %d instances, got %d: %+v", len(wantMonths), len(got), got)
	}
	for i, in := range got {
		want := time.Date(2024, wantMonths[i], 31, 9, 0, 0, 0, time.UTC)
		if !in.Start.Equal(want) {
			t.Fatalf("instance %d = %v, want %v", i, in.Start, want)
		}
	}
}

func TestExpandWeekdayKinds(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(9, 0, 17, 0)

	tests := []struct {
		name string
		kind RepeatKind
		days Weekdays
		want int // instances in Jan 1..Jan 14 2024 (two full weeks)
	}{
		{name: "weekdays", kind: RepeatWeekdays, want: 10},
		{name: "weekends", kind: RepeatWeekends, want: 4},
		{name: "custom mon+wed", kind: RepeatCustom, days: DaysOf(time.Monday, time.Wednesday), want: 4},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Recurrence{Kind: tt.kind, Interval: 1, Days: tt.days, AnchorStart: start, AnchorEnd: end}
			got, err := Expand(r, start, time.Date(2024, 1, 14, 23, 0, 0, 0, time.UTC))
			if err != nil {
				t.Fatalf("Expand error: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d instances, got %d", tt.want, len(got))
			}
		})
	}
}

func TestExpandCrossMidnightOverlapsWindowStart(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	r := Recurrence{Kind: RepeatDaily, Interval: 1, AnchorStart: start, AnchorEnd: end}

	// Query opens at 02:00; the instance that began yesterday must appear.
	winStart := time.Date(2024, 1, 11, 2, 0, 0, 0, time.UTC)
	got, err := Expand(r, winStart, winStart)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(got))
	}
	if !got[0].Start.Equal(time.Date(2024, 1, 10, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start: %v", got[0].Start)
	}
	if !got[0].End.Equal(time.Date(2024, 1, 11, 6, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end: %v", got[0].End)
	}
}

func TestExpandEndDateBound(t *testing.T) {
	t.Parallel()
	r := dailyRule(t)
	endDate := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	r.EndDate = &endDate

	got, err := Expand(r, r.AnchorStart, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	// Jan 1 through Jan 10 inclusive.
	if len(got) != 10 {
		t.Fatalf("expected 10 instances, got %d", len(got))
	}
}

func TestExpandNone(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(14, 0, 15, 0)
	r := Recurrence{Kind: RepeatNone, AnchorStart: start, AnchorEnd: end}

	got, err := Expand(r, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected single instance, got %d", len(got))
	}

	// Outside the window: nothing.
	got, err = Expand(r, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no instance outside window, got %d", len(got))
	}
}

func TestExpandWindowTooLarge(t *testing.T) {
	t.Parallel()
	r := dailyRule(t)
	_, err := Expand(r, r.AnchorStart, r.AnchorStart.AddDate(50, 0, 0))
	if !errors.Is(err, ErrWindowTooLarge) {
		t.Fatalf("expected ErrWindowTooLarge, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(9, 0, 17, 0)

	tests := []struct {
		name string
		mut  func(*Recurrence)
	}{
		{name: "unknown kind", mut: func(r *Recurrence) { r.Kind = "hourly" }},
		{name: "negative interval", mut: func(r *Recurrence) { r.Interval = -1 }},
		{name: "start equals end", mut: func(r *Recurrence) { r.AnchorEnd = r.AnchorStart }},
		{name: "custom without days", mut: func(r *Recurrence) { r.Kind = RepeatCustom; r.Days = 0 }},
		{name: "negative max occurrences", mut: func(r *Recurrence) { r.MaxOccurrences = -1 }},
		{name: "bad exception date", mut: func(r *Recurrence) { r.Exceptions = []string{"01/02/2024"} }},
		{name: "end date before anchor", mut: func(r *Recurrence) {
			d := r.AnchorStart.AddDate(0, 0, -7)
			r.EndDate = &d
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Recurrence{Kind: RepeatDaily, Interval: 1, AnchorStart: start, AnchorEnd: end}
			tt.mut(&r)
			if err := r.Validate(); !errors.Is(err, ErrMalformedRule) {
				t.Fatalf("expected ErrMalformedRule, got %v", err)
			}
			if _, err := Expand(r, start, end); !errors.Is(err, ErrMalformedRule) {
				t.Fatalf("Expand should reject malformed rule, got %v", err)
			}
		})
	}
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()
	start, end := anchorAt(9, 0, 17, 0)
	p := Profile{
		SubjectID:  "alice",
		Recurrence: Recurrence{Kind: RepeatDaily, Interval: 1, AnchorStart: start, AnchorEnd: end},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	p.SubjectID = "  "
	if err := p.Validate(); !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected subject rejection, got %v", err)
	}

	p.SubjectID = "alice"
	p.OffsetMinutes = 15 * 60
	if err := p.Validate(); !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected offset rejection, got %v", err)
	}
}
