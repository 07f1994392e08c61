package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultSlotMinutes is the grid step and the duration used when no
// service is given.
const DefaultSlotMinutes = 30

type shift struct{ start, end ClockTime }

// SlotTemplate is the clinic day: a morning and an evening shift.
var SlotTemplate = []shift{
	{start: 9 * 60, end: 12 * 60},
	{start: 14 * 60, end: 19 * 60},
}

// SlotSource provides the doctor data the resolver needs.
type SlotSource interface {
	RulesForDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error)
	BookedIntervals(ctx context.Context, doctorID uuid.UUID, date string) ([]Interval, error)
}

type Resolver struct {
	source SlotSource
	now    func() time.Time
	loc    *time.Location
}

func NewResolver(source SlotSource, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{source: source, now: time.Now, loc: loc}
}

// Slots returns the candidate slots for a doctor on date in start order.
// Slots that overlap an active booking, or start in the past, are returned
// with Available=false.
func (r *Resolver) Slots(ctx context.Context, doctorID uuid.UUID, date string, durationMinutes int) ([]Slot, error) {
	day, err := time.ParseInLocation(DateLayout, date, r.loc)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if durationMinutes <= 0 {
		durationMinutes = DefaultSlotMinutes
	}

	rules, err := r.source.RulesForDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load availability rules: %w", err)
	}
	booked, err := r.source.BookedIntervals(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("load bookings: %w", err)
	}

	now := r.now().In(r.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc)
	nowMinute := ClockTime(now.Hour()*60 + now.Minute())

	slots := []Slot{}
	for _, start := range candidateStarts(durationMinutes) {
		end, rolled := EndTime(start, durationMinutes)
		if rolled {
			continue
		}
		if !withinRules(rules, day.Weekday(), start, end) {
			continue
		}
		slot := Slot{StartTime: start, EndTime: end, Available: true}
		switch {
		case day.Before(today):
			slot.Available = false
		case day.Equal(today) && start <= nowMinute:
			slot.Available = false
		}
		iv := Interval{Start: start, End: end}
		for _, b := range booked {
			if iv.Overlaps(b) {
				slot.Available = false
				break
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// Offers reports whether [start, end) on day is a slot the doctor works:
// it must begin on the template grid and fit one of the weekday rules.
// Existing bookings are not consulted.
func (r *Resolver) Offers(ctx context.Context, doctorID uuid.UUID, day time.Time, start, end ClockTime) (bool, error) {
	if end <= start {
		return false, nil
	}
	onGrid := false
	for _, s := range candidateStarts(int(end - start)) {
		if s == start {
			onGrid = true
			break
		}
	}
	if !onGrid {
		return false, nil
	}
	rules, err := r.source.RulesForDoctor(ctx, doctorID)
	if err != nil {
		return false, fmt.Errorf("load availability rules: %w", err)
	}
	return withinRules(rules, day.Weekday(), start, end), nil
}

// candidateStarts walks the template grid keeping starts whose full
// duration fits inside the shift.
func candidateStarts(durationMinutes int) []ClockTime {
	var out []ClockTime
	for _, sh := range SlotTemplate {
		for s := sh.start; int(s)+durationMinutes <= int(sh.end); s += DefaultSlotMinutes {
			out = append(out, s)
		}
	}
	return out
}

// withinRules reports whether [start, end) fits in a rule for weekday. A
// doctor with no rules at all works the plain template.
func withinRules(rules []AvailabilityRule, weekday time.Weekday, start, end ClockTime) bool {
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if r.DayOfWeek == weekday && r.StartTime <= start && end <= r.EndTime {
			return true
		}
	}
	return false
}
