// Package schedule models the temporal footprint of a task and detects
// overlaps between footprints. A footprint is either a bounded date-time
// range or a daily-recurring time-of-day window.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrIncompleteInterval is returned when a footprint is missing temporal
// fields. Missing fields must fail fast rather than degrade into a
// zero-length interval that never conflicts with anything.
var ErrIncompleteInterval = errors.New("incomplete interval")

// ErrInvertedInterval is returned when an interval's start does not
// strictly precede its end.
var ErrInvertedInterval = errors.New("interval start must precede end")

const (
	// DateLayout is the wire format for calendar dates.
	DateLayout = "2006-01-02"
	// TimeLayout is the wire format for wall-clock times.
	TimeLayout = "15:04"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM" string into a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return 0, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

// String renders the TimeOfDay back in "HH:MM" form.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Kind discriminates the two interval representations.
type Kind int

const (
	// Bounded is an absolute start/end date-time range, non-repeating.
	Bounded Kind = iota
	// DailyRecurring is a time-of-day window repeating every calendar day,
	// unbounded in date range.
	DailyRecurring
)

// Interval is a task's temporal footprint: a tagged variant over the two
// representations. Construct values through NewBounded or NewDailyRecurring
// so the start-before-end invariant always holds.
type Interval struct {
	Kind Kind

	// Bounded only. End is exclusive.
	Start time.Time
	End   time.Time

	// DailyRecurring only. DayEnd is exclusive. No wraparound across
	// midnight is supported.
	DayStart TimeOfDay
	DayEnd   TimeOfDay
}

// NewBounded returns a Bounded interval covering [start, end).
func NewBounded(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: %s >= %s", ErrInvertedInterval, start, end)
	}
	return Interval{Kind: Bounded, Start: start, End: end}, nil
}

// NewDailyRecurring returns a DailyRecurring interval covering the daily
// window [start, end).
func NewDailyRecurring(start, end TimeOfDay) (Interval, error) {
	if start >= end {
		return Interval{}, fmt.Errorf("%w: %s >= %s", ErrInvertedInterval, start, end)
	}
	return Interval{Kind: DailyRecurring, DayStart: start, DayEnd: end}, nil
}

// clockWindow reduces an interval to its time-of-day window. For Bounded
// intervals this drops the calendar date.
func (iv Interval) clockWindow() (TimeOfDay, TimeOfDay) {
	if iv.Kind == DailyRecurring {
		return iv.DayStart, iv.DayEnd
	}
	return timeOfDayOf(iv.Start), timeOfDayOf(iv.End)
}

func timeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// Overlaps reports whether two intervals overlap, using the half-open rule
// on both representations.
//
// Bounded x Bounded compares absolute date-times. Every other combination
// compares time-of-day windows only: a DailyRecurring interval is active
// every day, so a Bounded interval's calendar date can never fall outside
// the recurrence and the date check is dropped on purpose.
func Overlaps(a, b Interval) bool {
	if a.Kind == Bounded && b.Kind == Bounded {
		return a.Start.Before(b.End) && b.Start.Before(a.End)
	}
	aStart, aEnd := a.clockWindow()
	bStart, bEnd := b.clockWindow()
	return aStart < bEnd && bStart < aEnd
}

// Slot is the raw temporal footprint of a task as it travels over the wire
// and sits in storage: date and time strings that may be partially filled
// while a dialog is still gathering information.
type Slot struct {
	StartDate string
	StartTime string
	EndDate   string
	EndTime   string
	Daily     bool
}

// Schedulable reports whether all four temporal fields are present, i.e.
// the slot carries enough information to be placed on a calendar.
func (s Slot) Schedulable() bool {
	return s.StartDate != "" && s.StartTime != "" && s.EndDate != "" && s.EndTime != ""
}

// Interval parses the slot into its canonical Interval in the given
// location. Daily slots need both times; bounded slots need all four
// fields. Missing fields yield ErrIncompleteInterval.
func (s Slot) Interval(loc *time.Location) (Interval, error) {
	if s.Daily {
		if s.StartTime == "" || s.EndTime == "" {
			return Interval{}, fmt.Errorf("%w: daily slot needs start and end times", ErrIncompleteInterval)
		}
		start, err := ParseTimeOfDay(s.StartTime)
		if err != nil {
			return Interval{}, err
		}
		end, err := ParseTimeOfDay(s.EndTime)
		if err != nil {
			return Interval{}, err
		}
		return NewDailyRecurring(start, end)
	}

	if !s.Schedulable() {
		return Interval{}, fmt.Errorf("%w: bounded slot needs start and end date-times", ErrIncompleteInterval)
	}
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, s.StartDate+" "+s.StartTime, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("parsing slot start: %w", err)
	}
	end, err := time.ParseInLocation(DateLayout+" "+TimeLayout, s.EndDate+" "+s.EndTime, loc)
	if err != nil {
		return Interval{}, fmt.Errorf("parsing slot end: %w", err)
	}
	return NewBounded(start, end)
}
