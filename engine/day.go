package engine

import "time"

// =============================================================================
// DAY - Calendar-day time primitive (all allocation is day-grained)
// =============================================================================

// Day is a calendar date at UTC midnight. Construction always normalizes,
// so Day values are comparable and usable as map keys.
type Day struct {
	t time.Time
}

const dayLayout = "2006-01-02"

func NewDay(year int, month time.Month, day int) Day {
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DayOf truncates an instant to its calendar date.
func DayOf(t time.Time) Day {
	return NewDay(t.Year(), t.Month(), t.Day())
}

func Today() Day {
	return DayOf(time.Now().UTC())
}

// ParseDay parses a "YYYY-MM-DD" date string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, err
	}
	return DayOf(t), nil
}

// Comparison
func (d Day) Before(other Day) bool        { return d.t.Before(other.t) }
func (d Day) After(other Day) bool         { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool         { return d.t.Equal(other.t) }
func (d Day) BeforeOrEqual(other Day) bool { return !d.t.After(other.t) }
func (d Day) AfterOrEqual(other Day) bool  { return !d.t.Before(other.t) }

// Arithmetic
func (d Day) AddDays(n int) Day { return Day{t: d.t.AddDate(0, 0, n)} }

func (d Day) Time() time.Time { return d.t }
func (d Day) IsZero() bool    { return d.t.IsZero() }
func (d Day) String() string  { return d.t.Format(dayLayout) }

// DaysBetween returns the whole-day distance from one date to another.
func DaysBetween(from, to Day) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// =============================================================================
// DAY RANGE - Inclusive date interval for batch recomputes
// =============================================================================

// DayRange is an inclusive [From, To] interval of calendar days.
type DayRange struct {
	From Day
	To   Day
}

// NewDayRange builds a range; callers must still Validate before computing.
func NewDayRange(from, to Day) DayRange {
	return DayRange{From: from, To: to}
}

// TrailingRange is the window of n days ending at (and including) end.
func TrailingRange(end Day, n int) DayRange {
	if n < 1 {
		n = 1
	}
	return DayRange{From: end.AddDays(-(n - 1)), To: end}
}

// Validate fails fast on malformed ranges before any computation starts.
func (r DayRange) Validate() error {
	if r.From.IsZero() || r.To.IsZero() {
		return ErrInvalidRange
	}
	if r.To.Before(r.From) {
		return ErrInvalidRange
	}
	return nil
}

// Contains returns true if the day is within [From, To].
func (r DayRange) Contains(d Day) bool {
	return d.AfterOrEqual(r.From) && d.BeforeOrEqual(r.To)
}

// Days returns every day in the range in ascending order.
func (r DayRange) Days() []Day {
	var days []Day
	for cur := r.From; cur.BeforeOrEqual(r.To); cur = cur.AddDays(1) {
		days = append(days, cur)
	}
	return days
}

// Len is the number of days in the range.
func (r DayRange) Len() int {
	if r.Validate() != nil {
		return 0
	}
	return DaysBetween(r.From, r.To) + 1
}

func (r DayRange) String() string {
	return "[" + r.From.String() + ", " + r.To.String() + "]"
}
