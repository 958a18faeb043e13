package shared

import "time"

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DayWindowEnd returns the exclusive upper bound of the calendar day that lies
// days after t. DayWindowEnd(t, 0) is the next midnight.
func DayWindowEnd(t time.Time, days int, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, days+1)
}

// PeriodStart returns the first instant of month/year in loc.
func PeriodStart(month, year int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
}

// ClampedDate builds year/month/day, moving day back to the last day of the
// month when it overflows (billing day 31 in February).
func ClampedDate(year, month, day int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	if day < 1 {
		day = 1
	}
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
}

// WholeDaysBetween floors (to - from) to whole days.
func WholeDaysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
