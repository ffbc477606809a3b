// Package period computes billing period boundaries. All arithmetic is done
// in UTC with millisecond-exclusive period ends, so consecutive periods are
// contiguous: a period's End is exactly one millisecond before the next Start.
package period

import "time"

// Resolution is the gap between a period's End and the following Start.
const Resolution = time.Millisecond

// Period is one billing period. End is inclusive; NextBillingAt is End plus
// one millisecond, the midnight the next charge is due.
type Period struct {
	Start         time.Time
	End           time.Time
	NextBillingAt time.Time
}

// Next returns the period following one that ended at prevEnd.
func Next(prevEnd time.Time) Period {
	return StartingAt(prevEnd.Add(Resolution))
}

// StartingAt builds a period beginning on the calendar day of anchor.
// The next billing date keeps the day-of-month, clamped to the last day of
// the following month (Jan 31 -> Feb 28/29).
func StartingAt(anchor time.Time) Period {
	start := StartOfDay(anchor)
	next := AddMonthsClamped(start, 1)
	return Period{
		Start:         start,
		End:           next.Add(-Resolution),
		NextBillingAt: next,
	}
}

// AddMonthsClamped adds n calendar months to t, keeping the time of day and
// clamping the day to the target month's length. time.AddDate normalizes
// overflow instead (Jan 31 + 1 month = Mar 3), which is never wanted here.
func AddMonthsClamped(t time.Time, n int) time.Time {
	t = t.UTC()
	year, month, day := t.Date()

	firstOfTarget := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	if last := DaysIn(firstOfTarget.Year(), firstOfTarget.Month()); day > last {
		day = last
	}

	hour, min, sec := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day, hour, min, sec, t.Nanosecond(), time.UTC)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// StartOfDay returns UTC midnight of t's calendar day.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last millisecond of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-Resolution)
}

// EndOfPreviousDay returns the last millisecond of the day before t.
func EndOfPreviousDay(t time.Time) time.Time {
	return StartOfDay(t).Add(-Resolution)
}

// GraceUntil is the end of the grace window opened by a failure at failedAt.
func GraceUntil(failedAt time.Time, days int) time.Time {
	return EndOfDay(failedAt.UTC().AddDate(0, 0, days))
}
