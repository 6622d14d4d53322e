// Package calendar holds the naive calendar-date rules used for filing milestones.
// All dates are UTC midnight; only day, week and month arithmetic is performed.
package calendar

import "time"

// Date returns y-m-d at UTC midnight.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return Date(t.Year(), t.Month(), t.Day())
}

// AfterDay reports whether a falls on a later calendar day than b.
func AfterDay(a, b time.Time) bool {
	return DayOf(a).After(DayOf(b))
}

// SecondMonday returns the second Monday of the given month.
func SecondMonday(y int, m time.Month) time.Time {
	wd := int(Date(y, m, 1).Weekday())
	firstMonday := 1 + (8-wd)%7
	return Date(y, m, firstMonday+7)
}

// SecondMondayOfMarch is the weekly document-reminder cutover. This is the
// real second Monday; the day-of-month shortcut 9-weekday(Mar 1) lands on the
// first Monday (Mar 4 in 2024) and is not used.
func SecondMondayOfMarch(y int) time.Time {
	return SecondMonday(y, time.March)
}

// AddMonths moves t by n months, clamping the day to the end of the target month
// so Jan 31 + 1 month is the last day of February.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	target := time.Date(y, m+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(target.Year(), target.Month()); d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AddWeeks moves t by n weeks.
func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, 7*n)
}

// MonthDay is a yearless calendar date with an offset relative to a tax year.
type MonthDay struct {
	Month      time.Month
	Day        int
	YearOffset int
}

// In resolves the month/day against taxYear.
func (md MonthDay) In(taxYear int) time.Time {
	return Date(taxYear+md.YearOffset, md.Month, md.Day)
}

func daysIn(y int, m time.Month) int {
	return Date(y, m+1, 0).Day()
}
