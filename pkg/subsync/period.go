package subsync

import "time"

// NextMonthStart returns the first instant of the calendar month following t,
// in UTC. Day overflow is impossible because the result is always day 1;
// time.Date normalizes month 13 into January of the next year.
func NextMonthStart(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// StartOfMonthUTC returns the first instant of t's calendar month in UTC.
func StartOfMonthUTC(t time.Time) time.Time {
	tt := t.UTC()
	return time.Date(tt.Year(), tt.Month(), 1, 0, 0, 0, 0, time.UTC)
}
