package schedule

import "time"

// monthDaySchedule fires on a fixed day of every month. Months shorter than
// day fire on their last day instead of being skipped.
type monthDaySchedule struct {
	day, hour, minute int
}

func (s *monthDaySchedule) Next(t time.Time) time.Time {
	loc := t.Location()
	y, m, _ := t.Date()
	for i := 0; i < 14; i++ {
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, loc)
		d := s.day
		if last := daysIn(first); d > last {
			d = last
		}
		c := time.Date(first.Year(), first.Month(), d, s.hour, s.minute, 0, 0, loc)
		if c.After(t) {
			return c
		}
	}
	return time.Time{}
}

// monthWeekdaySchedule fires on the nth (or last) given weekday of every month.
type monthWeekdaySchedule struct {
	ordinal      int
	weekday      time.Weekday
	hour, minute int
}

func (s *monthWeekdaySchedule) Next(t time.Time) time.Time {
	loc := t.Location()
	y, m, _ := t.Date()
	for i := 0; i < 14; i++ {
		first := time.Date(y, m+time.Month(i), 1, 0, 0, 0, 0, loc)
		d := s.dayIn(first)
		c := time.Date(first.Year(), first.Month(), d, s.hour, s.minute, 0, 0, loc)
		if c.After(t) {
			return c
		}
	}
	return time.Time{}
}

func (s *monthWeekdaySchedule) dayIn(first time.Time) int {
	if s.ordinal == OrdinalLast {
		last := daysIn(first)
		lw := time.Date(first.Year(), first.Month(), last, 0, 0, 0, 0, first.Location()).Weekday()
		back := (int(lw) - int(s.weekday) + 7) % 7
		return last - back
	}
	offset := (int(s.weekday) - int(first.Weekday()) + 7) % 7
	return 1 + offset + 7*(s.ordinal-1)
}

func daysIn(first time.Time) int {
	return time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, first.Location()).Day()
}
