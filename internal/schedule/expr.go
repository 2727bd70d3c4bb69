package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/cases"
)

// Kind is the normalized shape of an expression.
type Kind int

const (
	KindDaily Kind = iota
	KindWeekly
	KindMonthDay
	KindMonthWeekday
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindWeekly:
		return "weekly"
	case KindMonthDay:
		return "month-day"
	case KindMonthWeekday:
		return "month-weekday"
	default:
		return "unknown"
	}
}

// OrdinalLast selects the last matching weekday of a month.
const OrdinalLast = -1

// maxIterations bounds occurrence walks.
const maxIterations = 10000

// Expr is a parsed schedule expression.
type Expr struct {
	Raw     string
	Kind    Kind
	Hour    int
	Minute  int
	Weekday time.Weekday // KindWeekly, KindMonthWeekday
	Day     int          // KindMonthDay
	Ordinal int          // KindMonthWeekday: 1..4 or OrdinalLast

	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var ordinals = map[string]int{
	"first": 1,
	"1st":   1,
	"2nd":   2,
	"3rd":   3,
	"4th":   4,
	"last":  OrdinalLast,
}

// Normalize folds case and collapses whitespace.
func Normalize(raw string) string {
	return strings.Join(strings.Fields(cases.Fold().String(raw)), " ")
}

// Parse parses an expression. Unmatched or out-of-range input returns ok=false.
func Parse(raw string) (Expr, bool) {
	f := strings.Fields(Normalize(raw))
	if len(f) < 3 || f[0] != "every" {
		return Expr{}, false
	}
	h, m, ok := parseHHMM(f[len(f)-1])
	if !ok {
		return Expr{}, false
	}
	e := Expr{Raw: raw, Hour: h, Minute: m}
	args := f[1 : len(f)-1]

	switch {
	case len(args) == 1 && args[0] == "day":
		e.Kind = KindDaily
	case len(args) == 1:
		wd, ok := weekdays[args[0]]
		if !ok {
			return Expr{}, false
		}
		e.Kind, e.Weekday = KindWeekly, wd
	case len(args) == 2 && args[0] == "week":
		wd, ok := weekdays[args[1]]
		if !ok {
			return Expr{}, false
		}
		e.Kind, e.Weekday = KindWeekly, wd
	case len(args) == 2 && args[0] == "month":
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 || n > 31 {
			return Expr{}, false
		}
		e.Kind, e.Day = KindMonthDay, n
	case len(args) == 3 && args[0] == "month":
		ord, ok := ordinals[args[1]]
		if !ok {
			return Expr{}, false
		}
		wd, ok := weekdays[args[2]]
		if !ok {
			return Expr{}, false
		}
		e.Kind, e.Ordinal, e.Weekday = KindMonthWeekday, ord, wd
	default:
		return Expr{}, false
	}

	sched, err := e.compile()
	if err != nil {
		return Expr{}, false
	}
	e.sched = sched
	return e, true
}

// Valid reports whether raw parses.
func Valid(raw string) bool {
	_, ok := Parse(raw)
	return ok
}

func (e Expr) compile() (cron.Schedule, error) {
	switch e.Kind {
	case KindDaily:
		return cron.ParseStandard(fmt.Sprintf("%d %d * * *", e.Minute, e.Hour))
	case KindWeekly:
		return cron.ParseStandard(fmt.Sprintf("%d %d * * %d", e.Minute, e.Hour, int(e.Weekday)))
	case KindMonthDay:
		return &monthDaySchedule{day: e.Day, hour: e.Hour, minute: e.Minute}, nil
	case KindMonthWeekday:
		return &monthWeekdaySchedule{ordinal: e.Ordinal, weekday: e.Weekday, hour: e.Hour, minute: e.Minute}, nil
	default:
		return nil, fmt.Errorf("unsupported kind %v", e.Kind)
	}
}

// Schedule exposes the compiled cron.Schedule.
func (e Expr) Schedule() cron.Schedule { return e.sched }

// Next returns the first occurrence strictly after now, computed in loc.
func (e Expr) Next(now time.Time, loc *time.Location) time.Time {
	if e.sched == nil {
		return time.Time{}
	}
	if loc == nil {
		loc = time.Local
	}
	return e.sched.Next(now.In(loc))
}

// lookback is how far before now Previous starts walking forward.
func (e Expr) lookback() time.Duration {
	switch e.Kind {
	case KindDaily:
		return 48 * time.Hour
	case KindWeekly:
		return 8 * 24 * time.Hour
	default:
		return 63 * 24 * time.Hour
	}
}

// Previous returns the latest occurrence at or before now.
func (e Expr) Previous(now time.Time, loc *time.Location) (time.Time, bool) {
	if e.sched == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	var last time.Time
	t := e.sched.Next(now.Add(-e.lookback()))
	for i := 0; i < maxIterations && !t.IsZero() && !t.After(now); i++ {
		last = t
		t = e.sched.Next(t)
	}
	return last, !last.IsZero()
}

// Preview returns the next n occurrences after now.
func (e Expr) Preview(now time.Time, loc *time.Location, n int) []time.Time {
	out := make([]time.Time, 0, n)
	t := now
	for i := 0; i < n; i++ {
		t = e.Next(t, loc)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// Next parses raw and returns its next occurrence after now. ok=false on a
// parse failure; callers skip the cycle.
func Next(raw string, loc *time.Location, now time.Time) (time.Time, bool) {
	e, ok := Parse(raw)
	if !ok {
		return time.Time{}, false
	}
	t := e.Next(now, loc)
	return t, !t.IsZero()
}

// Previous parses raw and returns its latest occurrence at or before now.
func Previous(raw string, loc *time.Location, now time.Time) (time.Time, bool) {
	e, ok := Parse(raw)
	if !ok {
		return time.Time{}, false
	}
	return e.Previous(now, loc)
}

// Delay returns the wait until at, truncated to whole seconds.
func Delay(now, at time.Time) time.Duration {
	return at.Sub(now).Truncate(time.Second)
}

func parseHHMM(s string) (hour int, minute int, ok bool) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(s))
	if len(m) != 3 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(m[1])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	mi, err := strconv.Atoi(m[2])
	if err != nil || mi < 0 || mi > 59 {
		return 0, 0, false
	}
	return h, mi, true
}
