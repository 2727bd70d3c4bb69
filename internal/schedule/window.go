package schedule

import "time"

// Window is a computed [Start, End) pair for one definition.
//
// When End is before Start the window wraps (the next start was computed after
// the current end), and "inside" means now >= Start or now < End.
type Window struct {
	Start time.Time
	End   time.Time
}

// Wraps reports whether End precedes Start.
func (w Window) Wraps() bool { return w.End.Before(w.Start) }

// Contains reports whether now falls inside the window.
func (w Window) Contains(now time.Time) bool {
	if w.Start.IsZero() || w.End.IsZero() {
		return false
	}
	if w.Wraps() {
		return !now.Before(w.Start) || now.Before(w.End)
	}
	return !now.Before(w.Start) && now.Before(w.End)
}

// Current returns the window that contains now, if any: the latest start at
// or before now paired with the first end after that start.
func Current(start, end Expr, loc *time.Location, now time.Time) (Window, bool) {
	prev, ok := start.Previous(now, loc)
	if !ok {
		return Window{}, false
	}
	w := Window{Start: prev, End: end.Next(prev, loc)}
	if w.End.IsZero() || !now.Before(w.End) {
		return Window{}, false
	}
	return w, true
}

// Upcoming returns the next window that starts strictly after now.
func Upcoming(start, end Expr, loc *time.Location, now time.Time) (Window, bool) {
	s := start.Next(now, loc)
	if s.IsZero() {
		return Window{}, false
	}
	e := end.Next(s, loc)
	if e.IsZero() {
		return Window{}, false
	}
	return Window{Start: s, End: e}, true
}
