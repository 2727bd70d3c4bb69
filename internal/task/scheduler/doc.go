// Package scheduler arms the start, end and recurrence timers of delivery
// events.
//
// The scheduler only triggers; callbacks are enqueued on the task engine so
// they never run on a timer goroutine. Each (id, timer kind) pair carries a
// version counter, and a callback whose version no longer matches is ignored.
// That is how cancellation reaches callbacks that already fired or queued.
package scheduler
