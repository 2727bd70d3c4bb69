package engine

import "errors"

var (
	ErrStopped     = errors.New("task engine stopped")
	ErrQueueFull   = errors.New("task engine queue full")
	ErrOverlapSkip = errors.New("task skipped: previous run still active")
	ErrInvalidTask = errors.New("invalid task")
)

// Permanent wraps a task error the engine must not retry.
type Permanent struct{ Err error }

func (p *Permanent) Error() string { return "permanent: " + p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// NoRetry marks err as permanent. A nil err stays nil.
//
//	return engine.NoRetry(fmt.Errorf("unknown delivery %q", id))
func NoRetry(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// IsNoRetry reports whether err carries a Permanent marker.
func IsNoRetry(err error) bool {
	var p *Permanent
	return errors.As(err, &p)
}

// unwrapPermanent strips the marker so history records the original cause.
func unwrapPermanent(err error) (error, bool) {
	var p *Permanent
	if errors.As(err, &p) {
		return p.Err, true
	}
	return err, false
}
