package catalog

import (
	"fmt"
	"sort"
)

type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityError:
		return 1
	default:
		return 0
	}
}

// ValidationError is one finding against a catalog file.
type ValidationError struct {
	Source   string   `json:"source"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Source, e.Message)
	}
	return fmt.Sprintf("[%s] %s %s: %s", e.Severity, e.Source, e.Path, e.Message)
}

// HasCritical reports whether any finding blocks a reload.
func HasCritical(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Count returns how many findings have severity s.
func Count(errs []ValidationError, s Severity) int {
	n := 0
	for _, e := range errs {
		if e.Severity == s {
			n++
		}
	}
	return n
}

// sortFindings orders by severity (worst first), then source and path.
func sortFindings(errs []ValidationError) {
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := errs[i], errs[j]
		if a.Severity.rank() != b.Severity.rank() {
			return a.Severity.rank() > b.Severity.rank()
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Path < b.Path
	})
}
