package errors

import (
	"fmt"
	"strings"
)

// ItemFailure records one failed item within a batch operation.
type ItemFailure struct {
	// Item identifies the failed item: an extractor name, a relation ID,
	// or whatever the batch operates over.
	Item string
	// Err is the underlying failure.
	Err error
}

// PartialFailure aggregates per-item failures from a batch operation
// (extraction runs, batch relation mapping). Callers receive counts plus
// itemized sub-errors instead of a bare failure, so partial results stay
// usable.
type PartialFailure struct {
	// Operation names the batch operation that partially failed.
	Operation string
	// Succeeded is the number of items that completed.
	Succeeded int
	// Failures holds one entry per failed item.
	Failures []ItemFailure
}

// NewPartialFailure creates a PartialFailure for the named operation.
func NewPartialFailure(operation string, succeeded int, failures []ItemFailure) *PartialFailure {
	return &PartialFailure{
		Operation: operation,
		Succeeded: succeeded,
		Failures:  failures,
	}
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d succeeded, %d failed", p.Operation, p.Succeeded, len(p.Failures))
	for _, f := range p.Failures {
		fmt.Fprintf(&sb, "; %s: %v", f.Item, f.Err)
	}
	return sb.String()
}

// FailedCount returns the number of failed items.
func (p *PartialFailure) FailedCount() int {
	return len(p.Failures)
}

// IsPartialFailure checks whether err is or wraps a *PartialFailure and
// returns it if so.
func IsPartialFailure(err error) (*PartialFailure, bool) {
	if err == nil {
		return nil, false
	}
	var pf *PartialFailure
	if As(err, &pf) {
		return pf, true
	}
	return nil, false
}
