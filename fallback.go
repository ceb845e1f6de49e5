package vibesync

import (
	"context"
	"errors"
	"fmt"
)

// Attempt is one candidate operation in an ordered fallback chain.
type Attempt[T any] struct {
	Name string
	Do   func(ctx context.Context) (T, error)
}

// ChainOptions tunes FirstSuccess.
type ChainOptions struct {
	// ShortCircuit stops the chain on an error that no later candidate can fix.
	ShortCircuit func(error) bool
	// OnAttempt observes every candidate outcome; err is nil on success.
	OnAttempt func(index int, name string, err error)
}

// ChainError reports that no candidate succeeded.
type ChainError struct {
	Op       string
	Attempts int
	Aborted  bool
	Last     error
}

func (e *ChainError) Error() string {
	if e.Aborted {
		return fmt.Sprintf("%s: aborted after %d attempt(s): %v", e.Op, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: all %d attempt(s) failed: %v", e.Op, e.Attempts, e.Last)
}

func (e *ChainError) Unwrap() error { return e.Last }

var errNoCandidates = errors.New("no candidates")

// FirstSuccess tries attempts in order and returns the first success along
// with its index. Later candidates are never started once one succeeds.
func FirstSuccess[T any](ctx context.Context, op string, attempts []Attempt[T], opts ChainOptions) (T, int, error) {
	var zero T
	var last error
	for i, a := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, -1, &ChainError{Op: op, Attempts: i, Aborted: true, Last: err}
		}
		res, err := a.Do(ctx)
		if opts.OnAttempt != nil {
			opts.OnAttempt(i, a.Name, err)
		}
		if err == nil {
			return res, i, nil
		}
		last = err
		if opts.ShortCircuit != nil && opts.ShortCircuit(err) {
			return zero, -1, &ChainError{Op: op, Attempts: i + 1, Aborted: true, Last: err}
		}
	}
	if last == nil {
		last = errNoCandidates
	}
	return zero, -1, &ChainError{Op: op, Attempts: len(attempts), Last: last}
}
