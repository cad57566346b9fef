package policy

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra payload.
var (
	// ErrNotReady is returned when a suggestion or reroll query arrives
	// before any policy has been computed.
	ErrNotReady = errors.New("no policy computed yet")
	// ErrCancelled is returned when a compute observes context cancellation.
	// No cache entry is left behind.
	ErrCancelled = errors.New("compute cancelled")
)

// InvalidInputError names the offending request field. The cache is never
// mutated on invalid input.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// UnreachableTargetError reports that the lambda search could not bracket a
// root: no policy attains the target with finite expected cost.
type UnreachableTargetError struct {
	Target   float64
	MaxScore float64
}

func (e *UnreachableTargetError) Error() string {
	return fmt.Sprintf("target score %.4f is unreachable (max attainable %.4f)", e.Target, e.MaxScore)
}

// NumericError reports a NaN or non-finite value inside the value function.
// It indicates a catalogue or weight bug and fails the request.
type NumericError struct {
	Op    string
	Value float64
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("non-finite value in %s: %v", e.Op, e.Value)
}
