package repositories

import "errors"

var (
	// ErrCounterInvalidInput is returned for an empty counter id or a non-positive step.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted is returned when an increment would pass the counter's maxValue.
	ErrCounterExhausted = errors.New("counter: exhausted")
)
