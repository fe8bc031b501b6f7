package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfiguration is matched by errors.Is for every *ConfigurationError.
	ErrConfiguration = errors.New("request can never be admitted under rule")

	// ErrCapacityExceeded is matched by errors.Is for every *CapacityExceededError.
	ErrCapacityExceeded = errors.New("rate limit capacity exceeded")

	// ErrProgramming is matched by errors.Is for every *ProgrammingError.
	ErrProgramming = errors.New("reservation misuse")

	// ErrUsageNotRecorded is returned when a reservation scope ends
	// successfully without RecordUsage.
	ErrUsageNotRecorded = errors.New("usage must be recorded before the reservation scope exits")

	// ErrReservationClosed is returned when a finalized reservation is used again.
	ErrReservationClosed = errors.New("reservation already finalized")
)

// ConfigurationError reports a request that exceeds a static limit of a rule.
// It is never retryable.
type ConfigurationError struct {
	// Rule is the rule name.
	Rule string

	// Dimension is the dimension that cannot fit the request.
	Dimension Dimension

	// Limit is the configured limit for the dimension.
	Limit int64

	// Requested is the amount the request asked for.
	Requested int64
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Dimension == DimensionRequests {
		return fmt.Sprintf("rule %q: requests per window limit %d admits no request", e.Rule, e.Limit)
	}
	if e.Requested < 0 {
		return fmt.Sprintf("rule %q: negative %s estimate %d", e.Rule, e.Dimension, e.Requested)
	}
	return fmt.Sprintf("rule %q: %d %s exceeds %s per window limit %d",
		e.Rule, e.Requested, e.Dimension, e.Dimension, e.Limit)
}

// Unwrap returns ErrConfiguration.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// CapacityExceededError reports that a rule's ledger is currently full.
// The same request may succeed once pending reservations settle or
// completed entries leave the window.
type CapacityExceededError struct {
	// Rule is the rule name.
	Rule string

	// Dimension is the first dimension found full.
	Dimension Dimension

	// Limit is the configured limit for the dimension.
	Limit int64

	// Used is pending plus in-window consumption at the time of the check.
	Used int64

	// Requested is the amount the request asked for.
	Requested int64

	// RetryAfter is the time until the oldest completed entry expires.
	// Zero when only pending reservations hold the capacity.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("rule %q: %s capacity exceeded: used=%d requested=%d limit=%d",
		e.Rule, e.Dimension, e.Used, e.Requested, e.Limit)
}

// Unwrap returns ErrCapacityExceeded.
func (e *CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// ProgrammingError reports misuse of a Reservation by its owner.
type ProgrammingError struct {
	// Rule is the rule name.
	Rule string

	// ReservationID identifies the misused reservation.
	ReservationID string

	// Err is ErrUsageNotRecorded or ErrReservationClosed.
	Err error
}

// Error implements the error interface.
func (e *ProgrammingError) Error() string {
	return fmt.Sprintf("rule %q reservation %s: %v", e.Rule, e.ReservationID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ProgrammingError) Unwrap() error {
	return e.Err
}

// Is matches ErrProgramming in addition to the wrapped cause.
func (e *ProgrammingError) Is(target error) bool {
	return target == ErrProgramming
}

// IsRetryable reports whether err is a transient capacity rejection.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
