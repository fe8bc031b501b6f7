package ratelimit

import "time"

type reservationState int

const (
	reservationOpen reservationState = iota
	reservationRecorded
	reservationCancelled
)

// Reservation is a provisional allocation of a rule's budget.
//
// It is created by Rule.ReserveCapacity and must be finalized exactly once,
// either by RecordUsage with the actual token counts or by Cancel when the
// protected work failed. A finalized reservation cannot be reused.
//
// The state field is guarded by the owning rule's mutex.
type Reservation struct {
	rule         *Rule
	id           string
	inputTokens  int64
	outputTokens int64
	createdAt    time.Time
	state        reservationState
}

// ID returns the reservation identifier.
func (res *Reservation) ID() string { return res.id }

// Rule returns the rule that admitted the reservation.
func (res *Reservation) Rule() *Rule { return res.rule }

// EstimatedInputTokens returns the input tokens held in the pending ledger.
func (res *Reservation) EstimatedInputTokens() int64 { return res.inputTokens }

// EstimatedOutputTokens returns the output tokens held in the pending ledger.
func (res *Reservation) EstimatedOutputTokens() int64 { return res.outputTokens }

// CreatedAt returns when the reservation was admitted.
func (res *Reservation) CreatedAt() time.Time { return res.createdAt }

// Open reports whether the reservation has not been finalized yet.
func (res *Reservation) Open() bool {
	res.rule.mu.Lock()
	defer res.rule.mu.Unlock()
	return res.state == reservationOpen
}

// RecordUsage finalizes the reservation with the actual token counts.
//
// The pending entry is replaced by a completed entry stamped with the
// current time. Actual counts may differ from the estimates. Calling it on
// a finalized reservation returns a *ProgrammingError wrapping
// ErrReservationClosed.
func (res *Reservation) RecordUsage(in, out int64) error {
	if in < 0 {
		return &ConfigurationError{Rule: res.rule.name, Dimension: DimensionInputTokens, Requested: in}
	}
	if out < 0 {
		return &ConfigurationError{Rule: res.rule.name, Dimension: DimensionOutputTokens, Requested: out}
	}
	rec := &UsageRecord{
		Rule:          res.rule.name,
		ReservationID: res.id,
		InputTokens:   in,
		OutputTokens:  out,
	}
	if !res.rule.release(res, rec) {
		return &ProgrammingError{Rule: res.rule.name, ReservationID: res.id, Err: ErrReservationClosed}
	}
	return nil
}

// Cancel removes the pending entry without recording usage.
// It reports whether the reservation was still open; cancelling a
// finalized reservation is a no-op.
func (res *Reservation) Cancel() bool {
	return res.rule.release(res, nil)
}

// Close ends the reservation scope with the result of the protected work.
//
// A non-nil err cancels an open reservation and is returned unchanged.
// A nil err with the reservation still open cancels it and returns a
// *ProgrammingError wrapping ErrUsageNotRecorded.
func (res *Reservation) Close(err error) error {
	if err != nil {
		res.Cancel()
		return err
	}
	if res.Cancel() {
		return &ProgrammingError{Rule: res.rule.name, ReservationID: res.id, Err: ErrUsageNotRecorded}
	}
	return nil
}
