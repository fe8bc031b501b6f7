package storage

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrInvalidRecord is returned when a record is missing required fields.
var ErrInvalidRecord = errors.New("invalid usage record")

// Backend is an append-only journal of recorded usage.
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Append stores a record. Appending a record whose ID already exists
	// is a no-op.
	Append(ctx context.Context, rec *Record) error

	// LoadSince returns records completed strictly after since, ordered by
	// completion time.
	LoadSince(ctx context.Context, since time.Time) ([]*Record, error)

	// Cleanup removes records completed before olderThan.
	// Returns the number of records deleted.
	Cleanup(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases any resources held by the backend.
	// The backend should not be used after calling Close.
	Close() error
}

// Record is one finalized reservation.
type Record struct {
	// ID is the reservation identifier.
	ID string `json:"id"`

	// Rule is the name of the rule that admitted the request.
	Rule string `json:"rule"`

	// InputTokens is the actual number of input tokens consumed.
	InputTokens int64 `json:"input_tokens"`

	// OutputTokens is the actual number of output tokens consumed.
	OutputTokens int64 `json:"output_tokens"`

	// CompletedAt is when usage was recorded.
	CompletedAt time.Time `json:"completed_at"`

	// Labels carries optional context such as the resource or task ID.
	Labels map[string]string `json:"labels,omitempty"`
}

// Validate checks required fields.
func (r *Record) Validate() error {
	switch {
	case r == nil:
		return errors.Join(ErrInvalidRecord, errors.New("record cannot be nil"))
	case r.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("id cannot be empty"))
	case r.Rule == "":
		return errors.Join(ErrInvalidRecord, errors.New("rule cannot be empty"))
	case r.CompletedAt.IsZero():
		return errors.Join(ErrInvalidRecord, errors.New("completed_at cannot be zero"))
	}
	return nil
}

// RuleSummary aggregates journal records for one rule.
type RuleSummary struct {
	Rule         string
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	First        time.Time
	Last         time.Time
}

// Summarize aggregates records per rule, sorted by rule name.
func Summarize(records []*Record) []RuleSummary {
	byRule := make(map[string]*RuleSummary)
	for _, rec := range records {
		s, ok := byRule[rec.Rule]
		if !ok {
			s = &RuleSummary{Rule: rec.Rule, First: rec.CompletedAt, Last: rec.CompletedAt}
			byRule[rec.Rule] = s
		}
		s.Requests++
		s.InputTokens += rec.InputTokens
		s.OutputTokens += rec.OutputTokens
		if rec.CompletedAt.Before(s.First) {
			s.First = rec.CompletedAt
		}
		if rec.CompletedAt.After(s.Last) {
			s.Last = rec.CompletedAt
		}
	}

	out := make([]RuleSummary, 0, len(byRule))
	for _, s := range byRule {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}

func sortRecords(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CompletedAt.Before(records[j].CompletedAt)
	})
}
