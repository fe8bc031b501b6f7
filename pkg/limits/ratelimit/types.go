package ratelimit

import "time"

// DefaultWindow is the rolling window length used when a rule does not set one.
const DefaultWindow = time.Minute

// Dimension names a budget dimension of a rule.
type Dimension string

const (
	// DimensionRequests counts admitted requests.
	DimensionRequests Dimension = "requests"

	// DimensionInputTokens counts prompt tokens.
	DimensionInputTokens Dimension = "input_tokens"

	// DimensionOutputTokens counts completion tokens.
	DimensionOutputTokens Dimension = "output_tokens"

	// DimensionTotalTokens counts prompt plus completion tokens.
	DimensionTotalTokens Dimension = "total_tokens"
)

// Dimensions returns every dimension in the order capacity is checked.
func Dimensions() []Dimension {
	return []Dimension{DimensionRequests, DimensionInputTokens, DimensionOutputTokens, DimensionTotalTokens}
}

// Limits holds the per-window budget of a rule.
// A nil field means the dimension is unbounded.
type Limits struct {
	// RequestsPerWindow limits the number of requests admitted per window.
	RequestsPerWindow *int64

	// TotalTokensPerWindow limits input plus output tokens per window.
	TotalTokensPerWindow *int64

	// InputTokensPerWindow limits input tokens per window.
	InputTokensPerWindow *int64

	// OutputTokensPerWindow limits output tokens per window.
	OutputTokensPerWindow *int64
}

// Bound returns a pointer to n for use in Limits literals.
func Bound(n int64) *int64 {
	return &n
}

// Unbounded reports whether no dimension is limited.
func (l Limits) Unbounded() bool {
	return l.RequestsPerWindow == nil &&
		l.TotalTokensPerWindow == nil &&
		l.InputTokensPerWindow == nil &&
		l.OutputTokensPerWindow == nil
}

// Get returns the limit for a dimension and whether it is configured.
func (l Limits) Get(d Dimension) (int64, bool) {
	var p *int64
	switch d {
	case DimensionRequests:
		p = l.RequestsPerWindow
	case DimensionInputTokens:
		p = l.InputTokensPerWindow
	case DimensionOutputTokens:
		p = l.OutputTokensPerWindow
	case DimensionTotalTokens:
		p = l.TotalTokensPerWindow
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// UsageRecord is a completed ledger entry.
// Rules emit one to their Observer for every recorded reservation and
// accept them back through Restore.
type UsageRecord struct {
	// Rule is the name of the rule that admitted the request.
	Rule string

	// ReservationID identifies the reservation that was finalized.
	ReservationID string

	// InputTokens is the actual number of input tokens consumed.
	InputTokens int64

	// OutputTokens is the actual number of output tokens consumed.
	OutputTokens int64

	// CompletedAt is when usage was recorded.
	CompletedAt time.Time
}

// TotalTokens returns input plus output tokens.
func (u UsageRecord) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Snapshot is a point-in-time view of a rule's ledger.
type Snapshot struct {
	// Name is the rule name.
	Name string

	// Limits is the configured budget.
	Limits Limits

	// Window is the rolling window length.
	Window time.Duration

	// PendingRequests is the number of open reservations.
	PendingRequests int

	// PendingInputTokens is the sum of input estimates of open reservations.
	PendingInputTokens int64

	// PendingOutputTokens is the sum of output estimates of open reservations.
	PendingOutputTokens int64

	// WindowRequests is the number of completed requests in the window.
	WindowRequests int

	// WindowInputTokens is the input tokens recorded in the window.
	WindowInputTokens int64

	// WindowOutputTokens is the output tokens recorded in the window.
	WindowOutputTokens int64

	// NextExpiry is when the oldest completed entry leaves the window.
	// Zero when the window is empty.
	NextExpiry time.Time
}

// Used returns pending plus in-window consumption for a dimension.
func (s Snapshot) Used(d Dimension) int64 {
	switch d {
	case DimensionRequests:
		return int64(s.PendingRequests + s.WindowRequests)
	case DimensionInputTokens:
		return s.PendingInputTokens + s.WindowInputTokens
	case DimensionOutputTokens:
		return s.PendingOutputTokens + s.WindowOutputTokens
	case DimensionTotalTokens:
		return s.PendingInputTokens + s.WindowInputTokens + s.PendingOutputTokens + s.WindowOutputTokens
	}
	return 0
}

// Observer receives ledger events from a rule.
// Callbacks run after the rule lock is released and must not block for long.
type Observer interface {
	// ReservationAdmitted is called when a pending entry is inserted.
	ReservationAdmitted(rule string)

	// ReservationRejected is called when ReserveCapacity fails with
	// CapacityExceeded on the given dimension.
	ReservationRejected(rule string, dim Dimension)

	// ReservationCancelled is called when a pending entry is removed
	// without recording usage.
	ReservationCancelled(rule string)

	// UsageRecorded is called when a reservation is finalized.
	UsageRecorded(rec UsageRecord)
}
