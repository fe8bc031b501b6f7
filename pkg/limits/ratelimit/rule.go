package ratelimit

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRuleName is the name of the unbounded fallback rule.
const DefaultRuleName = "default"

// Rule owns the budget and rolling-window ledger for the resources matched
// by its patterns.
//
// # Ledger
//
// Pending reservations and completed usage are guarded by one mutex. The
// completed ledger is pruned to the trailing window before every capacity
// decision. Reservation release and window expiry both wake goroutines
// blocked in Wait.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Rule struct {
	name          string
	patterns      []string
	isRegex       bool
	compiled      []*regexp.Regexp
	limits        Limits
	maxConcurrent int
	window        time.Duration
	now           func() time.Time
	observer      Observer

	mu         sync.Mutex
	pending    map[string]*Reservation
	pendingIn  int64
	pendingOut int64
	completed  *slidingWindow
	released   chan struct{}
}

// Option configures a Rule.
type Option func(*Rule)

// WithName sets the rule name. The first pattern is used otherwise.
func WithName(name string) Option {
	return func(r *Rule) {
		r.name = name
	}
}

// WithWindow sets the rolling window length.
func WithWindow(d time.Duration) Option {
	return func(r *Rule) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithMaxConcurrent sets the number of simultaneous in-flight requests a
// scheduler should allow for resources matched by this rule.
// Zero leaves the choice to the scheduler.
func WithMaxConcurrent(n int) Option {
	return func(r *Rule) {
		r.maxConcurrent = n
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Rule) {
		if now != nil {
			r.now = now
		}
	}
}

// WithObserver registers a receiver for ledger events.
func WithObserver(o Observer) Option {
	return func(r *Rule) {
		r.observer = o
	}
}

// NewRule creates a rule matching the given patterns.
//
// Literal patterns match resource identifiers exactly. When isRegex is set,
// each pattern is also compiled and matched with regexp MatchString, so
// anchors must be written explicitly.
//
// Example:
//
//	rule, err := NewRule([]string{"^anthropic/claude-.*$"}, true, Limits{
//	    RequestsPerWindow:    Bound(50),
//	    InputTokensPerWindow: Bound(40000),
//	})
func NewRule(patterns []string, isRegex bool, limits Limits, opts ...Option) (*Rule, error) {
	r := &Rule{
		patterns: append([]string(nil), patterns...),
		isRegex:  isRegex,
		limits:   limits,
		window:   DefaultWindow,
		now:      time.Now,
		pending:  make(map[string]*Reservation),
		released: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if isRegex {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compile pattern %q: %w", p, err)
			}
			r.compiled = append(r.compiled, re)
		}
	}
	if r.name == "" && len(r.patterns) > 0 {
		r.name = r.patterns[0]
	}
	r.completed = newSlidingWindow(r.window)
	return r, nil
}

// NewDefaultRule creates the unbounded fallback rule of a Limiter.
func NewDefaultRule(opts ...Option) *Rule {
	opts = append([]Option{WithName(DefaultRuleName)}, opts...)
	r, _ := NewRule(nil, false, Limits{}, opts...)
	return r
}

// Name returns the rule name.
func (r *Rule) Name() string { return r.name }

// Patterns returns a copy of the rule patterns.
func (r *Rule) Patterns() []string { return append([]string(nil), r.patterns...) }

// IsRegex reports whether patterns are regular expressions.
func (r *Rule) IsRegex() bool { return r.isRegex }

// Limits returns the configured budget.
func (r *Rule) Limits() Limits { return r.limits }

// Window returns the rolling window length.
func (r *Rule) Window() time.Duration { return r.window }

// MaxConcurrent returns the configured concurrency cap, or zero if unset.
func (r *Rule) MaxConcurrent() int { return r.maxConcurrent }

// matchesExact reports whether id equals one of the patterns.
func (r *Rule) matchesExact(id string) bool {
	for _, p := range r.patterns {
		if p == id {
			return true
		}
	}
	return false
}

// matchesPattern reports whether a compiled pattern matches id.
func (r *Rule) matchesPattern(id string) bool {
	for _, re := range r.compiled {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

// checkStatic returns a *ConfigurationError if the request can never be
// admitted, regardless of current usage.
func (r *Rule) checkStatic(in, out int64) error {
	if in < 0 {
		return &ConfigurationError{Rule: r.name, Dimension: DimensionInputTokens, Requested: in}
	}
	if out < 0 {
		return &ConfigurationError{Rule: r.name, Dimension: DimensionOutputTokens, Requested: out}
	}
	if in > math.MaxInt64-out {
		limit, _ := r.limits.Get(DimensionTotalTokens)
		return &ConfigurationError{Rule: r.name, Dimension: DimensionTotalTokens, Limit: limit, Requested: math.MaxInt64}
	}
	if limit, ok := r.limits.Get(DimensionRequests); ok && limit < 1 {
		return &ConfigurationError{Rule: r.name, Dimension: DimensionRequests, Limit: limit, Requested: 1}
	}
	checks := []struct {
		dim       Dimension
		requested int64
	}{
		{DimensionInputTokens, in},
		{DimensionOutputTokens, out},
		{DimensionTotalTokens, in + out},
	}
	for _, c := range checks {
		if limit, ok := r.limits.Get(c.dim); ok && c.requested > limit {
			return &ConfigurationError{Rule: r.name, Dimension: c.dim, Limit: limit, Requested: c.requested}
		}
	}
	return nil
}

// HasCapacity reports whether a request with the given estimates would be
// admitted right now.
//
// It returns a *ConfigurationError when the estimates exceed a static limit
// of the rule, which means the request can never be admitted.
func (r *Rule) HasCapacity(in, out int64) (bool, error) {
	if err := r.checkStatic(in, out); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return r.exceededLocked(in, out) == nil, nil
}

// ReserveCapacity admits a request and returns the reservation that holds
// its estimated cost in the pending ledger.
//
// The capacity check and the pending insert happen under the same lock.
// A *CapacityExceededError means the ledger is currently full and the
// request may be retried; a *ConfigurationError means it never fits.
func (r *Rule) ReserveCapacity(in, out int64) (*Reservation, error) {
	if err := r.checkStatic(in, out); err != nil {
		return nil, err
	}

	r.mu.Lock()
	now := r.now()
	r.pruneLocked(now)
	if exceeded := r.exceededLocked(in, out); exceeded != nil {
		if next, ok := r.completed.nextExpiry(); ok {
			exceeded.RetryAfter = next.Sub(now)
		}
		r.mu.Unlock()
		if r.observer != nil {
			r.observer.ReservationRejected(r.name, exceeded.Dimension)
		}
		return nil, exceeded
	}
	res := &Reservation{
		rule:         r,
		id:           uuid.NewString(),
		inputTokens:  in,
		outputTokens: out,
		createdAt:    now,
	}
	r.pending[res.id] = res
	r.pendingIn += in
	r.pendingOut += out
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ReservationAdmitted(r.name)
	}
	return res, nil
}

// Do reserves capacity, runs fn, and finalizes the reservation when fn
// returns.
//
// fn must call RecordUsage on the reservation before returning nil; if it
// does not, the reservation is cancelled and a *ProgrammingError is
// returned. If fn returns an error or panics, the reservation is cancelled
// and no usage is recorded.
func (r *Rule) Do(ctx context.Context, in, out int64, fn func(context.Context, *Reservation) error) error {
	res, err := r.ReserveCapacity(in, out)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			res.Cancel()
			panic(p)
		}
	}()
	return res.Close(fn(ctx, res))
}

// Wait blocks until capacity may have been released, maxWait elapses, or
// ctx is done.
//
// Capacity is released when a pending reservation is finalized or
// cancelled, or when the oldest completed entry leaves the window. Wait
// returns nil in every case except ctx cancellation; callers re-check
// capacity afterwards.
func (r *Rule) Wait(ctx context.Context, maxWait time.Duration) error {
	r.mu.Lock()
	now := r.now()
	r.pruneLocked(now)
	released := r.released
	d := maxWait
	if next, ok := r.completed.nextExpiry(); ok {
		if until := next.Sub(now); until < d {
			d = until
		}
	}
	r.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-released:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CurrentRequestsInWindow returns the number of completed requests inside
// the trailing window.
func (r *Rule) CurrentRequestsInWindow() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return r.completed.requests()
}

// PendingCount returns the number of open reservations.
func (r *Rule) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Snapshot returns the current ledger totals.
func (r *Rule) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	s := Snapshot{
		Name:                r.name,
		Limits:              r.limits,
		Window:              r.window,
		PendingRequests:     len(r.pending),
		PendingInputTokens:  r.pendingIn,
		PendingOutputTokens: r.pendingOut,
		WindowRequests:      r.completed.requests(),
		WindowInputTokens:   r.completed.inputTokens,
		WindowOutputTokens:  r.completed.outputTokens,
	}
	if next, ok := r.completed.nextExpiry(); ok {
		s.NextExpiry = next
	}
	return s
}

// Restore loads previously recorded usage into the completed ledger.
// Records already outside the window are skipped. It returns the number of
// records loaded.
func (r *Rule) Restore(records []UsageRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-r.window)
	loaded := 0
	for _, rec := range records {
		if !rec.CompletedAt.After(cutoff) || rec.CompletedAt.After(now) {
			continue
		}
		r.completed.add(usageEntry{
			completedAt:  rec.CompletedAt,
			inputTokens:  rec.InputTokens,
			outputTokens: rec.OutputTokens,
		})
		loaded++
	}
	return loaded
}

// exceededLocked returns the first dimension that would overflow if the
// request were admitted, or nil. Caller must hold r.mu with a pruned window.
func (r *Rule) exceededLocked(in, out int64) *CapacityExceededError {
	checks := []struct {
		dim       Dimension
		used      int64
		requested int64
	}{
		{DimensionRequests, int64(len(r.pending) + r.completed.requests()), 1},
		{DimensionInputTokens, r.pendingIn + r.completed.inputTokens, in},
		{DimensionOutputTokens, r.pendingOut + r.completed.outputTokens, out},
		{DimensionTotalTokens, r.pendingIn + r.pendingOut + r.completed.inputTokens + r.completed.outputTokens, in + out},
	}
	for _, c := range checks {
		limit, ok := r.limits.Get(c.dim)
		if !ok {
			continue
		}
		if c.requested > limit-c.used {
			return &CapacityExceededError{
				Rule:      r.name,
				Dimension: c.dim,
				Limit:     limit,
				Used:      c.used,
				Requested: c.requested,
			}
		}
	}
	return nil
}

// pruneLocked drops expired completed entries and wakes waiters when any
// were removed. Caller must hold r.mu.
func (r *Rule) pruneLocked(now time.Time) {
	if r.completed.prune(now) > 0 {
		r.notifyLocked()
	}
}

// notifyLocked wakes every goroutine blocked in Wait. Caller must hold r.mu.
func (r *Rule) notifyLocked() {
	close(r.released)
	r.released = make(chan struct{})
}

// release removes a pending reservation and, when rec is non-nil, appends
// it to the completed ledger. It returns false if the reservation was
// already finalized.
func (r *Rule) release(res *Reservation, rec *UsageRecord) bool {
	r.mu.Lock()
	if res.state != reservationOpen {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, res.id)
	r.pendingIn -= res.inputTokens
	r.pendingOut -= res.outputTokens
	if rec != nil {
		rec.CompletedAt = r.now()
		r.completed.add(usageEntry{
			completedAt:  rec.CompletedAt,
			inputTokens:  rec.InputTokens,
			outputTokens: rec.OutputTokens,
		})
		res.state = reservationRecorded
	} else {
		res.state = reservationCancelled
	}
	r.notifyLocked()
	r.mu.Unlock()

	if r.observer != nil {
		if rec != nil {
			r.observer.UsageRecorded(*rec)
		} else {
			r.observer.ReservationCancelled(r.name)
		}
	}
	return true
}
