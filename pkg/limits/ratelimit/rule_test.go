package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustRule(t *testing.T, limits Limits, opts ...Option) *Rule {
	t.Helper()
	r, err := NewRule([]string{"m"}, false, limits, opts...)
	require.NoError(t, err)
	return r
}

// ============================================================================
// Capacity Checks
// ============================================================================

func TestRule_HasCapacity_StaticLimits(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		in, out int64
		dim     Dimension
	}{
		{"input over limit", Limits{InputTokensPerWindow: Bound(10)}, 15, 0, DimensionInputTokens},
		{"output over limit", Limits{OutputTokensPerWindow: Bound(10)}, 0, 11, DimensionOutputTokens},
		{"total over limit", Limits{TotalTokensPerWindow: Bound(20)}, 15, 6, DimensionTotalTokens},
		{"requests limit zero", Limits{RequestsPerWindow: Bound(0)}, 1, 1, DimensionRequests},
		{"negative input", Limits{}, -1, 0, DimensionInputTokens},
		{"token sum overflows total limit", Limits{TotalTokensPerWindow: Bound(50)}, math.MaxInt64, 1, DimensionTotalTokens},
		{"token sum overflows unbounded rule", Limits{}, math.MaxInt64, math.MaxInt64, DimensionTotalTokens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := mustRule(t, tt.limits)

			ok, err := r.HasCapacity(tt.in, tt.out)
			assert.False(t, ok)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfiguration)
			assert.False(t, IsRetryable(err))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.dim, cfgErr.Dimension)

			res, err := r.ReserveCapacity(tt.in, tt.out)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestRule_HasCapacity_InputLimitMessage(t *testing.T) {
	r := mustRule(t, Limits{InputTokensPerWindow: Bound(10)})
	_, err := r.HasCapacity(15, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input_tokens per window limit 10")
}

func TestRule_CapacityNearInt64Limit(t *testing.T) {
	r := mustRule(t, Limits{TotalTokensPerWindow: Bound(math.MaxInt64)})

	first, err := r.ReserveCapacity(math.MaxInt64-10, 0)
	require.NoError(t, err)

	ok, err := r.HasCapacity(20, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := r.ReserveCapacity(20, 0)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, int64(math.MaxInt64-10), r.Snapshot().Used(DimensionTotalTokens))

	res, err = r.ReserveCapacity(10, 0)
	require.NoError(t, err)
	res.Cancel()
	first.Cancel()
	assert.Equal(t, int64(0), r.Snapshot().Used(DimensionTotalTokens))
}

func TestRule_Unbounded(t *testing.T) {
	r := mustRule(t, Limits{})
	for i := 0; i < 1000; i++ {
		res, err := r.ReserveCapacity(1_000_000, 1_000_000)
		require.NoError(t, err)
		require.NoError(t, res.RecordUsage(1, 1))
	}
	assert.Equal(t, 1000, r.CurrentRequestsInWindow())
}

func TestRule_ReserveRecordUsage(t *testing.T) {
	r := mustRule(t, Limits{
		RequestsPerWindow:     Bound(2),
		TotalTokensPerWindow:  Bound(50),
		InputTokensPerWindow:  Bound(50),
		OutputTokensPerWindow: Bound(50),
	})

	res, err := r.ReserveCapacity(10, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, r.PendingCount())
	assert.True(t, res.Open())

	require.NoError(t, res.RecordUsage(10, 5))

	assert.Equal(t, 1, r.CurrentRequestsInWindow())
	assert.Equal(t, 0, r.PendingCount())
	assert.False(t, res.Open())

	snap := r.Snapshot()
	assert.Equal(t, 1, snap.WindowRequests)
	assert.Equal(t, int64(10), snap.WindowInputTokens)
	assert.Equal(t, int64(5), snap.WindowOutputTokens)
}

func TestRule_RecordUsageTwice(t *testing.T) {
	r := mustRule(t, Limits{})
	res, err := r.ReserveCapacity(1, 1)
	require.NoError(t, err)
	require.NoError(t, res.RecordUsage(1, 1))

	err = res.RecordUsage(1, 1)
	assert.ErrorIs(t, err, ErrReservationClosed)
	assert.ErrorIs(t, err, ErrProgramming)
	assert.Equal(t, 1, r.CurrentRequestsInWindow())
}

func TestRule_CapacityExceeded(t *testing.T) {
	clock := newFakeClock()
	r := mustRule(t, Limits{RequestsPerWindow: Bound(2), InputTokensPerWindow: Bound(100)}, WithClock(clock.Now))

	first, err := r.ReserveCapacity(10, 0)
	require.NoError(t, err)
	_, err = r.ReserveCapacity(10, 0)
	require.NoError(t, err)

	ok, err := r.HasCapacity(10, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.ReserveCapacity(10, 0)
	require.Error(t, err)
	assert.True(t, IsRetryable(err))

	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, DimensionRequests, capErr.Dimension)
	assert.Equal(t, int64(2), capErr.Used)
	assert.Zero(t, capErr.RetryAfter, "only pending entries hold capacity")

	require.NoError(t, first.RecordUsage(10, 0))
	clock.Advance(20 * time.Second)

	_, err = r.ReserveCapacity(10, 0)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 40*time.Second, capErr.RetryAfter)
}

func TestRule_TokenDimensions(t *testing.T) {
	r := mustRule(t, Limits{TotalTokensPerWindow: Bound(100), OutputTokensPerWindow: Bound(30)})

	res, err := r.ReserveCapacity(50, 25)
	require.NoError(t, err)

	_, err = r.ReserveCapacity(10, 10)
	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, DimensionOutputTokens, capErr.Dimension)

	_, err = r.ReserveCapacity(30, 0)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, DimensionTotalTokens, capErr.Dimension)

	// Actual usage below the estimate frees the difference.
	require.NoError(t, res.RecordUsage(20, 5))
	_, err = r.ReserveCapacity(30, 20)
	require.NoError(t, err)
}

func TestRule_WindowExpiry(t *testing.T) {
	clock := newFakeClock()
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)}, WithClock(clock.Now))

	res, err := r.ReserveCapacity(0, 0)
	require.NoError(t, err)
	require.NoError(t, res.RecordUsage(0, 0))

	ok, err := r.HasCapacity(0, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(59 * time.Second)
	ok, _ = r.HasCapacity(0, 0)
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, _ = r.HasCapacity(0, 0)
	assert.True(t, ok)
	assert.Equal(t, 0, r.CurrentRequestsInWindow())
}

func TestRule_CustomWindow(t *testing.T) {
	clock := newFakeClock()
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)}, WithClock(clock.Now), WithWindow(10*time.Second))
	assert.Equal(t, 10*time.Second, r.Window())

	res, err := r.ReserveCapacity(0, 0)
	require.NoError(t, err)
	require.NoError(t, res.RecordUsage(0, 0))

	clock.Advance(10 * time.Second)
	_, err = r.ReserveCapacity(0, 0)
	assert.NoError(t, err)
}

// ============================================================================
// Reservation Scope
// ============================================================================

func TestRule_Do_Records(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(2)})

	err := r.Do(context.Background(), 10, 5, func(_ context.Context, res *Reservation) error {
		return res.RecordUsage(12, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.CurrentRequestsInWindow())
	assert.Equal(t, 0, r.PendingCount())
}

func TestRule_Do_ExitWithoutRecord(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)})

	err := r.Do(context.Background(), 1, 1, func(context.Context, *Reservation) error {
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUsageNotRecorded)
	assert.Contains(t, err.Error(), "usage must be recorded")
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, r.CurrentRequestsInWindow())
}

func TestRule_Do_FailureCancels(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)})
	boom := errors.New("boom")

	err := r.Do(context.Background(), 1, 1, func(context.Context, *Reservation) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, r.CurrentRequestsInWindow())

	// Failed attempts consume no budget.
	ok, err := r.HasCapacity(1, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRule_Do_PanicCancels(t *testing.T) {
	r := mustRule(t, Limits{})

	assert.PanicsWithValue(t, "boom", func() {
		_ = r.Do(context.Background(), 1, 1, func(context.Context, *Reservation) error {
			panic("boom")
		})
	})
	assert.Equal(t, 0, r.PendingCount())
	assert.Equal(t, 0, r.CurrentRequestsInWindow())
}

func TestRule_Do_CapacityError(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)})
	_, err := r.ReserveCapacity(0, 0)
	require.NoError(t, err)

	called := false
	err = r.Do(context.Background(), 0, 0, func(context.Context, *Reservation) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, called)
}

func TestReservation_CancelIdempotent(t *testing.T) {
	r := mustRule(t, Limits{})
	res, err := r.ReserveCapacity(1, 1)
	require.NoError(t, err)

	assert.True(t, res.Cancel())
	assert.False(t, res.Cancel())
	assert.ErrorIs(t, res.RecordUsage(1, 1), ErrReservationClosed)
	assert.Equal(t, 0, r.CurrentRequestsInWindow())
}

// ============================================================================
// Wait / Notify
// ============================================================================

func TestRule_Wait_WakesOnRelease(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)})
	res, err := r.ReserveCapacity(0, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- r.Wait(context.Background(), 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	res.Cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not wake on cancel")
	}

	ok, err := r.HasCapacity(0, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRule_Wait_BoundedByMaxWait(t *testing.T) {
	r := mustRule(t, Limits{})
	start := time.Now()
	require.NoError(t, r.Wait(context.Background(), 30*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestRule_Wait_ContextCancelled(t *testing.T) {
	r := mustRule(t, Limits{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.Wait(ctx, time.Minute), context.Canceled)
}

func TestRule_Wait_UntilExpiry(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)}, WithWindow(50*time.Millisecond))
	res, err := r.ReserveCapacity(0, 0)
	require.NoError(t, err)
	require.NoError(t, res.RecordUsage(0, 0))

	start := time.Now()
	require.NoError(t, r.Wait(context.Background(), 5*time.Second))
	assert.Less(t, time.Since(start), time.Second)
}

// ============================================================================
// Restore
// ============================================================================

func TestRule_Restore(t *testing.T) {
	clock := newFakeClock()
	r := mustRule(t, Limits{InputTokensPerWindow: Bound(100)}, WithClock(clock.Now))
	now := clock.Now()

	loaded := r.Restore([]UsageRecord{
		{InputTokens: 40, CompletedAt: now.Add(-10 * time.Second)},
		{InputTokens: 50, CompletedAt: now.Add(-90 * time.Second)},
		{InputTokens: 30, CompletedAt: now.Add(-30 * time.Second)},
		{InputTokens: 5, CompletedAt: now.Add(time.Hour)},
	})
	assert.Equal(t, 2, loaded)

	snap := r.Snapshot()
	assert.Equal(t, int64(70), snap.WindowInputTokens)
	assert.Equal(t, now.Add(30*time.Second), snap.NextExpiry)

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, r.CurrentRequestsInWindow())
}

// ============================================================================
// Concurrency
// ============================================================================

func TestRule_ConcurrentInvariant(t *testing.T) {
	limits := Limits{
		RequestsPerWindow:     Bound(40),
		InputTokensPerWindow:  Bound(400),
		OutputTokensPerWindow: Bound(300),
		TotalTokensPerWindow:  Bound(600),
	}
	r := mustRule(t, limits)

	check := func() {
		s := r.Snapshot()
		for _, dim := range []Dimension{DimensionRequests, DimensionInputTokens, DimensionOutputTokens, DimensionTotalTokens} {
			limit, _ := limits.Get(dim)
			if used := s.Used(dim); used > limit {
				t.Errorf("%s used %d exceeds limit %d", dim, used, limit)
			}
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := r.ReserveCapacity(int64(g%7), int64(i%5))
				if err != nil {
					if !IsRetryable(err) {
						t.Errorf("unexpected error: %v", err)
					}
					continue
				}
				check()
				if i%3 == 0 {
					res.Cancel()
				} else if err := res.RecordUsage(int64(g%7), int64(i%5)); err != nil {
					t.Errorf("record: %v", err)
				}
				check()
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 0, r.PendingCount())
	check()
}

func TestRule_ReserveAgreesWithHasCapacity(t *testing.T) {
	r := mustRule(t, Limits{RequestsPerWindow: Bound(3)})
	for i := 0; i < 5; i++ {
		ok, err := r.HasCapacity(0, 0)
		require.NoError(t, err)
		_, err = r.ReserveCapacity(0, 0)
		assert.Equal(t, ok, err == nil, "iteration %d", i)
	}
}

// ============================================================================
// Observer
// ============================================================================

type recordingObserver struct {
	mu        sync.Mutex
	admitted  int
	rejected  []Dimension
	cancelled int
	records   []UsageRecord
}

func (o *recordingObserver) ReservationAdmitted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admitted++
}

func (o *recordingObserver) ReservationRejected(_ string, dim Dimension) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected = append(o.rejected, dim)
}

func (o *recordingObserver) ReservationCancelled(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled++
}

func (o *recordingObserver) UsageRecorded(rec UsageRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func TestRule_Observer(t *testing.T) {
	obs := &recordingObserver{}
	clock := newFakeClock()
	r := mustRule(t, Limits{RequestsPerWindow: Bound(1)}, WithObserver(obs), WithName("gpt"), WithClock(clock.Now))

	res, err := r.ReserveCapacity(3, 4)
	require.NoError(t, err)
	_, err = r.ReserveCapacity(1, 1)
	require.Error(t, err)
	require.NoError(t, res.RecordUsage(5, 6))

	res, err = r.ReserveCapacity(0, 0)
	require.Error(t, err)
	clock.Advance(time.Minute)
	res, err = r.ReserveCapacity(0, 0)
	require.NoError(t, err)
	res.Cancel()

	assert.Equal(t, 2, obs.admitted)
	assert.Equal(t, []Dimension{DimensionRequests, DimensionRequests}, obs.rejected)
	assert.Equal(t, 1, obs.cancelled)
	require.Len(t, obs.records, 1)
	assert.Equal(t, "gpt", obs.records[0].Rule)
	assert.Equal(t, int64(11), obs.records[0].TotalTokens())
	assert.Equal(t, clock.Now().Add(-time.Minute), obs.records[0].CompletedAt)
}

func TestNewRule_InvalidRegex(t *testing.T) {
	_, err := NewRule([]string{"("}, true, Limits{})
	assert.Error(t, err)
}
