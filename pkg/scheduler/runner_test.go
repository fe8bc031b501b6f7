package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercator-hq/bulkllm/pkg/limits/ratelimit"
	"mercator-hq/bulkllm/pkg/telemetry/logging"
)

func mustRule(t *testing.T, patterns []string, limits ratelimit.Limits, opts ...ratelimit.Option) *ratelimit.Rule {
	t.Helper()
	r, err := ratelimit.NewRule(patterns, false, limits, opts...)
	require.NoError(t, err)
	return r
}

func runAll(t *testing.T, r *Runner) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
}

func sleepAction(d time.Duration) Action {
	return func(ctx context.Context) (*Usage, error) {
		select {
		case <-time.After(d):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestRunner_CapOneRunsSequentially(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(1))
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	var running, maxRunning int32
	action := func(ctx context.Context) (*Usage, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &Usage{InputTokens: 1, OutputTokens: 1}, nil
	}

	start := time.Now()
	handles := runner.Submit(
		Task{Resource: "gpt-4o", Action: action},
		Task{Resource: "gpt-4o", Action: action},
	)
	runAll(t, runner)
	elapsed := time.Since(start)

	for _, h := range handles {
		assert.NoError(t, h.Result().Err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestRunner_IndependentResourcesRunInParallel(t *testing.T) {
	limiter := ratelimit.NewLimiter(nil,
		mustRule(t, []string{"a"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(1)),
		mustRule(t, []string{"b"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(1)),
	)
	runner := NewRunner(limiter, Options{})

	start := time.Now()
	runner.Submit(
		Task{Resource: "a", Action: sleepAction(100 * time.Millisecond)},
		Task{Resource: "b", Action: sleepAction(100 * time.Millisecond)},
	)
	runAll(t, runner)

	assert.Less(t, time.Since(start), 190*time.Millisecond)
}

func TestRunner_FailingSiblingIsolated(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{RequestsPerWindow: ratelimit.Bound(10)})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	boom := errors.New("provider unavailable")
	handles := runner.Submit(
		Task{Resource: "gpt-4o", EstimatedInputTokens: 5, Action: func(context.Context) (*Usage, error) {
			return nil, boom
		}},
		Task{Resource: "gpt-4o", EstimatedInputTokens: 5, Action: func(context.Context) (*Usage, error) {
			return &Usage{InputTokens: 7, OutputTokens: 3}, nil
		}},
	)
	runAll(t, runner)

	failed := handles[0].Result()
	assert.ErrorIs(t, failed.Err, boom)
	assert.Equal(t, "gpt-4o", failed.Rule)

	ok := handles[1].Result()
	require.NoError(t, ok.Err)
	assert.Equal(t, Usage{InputTokens: 7, OutputTokens: 3}, ok.Usage)

	// Failure cancelled its reservation; only the success is in the window.
	assert.Equal(t, 0, rule.PendingCount())
	assert.Equal(t, 1, rule.CurrentRequestsInWindow())
}

func TestRunner_PanicIsolated(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	handles := runner.Submit(
		Task{Resource: "gpt-4o", Action: func(context.Context) (*Usage, error) { panic("bad response") }},
		Task{Resource: "gpt-4o", Action: sleepAction(time.Millisecond)},
	)
	runAll(t, runner)

	assert.ErrorIs(t, handles[0].Result().Err, ErrTaskPanicked)
	assert.NoError(t, handles[1].Result().Err)
	assert.Equal(t, 0, rule.PendingCount())
}

func TestRunner_RecordsEstimatesWhenUsageNil(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	h := runner.Submit(Task{
		Resource:              "gpt-4o",
		EstimatedInputTokens:  120,
		EstimatedOutputTokens: 30,
		Action:                sleepAction(0),
	})[0]
	runAll(t, runner)

	res := h.Result()
	require.NoError(t, res.Err)
	assert.Equal(t, Usage{InputTokens: 120, OutputTokens: 30}, res.Usage)
	snap := rule.Snapshot()
	assert.Equal(t, int64(120), snap.WindowInputTokens)
	assert.Equal(t, int64(30), snap.WindowOutputTokens)
}

func TestRunner_NegativeUsageCancelsReservation(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	h := runner.Submit(Task{Resource: "gpt-4o", Action: func(context.Context) (*Usage, error) {
		return &Usage{InputTokens: -1}, nil
	}})[0]
	runAll(t, runner)

	assert.ErrorIs(t, h.Result().Err, ratelimit.ErrConfiguration)
	assert.Equal(t, 0, rule.PendingCount())
	assert.Equal(t, 0, rule.CurrentRequestsInWindow())
}

func TestRunner_ConfigurationErrorNotRetried(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{InputTokensPerWindow: ratelimit.Bound(10)})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	var called atomic.Bool
	h := runner.Submit(Task{Resource: "gpt-4o", EstimatedInputTokens: 15, Action: func(context.Context) (*Usage, error) {
		called.Store(true)
		return nil, nil
	}})[0]
	runAll(t, runner)

	res := h.Result()
	var cfgErr *ratelimit.ConfigurationError
	require.ErrorAs(t, res.Err, &cfgErr)
	assert.Equal(t, ratelimit.DimensionInputTokens, cfgErr.Dimension)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, called.Load())
}

func TestRunner_RequeuesUntilWindowExpires(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"},
		ratelimit.Limits{RequestsPerWindow: ratelimit.Bound(1)},
		ratelimit.WithWindow(100*time.Millisecond),
	)
	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{RetryDelay: 20 * time.Millisecond, Metrics: metrics})

	start := time.Now()
	handles := runner.Submit(
		Task{Resource: "gpt-4o", Action: sleepAction(0)},
		Task{Resource: "gpt-4o", Action: sleepAction(0)},
	)
	runAll(t, runner)

	first, second := handles[0].Result(), handles[1].Result()
	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.Equal(t, 1, first.Attempts)
	assert.Greater(t, second.Attempts, 1)
	assert.GreaterOrEqual(t, second.StartedAt.Sub(start), 100*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.requeues.WithLabelValues("gpt-4o")), 1.0)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues("gpt-4o", "succeeded")))
}

func TestRunner_RejectedTaskIsOvertaken(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"},
		ratelimit.Limits{TotalTokensPerWindow: ratelimit.Bound(100)},
		ratelimit.WithWindow(150*time.Millisecond),
	)
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{RetryDelay: 10 * time.Millisecond})

	var mu sync.Mutex
	var started []string
	track := func(name string, d time.Duration) Action {
		return func(ctx context.Context) (*Usage, error) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
			return sleepAction(d)(ctx)
		}
	}

	runner.Submit(
		Task{ID: "a", Resource: "gpt-4o", EstimatedInputTokens: 60, Action: track("a", 50*time.Millisecond)},
		Task{ID: "b", Resource: "gpt-4o", EstimatedInputTokens: 50, Action: track("b", 0)},
		Task{ID: "c", Resource: "gpt-4o", EstimatedInputTokens: 30, Action: track("c", 0)},
	)
	runAll(t, runner)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "c", "b"}, started)
}

func TestRunner_ShutdownFailsQueuedTasks(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{RequestsPerWindow: ratelimit.Bound(1)})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{RetryDelay: 10 * time.Millisecond})

	handles := runner.Submit(
		Task{Resource: "gpt-4o", Action: sleepAction(0)},
		Task{Resource: "gpt-4o", Action: sleepAction(0)},
		Task{Resource: "gpt-4o", Action: sleepAction(0)},
	)
	<-handles[0].Done()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	assert.NoError(t, handles[0].Result().Err)
	assert.ErrorIs(t, handles[1].Result().Err, context.Canceled)
	assert.ErrorIs(t, handles[2].Result().Err, context.Canceled)
	assert.Equal(t, 0, rule.PendingCount())
	assert.Equal(t, 0, runner.ActiveResources())
}

func TestRunner_ShutdownCancelsInFlightReservations(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	started := make(chan struct{})
	h := runner.Submit(Task{Resource: "gpt-4o", Action: func(ctx context.Context) (*Usage, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})[0]
	<-started
	assert.Equal(t, 1, rule.PendingCount())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	assert.ErrorIs(t, h.Result().Err, context.Canceled)
	assert.Equal(t, 0, rule.PendingCount())
	assert.Equal(t, 0, rule.CurrentRequestsInWindow())
}

func TestRunner_SubmitAfterShutdown(t *testing.T) {
	runner := NewRunner(ratelimit.NewLimiter(nil), Options{})
	require.NoError(t, runner.Shutdown(context.Background()))

	h := runner.Submit(Task{Resource: "gpt-4o", Action: sleepAction(0)})[0]
	_, err := h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrRunnerClosed)
}

func TestRunner_NilAction(t *testing.T) {
	runner := NewRunner(ratelimit.NewLimiter(nil), Options{})
	handles := runner.Submit(Task{Resource: "gpt-4o"}, Task{Resource: "gpt-4o", Action: sleepAction(0)})
	runAll(t, runner)

	assert.ErrorIs(t, handles[0].Result().Err, ErrNilAction)
	assert.NoError(t, handles[1].Result().Err)
}

func TestRunner_AssignsTaskIDs(t *testing.T) {
	runner := NewRunner(ratelimit.NewLimiter(nil), Options{})
	handles := runner.Submit(
		Task{Resource: "x", Action: sleepAction(0)},
		Task{ID: "mine", Resource: "x", Action: sleepAction(0)},
	)
	runAll(t, runner)

	assert.NotEmpty(t, handles[0].ID())
	assert.Equal(t, "mine", handles[1].ID())
	assert.Equal(t, handles[0].ID(), handles[0].Result().TaskID)
}

func TestRunner_RunWithNothingSubmitted(t *testing.T) {
	runner := NewRunner(ratelimit.NewLimiter(nil), Options{})
	assert.NoError(t, runner.Run(context.Background()))
}

func TestRunner_RunRespectsContext(t *testing.T) {
	runner := NewRunner(ratelimit.NewLimiter(nil), Options{})
	defer runner.Shutdown(context.Background())

	release := make(chan struct{})
	runner.Submit(Task{Resource: "x", Action: func(context.Context) (*Usage, error) {
		<-release
		return nil, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, runner.Run(ctx), context.DeadlineExceeded)
	close(release)
	runAll(t, runner)
}

func TestRunner_WorkerRestartsAfterDrain(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{})

	runner.Submit(Task{Resource: "gpt-4o", Action: sleepAction(0)})
	runAll(t, runner)
	assert.Equal(t, 0, runner.ActiveResources())
	assert.Nil(t, runner.Scheduler("gpt-4o"))

	h := runner.Submit(Task{Resource: "gpt-4o", Action: sleepAction(0)})[0]
	runAll(t, runner)
	assert.NoError(t, h.Result().Err)
	assert.Equal(t, 2, rule.CurrentRequestsInWindow())
}

func TestRunner_ConcurrentSubmitNeverStrands(t *testing.T) {
	limiter := ratelimit.NewLimiter(nil,
		mustRule(t, []string{"a"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(2)),
		mustRule(t, []string{"b"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(3)),
	)
	runner := NewRunner(limiter, Options{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles []*Handle
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				resource := "a"
				if (i+j)%2 == 0 {
					resource = "b"
				}
				hs := runner.Submit(Task{Resource: resource, Action: sleepAction(time.Duration(j%3) * time.Millisecond)})
				mu.Lock()
				handles = append(handles, hs...)
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	runAll(t, runner)

	require.Len(t, handles, 200)
	for _, h := range handles {
		select {
		case <-h.Done():
			assert.NoError(t, h.Result().Err)
		default:
			t.Fatalf("task %s stranded", h.ID())
		}
	}
	assert.Equal(t, 0, runner.ActiveResources())
}

type mapResolver map[string]string

func (m mapResolver) Resolve(_ context.Context, id string) string {
	if v, ok := m[id]; ok {
		return v
	}
	return id
}

func TestRunner_ResolvesResources(t *testing.T) {
	rule := mustRule(t, []string{"openai/gpt-4o"}, ratelimit.Limits{})
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{
		Resolver: mapResolver{"gpt-4o": "openai/gpt-4o"},
	})

	h := runner.Submit(Task{Resource: "gpt-4o", Action: sleepAction(0)})[0]
	runAll(t, runner)

	res := h.Result()
	assert.Equal(t, "openai/gpt-4o", res.Resource)
	assert.Equal(t, "openai/gpt-4o", res.Rule)
	assert.Equal(t, 1, rule.CurrentRequestsInWindow())
}

func TestRunner_DefaultCapacity(t *testing.T) {
	limiter := ratelimit.NewLimiter(nil, mustRule(t, []string{"capped"}, ratelimit.Limits{}, ratelimit.WithMaxConcurrent(2)))
	runner := NewRunner(limiter, Options{MaxWorkersPerResource: 5})
	defer runner.Shutdown(context.Background())

	release := make(chan struct{})
	block := func(context.Context) (*Usage, error) {
		<-release
		return nil, nil
	}
	runner.Submit(Task{Resource: "capped", Action: block}, Task{Resource: "other", Action: block})

	assert.Equal(t, 2, runner.Scheduler("capped").Capacity())
	assert.Equal(t, 5, runner.Scheduler("other").Capacity())
	close(release)
	runAll(t, runner)
}

func TestHandle_WaitContext(t *testing.T) {
	h := newHandle(Task{ID: "t", Resource: "r"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "t", res.TaskID)

	h.finish(Result{Err: fmt.Errorf("wrapped: %w", ErrNilAction)})
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNilAction)
}

func TestRunner_TaskContextCarriesValues(t *testing.T) {
	rule := mustRule(t, []string{"gpt-4o"}, ratelimit.Limits{})
	base, cancelBase := context.WithCancel(logging.WithRunID(context.Background(), "run-1"))
	runner := NewRunner(ratelimit.NewLimiter(nil, rule), Options{BaseContext: base})

	type seen struct{ run, task, resource, rule string }
	got := make(chan seen, 1)
	// Canceling the base context must not cancel the runner.
	cancelBase()
	h := runner.Submit(Task{ID: "t-1", Resource: "gpt-4o", Action: func(ctx context.Context) (*Usage, error) {
		got <- seen{logging.GetRunID(ctx), logging.GetTaskID(ctx), logging.GetResource(ctx), logging.GetRule(ctx)}
		return nil, ctx.Err()
	}})[0]
	runAll(t, runner)

	require.NoError(t, h.Result().Err)
	assert.Equal(t, seen{"run-1", "t-1", "gpt-4o", rule.Name()}, <-got)
}
