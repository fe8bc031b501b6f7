package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"mercator-hq/bulkllm/pkg/limits/ratelimit"
	"mercator-hq/bulkllm/pkg/telemetry/logging"
	"mercator-hq/bulkllm/pkg/telemetry/tracing"
)

// ErrTaskPanicked wraps the value recovered from a panicking task action.
var ErrTaskPanicked = errors.New("task action panicked")

// Scheduler drains the FIFO queue of one resource.
//
// A worker goroutine pops the queue head and asks the resource's rule for
// admission. Rejected tasks go to the tail of the queue and the worker
// backs off on the rule's release notification. Admitted tasks run on their
// own goroutines, at most Capacity at a time.
//
// The worker stops once the queue is empty and no task is in flight. Both
// are checked under the scheduler mutex in the same critical section that
// clears the active flag, and enqueue takes the same mutex, so a submission
// either reaches the running worker or starts a new one.
type Scheduler struct {
	resource   string
	rule       *ratelimit.Rule
	capacity   int
	slots      *semaphore.Weighted
	retryDelay time.Duration

	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger

	mu       sync.Mutex
	queue    []*Handle
	inFlight int
	active   bool

	// wake holds at most one pending notification for an idle-waiting worker.
	wake chan struct{}
}

func newScheduler(resource string, rule *ratelimit.Rule, capacity int, r *Runner) *Scheduler {
	return &Scheduler{
		resource:   resource,
		rule:       rule,
		capacity:   capacity,
		slots:      semaphore.NewWeighted(int64(capacity)),
		retryDelay: r.retryDelay,
		metrics:    r.metrics,
		tracer:     r.tracer,
		logger:     r.logger.With("resource", resource, "rule", rule.Name()),
		wake:       make(chan struct{}, 1),
	}
}

// Resource returns the resource identifier this scheduler serves.
func (s *Scheduler) Resource() string { return s.resource }

// Rule returns the rule governing admission.
func (s *Scheduler) Rule() *ratelimit.Rule { return s.rule }

// Capacity returns the maximum number of concurrently running tasks.
func (s *Scheduler) Capacity() int { return s.capacity }

// QueueLen returns the number of tasks waiting for admission.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight returns the number of tasks dequeued and not yet finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Active reports whether a worker is running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// enqueue appends tasks to the queue. It reports whether the caller must
// start a worker.
func (s *Scheduler) enqueue(hs []*Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, hs...)
	s.metrics.setQueue(s.resource, len(s.queue), s.inFlight)
	s.signal()

	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the worker loop. It returns once the scheduler is drained.
// Task goroutines are tracked by tasks.
func (s *Scheduler) run(ctx context.Context, tasks *sync.WaitGroup) {
	s.logger.Debug("worker started")
	for {
		h, ok := s.next()
		if !ok {
			s.logger.Debug("worker drained")
			return
		}
		if h == nil {
			// Queue empty with tasks still running.
			<-s.wake
			continue
		}
		s.admit(ctx, h, tasks)
	}
}

// next pops the queue head and counts it as in flight. It returns
// (nil, true) when the queue is empty but tasks are still running, and
// (nil, false) after marking the scheduler idle.
func (s *Scheduler) next() (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		if s.inFlight == 0 {
			s.active = false
			return nil, false
		}
		return nil, true
	}

	h := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.inFlight++
	s.metrics.setQueue(s.resource, len(s.queue), s.inFlight)
	return h, true
}

func (s *Scheduler) admit(ctx context.Context, h *Handle, tasks *sync.WaitGroup) {
	if err := ctx.Err(); err != nil {
		s.abandon(h, Result{Err: err}, "cancelled")
		return
	}

	in, out := h.task.EstimatedInputTokens, h.task.EstimatedOutputTokens
	h.attempts++

	ok, err := s.rule.HasCapacity(in, out)
	if err != nil {
		s.logger.Warn("task can never be admitted", "task_id", h.task.ID, "error", err)
		s.abandon(h, Result{Rule: s.rule.Name(), Err: err}, "rejected")
		return
	}
	if !ok {
		s.requeue(ctx, h)
		return
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		s.abandon(h, Result{Rule: s.rule.Name(), Err: err}, "cancelled")
		return
	}

	res, err := s.rule.ReserveCapacity(in, out)
	if err != nil {
		s.slots.Release(1)
		if errors.Is(err, ratelimit.ErrCapacityExceeded) {
			s.requeue(ctx, h)
			return
		}
		s.abandon(h, Result{Rule: s.rule.Name(), Err: err}, "rejected")
		return
	}

	s.metrics.admitted(s.resource, time.Since(h.submittedAt))
	tasks.Add(1)
	go s.execute(ctx, h, res, tasks)
}

// requeue puts a capacity-rejected task behind later arrivals and waits
// for the rule to release capacity or for the retry delay.
func (s *Scheduler) requeue(ctx context.Context, h *Handle) {
	s.mu.Lock()
	s.queue = append(s.queue, h)
	s.inFlight--
	s.metrics.setQueue(s.resource, len(s.queue), s.inFlight)
	s.mu.Unlock()

	s.metrics.requeued(s.resource)
	_ = s.rule.Wait(ctx, s.retryDelay)
}

// abandon finishes a task that never ran.
func (s *Scheduler) abandon(h *Handle, r Result, outcome string) {
	h.finish(r)
	s.metrics.finished(s.resource, outcome, 0)

	s.mu.Lock()
	s.inFlight--
	s.metrics.setQueue(s.resource, len(s.queue), s.inFlight)
	s.mu.Unlock()
}

// execute runs an admitted task and finalizes its reservation before the
// slot is released.
func (s *Scheduler) execute(ctx context.Context, h *Handle, res *ratelimit.Reservation, tasks *sync.WaitGroup) {
	defer tasks.Done()

	ctx = logging.WithResource(ctx, s.resource)
	ctx = logging.WithTaskID(ctx, h.task.ID)
	ctx = logging.WithRule(ctx, s.rule.Name())
	ctx, span := s.tracer.Start(ctx, "scheduler.task")
	tracing.SetTaskAttributes(span, h.task.ID, s.resource, s.rule.Name())
	tracing.SetRetryAttribute(span, h.attempts-1)
	defer span.End()

	r := Result{Rule: s.rule.Name(), StartedAt: time.Now()}
	usage, err := invoke(ctx, h.task.Action)
	if err == nil {
		if usage == nil {
			usage = &Usage{InputTokens: h.task.EstimatedInputTokens, OutputTokens: h.task.EstimatedOutputTokens}
		}
		err = res.RecordUsage(usage.InputTokens, usage.OutputTokens)
	}
	if err != nil {
		res.Cancel()
		r.Err = err
	} else {
		r.Usage = *usage
		tracing.SetTokenAttributes(span, usage.InputTokens, usage.OutputTokens)
	}
	r.FinishedAt = time.Now()
	s.slots.Release(1)

	outcome := "succeeded"
	if r.Err != nil {
		outcome = "failed"
		tracing.SetError(span, r.Err)
		s.logger.WarnContext(ctx, "task failed", "attempts", h.attempts, "error", r.Err)
	} else {
		s.logger.DebugContext(ctx, "task finished",
			"input_tokens", r.Usage.InputTokens,
			"output_tokens", r.Usage.OutputTokens,
			"duration", r.Duration(),
		)
	}
	h.finish(r)
	s.metrics.finished(s.resource, outcome, r.Duration())

	s.mu.Lock()
	s.inFlight--
	s.metrics.setQueue(s.resource, len(s.queue), s.inFlight)
	s.mu.Unlock()
	s.signal()
}

func invoke(ctx context.Context, action Action) (usage *Usage, err error) {
	defer func() {
		if p := recover(); p != nil {
			usage, err = nil, fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()
	return action(ctx)
}
