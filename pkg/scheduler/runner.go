package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/bulkllm/pkg/catalog"
	"mercator-hq/bulkllm/pkg/config"
	"mercator-hq/bulkllm/pkg/limits/ratelimit"
)

var (
	// ErrRunnerClosed is returned for tasks submitted after Shutdown.
	ErrRunnerClosed = errors.New("runner is shut down")

	// ErrNilAction is returned for tasks submitted without an action.
	ErrNilAction = errors.New("task has no action")
)

// Options configures a Runner.
type Options struct {
	// MaxWorkersPerResource caps concurrent tasks per resource when the
	// resource's rule sets no MaxConcurrent.
	// Default: 4
	MaxWorkersPerResource int

	// RetryDelay bounds the backoff after a capacity rejection.
	// Default: 100ms
	RetryDelay time.Duration

	// Resolver maps submitted resource identifiers to canonical ones.
	// Nil uses identifiers as given.
	Resolver catalog.Resolver

	// Metrics records queue and task metrics. Nil disables metrics.
	Metrics *Metrics

	// Tracer creates task spans. Nil disables tracing.
	Tracer trace.Tracer

	// Logger is the base logger. Default: slog.Default()
	Logger *slog.Logger

	// BaseContext supplies values such as the run ID and the parent span
	// to every task context. Its cancellation is ignored; use Shutdown.
	BaseContext context.Context
}

// OptionsFromConfig returns runner options for the scheduler section of
// the configuration.
func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		MaxWorkersPerResource: cfg.MaxWorkersPerResource,
		RetryDelay:            cfg.RetryDelay,
	}
}

// Runner owns one Scheduler per resource. Schedulers are created on first
// submission for a resource and discarded when drained.
//
// Example:
//
//	runner := scheduler.NewRunner(limiter, scheduler.Options{})
//	handles := runner.Submit(tasks...)
//	if err := runner.Run(ctx); err != nil {
//	    return err
//	}
//	for _, h := range handles {
//	    if r := h.Result(); r.Err != nil {
//	        log.Printf("task %s failed: %v", r.TaskID, r.Err)
//	    }
//	}
type Runner struct {
	limiter    *ratelimit.Limiter
	resolver   catalog.Resolver
	maxWorkers int
	retryDelay time.Duration
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	// ctx bounds every worker and task action. Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu         sync.Mutex
	schedulers map[string]*Scheduler
	workers    int
	idle       chan struct{}
	closed     bool
}

// NewRunner creates a runner admitting tasks through limiter.
func NewRunner(limiter *ratelimit.Limiter, opts Options) *Runner {
	if opts.MaxWorkersPerResource <= 0 {
		opts.MaxWorkersPerResource = config.DefaultMaxWorkersPerResource
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = config.DefaultRetryDelay
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("bulkllm/scheduler")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(base))
	idle := make(chan struct{})
	close(idle)

	return &Runner{
		limiter:    limiter,
		resolver:   opts.Resolver,
		maxWorkers: opts.MaxWorkersPerResource,
		retryDelay: opts.RetryDelay,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "scheduler"),
		ctx:        ctx,
		cancel:     cancel,
		schedulers: make(map[string]*Scheduler),
		idle:       idle,
	}
}

// Submit queues tasks and starts workers for resources without one.
// It returns one handle per task in submission order. Tasks rejected at
// submission have handles that are already done.
func (r *Runner) Submit(tasks ...Task) []*Handle {
	handles := make([]*Handle, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if r.resolver != nil {
			t.Resource = r.resolver.Resolve(r.ctx, t.Resource)
		}
		handles[i] = newHandle(t)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		for _, h := range handles {
			h.finish(Result{Err: ErrRunnerClosed})
		}
		return handles
	}

	byResource := make(map[string][]*Handle)
	var order []string
	for _, h := range handles {
		if h.task.Action == nil {
			h.finish(Result{Err: ErrNilAction})
			continue
		}
		res := h.task.Resource
		if _, ok := byResource[res]; !ok {
			order = append(order, res)
		}
		byResource[res] = append(byResource[res], h)
	}

	for _, res := range order {
		s := r.schedulerLocked(res)
		if s.enqueue(byResource[res]) {
			r.startWorkerLocked(s)
		}
	}
	return handles
}

// Run blocks until every resource's worker has drained and stopped, or
// until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting tasks, fails queued tasks with
// context.Canceled, cancels the context of running actions, and waits for
// them to finalize their reservations or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	if err := r.Run(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler returns the live scheduler of a resource, or nil when the
// resource is idle.
func (r *Runner) Scheduler(resource string) *Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.schedulers[resource]
}

// ActiveResources returns the number of resources with a live scheduler.
func (r *Runner) ActiveResources() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.schedulers)
}

func (r *Runner) schedulerLocked(resource string) *Scheduler {
	if s, ok := r.schedulers[resource]; ok {
		return s
	}
	rule := r.limiter.GetRule(resource)
	capacity := rule.MaxConcurrent()
	if capacity <= 0 {
		capacity = r.maxWorkers
	}
	s := newScheduler(resource, rule, capacity, r)
	r.schedulers[resource] = s
	return s
}

func (r *Runner) startWorkerLocked(s *Scheduler) {
	if r.workers == 0 {
		r.idle = make(chan struct{})
	}
	r.workers++
	r.metrics.workerStarted()

	go func() {
		s.run(r.ctx, &r.tasks)
		r.workerStopped(s)
	}()
}

func (r *Runner) workerStopped(s *Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A submission may have restarted the scheduler after its worker
	// decided to stop.
	if !s.Active() && r.schedulers[s.resource] == s {
		delete(r.schedulers, s.resource)
	}
	r.workers--
	r.metrics.workerStopped()
	if r.workers == 0 {
		close(r.idle)
	}
}
