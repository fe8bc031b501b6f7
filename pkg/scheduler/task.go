package scheduler

import (
	"context"
	"time"
)

// Usage is the actual token consumption reported by a task action.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Action performs the rate-limited work of a task.
//
// A nil *Usage with a nil error records the task's estimates as the actual
// usage. A non-nil error cancels the reservation and no usage is recorded.
type Action func(ctx context.Context) (*Usage, error)

// Task is one unit of work against a resource.
type Task struct {
	// ID identifies the task in results, logs, and spans.
	// A UUID is assigned on submission when empty.
	ID string

	// Resource is the identifier used for queueing and rule lookup.
	// It is passed through the runner's resolver before use.
	Resource string

	// EstimatedInputTokens is reserved against the rule before the action runs.
	EstimatedInputTokens int64

	// EstimatedOutputTokens is reserved against the rule before the action runs.
	EstimatedOutputTokens int64

	// Action is the work to perform. It must not be nil.
	Action Action
}

// Result is the outcome of a task.
type Result struct {
	TaskID   string
	Resource string

	// Rule is the name of the rule that admitted the task. Empty when the
	// task never reached admission.
	Rule string

	// Usage is the usage recorded for the task.
	Usage Usage

	// Attempts counts admission attempts, including capacity rejections.
	Attempts int

	StartedAt  time.Time
	FinishedAt time.Time

	// Err is the action error, a *ratelimit.ConfigurationError when the
	// task can never fit the rule, or the runner's cancellation cause.
	Err error
}

// Duration returns how long the action ran.
func (r Result) Duration() time.Duration {
	if r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Handle tracks a submitted task.
type Handle struct {
	task        Task
	submittedAt time.Time
	attempts    int
	done        chan struct{}
	result      Result
}

func newHandle(t Task) *Handle {
	return &Handle{task: t, submittedAt: time.Now(), done: make(chan struct{})}
}

// ID returns the task ID.
func (h *Handle) ID() string { return h.task.ID }

// Task returns the submitted task.
func (h *Handle) Task() Task { return h.task }

// Done is closed when the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the task result. It blocks until the task finishes.
func (h *Handle) Result() Result {
	<-h.done
	return h.result
}

// Wait blocks until the task finishes or ctx is done. It returns the task's
// own error, or ctx.Err() if the wait was abandoned.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, h.result.Err
	case <-ctx.Done():
		return Result{TaskID: h.task.ID, Resource: h.task.Resource}, ctx.Err()
	}
}

func (h *Handle) finish(r Result) {
	r.TaskID = h.task.ID
	r.Resource = h.task.Resource
	r.Attempts = h.attempts
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now()
	}
	h.result = r
	close(h.done)
}
