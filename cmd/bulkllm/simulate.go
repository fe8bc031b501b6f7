package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"mercator-hq/bulkllm/pkg/cli"
	"mercator-hq/bulkllm/pkg/scheduler"
	"mercator-hq/bulkllm/pkg/telemetry/logging"
	"mercator-hq/bulkllm/pkg/telemetry/tracing"
	"mercator-hq/bulkllm/pkg/tokens"
)

var errSimulatedFailure = errors.New("simulated task failure")

var simulateFlags struct {
	tasks        int
	resources    []string
	inputTokens  int64
	outputTokens int64
	promptChars  int
	latency      time.Duration
	jitter       float64
	failRate     float64
	seed         uint64
	timeout      time.Duration
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run synthetic tasks through the scheduler",
	Long: `Run synthetic tasks through the scheduler and the configured rate limits.

Each task sleeps for --latency (varied by --jitter) and reports its input
estimate and a random share of its output estimate as actual usage. With
--prompt-chars, each task carries a synthetic prompt of about that many
characters and its input estimate comes from the token estimator. Tasks are
spread round-robin over the --resource identifiers.

With a sqlite or redis journal the recorded usage survives the process, so a
second run starts with the windows left by the first.

Examples:
  # 100 tasks against one model
  bulkllm simulate --tasks 100 --resource openai/gpt-4o

  # Two models, 5% failures, stop after a minute
  bulkllm simulate -n 500 -r openai/gpt-4o -r anthropic/claude-3-5-sonnet --fail-rate 0.05 --timeout 1m`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.IntVarP(&simulateFlags.tasks, "tasks", "n", 20, "number of tasks")
	f.StringArrayVarP(&simulateFlags.resources, "resource", "r", []string{"openai/gpt-4o"}, "resource identifier (repeatable)")
	f.Int64Var(&simulateFlags.inputTokens, "input-tokens", 1000, "estimated input tokens per task")
	f.Int64Var(&simulateFlags.outputTokens, "output-tokens", 200, "estimated output tokens per task")
	f.IntVar(&simulateFlags.promptChars, "prompt-chars", 0, "size synthetic prompts in characters and estimate input tokens from them (0 = use --input-tokens)")
	f.DurationVar(&simulateFlags.latency, "latency", 200*time.Millisecond, "mean task duration")
	f.Float64Var(&simulateFlags.jitter, "jitter", 0.2, "relative latency variation (0-1)")
	f.Float64Var(&simulateFlags.failRate, "fail-rate", 0, "fraction of tasks that fail (0-1)")
	f.Uint64Var(&simulateFlags.seed, "seed", 1, "random seed")
	f.DurationVar(&simulateFlags.timeout, "timeout", 0, "stop the run after this long (0 = no limit)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := validateSimulateFlags(); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if simulateFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, simulateFlags.timeout)
		defer cancel()
	}

	a, err := newApp(ctx, cfg, appOptions{journal: true, background: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	if a.restored > 0 {
		a.logger.Info("restored usage from journal", "records", a.restored)
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := a.tel.Tracer.Start(ctx, "bulkllm.simulate")
	tracing.SetRunAttributes(span, runID, simulateFlags.tasks)
	defer span.End()

	tasks := syntheticTasks(a.estimator, simulateFlags.tasks, simulateFlags.seed)
	runner := a.runner(ctx)

	progress := cli.NewProgressReporter(cmd.ErrOrStderr())
	progress.Start(int64(len(tasks)))
	handles := runner.Submit(tasks...)

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *scheduler.Handle) {
			defer wg.Done()
			<-h.Done()
			progress.Increment(h.Result().Err != nil)
		}(h)
	}

	a.logger.InfoContext(ctx, "simulation started", "tasks", len(tasks), "resources", len(simulateFlags.resources))
	runErr := runner.Run(ctx)
	if runErr != nil {
		a.logger.WarnContext(ctx, "run interrupted, shutting down", "error", runErr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
		if err := runner.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("tasks still running at shutdown", "error", err)
		}
		cancel()
	}
	wg.Wait()
	progress.Finish()
	a.manager.RefreshGauges()

	if err := printTable(cmd, summarizeResults(handles)); err != nil {
		return err
	}
	if runErr != nil {
		tracing.SetError(span, runErr)
		return cli.NewCommandError("simulate", runErr)
	}
	return nil
}

func validateSimulateFlags() error {
	switch {
	case simulateFlags.tasks < 0:
		return fmt.Errorf("--tasks must not be negative")
	case len(simulateFlags.resources) == 0:
		return fmt.Errorf("at least one --resource is required")
	case simulateFlags.inputTokens < 0 || simulateFlags.outputTokens < 0 || simulateFlags.promptChars < 0:
		return fmt.Errorf("token estimates must not be negative")
	case simulateFlags.jitter < 0 || simulateFlags.jitter > 1:
		return fmt.Errorf("--jitter must be between 0 and 1")
	case simulateFlags.failRate < 0 || simulateFlags.failRate > 1:
		return fmt.Errorf("--fail-rate must be between 0 and 1")
	}
	return nil
}

// syntheticTasks builds n tasks spread round-robin over the configured
// resources. Latency, failures, prompt sizes and actual output tokens are
// drawn from a PCG source seeded with seed, so runs are reproducible.
func syntheticTasks(est *tokens.Estimator, n int, seed uint64) []scheduler.Task {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tasks := make([]scheduler.Task, n)
	for i := range tasks {
		resource := simulateFlags.resources[i%len(simulateFlags.resources)]
		estimate := tokens.Estimate{
			InputTokens:  simulateFlags.inputTokens,
			OutputTokens: simulateFlags.outputTokens,
		}
		if simulateFlags.promptChars > 0 {
			size := int(float64(simulateFlags.promptChars) * (1 + simulateFlags.jitter*(2*rng.Float64()-1)))
			estimate = est.Estimate(resource, syntheticPrompt(size), simulateFlags.outputTokens)
		}

		latency := time.Duration(float64(simulateFlags.latency) * (1 + simulateFlags.jitter*(2*rng.Float64()-1)))
		usage := scheduler.Usage{
			InputTokens:  estimate.InputTokens,
			OutputTokens: int64(float64(estimate.OutputTokens) * (0.5 + 0.5*rng.Float64())),
		}
		fail := rng.Float64() < simulateFlags.failRate
		tasks[i] = scheduler.Task{
			ID:                    fmt.Sprintf("sim-%04d", i),
			Resource:              resource,
			EstimatedInputTokens:  estimate.InputTokens,
			EstimatedOutputTokens: estimate.OutputTokens,
			Action:                syntheticAction(latency, usage, fail),
		}
	}
	return tasks
}

func syntheticPrompt(size int) []tokens.Message {
	return []tokens.Message{
		{Role: "system", Content: "You are a batch evaluation assistant."},
		{Role: "user", Content: strings.Repeat("lorem ipsum ", size/12+1)[:size]},
	}
}

func syntheticAction(latency time.Duration, usage scheduler.Usage, fail bool) scheduler.Action {
	return func(ctx context.Context) (*scheduler.Usage, error) {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		if fail {
			return nil, errSimulatedFailure
		}
		u := usage
		return &u, nil
	}
}

type resourceSummary struct {
	rule         string
	succeeded    int
	failed       int
	attempts     int
	inputTokens  int64
	outputTokens int64
	elapsed      time.Duration
}

// summarizeResults aggregates finished handles per resource.
func summarizeResults(handles []*scheduler.Handle) *cli.Table {
	byResource := make(map[string]*resourceSummary)
	for _, h := range handles {
		r := h.Result()
		s, ok := byResource[r.Resource]
		if !ok {
			s = &resourceSummary{}
			byResource[r.Resource] = s
		}
		if r.Rule != "" {
			s.rule = r.Rule
		}
		s.attempts += r.Attempts
		if r.Err != nil {
			s.failed++
			continue
		}
		s.succeeded++
		s.inputTokens += r.Usage.InputTokens
		s.outputTokens += r.Usage.OutputTokens
		s.elapsed += r.Duration()
	}

	resources := make([]string, 0, len(byResource))
	for res := range byResource {
		resources = append(resources, res)
	}
	sort.Strings(resources)

	t := cli.NewTable("RESOURCE", "RULE", "SUCCEEDED", "FAILED", "ATTEMPTS", "INPUT_TOKENS", "OUTPUT_TOKENS", "MEAN_DURATION")
	for _, res := range resources {
		s := byResource[res]
		var mean time.Duration
		if s.succeeded > 0 {
			mean = (s.elapsed / time.Duration(s.succeeded)).Round(time.Millisecond)
		}
		t.Append(res, s.rule, s.succeeded, s.failed, s.attempts, s.inputTokens, s.outputTokens, mean)
	}
	return t
}
