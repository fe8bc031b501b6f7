package limits

import (
	"fmt"
	"time"

	"mercator-hq/bulkllm/pkg/config"
	"mercator-hq/bulkllm/pkg/limits/ratelimit"
)

// RuleFromConfig builds a rate limit rule from its configuration.
// Extra options are applied after the configured ones.
func RuleFromConfig(rc config.RuleConfig, window time.Duration, opts ...ratelimit.Option) (*ratelimit.Rule, error) {
	limits := ratelimit.Limits{
		RequestsPerWindow:     rc.RequestsPerWindow,
		TotalTokensPerWindow:  rc.TotalTokensPerWindow,
		InputTokensPerWindow:  rc.InputTokensPerWindow,
		OutputTokensPerWindow: rc.OutputTokensPerWindow,
	}

	base := []ratelimit.Option{ratelimit.WithMaxConcurrent(rc.MaxConcurrent)}
	if rc.Name != "" {
		base = append(base, ratelimit.WithName(rc.Name))
	}
	if window > 0 {
		base = append(base, ratelimit.WithWindow(window))
	}

	rule, err := ratelimit.NewRule(rc.Patterns, rc.Regex, limits, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", rc.Name, err)
	}
	return rule, nil
}

// NewLimiterFromConfig builds a limiter holding the configured rules in
// order plus an unbounded default rule sharing the same window.
func NewLimiterFromConfig(cfg config.RateLimitsConfig, opts ...ratelimit.Option) (*ratelimit.Limiter, error) {
	rules := make([]*ratelimit.Rule, 0, len(cfg.Rules))
	for _, rc := range cfg.Rules {
		rule, err := RuleFromConfig(rc, cfg.Window, opts...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	defOpts := append([]ratelimit.Option(nil), opts...)
	if cfg.Window > 0 {
		defOpts = append(defOpts, ratelimit.WithWindow(cfg.Window))
	}
	return ratelimit.NewLimiter(ratelimit.NewDefaultRule(defOpts...), rules...), nil
}
