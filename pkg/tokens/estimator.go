package tokens

import (
	"math"
	"sort"
	"strings"

	"mercator-hq/bulkllm/pkg/config"
)

// Overheads added on top of the text estimate.
const (
	messageOverhead      = 3
	roleOverhead         = 1
	conversationOverhead = 3
)

// Message is one chat message to estimate.
type Message struct {
	Role    string
	Name    string
	Content string
}

// Estimate is the reservation size for one task.
type Estimate struct {
	InputTokens  int64
	OutputTokens int64
}

// Total returns input plus output tokens.
func (e Estimate) Total() int64 { return e.InputTokens + e.OutputTokens }

type ratio struct {
	prefix        string
	charsPerToken float64
}

// Estimator estimates tokens from text length. It is immutable and safe for
// concurrent use.
type Estimator struct {
	ratios        []ratio
	def           float64
	minCompletion int64
	maxCompletion int64
}

// NewEstimator builds an estimator from configuration. The "default" entry
// of the ratio table applies to resources no prefix matches.
func NewEstimator(cfg config.EstimationConfig) *Estimator {
	e := &Estimator{
		def:           config.DefaultCharsPerToken,
		minCompletion: cfg.MinCompletionTokens,
		maxCompletion: cfg.MaxCompletionTokens,
	}
	for prefix, r := range cfg.CharsPerToken {
		if prefix == config.DefaultEstimationKey {
			e.def = r
			continue
		}
		e.ratios = append(e.ratios, ratio{prefix: prefix, charsPerToken: r})
	}
	// Longest prefix first so "openai/gpt-4o-mini" beats "openai/".
	sort.Slice(e.ratios, func(i, j int) bool {
		if len(e.ratios[i].prefix) != len(e.ratios[j].prefix) {
			return len(e.ratios[i].prefix) > len(e.ratios[j].prefix)
		}
		return e.ratios[i].prefix < e.ratios[j].prefix
	})
	return e
}

// CharsPerToken returns the ratio used for resource.
func (e *Estimator) CharsPerToken(resource string) float64 {
	for _, r := range e.ratios {
		if strings.HasPrefix(resource, r.prefix) {
			return r.charsPerToken
		}
	}
	return e.def
}

// Text estimates the tokens in text. Non-empty text is at least one token.
func (e *Estimator) Text(resource, text string) int64 {
	if text == "" {
		return 0
	}
	n := int64(math.Round(float64(len(text)) / e.CharsPerToken(resource)))
	if n < 1 {
		n = 1
	}
	return n
}

// Messages estimates the prompt tokens of a conversation including
// formatting overhead.
func (e *Estimator) Messages(resource string, msgs []Message) int64 {
	if len(msgs) == 0 {
		return 0
	}
	var total int64
	for _, m := range msgs {
		total += roleOverhead + messageOverhead
		total += e.Text(resource, m.Content)
		total += e.Text(resource, m.Name)
	}
	return total + conversationOverhead
}

// Completion estimates output tokens. A positive maxTokens is taken as is;
// otherwise a third of the prompt, clamped to the configured bounds.
func (e *Estimator) Completion(promptTokens, maxTokens int64) int64 {
	if maxTokens > 0 {
		return maxTokens
	}
	n := promptTokens / 3
	if n < e.minCompletion {
		n = e.minCompletion
	}
	if e.maxCompletion > 0 && n > e.maxCompletion {
		n = e.maxCompletion
	}
	return n
}

// Estimate sizes a reservation for msgs against resource.
func (e *Estimator) Estimate(resource string, msgs []Message, maxTokens int64) Estimate {
	in := e.Messages(resource, msgs)
	return Estimate{InputTokens: in, OutputTokens: e.Completion(in, maxTokens)}
}
