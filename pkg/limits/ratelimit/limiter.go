package ratelimit

import "sync"

// Limiter is the registry that maps resource identifiers to rules.
//
// Lookup precedence:
//
//  1. A pattern equal to the identifier, on any registered rule
//  2. A regex rule whose pattern matches, first registered wins
//  3. The unbounded default rule
//
// Rules are immutable once registered apart from their ledgers.
type Limiter struct {
	mu    sync.RWMutex
	rules []*Rule
	def   *Rule
}

// NewLimiter creates a registry with the given fallback rule.
// A nil def gets an unbounded rule named DefaultRuleName.
//
// Example:
//
//	limiter := NewLimiter(nil)
//	limiter.AddRule(gpt4o)
//	rule := limiter.GetRule("openai/gpt-4o")
func NewLimiter(def *Rule, rules ...*Rule) *Limiter {
	if def == nil {
		def = NewDefaultRule()
	}
	l := &Limiter{def: def}
	for _, r := range rules {
		l.AddRule(r)
	}
	return l
}

// AddRule appends a rule to the registry.
func (l *Limiter) AddRule(r *Rule) {
	if r == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rules = append(l.rules, r)
}

// GetRule returns the rule governing a resource identifier.
func (l *Limiter) GetRule(id string) *Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, r := range l.rules {
		if r.matchesExact(id) {
			return r
		}
	}
	for _, r := range l.rules {
		if r.isRegex && r.matchesPattern(id) {
			return r
		}
	}
	return l.def
}

// Rules returns the registered rules in registration order.
func (l *Limiter) Rules() []*Rule {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Rule(nil), l.rules...)
}

// Default returns the fallback rule.
func (l *Limiter) Default() *Rule {
	return l.def
}

// IsDefault reports whether r is the fallback rule.
func (l *Limiter) IsDefault(r *Rule) bool {
	return r == l.def
}

// Unmatched returns the identifiers that resolve to the default rule,
// preserving input order and dropping duplicates.
func (l *Limiter) Unmatched(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if l.IsDefault(l.GetRule(id)) {
			missing = append(missing, id)
		}
	}
	return missing
}
