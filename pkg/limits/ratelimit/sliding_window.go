package ratelimit

import (
	"sort"
	"time"
)

// slidingWindow holds the completed ledger of a rule.
//
// Entries are kept sorted by completion time so pruning only ever trims the
// head and the next expiry is always the first entry. Running totals are
// maintained on insert and prune so capacity checks never walk the slice.
//
// slidingWindow is not safe for concurrent use; the owning Rule guards it.
type slidingWindow struct {
	length       time.Duration
	entries      []usageEntry
	inputTokens  int64
	outputTokens int64
}

type usageEntry struct {
	completedAt  time.Time
	inputTokens  int64
	outputTokens int64
}

func newSlidingWindow(length time.Duration) *slidingWindow {
	if length <= 0 {
		length = DefaultWindow
	}
	return &slidingWindow{length: length}
}

// add inserts an entry, preserving completion order.
func (w *slidingWindow) add(e usageEntry) {
	n := len(w.entries)
	if n == 0 || !e.completedAt.Before(w.entries[n-1].completedAt) {
		w.entries = append(w.entries, e)
	} else {
		i := sort.Search(n, func(i int) bool {
			return w.entries[i].completedAt.After(e.completedAt)
		})
		w.entries = append(w.entries, usageEntry{})
		copy(w.entries[i+1:], w.entries[i:])
		w.entries[i] = e
	}
	w.inputTokens += e.inputTokens
	w.outputTokens += e.outputTokens
}

// prune drops entries that completed a full window or more before now and
// returns how many were removed.
func (w *slidingWindow) prune(now time.Time) int {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.entries) && !w.entries[i].completedAt.After(cutoff) {
		w.inputTokens -= w.entries[i].inputTokens
		w.outputTokens -= w.entries[i].outputTokens
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
	return i
}

func (w *slidingWindow) requests() int {
	return len(w.entries)
}

// nextExpiry returns when the oldest entry leaves the window.
func (w *slidingWindow) nextExpiry() (time.Time, bool) {
	if len(w.entries) == 0 {
		return time.Time{}, false
	}
	return w.entries[0].completedAt.Add(w.length), true
}
