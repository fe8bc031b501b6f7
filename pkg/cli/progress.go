package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports batch progress.
type ProgressReporter interface {
	Start(total int64)
	Increment(failed bool)
	Finish()
}

// NewProgressReporter returns a bar that redraws in place when w is a
// terminal and a reporter that prints only the summary line otherwise.
// A nil w means os.Stderr.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	return &barProgress{writer: w, live: IsTerminal(w)}
}

type barProgress struct {
	mu      sync.Mutex
	writer  io.Writer
	live    bool
	total   int64
	done    int64
	failed  int64
	started time.Time
}

func (p *barProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done, p.failed = 0, 0
	p.started = time.Now()
	if p.live {
		p.render()
	}
}

func (p *barProgress) Increment(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	if failed {
		p.failed++
	}
	if p.live {
		p.render()
	}
}

func (p *barProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.live {
		p.render()
		fmt.Fprintln(p.writer)
	}
	fmt.Fprintf(p.writer, "%d/%d tasks finished, %d failed in %s\n",
		p.done, p.total, p.failed, time.Since(p.started).Round(time.Millisecond))
}

func (p *barProgress) render() {
	if p.total == 0 {
		return
	}

	const width = 40
	percent := float64(p.done) / float64(p.total) * 100
	filled := int(float64(width) * percent / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	var rate float64
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.done) / elapsed
	}
	fmt.Fprintf(p.writer, "\r[%s] %.1f%% (%d/%d) %.1f tasks/s",
		bar, percent, p.done, p.total, rate)
}
