// Package log provides the terminal progress indicator for long
// simulation runs.
package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Tracker renders a single-line progress bar with ETA. Updates are
// throttled so per-step callbacks from a tight simulation loop stay
// cheap. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	name      string
	out       io.Writer
	start     time.Time
	lastDraw  time.Time
	throttle  time.Duration
	barWidth  int
	done      bool
	lastTotal int
}

// NewTracker creates a progress tracker writing to out. A nil out
// disables rendering entirely.
func NewTracker(name string, out io.Writer) *Tracker {
	return &Tracker{
		name:     name,
		out:      out,
		start:    time.Now(),
		throttle: 100 * time.Millisecond,
		barWidth: 20,
	}
}

// Update renders progress for done of total steps. Redraws are skipped
// inside the throttle window except for the final step.
func (t *Tracker) Update(done, total int) {
	if t.out == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}

	now := time.Now()
	if done < total && now.Sub(t.lastDraw) < t.throttle {
		return
	}
	t.lastDraw = now
	t.lastTotal = total

	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(t.name)

	if total > 0 {
		filled := t.barWidth * done / total
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", t.barWidth-filled))
		b.WriteString(fmt.Sprintf("] %d/%d (%.1f%%)", done, total, float64(done)/float64(total)*100))
	}

	if done > 0 && done < total {
		elapsed := time.Since(t.start)
		rate := float64(done) / elapsed.Seconds()
		eta := time.Duration(float64(total-done)/rate) * time.Second
		b.WriteString(fmt.Sprintf(" ETA: %v", eta.Round(time.Second)))
	}

	fmt.Fprint(t.out, b.String())
}

// Finish closes out the bar with a completion line.
func (t *Tracker) Finish() {
	if t.out == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true

	fmt.Fprintf(t.out, "\r\033[K%s completed (%d steps, %v)\n",
		t.name, t.lastTotal, time.Since(t.start).Round(time.Millisecond))
}

// Fail closes out the bar with a failure line.
func (t *Tracker) Fail(reason string) {
	if t.out == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true

	fmt.Fprintf(t.out, "\r\033[K%s failed: %s (%v)\n",
		t.name, reason, time.Since(t.start).Round(time.Millisecond))
}
