// Package progress implements progress and accounting (C8): append-only
// line-count counters, worker-usage sampling, and the end-of-run report.
package progress

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Counter file names; the value of each file is its line count, so
// incrementing is a single append.
const (
	SubmittedJobs = "submitted_jobs"
	FailedJobs    = "failed_jobs"
	SucceededJobs = "succeeded_jobs"
)

// PhaseSteps names the per-phase step counter file, e.g. "phase_warmup_steps".
func PhaseSteps(phase string) string {
	return "phase_" + phase + "_steps"
}

// Counters manages the run directory's append-only counter files. Every
// write is append-plus-line-count; the dispatcher is the only writer, so
// the lack of file locking is intentional, not an oversight.
type Counters struct {
	dir string
	mu  sync.Mutex
}

// NewCounters opens (creating if necessary) a counters store rooted at dir.
func NewCounters(dir string) (*Counters, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("progress: creating counters dir: %w", err)
	}
	return &Counters{dir: dir}, nil
}

// Increment appends one line to the named counter file and returns its
// new total line count.
func (c *Counters) Increment(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(c.dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, fmt.Errorf("progress: opening counter %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.WriteString("1\n"); err != nil {
		return 0, fmt.Errorf("progress: appending to counter %s: %w", name, err)
	}
	return c.countLocked(name)
}

// Count returns a counter's current value without incrementing it.
func (c *Counters) Count(name string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.countLocked(name)
}

func (c *Counters) countLocked(name string) (int, error) {
	path := filepath.Join(c.dir, name)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("progress: reading counter %s: %w", name, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("progress: scanning counter %s: %w", name, err)
	}
	return n, nil
}
