package progress_test

import (
	"testing"

	"github.com/hpcforge/paramrun/internal/progress"
)

func TestCounters_IncrementAndCount(t *testing.T) {
	c, err := progress.NewCounters(t.TempDir())
	if err != nil {
		t.Fatalf("NewCounters failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := c.Increment(progress.SubmittedJobs); err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
	}
	n, err := c.Count(progress.SubmittedJobs)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}
}

func TestCounters_CountOfMissingFileIsZero(t *testing.T) {
	c, err := progress.NewCounters(t.TempDir())
	if err != nil {
		t.Fatalf("NewCounters failed: %v", err)
	}
	n, err := c.Count(progress.FailedJobs)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestPhaseSteps_NamesFile(t *testing.T) {
	if got := progress.PhaseSteps("warmup"); got != "phase_warmup_steps" {
		t.Errorf("expected phase_warmup_steps, got %s", got)
	}
}
