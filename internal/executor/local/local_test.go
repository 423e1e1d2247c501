package local_test

import (
	"context"
	"strings"
	"testing"

	"github.com/hpcforge/paramrun/internal/executor/local"
	"github.com/hpcforge/paramrun/internal/models"
)

func TestExecutor_SubmitAndOutput(t *testing.T) {
	dir := t.TempDir()
	exec := local.New(`echo "x=$x"; echo "err=$x" 1>&2`, dir)

	trial := models.Trial{Index: 0, Params: map[string]string{"x": "5"}}
	job, err := exec.Submit(context.Background(), trial)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := make(chan struct{})
	go func() {
		for {
			state, err := exec.Poll(context.Background(), job)
			if err != nil {
				t.Errorf("Poll failed: %v", err)
				close(deadline)
				return
			}
			if state == models.JobCompleted || state == models.JobFailed {
				close(deadline)
				return
			}
		}
	}()
	<-deadline

	out, err := exec.Output(context.Background(), job)
	if err != nil {
		t.Fatalf("Output failed: %v", err)
	}
	if !strings.Contains(string(out), "x=5") {
		t.Errorf("expected output to contain x=5, got %q", out)
	}

	errOut, err := exec.StderrOutput(context.Background(), job)
	if err != nil {
		t.Fatalf("StderrOutput failed: %v", err)
	}
	if !strings.Contains(string(errOut), "err=5") {
		t.Errorf("expected stderr to contain err=5, got %q", errOut)
	}
}

func TestExecutor_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	exec := local.New("exit 7", dir)

	trial := models.Trial{Index: 1}
	job, err := exec.Submit(context.Background(), trial)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	var state models.JobState
	for state != models.JobCompleted && state != models.JobFailed {
		state, err = exec.Poll(context.Background(), job)
		if err != nil {
			t.Fatalf("Poll failed: %v", err)
		}
	}
	if state != models.JobFailed {
		t.Errorf("expected JobFailed, got %s", state)
	}
}

func TestExecutor_Cancel(t *testing.T) {
	dir := t.TempDir()
	exec := local.New("sleep 30", dir)

	job, err := exec.Submit(context.Background(), models.Trial{Index: 2})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := exec.Cancel(context.Background(), job); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
}
