package dispatcher_test

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/hpcforge/paramrun/internal/dispatcher"
	"github.com/hpcforge/paramrun/internal/executor/local"
	"github.com/hpcforge/paramrun/internal/generator"
	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
	"github.com/hpcforge/paramrun/internal/policy"
	"github.com/hpcforge/paramrun/internal/progress"
	"github.com/hpcforge/paramrun/internal/store"
)

func buildSpace(t *testing.T) *paramspace.Space {
	t.Helper()
	params := []models.Parameter{
		&models.RangeParameter{ParamName: "x", Type: models.Real, Lower: 0, Upper: 1},
	}
	space, err := paramspace.Build(params, nil, models.ResultSpecs{{Name: "loss", Direction: models.Minimize}})
	if err != nil {
		t.Fatalf("paramspace.Build failed: %v", err)
	}
	return space
}

func newHarness(t *testing.T, runProgram string, cfg dispatcher.Config) *dispatcher.Dispatcher {
	t.Helper()
	dir := t.TempDir()
	space := buildSpace(t)
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}

	st, err := store.New(dir, "exp", "00000000-0000-4000-8000-000000000000", space.Parameters, nil, specs, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	src := generator.NewSobolSource(space, 1)
	exec := local.New(runProgram, dir)
	pol := policy.New(models.OrchestratorConfig{})
	counters, err := progress.NewCounters(dir)
	if err != nil {
		t.Fatalf("progress.NewCounters failed: %v", err)
	}
	usage := progress.NewUsageRecorder()

	cfg.TickInterval = 10 * time.Millisecond
	return dispatcher.New(st, src, exec, pol, specs, counters, usage, cfg)
}

func TestRun_CompletesAtMaxEval(t *testing.T) {
	d := newHarness(t, `echo "R1: $x"`, dispatcher.Config{
		MaxEval:     3,
		Parallelism: 2,
		NumWorkers:  2,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 3 {
		t.Errorf("expected 3 completed trials, got %d", summary.Completed)
	}
	if summary.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", summary.ExitCode)
	}
	if summary.Submitted < 3 {
		t.Errorf("expected at least 3 submitted trials, got %d", summary.Submitted)
	}
}

func TestRun_AllTrialsFailedExitCode(t *testing.T) {
	d := newHarness(t, "exit 7", dispatcher.Config{
		MaxEval:     2,
		Parallelism: 1,
		NumWorkers:  1,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Completed != 0 || summary.Failed == 0 {
		t.Fatalf("expected every trial to fail, got completed=%d failed=%d", summary.Completed, summary.Failed)
	}
	if summary.ExitCode != 47 {
		t.Errorf("expected ExitAllTrialsFailed (47), got %d", summary.ExitCode)
	}
}

func TestRun_SearchSpaceExhaustion(t *testing.T) {
	d := newHarness(t, `echo "R1: $x"`, dispatcher.Config{
		MaxEval:             100,
		Parallelism:         0,
		NumWorkers:          1,
		ExhaustionThreshold: 3,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !summary.SearchExhausted {
		t.Error("expected search space exhaustion to be declared")
	}
	if summary.ExitCode != 87 {
		t.Errorf("expected ExitSearchSpaceExhausted (87), got %d", summary.ExitCode)
	}
}

func TestRun_AbandonsOutstandingOnSignal(t *testing.T) {
	d := newHarness(t, "sleep 5", dispatcher.Config{
		MaxEval:     5,
		Parallelism: 1,
		NumWorkers:  1,
	})

	go func() {
		time.Sleep(30 * time.Millisecond)
		syscall.Kill(syscall.Getpid(), syscall.SIGINT)
	}()

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.ExitCode != 130 {
		t.Errorf("expected ExitSIGINT (130), got %d", summary.ExitCode)
	}
	if summary.Abandoned == 0 {
		t.Error("expected at least one abandoned trial")
	}
}

func TestRun_OrchestratorPolicyExcludesHostAndAbandons(t *testing.T) {
	dir := t.TempDir()
	space := buildSpace(t)
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}

	st, err := store.New(dir, "exp", "00000000-0000-4000-8000-000000000001", space.Parameters, nil, specs, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	src := generator.NewSobolSource(space, 1)
	exec := local.New(`echo "CUDA out of memory"`, dir)
	pol := policy.New(models.OrchestratorConfig{Errors: []models.OrchestratorRule{
		{Name: "oom", MatchStrings: []string{"CUDA out of memory"}, Behavior: models.ExcludeNode},
	}})
	counters, err := progress.NewCounters(dir)
	if err != nil {
		t.Fatalf("progress.NewCounters failed: %v", err)
	}
	usage := progress.NewUsageRecorder()

	d := dispatcher.New(st, src, exec, pol, specs, counters, usage, dispatcher.Config{
		MaxEval:      2,
		Parallelism:  1,
		NumWorkers:   1,
		TickInterval: 10 * time.Millisecond,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Abandoned == 0 {
		t.Error("expected the policy-matched trial to be abandoned")
	}
	if summary.Completed != 0 {
		t.Errorf("expected no completed trials, got %d", summary.Completed)
	}
}

func TestRun_OrchestratorPolicyMatchesStderr(t *testing.T) {
	dir := t.TempDir()
	space := buildSpace(t)
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}

	st, err := store.New(dir, "exp", "00000000-0000-4000-8000-000000000002", space.Parameters, nil, specs, nil)
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	src := generator.NewSobolSource(space, 1)
	exec := local.New(`echo "CUDA out of memory" 1>&2`, dir)
	pol := policy.New(models.OrchestratorConfig{Errors: []models.OrchestratorRule{
		{Name: "oom", MatchStrings: []string{"CUDA out of memory"}, Behavior: models.ExcludeNode},
	}})
	counters, err := progress.NewCounters(dir)
	if err != nil {
		t.Fatalf("progress.NewCounters failed: %v", err)
	}
	usage := progress.NewUsageRecorder()

	d := dispatcher.New(st, src, exec, pol, specs, counters, usage, dispatcher.Config{
		MaxEval:      2,
		Parallelism:  1,
		NumWorkers:   1,
		TickInterval: 10 * time.Millisecond,
	})

	summary, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Abandoned == 0 {
		t.Error("expected the stderr-only policy match to abandon a trial")
	}
	if summary.Completed != 0 {
		t.Errorf("expected no completed trials, got %d", summary.Completed)
	}
}
