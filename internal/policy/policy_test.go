package policy_test

import (
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/policy"
)

func rules() models.OrchestratorConfig {
	return models.OrchestratorConfig{Errors: []models.OrchestratorRule{
		{Name: "oom", MatchStrings: []string{"CUDA out of memory"}, Behavior: models.ExcludeNode},
		{Name: "flaky-net", MatchStrings: []string{"connection reset"}, Behavior: models.Restart},
		{Name: "bad-disk", MatchStrings: []string{"I/O error"}, Behavior: models.RestartOnDifferentNode},
	}}
}

func TestEvaluate_CaseInsensitiveMatch(t *testing.T) {
	p := policy.New(rules())

	action, ok := p.Evaluate("Traceback...\ncuda OUT OF MEMORY\n")
	if !ok {
		t.Fatal("expected a match")
	}
	if action.RuleName != "oom" || !action.ExcludeHost {
		t.Errorf("unexpected action: %+v", action)
	}
}

func TestEvaluate_RestartOnDifferentNodeSetsAvoidHost(t *testing.T) {
	p := policy.New(rules())
	action, ok := p.Evaluate("disk I/O error on /dev/sda")
	if !ok {
		t.Fatal("expected a match")
	}
	if !action.Restart || !action.AvoidHost {
		t.Errorf("unexpected action: %+v", action)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	p := policy.New(rules())
	if _, ok := p.Evaluate("R1: 0.42\n"); ok {
		t.Error("expected no match for ordinary result output")
	}
}

func TestDeferredCheck_QueueAndDrain(t *testing.T) {
	p := policy.New(models.OrchestratorConfig{})
	p.DeferCheck(policy.DeferredCheck{TrialIndex: 3, Hostname: "node01"})
	p.DeferCheck(policy.DeferredCheck{TrialIndex: 4, Hostname: "node02"})

	drained := p.DrainDeferred()
	if len(drained) != 2 {
		t.Fatalf("expected 2 deferred checks, got %d", len(drained))
	}
	if len(p.DrainDeferred()) != 0 {
		t.Error("expected second drain to be empty")
	}
}
