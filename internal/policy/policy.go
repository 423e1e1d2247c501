// Package policy implements the orchestrator policy (C6): a declarative
// rule table that inspects every terminated job's output for known failure
// signatures and decides how the dispatcher should react — exclude the
// node that ran it, restart the trial, or restart it on a different node.
package policy

import (
	"strings"
	"sync"

	"github.com/hpcforge/paramrun/internal/models"
)

// Action is what the dispatcher should do in response to a matched rule.
type Action struct {
	RuleName    string
	Behavior    models.Behavior
	ExcludeHost bool // host should be added to the executor's exclude list
	Restart     bool // trial should be resubmitted
	AvoidHost   bool // restart must avoid the host that just failed
}

// Policy holds the parsed rule table and the deferred-recheck queue for
// jobs whose stdout file was missing at the moment the dispatcher looked:
// rather than failing the trial outright, the check is retried at the top
// of the next tick.
type Policy struct {
	rules []models.OrchestratorRule

	mu       sync.Mutex
	deferred []DeferredCheck
}

// DeferredCheck records one job whose result inspection needs to be
// retried on a later tick.
type DeferredCheck struct {
	TrialIndex int
	Job        models.Job
	Hostname   string
}

// New builds a Policy from the parsed --orchestrator_file rule table. A
// zero-value Config (no file given) yields a Policy that never matches
// anything, which is the correct default.
func New(cfg models.OrchestratorConfig) *Policy {
	return &Policy{rules: cfg.Errors}
}

// Evaluate scans output (a job's combined stdout+stderr) against every
// rule's match strings in declared order, case-insensitively. The first
// matching rule wins.
func (p *Policy) Evaluate(output string) (Action, bool) {
	lower := strings.ToLower(output)
	for _, rule := range p.rules {
		for _, m := range rule.MatchStrings {
			if m == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(m)) {
				return actionFor(rule), true
			}
		}
	}
	return Action{}, false
}

func actionFor(rule models.OrchestratorRule) Action {
	a := Action{RuleName: rule.Name, Behavior: rule.Behavior}
	switch rule.Behavior {
	case models.ExcludeNode:
		a.ExcludeHost = true
	case models.Restart:
		a.Restart = true
	case models.RestartOnDifferentNode:
		a.Restart = true
		a.AvoidHost = true
	case models.ExcludeNodeAndRestartAll:
		// TODO: the "restart every outstanding trial on a different
		// node" half of this behavior needs a decision on how
		// in-flight trials are safely requeued without losing their
		// submitted-job bookkeeping; until then this behaves like
		// ExcludeNode plus a logged warning in the dispatcher.
		a.ExcludeHost = true
	}
	return a
}

// DeferCheck queues a job whose result file was missing at inspection
// time for a retry on the next tick.
func (p *Policy) DeferCheck(dc DeferredCheck) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deferred = append(p.deferred, dc)
}

// DrainDeferred returns and clears every pending deferred check, to be
// called once at the top of each dispatcher tick.
func (p *Policy) DrainDeferred() []DeferredCheck {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.deferred
	p.deferred = nil
	return out
}
