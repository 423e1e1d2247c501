// Package executor implements the job executor (C4): submitting a trial's
// rendered command line to a backend (local subprocess, cluster batch
// queue, or Modal sandbox burst capacity), polling its state, and fetching
// its raw stdout so internal/result can parse it.
package executor

import (
	"context"

	"github.com/hpcforge/paramrun/internal/models"
)

// JobExecutor is the backend-agnostic interface the dispatcher drives.
// Submit/Poll/Output/Cancel mirror the phased lifecycle of any batch
// backend (create, run, inspect, tear down), generalized across three
// concrete backends instead of one pluggable provider.
type JobExecutor interface {
	Submit(ctx context.Context, trial models.Trial) (models.Job, error)
	Poll(ctx context.Context, job models.Job) (models.JobState, error)
	// Output returns the job's raw stdout bytes once it has reached a
	// terminal state, for internal/result to parse; the executor itself
	// never interprets result lines.
	Output(ctx context.Context, job models.Job) ([]byte, error)
	// StderrOutput returns the job's raw stderr bytes once it has reached a
	// terminal state, so the orchestrator policy (internal/policy) can
	// pattern-match it alongside stdout.
	StderrOutput(ctx context.Context, job models.Job) ([]byte, error)
	Cancel(ctx context.Context, job models.Job) error
	// UpdateExcludedHosts tells the backend which hosts the orchestrator
	// policy has marked defective, so future submissions route around
	// them; a backend that can't exclude hosts (local, modal) ignores it.
	UpdateExcludedHosts(hosts []string)
}
