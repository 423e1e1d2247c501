// Package dispatcher implements the control loop (C5): the steady-state
// tick that finalizes outstanding jobs, asks the trial source for new
// proposals, submits them through a job executor, and evaluates the
// orchestrator policy against every terminal job's output. It is the only
// component that calls the trial source, the only one that decides
// termination, and owns the one in-memory outstanding-jobs table.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/hpcforge/paramrun/internal/executor"
	"github.com/hpcforge/paramrun/internal/generator"
	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/policy"
	"github.com/hpcforge/paramrun/internal/progress"
	"github.com/hpcforge/paramrun/internal/result"
	"github.com/hpcforge/paramrun/internal/runlog"
	"github.com/hpcforge/paramrun/internal/store"
)

// Config holds the knobs the dispatcher needs beyond the components it
// wires together.
type Config struct {
	MaxEval              int
	Imported             int // trials already recorded via a cross-run import
	Parallelism          int // resolved --max_parallelism cap on concurrently outstanding trials
	NumWorkers           int // bounded submission pool size
	ExhaustionThreshold  int // consecutive empty ticks before declaring exhaustion
	ExhaustionDisabled   bool
	TickInterval         time.Duration
	JobsDir              string
	AutoExcludeDefective bool

	OCCEnabled    bool
	OCCType       models.OCCType
	OCCMinkowskiP float64
	OCCWeights    string
}

// Dispatcher owns the control loop. It is not safe for concurrent use from
// more than one goroutine; Run drives everything itself, spawning its own
// bounded pool of submission workers internally.
type Dispatcher struct {
	store    *store.Store
	source   generator.TrialSource
	exec     executor.JobExecutor
	pol      *policy.Policy
	specs    models.ResultSpecs
	counters *progress.Counters
	usage    *progress.UsageRecorder
	cfg      Config

	mu            sync.Mutex
	outstanding   map[int]models.Job // trialIndex -> job
	zeroTicks     int
	excludedHosts []string
	hostFailures  map[string]int
}

// autoExcludeFailureThreshold is how many un-policy-matched failures a
// single host accumulates before --auto_exclude_defective_hosts excludes
// it on its own, independent of any explicit orchestrator rule.
const autoExcludeFailureThreshold = 3

// New wires a Dispatcher from its already-constructed collaborators.
func New(st *store.Store, source generator.TrialSource, exec executor.JobExecutor, pol *policy.Policy, specs models.ResultSpecs, counters *progress.Counters, usage *progress.UsageRecorder, cfg Config) *Dispatcher {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 200 * time.Millisecond
	}
	if cfg.ExhaustionThreshold <= 0 {
		cfg.ExhaustionThreshold = 20
	}
	return &Dispatcher{
		store:        st,
		source:       source,
		exec:         exec,
		pol:          pol,
		specs:        specs,
		counters:     counters,
		usage:        usage,
		cfg:          cfg,
		outstanding:  make(map[int]models.Job),
		hostFailures: make(map[string]int),
	}
}

// Run drives the control loop to completion: steady-state ticks until a
// termination condition fires or a signal arrives, then drains (or
// abandons) outstanding work before returning the final summary.
func (d *Dispatcher) Run(ctx context.Context) (*models.RunSummary, error) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGCONT)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	signalExit := 0
	searchExhausted := false
	optimizationDone := false

loop:
	for {
		select {
		case sig := <-sigCh:
			signalExit = exitCodeForSignal(sig)
			slog.Warn("dispatcher: signal received, abandoning outstanding work", "signal", sig)
			break loop
		case <-ctx.Done():
			signalExit = runlog.ExitSIGINT
			break loop
		case <-ticker.C:
		}

		d.replayDeferred(ctx)
		if err := d.finalizeDoneJobs(ctx); err != nil {
			slog.Warn("dispatcher: finalize error", "error", err)
		}

		snap := d.store.Snapshot()
		if done, reason := d.checkTermination(snap); done {
			slog.Info("dispatcher: terminating", "reason", reason)
			break loop
		}

		n, genDone, err := d.submitNewTrials(ctx, snap)
		if err != nil {
			slog.Warn("dispatcher: submission error", "error", err)
		}
		if genDone {
			optimizationDone = true
			break loop
		}

		outstanding := d.outstandingCount()
		if n == 0 && outstanding == 0 {
			d.zeroTicks++
		} else {
			d.zeroTicks = 0
		}
		if !d.cfg.ExhaustionDisabled && d.zeroTicks >= d.cfg.ExhaustionThreshold {
			searchExhausted = true
			break loop
		}

		d.usage.Sample(time.Now(), outstanding, d.cfg.Parallelism)
	}

	if signalExit != 0 {
		d.abandonAll(ctx)
	} else {
		d.drainOutstanding(ctx)
	}

	return d.buildSummary(signalExit, searchExhausted, optimizationDone), nil
}

func exitCodeForSignal(sig os.Signal) int {
	switch sig {
	case syscall.SIGUSR1:
		return runlog.ExitSIGUSR1
	case syscall.SIGCONT:
		return runlog.ExitSIGCONT
	default:
		return runlog.ExitSIGINT
	}
}

// tally counts trials by terminal status, plus everything not staged
// (submitted), directly off a snapshot rather than a running counter so a
// resumed run's bookkeeping is always derived from the source of truth.
func tally(trials []models.Trial) (completed, failed, abandoned, submitted int) {
	for _, t := range trials {
		switch t.Status {
		case models.StatusCompleted:
			completed++
		case models.StatusFailed:
			failed++
		case models.StatusAbandoned:
			abandoned++
		}
		if t.Status != models.StatusStaged {
			submitted++
		}
	}
	return
}

// checkTermination implements the four count-based termination conditions.
// Trial Source exhaustion and signal delivery, the other two, are detected
// by their own callers in Run.
func (d *Dispatcher) checkTermination(snap models.Snapshot) (bool, string) {
	completed, _, _, submitted := tally(snap.Trials)
	target := d.cfg.MaxEval + d.cfg.Imported

	switch {
	case completed >= d.cfg.MaxEval:
		return true, "completed trials reached max_eval"
	case submitted >= target+1:
		return true, "submitted trials exceeded the run's progress total"
	case submitted > d.cfg.MaxEval+1:
		return true, "submitted trials exceeded max_eval"
	case completed == target:
		return true, "completed trials reached max_eval plus imported"
	}
	return false, ""
}

func (d *Dispatcher) outstandingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outstanding)
}

// submitNewTrials computes the desired number of new trials, pulls them
// from the source one at a time, and submits each through a bounded pool
// of worker goroutines. genDone reports whether the source declared
// optimization complete while being asked.
func (d *Dispatcher) submitNewTrials(ctx context.Context, snap models.Snapshot) (submitted int, genDone bool, err error) {
	completed, _, _, numSubmitted := tally(snap.Trials)
	outstanding := d.outstandingCount()

	desired := d.cfg.Parallelism - outstanding
	if byTotal := d.cfg.MaxEval + d.cfg.Imported - numSubmitted; byTotal < desired {
		desired = byTotal
	}
	if byCompleted := d.cfg.MaxEval + d.cfg.Imported - completed; byCompleted < desired {
		desired = byCompleted
	}
	if desired <= 0 {
		return 0, false, nil
	}

	proposed := make([]generator.GeneratedTrial, 0, desired)
	for len(proposed) < desired {
		next, nerr := d.source.Next(ctx, 1)
		if nerr != nil {
			if nerr == generator.ErrOptimizationComplete {
				genDone = true
				break
			}
			return len(proposed), false, nerr
		}
		if len(next) == 0 {
			break
		}
		proposed = append(proposed, next...)
	}
	if len(proposed) == 0 {
		return 0, genDone, nil
	}

	sem := make(chan struct{}, d.cfg.NumWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, gt := range proposed {
		idx, aerr := d.store.AttachTrial(gt.Params, gt.Method, false)
		if aerr != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = aerr
			}
			mu.Unlock()
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, params map[string]string, method string) {
			defer wg.Done()
			defer func() { <-sem }()
			if serr := d.submitOne(ctx, idx, params, method); serr != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = serr
				}
				mu.Unlock()
			}
		}(idx, gt.Params, gt.Method)
	}
	wg.Wait()

	return len(proposed), genDone, firstErr
}

func (d *Dispatcher) submitOne(ctx context.Context, idx int, params map[string]string, method string) error {
	job, err := d.exec.Submit(ctx, models.Trial{Index: idx, Params: params, Method: method})
	if err != nil {
		_ = d.store.FailTrial(idx, -1, 0)
		d.counters.Increment(progress.FailedJobs)
		return fmt.Errorf("dispatcher: submitting trial %d: %w", idx, err)
	}
	if err := d.store.MarkSubmitted(idx, job.Hostname); err != nil {
		return fmt.Errorf("dispatcher: marking trial %d submitted: %w", idx, err)
	}
	d.mu.Lock()
	d.outstanding[idx] = job
	d.mu.Unlock()
	d.counters.Increment(progress.SubmittedJobs)
	return nil
}

// finalizeDoneJobs polls every outstanding job once, ingesting terminal
// ones: parsing their result, applying the orchestrator policy, updating
// counters, and removing them from the outstanding set.
func (d *Dispatcher) finalizeDoneJobs(ctx context.Context) error {
	d.mu.Lock()
	jobs := make(map[int]models.Job, len(d.outstanding))
	for idx, j := range d.outstanding {
		jobs[idx] = j
	}
	d.mu.Unlock()

	var firstErr error
	for idx, job := range jobs {
		state, err := d.exec.Poll(ctx, job)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		switch state {
		case models.JobCompleted, models.JobFailed:
			if err := d.finalizeOne(ctx, idx, job, state); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			d.mu.Lock()
			delete(d.outstanding, idx)
			d.mu.Unlock()
		case models.JobCancelled:
			_ = d.store.AbandonTrial(idx)
			d.mu.Lock()
			delete(d.outstanding, idx)
			d.mu.Unlock()
		}
	}
	return firstErr
}

func (d *Dispatcher) finalizeOne(ctx context.Context, idx int, job models.Job, state models.JobState) error {
	stdout, err := d.exec.Output(ctx, job)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			d.pol.DeferCheck(policy.DeferredCheck{TrialIndex: idx, Job: job})
			return nil
		}
		return fmt.Errorf("dispatcher: reading output for trial %d: %w", idx, err)
	}

	stderr, err := d.exec.StderrOutput(ctx, job)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("dispatcher: reading stderr for trial failed, matching stdout only", "trial", idx, "error", err)
	}

	action, matched := d.pol.Evaluate(string(stdout) + "\n" + string(stderr))
	if matched {
		return d.applyPolicyAction(ctx, idx, job, action)
	}

	raw := result.Parse(stdout, d.specs)
	missing := false
	for _, spec := range d.specs {
		if result.IsSentinel(raw.Values[spec.Name], spec.Direction) {
			missing = true
		}
	}
	if state == models.JobFailed || missing {
		exitCode := 0
		if state == models.JobFailed {
			exitCode = 1
		}
		_ = d.store.FailTrial(idx, exitCode, 0)
		d.counters.Increment(progress.FailedJobs)
		d.noteFailure(job.Hostname)
		return nil
	}
	d.applyOCC(raw)
	if err := d.store.CompleteTrial(idx, raw.Values, raw.Info, 0); err != nil {
		return err
	}
	if err := d.source.Observe(idx, raw.Values); err != nil {
		slog.Warn("dispatcher: observe failed", "trial", idx, "error", err)
	}
	d.counters.Increment(progress.SucceededJobs)
	return nil
}

// applyOCC scalarizes a multi-objective result into a single signed value
// under the "occ" side-channel key, surfaced in results.csv as OO_Info_occ
// alongside the per-objective columns. Scalarization feeds reporting only;
// it never replaces the per-objective values the generator observes.
func (d *Dispatcher) applyOCC(raw models.RawResult) {
	if !d.cfg.OCCEnabled || !d.specs.MultiObjective() {
		return
	}
	xs := make([]float64, len(d.specs))
	for i, spec := range d.specs {
		xs[i] = raw.Values[spec.Name]
	}
	v, err := result.Scalarize(xs, d.cfg.OCCType, d.cfg.OCCMinkowskiP, d.cfg.OCCWeights)
	if err != nil {
		slog.Warn("dispatcher: OCC scalarization failed", "error", err)
		return
	}
	// result.Parse always returns a non-nil Info map, even when empty.
	raw.Info["occ"] = strconv.FormatFloat(v, 'g', -1, 64)
}

// applyPolicyAction enacts the behavior an orchestrator rule matched
// against a job's output: exclude its host, restart it (optionally
// avoiding that host), or both.
func (d *Dispatcher) applyPolicyAction(ctx context.Context, idx int, job models.Job, action policy.Action) error {
	if (action.ExcludeHost || action.AvoidHost) && job.Hostname != "" {
		d.excludeHost(job.Hostname)
		slog.Warn("dispatcher: orchestrator rule matched, excluding host", "rule", action.RuleName, "host", job.Hostname, "trial", idx)
	}
	if action.Behavior == models.ExcludeNodeAndRestartAll {
		slog.Warn("dispatcher: ExcludeNodeAndRestartAll matched; restart-all is not implemented, excluding host only", "rule", action.RuleName, "trial", idx)
	}
	if !action.Restart {
		_ = d.store.AbandonTrial(idx)
		return nil
	}

	snap := d.store.Snapshot()
	if idx < 0 || idx >= len(snap.Trials) {
		return fmt.Errorf("dispatcher: restart trial %d: index out of range", idx)
	}
	params := snap.Trials[idx].Params
	method := snap.Trials[idx].Method
	_ = d.store.AbandonTrial(idx)

	newIdx, err := d.store.AttachTrial(params, method, false)
	if err != nil {
		return fmt.Errorf("dispatcher: restarting trial %d: %w", idx, err)
	}
	return d.submitOne(ctx, newIdx, params, method)
}

// noteFailure tracks an unmatched (no orchestrator rule fired) failure
// against its host, auto-excluding the host once it crosses the threshold
// when --auto_exclude_defective_hosts is set.
func (d *Dispatcher) noteFailure(host string) {
	if !d.cfg.AutoExcludeDefective || host == "" {
		return
	}
	d.mu.Lock()
	d.hostFailures[host]++
	n := d.hostFailures[host]
	d.mu.Unlock()
	if n >= autoExcludeFailureThreshold {
		slog.Warn("dispatcher: host crossed auto-exclude failure threshold", "host", host, "failures", n)
		d.excludeHost(host)
	}
}

func (d *Dispatcher) excludeHost(host string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// UpdateExcludedHosts replaces the executor's whole exclusion list, so
	// the dispatcher tracks the accumulated set itself.
	d.excludedHosts = append(d.excludedHosts, host)
	d.exec.UpdateExcludedHosts(d.excludedHosts)
}

// replayDeferred retries every job whose output couldn't be read on a
// prior tick (its stdout file hadn't landed yet).
func (d *Dispatcher) replayDeferred(ctx context.Context) {
	for _, dc := range d.pol.DrainDeferred() {
		if err := d.finalizeOne(ctx, dc.TrialIndex, dc.Job, models.JobCompleted); err != nil {
			slog.Warn("dispatcher: deferred check failed again", "trial", dc.TrialIndex, "error", err)
		} else {
			d.mu.Lock()
			delete(d.outstanding, dc.TrialIndex)
			d.mu.Unlock()
		}
	}
}

// drainOutstanding polls every remaining outstanding job to completion
// once the loop has decided to terminate normally.
func (d *Dispatcher) drainOutstanding(ctx context.Context) {
	for d.outstandingCount() > 0 {
		if err := d.finalizeDoneJobs(ctx); err != nil {
			slog.Warn("dispatcher: drain error", "error", err)
		}
		if d.outstandingCount() > 0 {
			time.Sleep(d.cfg.TickInterval)
		}
	}
}

// abandonAll cancels every outstanding job and marks its trial abandoned,
// the sweep that runs on signal-driven shutdown.
func (d *Dispatcher) abandonAll(ctx context.Context) {
	d.mu.Lock()
	jobs := make(map[int]models.Job, len(d.outstanding))
	for idx, j := range d.outstanding {
		jobs[idx] = j
	}
	d.mu.Unlock()

	for idx, job := range jobs {
		if err := d.exec.Cancel(ctx, job); err != nil {
			slog.Warn("dispatcher: cancel failed", "trial", idx, "error", err)
		}
		_ = d.store.AbandonTrial(idx)
		d.mu.Lock()
		delete(d.outstanding, idx)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) buildSummary(signalExit int, searchExhausted, optimizationDone bool) *models.RunSummary {
	snap := d.store.Snapshot()
	r := progress.Build(snap.Trials, d.specs)

	exitCode := runlog.ExitOK
	switch {
	case signalExit != 0:
		exitCode = signalExit
	case r.Submitted > 0 && r.Completed == 0 && r.Failed == r.Submitted:
		exitCode = runlog.ExitAllTrialsFailed
	case searchExhausted:
		exitCode = runlog.ExitSearchSpaceExhausted
	}

	best := make(map[string]*models.Trial, len(r.BestByObjective))
	for name, t := range r.BestByObjective {
		t := t
		best[name] = &t
	}

	return &models.RunSummary{
		Submitted:          r.Submitted,
		Completed:          r.Completed,
		Failed:             r.Failed,
		Abandoned:          r.Abandoned,
		SearchExhausted:    searchExhausted,
		OptimizationDone:   optimizationDone,
		ExitCode:           exitCode,
		BestByObjective:    best,
		FailedTrials:       r.FailedTrials,
		ByGenerationMethod: r.ByGenerationMethod,
	}
}
