// Package cluster implements the SLURM batch executor backend: one job
// script per trial, submitted with sbatch (or srun, when configured), and
// polled through squeue. Flag names on models.ClusterConfig
// mirror the job fields SLURM's own REST API describes (partition,
// account, time, cpus_per_task, nodes, standard_output/standard_error),
// not this module's own invention.
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/hpcforge/paramrun/internal/executor"
	"github.com/hpcforge/paramrun/internal/models"
)

// Executor submits trials to a SLURM cluster. It shells out to the SLURM
// CLI (sbatch/squeue/scancel) rather than talking to slurmrestd directly.
type Executor struct {
	runProgram string
	jobsDir    string
	cfg        models.ClusterConfig

	mu      sync.Mutex
	jobs    map[string]*jobInfo
	excluded []string
}

type jobInfo struct {
	slurmID    string
	stdoutPath string
	stderrPath string
}

func New(runProgram, jobsDir string, cfg models.ClusterConfig) *Executor {
	return &Executor{
		runProgram: runProgram,
		jobsDir:    jobsDir,
		cfg:        cfg,
		jobs:       make(map[string]*jobInfo),
	}
}

var sbatchIDPattern = regexp.MustCompile(`\d+`)

func (e *Executor) Submit(ctx context.Context, trial models.Trial) (models.Job, error) {
	id := fmt.Sprintf("cluster-%d", trial.Index)
	dir := filepath.Join(e.jobsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.Job{}, fmt.Errorf("cluster: creating job dir: %w", err)
	}

	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")
	scriptPath := filepath.Join(dir, "submit.sh")

	line := executor.Flatten(executor.Render(e.runProgram, trial.Params))
	script := e.renderScript(id, stdoutPath, stderrPath, line)
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return models.Job{}, fmt.Errorf("cluster: writing batch script: %w", err)
	}

	var cmd *exec.Cmd
	if e.cfg.UseSrun {
		cmd = exec.CommandContext(ctx, "srun", append(e.srunArgs(stdoutPath, stderrPath), "sh", scriptPath)...)
	} else {
		cmd = exec.CommandContext(ctx, "sbatch", "--parsable", scriptPath)
	}

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return models.Job{}, fmt.Errorf("cluster: submit failed: %w: %s", err, stderr.String())
	}

	slurmID := strings.TrimSpace(stdout.String())
	if e.cfg.UseSrun {
		slurmID = id
	} else if m := sbatchIDPattern.FindString(slurmID); m != "" {
		slurmID = m
	}

	e.mu.Lock()
	e.jobs[id] = &jobInfo{slurmID: slurmID, stdoutPath: stdoutPath, stderrPath: stderrPath}
	e.mu.Unlock()

	slog.Debug("cluster: submitted job", "id", id, "slurm_id", slurmID, "trial", trial.Index)
	return models.Job{ID: id, TrialIndex: trial.Index, Backend: "cluster", StdoutPath: stdoutPath, StderrPath: stderrPath}, nil
}

func (e *Executor) srunArgs(stdoutPath, stderrPath string) []string {
	args := []string{}
	if e.cfg.Partition != "" {
		args = append(args, "--partition="+e.cfg.Partition)
	}
	if e.cfg.Account != "" {
		args = append(args, "--account="+e.cfg.Account)
	}
	args = append(args, "--output="+stdoutPath, "--error="+stderrPath)
	return args
}

func (e *Executor) renderScript(id, stdoutPath, stderrPath, line string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "#SBATCH --job-name=%s\n", id)
	fmt.Fprintf(&b, "#SBATCH --output=%s\n", stdoutPath)
	fmt.Fprintf(&b, "#SBATCH --error=%s\n", stderrPath)
	if e.cfg.Partition != "" {
		fmt.Fprintf(&b, "#SBATCH --partition=%s\n", e.cfg.Partition)
	}
	if e.cfg.Reservation != "" {
		fmt.Fprintf(&b, "#SBATCH --reservation=%s\n", e.cfg.Reservation)
	}
	if e.cfg.Account != "" {
		fmt.Fprintf(&b, "#SBATCH --account=%s\n", e.cfg.Account)
	}
	if e.cfg.Time != "" {
		fmt.Fprintf(&b, "#SBATCH --time=%s\n", e.cfg.Time)
	}
	if e.cfg.GPUs > 0 {
		fmt.Fprintf(&b, "#SBATCH --gres=gpu:%d\n", e.cfg.GPUs)
	}
	if e.cfg.CPUsPerTask > 0 {
		fmt.Fprintf(&b, "#SBATCH --cpus-per-task=%d\n", e.cfg.CPUsPerTask)
	}
	if e.cfg.NodesPerJob > 0 {
		fmt.Fprintf(&b, "#SBATCH --nodes=%d\n", e.cfg.NodesPerJob)
	}
	if e.cfg.SignalDelaySec > 0 {
		fmt.Fprintf(&b, "#SBATCH --signal=B:USR1@%d\n", e.cfg.SignalDelaySec)
	}
	if excl := e.excludedList(); excl != "" {
		fmt.Fprintf(&b, "#SBATCH --exclude=%s\n", excl)
	}
	b.WriteString(line)
	b.WriteString("\n")
	return b.String()
}

func (e *Executor) excludedList() string {
	all := append([]string{}, e.cfg.Exclude...)
	e.mu.Lock()
	all = append(all, e.excluded...)
	e.mu.Unlock()
	return strings.Join(all, ",")
}

var squeueStatePattern = regexp.MustCompile(`\S+`)

func (e *Executor) Poll(ctx context.Context, job models.Job) (models.JobState, error) {
	e.mu.Lock()
	info, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return models.JobUnknown, nil
	}

	cmd := exec.CommandContext(ctx, "squeue", "-h", "-j", info.slurmID, "-o", "%T")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		// squeue returns no rows once the job has left the queue; fall
		// back to checking whether the stdout file has content.
		return e.finalStateFromScript(info)
	}
	state := squeueStatePattern.FindString(stdout.String())
	switch state {
	case "":
		return e.finalStateFromScript(info)
	case "PENDING", "CONFIGURING":
		return models.JobPending, nil
	case "RUNNING", "COMPLETING":
		return models.JobRunning, nil
	case "COMPLETED":
		return models.JobCompleted, nil
	case "CANCELLED":
		return models.JobCancelled, nil
	default:
		return models.JobFailed, nil
	}
}

// finalStateFromScript is a best-effort fallback for clusters where squeue
// has already forgotten a finished job; it treats the job as complete once
// its stdout file exists and non-empty, failed otherwise. The job's real
// exit code is not looked up (no sacct query is made).
func (e *Executor) finalStateFromScript(info *jobInfo) (models.JobState, error) {
	fi, err := os.Stat(info.stdoutPath)
	if err != nil || fi.Size() == 0 {
		return models.JobFailed, nil
	}
	return models.JobCompleted, nil
}

func (e *Executor) Output(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	info, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cluster: unknown job %s", job.ID)
	}
	data, err := os.ReadFile(info.stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("cluster: reading stdout: %w", err)
	}
	return data, nil
}

func (e *Executor) StderrOutput(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	info, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("cluster: unknown job %s", job.ID)
	}
	data, err := os.ReadFile(info.stderrPath)
	if err != nil {
		return nil, fmt.Errorf("cluster: reading stderr: %w", err)
	}
	return data, nil
}

func (e *Executor) Cancel(ctx context.Context, job models.Job) error {
	e.mu.Lock()
	info, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return exec.CommandContext(ctx, "scancel", info.slurmID).Run()
}

// UpdateExcludedHosts records hosts the orchestrator policy has marked
// defective so future sbatch scripts carry them in --exclude.
func (e *Executor) UpdateExcludedHosts(hosts []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.excluded = hosts
}
