// Package local implements the local-subshell job executor backend: every
// trial is run as a direct child process on the machine running the
// dispatcher, with no scheduler in between. It backs --backend local, which
// is also the default backend when --force_local_execution is set.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/hpcforge/paramrun/internal/executor"
	"github.com/hpcforge/paramrun/internal/models"
)

// Executor runs trials as local subshell commands: exec.CommandContext,
// redirected stdout/stderr files, and *exec.ExitError unwrapped for the
// real exit code rather than treated as a generic Go error.
type Executor struct {
	runProgram string
	jobsDir    string

	mu    sync.Mutex
	procs map[string]*process
}

type process struct {
	cmd        *exec.Cmd
	done       chan struct{}
	state      models.JobState
	exitCode   int
	signal     int
	stdoutPath string
	stderrPath string
	waitErr    error
}

// New constructs a local executor that writes each job's stdout/stderr
// under jobsDir/<job-id>/.
func New(runProgram, jobsDir string) *Executor {
	return &Executor{
		runProgram: runProgram,
		jobsDir:    jobsDir,
		procs:      make(map[string]*process),
	}
}

func (e *Executor) Submit(ctx context.Context, trial models.Trial) (models.Job, error) {
	id := fmt.Sprintf("local-%d", trial.Index)
	dir := filepath.Join(e.jobsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return models.Job{}, fmt.Errorf("local: creating job dir: %w", err)
	}

	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return models.Job{}, fmt.Errorf("local: creating stdout file: %w", err)
	}
	stderr, err := os.Create(stderrPath)
	if err != nil {
		stdout.Close()
		return models.Job{}, fmt.Errorf("local: creating stderr file: %w", err)
	}

	line := executor.Flatten(executor.Render(e.runProgram, trial.Params))
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return models.Job{}, fmt.Errorf("local: starting command: %w", err)
	}

	p := &process{
		cmd:        cmd,
		done:       make(chan struct{}),
		state:      models.JobRunning,
		stdoutPath: stdoutPath,
		stderrPath: stderrPath,
	}

	e.mu.Lock()
	e.procs[id] = p
	e.mu.Unlock()

	go func() {
		defer stdout.Close()
		defer stderr.Close()
		waitErr := cmd.Wait()

		e.mu.Lock()
		defer e.mu.Unlock()
		p.waitErr = waitErr
		p.exitCode, p.signal = decodeExit(cmd, waitErr)
		if p.signal != 0 {
			p.state = models.JobFailed
		} else if p.exitCode == 0 {
			p.state = models.JobCompleted
		} else {
			p.state = models.JobFailed
		}
		close(p.done)
	}()

	slog.Debug("local: submitted job", "id", id, "trial", trial.Index)
	hostname, _ := os.Hostname()
	return models.Job{ID: id, TrialIndex: trial.Index, Backend: "local", StdoutPath: stdoutPath, StderrPath: stderrPath, Hostname: hostname}, nil
}

// decodeExit extracts the process exit code and, when the process died to
// a signal, the signal number, unwrapping *exec.ExitError and inspecting
// syscall.WaitStatus directly since a local child can be signaled.
func decodeExit(cmd *exec.Cmd, waitErr error) (exitCode, signal int) {
	state := cmd.ProcessState
	if state == nil {
		return -1, 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), int(ws.Signal())
	}
	if waitErr == nil {
		return 0, 0
	}
	var exitErr *exec.ExitError
	if asExitError(waitErr, &exitErr) {
		return exitErr.ExitCode(), 0
	}
	return state.ExitCode(), 0
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (e *Executor) Poll(ctx context.Context, job models.Job) (models.JobState, error) {
	e.mu.Lock()
	p, ok := e.procs[job.ID]
	e.mu.Unlock()
	if !ok {
		return models.JobUnknown, nil
	}
	select {
	case <-p.done:
	default:
		return models.JobRunning, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return p.state, nil
}

func (e *Executor) Output(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	p, ok := e.procs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("local: unknown job %s", job.ID)
	}
	<-p.done
	data, err := os.ReadFile(p.stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("local: reading stdout: %w", err)
	}
	return data, nil
}

func (e *Executor) StderrOutput(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	p, ok := e.procs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("local: unknown job %s", job.ID)
	}
	<-p.done
	data, err := os.ReadFile(p.stderrPath)
	if err != nil {
		return nil, fmt.Errorf("local: reading stderr: %w", err)
	}
	return data, nil
}

func (e *Executor) Cancel(ctx context.Context, job models.Job) error {
	e.mu.Lock()
	p, ok := e.procs[job.ID]
	e.mu.Unlock()
	if !ok || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// UpdateExcludedHosts is a no-op: a local executor only ever runs on the
// dispatcher's own host, which can't meaningfully exclude itself.
func (e *Executor) UpdateExcludedHosts(hosts []string) {}
