// Package modal implements the Modal Sandbox job executor backend, selected
// with --backend modal; it then runs every trial of the run, and trials are
// never routed to it from another backend. One sandbox runs one trial's
// command and is torn down once the
// trial finishes (Apps.FromName, Images.FromRegistry, Sandboxes.Create,
// sandbox.Exec).
package modal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	modalgo "github.com/modal-labs/libmodal/modal-go"

	"github.com/hpcforge/paramrun/internal/executor"
	"github.com/hpcforge/paramrun/internal/models"
)

// Config is the subset of Modal provider settings a burst trial backend
// needs: which image to run the command in and which Modal app to attach
// sandboxes to.
type Config struct {
	AppName  string
	Image    string
	CPUs     float64
	MemoryMB int
}

// Executor submits trials as Modal Sandboxes.
type Executor struct {
	runProgram string
	cfg        Config

	client *modalgo.Client
	app    *modalgo.App

	mu   sync.Mutex
	jobs map[string]*jobState
}

type jobState struct {
	sandbox  *modalgo.Sandbox
	done     chan struct{}
	state    models.JobState
	output   bytes.Buffer
	stderr   bytes.Buffer
	exitCode int
	waitErr  error
}

// New constructs a Modal executor. The client and app are resolved lazily
// on the first Submit so a dry-run or --force_local_execution config never
// has to authenticate against Modal.
func New(runProgram string, cfg Config) *Executor {
	return &Executor{
		runProgram: runProgram,
		cfg:        cfg,
		jobs:       make(map[string]*jobState),
	}
}

func (e *Executor) ensureApp(ctx context.Context) error {
	if e.app != nil {
		return nil
	}
	client, err := modalgo.NewClient()
	if err != nil {
		return fmt.Errorf("modal: creating client: %w", err)
	}
	appName := e.cfg.AppName
	if appName == "" {
		appName = "paramrun"
	}
	app, err := client.Apps.FromName(ctx, appName, &modalgo.AppFromNameParams{CreateIfMissing: true})
	if err != nil {
		return fmt.Errorf("modal: resolving app %s: %w", appName, err)
	}
	e.client = client
	e.app = app
	return nil
}

func (e *Executor) Submit(ctx context.Context, trial models.Trial) (models.Job, error) {
	if err := e.ensureApp(ctx); err != nil {
		return models.Job{}, err
	}

	id := fmt.Sprintf("modal-%d", trial.Index)
	line := executor.Flatten(executor.Render(e.runProgram, trial.Params))

	image := e.client.Images.FromRegistry(e.cfg.Image, nil)
	cpus := e.cfg.CPUs
	if cpus <= 0 {
		cpus = 1
	}
	memoryMiB := e.cfg.MemoryMB
	if memoryMiB <= 0 {
		memoryMiB = 2048
	}

	sandbox, err := e.client.Sandboxes.Create(ctx, e.app, image, &modalgo.SandboxCreateParams{
		CPU:       cpus,
		MemoryMiB: memoryMiB,
		Timeout:   24 * time.Hour,
	})
	if err != nil {
		return models.Job{}, fmt.Errorf("modal: creating sandbox: %w", err)
	}

	js := &jobState{sandbox: sandbox, done: make(chan struct{}), state: models.JobRunning}
	e.mu.Lock()
	e.jobs[id] = js
	e.mu.Unlock()

	go e.run(ctx, id, js, line)

	slog.Debug("modal: submitted job", "id", id, "sandbox_id", sandbox.SandboxID, "trial", trial.Index)
	return models.Job{ID: id, TrialIndex: trial.Index, Backend: "modal"}, nil
}

func (e *Executor) run(ctx context.Context, id string, js *jobState, line string) {
	defer close(js.done)

	process, err := js.sandbox.Exec(ctx, []string{"bash", "-c", line}, &modalgo.SandboxExecParams{})
	if err != nil {
		js.waitErr = err
		js.state = models.JobFailed
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(&js.output, process.Stdout)
	}()
	go func() {
		defer wg.Done()
		io.Copy(&js.stderr, process.Stderr)
	}()
	wg.Wait()

	exitCode, err := process.Wait(ctx)
	e.mu.Lock()
	js.exitCode = exitCode
	if err != nil {
		js.waitErr = err
		js.state = models.JobFailed
	} else if exitCode == 0 {
		js.state = models.JobCompleted
	} else {
		js.state = models.JobFailed
	}
	e.mu.Unlock()

	if err := js.sandbox.Terminate(ctx); err != nil {
		slog.Warn("modal: terminating sandbox failed", "id", id, "error", err)
	}
}

func (e *Executor) Poll(ctx context.Context, job models.Job) (models.JobState, error) {
	e.mu.Lock()
	js, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return models.JobUnknown, nil
	}
	select {
	case <-js.done:
	default:
		return models.JobRunning, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return js.state, nil
}

func (e *Executor) Output(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	js, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("modal: unknown job %s", job.ID)
	}
	<-js.done
	return js.output.Bytes(), nil
}

func (e *Executor) StderrOutput(ctx context.Context, job models.Job) ([]byte, error) {
	e.mu.Lock()
	js, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("modal: unknown job %s", job.ID)
	}
	<-js.done
	return js.stderr.Bytes(), nil
}

func (e *Executor) Cancel(ctx context.Context, job models.Job) error {
	e.mu.Lock()
	js, ok := e.jobs[job.ID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return js.sandbox.Terminate(ctx)
}

// UpdateExcludedHosts is a no-op: Modal schedules sandboxes onto its own
// fleet, which this dispatcher has no host-level visibility into.
func (e *Executor) UpdateExcludedHosts(hosts []string) {}
