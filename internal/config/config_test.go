package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpcforge/paramrun/internal/config"
	"github.com/hpcforge/paramrun/internal/models"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()

	if cfg.NumParallelJobs != 1 {
		t.Errorf("expected default num_parallel_jobs 1, got %d", cfg.NumParallelJobs)
	}
	if cfg.Model != models.ModelSobol {
		t.Errorf("expected default model SOBOL, got %s", cfg.Model)
	}
	if cfg.MaxNrOfZeroResults != 20 {
		t.Errorf("expected default max_nr_of_zero_results 20, got %d", cfg.MaxNrOfZeroResults)
	}
	if cfg.RunDir != "runs" {
		t.Errorf("expected default run_dir 'runs', got %s", cfg.RunDir)
	}
}

func TestLoadYAML(t *testing.T) {
	yamlText := `
num_random_steps: 5
max_eval: 50
run_program: "echo $x"
experiment_name: demo
mem_gb: 2.5
parameter:
  - "x range 0 10 int"
result_names:
  - "loss"
num_parallel_jobs: 4
partition: gpu
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "job.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlText), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	fc, err := config.LoadYAML(tmpFile)
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}

	if fc.MaxEval != 50 {
		t.Errorf("expected max_eval 50, got %d", fc.MaxEval)
	}
	if fc.ExperimentName != "demo" {
		t.Errorf("expected experiment_name demo, got %s", fc.ExperimentName)
	}
	if len(fc.Parameter) != 1 || fc.Parameter[0] != "x range 0 10 int" {
		t.Errorf("expected one parameter entry, got %v", fc.Parameter)
	}

	cfg, err := config.Merge(config.Default(), fc)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if cfg.Cluster.Partition != "gpu" {
		t.Errorf("expected partition gpu, got %s", cfg.Cluster.Partition)
	}
	if len(cfg.Parameters) != 1 || cfg.Parameters[0].Name() != "x" {
		t.Errorf("expected parameter x, got %v", cfg.Parameters)
	}
	if cfg.NumParallelJobs != 4 {
		t.Errorf("expected num_parallel_jobs 4, got %d", cfg.NumParallelJobs)
	}
}

func TestLoadTOML(t *testing.T) {
	tomlText := `
max_eval = 10
run_program = "echo $x"
experiment_name = "demo"
num_random_steps = 3

parameter = ["x range 0 1 real"]
result_names = ["loss=min"]
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "job.toml")
	if err := os.WriteFile(tmpFile, []byte(tomlText), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	fc, err := config.LoadTOML(tmpFile)
	if err != nil {
		t.Fatalf("LoadTOML failed: %v", err)
	}
	if fc.MaxEval != 10 {
		t.Errorf("expected max_eval 10, got %d", fc.MaxEval)
	}

	cfg, err := config.Merge(config.Default(), fc)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if len(cfg.ResultNames) != 1 || cfg.ResultNames[0].Direction != models.Minimize {
		t.Errorf("expected one minimize result, got %v", cfg.ResultNames)
	}
}

func TestParseParameterFlags(t *testing.T) {
	params, err := config.ParseParameterFlags([]string{
		"x range 0 10 int log",
		"y choice 1,2,3 ordered",
		"z fixed hello",
	})
	if err != nil {
		t.Fatalf("ParseParameterFlags failed: %v", err)
	}
	if len(params) != 3 {
		t.Fatalf("expected 3 parameters, got %d", len(params))
	}

	rp, ok := params[0].(*models.RangeParameter)
	if !ok || !rp.LogScale {
		t.Errorf("expected x to be a log-scale range parameter, got %#v", params[0])
	}

	cp, ok := params[1].(*models.ChoiceParameter)
	if !ok || !cp.Ordered || len(cp.Values) != 3 {
		t.Errorf("expected y to be an ordered 3-value choice, got %#v", params[1])
	}

	fp, ok := params[2].(*models.FixedParameter)
	if !ok || fp.Value != "hello" {
		t.Errorf("expected z to be fixed 'hello', got %#v", params[2])
	}
}

func TestParseParameterFlags_UnknownKind(t *testing.T) {
	if _, err := config.ParseParameterFlags([]string{"x unknown 1 2"}); err == nil {
		t.Error("expected an error for an unknown parameter kind")
	}
}

func TestLoadOrchestratorFile(t *testing.T) {
	yamlText := `
errors:
  - name: oom
    match_strings:
      - "CUDA out of memory"
    behavior: ExcludeNode
  - name: transient
    match_strings:
      - "connection reset"
    behavior: Restart
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "orchestrator.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlText), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	oc, err := config.LoadOrchestratorFile(tmpFile)
	if err != nil {
		t.Fatalf("LoadOrchestratorFile failed: %v", err)
	}
	if len(oc.Errors) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(oc.Errors))
	}
	if oc.Errors[0].Behavior != models.ExcludeNode {
		t.Errorf("expected ExcludeNode, got %s", oc.Errors[0].Behavior)
	}
}

func TestLoadOrchestratorFile_UnknownBehavior(t *testing.T) {
	yamlText := `
errors:
  - name: bad
    match_strings: ["x"]
    behavior: DoSomethingWeird
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "orchestrator.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlText), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	if _, err := config.LoadOrchestratorFile(tmpFile); err == nil {
		t.Error("expected an error for an unknown behavior")
	}
}

func TestLoad_RequiresRunProgram(t *testing.T) {
	_, err := config.Load([]string{"--experiment_name=demo", "--max_eval=10", "--parameter=x range 0 1 real"})
	if err == nil {
		t.Error("expected an error when --run_program is missing")
	}
}

func TestLoad_CLIOverridesFile(t *testing.T) {
	yamlText := `
max_eval: 5
run_program: "echo $x"
experiment_name: from-file
parameter:
  - "x range 0 1 real"
result_names: ["loss"]
`
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "job.yaml")
	if err := os.WriteFile(tmpFile, []byte(yamlText), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	cfg, err := config.Load([]string{
		"--config_yaml=" + tmpFile,
		"--experiment_name=from-cli",
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ExperimentName != "from-cli" {
		t.Errorf("expected CLI to override file, got %s", cfg.ExperimentName)
	}
	if cfg.MaxEval != 5 {
		t.Errorf("expected file value to survive, got %d", cfg.MaxEval)
	}
}

func TestLoad_MutuallyExclusiveConfigFiles(t *testing.T) {
	_, err := config.Load([]string{"--config_yaml=a.yaml", "--config_toml=b.toml"})
	if err == nil {
		t.Error("expected an error when both --config_yaml and --config_toml are set")
	}
}
