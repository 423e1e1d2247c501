package config

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hpcforge/paramrun/internal/models"
)

// ErrUsage marks a flag-parsing failure (bad syntax, unknown flag, -h), as
// opposed to a semantically invalid but well-formed configuration. The
// caller uses errors.Is(err, ErrUsage) to pick between the CLI-usage and
// config-invalid exit codes.
var ErrUsage = errors.New("invalid command-line usage")

// Load builds the final models.Config for one run: Default() overlaid by
// at most one config file, overlaid by whichever CLI flags the caller
// actually passed. CLI always wins.
func Load(args []string) (models.Config, error) {
	fs := flag.NewFlagSet("paramrun", flag.ContinueOnError)
	overlay := NewFlagSet(fs)
	if err := fs.Parse(args); err != nil {
		return models.Config{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	cfg := Default()

	path, kind, err := overlay.ConfigFile()
	if err != nil {
		return cfg, err
	}
	if path != "" {
		var fc FileConfig
		switch kind {
		case "yaml":
			fc, err = LoadYAML(path)
		case "toml":
			fc, err = LoadTOML(path)
		case "json":
			fc, err = LoadJSON(path)
		}
		if err != nil {
			return cfg, err
		}
		cfg, err = Merge(cfg, fc)
		if err != nil {
			return cfg, err
		}
	}

	cfg, err = Merge(cfg, overlay.AsFileConfig())
	if err != nil {
		return cfg, err
	}

	if cfg.OrchestratorFile != "" {
		oc, err := LoadOrchestratorFile(cfg.OrchestratorFile)
		if err != nil {
			return cfg, err
		}
		_ = oc // consumed by internal/policy at run time, via its own loader call
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadOrchestratorFile parses the YAML rule table consumed by internal/policy.
func LoadOrchestratorFile(path string) (models.OrchestratorConfig, error) {
	var oc models.OrchestratorConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return oc, fmt.Errorf("reading orchestrator file: %w", err)
	}
	if err := yaml.Unmarshal(data, &oc); err != nil {
		return oc, fmt.Errorf("parsing orchestrator file: %w", err)
	}
	for i, rule := range oc.Errors {
		switch rule.Behavior {
		case models.ExcludeNode, models.Restart, models.RestartOnDifferentNode, models.ExcludeNodeAndRestartAll:
		default:
			return oc, fmt.Errorf("orchestrator rule %d (%s): unknown behavior %q", i, rule.Name, rule.Behavior)
		}
		if len(rule.MatchStrings) == 0 {
			return oc, fmt.Errorf("orchestrator rule %d (%s): at least one match string is required", i, rule.Name)
		}
	}
	return oc, nil
}

// validate enforces the required-field and mutual-exclusion rules that
// aren't already caught by paramspace.Build.
func validate(cfg models.Config) error {
	if cfg.ContinuePrev != "" && len(cfg.Parameters) > 0 {
		return fmt.Errorf("--continue_previous_job and --parameter are mutually exclusive")
	}
	if cfg.ContinuePrev == "" {
		if cfg.RunProgram == "" {
			return fmt.Errorf("--run_program is required")
		}
		if cfg.ExperimentName == "" {
			return fmt.Errorf("--experiment_name is required")
		}
		if cfg.MaxEval <= 0 {
			return fmt.Errorf("--max_eval must be positive")
		}
		if len(cfg.Parameters) == 0 {
			return fmt.Errorf("at least one --parameter is required")
		}
	}
	if cfg.NumParallelJobs <= 0 {
		return fmt.Errorf("--num_parallel_jobs must be positive")
	}
	return nil
}
