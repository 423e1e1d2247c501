package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/hpcforge/paramrun/internal/models"
)

// FileConfig is the serializable mirror of models.Config used for
// --config_yaml/--config_toml/--config_json, since models.Parameter is an
// interface and can't round-trip through a generic decoder directly.
// Field names match the CLI flag names (minus leading --) one-to-one so a
// config file's keys stay predictable from the flag list alone.
type FileConfig struct {
	NumRandomSteps int      `yaml:"num_random_steps" toml:"num_random_steps" json:"num_random_steps"`
	MaxEval        int      `yaml:"max_eval" toml:"max_eval" json:"max_eval"`
	RunProgram     string   `yaml:"run_program" toml:"run_program" json:"run_program"`
	ExperimentName string   `yaml:"experiment_name" toml:"experiment_name" json:"experiment_name"`
	MemGB          float64  `yaml:"mem_gb" toml:"mem_gb" json:"mem_gb"`
	Parameter      []string `yaml:"parameter" toml:"parameter" json:"parameter"` // "name type ..." one entry per --parameter
	ContinuePrev   string   `yaml:"continue_previous_job" toml:"continue_previous_job" json:"continue_previous_job"`

	Maximize    bool     `yaml:"maximize" toml:"maximize" json:"maximize"`
	ResultNames []string `yaml:"result_names" toml:"result_names" json:"result_names"`

	NumParallelJobs   int    `yaml:"num_parallel_jobs" toml:"num_parallel_jobs" json:"num_parallel_jobs"`
	MaxParallelism    string `yaml:"max_parallelism" toml:"max_parallelism" json:"max_parallelism"`
	ShouldDeduplicate bool   `yaml:"should_deduplicate" toml:"should_deduplicate" json:"should_deduplicate"`

	Partition      string   `yaml:"partition" toml:"partition" json:"partition"`
	Reservation    string   `yaml:"reservation" toml:"reservation" json:"reservation"`
	Account        string   `yaml:"account" toml:"account" json:"account"`
	Time           string   `yaml:"time" toml:"time" json:"time"`
	GPUs           int      `yaml:"gpus" toml:"gpus" json:"gpus"`
	CPUsPerTask    int      `yaml:"cpus_per_task" toml:"cpus_per_task" json:"cpus_per_task"`
	NodesPerJob    int      `yaml:"nodes_per_job" toml:"nodes_per_job" json:"nodes_per_job"`
	WorkerTimeout  string   `yaml:"worker_timeout" toml:"worker_timeout" json:"worker_timeout"`
	SlurmSignalDelaySec int `yaml:"slurm_signal_delay_s" toml:"slurm_signal_delay_s" json:"slurm_signal_delay_s"`
	SlurmUseSrun   bool     `yaml:"slurm_use_srun" toml:"slurm_use_srun" json:"slurm_use_srun"`
	Exclude        []string `yaml:"exclude" toml:"exclude" json:"exclude"`
	ForceLocalExecution bool `yaml:"force_local_execution" toml:"force_local_execution" json:"force_local_execution"`

	Backend       string  `yaml:"backend" toml:"backend" json:"backend"`
	ModalApp      string  `yaml:"modal_app" toml:"modal_app" json:"modal_app"`
	ModalImage    string  `yaml:"modal_image" toml:"modal_image" json:"modal_image"`
	ModalCPUs     float64 `yaml:"modal_cpus" toml:"modal_cpus" json:"modal_cpus"`
	ModalMemoryMB int     `yaml:"modal_memory_mb" toml:"modal_memory_mb" json:"modal_memory_mb"`

	Model                         string `yaml:"model" toml:"model" json:"model"`
	Gridsearch                    bool   `yaml:"gridsearch" toml:"gridsearch" json:"gridsearch"`
	Seed                          int64  `yaml:"seed" toml:"seed" json:"seed"`
	EnforceSequentialOptimization bool   `yaml:"enforce_sequential_optimization" toml:"enforce_sequential_optimization" json:"enforce_sequential_optimization"`

	OCC                            bool    `yaml:"occ" toml:"occ" json:"occ"`
	OCCType                        string  `yaml:"occ_type" toml:"occ_type" json:"occ_type"`
	MinkowskiP                     float64 `yaml:"minkowski_p" toml:"minkowski_p" json:"minkowski_p"`
	SignedWeightedEuclideanWeights string  `yaml:"signed_weighted_euclidean_weights" toml:"signed_weighted_euclidean_weights" json:"signed_weighted_euclidean_weights"`

	OrchestratorFile                      string `yaml:"orchestrator_file" toml:"orchestrator_file" json:"orchestrator_file"`
	AutoExcludeDefectiveHosts             bool   `yaml:"auto_exclude_defective_hosts" toml:"auto_exclude_defective_hosts" json:"auto_exclude_defective_hosts"`
	MaxNrOfZeroResults                    int    `yaml:"max_nr_of_zero_results" toml:"max_nr_of_zero_results" json:"max_nr_of_zero_results"`
	DisableSearchSpaceExhaustionDetection bool   `yaml:"disable_search_space_exhaustion_detection" toml:"disable_search_space_exhaustion_detection" json:"disable_search_space_exhaustion_detection"`

	ExperimentConstraints []string `yaml:"experiment_constraints" toml:"experiment_constraints" json:"experiment_constraints"`
	RunDir                string   `yaml:"run_dir" toml:"run_dir" json:"run_dir"`
}

// LoadYAML parses a --config_yaml file.
func LoadYAML(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading yaml config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing yaml config: %w", err)
	}
	return fc, nil
}

// LoadTOML parses a --config_toml file.
func LoadTOML(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading toml config: %w", err)
	}
	if _, err := toml.Decode(string(data), &fc); err != nil {
		return fc, fmt.Errorf("parsing toml config: %w", err)
	}
	return fc, nil
}

// LoadJSON parses a --config_json file.
func LoadJSON(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading json config: %w", err)
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parsing json config: %w", err)
	}
	return fc, nil
}

// Merge overlays a FileConfig's non-zero fields onto a base models.Config.
// Any field left zero in the file is left untouched in base, so a config
// file only ever supplies values it actually sets.
func Merge(base models.Config, fc FileConfig) (models.Config, error) {
	cfg := base
	if fc.NumRandomSteps != 0 {
		cfg.NumRandomSteps = fc.NumRandomSteps
	}
	if fc.MaxEval != 0 {
		cfg.MaxEval = fc.MaxEval
	}
	if fc.RunProgram != "" {
		cfg.RunProgram = fc.RunProgram
	}
	if fc.ExperimentName != "" {
		cfg.ExperimentName = fc.ExperimentName
	}
	if fc.MemGB != 0 {
		cfg.MemGB = fc.MemGB
	}
	if len(fc.Parameter) > 0 {
		params, err := ParseParameterFlags(fc.Parameter)
		if err != nil {
			return cfg, err
		}
		cfg.Parameters = params
	}
	if fc.ContinuePrev != "" {
		cfg.ContinuePrev = fc.ContinuePrev
	}
	if fc.Maximize {
		cfg.Maximize = true
	}
	if len(fc.ResultNames) > 0 {
		names, err := ParseResultNames(fc.ResultNames, cfg.Maximize)
		if err != nil {
			return cfg, err
		}
		cfg.ResultNames = names
	}
	if fc.NumParallelJobs != 0 {
		cfg.NumParallelJobs = fc.NumParallelJobs
	}
	if fc.MaxParallelism != "" {
		cfg.MaxParallelism = ParseParallelismKnob(fc.MaxParallelism)
	}
	if fc.ShouldDeduplicate {
		cfg.ShouldDeduplicate = true
	}
	if fc.Partition != "" {
		cfg.Cluster.Partition = fc.Partition
	}
	if fc.Reservation != "" {
		cfg.Cluster.Reservation = fc.Reservation
	}
	if fc.Account != "" {
		cfg.Cluster.Account = fc.Account
	}
	if fc.Time != "" {
		cfg.Cluster.Time = fc.Time
	}
	if fc.WorkerTimeout != "" {
		d, err := time.ParseDuration(fc.WorkerTimeout)
		if err != nil {
			return cfg, fmt.Errorf("worker_timeout: %w", err)
		}
		cfg.Cluster.WorkerTimeout = d
	}
	if fc.GPUs != 0 {
		cfg.Cluster.GPUs = fc.GPUs
	}
	if fc.CPUsPerTask != 0 {
		cfg.Cluster.CPUsPerTask = fc.CPUsPerTask
	}
	if fc.NodesPerJob != 0 {
		cfg.Cluster.NodesPerJob = fc.NodesPerJob
	}
	if fc.SlurmSignalDelaySec != 0 {
		cfg.Cluster.SignalDelaySec = fc.SlurmSignalDelaySec
	}
	if fc.SlurmUseSrun {
		cfg.Cluster.UseSrun = true
	}
	if len(fc.Exclude) > 0 {
		cfg.Cluster.Exclude = fc.Exclude
	}
	if fc.ForceLocalExecution {
		cfg.Cluster.ForceLocal = true
	}
	if fc.Backend != "" {
		cfg.Backend = fc.Backend
	}
	if fc.ModalApp != "" {
		cfg.Modal.AppName = fc.ModalApp
	}
	if fc.ModalImage != "" {
		cfg.Modal.Image = fc.ModalImage
	}
	if fc.ModalCPUs != 0 {
		cfg.Modal.CPUs = fc.ModalCPUs
	}
	if fc.ModalMemoryMB != 0 {
		cfg.Modal.MemoryMB = fc.ModalMemoryMB
	}
	if fc.Model != "" {
		cfg.Model = models.ModelKind(strings.ToUpper(fc.Model))
	}
	if fc.Gridsearch {
		cfg.Gridsearch = true
	}
	if fc.Seed != 0 {
		cfg.Seed = fc.Seed
	}
	if fc.EnforceSequentialOptimization {
		cfg.EnforceSequentialOptimization = true
	}
	if fc.OCC {
		cfg.OCC = true
	}
	if fc.OCCType != "" {
		cfg.OCCType = models.OCCType(fc.OCCType)
	}
	if fc.MinkowskiP != 0 {
		cfg.MinkowskiP = fc.MinkowskiP
	}
	if fc.SignedWeightedEuclideanWeights != "" {
		cfg.SignedWeightedEuclidWeights = fc.SignedWeightedEuclideanWeights
	}
	if fc.OrchestratorFile != "" {
		cfg.OrchestratorFile = fc.OrchestratorFile
	}
	if fc.AutoExcludeDefectiveHosts {
		cfg.AutoExcludeDefectiveHosts = true
	}
	if fc.MaxNrOfZeroResults != 0 {
		cfg.MaxNrOfZeroResults = fc.MaxNrOfZeroResults
	}
	if fc.DisableSearchSpaceExhaustionDetection {
		cfg.DisableSearchSpaceExhaustionDetection = true
	}
	if len(fc.ExperimentConstraints) > 0 {
		cfg.Constraints = fc.ExperimentConstraints
	}
	if fc.RunDir != "" {
		cfg.RunDir = fc.RunDir
	}
	return cfg, nil
}

// ParseParallelismKnob parses the --max_parallelism value, which is either
// a known symbol or a bare integer.
func ParseParallelismKnob(v string) models.ParallelismKnob {
	switch v {
	case "none", "max_eval", "num_parallel_jobs", "twice_max_eval",
		"twice_num_parallel_jobs", "max_eval_times_thousand_plus_thousand":
		return models.ParallelismKnob{Symbol: v}
	}
	if n, err := strconv.Atoi(v); err == nil {
		return models.ParallelismKnob{Literal: n}
	}
	return models.ParallelismKnob{Symbol: "max_eval"}
}

// ParseResultNames parses "--result_names name[=min|max] ...". A bare name
// inherits the direction implied by --maximize.
func ParseResultNames(raw []string, maximize bool) (models.ResultSpecs, error) {
	def := models.Minimize
	if maximize {
		def = models.Maximize
	}
	var specs models.ResultSpecs
	for _, r := range raw {
		name, dirStr, hasDir := strings.Cut(r, "=")
		dir := def
		if hasDir {
			switch dirStr {
			case "min":
				dir = models.Minimize
			case "max":
				dir = models.Maximize
			default:
				return nil, fmt.Errorf("result_names: invalid direction %q for %q", dirStr, name)
			}
		}
		specs = append(specs, models.ResultSpec{Name: name, Direction: dir})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("result_names: at least one result is required")
	}
	return specs, nil
}
