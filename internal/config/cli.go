package config

import (
	"flag"
	"fmt"
)

// flagSlice accumulates repeated string flags (--parameter, --result_names,
// --exclude, --experiment_constraints), the same repeatable-flag idiom the
// standard library flag package doesn't provide a helper for.
type flagSlice []string

func (s *flagSlice) String() string { return fmt.Sprint(*s) }
func (s *flagSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// CLIOverlay holds every flag.FlagSet field, then overlays only the flags
// the user actually passed onto the in-progress Config, using fs.Visit so
// an unset flag never clobbers a value from a config file.
type CLIOverlay struct {
	fs *flag.FlagSet

	numRandomSteps int
	maxEval        int
	runProgram     string
	experimentName string
	memGB          float64
	parameter      flagSlice
	continuePrev   string

	maximize    bool
	resultNames flagSlice

	numParallelJobs   int
	maxParallelism    string
	shouldDeduplicate bool

	partition     string
	reservation   string
	account       string
	time          string
	gpus          int
	cpusPerTask   int
	nodesPerJob   int
	signalDelay   int
	useSrun       bool
	exclude       flagSlice
	forceLocal    bool

	backend       string
	modalApp      string
	modalImage    string
	modalCPUs     float64
	modalMemoryMB int

	model          string
	gridsearch     bool
	seed           int64
	enforceSeq     bool

	occ            bool
	occType        string
	minkowskiP     float64
	signedWeights  string

	orchestratorFile  string
	autoExclude       bool
	maxZeroResults    int
	disableExhaustion bool

	constraints flagSlice
	runDir      string

	configYAML string
	configTOML string
	configJSON string
}

// NewFlagSet registers every supported flag on fs and returns the overlay
// used to read back only the ones the caller actually set.
func NewFlagSet(fs *flag.FlagSet) *CLIOverlay {
	o := &CLIOverlay{fs: fs}
	fs.IntVar(&o.numRandomSteps, "num_random_steps", 0, "number of quasi-random warm-up trials")
	fs.IntVar(&o.maxEval, "max_eval", 0, "maximum number of trials to run")
	fs.StringVar(&o.runProgram, "run_program", "", "program string template")
	fs.StringVar(&o.experimentName, "experiment_name", "", "experiment name")
	fs.Float64Var(&o.memGB, "mem_gb", 0, "memory per trial in GB")
	fs.Var(&o.parameter, "parameter", "parameter declaration, repeatable")
	fs.StringVar(&o.continuePrev, "continue_previous_job", "", "path to a previous run directory to continue")

	fs.BoolVar(&o.maximize, "maximize", false, "maximize instead of minimize")
	fs.Var(&o.resultNames, "result_names", "result name, optionally name=min|max, repeatable")

	fs.IntVar(&o.numParallelJobs, "num_parallel_jobs", 0, "number of concurrently outstanding jobs")
	fs.StringVar(&o.maxParallelism, "max_parallelism", "", "cap on concurrently outstanding trials: symbol or literal")
	fs.BoolVar(&o.shouldDeduplicate, "should_deduplicate", false, "skip duplicate parameter sets when importing a previous run")

	fs.StringVar(&o.partition, "partition", "", "cluster partition")
	fs.StringVar(&o.reservation, "reservation", "", "cluster reservation")
	fs.StringVar(&o.account, "account", "", "cluster account")
	fs.StringVar(&o.time, "time", "", "cluster wall time, e.g. 01:00:00")
	fs.IntVar(&o.gpus, "gpus", 0, "GPUs per job")
	fs.IntVar(&o.cpusPerTask, "cpus_per_task", 0, "CPUs per task")
	fs.IntVar(&o.nodesPerJob, "nodes_per_job", 0, "nodes per job")
	fs.IntVar(&o.signalDelay, "slurm_signal_delay_s", 0, "seconds before the wall-time limit at which SLURM sends SIGUSR1 to the batch script")
	fs.BoolVar(&o.useSrun, "slurm_use_srun", false, "wrap the run program in srun")
	fs.Var(&o.exclude, "exclude", "host to exclude, repeatable")
	fs.BoolVar(&o.forceLocal, "force_local_execution", false, "run trials as local subprocesses instead of submitting to the cluster")

	fs.StringVar(&o.backend, "backend", "", "job executor backend: local, cluster, or modal")
	fs.StringVar(&o.modalApp, "modal_app", "", "Modal app name for the modal backend")
	fs.StringVar(&o.modalImage, "modal_image", "", "container image reference for the modal backend")
	fs.Float64Var(&o.modalCPUs, "modal_cpus", 0, "CPUs per Modal sandbox")
	fs.IntVar(&o.modalMemoryMB, "modal_memory_mb", 0, "memory in MB per Modal sandbox")

	fs.StringVar(&o.model, "model", "", "generation model: SOBOL, GPEI, FACTORIAL, SAASBO, LEGACY_BOTORCH, BOTORCH_MODULAR, UNIFORM, BO_MIXED")
	fs.BoolVar(&o.gridsearch, "gridsearch", false, "expand range parameters into an ordered grid")
	fs.Int64Var(&o.seed, "seed", 0, "random seed")
	fs.BoolVar(&o.enforceSeq, "enforce_sequential_optimization", false, "accepted and stored in the config; trial submission does not read it")

	fs.BoolVar(&o.occ, "occ", false, "scalarize multiple results with OCC")
	fs.StringVar(&o.occType, "occ_type", "", "OCC formula: geometric, euclid, signed_harmonic, signed_minkowski, weighted_euclid, composite")
	fs.Float64Var(&o.minkowskiP, "minkowski_p", 0, "p exponent for signed_minkowski")
	fs.StringVar(&o.signedWeights, "signed_weighted_euclidean_weights", "", "comma-separated per-objective weights")

	fs.StringVar(&o.orchestratorFile, "orchestrator_file", "", "path to an orchestrator rule file")
	fs.BoolVar(&o.autoExclude, "auto_exclude_defective_hosts", false, "exclude a host after 3 failures that no orchestrator rule matched")
	fs.IntVar(&o.maxZeroResults, "max_nr_of_zero_results", 0, "consecutive ticks with no new trial and nothing outstanding before declaring search-space exhaustion")
	fs.BoolVar(&o.disableExhaustion, "disable_search_space_exhaustion_detection", false, "never terminate early on search-space exhaustion")

	fs.Var(&o.constraints, "experiment_constraints", "linear constraint expression, repeatable")
	fs.StringVar(&o.runDir, "run_dir", "", "root directory for run folders")

	fs.StringVar(&o.configYAML, "config_yaml", "", "path to a YAML config file")
	fs.StringVar(&o.configTOML, "config_toml", "", "path to a TOML config file")
	fs.StringVar(&o.configJSON, "config_json", "", "path to a JSON config file")

	return o
}

// ConfigFile reports which of --config_yaml/--config_toml/--config_json was
// passed, returning an error if more than one was.
func (o *CLIOverlay) ConfigFile() (path string, kind string, err error) {
	set := 0
	if o.configYAML != "" {
		path, kind, set = o.configYAML, "yaml", set+1
	}
	if o.configTOML != "" {
		path, kind, set = o.configTOML, "toml", set+1
	}
	if o.configJSON != "" {
		path, kind, set = o.configJSON, "json", set+1
	}
	if set > 1 {
		return "", "", fmt.Errorf("--config_yaml, --config_toml, and --config_json are mutually exclusive")
	}
	return path, kind, nil
}

// AsFileConfig converts the CLI flags the user actually passed into the
// same FileConfig shape a config file would produce, so Merge can be
// reused verbatim for the final CLI-always-wins overlay.
func (o *CLIOverlay) AsFileConfig() FileConfig {
	fc := FileConfig{
		NumRandomSteps:                 o.numRandomSteps,
		MaxEval:                        o.maxEval,
		RunProgram:                     o.runProgram,
		ExperimentName:                 o.experimentName,
		MemGB:                          o.memGB,
		Parameter:                      o.parameter,
		ContinuePrev:                   o.continuePrev,
		Maximize:                       o.maximize,
		ResultNames:                    o.resultNames,
		NumParallelJobs:                o.numParallelJobs,
		MaxParallelism:                 o.maxParallelism,
		ShouldDeduplicate:              o.shouldDeduplicate,
		Partition:                      o.partition,
		Reservation:                    o.reservation,
		Account:                        o.account,
		Time:                           o.time,
		GPUs:                           o.gpus,
		CPUsPerTask:                    o.cpusPerTask,
		NodesPerJob:                    o.nodesPerJob,
		SlurmSignalDelaySec:            o.signalDelay,
		SlurmUseSrun:                   o.useSrun,
		Exclude:                        o.exclude,
		ForceLocalExecution:            o.forceLocal,
		Backend:                        o.backend,
		ModalApp:                       o.modalApp,
		ModalImage:                     o.modalImage,
		ModalCPUs:                      o.modalCPUs,
		ModalMemoryMB:                  o.modalMemoryMB,
		Model:                          o.model,
		Gridsearch:                     o.gridsearch,
		Seed:                           o.seed,
		EnforceSequentialOptimization:  o.enforceSeq,
		OCC:                            o.occ,
		OCCType:                        o.occType,
		MinkowskiP:                     o.minkowskiP,
		SignedWeightedEuclideanWeights: o.signedWeights,
		OrchestratorFile:               o.orchestratorFile,
		AutoExcludeDefectiveHosts:      o.autoExclude,
		MaxNrOfZeroResults:             o.maxZeroResults,
		DisableSearchSpaceExhaustionDetection: o.disableExhaustion,
		ExperimentConstraints:          o.constraints,
		RunDir:                         o.runDir,
	}

	// Booleans and zero-valued numerics can't be distinguished from "unset"
	// by value alone; fs.Visit tells us exactly which flags the user typed,
	// so only those win the overlay. Non-bool/non-slice zero values default
	// to "leave the file/default config's value alone".
	visited := map[string]bool{}
	o.fs.Visit(func(f *flag.Flag) { visited[f.Name] = true })
	if !visited["maximize"] {
		fc.Maximize = false
	}
	if !visited["should_deduplicate"] {
		fc.ShouldDeduplicate = false
	}
	if !visited["slurm_use_srun"] {
		fc.SlurmUseSrun = false
	}
	if !visited["force_local_execution"] {
		fc.ForceLocalExecution = false
	}
	if !visited["gridsearch"] {
		fc.Gridsearch = false
	}
	if !visited["enforce_sequential_optimization"] {
		fc.EnforceSequentialOptimization = false
	}
	if !visited["occ"] {
		fc.OCC = false
	}
	if !visited["auto_exclude_defective_hosts"] {
		fc.AutoExcludeDefectiveHosts = false
	}
	if !visited["disable_search_space_exhaustion_detection"] {
		fc.DisableSearchSpaceExhaustionDetection = false
	}
	return fc
}
