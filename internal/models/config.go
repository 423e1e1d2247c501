package models

import "time"

// ParallelismKnob is the symbolic or literal value accepted by
// --max_parallelism.
type ParallelismKnob struct {
	Symbol string // "none" | "max_eval" | "num_parallel_jobs" | "twice_max_eval" |
	// "twice_num_parallel_jobs" | "max_eval_times_thousand_plus_thousand" | ""
	Literal int // used when Symbol == ""
}

// Resolve turns the knob into a concrete trial count given the run's
// max_eval and num_parallel_jobs.
func (k ParallelismKnob) Resolve(maxEval, numParallel int) int {
	switch k.Symbol {
	case "", "none":
		if k.Literal > 0 {
			return k.Literal
		}
		return 0
	case "max_eval":
		return maxEval
	case "num_parallel_jobs":
		return numParallel
	case "twice_max_eval":
		return 2 * maxEval
	case "twice_num_parallel_jobs":
		return 2 * numParallel
	case "max_eval_times_thousand_plus_thousand":
		return maxEval*1000 + 1000
	default:
		return k.Literal
	}
}

// ModelKind enumerates the supported --model values. The core only ships a
// concrete generator for Sobol; the rest select UniformModelSource tagged
// with the requested name (Open Question OQ-1).
type ModelKind string

const (
	ModelSobol          ModelKind = "SOBOL"
	ModelGPEI           ModelKind = "GPEI"
	ModelFactorial      ModelKind = "FACTORIAL"
	ModelSAASBO         ModelKind = "SAASBO"
	ModelLegacyBoTorch  ModelKind = "LEGACY_BOTORCH"
	ModelBoTorchModular ModelKind = "BOTORCH_MODULAR"
	ModelUniform        ModelKind = "UNIFORM"
	ModelBOMixed        ModelKind = "BO_MIXED"
)

// OCCType enumerates the --occ_type scalarization formulas.
type OCCType string

const (
	OCCGeometric          OCCType = "geometric"
	OCCEuclid             OCCType = "euclid"
	OCCSignedHarmonic     OCCType = "signed_harmonic"
	OCCSignedMinkowski    OCCType = "signed_minkowski"
	OCCWeightedEuclid     OCCType = "weighted_euclid"
	OCCComposite          OCCType = "composite"
)

// ModalConfig groups the Modal Sandbox burst-backend-specific flags.
type ModalConfig struct {
	AppName  string
	Image    string
	CPUs     float64
	MemoryMB int
}

// ClusterConfig groups the cluster-backend-specific flags.
type ClusterConfig struct {
	Partition       string
	Reservation     string
	Account         string
	Time            string // wall time, e.g. "01:00:00"
	GPUs            int
	CPUsPerTask     int
	NodesPerJob     int
	WorkerTimeout   time.Duration
	SignalDelaySec  int
	UseSrun         bool
	Exclude         []string
	ForceLocal      bool
}

// OrchestratorConfig is the parsed --orchestrator_file rule table (C6).
type OrchestratorConfig struct {
	Errors []OrchestratorRule
}

type Behavior string

const (
	ExcludeNode             Behavior = "ExcludeNode"
	Restart                 Behavior = "Restart"
	RestartOnDifferentNode  Behavior = "RestartOnDifferentNode"
	ExcludeNodeAndRestartAll Behavior = "ExcludeNodeAndRestartAll"
)

type OrchestratorRule struct {
	Name         string   `yaml:"name"`
	MatchStrings []string `yaml:"match_strings"`
	Behavior     Behavior `yaml:"behavior"`
}

// Config is the fully-resolved run configuration: the product of defaults,
// a config file (yaml/toml/json, mutually exclusive), and CLI flags
// (which always take precedence).
type Config struct {
	// Required
	NumRandomSteps  int
	MaxEval         int
	RunProgram      string
	ExperimentName  string
	MemGB           float64
	Parameters      []Parameter
	ContinuePrev    string // path, mutually exclusive with Parameters

	// Objective
	Maximize    bool
	ResultNames ResultSpecs

	// Parallelism
	NumParallelJobs      int
	MaxParallelism       ParallelismKnob
	ShouldDeduplicate    bool

	// Cluster
	Cluster ClusterConfig

	// Backend selects the job executor: "local", "cluster", or "modal".
	// Empty resolves to "local" when Cluster.ForceLocal is set, "cluster"
	// otherwise.
	Backend string
	Modal   ModalConfig

	// Model/strategy
	Model                       ModelKind
	Gridsearch                  bool
	Seed                        int64
	EnforceSequentialOptimization bool

	// OCC
	OCC                        bool
	OCCType                    OCCType
	MinkowskiP                 float64
	SignedWeightedEuclidWeights string

	// Robustness
	OrchestratorFile                    string
	AutoExcludeDefectiveHosts           bool
	MaxNrOfZeroResults                  int
	DisableSearchSpaceExhaustionDetection bool

	// Constraints
	Constraints []string

	// Run-folder root
	RunDir string
}
