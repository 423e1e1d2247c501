// Package config builds a models.Config from defaults, an optional config
// file (yaml/toml/json, mutually exclusive), and CLI flags — CLI always
// wins over the file, and the file always wins over the built-in default.
package config

import (
	"time"

	"github.com/hpcforge/paramrun/internal/models"
)

// Default returns a models.Config with every optional field set to its
// documented default value.
func Default() models.Config {
	return models.Config{
		NumParallelJobs:   1,
		MaxParallelism:    models.ParallelismKnob{Symbol: "max_eval"},
		ShouldDeduplicate: false,
		Model:             models.ModelSobol,
		OCCType:           models.OCCEuclid,
		MinkowskiP:        2,
		MaxNrOfZeroResults: 20, // search-space-exhaustion threshold
		RunDir:            "runs",
		Cluster: models.ClusterConfig{
			CPUsPerTask:    1,
			NodesPerJob:    1,
			WorkerTimeout:  24 * time.Hour,
			SignalDelaySec: 0,
		},
	}
}
