package generator

import "github.com/hpcforge/paramrun/internal/models"

// ResolveParallelism turns the --max_parallelism knob into a concrete cap
// on concurrently outstanding trials; a knob that resolves to zero or less
// falls back to maxEval.
func ResolveParallelism(knob models.ParallelismKnob, maxEval, numParallelJobs int) int {
	n := knob.Resolve(maxEval, numParallelJobs)
	if n <= 0 {
		return maxEval
	}
	return n
}
