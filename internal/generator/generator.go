// Package generator implements the trial source (C3): turning the
// parameter space into concrete parameter assignments, tracking which
// trials have been observed, and serializing enough state to resume a
// search deterministically across a continuation.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
)

// ErrOptimizationComplete is returned by Next once the source has no more
// trials to propose, a sentinel value rather than a panic so the
// dispatcher's control loop can treat exhaustion as an ordinary, expected
// outcome.
var ErrOptimizationComplete = errors.New("generator: optimization complete")

// GeneratedTrial is one proposed parameter assignment plus the name of the
// strategy that produced it, recorded on the Trial for the end-of-run
// per-generation-method breakdown.
type GeneratedTrial struct {
	Params map[string]string
	Method string
}

// TrialSource is the strategy that proposes parameter assignments and
// incorporates observed results. SobolSource, UniformModelSource, and
// StagedSource (which composes the two) are the concrete implementations.
type TrialSource interface {
	// Next proposes up to n new trials. It may return fewer than n, and
	// returns ErrOptimizationComplete once no further trials will ever be
	// proposed.
	Next(ctx context.Context, n int) ([]GeneratedTrial, error)
	// Observe feeds a completed trial's raw result values back into the
	// source, so model-guided strategies can condition subsequent
	// proposals on it.
	Observe(trialIndex int, raw map[string]float64) error
	// AttachObservation incorporates an externally-supplied (params,
	// result) pair — e.g. one imported from a prior run — without routing
	// it through Next, returning the trial index it was assigned.
	AttachObservation(params map[string]string, raw map[string]float64) (int, error)
	// State returns the source's serialized internal state for the
	// experiment snapshot.
	State() json.RawMessage
}

// materialize converts a vector of unit-interval draws, one per
// non-fixed parameter (in space.Parameters order, skipping
// *models.FixedParameter), into a concrete string-valued assignment.
func materialize(space *paramspace.Space, draws []float64) map[string]string {
	out := make(map[string]string, len(space.Parameters))
	d := 0
	for _, p := range space.Parameters {
		switch v := p.(type) {
		case *models.FixedParameter:
			out[v.Name()] = v.Value
		default:
			frac := 0.0
			if d < len(draws) {
				frac = draws[d]
			}
			d++
			out[p.Name()] = materializeOne(p, frac)
		}
	}
	return out
}

// satisfies reports whether an assignment obeys every constraint,
// treating an evaluation error as a rejection rather than surfacing it
// mid-generation (a malformed constraint is validated, and rejected, at
// paramspace.Build time).
func satisfies(space *paramspace.Space, values map[string]string) bool {
	if len(space.Constraints) == 0 {
		return true
	}
	numeric := make(map[string]float64, len(values))
	for k, v := range values {
		if f, ok := parseFloatLoose(v); ok {
			numeric[k] = f
		}
	}
	ok, err := space.Satisfies(numeric)
	if err != nil {
		return false
	}
	return ok
}

// maxRejectionAttempts bounds constraint-rejection resampling: a
// pathologically narrow feasible region shouldn't hang the generator
// forever, so after this many misses we accept the last draw anyway and
// let the dispatcher's result/constraint reporting surface the issue.
const maxRejectionAttempts = 200

func validateState(kind string, raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("generator: restoring %s state: %w", kind, err)
	}
	return nil
}
