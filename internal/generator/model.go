package generator

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
)

// ModelSource is the strategy interface for the model-guided phase of a
// staged search. UniformModelSource is the only concrete implementation
// this repo ships; a real GP/BoTorch/SAASBO/ASHA backend is out of scope
// (see DESIGN.md, Open Question OQ-1).
type ModelSource interface {
	TrialSource
	// ModelName reports the requested --model value, even though the
	// actual sampling strategy is uniform, so trial records and run
	// reports can be honest about which strategy was requested.
	ModelName() string
}

// UniformModelSource is the fallback for every --model value other than
// SOBOL: it samples uniformly within bounds (no history-conditioned
// modeling) but tags every trial it produces with the originally
// requested model name.
type UniformModelSource struct {
	space *paramspace.Space
	model models.ModelKind
	rng   *rand.Rand
	count int
}

type uniformState struct {
	Count int `json:"count"`
}

// NewUniformModelSource builds a fresh UniformModelSource.
func NewUniformModelSource(space *paramspace.Space, model models.ModelKind, seed int64) *UniformModelSource {
	return &UniformModelSource{space: space, model: model, rng: rand.New(rand.NewSource(seed))}
}

// RestoreUniformModelSource rebuilds a UniformModelSource from a
// previously serialized state.
func RestoreUniformModelSource(space *paramspace.Space, model models.ModelKind, seed int64, raw json.RawMessage) (*UniformModelSource, error) {
	var st uniformState
	if err := validateState("uniform_model", raw, &st); err != nil {
		return nil, err
	}
	s := NewUniformModelSource(space, model, seed)
	s.count = st.Count
	return s, nil
}

func (s *UniformModelSource) ModelName() string { return string(s.model) }

func (s *UniformModelSource) Next(ctx context.Context, n int) ([]GeneratedTrial, error) {
	out := make([]GeneratedTrial, 0, n)
	dims := countNonFixed(s.space)
	for i := 0; i < n; i++ {
		draws := make([]float64, dims)
		for d := range draws {
			draws[d] = s.rng.Float64()
		}
		params := materialize(s.space, draws)
		attempts := 0
		for !satisfies(s.space, params) && attempts < maxRejectionAttempts {
			for d := range draws {
				draws[d] = s.rng.Float64()
			}
			params = materialize(s.space, draws)
			attempts++
		}
		s.count++
		out = append(out, GeneratedTrial{Params: params, Method: string(s.model)})
	}
	return out, nil
}

// Observe is a no-op: uniform sampling is, by construction, oblivious to
// observed results. A real surrogate model would condition on this.
func (s *UniformModelSource) Observe(trialIndex int, raw map[string]float64) error { return nil }

func (s *UniformModelSource) AttachObservation(params map[string]string, raw map[string]float64) (int, error) {
	s.count++
	return s.count, nil
}

func (s *UniformModelSource) State() json.RawMessage {
	data, _ := json.Marshal(uniformState{Count: s.count})
	return data
}
