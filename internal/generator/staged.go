package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
)

// StagedSource runs a fixed number of quasi-random warm-up trials before
// handing control to a model-guided source: the first NumRandomSteps
// proposals always come from Sobol, regardless of --model.
type StagedSource struct {
	warmup    *SobolSource
	model     ModelSource
	sobolOnly bool // true when --model SOBOL: model == warmup, observed/state once
	numRandom int
	issued    int
	maxEval   int
}

type stagedState struct {
	Issued int             `json:"issued"`
	Warmup json.RawMessage `json:"warmup"`
	Model  json.RawMessage `json:"model"`
}

// NewStagedSource builds a fresh StagedSource.
func NewStagedSource(space *paramspace.Space, numRandom, maxEval int, seed int64, model models.ModelKind) *StagedSource {
	warmup := NewSobolSource(space, seed)
	s := &StagedSource{warmup: warmup, numRandom: numRandom, maxEval: maxEval}
	if model == models.ModelSobol {
		s.model, s.sobolOnly = warmup, true
	} else {
		s.model = NewUniformModelSource(space, model, seed)
	}
	return s
}

// RestoreStagedSource rebuilds a StagedSource, including its warm-up and
// model sub-sources, from a previously serialized state.
func RestoreStagedSource(space *paramspace.Space, numRandom, maxEval int, seed int64, model models.ModelKind, raw json.RawMessage) (*StagedSource, error) {
	var st stagedState
	if err := validateState("staged", raw, &st); err != nil {
		return nil, err
	}
	warmup, err := RestoreSobolSource(space, seed, st.Warmup)
	if err != nil {
		return nil, err
	}
	s := &StagedSource{warmup: warmup, numRandom: numRandom, maxEval: maxEval, issued: st.Issued}
	if model == models.ModelSobol {
		s.model, s.sobolOnly = warmup, true
	} else {
		s.model, err = RestoreUniformModelSource(space, model, seed, st.Model)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Next proposes trials from the warm-up source until numRandom have been
// issued, then from the model source, stopping once maxEval total trials
// have ever been issued.
func (s *StagedSource) Next(ctx context.Context, n int) ([]GeneratedTrial, error) {
	if s.issued >= s.maxEval {
		return nil, ErrOptimizationComplete
	}
	if n > s.maxEval-s.issued {
		n = s.maxEval - s.issued
	}

	out := make([]GeneratedTrial, 0, n)
	remaining := n
	for remaining > 0 {
		if s.issued < s.numRandom {
			batch := s.numRandom - s.issued
			if batch > remaining {
				batch = remaining
			}
			trials, err := s.warmup.Next(ctx, batch)
			if err != nil {
				return out, err
			}
			out = append(out, trials...)
			s.issued += len(trials)
			remaining -= len(trials)
			continue
		}
		trials, err := s.model.Next(ctx, remaining)
		if err != nil {
			return out, err
		}
		if len(trials) == 0 {
			break
		}
		out = append(out, trials...)
		s.issued += len(trials)
		remaining -= len(trials)
	}
	return out, nil
}

func (s *StagedSource) Observe(trialIndex int, raw map[string]float64) error {
	if err := s.warmup.Observe(trialIndex, raw); err != nil {
		return err
	}
	if !s.sobolOnly {
		return s.model.Observe(trialIndex, raw)
	}
	return nil
}

func (s *StagedSource) AttachObservation(params map[string]string, raw map[string]float64) (int, error) {
	idx, err := s.warmup.AttachObservation(params, raw)
	if err != nil {
		return 0, err
	}
	s.issued++
	return idx, nil
}

func (s *StagedSource) State() json.RawMessage {
	var modelState json.RawMessage
	if !s.sobolOnly {
		modelState = s.model.State()
	}
	data, err := json.Marshal(stagedState{Issued: s.issued, Warmup: s.warmup.State(), Model: modelState})
	if err != nil {
		panic(fmt.Sprintf("generator: marshaling staged state: %v", err))
	}
	return data
}
