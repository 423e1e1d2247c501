package generator

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/paramspace"
)

// SobolSource proposes quasi-random warm-up trials. Each non-fixed
// parameter draws from an independent Halton sequence (the base-prime
// low-discrepancy generator the Sobol family itself is built from), so
// repeated Next calls cover the unit hypercube evenly instead of
// clustering the way uniform pseudo-random sampling does. Sequences are
// offset by a seed-derived scramble so two runs with different --seed
// values don't retrace each other's points.
type SobolSource struct {
	space   *paramspace.Space
	bases   []int
	scramble []float64
	cursor  int
	count   int // number of draws already issued, used as the Halton index
}

// sobolState is SobolSource's JSON-serializable snapshot.
type sobolState struct {
	Count    int       `json:"count"`
	Scramble []float64 `json:"scramble"`
}

var firstPrimes = []int{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151, 157, 163, 167, 173}

// NewSobolSource builds a fresh SobolSource for the given space and seed.
func NewSobolSource(space *paramspace.Space, seed int64) *SobolSource {
	return restoreSobolSource(space, seed, nil)
}

// RestoreSobolSource rebuilds a SobolSource from a previously serialized
// state, continuing the Halton sequence where the prior run left off.
func RestoreSobolSource(space *paramspace.Space, seed int64, raw json.RawMessage) (*SobolSource, error) {
	var st sobolState
	if err := validateState("sobol", raw, &st); err != nil {
		return nil, err
	}
	s := restoreSobolSource(space, seed, st.Scramble)
	s.count = st.Count
	return s, nil
}

func restoreSobolSource(space *paramspace.Space, seed int64, scramble []float64) *SobolSource {
	dims := countNonFixed(space)
	bases := make([]int, dims)
	for i := range bases {
		bases[i] = firstPrimes[i%len(firstPrimes)]
	}
	if scramble == nil {
		rng := rand.New(rand.NewSource(seed))
		scramble = make([]float64, dims)
		for i := range scramble {
			scramble[i] = rng.Float64()
		}
	}
	return &SobolSource{space: space, bases: bases, scramble: scramble}
}

func countNonFixed(space *paramspace.Space) int {
	n := 0
	for _, p := range space.Parameters {
		if _, ok := p.(*models.FixedParameter); !ok {
			n++
		}
	}
	return n
}

// Next implements TrialSource. SobolSource never reports
// ErrOptimizationComplete on its own — the staged strategy or the
// dispatcher's --max_eval bound decides when to stop drawing.
func (s *SobolSource) Next(ctx context.Context, n int) ([]GeneratedTrial, error) {
	out := make([]GeneratedTrial, 0, n)
	for i := 0; i < n; i++ {
		draws := make([]float64, len(s.bases))
		for d := range draws {
			v := haltonValue(s.count+1, s.bases[d]) + s.scramble[d]
			if v >= 1 {
				v -= 1
			}
			draws[d] = v
		}
		params := materialize(s.space, draws)
		attempts := 0
		for !satisfies(s.space, params) && attempts < maxRejectionAttempts {
			s.count++
			attempts++
			for d := range draws {
				v := haltonValue(s.count+1, s.bases[d]) + s.scramble[d]
				if v >= 1 {
					v -= 1
				}
				draws[d] = v
			}
			params = materialize(s.space, draws)
		}
		s.count++
		out = append(out, GeneratedTrial{Params: params, Method: "Sobol"})
	}
	return out, nil
}

// Observe is a no-op for SobolSource: the Halton sequence is oblivious to
// observed results, by design.
func (s *SobolSource) Observe(trialIndex int, raw map[string]float64) error { return nil }

// AttachObservation advances the sequence's draw counter so an imported
// trial consumes one Halton index just as a generated trial does; later
// draws therefore start after every imported trial's index.
func (s *SobolSource) AttachObservation(params map[string]string, raw map[string]float64) (int, error) {
	s.count++
	return s.count, nil
}

// ModelName lets SobolSource satisfy ModelSource directly, so StagedSource
// can use the warm-up source as its own model source when --model SOBOL
// is requested, rather than wrapping it.
func (s *SobolSource) ModelName() string { return "Sobol" }

func (s *SobolSource) State() json.RawMessage {
	data, _ := json.Marshal(sobolState{Count: s.count, Scramble: s.scramble})
	return data
}

// haltonValue returns the base-b radical inverse of i, the core operation
// of the Halton low-discrepancy sequence.
func haltonValue(i, base int) float64 {
	f, result := 1.0, 0.0
	for i > 0 {
		f /= float64(base)
		result += f * float64(i%base)
		i /= base
	}
	return result
}
