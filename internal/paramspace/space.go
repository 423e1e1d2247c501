// Package paramspace validates and materializes the user's parameter
// declarations (C2): uniqueness, reserved names, bounds normalization,
// constraint parsing, grid-search expansion, and continuation bound
// widening.
package paramspace

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/hpcforge/paramrun/internal/models"
)

// Space is the validated, immutable description consumed by the generator
// (C3) and the dispatcher (C5).
type Space struct {
	Parameters  []models.Parameter
	Constraints []*models.Constraint
}

// Build validates a raw parameter list plus raw constraint strings and
// returns an immutable Space, or the first validation error encountered.
func Build(params []models.Parameter, rawConstraints []string, resultNames models.ResultSpecs) (*Space, error) {
	seen := map[string]bool{}
	for _, p := range params {
		name := p.Name()
		if models.ReservedNames[name] {
			return nil, fmt.Errorf("parameter %q: reserved name", name)
		}
		for _, r := range resultNames {
			if r.Name == name {
				return nil, fmt.Errorf("parameter %q: collides with a declared result name", name)
			}
		}
		if seen[name] {
			return nil, fmt.Errorf("parameter %q: declared more than once", name)
		}
		seen[name] = true
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	names := make(map[string]bool, len(params))
	for _, p := range params {
		names[p.Name()] = true
	}

	constraints := make([]*models.Constraint, 0, len(rawConstraints))
	for _, raw := range rawConstraints {
		c, err := ParseConstraint(raw)
		if err != nil {
			return nil, fmt.Errorf("constraint %q: %w", raw, err)
		}
		for _, v := range c.Variables() {
			if !names[v] {
				return nil, fmt.Errorf("constraint %q: unknown parameter %q", raw, v)
			}
		}
		constraints = append(constraints, c)
	}

	return &Space{Parameters: params, Constraints: constraints}, nil
}

// Satisfies reports whether a concrete assignment obeys every constraint.
func (s *Space) Satisfies(values map[string]float64) (bool, error) {
	for _, c := range s.Constraints {
		ok, err := c.Eval(values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Widen enlarges a range parameter's bounds to cover a previously observed
// value: ranges may widen on continuation/import but are never narrowed
// silently. Widen itself only ever enlarges bounds and logs nothing; a
// narrowed bound on continuation is logged and undone by WarnIfNarrower.
func Widen(p *models.RangeParameter, observed float64) {
	if observed < p.Lower {
		p.Lower = observed
	}
	if observed > p.Upper {
		p.Upper = observed
	}
}

// WarnIfNarrower logs a warning if a freshly-parsed bound would narrow a
// previously observed range, then returns the wider of the two bounds.
func WarnIfNarrower(name string, newLower, newUpper, priorLower, priorUpper float64) (float64, float64) {
	lower, upper := newLower, newUpper
	if newLower > priorLower {
		slog.Warn("range parameter bound narrowed on continuation, widening back", "parameter", name, "requested_lower", newLower, "prior_lower", priorLower)
		lower = priorLower
	}
	if newUpper < priorUpper {
		slog.Warn("range parameter bound narrowed on continuation, widening back", "parameter", name, "requested_upper", newUpper, "prior_upper", priorUpper)
		upper = priorUpper
	}
	return lower, upper
}

// Gridsearch converts every range parameter into an ordered choice by
// sampling MaxEval points linearly between bounds (inclusive endpoints,
// integer-valued for int types), deduplicated and sorted.
func Gridsearch(params []models.Parameter, maxEval int) []models.Parameter {
	out := make([]models.Parameter, 0, len(params))
	for _, p := range params {
		rp, ok := p.(*models.RangeParameter)
		if !ok {
			out = append(out, p)
			continue
		}
		out = append(out, &models.ChoiceParameter{
			ParamName: rp.ParamName,
			Ordered:   true,
			Values:    gridValues(rp, maxEval),
		})
	}
	return out
}

func gridValues(rp *models.RangeParameter, n int) []string {
	if n < 1 {
		n = 1
	}
	seen := map[string]bool{}
	var vals []float64
	for i := 0; i < n; i++ {
		var frac float64
		if n == 1 {
			frac = 0
		} else {
			frac = float64(i) / float64(n-1)
		}
		v := rp.Lower + frac*(rp.Upper-rp.Lower)
		if rp.Type == models.Integer {
			v = float64(int64(v + 0.5*sign(v)))
		}
		vals = append(vals, v)
	}
	sort.Float64s(vals)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		var s string
		if rp.Type == models.Integer {
			s = strconv.FormatInt(int64(v), 10)
		} else {
			s = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
