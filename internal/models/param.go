// Package models holds the types shared by every other package: parameters,
// constraints, trials, and the experiment snapshot.
package models

import (
	"fmt"
	"regexp"
)

// ValueType is the scalar type of a range parameter.
type ValueType int

const (
	Integer ValueType = iota
	Real
)

func (t ValueType) String() string {
	if t == Integer {
		return "int"
	}
	return "float"
}

var paramNameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ReservedNames are parameter names the system itself uses for trial
// metadata columns; a user-declared parameter may not collide with them.
var ReservedNames = map[string]bool{
	"start_time":     true,
	"end_time":       true,
	"run_time":       true,
	"program_string": true,
	"exit_code":      true,
	"signal":         true,
}

// Parameter is one of RangeParameter, ChoiceParameter, FixedParameter.
type Parameter interface {
	Name() string
	// Validate checks the parameter's own invariants, independent of
	// the rest of the space (reserved-name / uniqueness checks happen
	// at the space level).
	Validate() error
}

// RangeParameter is a continuous or integer interval.
type RangeParameter struct {
	ParamName string
	Type      ValueType
	Lower     float64
	Upper     float64
	LogScale  bool
}

func (p *RangeParameter) Name() string { return p.ParamName }

// Validate normalizes bounds in place (floor/ceil for integer types,
// mirroring equal nonzero bounds) and rejects equal-zero bounds.
func (p *RangeParameter) Validate() error {
	if !paramNameRE.MatchString(p.ParamName) {
		return fmt.Errorf("parameter %q: name must match [A-Za-z0-9_]+", p.ParamName)
	}
	if p.Type == Integer {
		p.Lower = ceilFloor(p.Lower, true)
		p.Upper = ceilFloor(p.Upper, false)
	}
	if p.Lower == p.Upper {
		if p.Lower == 0 {
			return fmt.Errorf("parameter %q: equal-zero bounds are invalid", p.ParamName)
		}
		p.Lower = -p.Upper
	}
	if p.Lower > p.Upper {
		p.Lower, p.Upper = p.Upper, p.Lower
	}
	return nil
}

func ceilFloor(v float64, floor bool) float64 {
	i := int64(v)
	if floor {
		if v < 0 && float64(i) != v {
			i--
		}
		return float64(i)
	}
	if v > 0 && float64(i) != v {
		i++
	}
	return float64(i)
}

// ChoiceParameter is a discrete set of string-encoded values, which sort
// numerically when every value looks like a number.
type ChoiceParameter struct {
	ParamName string
	Ordered   bool
	Values    []string
}

func (p *ChoiceParameter) Name() string { return p.ParamName }

func (p *ChoiceParameter) Validate() error {
	if !paramNameRE.MatchString(p.ParamName) {
		return fmt.Errorf("parameter %q: name must match [A-Za-z0-9_]+", p.ParamName)
	}
	if len(p.Values) == 0 {
		return fmt.Errorf("parameter %q: choice requires at least one value", p.ParamName)
	}
	return nil
}

// FixedParameter always resolves to a single value.
type FixedParameter struct {
	ParamName string
	Value     string
}

func (p *FixedParameter) Name() string { return p.ParamName }

func (p *FixedParameter) Validate() error {
	if !paramNameRE.MatchString(p.ParamName) {
		return fmt.Errorf("parameter %q: name must match [A-Za-z0-9_]+", p.ParamName)
	}
	return nil
}
