package models

// Direction is the optimization sense of a declared result.
type Direction string

const (
	Minimize Direction = "min"
	Maximize Direction = "max"
)

// ResultSpec names one objective result and the direction to optimize it in.
type ResultSpec struct {
	Name      string
	Direction Direction
}

// ResultSpecs is the ordered list declared by --result_names / --maximize.
// More than one entry makes the experiment multi-objective; OCC (see
// internal/result) reduces them to a single scalar when the user opts in.
type ResultSpecs []ResultSpec

func (r ResultSpecs) MultiObjective() bool { return len(r) > 1 }

func (r ResultSpecs) Names() []string {
	out := make([]string, len(r))
	for i, s := range r {
		out[i] = s.Name
	}
	return out
}

// RawResult is the set of numeric results extracted from one job's stdout,
// keyed by result name. It may also carry OO-Info side-channel metadata.
type RawResult struct {
	Values map[string]float64
	Info   map[string]string // OO-Info: KEY: VALUE side channel
}
