package models

import "encoding/json"

// Snapshot is the single JSON document written atomically after every
// state-changing event. It is the full restorable state of an experiment:
// the parameter space, constraints, the generator's serialized state, and
// every trial recorded so far.
type Snapshot struct {
	ExperimentName string             `json:"experiment_name"`
	RunUUID        string             `json:"run_uuid"`
	ParentRunUUID  string             `json:"uuid_of_continued_run,omitempty"`
	Parameters     []RawParameter     `json:"parameters"`
	Constraints    []string           `json:"constraints,omitempty"`
	ResultNames    ResultSpecs        `json:"result_names"`
	GeneratorState json.RawMessage    `json:"generator_state"`
	Trials         []Trial            `json:"trials"`
	SubmittedJobs  int                `json:"submitted_jobs"`
}

// RawParameter is the serializable form of a Parameter, since the
// Parameter interface itself isn't JSON-addressable without a tag.
type RawParameter struct {
	Kind      string    `json:"kind"` // "range" | "choice" | "fixed"
	Name      string    `json:"name"`
	ValueType ValueType `json:"value_type,omitempty"`
	Lower     float64   `json:"lower,omitempty"`
	Upper     float64   `json:"upper,omitempty"`
	LogScale  bool      `json:"log_scale,omitempty"`
	Ordered   bool      `json:"ordered,omitempty"`
	Values    []string  `json:"values,omitempty"`
	Value     string    `json:"value,omitempty"`
}

// ToRaw converts a live Parameter into its serializable form.
func ToRaw(p Parameter) RawParameter {
	switch v := p.(type) {
	case *RangeParameter:
		return RawParameter{Kind: "range", Name: v.ParamName, ValueType: v.Type, Lower: v.Lower, Upper: v.Upper, LogScale: v.LogScale}
	case *ChoiceParameter:
		return RawParameter{Kind: "choice", Name: v.ParamName, Ordered: v.Ordered, Values: v.Values}
	case *FixedParameter:
		return RawParameter{Kind: "fixed", Name: v.ParamName, Value: v.Value}
	default:
		return RawParameter{}
	}
}

// FromRaw reconstructs a live Parameter from its serializable form.
func FromRaw(r RawParameter) Parameter {
	switch r.Kind {
	case "range":
		return &RangeParameter{ParamName: r.Name, Type: r.ValueType, Lower: r.Lower, Upper: r.Upper, LogScale: r.LogScale}
	case "choice":
		return &ChoiceParameter{ParamName: r.Name, Ordered: r.Ordered, Values: r.Values}
	case "fixed":
		return &FixedParameter{ParamName: r.Name, Value: r.Value}
	default:
		return nil
	}
}
