package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hpcforge/paramrun/internal/models"
)

// ParseParameterFlags parses the repeated --parameter flag, one entry per
// declared parameter. Grammar, space-separated fields:
//
//	range:  <name> range <lower> <upper> <int|real> [log]
//	choice: <name> choice <v1,v2,...> [ordered]
//	fixed:  <name> fixed <value>
func ParseParameterFlags(raw []string) ([]models.Parameter, error) {
	out := make([]models.Parameter, 0, len(raw))
	for _, r := range raw {
		p, err := parseOneParameter(r)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", r, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseOneParameter(r string) (models.Parameter, error) {
	fields := strings.Fields(r)
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected at least <name> <kind>")
	}
	name, kind := fields[0], fields[1]
	switch kind {
	case "range":
		if len(fields) < 5 {
			return nil, fmt.Errorf("range requires <lower> <upper> <int|real> [log]")
		}
		lower, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("lower bound: %w", err)
		}
		upper, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("upper bound: %w", err)
		}
		var vt models.ValueType
		switch fields[4] {
		case "int":
			vt = models.Integer
		case "real":
			vt = models.Real
		default:
			return nil, fmt.Errorf("value type must be int or real, got %q", fields[4])
		}
		logScale := len(fields) > 5 && fields[5] == "log"
		return &models.RangeParameter{
			ParamName: name,
			Type:      vt,
			Lower:     lower,
			Upper:     upper,
			LogScale:  logScale,
		}, nil
	case "choice":
		if len(fields) < 3 {
			return nil, fmt.Errorf("choice requires a comma-separated value list")
		}
		values := strings.Split(fields[2], ",")
		ordered := len(fields) > 3 && fields[3] == "ordered"
		return &models.ChoiceParameter{
			ParamName: name,
			Values:    values,
			Ordered:   ordered,
		}, nil
	case "fixed":
		if len(fields) < 3 {
			return nil, fmt.Errorf("fixed requires a value")
		}
		return &models.FixedParameter{
			ParamName: name,
			Value:     fields[2],
		}, nil
	default:
		return nil, fmt.Errorf("unknown parameter kind %q (want range, choice, or fixed)", kind)
	}
}
