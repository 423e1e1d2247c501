package generator

import (
	"math"
	"sort"
	"strconv"

	"github.com/hpcforge/paramrun/internal/models"
)

// materializeOne maps a single unit-interval draw (assumed in [0,1)) onto
// one parameter's concrete value, following its range/choice semantics.
func materializeOne(p models.Parameter, frac float64) string {
	switch v := p.(type) {
	case *models.RangeParameter:
		return materializeRange(v, frac)
	case *models.ChoiceParameter:
		return materializeChoice(v, frac)
	case *models.FixedParameter:
		return v.Value
	default:
		return ""
	}
}

func materializeRange(p *models.RangeParameter, frac float64) string {
	var value float64
	if p.LogScale && p.Lower > 0 && p.Upper > 0 {
		logLower, logUpper := math.Log(p.Lower), math.Log(p.Upper)
		value = math.Exp(logLower + frac*(logUpper-logLower))
	} else {
		value = p.Lower + frac*(p.Upper-p.Lower)
	}
	if p.Type == models.Integer {
		return strconv.FormatInt(int64(math.Round(value)), 10)
	}
	return strconv.FormatFloat(value, 'g', -1, 64)
}

func materializeChoice(p *models.ChoiceParameter, frac float64) string {
	values := p.Values
	if p.Ordered {
		values = sortedNumericIfPossible(p.Values)
	}
	idx := int(frac * float64(len(values)))
	if idx >= len(values) {
		idx = len(values) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return values[idx]
}

func sortedNumericIfPossible(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	allNumeric := true
	for _, v := range out {
		if _, ok := parseFloatLoose(v); !ok {
			allNumeric = false
			break
		}
	}
	if allNumeric {
		sort.Slice(out, func(i, j int) bool {
			a, _ := parseFloatLoose(out[i])
			b, _ := parseFloatLoose(out[j])
			return a < b
		})
	} else {
		sort.Strings(out)
	}
	return out
}

func parseFloatLoose(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
