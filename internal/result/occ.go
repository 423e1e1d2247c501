package result

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hpcforge/paramrun/internal/models"
)

// Scalarize reduces an ordered result vector to a single signed scalar
// using one of the OCC formulas. xs must be given in the same order as
// the experiment's ResultSpecs.
func Scalarize(xs []float64, occType models.OCCType, minkowskiP float64, weightsRaw string) (float64, error) {
	if len(xs) == 0 {
		return 0, nil
	}
	switch occType {
	case models.OCCEuclid:
		return signedEuclidean(xs), nil
	case models.OCCGeometric:
		return signedGeometric(xs), nil
	case models.OCCSignedHarmonic:
		return signedHarmonic(xs), nil
	case models.OCCSignedMinkowski:
		if minkowskiP <= 0 {
			return 0, fmt.Errorf("result: minkowski_p must be greater than 0, got %v", minkowskiP)
		}
		return signedMinkowski(xs, minkowskiP), nil
	case models.OCCWeightedEuclid:
		return signedWeightedEuclidean(xs, weightsRaw)
	default:
		// "composite" is an accepted CLI value with no defined formula:
		// no dispatch case picks a scalarization for it. A descriptive
		// error here beats inventing one.
		return 0, fmt.Errorf("result: OCC type %q has no defined formula", occType)
	}
}

func signedEuclidean(xs []float64) float64 {
	var sum float64
	neg := false
	for _, x := range xs {
		sum += x * x
		if x < 0 {
			neg = true
		}
	}
	sign := 1.0
	if neg {
		sign = -1
	}
	return sign * math.Sqrt(sum)
}

func signedGeometric(xs []float64) float64 {
	product := 1.0
	negatives := 0
	for _, x := range xs {
		product *= math.Abs(x)
		if x < 0 {
			negatives++
		}
	}
	sign := 1.0
	if negatives%2 != 0 {
		sign = -1
	}
	return sign * math.Pow(product, 1/float64(len(xs)))
}

func signedHarmonic(xs []float64) float64 {
	var invSum float64
	negatives := 0
	for _, x := range xs {
		if x != 0 {
			invSum += 1 / math.Abs(x)
		}
		if x < 0 {
			negatives++
		}
	}
	harmonicMean := 0.0
	if invSum != 0 {
		harmonicMean = float64(len(xs)) / invSum
	}
	sign := 1.0
	if negatives%2 != 0 {
		sign = -1
	}
	return sign * harmonicMean
}

func signedMinkowski(xs []float64, p float64) float64 {
	var sum float64
	neg := false
	for _, x := range xs {
		sum += math.Pow(math.Abs(x), p)
		if x < 0 {
			neg = true
		}
	}
	sign := 1.0
	if neg {
		sign = -1
	}
	return sign * math.Pow(sum, 1/p)
}

func signedWeightedEuclidean(xs []float64, weightsRaw string) (float64, error) {
	weights, err := parseWeights(weightsRaw, len(xs))
	if err != nil {
		return 0, err
	}
	var sum float64
	neg := false
	for i, x := range xs {
		sum += weights[i] * x * x
		if x < 0 {
			neg = true
		}
	}
	sign := 1.0
	if neg {
		sign = -1
	}
	return sign * math.Sqrt(sum), nil
}

// parseWeights parses a comma-separated list of reals, trimming extras and
// padding missing entries with 1.
func parseWeights(raw string, n int) ([]float64, error) {
	var weights []float64
	if strings.TrimSpace(raw) != "" {
		for _, field := range strings.Split(raw, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("result: invalid weight %q: %w", field, err)
			}
			weights = append(weights, v)
		}
	}
	if len(weights) > n {
		weights = weights[:n]
	}
	for len(weights) < n {
		weights = append(weights, 1)
	}
	return weights, nil
}
