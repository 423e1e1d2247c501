// Package result implements the result parser and OCC scalarizer (C7):
// extracting one or more named numeric results from a job's stdout, and,
// when the user opts in, reducing a multi-objective result vector to a
// single scalar for single-score reporting.
package result

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/hpcforge/paramrun/internal/models"
)

var (
	resultLinePattern = regexp.MustCompile(`(?i)^\s*R(\d*)\s*:\s*(-?\d+(?:\.\d+)?)\s*$`)
	legacyLinePattern = regexp.MustCompile(`(?i)^\s*RESULT\s*:\s*(-?\d+(?:\.\d+)?)\s*$`)
	infoLinePattern   = regexp.MustCompile(`(?i)^\s*OO-Info\s*:\s*([A-Za-z0-9_]+)\s*:\s*(.*?)\s*$`)
)

// sentinelMagnitude is the missing-result placeholder: the 59-digit value
// 99999999999999999999999999999999999999999999999999999999999, signed to
// match the objective direction so the dispatcher can treat it as an
// unambiguous worst-case outcome.
var sentinelMagnitude = mustParseSentinel()

func mustParseSentinel() float64 {
	v, err := strconv.ParseFloat(strings.Repeat("9", 59), 64)
	if err != nil {
		panic("result: sentinel magnitude failed to parse: " + err.Error())
	}
	return v
}

// Parse scans a job's stdout for result and OO-Info lines. For a declared
// objective, the first R-form (or RESULT:) line naming its index wins; an
// objective with no matching line at all gets the signed sentinel instead
// of failing the whole trial.
func Parse(stdout []byte, specs models.ResultSpecs) models.RawResult {
	values := make(map[int]float64)
	seen := make(map[int]bool)
	info := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if m := resultLinePattern.FindStringSubmatch(line); m != nil {
			idx := 0
			if m[1] != "" {
				if n, err := strconv.Atoi(m[1]); err == nil {
					idx = n - 1
				}
			}
			if idx >= 0 && !seen[idx] {
				if v, err := strconv.ParseFloat(m[2], 64); err == nil {
					values[idx] = v
					seen[idx] = true
				}
			}
			continue
		}
		if m := legacyLinePattern.FindStringSubmatch(line); m != nil {
			if !seen[0] {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					values[0] = v
					seen[0] = true
				}
			}
			continue
		}
		if m := infoLinePattern.FindStringSubmatch(line); m != nil {
			info[m[1]] = m[2]
		}
	}

	out := models.RawResult{Values: make(map[string]float64, len(specs)), Info: info}
	for i, spec := range specs {
		if v, ok := values[i]; ok {
			out.Values[spec.Name] = v
			continue
		}
		out.Values[spec.Name] = sentinelFor(spec.Direction)
	}
	return out
}

func sentinelFor(dir models.Direction) float64 {
	if dir == models.Maximize {
		return -sentinelMagnitude
	}
	return sentinelMagnitude
}

// IsSentinel reports whether v is the missing-result placeholder for the
// given direction, for callers (the dispatcher's failure accounting) that
// need to tell a real result from a parse failure.
func IsSentinel(v float64, dir models.Direction) bool {
	return v == sentinelFor(dir)
}
