package progress

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/hpcforge/paramrun/internal/models"
)

// Report is the end-of-run summary: best result per objective, every
// failed trial's parameters, and a breakdown of how many trials each
// generation method (Sobol warm-up vs. model) produced.
type Report struct {
	Submitted          int
	Completed          int
	Failed             int
	Abandoned          int
	BestByObjective    map[string]models.Trial
	FailedTrials       []models.Trial
	ByGenerationMethod map[string]int
}

// Build derives a Report by iterating every trial once, tracking the
// extremum in the direction of each declared objective in a single pass.
func Build(trials []models.Trial, specs models.ResultSpecs) Report {
	r := Report{
		BestByObjective:    make(map[string]models.Trial),
		ByGenerationMethod: make(map[string]int),
	}

	for _, t := range trials {
		switch t.Status {
		case models.StatusCompleted:
			r.Completed++
		case models.StatusFailed:
			r.Failed++
			r.FailedTrials = append(r.FailedTrials, t)
		case models.StatusAbandoned:
			r.Abandoned++
		}
		if t.Status != models.StatusStaged {
			r.Submitted++
		}
		if t.Method != "" {
			r.ByGenerationMethod[t.Method]++
		}

		if t.Status != models.StatusCompleted {
			continue
		}
		for _, spec := range specs {
			v, ok := t.RawResult[spec.Name]
			if !ok {
				continue
			}
			best, ok := r.BestByObjective[spec.Name]
			if !ok || better(v, best.RawResult[spec.Name], spec.Direction) {
				r.BestByObjective[spec.Name] = t
			}
		}
	}
	return r
}

func better(candidate, incumbent float64, dir models.Direction) bool {
	if dir == models.Maximize {
		return candidate > incumbent
	}
	return candidate < incumbent
}

// Write renders the report as a tab-aligned text table, in the same
// text/tabwriter idiom the pack's redskyctl table printer uses.
func Write(w io.Writer, r Report, specs models.ResultSpecs) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)

	fmt.Fprintf(tw, "submitted\t%d\n", r.Submitted)
	fmt.Fprintf(tw, "completed\t%d\n", r.Completed)
	fmt.Fprintf(tw, "failed\t%d\n", r.Failed)
	fmt.Fprintf(tw, "abandoned\t%d\n", r.Abandoned)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "BEST BY OBJECTIVE")
	fmt.Fprintln(tw, "objective\tdirection\tvalue\ttrial")
	for _, spec := range specs {
		t, ok := r.BestByObjective[spec.Name]
		if !ok {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\n", spec.Name, spec.Direction)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", spec.Name, spec.Direction,
			strconv.FormatFloat(t.RawResult[spec.Name], 'g', -1, 64), t.Index)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "GENERATION METHOD BREAKDOWN")
	fmt.Fprintln(tw, "method\ttrials")
	methods := make([]string, 0, len(r.ByGenerationMethod))
	for m := range r.ByGenerationMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		fmt.Fprintf(tw, "%s\t%d\n", m, r.ByGenerationMethod[m])
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "FAILED TRIALS")
	fmt.Fprintln(tw, "trial\texit_code\tsignal\tparameters")
	for _, t := range r.FailedTrials {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", t.Index, t.ExitCode, t.Signal, formatParams(t.Params))
	}

	return tw.Flush()
}

func formatParams(params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n + "=" + params[n]
	}
	return out
}

// WriteResultsCSV writes one row per trial to results.csv, columns
// trial_index/status/method/hostname/exit_code, each declared parameter in
// paramNames order, each declared result name, and any OO-Info side-channel
// key collected across all trials as OO_Info_<KEY>.
func WriteResultsCSV(path string, trials []models.Trial, paramNames []string, specs models.ResultSpecs) error {
	infoKeys := collectInfoKeys(trials)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("progress: creating results csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"trial_index", "status", "method", "hostname", "exit_code"}, paramNames...)
	header = append(header, specs.Names()...)
	for _, k := range infoKeys {
		header = append(header, "OO_Info_"+k)
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("progress: writing results csv header: %w", err)
	}

	for _, t := range trials {
		row := []string{
			strconv.Itoa(t.Index),
			string(t.Status),
			t.Method,
			t.Hostname,
			strconv.Itoa(t.ExitCode),
		}
		for _, name := range paramNames {
			row = append(row, t.Params[name])
		}
		for _, spec := range specs {
			if v, ok := t.RawResult[spec.Name]; ok {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		for _, k := range infoKeys {
			row = append(row, t.Info[k])
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("progress: writing results csv row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func collectInfoKeys(trials []models.Trial) []string {
	seen := map[string]bool{}
	var keys []string
	for _, t := range trials {
		for k := range t.Info {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
