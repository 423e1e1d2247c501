package progress_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/progress"
)

func sampleTrials() []models.Trial {
	return []models.Trial{
		{Index: 0, Status: models.StatusCompleted, Method: "Sobol", Params: map[string]string{"x": "1"},
			RawResult: map[string]float64{"loss": 0.5}},
		{Index: 1, Status: models.StatusCompleted, Method: "Sobol", Params: map[string]string{"x": "2"},
			RawResult: map[string]float64{"loss": 0.2}},
		{Index: 2, Status: models.StatusFailed, Method: "UNIFORM", Params: map[string]string{"x": "3"}, ExitCode: 1},
	}
}

func TestBuild_TracksBestByObjectiveAndFailures(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	r := progress.Build(sampleTrials(), specs)

	if r.Completed != 2 || r.Failed != 1 {
		t.Errorf("unexpected counts: completed=%d failed=%d", r.Completed, r.Failed)
	}
	best, ok := r.BestByObjective["loss"]
	if !ok || best.Index != 1 {
		t.Errorf("expected trial 1 to be best for minimize, got %+v", best)
	}
	if r.ByGenerationMethod["Sobol"] != 2 || r.ByGenerationMethod["UNIFORM"] != 1 {
		t.Errorf("unexpected method breakdown: %+v", r.ByGenerationMethod)
	}
}

func TestWrite_ProducesReadableTable(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	r := progress.Build(sampleTrials(), specs)

	var buf bytes.Buffer
	if err := progress.Write(&buf, r, specs); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "BEST BY OBJECTIVE") || !strings.Contains(out, "FAILED TRIALS") {
		t.Errorf("expected report sections, got:\n%s", out)
	}
}

func TestWriteResultsCSV_IncludesParamsAndResults(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	path := filepath.Join(t.TempDir(), "results.csv")

	if err := progress.WriteResultsCSV(path, sampleTrials(), []string{"x"}, specs); err != nil {
		t.Fatalf("WriteResultsCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading results csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || lines[0] != "trial_index,status,method,hostname,exit_code,x,loss" || lines[1] != "0,completed,Sobol,,0,1,0.5" {
		t.Errorf("unexpected results csv:\n%s", data)
	}
}
