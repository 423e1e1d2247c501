package result_test

import (
	"math"
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
	"github.com/hpcforge/paramrun/internal/result"
)

func TestParse_SingleResultLine(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	raw := result.Parse([]byte("starting up\nR: 0.125\ndone\n"), specs)
	if raw.Values["loss"] != 0.125 {
		t.Errorf("expected 0.125, got %v", raw.Values["loss"])
	}
}

func TestParse_LegacyResultForm(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	raw := result.Parse([]byte("RESULT: -3.5\n"), specs)
	if raw.Values["loss"] != -3.5 {
		t.Errorf("expected -3.5, got %v", raw.Values["loss"])
	}
}

func TestParse_MultiObjectiveByIndex(t *testing.T) {
	specs := models.ResultSpecs{
		{Name: "loss", Direction: models.Minimize},
		{Name: "latency", Direction: models.Minimize},
	}
	raw := result.Parse([]byte("R1: 0.5\nR2: 12.0\n"), specs)
	if raw.Values["loss"] != 0.5 || raw.Values["latency"] != 12.0 {
		t.Errorf("unexpected values: %+v", raw.Values)
	}
}

func TestParse_FirstMatchWins(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	raw := result.Parse([]byte("R: 1.0\nR: 2.0\n"), specs)
	if raw.Values["loss"] != 1.0 {
		t.Errorf("expected first match 1.0 to win, got %v", raw.Values["loss"])
	}
}

func TestParse_MissingResultUsesSignedSentinel(t *testing.T) {
	min := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	max := models.ResultSpecs{{Name: "score", Direction: models.Maximize}}

	rawMin := result.Parse([]byte("no result here\n"), min)
	rawMax := result.Parse([]byte("no result here\n"), max)

	if rawMin.Values["loss"] <= 0 {
		t.Errorf("expected positive sentinel for minimize, got %v", rawMin.Values["loss"])
	}
	if rawMax.Values["score"] >= 0 {
		t.Errorf("expected negative sentinel for maximize, got %v", rawMax.Values["score"])
	}
	if !result.IsSentinel(rawMin.Values["loss"], models.Minimize) {
		t.Error("expected IsSentinel to recognize the minimize sentinel")
	}
}

func TestParse_OOInfoSideChannel(t *testing.T) {
	specs := models.ResultSpecs{{Name: "loss", Direction: models.Minimize}}
	raw := result.Parse([]byte("R: 1.0\nOO-Info: HOSTNAME: node07\n"), specs)
	if raw.Info["HOSTNAME"] != "node07" {
		t.Errorf("expected OO-Info to be captured, got %+v", raw.Info)
	}
}

func TestScalarize_Euclid(t *testing.T) {
	v, err := result.Scalarize([]float64{3, 4}, models.OCCEuclid, 2, "")
	if err != nil {
		t.Fatalf("Scalarize failed: %v", err)
	}
	if math.Abs(v-5) > 1e-9 {
		t.Errorf("expected 5, got %v", v)
	}
}

func TestScalarize_EuclidNegativeSign(t *testing.T) {
	v, err := result.Scalarize([]float64{-3, 4}, models.OCCEuclid, 2, "")
	if err != nil {
		t.Fatalf("Scalarize failed: %v", err)
	}
	if v >= 0 {
		t.Errorf("expected negative result when any input is negative, got %v", v)
	}
}

func TestScalarize_Geometric(t *testing.T) {
	v, err := result.Scalarize([]float64{4, 9}, models.OCCGeometric, 2, "")
	if err != nil {
		t.Fatalf("Scalarize failed: %v", err)
	}
	if math.Abs(v-6) > 1e-9 {
		t.Errorf("expected 6, got %v", v)
	}
}

func TestScalarize_SignedHarmonic(t *testing.T) {
	v, err := result.Scalarize([]float64{0.1, 0.2}, models.OCCSignedHarmonic, 2, "")
	if err != nil {
		t.Fatalf("Scalarize failed: %v", err)
	}
	if math.Abs(v-0.13333333333333333) > 1e-9 {
		t.Errorf("expected ~0.1333, got %v", v)
	}
}

func TestScalarize_MinkowskiRejectsNonPositiveP(t *testing.T) {
	if _, err := result.Scalarize([]float64{1, 2}, models.OCCSignedMinkowski, 0, ""); err == nil {
		t.Error("expected error for p <= 0")
	}
}

func TestScalarize_WeightedEuclideanPadsAndTrimsWeights(t *testing.T) {
	v, err := result.Scalarize([]float64{0.1, 0.2}, models.OCCWeightedEuclid, 2, "0.5")
	if err != nil {
		t.Fatalf("Scalarize failed: %v", err)
	}
	want := math.Sqrt(0.5*0.01 + 1*0.04)
	if math.Abs(v-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, v)
	}
}

func TestScalarize_CompositeHasNoFormula(t *testing.T) {
	if _, err := result.Scalarize([]float64{1, 2}, models.OCCComposite, 2, ""); err == nil {
		t.Error("expected an error for the composite OCC type")
	}
}
