package modal

import (
	"context"
	"testing"

	"github.com/hpcforge/paramrun/internal/models"
)

func TestPoll_UnknownJobReturnsUnknownState(t *testing.T) {
	e := New("./run.sh", Config{AppName: "test-app", Image: "python:3.12-slim"})

	state, err := e.Poll(context.Background(), models.Job{ID: "modal-999"})
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if state != models.JobUnknown {
		t.Errorf("expected JobUnknown, got %s", state)
	}
}

func TestCancel_UnknownJobIsNoop(t *testing.T) {
	e := New("./run.sh", Config{})
	if err := e.Cancel(context.Background(), models.Job{ID: "modal-999"}); err != nil {
		t.Errorf("expected no error for unknown job, got %v", err)
	}
}
