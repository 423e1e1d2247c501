package runid_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/hpcforge/paramrun/internal/runid"
)

func TestNew_GeneratesValidUUIDv4(t *testing.T) {
	id, err := runid.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("New returned an invalid UUID: %v", err)
	}
	if parsed.Version() != 4 {
		t.Errorf("expected version 4, got %d", parsed.Version())
	}
}

func TestNew_HonorsRunUUIDEnv(t *testing.T) {
	want := uuid.New().String()
	t.Setenv("RUN_UUID", want)

	got, err := runid.New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestNew_RejectsInvalidRunUUIDEnv(t *testing.T) {
	t.Setenv("RUN_UUID", "not-a-uuid")
	if _, err := runid.New(); err == nil {
		t.Error("expected an error for an invalid RUN_UUID")
	}
}

func TestValidate_RejectsNonV4(t *testing.T) {
	// A well-formed but version-1 UUID (time-based), per RFC 4122 §4.1.3.
	const v1 = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if _, err := runid.Validate(v1); err == nil {
		t.Error("expected an error for a non-v4 UUID")
	}
}
