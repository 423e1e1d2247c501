// Package runid generates and validates the UUIDv4 that identifies one
// optimization run, honoring the RUN_UUID environment variable when set.
package runid

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// New returns the run's UUID: whatever RUN_UUID is set to in the
// environment, validated as a UUIDv4, or a freshly generated one when unset.
func New() (string, error) {
	if env := os.Getenv("RUN_UUID"); env != "" {
		return Validate(env)
	}
	return uuid.New().String(), nil
}

// Validate parses s as a UUID and rejects anything that isn't version 4.
func Validate(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("RUN_UUID %q is not a valid UUID: %w", s, err)
	}
	if id.Version() != 4 {
		return "", fmt.Errorf("RUN_UUID %q is not a UUIDv4 (version %d)", s, id.Version())
	}
	return id.String(), nil
}
