package models

// ExitReason classifies why a trial ended up failed. Trial has no field
// for it, and neither the end-of-run report nor the orchestrator policy
// (internal/policy) reads these values.
type ExitReason string

const (
	// Submission phase
	ErrSubmitFailed ExitReason = "submit_failed"

	// Execution phase
	ErrNonZeroExit    ExitReason = "non_zero_exit"
	ErrKilledBySignal ExitReason = "killed_by_signal"
	ErrJobTimeout     ExitReason = "job_timeout"

	// Result extraction
	ErrResultMissing ExitReason = "result_missing" // parser fell back to the sentinel
	ErrResultInvalid ExitReason = "result_invalid"

	// Orchestrator-driven
	ErrExcludedNode ExitReason = "excluded_node"
	ErrAbandoned    ExitReason = "abandoned" // shutdown sweep

	// Catch-all
	ErrInternal ExitReason = "internal_error"
)
