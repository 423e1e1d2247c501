// Package runlog funnels every process exit through one place, keeping
// os.Exit confined to main instead of scattering it through library code.
package runlog

import (
	"fmt"
	"os"
	"time"
)

// Exit-code taxonomy.
const (
	ExitOK                       = 0
	ExitUsage                    = 2
	ExitConfigInvalid            = 5
	ExitSnapshotCorrupt          = 13
	ExitContinuationMismatch     = 19
	ExitParameterSpaceInvalid    = 31
	ExitConstraintUnsatisfiable  = 44
	ExitAllTrialsFailed          = 47
	ExitSearchSpaceExhausted     = 87
	ExitOrchestratorAbort        = 99
	ExitSIGINT                   = 130
	ExitSIGUSR1                  = 138
	ExitSIGCONT                  = 146
	ExitModelBackendUnavailable  = 181
	ExitClusterSubmitFailed      = 193
	ExitResultParseFailed        = 203
	ExitExcludedNodeExhaustion   = 206
	ExitSnapshotWriteFailed      = 210
	ExitDeadlineExceeded         = 233
	ExitInternal                 = 242
)

// flushDelay gives a slow cluster stdout pipe a chance to land the final
// "Exit-Code: N" line before the process dies.
var flushDelay = 250 * time.Millisecond

// Exit prints the run's exit code on its own line and terminates the
// process. local is true for the local-subprocess backend, where the
// stdout pipe is a direct OS pipe and needs no flush delay.
func Exit(code int, local bool) {
	fmt.Printf("Exit-Code: %d\n", code)
	if !local {
		time.Sleep(flushDelay)
	}
	os.Exit(code)
}
