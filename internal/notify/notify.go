// Package notify reports the outcome of a run to external endpoints.
package notify

import (
	"context"
	"time"

	"github.com/tis24dev/backupguard/internal/types"
)

// Status is the overall outcome of a run.
type Status int

const (
	StatusSuccess Status = iota
	StatusWarning
	StatusFailure
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWarning:
		return "warning"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// StatusFromExitCode maps a process exit code to a status so notifications
// agree with what the process reports. Partial results are warnings.
func StatusFromExitCode(code types.ExitCode) Status {
	switch code {
	case types.ExitSuccess:
		return StatusSuccess
	case types.ExitPartialError:
		return StatusWarning
	default:
		return StatusFailure
	}
}

// RunSummary is what a notifier sends at the end of a run.
type RunSummary struct {
	Command  string
	Args     []string
	Status   Status
	ExitCode types.ExitCode
	Message  string

	Hostname string
	Version  string

	StartTime time.Time
	Duration  time.Duration

	ErrorCount   int
	WarningCount int
}

// Notifier delivers run summaries. Failures never change the outcome of the
// run they describe.
type Notifier interface {
	Name() string
	Send(ctx context.Context, summary *RunSummary) error
}
