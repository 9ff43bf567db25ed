package domain

import (
	"context"
	"time"
)

// CompilationResult is the terminal outcome of one execution attempt.
// It is produced exactly once per attempt, including pre-check short-circuits.
type CompilationResult struct {
	Success       bool      `json:"success"`
	Output        string    `json:"output"`
	Error         string    `json:"error"`
	ExitCode      int       `json:"exitCode"`
	ExecutionTime int64     `json:"executionTime"` // milliseconds
	Language      string    `json:"language"`
	Timestamp     time.Time `json:"timestamp"`
}

// Runner executes source code for a single language.
// Implementations never return an error: every failure mode is mapped into the result.
type Runner interface {
	Run(ctx context.Context, code string) CompilationResult
}

// Process is a handle to one live sandbox process.
type Process interface {
	// ID identifies the process for as long as it lives.
	ID() string

	// Kill sends a forced termination signal. It does not wait for the process to exit.
	Kill() error

	// Done is closed once the process has terminated, whatever the cause.
	Done() <-chan struct{}
}

// ProcessTracker keeps track of live sandbox processes so they can be reclaimed.
type ProcessTracker interface {
	Register(p Process)
}
