package sandbox

import (
	"context"
	"io"

	"github.com/dontdude/codebox/internal/domain"
)

// LaunchSpec describes one isolated process to start.
type LaunchSpec struct {
	Image   string
	Command []string
	Limits  Limits

	// Stdin is written to the process input stream, which is then closed.
	// An empty Stdin closes the stream immediately.
	Stdin string
}

// ExitStatus describes how a sandbox process terminated.
type ExitStatus struct {
	// Code is the exit code. Signal terminations report 128 + signal number.
	Code int

	// Signal names the terminating signal, if any.
	Signal string

	// Err is set when the process could not be waited on at all.
	Err error
}

// Process is a launched sandbox process.
type Process interface {
	domain.Process

	// Wait blocks until the process has terminated and its output streams are drained.
	Wait() ExitStatus
}

// Launcher starts isolated processes. Output streams are delivered to stdout and stderr,
// which may be called concurrently with each other.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec, stdout, stderr io.Writer) (Process, error)
}
