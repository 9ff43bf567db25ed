package typescript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Checker type-checks TypeScript source.
type Checker interface {
	// Check returns the error diagnostics for code. An error means the check itself
	// could not be performed.
	Check(ctx context.Context, code string) ([]Diagnostic, error)
}

// StrictFlags is the fixed compiler configuration every submission is checked against.
var StrictFlags = []string{
	"--noEmit",
	"--pretty", "false",
	"--strict",
	"--noUnusedLocals",
	"--noUnusedParameters",
	"--noImplicitAny",
	"--noImplicitReturns",
	"--noFallthroughCasesInSwitch",
	"--allowUnreachableCode", "false",
	"--target", "ES2020",
	"--lib", "ES2020,DOM",
}

// TSC runs the TypeScript compiler binary on a temporary file.
type TSC struct {
	Path    string
	Timeout time.Duration
}

// Check if TSC implements Checker
var _ Checker = (*TSC)(nil)

// NewTSC returns a checker using the compiler at path.
func NewTSC(path string, timeout time.Duration) *TSC {
	if path == "" {
		path = "tsc"
	}
	return &TSC{Path: path, Timeout: timeout}
}

func (t *TSC) Check(ctx context.Context, code string) ([]Diagnostic, error) {
	dir, err := os.MkdirTemp("", "tscheck-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create check directory: %w", err)
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "main.ts")
	if err := os.WriteFile(source, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source: %w", err)
	}

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), StrictFlags...), source)
	cmd := exec.CommandContext(ctx, t.Path, args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("type check aborted: %w", ctx.Err())
	}

	diags := parseDiagnostics(out.String())
	if runErr != nil && len(diags) == 0 {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("type checker exited with status %d: %s", exitErr.ExitCode(), bytes.TrimSpace(out.Bytes()))
		}
		return nil, fmt.Errorf("failed to run type checker: %w", runErr)
	}

	for i := range diags {
		if diags[i].File == source || filepath.Base(diags[i].File) == "main.ts" {
			diags[i].File = "main.ts"
		}
	}
	return diags, nil
}
