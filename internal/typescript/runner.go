// Package typescript type-checks TypeScript submissions and, if they are clean, runs them
// through the JavaScript runner.
package typescript

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

// Name is reported in every result this runner produces.
const Name = "TypeScript"

// Runner checks, transpiles and delegates to a JavaScript runner.
type Runner struct {
	checker    Checker
	transpiler Transpiler
	js         domain.Runner
	log        zerolog.Logger
}

// Check if Runner implements domain.Runner
var _ domain.Runner = (*Runner)(nil)

func NewRunner(checker Checker, transpiler Transpiler, js domain.Runner, logger zerolog.Logger) *Runner {
	return &Runner{
		checker:    checker,
		transpiler: transpiler,
		js:         js,
		log:        logger.With().Str("language", Name).Logger(),
	}
}

// Run never starts a sandbox process for code that fails the type check.
func (r *Runner) Run(ctx context.Context, code string) domain.CompilationResult {
	start := time.Now()

	diags, err := r.checker.Check(ctx, code)
	if err != nil {
		r.log.Error().Err(err).Msg("type check could not run")
		return failure(start, err.Error(), -1)
	}
	if diags = filterFalsePositives(diags, code); len(diags) > 0 {
		r.log.Debug().Int("diagnostics", len(diags)).Msg("type check rejected submission")
		return failure(start, formatDiagnostics(diags), 1)
	}

	js, err := r.transpiler.Transpile(code)
	if err != nil {
		return failure(start, err.Error(), 1)
	}

	res := r.js.Run(ctx, js)
	res.Language = Name
	res.ExecutionTime = time.Since(start).Milliseconds()
	return res
}

func failure(start time.Time, msg string, exitCode int) domain.CompilationResult {
	return domain.CompilationResult{
		Success:       false,
		Error:         msg,
		ExitCode:      exitCode,
		ExecutionTime: time.Since(start).Milliseconds(),
		Language:      Name,
		Timestamp:     time.Now(),
	}
}
