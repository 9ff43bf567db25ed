package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

// Engine is the generic profiled-execution engine. One Engine is instantiated per language;
// everything language-specific lives in its Profile.
type Engine struct {
	profile  Profile
	launcher Launcher
	tracker  domain.ProcessTracker
	noise    []string
	logger   zerolog.Logger
}

// Check if Engine implements domain.Runner
var _ domain.Runner = (*Engine)(nil)

// NewEngine returns an engine that launches processes for profile through launcher and
// registers every one of them with tracker.
func NewEngine(profile Profile, launcher Launcher, tracker domain.ProcessTracker, logger zerolog.Logger) *Engine {
	return &Engine{
		profile:  profile,
		launcher: launcher,
		tracker:  tracker,
		noise:    NoiseMarkers,
		logger:   logger.With().Str("language", profile.Name).Logger(),
	}
}

// Profile returns the profile the engine was built with.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Run executes code once and returns its result. Whichever of launch failure, timeout,
// output limit, cancellation or process exit happens first decides the result.
func (e *Engine) Run(ctx context.Context, code string) domain.CompilationResult {
	x := &execution{
		profile: e.profile,
		noise:   e.noise,
		start:   time.Now(),
		done:    newOneShot(),
		stdout:  newCappedBuffer(e.profile.MaxOutput, fmt.Sprintf(outputTruncatedMarker, e.profile.outputLabel())),
		stderr:  newCappedBuffer(e.profile.MaxOutput, fmt.Sprintf(errorTruncatedMarker, e.profile.outputLabel())),
		logger:  e.logger,
	}

	proc, err := e.launcher.Launch(ctx, e.profile.launchSpec(code), writerFunc(x.onStdout), writerFunc(x.onStderr))
	if err != nil {
		e.logger.Warn().Err(err).Msg("sandbox launch failed")
		x.fail(err.Error())
		return <-x.done.result()
	}
	if e.tracker != nil {
		e.tracker.Register(proc)
	}
	x.attach(proc)
	e.logger.Debug().Str("process", proc.ID()).Msg("sandbox process started")

	timer := time.AfterFunc(e.profile.Timeout, x.onTimeout)
	defer timer.Stop()

	go func() {
		x.onExit(proc.Wait())
	}()

	var res domain.CompilationResult
	select {
	case res = <-x.done.result():
	case <-ctx.Done():
		x.onCancel(ctx.Err())
		res = <-x.done.result()
	}

	e.logger.Debug().
		Str("process", proc.ID()).
		Bool("success", res.Success).
		Int("exit_code", res.ExitCode).
		Int64("elapsed_ms", res.ExecutionTime).
		Msg("sandbox execution resolved")
	return res
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// execution is the state of one Run. Stream callbacks, the timer and the exit watcher
// all race on it; done makes sure only one of them produces the result.
type execution struct {
	profile Profile
	noise   []string
	start   time.Time
	done    *oneShot
	logger  zerolog.Logger

	mu          sync.Mutex
	stdout      *cappedBuffer
	stderr      *cappedBuffer
	outputLimit bool
	proc        Process
	killPending bool
}

func (x *execution) attach(p Process) {
	x.mu.Lock()
	x.proc = p
	pending := x.killPending
	x.mu.Unlock()

	if pending {
		x.killProcess(p)
	}
}

// kill terminates the process, or remembers to do so once it is attached.
func (x *execution) kill() {
	x.mu.Lock()
	p := x.proc
	if p == nil {
		x.killPending = true
	}
	x.mu.Unlock()

	if p != nil {
		x.killProcess(p)
	}
}

func (x *execution) killProcess(p Process) {
	if err := p.Kill(); err != nil {
		x.logger.Warn().Err(err).Str("process", p.ID()).Msg("failed to kill sandbox process")
	}
}

func (x *execution) result(success bool, errText string, exitCode int) domain.CompilationResult {
	x.mu.Lock()
	output := x.stdout.String()
	x.mu.Unlock()

	return domain.CompilationResult{
		Success:       success,
		Output:        output,
		Error:         errText,
		ExitCode:      exitCode,
		ExecutionTime: time.Since(x.start).Milliseconds(),
		Language:      x.profile.Name,
		Timestamp:     time.Now(),
	}
}

func (x *execution) onStdout(p []byte) (int, error) {
	x.mu.Lock()
	if x.outputLimit {
		x.mu.Unlock()
		return len(p), nil
	}
	overflow := x.stdout.write(p)
	if overflow {
		x.outputLimit = true
	}
	x.mu.Unlock()

	if overflow {
		// Claim first: the kill makes the process exit, which must not win the race.
		x.done.resolve(func() domain.CompilationResult {
			x.kill()
			return x.result(false, fmt.Sprintf("Output limit exceeded (%s maximum)", x.profile.outputLabel()), -1)
		})
	}
	return len(p), nil
}

func (x *execution) onStderr(p []byte) (int, error) {
	chunk := dropNoise(p, x.noise)
	if len(chunk) == 0 {
		return len(p), nil
	}

	x.mu.Lock()
	x.stderr.write(chunk)
	x.mu.Unlock()
	return len(p), nil
}

func (x *execution) onTimeout() {
	x.done.resolve(func() domain.CompilationResult {
		x.kill()
		return x.result(false, fmt.Sprintf("Execution timed out (%s)", x.profile.timeoutLabel()), -1)
	})
}

func (x *execution) onCancel(cause error) {
	x.done.resolve(func() domain.CompilationResult {
		x.kill()
		return x.result(false, fmt.Sprintf("Execution cancelled: %v", cause), -1)
	})
}

func (x *execution) fail(msg string) {
	x.done.resolve(func() domain.CompilationResult {
		return x.result(false, msg, -1)
	})
}

func (x *execution) onExit(status ExitStatus) {
	x.done.resolve(func() domain.CompilationResult {
		x.mu.Lock()
		stderr := x.stderr.String()
		limited := x.outputLimit
		x.mu.Unlock()

		if status.Err != nil {
			return x.result(false, status.Err.Error(), -1)
		}
		errText := x.profile.Rules.Classify(stderr, status, x.profile.memoryLabel())
		return x.result(status.Code == 0 && !limited, errText, status.Code)
	})
}
