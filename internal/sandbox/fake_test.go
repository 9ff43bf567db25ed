package sandbox

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

type fakeProcess struct {
	id     string
	done   chan struct{}
	once   sync.Once
	status ExitStatus
	kills  atomic.Int32
}

func newFakeProcess(id string) *fakeProcess {
	return &fakeProcess{id: id, done: make(chan struct{})}
}

func (p *fakeProcess) ID() string            { return p.id }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(ExitStatus{Code: 137, Signal: "SIGKILL"})
	return nil
}

func (p *fakeProcess) Wait() ExitStatus {
	<-p.done
	return p.status
}

func (p *fakeProcess) exit(st ExitStatus) {
	p.once.Do(func() {
		p.status = st
		close(p.done)
	})
}

// script plays the part of the sandboxed program.
type script func(spec LaunchSpec, stdout, stderr io.Writer, p *fakeProcess)

type fakeLauncher struct {
	err    error
	script script

	mu    sync.Mutex
	specs []LaunchSpec
	procs []*fakeProcess
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec, stdout, stderr io.Writer) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess("fake-" + string(rune('a'+len(l.procs))))
	l.procs = append(l.procs, p)
	go l.script(spec, stdout, stderr, p)
	return p, nil
}

func (l *fakeLauncher) lastSpec() LaunchSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.specs[len(l.specs)-1]
}

func (l *fakeLauncher) lastProc() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeTracker struct {
	mu    sync.Mutex
	procs []domain.Process
}

func (t *fakeTracker) Register(p domain.Process) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs = append(t.procs, p)
}

func (t *fakeTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

func testProfile() Profile {
	return Profile{
		Name:      "Test",
		Image:     "test-image",
		Command:   []string{"run"},
		Delivery:  DeliverStdin,
		Limits:    defaultLimits("64m", 0.5, 5),
		Timeout:   2 * time.Second,
		MaxOutput: 64,
		Rules: ErrorRules{
			MemoryExitCodes: []int{137},
			MemoryMarkers:   []string{"out of memory"},
			SourcePaths:     []string{"/tmp/prog:"},
		},
	}
}

func newTestEngine(p Profile, l *fakeLauncher, t *fakeTracker) *Engine {
	return NewEngine(p, l, t, zerolog.Nop())
}

// exitWith writes out and errOut, then exits with code.
func exitWith(out, errOut string, code int) script {
	return func(_ LaunchSpec, stdout, stderr io.Writer, p *fakeProcess) {
		if out != "" {
			_, _ = io.WriteString(stdout, out)
		}
		if errOut != "" {
			_, _ = io.WriteString(stderr, errOut)
		}
		p.exit(ExitStatus{Code: code})
	}
}

// hang never exits on its own.
func hang(_ LaunchSpec, _, _ io.Writer, p *fakeProcess) {
	<-p.Done()
}
