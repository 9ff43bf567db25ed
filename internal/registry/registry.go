// Package registry tracks live sandbox processes so they can be reclaimed on shutdown.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/metrics"
)

// DefaultGrace is how long Shutdown waits for the killed processes to go away.
const DefaultGrace = 2 * time.Second

type entry struct {
	proc    domain.Process
	removed chan struct{}
}

// Registry is the set of live sandbox processes.
type Registry struct {
	mu     sync.Mutex
	live   map[string]*entry
	closed bool
	grace  time.Duration
	log    zerolog.Logger
}

// Check if Registry implements domain.ProcessTracker
var _ domain.ProcessTracker = (*Registry)(nil)

// New returns an empty registry. A non-positive grace uses DefaultGrace.
func New(grace time.Duration, logger zerolog.Logger) *Registry {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Registry{
		live:  make(map[string]*entry),
		grace: grace,
		log:   logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds p to the live set. p is removed automatically once it terminates.
// Once shutdown has begun, p is killed instead of tracked.
func (r *Registry) Register(p domain.Process) {
	e := &entry{proc: p, removed: make(chan struct{})}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.log.Warn().Str("process", p.ID()).Msg("sandbox process started during shutdown, killing it")
		if err := p.Kill(); err != nil {
			r.log.Warn().Err(err).Str("process", p.ID()).Msg("failed to kill sandbox process")
		}
		return
	}
	r.live[p.ID()] = e
	metrics.LiveProcesses.Set(float64(len(r.live)))
	r.mu.Unlock()

	go func() {
		<-p.Done()
		r.remove(p.ID(), e)
	}()
}

// remove drops e if it is still the registered entry for id. Removing an entry that is
// already gone is a no-op.
func (r *Registry) remove(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.live[id]; ok && cur == e {
		delete(r.live, id)
		close(e.removed)
		metrics.LiveProcesses.Set(float64(len(r.live)))
	}
}

// Len returns the number of live processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// close stops further registrations and returns the processes live at that moment.
func (r *Registry) close() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	entries := make([]*entry, 0, len(r.live))
	for _, e := range r.live {
		entries = append(entries, e)
	}
	return entries
}

func (r *Registry) clear() {
	r.mu.Lock()
	r.live = make(map[string]*entry)
	metrics.LiveProcesses.Set(0)
	r.mu.Unlock()
}

// Shutdown closes the registry, kills every live process at once and waits up to one grace
// period (or until ctx ends) for all of them to go away, then clears the registry.
func (r *Registry) Shutdown(ctx context.Context) {
	entries := r.close()
	r.log.Info().Int("count", len(entries)).Msg("cleaning up running sandbox processes")

	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	r.killAll(entries)

wait:
	for _, e := range entries {
		select {
		case <-e.removed:
		case <-timer.C:
			r.log.Warn().Int("remaining", r.Len()).Dur("grace", r.grace).Msg("sandbox processes outlived grace period")
			break wait
		case <-ctx.Done():
			break wait
		}
	}

	r.clear()
	r.log.Info().Msg("sandbox cleanup completed")
}

// KillAll closes the registry and signals every live process without waiting, then clears it.
func (r *Registry) KillAll() {
	r.killAll(r.close())
	r.clear()
}

// killAll signals the processes that are still running, all at once, and returns when every
// Kill call has returned.
func (r *Registry) killAll(entries []*entry) {
	var wg sync.WaitGroup
	for _, e := range entries {
		select {
		case <-e.proc.Done():
			continue
		default:
		}
		wg.Add(1)
		go func(p domain.Process) {
			defer wg.Done()
			if err := p.Kill(); err != nil {
				r.log.Warn().Err(err).Str("process", p.ID()).Msg("failed to kill sandbox process")
			}
		}(e.proc)
	}
	wg.Wait()
}
