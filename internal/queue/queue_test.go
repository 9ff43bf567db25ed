package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/metrics"
	"github.com/dontdude/codebox/internal/router"
)

// gateRunner blocks every run until released and records what it saw.
type gateRunner struct {
	started chan string
	release chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32

	mu    sync.Mutex
	order []string
}

func newGateRunner() *gateRunner {
	return &gateRunner{started: make(chan string, 100), release: make(chan struct{})}
}

func (g *gateRunner) Run(_ context.Context, code string) domain.CompilationResult {
	n := g.active.Add(1)
	for {
		m := g.maxActive.Load()
		if n <= m || g.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	g.mu.Lock()
	g.order = append(g.order, code)
	g.mu.Unlock()

	g.started <- code
	<-g.release
	g.active.Add(-1)
	return domain.CompilationResult{Success: true, Output: code, Language: "JavaScript"}
}

type instantRunner struct{}

func (instantRunner) Run(_ context.Context, code string) domain.CompilationResult {
	return domain.CompilationResult{Success: true, Output: code, Language: "Python"}
}

type panicRunner struct{}

func (panicRunner) Run(context.Context, string) domain.CompilationResult {
	panic("boom")
}

type recordingBroker struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBroker) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBroker) Subscribe(context.Context) (<-chan domain.Event, error) {
	return nil, nil
}

func (b *recordingBroker) statuses(id string) []domain.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Status
	for _, ev := range b.events {
		if ev.RequestID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

// slowBroker records events like recordingBroker but takes delay per publish.
type slowBroker struct {
	recordingBroker
	delay time.Duration
}

func (b *slowBroker) Publish(ctx context.Context, ev domain.Event) error {
	time.Sleep(b.delay)
	return b.recordingBroker.Publish(ctx, ev)
}

func newTestQueue(runners map[string]domain.Runner, events domain.EventBroker) *Queue {
	return New(context.Background(), router.New(runners), events, zerolog.Nop())
}

func waitTerminal(t *testing.T, q *Queue, id string) domain.CompilationRequest {
	t.Helper()
	var req domain.CompilationRequest
	require.Eventually(t, func() bool {
		var err error
		req, err = q.Get(id)
		return err == nil && req.Status.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return req
}

func TestQueue_Lifecycle(t *testing.T) {
	gate := newGateRunner()
	q := newTestQueue(map[string]domain.Runner{"javascript": gate}, nil)

	first, err := q.Enqueue("javascript", "one")
	require.NoError(t, err)
	<-gate.started

	req, err := q.Get(first)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, req.Status)
	assert.Nil(t, req.Result)

	second, err := q.Enqueue("js", "two")
	require.NoError(t, err)
	req, err = q.Get(second)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, req.Status)
	assert.Equal(t, "js", req.Language)
	assert.Equal(t, "two", req.Code)
	assert.Equal(t, 1, q.Pending())

	close(gate.release)

	done := waitTerminal(t, q, first)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "one", done.Result.Output)
	assert.False(t, done.UpdatedAt.Before(done.CreatedAt))

	done = waitTerminal(t, q, second)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "two", done.Result.Output)
}

func TestQueue_SingleWorkerLoopInOrder(t *testing.T) {
	gate := newGateRunner()
	close(gate.release)
	q := newTestQueue(map[string]domain.Runner{"javascript": gate}, nil)

	codes := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	ids := make([]string, len(codes))
	for i, c := range codes {
		id, err := q.Enqueue("javascript", c)
		require.NoError(t, err)
		ids[i] = id
	}
	for _, id := range ids {
		waitTerminal(t, q, id)
	}

	assert.Equal(t, int32(1), gate.maxActive.Load())
	gate.mu.Lock()
	assert.Equal(t, codes, gate.order)
	gate.mu.Unlock()
}

func TestQueue_RestartsAfterDraining(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)

	id, err := q.Enqueue("python", "1")
	require.NoError(t, err)
	waitTerminal(t, q, id)
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return !q.draining
	}, time.Second, 5*time.Millisecond)

	id, err = q.Enqueue("python", "2")
	require.NoError(t, err)
	req := waitTerminal(t, q, id)
	assert.Equal(t, domain.StatusCompleted, req.Status)
}

func TestQueue_UnsupportedLanguageRejected(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)

	id, err := q.Enqueue("cobol", "DISPLAY 'HI'.")

	require.ErrorIs(t, err, router.ErrUnsupportedLanguage)
	assert.Empty(t, id)
	assert.Zero(t, q.Pending())
	q.mu.Lock()
	assert.Empty(t, q.requests)
	q.mu.Unlock()
}

func TestQueue_NotImplementedFails(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)

	id, err := q.Enqueue("go", "package main")
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, domain.StatusFailed, req.Status)
	require.NotNil(t, req.Result)
	assert.False(t, req.Result.Success)
	assert.Equal(t, -1, req.Result.ExitCode)
	assert.Equal(t, "go", req.Result.Language)
	assert.Equal(t, "compiler not implemented for 'go'", req.Result.Error)
}

func TestQueue_FailedResultUsesCanonicalLanguage(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)
	before := testutil.ToFloat64(metrics.ExecutionsTotal.WithLabelValues("go", "failed"))

	id, err := q.Enqueue(" Golang ", "package main")
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	assert.Equal(t, " Golang ", req.Language)
	assert.Equal(t, "go", req.Result.Language)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ExecutionsTotal.WithLabelValues("go", "failed")))
}

func TestQueue_MetricsUseCanonicalLanguage(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)
	before := testutil.ToFloat64(metrics.ExecutionsTotal.WithLabelValues("python", "success"))

	id, err := q.Enqueue("PY", "x")
	require.NoError(t, err)
	req := waitTerminal(t, q, id)

	assert.Equal(t, "Python", req.Result.Language)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ExecutionsTotal.WithLabelValues("python", "success")))
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{
		"c":      panicRunner{},
		"python": instantRunner{},
	}, nil)

	bad, err := q.Enqueue("c", "int main(){}")
	require.NoError(t, err)
	good, err := q.Enqueue("python", "ok")
	require.NoError(t, err)

	req := waitTerminal(t, q, bad)
	assert.Equal(t, domain.StatusFailed, req.Status)
	assert.Equal(t, "compiler panicked: boom", req.Result.Error)

	req = waitTerminal(t, q, good)
	assert.Equal(t, domain.StatusCompleted, req.Status)
}

func TestQueue_GetUnknown(t *testing.T) {
	q := newTestQueue(nil, nil)

	_, err := q.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_GetReturnsCopy(t *testing.T) {
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, nil)
	id, err := q.Enqueue("python", "x")
	require.NoError(t, err)

	req := waitTerminal(t, q, id)
	req.Status = domain.StatusPending
	req.Result.Output = "tampered"

	again, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, again.Status)
	assert.Equal(t, "x", again.Result.Output)
}

func TestQueue_PublishesTransitions(t *testing.T) {
	broker := &recordingBroker{}
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, broker)

	id, err := q.Enqueue("python", "x")
	require.NoError(t, err)
	waitTerminal(t, q, id)

	require.Eventually(t, func() bool { return len(broker.statuses(id)) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		[]domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted},
		broker.statuses(id))
}

func TestQueue_EnqueueDoesNotWaitForBroker(t *testing.T) {
	broker := &slowBroker{delay: 300 * time.Millisecond}
	q := newTestQueue(map[string]domain.Runner{"python": instantRunner{}}, broker)

	start := time.Now()
	first, err := q.Enqueue("python", "1")
	require.NoError(t, err)
	second, err := q.Enqueue("python", "2")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// Events still arrive, in transition order per request.
	want := []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted}
	require.Eventually(t, func() bool {
		return len(broker.statuses(first)) == 3 && len(broker.statuses(second)) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, want, broker.statuses(first))
	assert.Equal(t, want, broker.statuses(second))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Unknown error", errorMessage(emptyError{}))
}

type emptyError struct{}

func (emptyError) Error() string { return "" }
