// Package queue serializes compilation requests through a single worker loop and tracks
// their lifecycle.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/metrics"
)

// ErrNotFound is returned by Get for unknown identifiers.
var ErrNotFound = errors.New("compilation request not found")

// publishTimeout bounds a single broker publish.
const publishTimeout = 5 * time.Second

// Dispatcher resolves languages and routes code to runners.
type Dispatcher interface {
	Resolve(language string) (string, error)
	Route(ctx context.Context, language, code string) (domain.CompilationResult, error)
}

// Queue accepts submissions and drains them one at a time. Runners are not safe for
// concurrent invocation, so at most one drain loop ever runs.
type Queue struct {
	ctx    context.Context
	router Dispatcher
	events domain.EventBroker
	log    zerolog.Logger

	mu       sync.Mutex
	pending  []*domain.CompilationRequest
	requests map[string]*domain.CompilationRequest
	draining bool

	// Lifecycle events waiting for the publisher loop, in transition order.
	outMu      sync.Mutex
	outbox     []domain.Event
	publishing bool
}

// New returns an empty queue. ctx bounds every execution the queue starts; events may be nil.
func New(ctx context.Context, router Dispatcher, events domain.EventBroker, logger zerolog.Logger) *Queue {
	return &Queue{
		ctx:      ctx,
		router:   router,
		events:   events,
		log:      logger.With().Str("component", "queue").Logger(),
		requests: make(map[string]*domain.CompilationRequest),
	}
}

// Enqueue stores a new PENDING request and returns its identifier without waiting for
// execution. Unsupported languages are rejected here and never stored.
func (q *Queue) Enqueue(language, code string) (string, error) {
	if _, err := q.router.Resolve(language); err != nil {
		return "", err
	}

	now := time.Now()
	req := &domain.CompilationRequest{
		ID:        uuid.NewString(),
		Language:  language,
		Code:      code,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	q.requests[req.ID] = req
	snap := snapshot(req)
	q.mu.Unlock()

	// PENDING must be queued for publishing before the worker loop can see the request.
	q.publish(snap)

	q.mu.Lock()
	q.pending = append(q.pending, req)
	metrics.QueueDepth.Set(float64(len(q.pending)))
	start := !q.draining
	q.draining = true
	q.mu.Unlock()

	q.log.Info().Str("request", req.ID).Str("language", language).Msg("compilation request queued")
	if start {
		go q.drain()
	}
	return req.ID, nil
}

// Get returns a snapshot of the request with the given id.
func (q *Queue) Get(id string) (domain.CompilationRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return domain.CompilationRequest{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(req), nil
}

// Pending returns the number of requests waiting for the worker loop.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// drain is the single worker loop. It exits once the queue is empty; the next Enqueue
// starts a new one.
func (q *Queue) drain() {
	for {
		req, ok := q.next()
		if !ok {
			return
		}
		q.process(req)
	}
}

func (q *Queue) next() (*domain.CompilationRequest, bool) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.draining = false
		q.mu.Unlock()
		return nil, false
	}

	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	metrics.QueueDepth.Set(float64(len(q.pending)))

	req.Status = domain.StatusProcessing
	req.UpdatedAt = time.Now()
	snap := snapshot(req)
	q.mu.Unlock()

	q.publish(snap)
	return req, true
}

func (q *Queue) process(req *domain.CompilationRequest) {
	// Enqueue already accepted the language, so it resolves.
	lang, _ := q.router.Resolve(req.Language)
	log := q.log.With().Str("request", req.ID).Str("language", lang).Logger()
	log.Debug().Msg("processing compilation request")

	res, err := q.route(req.Language, req.Code)

	q.mu.Lock()
	if err != nil {
		req.Status = domain.StatusFailed
		req.Result = &domain.CompilationResult{
			Success:   false,
			Error:     errorMessage(err),
			ExitCode:  -1,
			Language:  lang,
			Timestamp: time.Now(),
		}
	} else {
		req.Status = domain.StatusCompleted
		req.Result = &res
	}
	req.UpdatedAt = time.Now()
	snap := snapshot(req)
	q.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Msg("compilation request failed")
		metrics.ExecutionsTotal.WithLabelValues(lang, "failed").Inc()
	} else {
		outcome := "success"
		if !res.Success {
			outcome = "failure"
		}
		log.Info().Bool("success", res.Success).Int64("elapsed_ms", res.ExecutionTime).Msg("compilation request completed")
		metrics.ExecutionsTotal.WithLabelValues(lang, outcome).Inc()
		metrics.ExecutionDuration.WithLabelValues(lang).Observe(float64(res.ExecutionTime))
	}

	q.publish(snap)
}

// route calls the router, turning a panic into an error so the request still terminates.
func (q *Queue) route(language, code string) (res domain.CompilationResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("compiler panicked: %v", p)
		}
	}()
	return q.router.Route(q.ctx, language, code)
}

// publish queues the transition in req for the broker and returns immediately. A single
// publisher loop delivers events in the order they were queued.
func (q *Queue) publish(req domain.CompilationRequest) {
	if q.events == nil {
		return
	}
	ev := domain.Event{
		RequestID: req.ID,
		Status:    req.Status,
		Result:    req.Result,
		Timestamp: req.UpdatedAt,
	}

	q.outMu.Lock()
	q.outbox = append(q.outbox, ev)
	start := !q.publishing
	q.publishing = true
	q.outMu.Unlock()

	if start {
		go q.flush()
	}
}

// flush is the publisher loop. It exits once the outbox is empty; the next publish starts
// a new one.
func (q *Queue) flush() {
	for {
		q.outMu.Lock()
		if len(q.outbox) == 0 {
			q.publishing = false
			q.outMu.Unlock()
			return
		}
		batch := q.outbox
		q.outbox = nil
		q.outMu.Unlock()

		for _, ev := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := q.events.Publish(ctx, ev)
			cancel()
			if err != nil {
				q.log.Warn().Err(err).Str("request", ev.RequestID).Msg("failed to publish lifecycle event")
			}
		}
	}
}

func snapshot(req *domain.CompilationRequest) domain.CompilationRequest {
	cp := *req
	if req.Result != nil {
		res := *req.Result
		cp.Result = &res
	}
	return cp
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Unknown error"
}
