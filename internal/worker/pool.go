// Package worker bounds how many direct compilations run at once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/domain"
)

// ErrStopped is returned for work offered after Stop.
var ErrStopped = errors.New("worker pool stopped")

// Compiler routes code to the runner of its language.
type Compiler interface {
	Route(ctx context.Context, language, code string) (domain.CompilationResult, error)
}

type job struct {
	ctx      context.Context
	language string
	code     string
	resultCh chan<- outcome
}

type outcome struct {
	result domain.CompilationResult
	err    error
}

// Pool implements a fixed-size worker pool. A submission waits until a worker is free,
// so at most workerCount direct compilations hold a sandbox at any time.
type Pool struct {
	workerCount int
	tasksCh     chan job
	quit        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup

	compiler Compiler
	log      zerolog.Logger
}

// Check if Pool implements Compiler
var _ Compiler = (*Pool)(nil)

// NewPool initializes the pool. Call Start before routing through it.
func NewPool(concurrency int, compiler Compiler, logger zerolog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		workerCount: concurrency,
		tasksCh:     make(chan job),
		quit:        make(chan struct{}),
		compiler:    compiler,
		log:         logger.With().Str("component", "pool").Logger(),
	}
}

// Start spawns the workers and returns immediately.
func (p *Pool) Start() {
	p.log.Info().Int("concurrency", p.workerCount).Msg("starting worker pool")
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop lets running jobs finish, refuses new ones and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info().Msg("stopping worker pool")
		close(p.quit)
	})
	p.wg.Wait()
}

// Route hands the compilation to a free worker and waits for its result.
func (p *Pool) Route(ctx context.Context, language, code string) (domain.CompilationResult, error) {
	resultCh := make(chan outcome, 1)
	j := job{ctx: ctx, language: language, code: code, resultCh: resultCh}

	select {
	case p.tasksCh <- j:
	case <-ctx.Done():
		return domain.CompilationResult{}, ctx.Err()
	case <-p.quit:
		return domain.CompilationResult{}, ErrStopped
	}

	// The runner resolves promptly once ctx is done, so there is always a result.
	o := <-resultCh
	return o.result, o.err
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			p.log.Debug().Int("worker", id).Msg("worker stopped")
			return
		case j := <-p.tasksCh:
			j.resultCh <- p.run(j)
		}
	}
}

func (p *Pool) run(j job) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("language", j.language).Msg("compiler panicked")
			o = outcome{err: fmt.Errorf("compiler panicked: %v", r)}
		}
	}()
	res, err := p.compiler.Route(j.ctx, j.language, j.code)
	return outcome{result: res, err: err}
}
