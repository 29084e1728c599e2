package task

import (
	"context"
	"fmt"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Failure is a background task that returned an error.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Name, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Group runs fire-and-forget tasks detached from the caller's cancellation. Failures are sent on
// an error channel drained by a single watcher goroutine.
type Group struct {
	timeout   time.Duration
	logger    *zap.Logger
	onFailure func(Failure)

	wg      sync.WaitGroup
	watcher sync.WaitGroup
	errs    chan Failure
	start   sync.Once
}

type Option func(*Group)

// WithTimeout bounds every task. Zero leaves tasks unbounded.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Group) {
		g.timeout = timeout
	}
}

// WithFailureHandler is called from the watcher goroutine for each failed task.
func WithFailureHandler(fn func(Failure)) Option {
	return func(g *Group) {
		g.onFailure = fn
	}
}

func NewGroup(logger *zap.Logger, opts ...Option) *Group {
	g := &Group{
		logger: logger.Named("task"),
		errs:   make(chan Failure, 16),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Group) watch() {
	g.watcher.Add(1)
	go func() {
		defer g.watcher.Done()
		for f := range g.errs {
			g.logger.Error("background task failed", zap.String("task", f.Name), zap.Error(f.Err))
			if g.onFailure != nil {
				g.onFailure(f)
			}
			g.wg.Done()
		}
	}()
}

// Go starts fn in the background. ctx only contributes its values; cancelling it does not stop fn.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.start.Do(g.watch)
	g.wg.Add(1)

	go func() {
		taskCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, g.timeout)
			defer cancel()
		}

		if err := fn(taskCtx); err != nil {
			// The watcher marks the task done once the failure is handled.
			g.errs <- Failure{Name: name, Err: err}
			return
		}
		g.wg.Done()
	}()
}

// Wait blocks until every task started so far has finished and its failure, if any, was handled.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Close waits for running tasks and stops the watcher. Go must not be called afterwards.
func (g *Group) Close() {
	g.wg.Wait()
	g.start.Do(func() {})
	close(g.errs)
	g.watcher.Wait()
}
