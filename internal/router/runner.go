package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opsbot/internal/domain"
)

const defaultConcurrency = 4

// Runner feeds messages from the bus to the Router, handling distinct
// messages concurrently.
type Runner struct {
	router      *Router
	bus         domain.MessageBus
	logger      *slog.Logger
	concurrency int

	wg sync.WaitGroup
}

type RunnerConfig struct {
	Router      *Router
	Bus         domain.MessageBus
	Logger      *slog.Logger
	Concurrency int // max messages handled at once (default 4)
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		router:      cfg.Router,
		bus:         cfg.Bus,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run dispatches inbound messages until ctx is cancelled or the bus is
// closed. Handlers run on a context detached from ctx: once started, a
// handling is not interrupted by shutdown. Messages already buffered when
// ctx is cancelled are still dispatched, since the transport has
// acknowledged them. Call Wait to drain the handlers.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("dispatcher started", "concurrency", r.concurrency)

	sem := make(chan struct{}, r.concurrency)
	inbound := r.bus.Subscribe()
	handleCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			r.drain(handleCtx, sem, inbound)
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("inbound channel closed, dispatcher stopping")
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				// Waits for a free handler below.
				r.dispatch(handleCtx, sem, msg)
				r.drain(handleCtx, sem, inbound)
				return
			}
			r.start(handleCtx, sem, msg)
		}
	}
}

// drain dispatches whatever is buffered on inbound without waiting for
// new messages.
func (r *Runner) drain(ctx context.Context, sem chan struct{}, inbound <-chan domain.InboundMessage) {
	n := 0
	for {
		select {
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("dispatcher stopping", "drained", n)
				return
			}
			r.dispatch(ctx, sem, msg)
			n++
		default:
			r.logger.Info("dispatcher stopping", "drained", n)
			return
		}
	}
}

// dispatch waits for a free handler slot and starts msg on it.
func (r *Runner) dispatch(ctx context.Context, sem chan struct{}, msg domain.InboundMessage) {
	sem <- struct{}{}
	r.start(ctx, sem, msg)
}

// start runs msg on a goroutine; the caller holds a slot in sem.
func (r *Runner) start(ctx context.Context, sem chan struct{}, msg domain.InboundMessage) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() { <-sem }()
		r.router.Handle(ctx, msg)
	}()
}

// Wait blocks until in-flight handlings finish or the timeout elapses. It
// reports whether everything finished.
func (r *Runner) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warn("in-flight handlers still running at shutdown", "timeout", timeout)
		return false
	}
}
