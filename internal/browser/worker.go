package browser

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// worker is the single goroutine through which every browser call is made, so at most
// one call is in flight process-wide. Calls from concurrent runs queue in arrival order.
type worker struct {
	jobs   chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

func newWorker(queueSize int, logger *zap.Logger) *worker {
	if queueSize < 0 {
		queueSize = 0
	}
	w := &worker{
		jobs:   make(chan job, queueSize),
		quit:   make(chan struct{}),
		logger: logger,
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			j.done <- w.execute(j)
		case <-w.quit:
			// Fail anything still queued.
			for {
				select {
				case j := <-w.jobs:
					j.done <- ErrSessionClosed
				default:
					return
				}
			}
		}
	}
}

func (w *worker) execute(j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic in browser call.", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: panic in browser call: %v", ErrBrowserUnavailable, r)
		}
	}()
	return j.fn(j.ctx)
}

// submit queues fn and blocks until it has run or ctx is done.
func (w *worker) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-w.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrSessionClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrSessionClosed
	}
}

func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
	w.wg.Wait()
}
