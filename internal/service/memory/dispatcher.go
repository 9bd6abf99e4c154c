package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zhouzirui/z-companion/backend/internal/model/chat"
)

// Runner is what the dispatcher runs in the background.
type Runner interface {
	Extract(ctx context.Context, owner string, transcript []chat.Turn) (int, error)
}

// Dispatcher runs extractions detached from the request that triggered them.
// Every failure, panics included, ends at the dispatcher's own boundary.
type Dispatcher struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A zero timeout leaves extractions unbounded.
func NewDispatcher(runner Runner, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		runner:  runner,
		timeout: timeout,
		logger:  logger.With("component", "memory"),
	}
}

// Dispatch starts an extraction and returns immediately. The task keeps the
// values of ctx but not its cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, owner string, transcript []chat.Turn) {
	turns := append([]chat.Turn(nil), transcript...)
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("memory extraction panicked", "owner", owner, "panic", r)
			}
		}()

		runCtx := detached
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(detached, d.timeout)
			defer cancel()
		}

		saved, err := d.runner.Extract(runCtx, owner, turns)
		if err != nil {
			d.logger.Error("memory extraction failed", "owner", owner, "saved", saved, "error", err)
			return
		}
		d.logger.Debug("memory extraction finished", "owner", owner, "saved", saved)
	}()
}

// Wait blocks until in-flight extractions finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
