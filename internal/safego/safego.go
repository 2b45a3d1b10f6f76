// Package safego provides panic-recovering goroutine launchers for fire-and-forget
// work such as event publication and audit shipping.
package safego

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Go launches fn in a new goroutine. A panic in fn is recovered and logged
// with the task name instead of crashing the process.
func Go(name string, fn func()) {
	go run(name, fn)
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine", "task", name, "panic", r)
		}
	}()
	fn()
}

// Group tracks background tasks so shutdown can wait for them.
type Group struct {
	wg sync.WaitGroup
}

// Go launches fn like the package-level Go and tracks it until it returns.
func (g *Group) Go(name string, fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(name, fn)
	}()
}

// Detached runs fn with a context that keeps the values of parent but not its
// cancellation, bounded by timeout. Request-scoped work that must outlive the
// request (publishing after the response is written) uses this.
func (g *Group) Detached(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context)) {
	g.Go(name, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
		defer cancel()
		fn(ctx)
	})
}

// Wait blocks until all tracked tasks finish or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
