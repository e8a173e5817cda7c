package scanrig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// IntentSource publishes intents until ctx is done or it has nothing left to
// say. The keyboard reader and the signal trigger are sources.
type IntentSource struct {
	Name string
	Run  func(ctx context.Context, out chan<- Intent) error
}

// RunPipeline feeds every source into one intent channel consumed by the
// session. It returns once the session loop stops, waiting at most grace for
// sources still blocked on input.
func RunPipeline(ctx context.Context, session *Session, grace time.Duration, sources ...IntentSource) error {
	if session == nil {
		return errors.New("pipeline: session is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	intents := make(chan Intent, 8)
	wg := newWorkerGroup(runCtx)
	for _, src := range sources {
		if src.Run == nil {
			continue
		}
		src := src
		wg.goRestart(src.Name, func(ctx context.Context) error {
			return src.Run(ctx, intents)
		})
	}
	wg.goRestart("dispatch", func(ctx context.Context) error {
		// Stopping the loop stops the sources as well.
		defer cancel()
		return session.Run(ctx, intents)
	})

	err := wg.waitOrInterrupt(grace)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// workerGroup is an errgroup whose workers are restarted after a panic.
type workerGroup struct {
	*errgroup.Group
	// ctx is canceled on parent cancellation or the first worker error.
	ctx context.Context
	// parent decides when waitOrInterrupt gives up.
	parent context.Context
}

func newWorkerGroup(ctx context.Context) *workerGroup {
	group, groupCtx := errgroup.WithContext(ctx)
	return &workerGroup{Group: group, ctx: groupCtx, parent: ctx}
}

// goRestart runs fn and restarts it with exponential backoff when it panics.
// A returned error cancels the group. Panics are printed to stderr rather than
// logged since the logger itself may be what panicked.
func (wg *workerGroup) goRestart(name string, fn func(context.Context) error) {
	wg.Group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		const maxBackoff = 10 * time.Second
		for {
			select {
			case <-wg.ctx.Done():
				return nil
			default:
			}

			var recovered any
			func() {
				defer func() {
					recovered = recover()
				}()
				err = fn(wg.ctx)
			}()
			if recovered == nil {
				return err
			}

			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())
			select {
			case <-wg.ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

// waitOrInterrupt waits for all workers. Once the parent context is done it
// waits at most grace more, then returns the parent's error.
func (wg *workerGroup) waitOrInterrupt(grace time.Duration) error {
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- wg.Group.Wait()
	}()

	select {
	case err := <-waitCh:
		return normalizeInterruptError(wg.parent, err)
	case <-wg.parent.Done():
		if grace <= 0 {
			return wg.parent.Err()
		}
		select {
		case err := <-waitCh:
			return normalizeInterruptError(wg.parent, err)
		case <-time.After(grace):
			return wg.parent.Err()
		}
	}
}

// normalizeInterruptError maps context cancellation errors to ctx.Err().
func normalizeInterruptError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
