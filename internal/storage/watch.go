package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// poll turns a fetch function into a snapshot stream for backends without
// push notifications. fetch reports whether the snapshot changed since the
// previous call; unchanged snapshots are not re-sent.
func poll[T any](ctx context.Context, interval time.Duration, log *zap.Logger, what string, fetch func(context.Context) ([]T, bool, error)) <-chan []T {
	out := make(chan []T, 1)
	go func() {
		defer close(out)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			snap, changed, err := fetch(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					return
				}
				log.Warn("snapshot poll failed", zap.String("collection", what), zap.Error(err))
			case changed:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()
	return out
}
