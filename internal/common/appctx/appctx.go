// Package appctx provides context utilities for background operations.
package appctx

import (
	"context"
	"time"
)

// Detached returns a new context that inherits parent's values but is not
// tied to its cancellation. Use this for cleanup that must run to completion
// even after the request that started it has been cancelled or timed out.
// The returned context is cancelled when stopCh is closed, timeout expires,
// or the returned CancelFunc is called directly.
func Detached(parent context.Context, stopCh <-chan struct{}, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)

	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
