package helpers

import (
	"context"

	"github.com/temoto/alive/v2"
)

// AliveContext returns context cancelled when a stops or parent is done.
// Lets blocking calls that only know context (dial, HTTP) observe Stop().
func AliveContext(parent context.Context, a *alive.Alive) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-a.StopChan():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
