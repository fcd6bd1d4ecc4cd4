// Package shutdown waits for the platform's termination signals.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Wait blocks until a termination signal arrives or ctx ends. It returns the
// signal, or nil if ctx ended first.
func Wait(ctx context.Context) os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	defer signal.Stop(ch)
	select {
	case s := <-ch:
		return s
	case <-ctx.Done():
		return nil
	}
}
