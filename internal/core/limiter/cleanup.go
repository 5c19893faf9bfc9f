package limiter

import (
	"context"
	"time"
)

// StartCleanup sweeps expired records every interval until ctx is done or the
// returned stop is called. onSweep, if set, receives each sweep's count. A
// non-positive interval starts nothing.
func (s *Store) StartCleanup(ctx context.Context, interval time.Duration, onSweep func(removed int64)) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t := time.NewTicker(interval)

	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				removed := s.Cleanup(ctx)
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
