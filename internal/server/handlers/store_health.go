package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrDegraded marks a failing check the service can run without. It reports
// as "degraded" instead of "unhealthy".
var ErrDegraded = stderrors.New("degraded")

type pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker reports the rate limit store. The limiter fails open, so an
// unreachable store degrades the service rather than taking it down.
type StoreChecker struct {
	Store pinger
}

// CheckHealth pings the store.
func (c StoreChecker) CheckHealth(ctx context.Context) error {
	if c.Store == nil {
		return fmt.Errorf("%w: store not configured", ErrDegraded)
	}
	if err := c.Store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDegraded, err)
	}
	return nil
}
