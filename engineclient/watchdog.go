package engineclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WatchdogOpts configures the background upcheck of engines
type WatchdogOpts struct {
	// Interval between two health checks of an engine that is not Offline
	Interval time.Duration
	// InitialBackoff and MaxBackoff bound the retry interval while an engine is Offline
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultWatchdogOpts = WatchdogOpts{
	Interval:       12 * time.Second,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
}

// StartWatchdog upchecks every engine in the background until ctx is done. Offline engines are
// re-probed with exponential backoff so they can rejoin, AuthFailed engines are left alone.
func (c *MultiEngineClient) StartWatchdog(ctx context.Context, opts WatchdogOpts) {
	for _, e := range c.engines {
		go c.watch(ctx, e, opts)
	}
}

func (c *MultiEngineClient) watch(ctx context.Context, e *EngineHandle, opts WatchdogOpts) {
	log := c.log.WithField("engine", e.Name())
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		if e.Status() == StatusOffline {
			c.reconnect(ctx, e, opts)
		} else if e.Status().IsUsable() {
			if err := e.Upcheck(ctx, c.timeouts.Upcheck); err != nil {
				log.WithError(err).Warn("upcheck failed")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconnect retries the upcheck with backoff until the engine answers, its credentials are rejected, or ctx is done
func (c *MultiEngineClient) reconnect(ctx context.Context, e *EngineHandle, opts WatchdogOpts) {
	log := c.log.WithField("engine", e.Name())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = opts.MaxBackoff
	b.MaxElapsedTime = 0

	op := func() error {
		err := e.Upcheck(ctx, c.timeouts.Upcheck)
		if errors.Is(err, ErrEngineAuthFailed) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.WithError(err).WithField("retryIn", next.String()).Debug("engine still offline")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		log.WithError(err).Warn("stopped probing engine")
		return
	}
	log.WithField("status", e.Status()).Info("engine is back online")
}
