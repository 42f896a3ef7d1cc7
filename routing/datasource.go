package routing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/zalando/trafficrouter/snapshot"
)

// DataClient provides the snapshot configuration.
type DataClient interface {
	// LoadAll returns the full configuration.
	LoadAll() (*snapshot.Config, error)

	// LoadUpdate returns the full configuration when it changed since
	// the last successful load, or nil when it did not.
	LoadUpdate() (*snapshot.Config, error)
}

func (r *Routing) loadInitial(ctx context.Context) (*snapshot.Config, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = r.pollTimeout
	if b.InitialInterval > r.pollTimeout {
		b.InitialInterval = r.pollTimeout
	}

	return backoff.Retry(ctx, func() (*snapshot.Config, error) {
		c, err := r.dataClient.LoadAll()
		if err != nil {
			r.metrics.IncReloadFailures()
			return nil, err
		}

		return c, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Errorf("Failed to load the initial configuration, retrying in %v: %v", next, err)
		}),
	)
}

func (r *Routing) loadUpdate() {
	c, err := r.dataClient.LoadUpdate()
	if err != nil {
		r.metrics.IncReloadFailures()
		r.log.Errorf("Failed to load the configuration update, keeping snapshot %d: %v", r.Get().Generation(), err)
		return
	}

	if c == nil {
		return
	}

	r.Publish(c)
}

func (r *Routing) receive(ctx context.Context) {
	defer close(r.done)

	c, err := r.loadInitial(ctx)
	if err != nil {
		r.log.Infof("Stopped loading the initial configuration: %v", err)
		return
	}

	r.Publish(c)

	ticker := time.NewTicker(r.pollTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.loadUpdate()
		case <-ctx.Done():
			return
		}
	}
}
