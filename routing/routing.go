package routing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zalando/trafficrouter/logging"
	"github.com/zalando/trafficrouter/metrics"
	"github.com/zalando/trafficrouter/snapshot"
)

// DefaultPollTimeout is used when Options.PollTimeout is not set.
const DefaultPollTimeout = 3 * time.Second

// Options of the routing.
type Options struct {
	// DataClient provides the configuration. Without a data client, the
	// routing serves the snapshots published with Publish only.
	DataClient DataClient

	// PollTimeout is the interval of polling the data client for
	// updates, and the maximum interval of retrying the initial load.
	PollTimeout time.Duration

	// Metrics receives the snapshot metrics. Defaults to metrics.Default.
	Metrics metrics.Metrics

	// Log receives the application log. Defaults to logging.New().
	Log logging.Logger
}

// Routing holds the current snapshot.
type Routing struct {
	dataClient  DataClient
	pollTimeout time.Duration
	metrics     metrics.Metrics
	log         logging.Logger

	current    atomic.Pointer[snapshot.Snapshot]
	generation uint64
	publishMu  sync.Mutex

	firstLoad     chan struct{}
	firstLoadOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a routing serving an empty snapshot, and starts loading
// from the data client when it is set.
func New(o Options) *Routing {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}

	if o.Metrics == nil {
		o.Metrics = metrics.Default
	}

	if o.Log == nil {
		o.Log = logging.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Routing{
		dataClient:  o.DataClient,
		pollTimeout: o.PollTimeout,
		metrics:     o.Metrics,
		log:         o.Log,
		firstLoad:   make(chan struct{}),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	r.current.Store(snapshot.Empty())
	if r.dataClient == nil {
		close(r.done)
		return r
	}

	go r.receive(ctx)
	return r
}

// Get returns the current snapshot. It never returns nil.
func (r *Routing) Get() *snapshot.Snapshot {
	return r.current.Load()
}

// Publish builds a snapshot from the configuration and makes it the
// current one. Invalid entities are left out of the snapshot.
func (r *Routing) Publish(c *snapshot.Config) *snapshot.Snapshot {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	start := time.Now()
	r.generation++
	s, err := snapshot.Build(c, r.generation)
	invalid := handleInvalidEntities(r.log, r.metrics, r.generation, err)

	previous := r.current.Swap(s)
	previous.ClearLocations()

	r.metrics.MeasureSnapshotBuild(start)
	r.metrics.UpdateSnapshotGeneration(r.generation)
	r.log.Infof(
		"Snapshot %d published: %d delivery services, %d locations, %d invalid entities",
		r.generation,
		s.DeliveryServices().Len(),
		len(s.Locations()),
		invalid,
	)

	r.firstLoadOnce.Do(func() { close(r.firstLoad) })
	return s
}

// FirstLoad returns a channel that is closed when the first snapshot
// was published.
func (r *Routing) FirstLoad() <-chan struct{} {
	return r.firstLoad
}

// Close stops loading from the data client. It does not wait for a
// pending load.
func (r *Routing) Close() {
	r.cancel()
}

// Wait blocks until the loading stopped after Close.
func (r *Routing) Wait() {
	<-r.done
}
