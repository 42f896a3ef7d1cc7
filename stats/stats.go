/*
Package stats records the outcome of routing decisions.

A Track is created by the Tracker when a request arrives, filled in by
the router while it decides, and handed back with SaveTrack when the
response is sent. Saved tracks are tallied per route type and delivery
service, and forwarded to the observers, typically the metrics backend and
the access log.
*/
package stats

import (
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/metrics"
	"github.com/zalando/trafficrouter/regionalgeo"
)

// RouteType tells which protocol a request was routed for.
type RouteType string

const (
	DNS  RouteType = "DNS"
	HTTP RouteType = "HTTP"
)

// ResultType is the terminal outcome of a routing decision.
type ResultType string

const (
	ResultNone        ResultType = ""
	ResultCZ          ResultType = "CZ"
	ResultGeo         ResultType = "GEO"
	ResultGeoDS       ResultType = "GEO_DS"
	ResultFederation  ResultType = "FED"
	ResultStaticRoute ResultType = "STATIC_ROUTE"
	ResultDSRedirect  ResultType = "DS_REDIRECT"
	ResultMiss        ResultType = "MISS"
	ResultError       ResultType = "ERROR"
	ResultRGDeny      ResultType = "RGDENY"
	ResultRGAlternate ResultType = "RGALT"
	ResultGeoRedirect ResultType = "GEO_REDIRECT"
	ResultDSMiss      ResultType = "DS_MISS"
)

// ResultDetails gives the reason of a result.
type ResultDetails string

const (
	DetailsNone                             ResultDetails = ""
	DetailsDSNotFound                       ResultDetails = "DS_NOT_FOUND"
	DetailsDSTLSMismatch                    ResultDetails = "DS_TLS_MISMATCH"
	DetailsDSNoBypass                       ResultDetails = "DS_NO_BYPASS"
	DetailsDSBypass                         ResultDetails = "DS_BYPASS"
	DetailsDSCZOnly                         ResultDetails = "DS_CZ_ONLY"
	DetailsDSCZBackupCG                     ResultDetails = "DS_CZ_BACKUP_CG"
	DetailsDSClientGeoUnsupported           ResultDetails = "DS_CLIENT_GEO_UNSUPPORTED"
	DetailsGeoNoCacheFound                  ResultDetails = "GEO_NO_CACHE_FOUND"
	DetailsRegionalGeoNoRule                ResultDetails = "REGIONAL_GEO_NO_RULE"
	DetailsRegionalGeoAlternateWithCache    ResultDetails = "REGIONAL_GEO_ALTERNATE_WITH_CACHE"
	DetailsRegionalGeoAlternateWithoutCache ResultDetails = "REGIONAL_GEO_ALTERNATE_WITHOUT_CACHE"
)

// Track is the per request record of a routing decision. It is owned by
// a single request and must not be shared.
type Track struct {
	ID        uuid.UUID
	RouteType RouteType

	// FQDN is the requested name, the query name of DNS requests or
	// the host of HTTP requests.
	FQDN string

	// DeliveryService is the id of the delivery service the request
	// matched. Empty when no delivery service matched.
	DeliveryService string

	ClientAddr netip.Addr

	// Request describes the request in the access log, the URL of HTTP
	// requests or the query type of DNS requests.
	Request string

	Result         ResultType
	Details        ResultDetails
	ResultLocation *geo.Geolocation

	ClientGeolocation        *geo.Geolocation
	ClientGeolocationQueried bool

	RegionalGeo *regionalgeo.Result

	// Response describes the answer, the redirect URL or the answer
	// records, and Status the HTTP status code or DNS rcode.
	Response string
	Status   int

	// Err holds a routing error, reported as ERROR result.
	Err error

	Start  time.Time
	Finish time.Time
}

// SetResult sets the result and the details of the track.
func (t *Track) SetResult(r ResultType, d ResultDetails) {
	t.Result = r
	t.Details = d
}

// SetRegionalGeo records the regional geo decision. Denied and alternate
// decisions overwrite the result of the track.
func (t *Track) SetRegionalGeo(r regionalgeo.Result) {
	t.RegionalGeo = &r
	switch r.Type {
	case regionalgeo.Denied:
		t.SetResult(ResultRGDeny, DetailsRegionalGeoNoRule)
	case regionalgeo.AlternateWithCache:
		t.SetResult(ResultRGAlternate, DetailsRegionalGeoAlternateWithCache)
	case regionalgeo.AlternateWithoutCache:
		t.SetResult(ResultRGAlternate, DetailsRegionalGeoAlternateWithoutCache)
	}
}

// Duration returns the time the routing took, or zero for tracks not
// saved yet.
func (t *Track) Duration() time.Duration {
	if t.Finish.IsZero() {
		return 0
	}

	return t.Finish.Sub(t.Start)
}

// Observer receives every saved track. Observers are called
// synchronously and must not keep the track.
type Observer interface {
	ObserveTrack(*Track)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(*Track)

func (f ObserverFunc) ObserveTrack(t *Track) { f(t) }

// UndefinedDeliveryService is the tally key of the requests that
// matched no delivery service.
const UndefinedDeliveryService = "undefined"

// Key identifies a tally.
type Key struct {
	RouteType       RouteType
	DeliveryService string
}

// Tally counts the saved tracks of a key by result and by details.
type Tally struct {
	Results map[ResultType]uint64
	Details map[ResultDetails]uint64
}

func newTally() *Tally {
	return &Tally{
		Results: make(map[ResultType]uint64),
		Details: make(map[ResultDetails]uint64),
	}
}

func (t *Tally) copy() Tally {
	c := Tally{
		Results: make(map[ResultType]uint64, len(t.Results)),
		Details: make(map[ResultDetails]uint64, len(t.Details)),
	}

	for r, n := range t.Results {
		c.Results[r] = n
	}

	for d, n := range t.Details {
		c.Details[d] = n
	}

	return c
}

// Options for NewTracker.
type Options struct {

	// Clock used for the track timestamps. Defaults to the wall clock.
	Clock clock.Clock

	// Metrics receives the result counters and the routing duration of
	// every saved track. Optional.
	Metrics metrics.Metrics

	// Observers are called with every saved track.
	Observers []Observer
}

// Tracker creates and tallies tracks. It is safe for concurrent use.
type Tracker struct {
	clock     clock.Clock
	metrics   metrics.Metrics
	observers []Observer

	mu     sync.Mutex
	tally  map[Key]*Tally
	totals map[RouteType]*Tally
}

// NewTracker creates a tracker.
func NewTracker(o Options) *Tracker {
	if o.Clock == nil {
		o.Clock = clock.New()
	}

	return &Tracker{
		clock:     o.Clock,
		metrics:   o.Metrics,
		observers: o.Observers,
		tally:     make(map[Key]*Tally),
		totals:    make(map[RouteType]*Tally),
	}
}

// NewTrack creates a track started now.
func (tr *Tracker) NewTrack(rt RouteType) *Track {
	return &Track{
		ID:        uuid.New(),
		RouteType: rt,
		Start:     tr.clock.Now(),
	}
}

// SaveTrack finalizes a track, counts it and forwards it to the
// observers. A track must be saved once.
func (tr *Tracker) SaveTrack(t *Track) {
	if t == nil {
		return
	}

	t.Finish = tr.clock.Now()
	if t.Err != nil && t.Result == ResultNone {
		t.Result = ResultError
	}

	key := Key{RouteType: t.RouteType, DeliveryService: t.DeliveryService}
	if key.DeliveryService == "" {
		key.DeliveryService = UndefinedDeliveryService
	}

	tr.mu.Lock()
	tl := tr.tally[key]
	if tl == nil {
		tl = newTally()
		tr.tally[key] = tl
	}

	total := tr.totals[t.RouteType]
	if total == nil {
		total = newTally()
		tr.totals[t.RouteType] = total
	}

	for _, tt := range []*Tally{tl, total} {
		tt.Results[t.Result]++
		if t.Details != DetailsNone {
			tt.Details[t.Details]++
		}
	}
	tr.mu.Unlock()

	if tr.metrics != nil {
		tr.metrics.MeasureRouting(string(t.RouteType), string(t.Result), string(t.Details), t.Start, t.Finish)
	}

	for _, o := range tr.observers {
		o.ObserveTrack(t)
	}
}

// Tallies returns a copy of the counts per route type and delivery
// service.
func (tr *Tracker) Tallies() map[Key]Tally {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	c := make(map[Key]Tally, len(tr.tally))
	for k, t := range tr.tally {
		c[k] = t.copy()
	}

	return c
}

// Totals returns a copy of the counts per route type.
func (tr *Tracker) Totals() map[RouteType]Tally {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	c := make(map[RouteType]Tally, len(tr.totals))
	for rt, t := range tr.totals {
		c[rt] = t.copy()
	}

	return c
}
