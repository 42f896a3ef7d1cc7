package stats

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/metrics/metricstest"
	"github.com/zalando/trafficrouter/regionalgeo"
)

func TestTrackTiming(t *testing.T) {
	mc := clock.NewMock()
	tr := NewTracker(Options{Clock: mc})

	track := tr.NewTrack(HTTP)
	assert.NotEqual(t, uuid.Nil, track.ID)
	assert.Equal(t, time.Duration(0), track.Duration())

	mc.Add(15 * time.Millisecond)
	tr.SaveTrack(track)

	assert.Equal(t, 15*time.Millisecond, track.Duration())
	assert.NotEqual(t, track.ID, tr.NewTrack(HTTP).ID)
}

func TestTallies(t *testing.T) {
	tr := NewTracker(Options{Clock: clock.NewMock()})

	save := func(rt RouteType, fqdn, ds string, r ResultType, d ResultDetails) {
		track := tr.NewTrack(rt)
		track.FQDN = fqdn
		track.DeliveryService = ds
		track.SetResult(r, d)
		tr.SaveTrack(track)
	}

	save(DNS, "edge.video.example.com.", "video", ResultCZ, DetailsNone)
	save(DNS, "other.video.example.com", "video", ResultCZ, DetailsNone)
	save(DNS, "edge.video.example.com", "video", ResultMiss, DetailsDSCZOnly)
	save(HTTP, "edge.video.example.com", "video", ResultGeo, DetailsNone)
	save(HTTP, "edge.live.example.com", "", ResultDSMiss, DetailsDSNotFound)
	save(DNS, "www.example.com", "", ResultStaticRoute, DetailsDSNotFound)

	expected := map[Key]Tally{
		{DNS, "video"}: {
			Results: map[ResultType]uint64{ResultCZ: 2, ResultMiss: 1},
			Details: map[ResultDetails]uint64{DetailsDSCZOnly: 1},
		},
		{HTTP, "video"}: {
			Results: map[ResultType]uint64{ResultGeo: 1},
			Details: map[ResultDetails]uint64{},
		},
		{HTTP, UndefinedDeliveryService}: {
			Results: map[ResultType]uint64{ResultDSMiss: 1},
			Details: map[ResultDetails]uint64{DetailsDSNotFound: 1},
		},
		{DNS, UndefinedDeliveryService}: {
			Results: map[ResultType]uint64{ResultStaticRoute: 1},
			Details: map[ResultDetails]uint64{DetailsDSNotFound: 1},
		},
	}

	if d := cmp.Diff(expected, tr.Tallies()); d != "" {
		t.Errorf("unexpected tallies (-want +got):\n%s", d)
	}

	totals := tr.Totals()
	assert.Equal(t, uint64(2), totals[HTTP].Results[ResultGeo]+totals[HTTP].Results[ResultDSMiss])
	assert.Equal(t, uint64(2), totals[DNS].Results[ResultCZ])
}

func TestTalliesUnmatchedNames(t *testing.T) {
	tr := NewTracker(Options{})
	for i := 0; i < 5000; i++ {
		for _, rt := range []RouteType{DNS, HTTP} {
			track := tr.NewTrack(rt)
			track.FQDN = fmt.Sprintf("random-%d.example.org", i)
			track.SetResult(ResultDSMiss, DetailsDSNotFound)
			tr.SaveTrack(track)
		}
	}

	tallies := tr.Tallies()
	assert.Len(t, tallies, 2)
	assert.Equal(t, uint64(5000), tallies[Key{HTTP, UndefinedDeliveryService}].Results[ResultDSMiss])
	assert.Equal(t, uint64(5000), tallies[Key{DNS, UndefinedDeliveryService}].Details[DetailsDSNotFound])
}

func TestTalliesAreCopies(t *testing.T) {
	tr := NewTracker(Options{})
	track := tr.NewTrack(DNS)
	track.DeliveryService = "live"
	track.SetResult(ResultGeo, DetailsNone)
	tr.SaveTrack(track)

	c := tr.Tallies()
	c[Key{DNS, "live"}].Results[ResultGeo] = 42

	assert.Equal(t, uint64(1), tr.Tallies()[Key{DNS, "live"}].Results[ResultGeo])
}

func TestErrorTrack(t *testing.T) {
	tr := NewTracker(Options{})
	track := tr.NewTrack(HTTP)
	track.Err = errors.New("boom")
	tr.SaveTrack(track)

	assert.Equal(t, ResultError, track.Result)
	tr.SaveTrack(nil)
}

func TestRegionalGeoResult(t *testing.T) {
	for _, test := range []struct {
		result  regionalgeo.ResultType
		want    ResultType
		details ResultDetails
	}{
		{regionalgeo.Denied, ResultRGDeny, DetailsRegionalGeoNoRule},
		{regionalgeo.AlternateWithCache, ResultRGAlternate, DetailsRegionalGeoAlternateWithCache},
		{regionalgeo.AlternateWithoutCache, ResultRGAlternate, DetailsRegionalGeoAlternateWithoutCache},
		{regionalgeo.Allowed, ResultCZ, DetailsNone},
	} {
		t.Run(test.result.String(), func(t *testing.T) {
			track := &Track{}
			track.SetResult(ResultCZ, DetailsNone)
			track.SetRegionalGeo(regionalgeo.Result{Type: test.result})

			require.NotNil(t, track.RegionalGeo)
			assert.Equal(t, test.want, track.Result)
			assert.Equal(t, test.details, track.Details)
		})
	}
}

func TestObserversAndMetrics(t *testing.T) {
	m := &metricstest.MockMetrics{}
	mc := clock.NewMock()

	var observed []*Track
	tr := NewTracker(Options{
		Clock:     mc,
		Metrics:   m,
		Observers: []Observer{ObserverFunc(func(t *Track) { observed = append(observed, t) })},
	})

	track := tr.NewTrack(DNS)
	track.SetResult(ResultFederation, DetailsNone)
	mc.Add(time.Millisecond)
	tr.SaveTrack(track)

	require.Len(t, observed, 1)
	assert.Same(t, track, observed[0])

	m.WithCounters(func(c map[string]int64) {
		assert.Equal(t, int64(1), c["routing.DNS.FED"])
	})

	m.WithMeasures(func(measures map[string][]time.Duration) {
		assert.Equal(t, []time.Duration{time.Millisecond}, measures["routing.DNS"])
	})
}

func TestConcurrentSave(t *testing.T) {
	tr := NewTracker(Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				track := tr.NewTrack(HTTP)
				track.DeliveryService = "video"
				track.SetResult(ResultCZ, DetailsNone)
				tr.SaveTrack(track)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, uint64(800), tr.Tallies()[Key{HTTP, "video"}].Results[ResultCZ])
}
