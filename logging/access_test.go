package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/regionalgeo"
	"github.com/zalando/trafficrouter/stats"
)

func testStart() time.Time {
	return time.Unix(144140678, 0)
}

func testHTTPTrack() *stats.Track {
	return &stats.Track{
		RouteType:      stats.HTTP,
		FQDN:           "example.com",
		ClientAddr:     netip.MustParseAddr("192.168.7.6"),
		Request:        "http://example.com/index.html?foo=bar",
		Result:         stats.ResultCZ,
		ResultLocation: geo.New(39.75, -104.99),
		Response:       "http://example.com/hereitis/index.html?foo=bar",
		Status:         302,
		Start:          testStart(),
		Finish:         testStart().Add(125 * time.Millisecond),
	}
}

func testAccessLog(t *testing.T, track *stats.Track, expectedOutput string) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf}))
	LogTrack(track)
	assert.Equal(t, expectedOutput, strings.TrimSuffix(buf.String(), "\n"))
}

func TestAccessLogHTTP(t *testing.T) {
	testAccessLog(t, testHTTPTrack(), `144140678.000 qtype=HTTP chi=192.168.7.6 rhi=- url="http://example.com/index.html?foo=bar" `+
		`rtype=CZ rloc="39.75,-104.99" rdtl=- rerr="-" rgb="-" pssc=302 ttms=125.000 rurl="http://example.com/hereitis/index.html?foo=bar"`)
}

func TestAccessLogHTTPMiss(t *testing.T) {
	track := testHTTPTrack()
	track.SetResult(stats.ResultMiss, stats.DetailsDSNoBypass)
	track.ResultLocation = nil
	track.Response = ""
	track.Status = 503
	track.Finish = track.Start.Add(789 * time.Microsecond)

	testAccessLog(t, track, `144140678.000 qtype=HTTP chi=192.168.7.6 rhi=- url="http://example.com/index.html?foo=bar" `+
		`rtype=MISS rloc="-" rdtl=DS_NO_BYPASS rerr="-" rgb="-" pssc=503 ttms=0.789 rurl="-"`)
}

func TestAccessLogHTTPErrorAndRegionalGeo(t *testing.T) {
	track := testHTTPTrack()
	track.Err = errors.New("you're doing it wrong")
	track.SetRegionalGeo(regionalgeo.Result{Type: regionalgeo.Denied, Postal: "V5D", RuleType: regionalgeo.Include})
	track.Finish = track.Start

	testAccessLog(t, track, `144140678.000 qtype=HTTP chi=192.168.7.6 rhi=- url="http://example.com/index.html?foo=bar" `+
		`rtype=RGDENY rloc="39.75,-104.99" rdtl=REGIONAL_GEO_NO_RULE rerr="you're doing it wrong" rgb="DENIED:V5D:INCLUDE" `+
		`pssc=302 ttms=0.000 rurl="http://example.com/hereitis/index.html?foo=bar"`)
}

func TestAccessLogDNS(t *testing.T) {
	track := &stats.Track{
		RouteType:  stats.DNS,
		FQDN:       "edge.video.example.com.",
		ClientAddr: netip.MustParseAddr("192.168.10.11"),
		Request:    "A",
		Result:     stats.ResultGeo,
		Status:     dns.RcodeSuccess,
		Response:   "192.0.2.10 192.0.2.11",
		Start:      testStart(),
		Finish:     testStart().Add(789 * time.Millisecond),
	}

	testAccessLog(t, track, `144140678.000 qtype=DNS chi=192.168.10.11 rhi=- ttms=789.000 fqdn=edge.video.example.com. `+
		`type=A rcode=NOERROR rtype=GEO rloc="-" rdtl=- rerr="-" ans="192.0.2.10 192.0.2.11"`)
}

func TestAccessLogIgnoresEmptyTrack(t *testing.T) {
	testAccessLog(t, nil, "")
}

func TestAccessLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf, AccessLogDisabled: true}))
	LogTrack(testHTTPTrack())
	assert.Empty(t, buf.String())
}

func TestAccessLogJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{AccessLogOutput: &buf, AccessLogJSONEnabled: true}))
	LogTrack(testHTTPTrack())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "CZ", entry["rtype"])
	assert.Equal(t, "302", entry["pssc"])
	assert.Equal(t, "http://example.com/index.html?foo=bar", entry["url"])
}
