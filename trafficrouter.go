package trafficrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	stdlibnet "net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"go4.org/netipx"

	"github.com/zalando/trafficrouter/dataclients/jsonfile"
	"github.com/zalando/trafficrouter/frontend"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/logging"
	"github.com/zalando/trafficrouter/metrics"
	"github.com/zalando/trafficrouter/net"
	"github.com/zalando/trafficrouter/router"
	"github.com/zalando/trafficrouter/routing"
	"github.com/zalando/trafficrouter/stats"
)

const defaultShutdownTimeout = 30 * time.Second

// Options to start the traffic router.
type Options struct {
	// Network address of the HTTP frontend.
	Address string

	// Network address of the DNS frontend, served both on UDP and TCP.
	// When empty, no DNS frontend is started.
	DNSAddress string

	// Network address of the metrics, profiling and statistics
	// endpoints. When empty, no support listener is started.
	SupportListener string

	// The router configuration document. Required.
	CRConfigFile string

	// Optional documents extending the router configuration.
	CoverageZoneFile string
	SteeringFile     string
	RegionalGeoFile  string
	FederationsFile  string
	StatesFile       string

	// GeolocationFile is a JSON table of network prefixes and their
	// locations. Without it, clients not covered by a coverage zone
	// are routed to the miss locations of the delivery services.
	GeolocationFile string

	// Geolocation configures the caching and the breaker of the
	// geolocation lookups.
	Geolocation geo.LocatorOptions

	// Polling interval of the configuration documents.
	SourcePollTimeout time.Duration

	// When set, the frontends are started only after the first
	// snapshot was loaded.
	WaitFirstSnapshotLoad bool

	// Status of HTTP requests that could not be routed.
	DefaultHTTPStatus int

	// CIDRs of the proxies in front of the HTTP frontend. The
	// X-Forwarded-For header is used as the client address only when
	// the request comes from one of them.
	TrustedProxies []string

	// Metrics flavours: codahale, prometheus or all.
	MetricsFlavours []string

	// Prefix of the metric keys.
	MetricsPrefix string

	// Enables the Go profiling endpoints on the support listener.
	EnableProfile bool

	// Enables the garbage collector metrics.
	EnableDebugGcMetrics bool

	// Enables the Go runtime metrics.
	EnableRuntimeMetrics bool

	// Enables counting the routing results by their details.
	EnableResultDetailsMetrics bool

	// Use an exponentially decaying sample in the CodaHale timers.
	MetricsUseExpDecaySample bool

	// Buckets of the Prometheus histograms.
	HistogramMetricBuckets []float64

	// Output file of the application log. When empty, stderr is used.
	ApplicationLogOutput string

	// Prefix of the application log lines.
	ApplicationLogPrefix string

	// Level of the application log.
	ApplicationLogLevel string

	// Prints the application log as JSON.
	ApplicationLogJSONEnabled bool

	// Output file of the access log. When empty, stderr is used.
	AccessLogOutput string

	// Disables the access log.
	AccessLogDisabled bool

	// Prints the access log as JSON.
	AccessLogJSONEnabled bool

	// Timeouts of the HTTP frontend.
	ReadTimeoutServer       time.Duration
	ReadHeaderTimeoutServer time.Duration
	WriteTimeoutServer      time.Duration
	IdleTimeoutServer       time.Duration

	// Maximum size of the request headers of the HTTP frontend.
	MaxHeaderBytes int

	// Time to wait after the shutdown signal, before the listeners
	// are closed, to let the health checks notice the shutdown.
	WaitForHealthcheckInterval time.Duration
}

func (o *Options) metricsKind() metrics.Kind {
	var kind metrics.Kind
	for _, f := range o.MetricsFlavours {
		kind |= metrics.ParseMetricsKind(f)
	}

	if kind == metrics.UnknownKind {
		kind = metrics.CodaHaleKind
	}

	return kind
}

func (o *Options) metricsOptions() metrics.Options {
	return metrics.Options{
		Format:                     o.metricsKind(),
		Prefix:                     o.MetricsPrefix,
		EnableDebugGcMetrics:       o.EnableDebugGcMetrics,
		EnableRuntimeMetrics:       o.EnableRuntimeMetrics,
		EnableResultDetailsMetrics: o.EnableResultDetailsMetrics,
		UseExpDecaySample:          o.MetricsUseExpDecaySample,
		HistogramBuckets:           o.HistogramMetricBuckets,
		EnableProfile:              o.EnableProfile,
	}
}

func openLogFile(name string) (io.Writer, io.Closer, error) {
	if name == "" {
		return nil, nil, nil
	}

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}

	return f, f, nil
}

func initLog(o Options) (func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	appLog, c, err := openLogFile(o.ApplicationLogOutput)
	if err != nil {
		return nil, err
	}

	if c != nil {
		closers = append(closers, c)
	}

	var accessLog io.Writer
	if !o.AccessLogDisabled {
		accessLog, c, err = openLogFile(o.AccessLogOutput)
		if err != nil {
			closeAll()
			return nil, err
		}

		if c != nil {
			closers = append(closers, c)
		}
	}

	if err := logging.Init(logging.Options{
		ApplicationLogPrefix:      o.ApplicationLogPrefix,
		ApplicationLogOutput:      appLog,
		ApplicationLogLevel:       o.ApplicationLogLevel,
		ApplicationLogJSONEnabled: o.ApplicationLogJSONEnabled,
		AccessLogOutput:           accessLog,
		AccessLogDisabled:         o.AccessLogDisabled,
		AccessLogJSONEnabled:      o.AccessLogJSONEnabled,
	}); err != nil {
		closeAll()
		return nil, err
	}

	return closeAll, nil
}

func createLocator(o Options) (router.Locator, error) {
	if o.GeolocationFile == "" {
		return nil, nil
	}

	table, err := jsonfile.LoadGeolocations(o.GeolocationFile)
	if err != nil {
		return nil, err
	}

	return geo.NewLocator(table, o.Geolocation), nil
}

func statsHandler(tracker *stats.Tracker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(tracker.Totals()); err != nil {
			log.Errorf("Failed to write the statistics: %v", err)
		}
	})
}

func newSupportServer(o Options, mo metrics.Options, m metrics.Metrics, tracker *stats.Tracker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/stats", statsHandler(tracker))
	mux.Handle("/", metrics.NewHandler(mo, m))
	return &http.Server{
		Addr:              o.SupportListener,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type dnsServers []*dns.Server

func newDNSServers(address string, h dns.Handler) dnsServers {
	if address == "" {
		return nil
	}

	return dnsServers{
		{Addr: address, Net: "udp", Handler: h},
		{Addr: address, Net: "tcp", Handler: h},
	}
}

func (s dnsServers) shutdown(ctx context.Context) error {
	var err error
	for _, si := range s {
		err = multierr.Append(err, si.ShutdownContext(ctx))
	}

	return err
}

// Run starts the traffic router with the given options, and blocks
// until it receives SIGTERM or SIGINT, or one of its listeners fails.
func Run(o Options) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)
	return RunWithShutdown(o, sig)
}

// RunWithShutdown is like Run, but it shuts down gracefully when a
// signal is received on sig.
func RunWithShutdown(o Options, sig chan os.Signal) error {
	closeLog, err := initLog(o)
	if err != nil {
		return err
	}

	defer closeLog()

	dataClient, err := jsonfile.New(jsonfile.Options{
		CRConfigFile:     o.CRConfigFile,
		CoverageZoneFile: o.CoverageZoneFile,
		SteeringFile:     o.SteeringFile,
		RegionalGeoFile:  o.RegionalGeoFile,
		FederationsFile:  o.FederationsFile,
		StatesFile:       o.StatesFile,
	})
	if err != nil {
		return err
	}

	locator, err := createLocator(o)
	if err != nil {
		return err
	}

	var trustedProxies *netipx.IPSet
	if len(o.TrustedProxies) > 0 {
		trustedProxies, err = net.ParseIPCIDRs(o.TrustedProxies)
		if err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
	}

	mo := o.metricsOptions()
	mtr := metrics.NewMetrics(mo)
	defer mtr.Close()

	rt := routing.New(routing.Options{
		DataClient:  dataClient,
		PollTimeout: o.SourcePollTimeout,
		Metrics:     mtr,
	})
	defer rt.Close()

	tracker := stats.NewTracker(stats.Options{
		Metrics:   mtr,
		Observers: []stats.Observer{stats.ObserverFunc(logging.LogTrack)},
	})

	errs := make(chan error, 4)

	var support *http.Server
	if o.SupportListener != "" {
		support = newSupportServer(o, mo, mtr, tracker)
		go func() {
			log.Infof("Support listener on %s", o.SupportListener)
			if err := support.ListenAndServe(); err != http.ErrServerClosed {
				errs <- fmt.Errorf("support listener: %w", err)
			}
		}()
	}

	if o.WaitFirstSnapshotLoad {
		log.Info("Waiting for the first snapshot")
		select {
		case <-rt.FirstLoad():
		case <-sig:
			if support != nil {
				support.Close()
			}

			return nil
		}
	}

	r := router.New(router.Options{Source: rt, Locator: locator})

	l, err := stdlibnet.Listen("tcp", o.Address)
	if err != nil {
		if support != nil {
			support.Close()
		}

		return err
	}

	sl := net.NewShutdownListener(l)
	srv := &http.Server{
		Handler: frontend.NewHTTPHandler(frontend.HTTPOptions{
			Router:            r,
			Tracker:           tracker,
			DefaultHTTPStatus: o.DefaultHTTPStatus,
			TrustedProxies:    trustedProxies,
		}),
		ReadTimeout:       o.ReadTimeoutServer,
		ReadHeaderTimeout: o.ReadHeaderTimeoutServer,
		WriteTimeout:      o.WriteTimeoutServer,
		IdleTimeout:       o.IdleTimeoutServer,
		MaxHeaderBytes:    o.MaxHeaderBytes,
	}

	go func() {
		log.Infof("HTTP frontend on %s", l.Addr())
		if err := srv.Serve(sl); err != http.ErrServerClosed {
			errs <- fmt.Errorf("HTTP frontend: %w", err)
		}
	}()

	ds := newDNSServers(o.DNSAddress, frontend.NewDNSHandler(frontend.DNSOptions{Router: r, Tracker: tracker}))
	for _, s := range ds {
		go func(s *dns.Server) {
			log.Infof("DNS frontend on %s/%s", s.Addr, s.Net)
			if err := s.ListenAndServe(); err != nil {
				errs <- fmt.Errorf("DNS frontend %s: %w", s.Net, err)
			}
		}(s)
	}

	var runErr error
	select {
	case <-sig:
		log.Infof("Got shutdown signal, wait %v for health check", o.WaitForHealthcheckInterval)
		time.Sleep(o.WaitForHealthcheckInterval)
	case runErr = <-errs:
		log.Errorf("Shutting down: %v", runErr)
	}

	log.Info("Start shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	err = srv.Shutdown(ctx)
	err = multierr.Append(err, sl.Shutdown(ctx))
	err = multierr.Append(err, ds.shutdown(ctx))
	if support != nil {
		err = multierr.Append(err, support.Shutdown(ctx))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Failed to shut down gracefully: %v", err)
	}

	log.Info("Shutdown done")
	return runErr
}
