package config

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter"
	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
)

type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address           string    `yaml:"address"`
	DNSAddress        string    `yaml:"dns-address"`
	SupportListener   string    `yaml:"support-listener"`
	PrintVersion      bool      `yaml:"version"`
	DefaultHTTPStatus int       `yaml:"default-http-status"`
	TrustedProxies    *listFlag `yaml:"trusted-proxies"`

	// configuration documents:
	CRConfigFile          string `yaml:"crconfig-file"`
	CoverageZoneFile      string `yaml:"coverage-zone-file"`
	SteeringFile          string `yaml:"steering-file"`
	RegionalGeoFile       string `yaml:"regional-geo-file"`
	FederationsFile       string `yaml:"federations-file"`
	StatesFile            string `yaml:"states-file"`
	SourcePollTimeout     int64  `yaml:"source-poll-timeout"`
	WaitFirstSnapshotLoad bool   `yaml:"wait-first-snapshot-load"`

	// geolocation:
	GeolocationFile string              `yaml:"geolocation-file"`
	Geolocation     *geo.LocatorOptions `yaml:"geolocation"`

	// logging, metrics, profiling:
	MetricsListener              string    `yaml:"metrics-listener"`
	MetricsFlavour               *listFlag `yaml:"metrics-flavour"`
	MetricsPrefix                string    `yaml:"metrics-prefix"`
	EnableProfile                bool      `yaml:"enable-profile"`
	DebugGcMetrics               bool      `yaml:"debug-gc-metrics"`
	RuntimeMetrics               bool      `yaml:"runtime-metrics"`
	ResultDetailsMetrics         bool      `yaml:"result-details-metrics"`
	MetricsUseExpDecaySample     bool      `yaml:"metrics-exp-decay-sample"`
	HistogramMetricBucketsString string    `yaml:"histogram-metric-buckets"`
	HistogramMetricBuckets       []float64 `yaml:"-"`
	ApplicationLog               string    `yaml:"application-log"`
	ApplicationLogLevel          log.Level `yaml:"-"`
	ApplicationLogLevelString    string    `yaml:"application-log-level"`
	ApplicationLogPrefix         string    `yaml:"application-log-prefix"`
	ApplicationLogJSONEnabled    bool      `yaml:"application-log-json-enabled"`
	AccessLog                    string    `yaml:"access-log"`
	AccessLogDisabled            bool      `yaml:"access-log-disabled"`
	AccessLogJSONEnabled         bool      `yaml:"access-log-json-enabled"`

	// connections, timeouts:
	WaitForHealthcheckInterval time.Duration `yaml:"wait-for-healthcheck-interval"`
	ReadTimeoutServer          time.Duration `yaml:"read-timeout-server"`
	ReadHeaderTimeoutServer    time.Duration `yaml:"read-header-timeout-server"`
	WriteTimeoutServer         time.Duration `yaml:"write-timeout-server"`
	IdleTimeoutServer          time.Duration `yaml:"idle-timeout-server"`
	MaxHeaderBytes             int           `yaml:"max-header-bytes"`
}

const (
	defaultAddress                 = ":8080"
	defaultSupportListener         = ":9911"
	defaultSourcePollTimeout       = int64(3000)
	defaultMetricsPrefix           = "trafficrouter."
	defaultApplicationLogLevel     = "INFO"
	defaultApplicationLogPrefix    = "[APP]"
	defaultReadTimeoutServer       = 10 * time.Second
	defaultReadHeaderTimeoutServer = 5 * time.Second
	defaultWriteTimeoutServer      = 10 * time.Second
	defaultIdleTimeoutServer       = 60 * time.Second
)

func NewConfig() *Config {
	cfg := new(Config)
	cfg.MetricsFlavour = commaListFlag("codahale", "prometheus", "all")
	cfg.TrustedProxies = commaListFlag()

	flag := flag.NewFlagSet("", flag.ExitOnError)
	flag.StringVar(&cfg.ConfigFile, "config-file", "", "if provided the flags will be loaded/overwritten by the values on the file (yaml)")

	// generic:
	flag.StringVar(&cfg.Address, "address", defaultAddress, "network address of the HTTP frontend")
	flag.StringVar(&cfg.DNSAddress, "dns-address", "", "network address of the DNS frontend, served on UDP and TCP; when empty, DNS is not served")
	flag.StringVar(&cfg.SupportListener, "support-listener", defaultSupportListener, "network address of the metrics, profiling and statistics endpoints; when empty, they are not served")
	flag.BoolVar(&cfg.PrintVersion, "version", false, "print the version and exit")
	flag.IntVar(&cfg.DefaultHTTPStatus, "default-http-status", 503, "status of HTTP requests that could not be routed")
	flag.Var(cfg.TrustedProxies, "trusted-proxies", "comma separated list of CIDRs of the proxies in front of the HTTP frontend; only their X-Forwarded-For header is used as the client address")

	// configuration documents:
	flag.StringVar(&cfg.CRConfigFile, "crconfig-file", "", "router configuration document with the locations, caches and delivery services")
	flag.StringVar(&cfg.CoverageZoneFile, "coverage-zone-file", "", "coverage zone document")
	flag.StringVar(&cfg.SteeringFile, "steering-file", "", "steering document")
	flag.StringVar(&cfg.RegionalGeoFile, "regional-geo-file", "", "regional geo blocking document")
	flag.StringVar(&cfg.FederationsFile, "federations-file", "", "federations document")
	flag.StringVar(&cfg.StatesFile, "states-file", "", "availability states of the caches and delivery services")
	flag.Int64Var(&cfg.SourcePollTimeout, "source-poll-timeout", defaultSourcePollTimeout, "polling interval of the configuration documents in milliseconds")
	flag.BoolVar(&cfg.WaitFirstSnapshotLoad, "wait-first-snapshot-load", false, "start the frontends only after the configuration documents were loaded")

	// geolocation:
	flag.StringVar(&cfg.GeolocationFile, "geolocation-file", "", "JSON table of network prefixes and their geolocation")
	flag.Var(newYamlFlag(&cfg.Geolocation), "geolocation", "geolocation lookup options, e.g. {timeout: 50ms, cache-size: 10000, cache-ttl: 1m, breaker-failures: 10, breaker-timeout: 10s}")

	// logging, metrics, profiling:
	flag.StringVar(&cfg.MetricsListener, "metrics-listener", "", "*Deprecated*: use support-listener")
	flag.Var(cfg.MetricsFlavour, "metrics-flavour", "Metrics flavour is used to change the exposed metrics format. Supported metric formats: 'codahale', 'prometheus' and 'all', you can select both of them by using one option with ',' separated values")
	flag.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "allows setting a custom path prefix for the metrics")
	flag.BoolVar(&cfg.EnableProfile, "enable-profile", false, "enable profile information on the support listener under /debug/pprof")
	flag.BoolVar(&cfg.DebugGcMetrics, "debug-gc-metrics", false, "enables reporting of the Go garbage collector statistics exported in debug.GCStats")
	flag.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", true, "enables reporting of the Go runtime statistics exported in runtime and specifically runtime.MemStats")
	flag.BoolVar(&cfg.ResultDetailsMetrics, "result-details-metrics", false, "enables counting the routing results by their details")
	flag.BoolVar(&cfg.MetricsUseExpDecaySample, "metrics-exp-decay-sample", false, "use exponentially-decaying sample in timers")
	flag.StringVar(&cfg.HistogramMetricBucketsString, "histogram-metric-buckets", "", "use custom buckets for prometheus histograms, must be a comma-separated list of numbers")
	flag.StringVar(&cfg.ApplicationLog, "application-log", "", "output file for the application log. When not set, /dev/stderr is used")
	flag.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", defaultApplicationLogLevel, "log level for application logs, possible values: PANIC, FATAL, ERROR, WARN, INFO, DEBUG")
	flag.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for each log entry")
	flag.BoolVar(&cfg.ApplicationLogJSONEnabled, "application-log-json-enabled", false, "when this flag is set, log in JSON format is used")
	flag.StringVar(&cfg.AccessLog, "access-log", "", "output file for the access log, When not set, /dev/stderr is used")
	flag.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "when this flag is set, no access log is printed")
	flag.BoolVar(&cfg.AccessLogJSONEnabled, "access-log-json-enabled", false, "when this flag is set, log in JSON format is used")

	// connections, timeouts:
	flag.DurationVar(&cfg.WaitForHealthcheckInterval, "wait-for-healthcheck-interval", 0, "period waiting to become unhealthy in the loadbalancer pool in front of the traffic router before shutting down")
	flag.DurationVar(&cfg.ReadTimeoutServer, "read-timeout-server", defaultReadTimeoutServer, "set ReadTimeout for the HTTP frontend")
	flag.DurationVar(&cfg.ReadHeaderTimeoutServer, "read-header-timeout-server", defaultReadHeaderTimeoutServer, "set ReadHeaderTimeout for the HTTP frontend")
	flag.DurationVar(&cfg.WriteTimeoutServer, "write-timeout-server", defaultWriteTimeoutServer, "set WriteTimeout for the HTTP frontend")
	flag.DurationVar(&cfg.IdleTimeoutServer, "idle-timeout-server", defaultIdleTimeoutServer, "set IdleTimeout for the HTTP frontend")
	flag.IntVar(&cfg.MaxHeaderBytes, "max-header-bytes", 1<<20, "set MaxHeaderBytes for the HTTP frontend")

	cfg.Flags = flag
	return cfg
}

func validate(c *Config) error {
	_, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return err
	}

	if c.CRConfigFile == "" {
		return fmt.Errorf("missing crconfig-file")
	}

	if c.DefaultHTTPStatus < 100 || c.DefaultHTTPStatus > 999 {
		return fmt.Errorf("invalid default-http-status: %d", c.DefaultHTTPStatus)
	}

	if c.SourcePollTimeout <= 0 {
		return fmt.Errorf("invalid source-poll-timeout: %d", c.SourcePollTimeout)
	}

	if _, err := net.ParseIPCIDRs(c.TrustedProxies.values); err != nil {
		return fmt.Errorf("invalid trusted-proxies: %w", err)
	}

	_, err = c.parseHistogramBuckets()
	return err
}

func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	err := c.Flags.Parse(args)
	if err != nil {
		return err
	}

	// check if arguments were correctly parsed.
	if len(c.Flags.Args()) != 0 {
		return fmt.Errorf("invalid arguments: %s", c.Flags.Args())
	}

	configKeys := make(map[string]interface{})
	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		err = yaml.Unmarshal(yamlFile, c)
		if err != nil {
			return fmt.Errorf("unmarshalling config file error: %w", err)
		}

		_ = yaml.Unmarshal(yamlFile, configKeys)

		err = c.Flags.Parse(args)
		if err != nil {
			return err
		}
	}

	c.checkDeprecated(configKeys, "metrics-listener")

	if c.PrintVersion {
		return nil
	}

	if err := validate(c); err != nil {
		return err
	}

	c.ApplicationLogLevel, _ = log.ParseLevel(c.ApplicationLogLevelString)
	c.HistogramMetricBuckets, _ = c.parseHistogramBuckets()
	if c.SupportListener == "" && c.MetricsListener != "" {
		c.SupportListener = c.MetricsListener
	}

	return nil
}

func (c *Config) ToOptions() trafficrouter.Options {
	o := trafficrouter.Options{
		Address:         c.Address,
		DNSAddress:      c.DNSAddress,
		SupportListener: c.SupportListener,

		CRConfigFile:          c.CRConfigFile,
		CoverageZoneFile:      c.CoverageZoneFile,
		SteeringFile:          c.SteeringFile,
		RegionalGeoFile:       c.RegionalGeoFile,
		FederationsFile:       c.FederationsFile,
		StatesFile:            c.StatesFile,
		GeolocationFile:       c.GeolocationFile,
		SourcePollTimeout:     time.Duration(c.SourcePollTimeout) * time.Millisecond,
		WaitFirstSnapshotLoad: c.WaitFirstSnapshotLoad,
		DefaultHTTPStatus:     c.DefaultHTTPStatus,
		TrustedProxies:        c.TrustedProxies.values,

		MetricsFlavours:            c.MetricsFlavour.values,
		MetricsPrefix:              c.MetricsPrefix,
		EnableProfile:              c.EnableProfile,
		EnableDebugGcMetrics:       c.DebugGcMetrics,
		EnableRuntimeMetrics:       c.RuntimeMetrics,
		EnableResultDetailsMetrics: c.ResultDetailsMetrics,
		MetricsUseExpDecaySample:   c.MetricsUseExpDecaySample,
		HistogramMetricBuckets:     c.HistogramMetricBuckets,

		ApplicationLogOutput:      c.ApplicationLog,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogLevel:       c.ApplicationLogLevel.String(),
		ApplicationLogJSONEnabled: c.ApplicationLogJSONEnabled,
		AccessLogOutput:           c.AccessLog,
		AccessLogDisabled:         c.AccessLogDisabled,
		AccessLogJSONEnabled:      c.AccessLogJSONEnabled,

		ReadTimeoutServer:          c.ReadTimeoutServer,
		ReadHeaderTimeoutServer:    c.ReadHeaderTimeoutServer,
		WriteTimeoutServer:         c.WriteTimeoutServer,
		IdleTimeoutServer:          c.IdleTimeoutServer,
		MaxHeaderBytes:             c.MaxHeaderBytes,
		WaitForHealthcheckInterval: c.WaitForHealthcheckInterval,
	}

	if c.Geolocation != nil {
		o.Geolocation = *c.Geolocation
	}

	return o
}

func (c *Config) parseHistogramBuckets() ([]float64, error) {
	if c.HistogramMetricBucketsString == "" {
		return prometheus.DefBuckets, nil
	}

	var result []float64
	thresholds := strings.Split(c.HistogramMetricBucketsString, ",")
	for _, v := range thresholds {
		bucket, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("unable to parse histogram-metric-buckets: %w", err)
		}
		result = append(result, bucket)
	}
	sort.Float64s(result)
	return result, nil
}

func (c *Config) checkDeprecated(configKeys map[string]interface{}, options ...string) {
	flagKeys := make(map[string]bool)
	c.Flags.Visit(func(f *flag.Flag) { flagKeys[f.Name] = true })

	for _, name := range options {
		_, ck := configKeys[name]
		_, fk := flagKeys[name]
		if ck || fk {
			f := c.Flags.Lookup(name)
			log.Warnf("%s: %s", f.Name, f.Usage)
		}
	}
}
