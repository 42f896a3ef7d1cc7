package jsonfile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/trafficrouter/snapshot"
)

// Options of the file data client. Only the router configuration file
// is required.
type Options struct {
	CRConfigFile     string
	CoverageZoneFile string
	SteeringFile     string
	RegionalGeoFile  string
	FederationsFile  string
	StatesFile       string
}

// Documents holds the raw content of the configuration documents. Nil
// documents are not configured.
type Documents struct {
	CRConfig      []byte
	CoverageZones []byte
	Steering      []byte
	RegionalGeo   []byte
	Federations   []byte
	States        []byte
}

// Client loads the snapshot configuration from JSON files. It reports
// an update only when the content of any of the files changed.
type Client struct {
	options Options

	mu     sync.Mutex
	digest uint64
}

// ErrNoCRConfig is returned by New without a router configuration file.
var ErrNoCRConfig = errors.New("missing router configuration file")

// New creates a file data client.
func New(o Options) (*Client, error) {
	if o.CRConfigFile == "" {
		return nil, ErrNoCRConfig
	}

	return &Client{options: o}, nil
}

func (c *Client) read() (Documents, uint64, error) {
	var (
		d   Documents
		err error
	)

	files := []struct {
		name string
		data *[]byte
	}{
		{c.options.CRConfigFile, &d.CRConfig},
		{c.options.CoverageZoneFile, &d.CoverageZones},
		{c.options.SteeringFile, &d.Steering},
		{c.options.RegionalGeoFile, &d.RegionalGeo},
		{c.options.FederationsFile, &d.Federations},
		{c.options.StatesFile, &d.States},
	}

	h := xxhash.New()
	for _, f := range files {
		*f.data, err = readFile(f.name)
		if err != nil {
			return Documents{}, 0, fmt.Errorf("failed to read %s: %w", f.name, err)
		}

		h.WriteString(f.name)
		h.Write(*f.data)
	}

	return d, h.Sum64(), nil
}

// LoadAll reads and parses all the configured files.
func (c *Client) LoadAll() (*snapshot.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, digest, err := c.read()
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(d)
	if err != nil {
		return nil, err
	}

	c.digest = digest
	return cfg, nil
}

// LoadUpdate returns nil when none of the files changed since the last
// successful load.
func (c *Client) LoadUpdate() (*snapshot.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, digest, err := c.read()
	if err != nil {
		return nil, err
	}

	if digest == c.digest {
		return nil, nil
	}

	cfg, err := Parse(d)
	if err != nil {
		return nil, err
	}

	log.Infof("Configuration files changed, digest %x", digest)
	c.digest = digest
	return cfg, nil
}

// Parse converts the documents into a snapshot configuration. It fails
// when any of the documents is structurally invalid, except for the
// regional geo document.
func Parse(d Documents) (*snapshot.Config, error) {
	if d.CRConfig == nil {
		return nil, ErrNoCRConfig
	}

	c := &snapshot.Config{}
	if err := parseCRConfig(d.CRConfig, c); err != nil {
		return nil, err
	}

	parsers := []struct {
		data  []byte
		parse func([]byte, *snapshot.Config) error
	}{
		{d.CoverageZones, parseCoverageZones},
		{d.Steering, parseSteeringDocument},
		{d.Federations, parseFederations},
		{d.States, parseStates},
	}

	for _, p := range parsers {
		if p.data == nil {
			continue
		}

		if err := p.parse(p.data, c); err != nil {
			return nil, err
		}
	}

	if d.RegionalGeo != nil {
		parseRegionalGeo(d.RegionalGeo, c)
	}

	return c, nil
}
