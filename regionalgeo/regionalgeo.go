/*
Package regionalgeo enforces per delivery service access rules based on
the postal code or coordinates of the client.

A rule applies to the request URLs matching its regular expression. A
client inside the rule's IP whitelist is always allowed. Otherwise the
forward sortation area of the postal code, its first three characters,
is checked against the include or the exclude list of the rule. Clients
without a usable postal code are checked against the coordinate ranges
of the rule.

A denied client is redirected to the alternate URL of the rule. An
absolute alternate URL is used as is. A relative one is a path on the
cache selected for the request.

When the rules could not be built, the enforcer is in fallback mode and
denies every request.
*/
package regionalgeo

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"go4.org/netipx"

	"github.com/zalando/trafficrouter/geo"
	"github.com/zalando/trafficrouter/net"
)

// DeniedStatus is the HTTP status of denied requests.
const DeniedStatus = 520

const fsaLength = 3

// PostalsType tells how the postal list of a rule is applied.
type PostalsType int

const (
	Undefined PostalsType = iota
	Include
	Exclude
)

func (t PostalsType) String() string {
	switch t {
	case Include:
		return "INCLUDE"
	case Exclude:
		return "EXCLUDE"
	default:
		return "UNDEFINED"
	}
}

// ResultType is the outcome of the enforcement.
type ResultType int

const (
	Denied ResultType = iota
	Allowed
	AlternateWithCache
	AlternateWithoutCache
)

func (t ResultType) String() string {
	switch t {
	case Allowed:
		return "ALLOWED"
	case AlternateWithCache:
		return "ALTERNATE_WITH_CACHE"
	case AlternateWithoutCache:
		return "ALTERNATE_WITHOUT_CACHE"
	default:
		return "DENIED"
	}
}

// CoordinateRange is a latitude and longitude box allowing clients
// without postal code.
type CoordinateRange struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (r CoordinateRange) valid() bool {
	return r.MinLat >= -90 && r.MinLat <= 90 &&
		r.MaxLat >= -90 && r.MaxLat <= 90 &&
		r.MinLon >= -180 && r.MinLon <= 180 &&
		r.MaxLon >= -180 && r.MaxLon <= 180
}

func (r CoordinateRange) contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// RuleConfig is the configuration of a single rule. A nil postal list
// means the list is not configured. IncludePostalCodes takes precedence
// over ExcludePostalCodes.
type RuleConfig struct {
	DeliveryService    string
	URLRegex           string
	AlternateURL       string
	SteeringDS         bool
	IncludePostalCodes []string
	ExcludePostalCodes []string
	Whitelist          []string
	CoordinateRanges   []CoordinateRange
}

// Rule is a compiled regional geo rule.
type Rule struct {
	deliveryService  string
	pattern          string
	rx               *regexp.Regexp
	postalsType      PostalsType
	postals          map[string]struct{}
	whitelist        *netipx.IPSet
	alternateURL     string
	coordinateRanges []CoordinateRange
}

func (r *Rule) String() string {
	return fmt.Sprintf("RegionalGeoRule[%s, %q, %s]", r.deliveryService, r.pattern, r.postalsType)
}

type invalidRuleError struct {
	deliveryService string
	reason          string
}

func (e invalidRuleError) Error() string {
	return fmt.Sprintf("invalid regional geo rule for %q: %s", e.deliveryService, e.reason)
}

func isAbsolute(u string) bool {
	l := strings.ToLower(u)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

func newRule(c RuleConfig) (*Rule, error) {
	invalid := func(format string, args ...any) error {
		return invalidRuleError{deliveryService: c.DeliveryService, reason: fmt.Sprintf(format, args...)}
	}

	if strings.TrimSpace(c.DeliveryService) == "" {
		return nil, invalid("missing delivery service id")
	}

	if strings.TrimSpace(c.URLRegex) == "" {
		return nil, invalid("missing url regex")
	}

	if strings.TrimSpace(c.AlternateURL) == "" {
		return nil, invalid("missing redirect url")
	}

	rx, err := regexp.Compile("(?i)^(?:" + c.URLRegex + ")$")
	if err != nil {
		return nil, invalid("failed to compile url regex %q: %v", c.URLRegex, err)
	}

	absolute := isAbsolute(c.AlternateURL)
	if absolute && rx.MatchString(c.AlternateURL) {
		return nil, invalid("redirect url %s matches url regex %q, loop detected", c.AlternateURL, c.URLRegex)
	}

	if c.SteeringDS && !absolute {
		return nil, invalid("redirect url of a steering delivery service must be absolute: %s", c.AlternateURL)
	}

	r := &Rule{
		deliveryService: c.DeliveryService,
		pattern:         c.URLRegex,
		rx:              rx,
		alternateURL:    c.AlternateURL,
		postals:         make(map[string]struct{}),
	}

	var postals []string
	switch {
	case c.IncludePostalCodes != nil:
		r.postalsType, postals = Include, c.IncludePostalCodes
	case c.ExcludePostalCodes != nil:
		r.postalsType, postals = Exclude, c.ExcludePostalCodes
	default:
		return nil, invalid("no include or exclude postal codes")
	}

	for _, p := range postals {
		r.postals[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
	}

	if len(c.Whitelist) > 0 {
		r.whitelist, err = net.ParseIPCIDRs(c.Whitelist)
		if err != nil {
			return nil, invalid("invalid whitelist: %v", err)
		}
	}

	for _, cr := range c.CoordinateRanges {
		if !cr.valid() {
			log.Errorf("Ignoring invalid coordinate range of regional geo rule %s: %+v", r, cr)
			continue
		}

		r.coordinateRanges = append(r.coordinateRanges, cr)
	}

	return r, nil
}

func (r *Rule) match(url string) bool {
	return r.rx.MatchString(url)
}

func (r *Rule) whitelisted(addr netip.Addr) bool {
	return r.whitelist != nil && addr.IsValid() && r.whitelist.Contains(addr.Unmap())
}

func (r *Rule) allowedPostal(fsa string) bool {
	_, listed := r.postals[fsa]
	if r.postalsType == Include {
		return listed
	}

	return !listed
}

func (r *Rule) allowedCoordinates(lat, lon float64) bool {
	for _, cr := range r.coordinateRanges {
		if cr.contains(lat, lon) {
			return true
		}
	}

	return false
}

// Result of the enforcement.
type Result struct {
	Type ResultType

	// URL is the requested URL when allowed, or the alternate URL. A
	// relative alternate URL always starts with a slash.
	URL string

	// Postal is the forward sortation area used for the decision.
	Postal string

	RuleType           PostalsType
	AllowedByWhitelist bool
	UsingFallback      bool

	// HTTPStatus is set for denied requests.
	HTTPStatus int
}

// WithoutCache adapts the result to responses that are not bound to a
// single cache. Relative alternate URLs cannot be served then, and are
// denied.
func (r Result) WithoutCache() Result {
	if r.Type == AlternateWithCache {
		r.Type = Denied
		r.URL = ""
		r.HTTPStatus = DeniedStatus
	}

	return r
}

// Enforcer holds the rules of all delivery services.
type Enforcer struct {
	rules    map[string][]*Rule
	fallback bool
}

// Fallback returns an enforcer denying every request.
func Fallback() *Enforcer {
	return &Enforcer{fallback: true}
}

// ErrFallback is reported together with the rule errors when the
// enforcer falls back to deny every request.
var ErrFallback = errors.New("regional geo enforcement in fallback mode")

// New compiles the rules. When any of the rules is invalid, it returns
// a fallback enforcer together with the errors.
func New(configs []RuleConfig) (*Enforcer, error) {
	e := &Enforcer{rules: make(map[string][]*Rule)}
	var errs error
	for _, c := range configs {
		r, err := newRule(c)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		e.rules[r.deliveryService] = append(e.rules[r.deliveryService], r)
	}

	if errs != nil {
		return Fallback(), multierr.Append(ErrFallback, errs)
	}

	return e, nil
}

// IsFallback reports whether the enforcer denies every request.
func (e *Enforcer) IsFallback() bool {
	return e == nil || e.fallback
}

// Len returns the number of rules.
func (e *Enforcer) Len() int {
	if e == nil {
		return 0
	}

	var n int
	for _, rs := range e.rules {
		n += len(rs)
	}

	return n
}

func (e *Enforcer) matchRule(ds, url string) *Rule {
	if e == nil {
		return nil
	}

	for _, r := range e.rules[ds] {
		if r.match(url) {
			return r
		}
	}

	return nil
}

// Enforce applies the first rule of the delivery service matching the
// requested URL. Without a matching rule the request is denied.
func (e *Enforcer) Enforce(ds, url string, client netip.Addr, location *geo.Geolocation) Result {
	result := Result{UsingFallback: e.IsFallback()}

	var lat, lon float64
	if location != nil {
		result.Postal = location.PostalCode
		if len(location.PostalCode) >= fsaLength {
			result.Postal = strings.ToUpper(location.PostalCode[:fsaLength])
		} else {
			lat, lon = location.Latitude, location.Longitude
		}
	}

	rule := e.matchRule(ds, url)
	if rule == nil {
		log.Debugf("Regional geo denied, no rule for %s and %s", ds, url)
		result.Type = Denied
		result.HTTPStatus = DeniedStatus
		return result
	}

	result.RuleType = rule.postalsType

	var allowed bool
	switch {
	case rule.whitelisted(client):
		allowed = true
		result.AllowedByWhitelist = true
	case len(result.Postal) < fsaLength:
		allowed = rule.allowedCoordinates(lat, lon)
	default:
		allowed = rule.allowedPostal(result.Postal)
	}

	switch {
	case allowed:
		result.Type = Allowed
		result.URL = url
	case isAbsolute(rule.alternateURL):
		result.Type = AlternateWithoutCache
		result.URL = rule.alternateURL
	default:
		result.Type = AlternateWithCache
		result.URL = rule.alternateURL
		if !strings.HasPrefix(result.URL, "/") {
			result.URL = "/" + result.URL
		}
	}

	return result
}
