package deliveryservice

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Kind of a request matcher.
type Kind int

const (
	HostKind Kind = iota
	HeaderKind
	PathKind
)

func (k Kind) String() string {
	switch k {
	case HostKind:
		return "HOST"
	case HeaderKind:
		return "HEADER"
	case PathKind:
		return "PATH"
	default:
		return "UNKNOWN"
	}
}

// KindFromString parses the configuration name of a matcher kind.
func KindFromString(s string) (Kind, error) {
	switch strings.ToUpper(s) {
	case "HOST", "HOST_REGEXP":
		return HostKind, nil
	case "HEADER", "HEADER_REGEXP":
		return HeaderKind, nil
	case "PATH", "PATH_REGEXP":
		return PathKind, nil
	default:
		return 0, fmt.Errorf("unknown matcher type: %q", s)
	}
}

// Request holds the attributes of a client request that delivery
// services are matched against. DNS requests only carry the host.
type Request struct {
	Host   string
	Path   string
	Query  string
	Header http.Header
}

// Matcher matches one attribute of a request. Matching is a case
// insensitive regular expression match of the whole value.
type Matcher interface {
	Kind() Kind
	Pattern() string
	Match(*Request) bool
}

type rxMatcher struct {
	pattern string
	rx      *regexp.Regexp
}

func (m rxMatcher) Pattern() string { return m.pattern }

type hostMatcher struct{ rxMatcher }

func (hostMatcher) Kind() Kind { return HostKind }

func (m hostMatcher) Match(r *Request) bool {
	return m.rx.MatchString(r.Host)
}

type headerMatcher struct {
	rxMatcher
	name string
}

func (headerMatcher) Kind() Kind { return HeaderKind }

func (m headerMatcher) Match(r *Request) bool {
	if r.Header == nil {
		return false
	}

	values, ok := r.Header[http.CanonicalHeaderKey(m.name)]
	if !ok {
		return false
	}

	for _, v := range values {
		if m.rx.MatchString(v) {
			return true
		}
	}

	return false
}

func (m headerMatcher) String() string {
	return fmt.Sprintf("HEADER(%s, %q)", m.name, m.pattern)
}

type pathMatcher struct{ rxMatcher }

func (pathMatcher) Kind() Kind { return PathKind }

func (m pathMatcher) Match(r *Request) bool {
	v := r.Path
	if r.Query != "" {
		v += "?" + r.Query
	}

	return m.rx.MatchString(v)
}

// Regexps compiles full-match case insensitive expressions and caches
// them by pattern, so delivery services sharing host patterns share
// the compiled value.
type Regexps map[string]*regexp.Regexp

func (c Regexps) compile(pattern string) (*regexp.Regexp, error) {
	if rx, ok := c[pattern]; ok {
		return rx, nil
	}

	rx, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
	if err != nil {
		return nil, err
	}

	if c != nil {
		c[pattern] = rx
	}

	return rx, nil
}

// NewMatcher creates a matcher of the given kind. Header matchers
// require the header name.
func (c Regexps) NewMatcher(k Kind, pattern, header string) (Matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty %s pattern", k)
	}

	rx, err := c.compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid %s pattern %q: %w", k, pattern, err)
	}

	m := rxMatcher{pattern: pattern, rx: rx}
	switch k {
	case HostKind:
		return hostMatcher{m}, nil
	case HeaderKind:
		if header == "" {
			return nil, fmt.Errorf("header matcher %q without header name", pattern)
		}

		return headerMatcher{rxMatcher: m, name: header}, nil
	case PathKind:
		return pathMatcher{m}, nil
	default:
		return nil, fmt.Errorf("unknown matcher kind: %d", k)
	}
}

// NewMatcher creates a matcher without sharing compiled expressions.
func NewMatcher(k Kind, pattern, header string) (Matcher, error) {
	return Regexps(nil).NewMatcher(k, pattern, header)
}

// MatchSet is a list of matchers that all have to match.
type MatchSet []Matcher

// Match reports whether every matcher matches. An empty set never
// matches.
func (s MatchSet) Match(r *Request) bool {
	if len(s) == 0 {
		return false
	}

	for _, m := range s {
		if !m.Match(r) {
			return false
		}
	}

	return true
}

func matcherKey(m Matcher) string {
	k := m.Pattern() + "\x00" + m.Kind().String()
	if h, ok := m.(headerMatcher); ok {
		k += "\x00" + strings.ToLower(h.name)
	}

	return k
}

func (s MatchSet) keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s))
	for _, m := range s {
		keys[matcherKey(m)] = struct{}{}
	}

	return keys
}

// CompareMatchSets orders two match sets by the matchers only one of
// them contains. The set owning the lexicographically first pattern
// among these compares lower. Sets with the same matchers compare
// equal.
func CompareMatchSets(a, b MatchSet) int {
	ka, kb := a.keys(), b.keys()
	var unique []string
	for k := range ka {
		if _, ok := kb[k]; !ok {
			unique = append(unique, k)
		}
	}

	for k := range kb {
		if _, ok := ka[k]; !ok {
			unique = append(unique, k)
		}
	}

	if len(unique) == 0 {
		return 0
	}

	sort.Strings(unique)
	if _, ok := ka[unique[0]]; ok {
		return -1
	}

	return 1
}
