// Package registry holds the route and stub tables the pipeline consults
// to find a match for an incoming request. It is process-wide state, shared
// by reference across every adapter; writes are rare (startup, config
// reload) so lookups use a read-optimised mutex.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrDuplicateRoute is returned by Add* when a route with identical
// method, pattern, and priority already exists.
var ErrDuplicateRoute = errors.New("registry: duplicate route")

// Request is the minimal view of an inbound call a Route predicate needs.
// It mirrors protocol.Request's exported fields without importing the
// protocol package, so predicates can be declared without a cyclic import
// from callers that construct routes before the pipeline exists.
type Request interface {
	Header(name string) (string, bool)
}

// Predicate gates whether a route matches, beyond method+path. Returns
// true if the route should be considered a match for this request.
type Predicate func(req Request) bool

// Route is one entry in a method/pattern table.
type Route struct {
	Method      string
	PathPattern string
	Priority    int
	Metadata    map[string]string
	Predicate   Predicate

	segments     []segment
	literalCount int
	wildcardCost int
	seq          int // insertion order, assigned by the registry
}

type segKind int

const (
	segLiteral segKind = iota
	segParam
	segWildcardOne  // *
	segWildcardMany // **
)

type segment struct {
	kind    segKind
	literal string
	name    string // for segParam
}

// compilePattern parses a route pattern into matchable segments and
// precomputes its specificity inputs (literal count, wildcard cost).
func compilePattern(pattern string) []segment {
	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		switch {
		case p == "**":
			segs = append(segs, segment{kind: segWildcardMany})
		case p == "*":
			segs = append(segs, segment{kind: segWildcardOne})
		case strings.HasPrefix(p, "{") && strings.HasSuffix(p, "}"):
			segs = append(segs, segment{kind: segParam, name: p[1 : len(p)-1]})
		default:
			segs = append(segs, segment{kind: segLiteral, literal: p})
		}
	}
	return segs
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return []string{}
	}
	return strings.Split(trimmed, "/")
}

func specificity(segs []segment) (literalCount, wildcardCost int) {
	for _, s := range segs {
		switch s.kind {
		case segLiteral:
			literalCount++
		case segWildcardMany:
			wildcardCost += 2
		case segWildcardOne:
			wildcardCost++
		}
	}
	return
}

// Match attempts to match path against the route's pattern, returning
// captured {name} params on success.
func (r *Route) Match(path string) (map[string]string, bool) {
	pathSegs := splitPath(path)
	return matchSegments(r.segments, pathSegs)
}

func matchSegments(pattern []segment, path []string) (map[string]string, bool) {
	captures := make(map[string]string)
	var match func(pi, si int) bool
	match = func(pi, si int) bool {
		if pi == len(pattern) {
			return si == len(path)
		}
		seg := pattern[pi]
		if seg.kind == segWildcardMany {
			// ** must be the final pattern segment; greedy suffix,
			// including zero segments.
			for consume := len(path) - si; consume >= 0; consume-- {
				if match(pi+1, si+consume) {
					return true
				}
			}
			return false
		}
		if si >= len(path) {
			return false
		}
		switch seg.kind {
		case segLiteral:
			if path[si] != seg.literal {
				return false
			}
		case segParam:
			captures[seg.name] = path[si]
		case segWildcardOne:
			// matches exactly one non-empty segment; path[si] is always
			// non-empty since splitPath drops empty segments.
		}
		return match(pi+1, si+1)
	}
	if match(0, 0) {
		return captures, true
	}
	return nil, false
}

// matchTopic implements MQTT-style topic matching: '+' matches exactly one
// level, '#' matches the remaining levels (including zero) and must be the
// final filter segment.
func matchTopic(filter, topic string) bool {
	fParts := strings.Split(filter, "/")
	tParts := strings.Split(topic, "/")
	i := 0
	for ; i < len(fParts); i++ {
		if fParts[i] == "#" {
			return true
		}
		if i >= len(tParts) {
			return false
		}
		if fParts[i] != "+" && fParts[i] != tParts[i] {
			return false
		}
	}
	return i == len(tParts)
}

// Stub is a user-supplied override that coexists with generated routes.
// A higher-priority enabled Stub whose Route matches and whose scenario
// gate is satisfied preempts response synthesis.
type Stub struct {
	Route                 Route
	ResponseTemplate      []byte
	RequiredScenarioState string
	NewScenarioState      string
	Enabled               bool
}

// Registry holds per-protocol route/stub tables. All lookups are
// non-failing; an empty slice means "no route". Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	httpRoutes   map[string][]*Route            // method -> routes
	wsRoutes     map[string][]*Route            // path pattern keyed by method=="WS"
	grpcRoutes   map[string]map[string][]*Route // service -> method -> routes
	mqttFixtures []mqttFixture

	stubs []*Stub

	seq int
}

type mqttFixture struct {
	pattern string
	fixture interface{}
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		httpRoutes: make(map[string][]*Route),
		wsRoutes:   make(map[string][]*Route),
		grpcRoutes: make(map[string]map[string][]*Route),
	}
}

func (r *Registry) nextSeq() int {
	r.seq++
	return r.seq
}

func insertOrdered(routes []*Route, route *Route) ([]*Route, error) {
	for _, existing := range routes {
		if existing.PathPattern == route.PathPattern && existing.Priority == route.Priority {
			return nil, ErrDuplicateRoute
		}
	}
	routes = append(routes, route)
	sortRoutes(routes)
	return routes, nil
}

func sortRoutes(routes []*Route) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.literalCount != b.literalCount {
			return a.literalCount > b.literalCount
		}
		if a.wildcardCost != b.wildcardCost {
			return a.wildcardCost < b.wildcardCost
		}
		return a.seq < b.seq
	})
}

func (r *Registry) prepare(route Route) *Route {
	rt := route
	rt.segments = compilePattern(rt.PathPattern)
	rt.literalCount, rt.wildcardCost = specificity(rt.segments)
	rt.seq = r.nextSeq()
	return &rt
}

// AddHTTPRoute registers an HTTP route. Fails with ErrDuplicateRoute only
// when method+pattern+priority match an existing route exactly.
func (r *Registry) AddHTTPRoute(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	method := strings.ToUpper(route.Method)
	rt := r.prepare(route)
	updated, err := insertOrdered(r.httpRoutes[method], rt)
	if err != nil {
		return err
	}
	r.httpRoutes[method] = updated
	return nil
}

// AddWSRoute registers a WebSocket path route.
func (r *Registry) AddWSRoute(route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.prepare(route)
	updated, err := insertOrdered(r.wsRoutes["WS"], rt)
	if err != nil {
		return err
	}
	r.wsRoutes["WS"] = updated
	return nil
}

// AddGrpcRoute registers a route for a gRPC service+method.
func (r *Registry) AddGrpcRoute(service string, route Route) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.prepare(route)
	if r.grpcRoutes[service] == nil {
		r.grpcRoutes[service] = make(map[string][]*Route)
	}
	method := route.Method
	updated, err := insertOrdered(r.grpcRoutes[service][method], rt)
	if err != nil {
		return err
	}
	r.grpcRoutes[service][method] = updated
	return nil
}

// AddMQTTFixture registers a topic-pattern-keyed MQTT fixture.
func (r *Registry) AddMQTTFixture(pattern string, fixture interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mqttFixtures = append(r.mqttFixtures, mqttFixture{pattern: pattern, fixture: fixture})
}

// AddStub registers a user-supplied response override.
func (r *Registry) AddStub(stub *Stub) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stub.Route.segments = compilePattern(stub.Route.PathPattern)
	stub.Route.literalCount, stub.Route.wildcardCost = specificity(stub.Route.segments)
	stub.Route.seq = r.nextSeq()
	r.stubs = append(r.stubs, stub)
	sort.SliceStable(r.stubs, func(i, j int) bool {
		a, b := r.stubs[i].Route, r.stubs[j].Route
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.literalCount != b.literalCount {
			return a.literalCount > b.literalCount
		}
		if a.wildcardCost != b.wildcardCost {
			return a.wildcardCost < b.wildcardCost
		}
		return a.seq < b.seq
	})
	return nil
}

// FindHTTPRoutes returns HTTP routes matching method+path, ordered by
// priority desc, then specificity (more literal segments first, then
// cheaper wildcards), then insertion order asc.
func (r *Registry) FindHTTPRoutes(method, path string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return matchAll(r.httpRoutes[strings.ToUpper(method)], path)
}

// FindWSRoutes returns WS routes matching path.
func (r *Registry) FindWSRoutes(path string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return matchAll(r.wsRoutes["WS"], path)
}

// FindGrpcRoutes returns routes matching a service+method pair.
func (r *Registry) FindGrpcRoutes(service, method string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byMethod := r.grpcRoutes[service]
	if byMethod == nil {
		return nil
	}
	out := make([]*Route, len(byMethod[method]))
	copy(out, byMethod[method])
	return out
}

// FindMQTTFixture returns the first registered fixture whose topic
// pattern matches topic, and all subsequent matches (MQTT allows multiple
// subscribers to receive the same publish).
func (r *Registry) FindMQTTFixture(topic string) []interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []interface{}
	for _, f := range r.mqttFixtures {
		if matchTopic(f.pattern, topic) {
			out = append(out, f.fixture)
		}
	}
	return out
}

// FindStubs returns enabled stubs whose route matches (method, path),
// ordered by priority desc, then specificity (more literal segments
// first, then cheaper wildcards), then insertion order asc. Predicate gating and
// scenario-state gating are evaluated by the caller (the pipeline), since
// the scenario state store lives outside this package.
func (r *Registry) FindStubs(method, path string) []*Stub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Stub
	for _, s := range r.stubs {
		if !s.Enabled {
			continue
		}
		if !strings.EqualFold(s.Route.Method, method) {
			continue
		}
		if _, ok := s.Route.Match(path); ok {
			out = append(out, s)
		}
	}
	return out
}

func matchAll(routes []*Route, path string) []*Route {
	var out []*Route
	for _, rt := range routes {
		if _, ok := rt.Match(path); ok {
			out = append(out, rt)
		}
	}
	return out
}

// GetHTTPRoutes returns all routes registered for method, regardless of path.
func (r *Registry) GetHTTPRoutes(method string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.httpRoutes[strings.ToUpper(method)]
	out := make([]*Route, len(src))
	copy(out, src)
	return out
}

// Clear removes all routes, WS routes, gRPC routes, MQTT fixtures, and stubs.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpRoutes = make(map[string][]*Route)
	r.wsRoutes = make(map[string][]*Route)
	r.grpcRoutes = make(map[string]map[string][]*Route)
	r.mqttFixtures = nil
	r.stubs = nil
}
