package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/middleware"
	"github.com/mockforge/mockforge-core/protocol"
	"github.com/mockforge/mockforge-core/recorder"
	"github.com/mockforge/mockforge-core/registry"
	"github.com/mockforge/mockforge-core/resilience"
)

// fakeSpecs is a minimal SpecRegistry stand-in so tests don't depend on
// internal/spec.
type fakeSpecs struct {
	echo      bool
	generated int
}

func (f *fakeSpecs) Operations(protocol.Protocol) []string { return nil }

func (f *fakeSpecs) FindOperation(p protocol.Protocol, operation, path string) bool {
	return operation == "POST" && path == "/echo"
}

func (f *fakeSpecs) ValidateRequest(req *protocol.Request) ValidationResult {
	return ValidationResult{Valid: true}
}

func (f *fakeSpecs) GenerateMockResponse(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	f.generated++
	resp := protocol.NewResponse(protocol.NewHTTPStatus(200))
	resp.ContentType = "application/json"
	resp.Body = req.Body
	return resp, nil
}

func newTestPipeline(t *testing.T, fixturesDir string) (*Pipeline, *registry.Registry, *resilience.Manager) {
	t.Helper()

	reg := registry.New()
	scenarios := chaos.NewScenarioEngine(chaos.Config{}, nil)
	latency := chaos.NewLatencyEngine(chaos.LatencyConfig{})
	faults := chaos.NewFaultInjector(chaos.FaultConfig{})
	shaper := chaos.NewTrafficShaper(chaos.TrafficShapingConfig{})

	// An empty fixturesDir leaves the record/replay stage without a store,
	// so every request reaches stub matching and the guard.
	var store *recorder.Store
	if fixturesDir != "" {
		store = recorder.New(fixturesDir)
	}
	recordReplay := middleware.NewRecordReplayMiddleware(store, true, true)

	breakers := resilience.NewManager(resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		TimeoutMS:        100,
	})
	bulkheads := resilience.NewBulkheadManager(resilience.BulkheadConfig{
		MaxConcurrent:  10,
		MaxQueue:       10,
		QueueTimeoutMS: 1000,
	})
	fallback := resilience.NewJSONFallbackHandler(map[string]string{"error": "circuit_open"}, protocol.NewHTTPStatus(503))

	metricsReg := prometheus.NewRegistry()
	logging := middleware.NewLoggingMiddleware(zerolog.Nop())
	metrics := middleware.NewMetricsMiddleware(metricsReg)

	retry := resilience.RetryPolicy{MaxAttempts: 1}

	p := New(reg, scenarios, nil, latency, faults, shaper, recordReplay, breakers, bulkheads, fallback, retry, logging, metrics, &fakeSpecs{}, NewMemoryStateStore())
	return p, reg, breakers
}

func TestPipeline_StubPriorityWins(t *testing.T) {
	// Record/replay off: /users/42 and /users/7 share the fingerprint path
	// template /users/:id, so with replay on the second request would be
	// answered from the first request's fixture before stub matching.
	p, reg, _ := newTestPipeline(t, "")

	require.NoError(t, reg.AddStub(&registry.Stub{
		Route: registry.Route{
			Method:      "GET",
			PathPattern: "/users/{id}",
			Priority:    0,
		},
		ResponseTemplate: []byte(`{"source":"generic"}`),
		Enabled:          true,
	}))
	require.NoError(t, reg.AddStub(&registry.Stub{
		Route: registry.Route{
			Method:      "GET",
			PathPattern: "/users/42",
			Priority:    10,
		},
		ResponseTemplate: []byte(`{"source":"specific"}`),
		Enabled:          true,
	}))

	req := protocol.NewRequest(protocol.HTTP, "GET", "/users/42")
	resp, err := p.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"specific"}`, string(resp.Body))

	req2 := protocol.NewRequest(protocol.HTTP, "GET", "/users/7")
	resp2, err := p.Handle(context.Background(), req2)
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"generic"}`, string(resp2.Body))
}

func TestPipeline_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	// Record/replay off: otherwise the fallback 503 would be recorded and
	// replayed for the half-open probe below.
	p, reg, breakers := newTestPipeline(t, "")

	require.NoError(t, reg.AddStub(&registry.Stub{
		Route: registry.Route{
			Method:      "GET",
			PathPattern: "/unstable",
			Priority:    0,
		},
		ResponseTemplate: []byte(`{"error":"boom"}`),
		Enabled:          true,
	}))

	// renderStub always returns a 200 in this harness; force failures by
	// driving the breaker for this endpoint directly, the way three
	// consecutive downstream 5xx responses would.
	endpoint := "http:GET:/unstable"
	cb := breakers.For(endpoint)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, resilience.Open, cb.CurrentState())

	req := protocol.NewRequest(protocol.HTTP, "GET", "/unstable")
	resp, err := p.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 503, resp.Status.HTTPCode)
	assert.JSONEq(t, `{"error":"circuit_open"}`, string(resp.Body))

	// Once TimeoutMS (100ms) has passed, the next AllowRequest call flips to
	// half-open and lets a probe through; a success there closes the breaker.
	time.Sleep(110 * time.Millisecond)
	req2 := protocol.NewRequest(protocol.HTTP, "GET", "/unstable")
	resp2, err := p.Handle(context.Background(), req2)
	require.NoError(t, err)
	assert.Equal(t, 200, resp2.Status.HTTPCode)
	assert.Equal(t, resilience.Closed, cb.CurrentState())
}

func TestPipeline_RecordReplayRoundTrip(t *testing.T) {
	p, _, _ := newTestPipeline(t, t.TempDir())

	echoReq := protocol.NewRequest(protocol.HTTP, "POST", "/echo")
	echoReq.Body = []byte(`{"hello":"world"}`)
	echoReq.Metadata["Content-Type"] = "application/json"

	first, err := p.Handle(context.Background(), echoReq)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(first.Body))

	// Same request, replayed: must come back byte-identical via the
	// fixture store rather than by re-invoking GenerateMockResponse.
	replay := protocol.NewRequest(protocol.HTTP, "POST", "/echo")
	replay.Body = []byte(`{"hello":"world"}`)
	replay.Metadata["Content-Type"] = "application/json"

	second, err := p.Handle(context.Background(), replay)
	require.NoError(t, err)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, p.Specs.(*fakeSpecs).generated,
		"second identical request must be satisfied from the fixture, not re-synthesized")

	// A different body fingerprints differently, so it isn't satisfied by
	// the recorded fixture and falls through to synthesis again (spec's
	// operation still matches, so it succeeds, not RouteNotFound, since
	// /echo accepts any body).
	differentBody := protocol.NewRequest(protocol.HTTP, "POST", "/echo")
	differentBody.Body = []byte(`{"different":"payload"}`)
	third, err := p.Handle(context.Background(), differentBody)
	require.NoError(t, err)
	assert.JSONEq(t, `{"different":"payload"}`, string(third.Body))

	// A request to an operation the spec registry doesn't know at all
	// produces RouteNotFound.
	unknown := protocol.NewRequest(protocol.HTTP, "POST", "/does-not-exist")
	resp, err := p.Handle(context.Background(), unknown)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.Status.HTTPCode)
}

func TestPipeline_ResponseHooks(t *testing.T) {
	p, _, _ := newTestPipeline(t, t.TempDir())

	var observed []*protocol.Response
	p.PostResponse = func(_ context.Context, _ *protocol.Request, resp *protocol.Response) {
		observed = append(observed, resp)
	}

	req := protocol.NewRequest(protocol.HTTP, "POST", "/echo")
	req.Body = []byte(`{"n":1}`)
	resp, err := p.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, observed, 1)
	assert.Same(t, resp, observed[0])

	// A pre-response hook answers the request outright: the chain (and
	// with it the spec registry) never runs, and the post hook still sees
	// the emitted response.
	canned := protocol.NewResponse(protocol.NewHTTPStatus(418))
	canned.Body = []byte(`{"teapot":true}`)
	p.PreResponse = func(_ context.Context, _ *protocol.Request) *protocol.Response {
		return canned
	}

	unknown := protocol.NewRequest(protocol.HTTP, "GET", "/anything")
	resp, err = p.Handle(context.Background(), unknown)
	require.NoError(t, err)
	assert.Same(t, canned, resp)
	require.Len(t, observed, 2)
	assert.Same(t, canned, observed[1])
}
