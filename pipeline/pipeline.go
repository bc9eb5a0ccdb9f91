// Package pipeline binds the registry, fingerprint store, chaos engine,
// resilience primitives, and middleware chain into the single
// Handle(ctx, request) -> response entry point every protocol adapter
// calls: one constructor assembling every subsystem and returning a
// struct with its dependencies as exported fields so a host binary (or a
// protocol adapter package) can reach in and extend it.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/middleware"
	"github.com/mockforge/mockforge-core/protocol"
	"github.com/mockforge/mockforge-core/registry"
	"github.com/mockforge/mockforge-core/resilience"
)

var tracer = otel.Tracer("github.com/mockforge/mockforge-core/pipeline")

// Pipeline is the protocol-agnostic request fabric: every adapter decodes
// wire bytes into a protocol.Request, calls Handle, and encodes the
// returned protocol.Response back onto the wire.
type Pipeline struct {
	Registry  *registry.Registry
	Scenarios *chaos.ScenarioEngine
	RateLimit *chaos.RateLimiter
	Breakers  *resilience.Manager
	Bulkheads *resilience.BulkheadManager

	Specs  SpecRegistry
	States ScenarioStateStore

	// PreResponse and PostResponse are optional collaborator hooks
	// (analytics, AI-assisted generation: subsystems this core treats as
	// consumers, not parts). PreResponse runs after rate limiting and may
	// answer the request outright by returning a non-nil response;
	// PostResponse observes every emitted response. Both are nil unless a
	// host binary reaches in and sets them.
	PreResponse  func(ctx context.Context, req *protocol.Request) *protocol.Response
	PostResponse func(ctx context.Context, req *protocol.Request, resp *protocol.Response)

	retry resilience.RetryPolicy
	chain *middleware.Chain
}

// New builds a Pipeline from its already-constructed collaborators and
// the fixed middleware chain order: Logging,
// Metrics, Latency, Chaos, RecordReplay, ResilienceGuard in forward
// (request) order, unwinding in reverse on the response path. Latency is
// registered ahead of Chaos/RecordReplay so it applies even when one of
// those later stages short-circuits the chain (those stages never see
// ProcessRequest once an earlier stage has already short-circuited),
// keeping injected latency unconditional once rate limiting (handled
// outside the chain, see Handle) has already let the request through.
// ResilienceGuard is registered last, immediately before the terminal
// handler: it guards only response synthesis itself, so a request that a
// cheaper earlier stage (chaos, replay) already answered never touches
// the breaker or bulkhead at all, and its ProcessResponse is the first to
// see the handler's raw outcome, unit-by-unit with retry's one combined
// success/failure per call (see retryingDispatch).
func New(
	reg *registry.Registry,
	scenarios *chaos.ScenarioEngine,
	rateLimit *chaos.RateLimiter,
	latency *chaos.LatencyEngine,
	faults *chaos.FaultInjector,
	shaper *chaos.TrafficShaper,
	recordReplay *middleware.RecordReplayMiddleware,
	breakers *resilience.Manager,
	bulkheads *resilience.BulkheadManager,
	fallback resilience.Fallback,
	retry resilience.RetryPolicy,
	logging *middleware.LoggingMiddleware,
	metrics *middleware.MetricsMiddleware,
	specs SpecRegistry,
	states ScenarioStateStore,
) *Pipeline {
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool {
			_, ok := err.(*InternalError)
			return ok
		}
	}

	chain := middleware.NewChain(
		logging,
		metrics,
		middleware.NewLatencyMiddleware(latency, scenarios),
		middleware.NewChaosMiddleware(scenarios, faults, shaper),
		recordReplay,
		middleware.NewResilienceGuardMiddleware(breakers, bulkheads, fallback),
	)

	return &Pipeline{
		Registry:  reg,
		Scenarios: scenarios,
		RateLimit: rateLimit,
		Breakers:  breakers,
		Bulkheads: bulkheads,
		Specs:     specs,
		States:    states,
		retry:     retry,
		chain:     chain,
	}
}

// Handle runs a decoded request through the full pipeline: rate limiting
// (the cheapest rejection, applied before any other work), then the
// middleware chain, whose terminal handler performs stub matching and,
// failing that, spec-driven route match and response synthesis. Handle
// never returns a raw error for a request the pipeline itself rejected;
// those become protocol-appropriate responses. It returns an error only
// if a middleware returned one that isn't a recognized pipeline error
// (treated as InternalError) or ctx was canceled outright.
func (p *Pipeline) Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ctx, span := tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("protocol", req.Protocol.String()),
		attribute.String("operation", req.Operation),
		attribute.String("path", req.Path),
	))
	defer span.End()

	if p.RateLimit != nil {
		key := p.RateLimit.Key(req.ClientIP, req.Operation+" "+req.Path)
		if !p.RateLimit.Allow(key) {
			if p.Scenarios != nil {
				p.Scenarios.Observe(chaos.ChaosEvent{
					Kind:   "rate_limit_exceeded",
					Detail: "client_ip=" + req.ClientIP + " endpoint=" + req.Path,
				})
			}
			resp := rateLimitResponse(req.Protocol)
			p.emit(ctx, req, resp)
			return resp, nil
		}
	}

	if p.PreResponse != nil {
		if resp := p.PreResponse(ctx, req); resp != nil {
			log.Debug().Str("operation", req.Operation).Str("path", req.Path).
				Msg("pipeline: pre-response hook answered request")
			p.emit(ctx, req, resp)
			return resp, nil
		}
	}

	resp, err := p.runChain(ctx, req)
	if err != nil {
		resp = toResponse(req.Protocol, err)
	}
	p.emit(ctx, req, resp)
	return resp, nil
}

func (p *Pipeline) emit(ctx context.Context, req *protocol.Request, resp *protocol.Response) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("status", resp.Status.AsCode()))
	if p.PostResponse != nil {
		p.PostResponse(ctx, req, resp)
	}
}

// runChain invokes the middleware chain with panic isolation: a panic in a
// user-supplied predicate or spec generator is recovered and converted to
// an InternalError rather than aborting the process.
func (p *Pipeline) runChain(ctx context.Context, req *protocol.Request) (resp *protocol.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie := newInternalError(fmt.Errorf("panic: %v", r))
			log.Error().Str("id", ie.ID).Interface("panic", r).Msg("pipeline: recovered panic")
			resp, err = nil, ie
		}
	}()
	return p.chain.Run(ctx, req, p.retryingDispatch)
}

// retryingDispatch wraps dispatch with the pipeline's RetryPolicy: the
// classifier (see New) only retries InternalError, so a stub hit,
// RouteNotFoundError, or ValidationFailedError returns on the first
// attempt. Wrapping at this level means retries happen inside the single
// ResilienceGuard bulkhead permit acquired for the call, rather than
// re-acquiring it per attempt.
//
// A dispatch error that survives every retry is converted to its
// protocol-appropriate response here, never returned as a Go error: Chain.Run
// only unwinds ProcessResponse across the stages that ran when its handler
// succeeds, so an error escaping this far would skip ResilienceGuard's
// bulkhead release and breaker bookkeeping for a perfectly ordinary
// RouteNotFound/ValidationFailed outcome.
func (p *Pipeline) retryingDispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	var resp *protocol.Response
	err := p.retry.Execute(ctx, func(ctx context.Context) error {
		r, err := p.dispatch(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return toResponse(req.Protocol, err), nil
	}
	return resp, nil
}

// dispatch is the terminal handler: stub match first (highest priority
// enabled stub whose predicate and scenario-state gate are satisfied wins
// and may transition scenario state), else spec-driven route match and
// response synthesis.
func (p *Pipeline) dispatch(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	if stub := p.matchStub(req); stub != nil {
		return renderStub(req.Protocol, stub), nil
	}

	if p.Specs == nil || !p.Specs.FindOperation(req.Protocol, req.Operation, req.Path) {
		return nil, &RouteNotFoundError{Protocol: req.Protocol, Operation: req.Operation, Path: req.Path}
	}

	if vr := p.Specs.ValidateRequest(req); !vr.Valid {
		return nil, &ValidationFailedError{Details: vr.Errors}
	}

	resp, err := p.Specs.GenerateMockResponse(ctx, req)
	if err != nil {
		return nil, newInternalError(err)
	}
	return resp, nil
}

// matchStub finds the highest-priority enabled stub matching (operation,
// path) whose predicate (if any) and required scenario state (if any) are
// satisfied, transitioning scenario state on a match per its
// NewScenarioState.
func (p *Pipeline) matchStub(req *protocol.Request) *registry.Stub {
	for _, s := range p.Registry.FindStubs(req.Operation, req.Path) {
		name := s.Route.Metadata["scenario"]
		if name == "" {
			name = "default"
		}
		if s.Route.Predicate != nil && !s.Route.Predicate(req) {
			continue
		}
		if s.RequiredScenarioState != "" {
			if p.States == nil || p.States.GetState(name) != s.RequiredScenarioState {
				continue
			}
		}
		if s.NewScenarioState != "" && p.States != nil {
			p.States.SetState(name, s.NewScenarioState)
		}
		return s
	}
	return nil
}

func renderStub(p protocol.Protocol, s *registry.Stub) *protocol.Response {
	code := 200
	if raw, ok := s.Route.Metadata["status"]; ok {
		fmt.Sscanf(raw, "%d", &code)
	}
	resp := protocol.NewResponse(protocol.StatusForCode(p, int64(code)))
	resp.Body = s.ResponseTemplate
	if ct, ok := s.Route.Metadata["content_type"]; ok {
		resp.ContentType = ct
	} else {
		resp.ContentType = "application/json"
	}
	return resp
}

func rateLimitResponse(p protocol.Protocol) *protocol.Response {
	return statusOnlyResponse(p, 429, int32(codes.ResourceExhausted), `{"error":"rate_limited"}`)
}
