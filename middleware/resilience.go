package middleware

import (
	"context"
	"errors"
	"sync"

	"google.golang.org/grpc/codes"

	"github.com/mockforge/mockforge-core/protocol"
	"github.com/mockforge/mockforge-core/resilience"
)

// ResilienceGuardMiddleware wraps response synthesis with a per-endpoint
// circuit breaker and a per-service bulkhead, falling back to Fallback
// when the guard itself rejects the call. It does no retrying of its own;
// the pipeline's terminal handler applies the RetryPolicy inside the
// permit this guard holds. It does not run the terminal handler directly (that
// stays the Chain's job); instead it gates ProcessRequest (consulting the
// breaker/bulkhead before letting the request proceed) and ProcessResponse
// (recording the outcome against the breaker once the terminal response is
// known).
type ResilienceGuardMiddleware struct {
	breakers  *resilience.Manager
	bulkheads *resilience.BulkheadManager
	fallback  resilience.Fallback
	guards    *bulkheadGuardRegistry

	// Service maps a request to the bulkhead key; defaults to the
	// request's operation when nil.
	Service func(req *protocol.Request) string
}

func NewResilienceGuardMiddleware(breakers *resilience.Manager, bulkheads *resilience.BulkheadManager, fallback resilience.Fallback) *ResilienceGuardMiddleware {
	return &ResilienceGuardMiddleware{
		breakers:  breakers,
		bulkheads: bulkheads,
		fallback:  fallback,
		guards:    newBulkheadGuardRegistry(),
	}
}

func (m *ResilienceGuardMiddleware) Name() string { return "resilience_guard" }

func (m *ResilienceGuardMiddleware) SupportsProtocol(protocol.Protocol) bool { return true }

func endpointKey(req *protocol.Request) string {
	return req.Protocol.String() + ":" + req.Operation + ":" + req.Path
}

func (m *ResilienceGuardMiddleware) serviceKey(req *protocol.Request) string {
	if m.Service != nil {
		return m.Service(req)
	}
	return req.Protocol.String() + ":" + req.Operation
}

// guardKey is stamped into request metadata so ProcessResponse can find
// the same breaker ProcessRequest consulted without recomputing it from a
// request that middlewares further down the chain may have mutated.
const guardKey = "x-mockforge-guard-endpoint"

func (m *ResilienceGuardMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error) {
	endpoint := endpointKey(req)
	req.SetHeader(guardKey, endpoint)

	cb := m.breakers.For(endpoint)
	if !cb.AllowRequest() {
		m.guards.storeRejected(req)
		return nil, &ShortCircuit{Response: m.fallbackResponse()}
	}

	bh := m.bulkheads.For(m.serviceKey(req))
	guard, err := bh.TryAcquire(ctx)
	if err != nil {
		if errors.Is(err, resilience.ErrBulkheadRejected) || errors.Is(err, resilience.ErrBulkheadTimeout) {
			m.guards.storeRejected(req)
			return nil, &ShortCircuit{Response: m.fallbackResponse()}
		}
		return nil, err
	}
	m.guards.store(req, guard)

	return req, nil
}

func (m *ResilienceGuardMiddleware) fallbackResponse() *protocol.Response {
	if m.fallback == nil {
		resp := protocol.NewResponse(protocol.NewHTTPStatus(503))
		resp.Body = []byte(`{"error":"circuit_open"}`)
		resp.ContentType = "application/json"
		return resp
	}
	return m.fallback.Handle()
}

func (m *ResilienceGuardMiddleware) ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error) {
	rejected := m.guards.release(req)
	if rejected {
		// The guard itself answered this request (breaker open or
		// bulkhead full); the fallback 503 is not an observed outcome of
		// the endpoint, so it must not count against the breaker: in
		// HalfOpen, recording it as a failure would re-open the breaker
		// on a merely-rejected probe.
		return resp, nil
	}

	endpoint := endpointKey(req)
	cb := m.breakers.For(endpoint)
	if isServerFailure(resp) {
		cb.RecordFailure()
	} else {
		cb.RecordSuccess()
	}
	return resp, nil
}

// isServerFailure reports whether resp should count against the breaker.
// A 404/400-class response reflects the caller's request, not the health
// of whatever response synthesis would have called downstream, so only
// server-side statuses trip the breaker.
func isServerFailure(resp *protocol.Response) bool {
	switch resp.Status.Kind {
	case protocol.HTTPStatus:
		return resp.Status.HTTPCode >= 500
	case protocol.GrpcStatus:
		c := codes.Code(resp.Status.GrpcCode)
		return c == codes.Unavailable || c == codes.Internal || c == codes.DeadlineExceeded || c == codes.DataLoss
	case protocol.WsCode:
		return resp.Status.WsCode == 1011
	case protocol.SmtpCode:
		return resp.Status.SmtpCode >= 450 && resp.Status.SmtpCode < 550
	default:
		return !resp.Status.IsSuccess()
	}
}

// bulkheadGuardRegistry associates the *resilience.Guard acquired in
// ProcessRequest with the request it was acquired for, so ProcessResponse
// (running later, possibly after other middlewares touched req) can
// release the correct permit. Requests are pointer-identity keys, scoped
// to the single in-flight call; the entry is removed on release. One
// registry is owned per ResilienceGuardMiddleware instance, not shared
// process-wide.
type guardState struct {
	guard    *resilience.Guard // nil when the guard rejected the request
	rejected bool
}

type bulkheadGuardRegistry struct {
	mu     sync.Mutex
	guards map[*protocol.Request]guardState
}

func newBulkheadGuardRegistry() *bulkheadGuardRegistry {
	return &bulkheadGuardRegistry{guards: make(map[*protocol.Request]guardState)}
}

func (r *bulkheadGuardRegistry) store(req *protocol.Request, g *resilience.Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[req] = guardState{guard: g}
}

// storeRejected marks the request as answered by the guard itself, so
// ProcessResponse skips breaker bookkeeping for it.
func (r *bulkheadGuardRegistry) storeRejected(req *protocol.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[req] = guardState{rejected: true}
}

// release frees the request's bulkhead permit, if one was held, and
// reports whether the guard had rejected the request.
func (r *bulkheadGuardRegistry) release(req *protocol.Request) bool {
	r.mu.Lock()
	st, ok := r.guards[req]
	if ok {
		delete(r.guards, req)
	}
	r.mu.Unlock()
	if ok && st.guard != nil {
		st.guard.Release()
	}
	return ok && st.rejected
}
