// Package middleware implements the chain-of-responsibility pipeline stage:
// an ordered list of collaborators that each see the request on the way in
// (forward order) and the response on the way out (reverse order), any of
// which may short-circuit the chain by returning a constructed response.
// Short-circuiting is a typed error carrying a response rather than an
// http.Handler wrapper, since middlewares here run across
// HTTP/WS/gRPC/GraphQL/SMTP/MQTT uniformly.
package middleware

import (
	"context"

	"github.com/mockforge/mockforge-core/protocol"
)

// ShortCircuit is returned by ProcessRequest to stop the forward chain and
// begin unwinding through ProcessResponse immediately, using Response as
// the synthesized response. Middlewares such as the chaos fault injector
// and the resilience guard use this instead of a panic/recover scheme.
type ShortCircuit struct {
	Response *protocol.Response
}

func (s *ShortCircuit) Error() string { return "middleware: short-circuited" }

// Middleware is one stage of the chain. Name is used in logs and metrics
// labels. SupportsProtocol lets a middleware opt out of protocols it has
// nothing to do for (e.g. a bandwidth shaper that only applies to HTTP).
type Middleware interface {
	Name() string
	SupportsProtocol(p protocol.Protocol) bool
	ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error)
	ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error)
}

// Chain runs an ordered list of Middleware. Handler is invoked only when
// every stage's ProcessRequest completes without short-circuiting.
type Chain struct {
	stages []Middleware
}

// NewChain builds a Chain in the given forward order.
func NewChain(stages ...Middleware) *Chain {
	return &Chain{stages: stages}
}

// Handler produces the terminal response once the request has passed
// through every stage's ProcessRequest.
type Handler func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Run executes the chain: ProcessRequest forward across stages that
// support req.Protocol, then either the terminal Handler or a short-circuit
// response, then ProcessResponse in reverse order across the same stages
// that actually ran ProcessRequest.
func (c *Chain) Run(ctx context.Context, req *protocol.Request, handler Handler) (*protocol.Response, error) {
	var ran []Middleware
	var resp *protocol.Response
	var shortCircuited bool

	for _, m := range c.stages {
		if !m.SupportsProtocol(req.Protocol) {
			continue
		}
		ran = append(ran, m)

		next, err := m.ProcessRequest(ctx, req)
		if sc, ok := err.(*ShortCircuit); ok {
			resp = sc.Response
			shortCircuited = true
			break
		}
		if err != nil {
			return nil, err
		}
		req = next
	}

	if !shortCircuited {
		var err error
		resp, err = handler(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	for i := len(ran) - 1; i >= 0; i-- {
		m := ran[i]
		next, err := m.ProcessResponse(ctx, req, resp)
		if err != nil {
			return nil, err
		}
		resp = next
	}

	return resp, nil
}
