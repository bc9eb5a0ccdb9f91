// Package spec provides an in-memory pipeline.SpecRegistry, standing in for
// the full OpenAPI/AsyncAPI/proto-backed registry a production deployment
// would plug in. An Operation pairs a matcher half (method, path, required
// headers/body fields) with a response half (status, headers, body
// template), kept as one flat struct since this collaborator only needs to
// satisfy tests and the demo binary, not author a full mock-definition
// format.
package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mockforge/mockforge-core/pipeline"
	"github.com/mockforge/mockforge-core/protocol"
)

// Operation describes one spec-driven endpoint: the match criteria the
// registry uses to decide FindOperation, the fields ValidateRequest
// requires present in a JSON body, and the canned response
// GenerateMockResponse returns.
type Operation struct {
	Protocol protocol.Protocol
	Method   string // HTTP verb / gRPC method name / WS op
	Path     string // exact path; Registry.FindStubs-style pattern matching is the caller's job upstream

	RequiredHeaders    []string
	RequiredBodyFields []string

	Status      int64
	Headers     map[string]string
	ContentType string

	// Body is returned verbatim unless Echo is set, in which case the
	// request body is mirrored back instead, used by the record/replay
	// round-trip tests (an /echo operation with no fixed response shape).
	Body []byte
	Echo bool
}

func (op Operation) key() string {
	return op.Protocol.String() + " " + op.Method + " " + op.Path
}

// Registry is an in-memory SpecRegistry keyed by (protocol, method, path).
type Registry struct {
	mu         sync.RWMutex
	operations map[string]Operation
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{operations: make(map[string]Operation)}
}

// Add registers an operation, overwriting any existing one with the same
// protocol/method/path.
func (r *Registry) Add(op Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op.key()] = op
}

// Operations lists the method+path of every registered operation for p, in
// no particular order.
func (r *Registry) Operations(p protocol.Protocol) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, op := range r.operations {
		if op.Protocol == p {
			out = append(out, op.Method+" "+op.Path)
		}
	}
	return out
}

// FindOperation reports whether an operation matching p/operation/path is
// registered.
func (r *Registry) FindOperation(p protocol.Protocol, operation, path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.operations[Operation{Protocol: p, Method: operation, Path: path}.key()]
	return ok
}

// ValidateRequest checks the request's headers and, for bodies that parse
// as a JSON object, its required top-level fields. A request for an
// operation this registry doesn't know about is treated as valid; the
// caller already handles that case via FindOperation before reaching here.
func (r *Registry) ValidateRequest(req *protocol.Request) pipeline.ValidationResult {
	r.mu.RLock()
	op, ok := r.operations[Operation{Protocol: req.Protocol, Method: req.Operation, Path: req.Path}.key()]
	r.mu.RUnlock()
	if !ok {
		return pipeline.ValidationResult{Valid: true}
	}

	var errs []string
	for _, h := range op.RequiredHeaders {
		if _, present := req.Header(h); !present {
			errs = append(errs, fmt.Sprintf("missing required header %q", h))
		}
	}

	if len(op.RequiredBodyFields) > 0 {
		var parsed map[string]json.RawMessage
		if err := json.Unmarshal(req.Body, &parsed); err != nil {
			errs = append(errs, "body must be a JSON object")
		} else {
			for _, f := range op.RequiredBodyFields {
				if _, present := parsed[f]; !present {
					errs = append(errs, fmt.Sprintf("missing required body field %q", f))
				}
			}
		}
	}

	return pipeline.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// GenerateMockResponse synthesizes a response for a registered operation.
// It returns an error only when no operation is registered for the
// request's protocol/method/path (callers normally gate that with
// FindOperation first); a registered operation always yields a response.
func (r *Registry) GenerateMockResponse(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	r.mu.RLock()
	op, ok := r.operations[Operation{Protocol: req.Protocol, Method: req.Operation, Path: req.Path}.key()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("spec: no operation registered for %s %s %s", req.Protocol, req.Operation, req.Path)
	}

	status := op.Status
	if status == 0 {
		status = 200
	}
	resp := protocol.NewResponse(protocol.StatusForCode(req.Protocol, status))
	for k, v := range op.Headers {
		resp.SetHeader(k, v)
	}
	resp.ContentType = op.ContentType
	if resp.ContentType == "" {
		resp.ContentType = "application/json"
	}

	if op.Echo {
		resp.Body = req.Body
	} else {
		resp.Body = op.Body
	}
	return resp, nil
}
