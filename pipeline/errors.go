package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"

	"github.com/mockforge/mockforge-core/protocol"
)

// RouteNotFoundError is returned by dispatch when no stub, route, or spec
// operation matches the incoming request.
type RouteNotFoundError struct {
	Protocol  protocol.Protocol
	Operation string
	Path      string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("pipeline: no route for %s %s %s", e.Protocol, e.Operation, e.Path)
}

// ValidationFailedError is returned when a request violates the operation's
// declared schema.
type ValidationFailedError struct {
	Details []string
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("pipeline: validation failed: %v", e.Details)
}

// InternalError is the last-resort wrapper for an unexpected failure
// (including a recovered panic from a user-supplied predicate or
// generator). It carries a stable, logged correlation id so a 500/INTERNAL
// response body can point back at server-side logs.
type InternalError struct {
	ID  string
	Err error
}

func newInternalError(err error) *InternalError {
	return &InternalError{ID: uuid.NewString(), Err: err}
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("pipeline: internal error [%s]: %v", e.ID, e.Err)
}
func (e *InternalError) Unwrap() error { return e.Err }

// toResponse converts a pipeline-level error into a protocol-appropriate
// response, so a non-fatal error never escapes
// Pipeline.Handle as a raw Go error; it is always either a response or, for
// a genuinely fatal condition (none are defined here), propagated.
func toResponse(p protocol.Protocol, err error) *protocol.Response {
	switch e := err.(type) {
	case *RouteNotFoundError:
		return statusOnlyResponse(p, 404, int32(codes.Unimplemented), `{"error":"route_not_found"}`)
	case *ValidationFailedError:
		body := fmt.Sprintf(`{"error":"validation_failed","details":%q}`, fmt.Sprint(e.Details))
		return statusOnlyResponse(p, 400, int32(codes.InvalidArgument), body)
	case *InternalError:
		body := fmt.Sprintf(`{"error":"internal_error","id":%q}`, e.ID)
		return statusOnlyResponse(p, 500, int32(codes.Internal), body)
	default:
		ie := newInternalError(err)
		body := fmt.Sprintf(`{"error":"internal_error","id":%q}`, ie.ID)
		return statusOnlyResponse(p, 500, int32(codes.Internal), body)
	}
}

func statusOnlyResponse(p protocol.Protocol, httpCode int, grpcCode int32, body string) *protocol.Response {
	var resp *protocol.Response
	switch p {
	case protocol.Grpc:
		resp = protocol.NewResponse(protocol.NewGrpcStatus(grpcCode))
	case protocol.WebSocket:
		resp = protocol.NewResponse(protocol.NewWsStatus(1011))
	case protocol.Mqtt:
		resp = protocol.NewResponse(protocol.NewMqttStatus(false))
	case protocol.Smtp:
		resp = protocol.NewResponse(protocol.NewSmtpStatus(550))
	default:
		resp = protocol.NewResponse(protocol.NewHTTPStatus(httpCode))
	}
	resp.Body = []byte(body)
	resp.ContentType = "application/json"
	return resp
}
