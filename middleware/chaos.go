package middleware

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/protocol"
)

// ChaosMiddleware evaluates the currently active scenario's merged chaos
// config and, on each gate firing, short-circuits the chain with a
// synthesized fault response instead of letting the request reach route
// matching / synthesis. It runs early, ahead of replay and stub matching.
// It also carries traffic shaping: bandwidth-limit delay is applied to the
// outgoing response on the way out, and burst-loss/packet-loss drops are
// checked alongside fault injection on the way in, since both surface the
// same way, a short-circuited connection-error response.
type ChaosMiddleware struct {
	scenarios *chaos.ScenarioEngine
	faults    *chaos.FaultInjector
	shaper    *chaos.TrafficShaper
}

func NewChaosMiddleware(scenarios *chaos.ScenarioEngine, faults *chaos.FaultInjector, shaper *chaos.TrafficShaper) *ChaosMiddleware {
	return &ChaosMiddleware{scenarios: scenarios, faults: faults, shaper: shaper}
}

func (m *ChaosMiddleware) Name() string { return "chaos" }

func (m *ChaosMiddleware) SupportsProtocol(protocol.Protocol) bool { return true }

func (m *ChaosMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error) {
	cfg := m.scenarios.Effective()
	if !cfg.Enabled {
		return req, nil
	}

	if m.shaper != nil && cfg.TrafficShaping != nil {
		m.shaper.UpdateConfig(*cfg.TrafficShaping)
		if m.shaper.ShouldDrop(req.Tags()) {
			m.scenarios.Observe(chaos.ChaosEvent{
				Kind:   "traffic_shaping",
				Tags:   req.Tags(),
				Detail: "action=drop endpoint=" + req.Path,
			})
			resp := connectionErrorResponse(req.Protocol)
			resp.ChaosInjected = true
			return nil, &ShortCircuit{Response: resp}
		}
	}

	if cfg.FaultInjection == nil {
		return req, nil
	}
	m.faults.UpdateConfig(*cfg.FaultInjection)

	fault := m.faults.Maybe(ctx)
	if fault.Kind == chaos.NoFault {
		return req, nil
	}

	m.scenarios.Observe(chaos.ChaosEvent{
		Kind:   "fault_injection",
		Tags:   req.Tags(),
		Detail: fmt.Sprintf("fault=%s endpoint=%s", fault.Kind, req.Path),
	})

	resp := synthesizeFault(req.Protocol, fault, ctx)
	return nil, &ShortCircuit{Response: resp}
}

func synthesizeFault(p protocol.Protocol, fault chaos.Fault, ctx context.Context) *protocol.Response {
	var resp *protocol.Response
	switch fault.Kind {
	case chaos.HTTPErrorFault:
		resp = protocol.NewResponse(protocol.NewHTTPStatus(fault.HTTPStatus))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"http_error"}`)
		resp.ContentType = "application/json"
	case chaos.GrpcErrorFault:
		resp = protocol.NewResponse(protocol.NewGrpcStatus(fault.GrpcCode))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"grpc_error"}`)
		resp.ContentType = "application/json"
	case chaos.TimeoutFault:
		fault.AwaitTimeout(ctx)
		resp = timeoutResponse(p)
	case chaos.ConnectionErrorFault:
		resp = connectionErrorResponse(p)
	default:
		resp = protocol.NewResponse(protocol.NewHTTPStatus(500))
	}
	resp.ChaosInjected = true
	return resp
}

// timeoutResponse builds the protocol-appropriate surface for a deadline
// that the chaos engine deliberately blew through.
func timeoutResponse(p protocol.Protocol) *protocol.Response {
	switch p {
	case protocol.Grpc:
		resp := protocol.NewResponse(protocol.NewGrpcStatus(int32(codes.DeadlineExceeded)))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"timeout"}`)
		return resp
	case protocol.WebSocket:
		resp := protocol.NewResponse(protocol.NewWsStatus(1011))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"timeout"}`)
		return resp
	case protocol.Mqtt:
		resp := protocol.NewResponse(protocol.NewMqttStatus(false))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"timeout"}`)
		return resp
	default:
		resp := protocol.NewResponse(protocol.NewHTTPStatus(504))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"timeout"}`)
		resp.ContentType = "application/json"
		return resp
	}
}

// connectionErrorResponse builds the protocol-typed connection-drop
// surface: an HTTP connection reset, gRPC UNAVAILABLE, WS close 1011, or
// MQTT disconnect. Never an actual socket close from this layer; real
// socket handling is an adapter concern.
func connectionErrorResponse(p protocol.Protocol) *protocol.Response {
	switch p {
	case protocol.Grpc:
		resp := protocol.NewResponse(protocol.NewGrpcStatus(int32(codes.Unavailable)))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"connection_error"}`)
		return resp
	case protocol.WebSocket:
		resp := protocol.NewResponse(protocol.NewWsStatus(1011))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"connection_error"}`)
		return resp
	case protocol.Mqtt:
		resp := protocol.NewResponse(protocol.NewMqttStatus(false))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"connection_error"}`)
		return resp
	default:
		resp := protocol.NewResponse(protocol.NewHTTPStatus(499))
		resp.Body = []byte(`{"error":"chaos_injected","kind":"connection_error"}`)
		resp.ContentType = "application/json"
		return resp
	}
}

// ProcessResponse applies the configured bandwidth limit to the outgoing
// body, sleeping cooperatively (honoring ctx cancellation) for however
// long the token bucket says n bytes should take to send.
func (m *ChaosMiddleware) ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error) {
	if m.shaper == nil {
		return resp, nil
	}
	if d := m.shaper.Delay(len(resp.Body)); d > 0 {
		if err := chaos.Sleep(ctx, d); err != nil {
			return resp, err
		}
	}
	return resp, nil
}
