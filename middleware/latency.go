package middleware

import (
	"context"
	"fmt"

	"github.com/mockforge/mockforge-core/chaos"
	"github.com/mockforge/mockforge-core/protocol"
)

// LatencyMiddleware injects artificial delay before the terminal handler
// runs, using the configured LatencyEngine. It never touches the response.
// When a ScenarioEngine is supplied, the active scenario's merged latency
// config (if any) overrides the engine's base config for each request, the
// same pattern ChaosMiddleware uses for fault injection.
type LatencyMiddleware struct {
	engine    *chaos.LatencyEngine
	scenarios *chaos.ScenarioEngine
}

func NewLatencyMiddleware(engine *chaos.LatencyEngine, scenarios *chaos.ScenarioEngine) *LatencyMiddleware {
	return &LatencyMiddleware{engine: engine, scenarios: scenarios}
}

func (m *LatencyMiddleware) Name() string { return "latency" }

func (m *LatencyMiddleware) SupportsProtocol(protocol.Protocol) bool { return true }

func (m *LatencyMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error) {
	if m.scenarios != nil {
		if cfg := m.scenarios.Effective(); cfg.Latency != nil {
			m.engine.UpdateConfig(*cfg.Latency)
		}
	}
	d, err := m.engine.Inject(ctx, req.Tags())
	if err != nil {
		return nil, err
	}
	if d > 0 && m.scenarios != nil {
		m.scenarios.Observe(chaos.ChaosEvent{
			Kind:   "latency_injection",
			Tags:   req.Tags(),
			Detail: fmt.Sprintf("delay_ms=%d endpoint=%s", d.Milliseconds(), req.Path),
		})
	}
	return req, nil
}

func (m *LatencyMiddleware) ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error) {
	return resp, nil
}
