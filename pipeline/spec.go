package pipeline

import (
	"context"
	"sync"

	"github.com/mockforge/mockforge-core/protocol"
)

// ValidationResult is the outcome of validating a request against its
// operation's declared schema (OpenAPI/AsyncAPI/proto, a collaborator's
// concern; the core only consumes the verdict).
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// SpecRegistry is the contract for spec-driven synthesis collaborators: a
// per-protocol source of truth for what operations exist and how to
// synthesize a response for one, backed by a parsed OpenAPI/AsyncAPI/proto
// definition in a full deployment. The core only calls it when no stub or
// fixture matched.
type SpecRegistry interface {
	Operations(p protocol.Protocol) []string
	FindOperation(p protocol.Protocol, operation, path string) bool
	ValidateRequest(req *protocol.Request) ValidationResult
	GenerateMockResponse(ctx context.Context, req *protocol.Request) (*protocol.Response, error)
}

// ScenarioStateStore backs stub predicates that gate on a named scenario
// being in a particular state (the WireMock-style "scenario state"
// concept, distinct from chaos.Scenario's chaos-config lifetime). A
// stub's RequiredScenarioState and NewScenarioState are scoped by the
// stub's Route.Metadata["scenario"] key (default "default"), not by
// chaos.ScenarioEngine.
type ScenarioStateStore interface {
	GetState(scenario string) string
	SetState(scenario, state string)
}

// MemoryStateStore is a trivial in-memory ScenarioStateStore, sufficient
// for a single-process mock server and the default wiring in cmd/mockforge-core.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]string
}

// NewMemoryStateStore creates an empty MemoryStateStore.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]string)}
}

func (s *MemoryStateStore) GetState(scenario string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[scenario]
}

func (s *MemoryStateStore) SetState(scenario, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[scenario] = state
}
