package resilience

import (
	"encoding/json"

	"github.com/mockforge/mockforge-core/protocol"
)

// Fallback produces a substitute response when a guarded call can't run
// (circuit open, bulkhead rejected/timed out).
type Fallback interface {
	Handle() *protocol.Response
}

// JSONFallbackHandler returns a fixed JSON body with a configurable status.
// Default status is 503.
type JSONFallbackHandler struct {
	Value  interface{}
	Status protocol.Status
}

// NewJSONFallbackHandler builds a JSONFallbackHandler defaulting to
// HTTP 503 when status is the zero value.
func NewJSONFallbackHandler(value interface{}, status protocol.Status) *JSONFallbackHandler {
	if status == (protocol.Status{}) {
		status = protocol.NewHTTPStatus(503)
	}
	return &JSONFallbackHandler{Value: value, Status: status}
}

// Handle renders Value as a JSON response body.
func (h *JSONFallbackHandler) Handle() *protocol.Response {
	body, err := json.Marshal(h.Value)
	if err != nil {
		body = []byte(`{"error":"fallback_encode_failed"}`)
	}
	resp := protocol.NewResponse(h.Status)
	resp.Body = body
	resp.ContentType = "application/json"
	return resp
}
