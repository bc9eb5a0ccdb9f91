package middleware

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mockforge/mockforge-core/protocol"
)

// LoggingMiddleware emits one structured log line per request
// (method/path/status/duration fields), with level driven by the response
// status, generalized across protocols instead of tied to
// http.ResponseWriter.
type LoggingMiddleware struct {
	log zerolog.Logger
}

func NewLoggingMiddleware(log zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Name() string { return "logging" }

func (m *LoggingMiddleware) SupportsProtocol(protocol.Protocol) bool { return true }

const (
	startedAtHeader = "x-mockforge-request-time"
	requestIDHeader = "x-request-id"
)

func (m *LoggingMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error) {
	req.SetHeader(startedAtHeader, time.Now().Format(time.RFC3339Nano))
	if _, ok := req.Header(requestIDHeader); !ok {
		req.SetHeader(requestIDHeader, uuid.NewString())
	}
	return req, nil
}

func (m *LoggingMiddleware) ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error) {
	var duration time.Duration
	if raw, ok := req.Header(startedAtHeader); ok {
		if started, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			duration = time.Since(started)
		}
	}

	requestID, _ := req.Header(requestIDHeader)

	code := resp.Status.AsCode()
	event := m.log.Info()
	if code >= 400 {
		event = m.log.Warn()
	}
	if code >= 500 {
		event = m.log.Error()
	}

	event.
		Str("request_id", requestID).
		Str("protocol", req.Protocol.String()).
		Str("operation", req.Operation).
		Str("path", req.Path).
		Str("topic", req.Topic).
		Int64("status", code).
		Dur("duration", duration).
		Str("client_ip", req.ClientIP).
		Bool("chaos_injected", resp.ChaosInjected).
		Msg("request")

	return resp, nil
}
