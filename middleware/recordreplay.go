package middleware

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mockforge/mockforge-core/fingerprint"
	"github.com/mockforge/mockforge-core/protocol"
	"github.com/mockforge/mockforge-core/recorder"
)

// RecordReplayMiddleware consults the fixture store before dispatch
// (short-circuiting on a hit) and, on the way out, persists the response
// as a fixture when recording is enabled and nothing was replayed. Both
// directions key off the same RequestFingerprint, computed once in
// ProcessRequest and stashed in request metadata for ProcessResponse.
type RecordReplayMiddleware struct {
	store         *recorder.Store
	replayEnabled bool
	recordEnabled bool
}

func NewRecordReplayMiddleware(store *recorder.Store, replayEnabled, recordEnabled bool) *RecordReplayMiddleware {
	return &RecordReplayMiddleware{store: store, replayEnabled: replayEnabled, recordEnabled: recordEnabled}
}

func (m *RecordReplayMiddleware) Name() string { return "record_replay" }

func (m *RecordReplayMiddleware) SupportsProtocol(protocol.Protocol) bool { return true }

func computeFingerprint(req *protocol.Request) fingerprint.Fingerprint {
	headers := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		headers[k] = v
	}
	return fingerprint.New(req.Operation, req.Path, headers, req.Body)
}

func (m *RecordReplayMiddleware) ProcessRequest(ctx context.Context, req *protocol.Request) (*protocol.Request, error) {
	if !m.replayEnabled || m.store == nil {
		return req, nil
	}

	fp := computeFingerprint(req)
	rr, err := m.store.Replay(req.Protocol.String(), req.Operation, fp)
	if err != nil {
		// FixtureIoError is recoverable: fall through to synthesis rather
		// than failing the request.
		log.Warn().Err(err).Str("fingerprint", fp.ToHash()).Msg("record_replay: replay lookup failed, falling through")
		return req, nil
	}
	if rr == nil {
		return req, nil
	}

	resp := protocol.NewResponse(protocol.StatusForCode(req.Protocol, rr.StatusCode))
	resp.Body = rr.Body()
	for k, v := range rr.ResponseHeaders {
		resp.SetHeader(k, v)
	}
	return nil, &ShortCircuit{Response: resp}
}

func (m *RecordReplayMiddleware) ProcessResponse(ctx context.Context, req *protocol.Request, resp *protocol.Response) (*protocol.Response, error) {
	if !m.recordEnabled || m.store == nil {
		return resp, nil
	}
	if !m.store.ShouldRecord(req.Operation, resp.ChaosInjected) {
		return resp, nil
	}

	fp := computeFingerprint(req)
	existing, err := m.store.Replay(req.Protocol.String(), req.Operation, fp)
	if err == nil && existing != nil {
		// Already recorded for this fingerprint; leave the first
		// recording in place rather than churning the file on replay
		// mode tests that also happen to have recording enabled.
		return resp, nil
	}

	rr := recorder.NewRecordedRequest(fp.ToHash(), resp.Status.AsCode(), resp.Metadata, resp.Body, nil)
	if err := m.store.Record(req.Protocol.String(), req.Operation, fp, rr); err != nil {
		log.Warn().Err(err).Str("fingerprint", fp.ToHash()).Msg("record_replay: failed to persist fixture")
	}
	return resp, nil
}
