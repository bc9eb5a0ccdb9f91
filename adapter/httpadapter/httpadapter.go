// Package httpadapter is the HTTP protocol adapter: it decodes chi/net-http
// requests into protocol.Request, calls a Pipeline, and encodes the
// resulting protocol.Response back onto the wire. The router mounts a
// single catch-all route rather than a per-resource tree, since every
// HTTP request here is dispatched through one pipeline rather than routed
// to a specific handler function.
package httpadapter

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mockforge/mockforge-core/pipeline"
	"github.com/mockforge/mockforge-core/protocol"
)

// Options configures the HTTP adapter's CORS policy, as an explicit
// struct field so callers aren't forced through env vars to test it.
type Options struct {
	// AllowedOrigins defaults to []string{"*"} when empty, with
	// credentials disabled under the wildcard since the Fetch spec forbids
	// credentialed wildcard responses.
	AllowedOrigins []string
}

// NewRouter builds the HTTP protocol adapter as an http.Handler, mounting
// the standard middleware stack and a single catch-all that decodes every
// request into the pipeline.
func NewRouter(p *pipeline.Pipeline, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	isWildcard := len(origins) == 1 && origins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-Mockforge-Tags"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler)
	r.Handle("/*", handle(p))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"mockforge-core"}`))
}

func handle(p *pipeline.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		resp, err := p.Handle(r.Context(), req)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		encode(w, resp)
	}
}

// decode builds a protocol.Request from an *http.Request. Header casing is
// preserved as net/http canonicalizes it; protocol.Request.Header performs
// the case-insensitive lookup middlewares rely on.
func decode(r *http.Request) (*protocol.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	req := protocol.NewRequest(protocol.HTTP, r.Method, r.URL.Path)
	req.Body = body
	req.ClientIP = clientIP(r)
	for k, vs := range r.Header {
		if len(vs) > 0 {
			req.Metadata[k] = vs[0]
		}
	}
	if rid := chimw.GetReqID(r.Context()); rid != "" {
		req.SetHeader("X-Request-Id", rid)
	}
	return req, nil
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}

// encode writes a protocol.Response back onto the wire, translating its
// protocol-tagged Status to an HTTP status line.
func encode(w http.ResponseWriter, resp *protocol.Response) {
	for k, v := range resp.Metadata {
		w.Header().Set(k, v)
	}
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	if resp.ChaosInjected {
		w.Header().Set("X-Mockforge-Chaos", "1")
	}

	code := httpStatusCode(resp.Status)
	w.WriteHeader(code)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// httpStatusCode projects any Status onto an HTTP status line, for
// statuses that didn't originate as protocol.HTTPStatus (a gRPC-kinded
// Status can still reach this adapter if a caller mixes protocols in
// tests); AsCode's raw value is used when it already looks like a valid
// HTTP code, otherwise 500.
func httpStatusCode(s protocol.Status) int {
	if s.Kind == protocol.HTTPStatus {
		return s.HTTPCode
	}
	code := int(s.AsCode())
	if code >= 100 && code < 600 {
		return code
	}
	if s.IsSuccess() {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}
