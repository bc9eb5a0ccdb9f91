// Package fingerprint computes a deterministic digest of a request's
// meaningful content, used as the on-disk key for recorded fixtures.
// Canonicalisation: numeric/UUID path segments are replaced by
// placeholders, headers are whitelisted and lower-cased, and JSON bodies
// are key-sorted before hashing so semantically identical requests
// fingerprint identically regardless of incidental formatting.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

var (
	numericSegment = regexp.MustCompile(`^[0-9]+$`)
	uuidSegment    = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

// relevantHeaders is the whitelist of headers that affect response
// semantics; everything else is noise for fingerprinting purposes.
var relevantHeaders = map[string]bool{
	"content-type": true,
	"accept":       true,
}

const authHeader = "authorization"
const mockforgePrefix = "x-mockforge-"

// volatileHeaders are pipeline bookkeeping markers earlier middlewares
// stamp into request metadata (timing ticks, guard keys). They vary per
// request, so including them would give every request a unique
// fingerprint and defeat replay entirely.
var volatileHeaders = map[string]bool{
	"x-mockforge-request-time":       true,
	"x-mockforge-metrics-started-at": true,
	"x-mockforge-guard-endpoint":     true,
}

// Fingerprint is a deterministic digest of a request's meaningful content.
type Fingerprint struct {
	Method           string
	PathTemplate     string
	CanonicalHeaders []string // "key:value", sorted
	BodyHash         string   // hex SHA-256 of canonicalised body
}

// New computes a Fingerprint for the given method, URI path, header map,
// and raw body. Header keys are treated case-insensitively; values for
// "authorization" are masked to a stable prefix so fingerprints are
// comparable across different bearer tokens.
func New(method, uri string, headers map[string]string, body []byte) Fingerprint {
	fp := Fingerprint{
		Method:           strings.ToUpper(method),
		PathTemplate:     templatePath(uri),
		CanonicalHeaders: canonicalHeaders(headers),
		BodyHash:         hashBody(body),
	}
	return fp
}

// templatePath rewrites numeric and UUID-looking path segments to
// deterministic placeholders.
func templatePath(uri string) string {
	segments := strings.Split(strings.Trim(uri, "/"), "/")
	for i, seg := range segments {
		switch {
		case uuidSegment.MatchString(seg):
			segments[i] = ":uuid"
		case numericSegment.MatchString(seg):
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

func canonicalHeaders(headers map[string]string) []string {
	out := make([]string, 0, len(headers))
	for k, v := range headers {
		lower := strings.ToLower(k)
		if volatileHeaders[lower] {
			continue
		}
		switch {
		case lower == authHeader:
			out = append(out, lower+":"+maskAuth(v))
		case relevantHeaders[lower]:
			out = append(out, lower+":"+v)
		case strings.HasPrefix(lower, mockforgePrefix):
			out = append(out, lower+":"+v)
		}
	}
	sort.Strings(out)
	return out
}

// maskAuth keeps only the auth scheme (e.g. "Bearer", "Basic") so
// fingerprints distinguish auth mechanism without depending on the literal
// credential value.
func maskAuth(v string) string {
	if idx := strings.IndexByte(v, ' '); idx >= 0 {
		return v[:idx]
	}
	return v
}

func hashBody(body []byte) string {
	canon := canonicalizeBody(body)
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

// canonicalizeBody key-sorts JSON objects (recursively) and strips
// insignificant whitespace; array element order is preserved, since
// permuting array elements changes meaning.
func canonicalizeBody(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		// Not JSON: hash the raw bytes as-is.
		return body
	}
	canon, err := marshalSorted(v)
	if err != nil {
		return body
	}
	return canon
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			b.Write(kb)
			b.WriteByte(':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []interface{}:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(val)
	}
}

// ToHash returns the hex-encoded SHA-256 digest of the fingerprint's
// canonical representation: method || path_template || canonical_headers || body_hash.
func (f Fingerprint) ToHash() string {
	h := sha256.New()
	h.Write([]byte(f.Method))
	h.Write([]byte(f.PathTemplate))
	for _, header := range f.CanonicalHeaders {
		h.Write([]byte(header))
	}
	h.Write([]byte(f.BodyHash))
	return hex.EncodeToString(h.Sum(nil))
}

// PathSlug returns a filesystem-safe form of the path template, used as
// the directory component of a fixture's on-disk path.
func (f Fingerprint) PathSlug() string {
	slug := strings.Trim(f.PathTemplate, "/")
	slug = strings.ReplaceAll(slug, "/", "_")
	slug = strings.ReplaceAll(slug, ":", "")
	if slug == "" {
		slug = "root"
	}
	return slug
}
