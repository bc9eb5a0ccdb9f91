// Package recorder implements the fixture store: content-addressed JSON
// fixtures on disk, one file per fingerprint per protocol/method/path
// bucket, written atomically (write-tmp-then-rename) and read as a
// point-in-time snapshot.
package recorder

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/mockforge/mockforge-core/fingerprint"
)

// FixtureIoError wraps a filesystem error encountered while recording or
// replaying. It is recoverable: the pipeline falls through to synthesis
// rather than failing the request.
type FixtureIoError struct {
	Op  string
	Err error
}

func (e *FixtureIoError) Error() string { return fmt.Sprintf("recorder: %s: %v", e.Op, e.Err) }
func (e *FixtureIoError) Unwrap() error { return e.Err }

// RecordedRequest is the on-disk shape of one recorded request/response
// pair, persisted as one JSON document per fingerprint.
type RecordedRequest struct {
	Fingerprint     string            `json:"fingerprint"`
	Timestamp       time.Time         `json:"timestamp"`
	StatusCode      int64             `json:"status_code"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseBodyB64 string            `json:"response_body_b64,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Body returns the decoded response body, preferring the base64 field
// when present (binary payloads).
func (r RecordedRequest) Body() []byte {
	if r.ResponseBodyB64 != "" {
		b, err := base64.StdEncoding.DecodeString(r.ResponseBodyB64)
		if err == nil {
			return b
		}
	}
	return []byte(r.ResponseBody)
}

// NewRecordedRequest builds a RecordedRequest, choosing the UTF-8 or
// base64 body field based on whether body is valid UTF-8 text.
func NewRecordedRequest(fp string, statusCode int64, headers map[string]string, body []byte, metadata map[string]string) RecordedRequest {
	rr := RecordedRequest{
		Fingerprint:     fp,
		Timestamp:       time.Now().UTC(),
		StatusCode:      statusCode,
		ResponseHeaders: headers,
		Metadata:        metadata,
	}
	if utf8.Valid(body) {
		rr.ResponseBody = string(body)
	} else {
		rr.ResponseBodyB64 = base64.StdEncoding.EncodeToString(body)
	}
	return rr
}

// Store is a content-addressed fixture store rooted at a directory on
// disk: <root>/<protocol>/<method>/<path-slug>/<fingerprint>.json.
type Store struct {
	root string

	// GetOnly, when true, only records requests whose method is GET
	// (or any protocol's read-equivalent operation).
	GetOnly bool

	// IncludeChaosResponses controls whether responses the chaos
	// middleware short-circuited are still persisted as fixtures.
	// Defaults to false so injected faults don't poison fixtures.
	IncludeChaosResponses bool
}

// New creates a fixture Store rooted at dir. The directory is created
// lazily on first write.
func New(dir string) *Store {
	return &Store{root: dir}
}

func (s *Store) fixturePath(protocol, method string, fp fingerprint.Fingerprint) string {
	return filepath.Join(s.root, protocol, strings.ToUpper(method), fp.PathSlug(), fp.ToHash()+".json")
}

// Replay looks up a recorded fixture by fingerprint. A missing file, or a
// file that fails to parse, is treated as "not found" (corrupt fixtures
// log a warning and are skipped rather than failing the request).
func (s *Store) Replay(protocol, method string, fp fingerprint.Fingerprint) (*RecordedRequest, error) {
	path := s.fixturePath(protocol, method, fp)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &FixtureIoError{Op: "replay", Err: err}
	}
	var rr RecordedRequest
	if err := json.Unmarshal(data, &rr); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("recorder: corrupt fixture, treating as absent")
		return nil, nil
	}
	return &rr, nil
}

// Record persists rr under the fixture path for protocol/method/fingerprint.
// Writes are atomic: a temp file is written in the destination directory
// and renamed into place, so concurrent recordings to the same fingerprint
// are last-writer-wins with no torn files.
func (s *Store) Record(protocol, method string, fp fingerprint.Fingerprint, rr RecordedRequest) error {
	path := s.fixturePath(protocol, method, fp)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FixtureIoError{Op: "mkdir", Err: err}
	}
	data, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return &FixtureIoError{Op: "marshal", Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &FixtureIoError{Op: "create-temp", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &FixtureIoError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &FixtureIoError{Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &FixtureIoError{Op: "rename", Err: err}
	}
	return nil
}

// ShouldRecord reports whether a response for the given protocol/method
// should be persisted, honoring GetOnly and IncludeChaosResponses.
func (s *Store) ShouldRecord(method string, chaosInjected bool) bool {
	if chaosInjected && !s.IncludeChaosResponses {
		return false
	}
	if s.GetOnly && !strings.EqualFold(method, "GET") && !strings.EqualFold(method, "subscribe") {
		return false
	}
	return true
}

// List walks the fixture tree and returns every recorded fixture's file
// path, for diagnostics and pruning.
func (s *Store) List() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &FixtureIoError{Op: "list", Err: err}
	}
	return paths, nil
}

// CleanOldFixtures removes fixtures whose embedded RecordedRequest.Timestamp
// is older than the given retention window, and returns the number removed.
// Pruning parses each fixture's JSON and compares its recorded timestamp
// field against the cutoff; a fixture that fails to parse is skipped (left
// in place, not counted) rather than pruned on file mtime.
func (s *Store) CleanOldFixtures(days int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	paths, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rr RecordedRequest
		if err := json.Unmarshal(data, &rr); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("recorder: skipping corrupt fixture during pruning")
			continue
		}
		if rr.Timestamp.Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}
