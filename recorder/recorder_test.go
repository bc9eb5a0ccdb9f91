package recorder_test

import (
	"os"
	"testing"
	"time"

	"github.com/mockforge/mockforge-core/fingerprint"
	"github.com/mockforge/mockforge-core/recorder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := recorder.New(dir)

	fp := fingerprint.New("POST", "/echo", nil, []byte(`{"n":1}`))
	rr := recorder.NewRecordedRequest(fp.ToHash(), 200, map[string]string{"content-type": "application/json"}, []byte(`{"ok":true}`), nil)

	require.NoError(t, store.Record("http", "POST", fp, rr))

	got, err := store.Replay("http", "POST", fp)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"ok":true}`), got.Body())
	assert.Equal(t, int64(200), got.StatusCode)
}

func TestReplayMissReturnsNilNotError(t *testing.T) {
	dir := t.TempDir()
	store := recorder.New(dir)
	fp := fingerprint.New("POST", "/echo", nil, []byte(`{"n":2}`))

	got, err := store.Replay("http", "POST", fp)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBinaryBodyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := recorder.New(dir)
	fp := fingerprint.New("GET", "/bin", nil, nil)
	body := []byte{0xff, 0x00, 0xde, 0xad}
	rr := recorder.NewRecordedRequest(fp.ToHash(), 200, nil, body, nil)

	require.NoError(t, store.Record("http", "GET", fp, rr))
	got, err := store.Replay("http", "GET", fp)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body())
}

func TestCleanOldFixturesUsesEmbeddedTimestamp(t *testing.T) {
	dir := t.TempDir()
	store := recorder.New(dir)

	oldFP := fingerprint.New("GET", "/old", nil, nil)
	oldRR := recorder.NewRecordedRequest(oldFP.ToHash(), 200, nil, []byte("x"), nil)
	oldRR.Timestamp = time.Now().Add(-48 * time.Hour)
	require.NoError(t, store.Record("http", "GET", oldFP, oldRR))

	newFP := fingerprint.New("GET", "/new", nil, nil)
	newRR := recorder.NewRecordedRequest(newFP.ToHash(), 200, nil, []byte("y"), nil)
	require.NoError(t, store.Record("http", "GET", newFP, newRR))

	paths, err := store.List()
	require.NoError(t, err)
	require.Len(t, paths, 2)

	// Backdate the file mtimes on both fixtures to the same old instant,
	// so only the embedded RecordedRequest.Timestamp field -- not file
	// mtime -- can distinguish which one is actually pruned.
	old := time.Now().Add(-48 * time.Hour)
	for _, p := range paths {
		require.NoError(t, os.Chtimes(p, old, old))
	}

	removed, err := store.CleanOldFixtures(1)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	got, err := store.Replay("http", "GET", oldFP)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.Replay("http", "GET", newFP)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCleanOldFixturesSkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := recorder.New(dir)

	fp := fingerprint.New("GET", "/corrupt", nil, nil)
	rr := recorder.NewRecordedRequest(fp.ToHash(), 200, nil, []byte("x"), nil)
	require.NoError(t, store.Record("http", "GET", fp, rr))

	paths, err := store.List()
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.NoError(t, os.WriteFile(paths[0], []byte("not json"), 0o644))

	removed, err := store.CleanOldFixtures(0)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	paths, err = store.List()
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestShouldRecordGetOnly(t *testing.T) {
	store := recorder.New(t.TempDir())
	store.GetOnly = true
	assert.True(t, store.ShouldRecord("GET", false))
	assert.False(t, store.ShouldRecord("POST", false))
}

func TestShouldRecordExcludesChaosByDefault(t *testing.T) {
	store := recorder.New(t.TempDir())
	assert.False(t, store.ShouldRecord("GET", true))
	store.IncludeChaosResponses = true
	assert.True(t, store.ShouldRecord("GET", true))
}
