package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithoutKeyIsNop(t *testing.T) {
	t.Parallel()

	tr := New("", "http://unused", "id")
	assert.IsType(t, Nop{}, tr)
	tr.Track("anything", nil)
	assert.NoError(t, tr.Close())
}

func TestPostHogDelivers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := New("phc_test", srv.URL, "install-1")
	require.IsType(t, &PostHog{}, tr)
	tr.Track("mosaic_complete", map[string]interface{}{"survey": "DSS2_Color"})
	require.NoError(t, tr.Close())

	mu.Lock()
	defer mu.Unlock()
	joined := strings.Join(bodies, "\n")
	assert.Contains(t, joined, "mosaic_complete")
	assert.Contains(t, joined, "install-1")
}

func TestInstallIDIsStable(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "state")
	first := InstallID(dir)
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, first, InstallID(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "install_id"), []byte("garbage"), 0644))
	assert.NotEqual(t, first, InstallID(dir))
}
