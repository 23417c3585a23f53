package hips

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/ratelimit"
)

func TestTilePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		order int
		pixel healpix.Pixel
		want  string
	}{
		{8, 176440, "Norder8/Dir170000/Npix176440.jpg"},
		{3, 5, "Norder3/Dir0/Npix5.jpg"},
		{9, 10000, "Norder9/Dir10000/Npix10000.jpg"},
		{9, 9999, "Norder9/Dir0/Npix9999.jpg"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TilePath(tt.order, tt.pixel, "jpg"))
	}
}

func TestRegistryTileURL(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	u, err := r.TileURL("DSS2_Color", 8, 176440)
	require.NoError(t, err)
	assert.Equal(t, "http://alasky.u-strasbg.fr/DSS/DSSColor/Norder8/Dir170000/Npix176440.jpg", u)

	u, err = r.TileURL("Rubin_Virgo_Color", 10, 2345678)
	require.NoError(t, err)
	assert.Equal(t, "https://images.rubinobservatory.org/hips/SVImages_v2/color_ugri/Norder10/Dir2340000/Npix2345678.webp", u)

	_, err = r.TileURL("Mellinger_Color", 9, 1)
	assert.ErrorIs(t, err, ErrOrderTooDeep)
	_, err = r.TileURL("nope", 8, 1)
	assert.ErrorIs(t, err, ErrUnknownSurvey)
	_, err = r.TileURL("DSS2_Color", 3, 9999)
	assert.ErrorIs(t, err, healpix.ErrPixelOutOfRange)

	allsky := Survey{ID: "x", BaseURL: "http://h/x/", Format: "png", MaxOrder: 3, Layout: LayoutAllsky}
	u, err = allsky.TileURL(3, 12)
	require.NoError(t, err)
	assert.Equal(t, "http://h/x/Norder3/Allsky.png", u)
}

func TestRegistryValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry([]Survey{{ID: "a", BaseURL: "http://a", Format: "jpg", MaxOrder: 3}, {ID: "a", BaseURL: "http://b", Format: "jpg"}})
	assert.ErrorIs(t, err, ErrDuplicateID)
	_, err = NewRegistry([]Survey{{ID: "a", Format: "jpg"}})
	assert.ErrorIs(t, err, ErrInvalidSurvey)
	_, err = NewRegistry([]Survey{{ID: "a", BaseURL: "http://a", Format: "jpg", Layout: "mystery"}})
	assert.ErrorIs(t, err, ErrUnknownLayout)

	r := DefaultRegistry()
	assert.Len(t, r.All(), 8)
	assert.Equal(t, "DSS2_Color", r.All()[0].ID)
	assert.Equal(t, "2MASS_Color", r.IDs()[0])
}

func TestRegistrySaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "surveys", "surveys.json")
	require.NoError(t, DefaultRegistry().Save(path))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistry().All(), r.All())

	_, err = LoadRegistry(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestClientFetchTile(t *testing.T) {
	t.Parallel()

	var (
		mu                        sync.Mutex
		gotUA, gotAccept, gotPath string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotPath = r.URL.Path
		mu.Unlock()
		switch r.URL.Path {
		case "/s/Norder8/Dir170000/Npix176440.jpg":
			_, _ = w.Write([]byte("tile-bytes"))
		case "/s/Norder8/Dir170000/Npix176441.jpg":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	limiter := ratelimit.NewHandler(&ratelimit.RetryStrategy{Intervals: []time.Duration{time.Hour}, MaxRetries: 1})
	c := NewClient(time.Second, limiter)
	s := Survey{ID: "s", BaseURL: srv.URL + "/s", Format: "jpg", MaxOrder: 9}

	data, err := c.FetchTile(context.Background(), s, 8, 176440)
	require.NoError(t, err)
	assert.Equal(t, "tile-bytes", string(data))
	mu.Lock()
	assert.Equal(t, UserAgent, gotUA)
	assert.Equal(t, "image/*", gotAccept)
	assert.Equal(t, "/s/Norder8/Dir170000/Npix176440.jpg", gotPath)
	mu.Unlock()

	_, err = c.FetchTile(context.Background(), s, 8, 176442)
	assert.ErrorIs(t, err, ErrTileNotFound)

	// The hour-long backoff ends after the deadline, so no retry is attempted.
	limitedCtx, cancelLimited := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLimited()
	start := time.Now()
	_, err = c.FetchTile(limitedCtx, s, 8, 176441)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, limiter.IsRateLimited("s"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.FetchTile(ctx, s, 8, 176440)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestClientRetriesAfterBackoff(t *testing.T) {
	t.Parallel()

	var requests, refusals int64 = 0, 1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		if atomic.AddInt64(&refusals, -1) >= 0 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	limiter := ratelimit.NewHandler(&ratelimit.RetryStrategy{Intervals: []time.Duration{20 * time.Millisecond}, MaxRetries: 3})
	c := NewClient(time.Second, limiter)
	s := Survey{ID: "s", BaseURL: srv.URL, Format: "jpg", MaxOrder: 9}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := c.FetchTile(ctx, s, 8, 176440)
	require.NoError(t, err)
	assert.Equal(t, "tile-bytes", string(data))
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
	assert.False(t, limiter.IsRateLimited("s"), "a good answer clears the limit")

	// Refused on both attempts: the retry is spent and the error surfaces.
	atomic.StoreInt64(&requests, 0)
	atomic.StoreInt64(&refusals, 2)
	_, err = c.FetchTile(ctx, s, 8, 176440)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int64(2), atomic.LoadInt64(&requests))
}
