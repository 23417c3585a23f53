package cache

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/healpix"
)

func newCache(t *testing.T, maxMB, ttlDays int) (*PersistentTileCache, string) {
	t.Helper()
	dir := t.TempDir()
	c, err := NewPersistentTileCache(dir, maxMB, ttlDays)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, dir
}

func TestSetGet(t *testing.T) {
	t.Parallel()

	c, dir := newCache(t, 10, 0)
	data := []byte("tile-bytes")
	require.NoError(t, c.Set("DSS2_Color", 8, 176440, "jpg", data))

	got, ok := c.Get("DSS2_Color", 8, 176440)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok = c.Get("DSS2_Color", 8, 176441)
	assert.False(t, ok)
	_, ok = c.Get("2MASS_Color", 8, 176440)
	assert.False(t, ok)

	path := filepath.Join(dir, "DSS2_Color", "Norder8", "Dir170000", "Npix176440.jpg")
	assert.FileExists(t, path)
	assert.Equal(t, path, c.Path("DSS2_Color", 8, 176440, "jpg"))

	entries, size, maxBytes := c.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(len(data)), size)
	assert.Equal(t, int64(10*1024*1024), maxBytes)
}

func TestSetRejectsEscapingSurvey(t *testing.T) {
	t.Parallel()

	c, dir := newCache(t, 10, 0)
	err := c.Set("../../outside", 8, 176440, "jpg", []byte("tile-bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(filepath.Dir(dir)), "outside", "Norder8", "Dir170000", "Npix176440.jpg"))

	entries, _, _ := c.Stats()
	assert.Zero(t, entries)
}

func TestGetDropsVanishedFile(t *testing.T) {
	t.Parallel()

	c, _ := newCache(t, 10, 0)
	require.NoError(t, c.Set("DSS2_Color", 8, 5, "jpg", []byte("x")))
	require.NoError(t, os.Remove(c.Path("DSS2_Color", 8, 5, "jpg")))

	_, ok := c.Get("DSS2_Color", 8, 5)
	assert.False(t, ok)
	entries, size, _ := c.Stats()
	assert.Zero(t, entries)
	assert.Zero(t, size)
}

func TestRebuildFromTree(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := NewPersistentTileCache(dir, 10, 0)
	require.NoError(t, err)
	require.NoError(t, first.Set("DSS2_Color", 8, 176440, "jpg", []byte("a")))
	require.NoError(t, first.Set("Gaia_DR3", 3, 12, "png", []byte("bb")))
	require.NoError(t, first.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, indexFile)))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("ignored"), 0644))

	second, err := NewPersistentTileCache(dir, 10, 0)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	got, ok := second.Get("Gaia_DR3", 3, 12)
	require.True(t, ok)
	assert.Equal(t, []byte("bb"), got)
	entries, size, _ := second.Stats()
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(3), size)
}

func TestEvictOldTiles(t *testing.T) {
	t.Parallel()

	c, _ := newCache(t, 1, 0)
	chunk := make([]byte, 400*1024)
	for p := healpix.Pixel(0); p < 3; p++ {
		require.NoError(t, c.Set("DSS2_Color", 8, p, "jpg", chunk))
	}
	c.evictOldTiles()

	_, size, maxBytes := c.Stats()
	assert.LessOrEqual(t, size, maxBytes*8/10)
	_, ok := c.Get("DSS2_Color", 8, 2)
	assert.True(t, ok, "most recent tile survives")
}

func TestClear(t *testing.T) {
	t.Parallel()

	c, _ := newCache(t, 10, 0)
	require.NoError(t, c.Set("DSS2_Color", 8, 1, "jpg", []byte("x")))
	require.NoError(t, c.Clear())
	entries, _, _ := c.Stats()
	assert.Zero(t, entries)
	assert.NoFileExists(t, c.Path("DSS2_Color", 8, 1, "jpg"))
}

func TestParseTilePath(t *testing.T) {
	t.Parallel()

	meta, ok := parseTilePath(filepath.Join("DSS2_Color", "Norder8", "Dir170000", "Npix176440.jpg"))
	require.True(t, ok)
	assert.Equal(t, "DSS2_Color:8:176440", meta.Key)
	assert.Equal(t, "jpg", meta.Format)

	for _, bad := range []string{
		"cache_index.json",
		filepath.Join("DSS2_Color", "8", "1", "2.jpg"),
		filepath.Join("DSS2_Color", "Norder8", "Dir0", "Npix12"),
	} {
		_, ok := parseTilePath(bad)
		assert.False(t, ok, bad)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	c, err := Open(&Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = Open(&Config{Enabled: true, Dir: t.TempDir(), MaxSizeMB: 1})
	require.NoError(t, err)
	require.NotNil(t, c)
	c.Close()

	_, err = Open(&Config{Enabled: true, Dir: t.TempDir(), MaxSizeMB: 0})
	assert.Error(t, err)
	_, err = Open(&Config{Enabled: true, Dir: t.TempDir(), MaxSizeMB: 1, TTLDays: -1})
	assert.Error(t, err)
}

func TestDefaultDir(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CACHE_HOME only applies on linux")
	}
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg-cache")
	assert.Equal(t, filepath.Join("/tmp/xdg-cache", "hips-mosaic", "tiles"), DefaultDir())
}
