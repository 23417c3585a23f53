package report

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/common"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/sky"
)

func sampleGrid() *grid.Grid {
	return &grid.Grid{
		Order: 8, Width: 2, Height: 1, Center: 176440, Method: grid.MethodExtrapolate,
		Cells: []grid.Cell{
			{Pos: grid.Pos{X: 0, Y: 0}, Pixel: 176431, Center: sky.Coordinate{RA: 202.25, Dec: 47.1}},
			{Pos: grid.Pos{X: 1, Y: 0}, Pixel: healpix.NoPixel},
		},
	}
}

func sampleRun(t *testing.T) *Run {
	t.Helper()
	r := NewRun("M51", "DSS2_Color", 8)
	r.RA, r.Dec = 202.4695833, 47.1951667
	r.SetGrid(sampleGrid(), []common.TileResult{
		{Pos: grid.Pos{X: 0, Y: 0}, Pixel: 176431, Status: common.StatusCached, Width: 512, Height: 512,
			Bytes: 40000, Path: "/out/tiles/m51_tile_0_0_pixel176431.jpg"},
	})
	r.AnchorX, r.AnchorY = 573, 692
	r.OffsetDX, r.OffsetDY = -195.499, -75.631
	r.SeparationArcsec = 337.58
	r.CropShiftX = -27
	r.MosaicPath = "/out/m51_full.png"
	r.Elapsed = 1500 * time.Millisecond
	return r
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	a, b := NewRun("M51", "DSS2_Color", 8), NewRun("M51", "DSS2_Color", 8)
	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSetGrid(t *testing.T) {
	t.Parallel()

	r := sampleRun(t)
	assert.Equal(t, 2, r.Total())
	assert.Equal(t, 1, r.Downloaded)
	assert.Equal(t, 1, r.Cached)
	assert.Equal(t, 0.5, r.Coverage)

	want := []Cell{
		{X: 0, Y: 0, Pixel: 176431, RA: 202.25, Dec: 47.1, Status: common.StatusCached,
			Width: 512, Height: 512, Bytes: 40000, Filename: "m51_tile_0_0_pixel176431.jpg"},
		{X: 1, Y: 0, Pixel: healpix.NoPixel, Status: common.StatusSkipped},
	}
	if diff := cmp.Diff(want, r.Cells); diff != "" {
		t.Errorf("cells mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRun(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Grid_X,Grid_Y,HEALPix_Pixel,Tile_RA,Tile_Dec,Downloaded,ImageSize,Filename", lines[0])
	assert.Equal(t, "0,0,176431,202.250000,47.100000,YES,512x512,m51_tile_0_0_pixel176431.jpg", lines[1])
	assert.Equal(t, "1,0,-1,0.000000,0.000000,NO,0x0,", lines[2])
}

func TestSaveCSV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, SaveCSV(path, sampleRun(t)))
	assert.FileExists(t, path)

	assert.Error(t, SaveCSV(filepath.Join(t.TempDir(), "missing", "report.csv"), sampleRun(t)))
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleRun(t)))
	out := buf.String()
	assert.Contains(t, out, "Target:    M51")
	assert.Contains(t, out, "Coverage:  50.0%")
	assert.Contains(t, out, "Tiles:     1/2 downloaded (1 cached, 0 failed)")
	assert.Contains(t, out, "Anchor:    (573, 692)")
	assert.Contains(t, out, "Crop:      shifted (-27, 0)")
	assert.Contains(t, out, "/out/m51_full.png")
	assert.NotContains(t, out, "Fallback:")
}

func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(filepath.Join(t.TempDir(), "db", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	r := sampleRun(t)
	require.NoError(t, store.Save(ctx, r))

	loaded, err := store.Load(ctx, r.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(r, loaded, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	_, err = store.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	assert.Error(t, store.Save(ctx, r), "duplicate id")
}

func TestStoreMigrations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	store, err := OpenStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	version, dirty, err := store.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	r := sampleRun(t)
	require.NoError(t, store.Save(ctx, r))
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	version, _, err = reopened.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	loaded, err := reopened.Load(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Target, loaded.Target)
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	for i, target := range []string{"M51", "M31", "M51"} {
		r := NewRun(target, "DSS2_Color", 8)
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		r.SetGrid(sampleGrid(), nil)
		require.NoError(t, store.Save(ctx, r))
	}

	all, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
	assert.Empty(t, all[0].Cells)

	m51, err := store.List(ctx, "m51", 10)
	require.NoError(t, err)
	assert.Len(t, m51, 2)

	one, err := store.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
