package mosaic

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func testGrid(w, h int) *grid.Grid {
	g := &grid.Grid{Order: 8, Width: w, Height: h}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Cells = append(g.Cells, grid.Cell{Pos: grid.Pos{X: x, Y: y}, Pixel: healpix.Pixel(y*w + x)})
		}
	}
	return g
}

// assertNear compares colours allowing for resampling round-off.
func assertNear(t *testing.T, want, got color.RGBA) {
	t.Helper()
	for _, d := range []int{
		int(want.R) - int(got.R), int(want.G) - int(got.G),
		int(want.B) - int(got.B), int(want.A) - int(got.A),
	} {
		if d < -1 || d > 1 {
			t.Errorf("colour %v not within 1 of %v", got, want)
			return
		}
	}
}

var (
	red   = color.RGBA{255, 0, 0, 255}
	green = color.RGBA{0, 255, 0, 255}
	blue  = color.RGBA{0, 0, 255, 255}
)

func TestAssemblePlacesTilesAndCountsFilled(t *testing.T) {
	t.Parallel()

	g := testGrid(3, 3)
	tiles := map[grid.Pos]image.Image{
		{X: 0, Y: 0}: solid(8, 8, red),
		{X: 2, Y: 1}: solid(8, 8, green),
		{X: 1, Y: 2}: nil,
		{X: 5, Y: 5}: solid(8, 8, blue),
	}

	m, filled := Assemble(g, tiles, 8)
	require.NotNil(t, m)
	assert.Equal(t, 2, filled)
	assert.Equal(t, 24, m.Width())
	assert.Equal(t, 24, m.Height())
	assert.Equal(t, image.Pt(12, 12), m.Center())

	assert.Equal(t, red, m.Image.RGBAAt(0, 0))
	assert.Equal(t, red, m.Image.RGBAAt(7, 7))
	assert.Equal(t, green, m.Image.RGBAAt(16, 8))
	assert.Equal(t, green, m.Image.RGBAAt(23, 15))
	assert.Equal(t, Background, m.Image.RGBAAt(12, 12))
	assert.Equal(t, Background, m.Image.RGBAAt(12, 20))
}

func TestAssembleRescalesOffSizeTiles(t *testing.T) {
	t.Parallel()

	m, filled := Assemble(testGrid(2, 1), map[grid.Pos]image.Image{
		{X: 1, Y: 0}: solid(4, 4, blue),
	}, 16)
	assert.Equal(t, 1, filled)
	assertNear(t, blue, m.Image.RGBAAt(24, 8))
	assert.Equal(t, Background, m.Image.RGBAAt(8, 8))
}

func TestAssembleNeverFails(t *testing.T) {
	t.Parallel()

	m, filled := Assemble(testGrid(2, 2), nil, 0)
	require.NotNil(t, m)
	assert.Zero(t, filled)
	assert.Equal(t, 2*DefaultTileSize, m.Width())

	m, filled = AssembleWithBackground(nil, nil, 4, color.White)
	require.NotNil(t, m)
	assert.Zero(t, filled)
	assert.Zero(t, m.Width())
}

func TestCellGeometry(t *testing.T) {
	t.Parallel()

	m, _ := Assemble(testGrid(3, 3), nil, 512)
	assert.Equal(t, image.Rect(512, 1024, 1024, 1536), m.CellRect(grid.Pos{X: 1, Y: 2}))
	assert.Equal(t, image.Pt(768, 768), m.CellCenter(grid.Pos{X: 1, Y: 1}))
}

func TestSubImage(t *testing.T) {
	t.Parallel()

	m, _ := Assemble(testGrid(2, 1), map[grid.Pos]image.Image{{X: 1, Y: 0}: solid(4, 4, red)}, 4)
	sub := m.SubImage(image.Rect(2, 0, 6, 4))
	assert.Equal(t, 4, sub.Width())
	assert.Equal(t, Background, sub.Image.RGBAAt(0, 0))
	assert.Equal(t, red, sub.Image.RGBAAt(3, 3))

	clipped := m.SubImage(image.Rect(6, 0, 20, 10))
	assert.Equal(t, 2, clipped.Width())
	assert.Equal(t, 4, clipped.Height())
}

func TestShiftInside(t *testing.T) {
	t.Parallel()

	bounds := image.Rect(0, 0, 100, 80)
	tests := []struct {
		name   string
		center image.Point
		want   image.Rectangle
	}{
		{"centered", image.Pt(50, 40), image.Rect(40, 30, 60, 50)},
		{"top left", image.Pt(2, 3), image.Rect(0, 0, 20, 20)},
		{"bottom right", image.Pt(99, 79), image.Rect(80, 60, 100, 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShiftInside(tt.center, 20, 20, bounds))
		})
	}
}

func TestAnnotateDrawsCrosshair(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	o := DefaultOverlay()
	o.Title = "M51"
	o.Subtitle = "Galaxy"
	Annotate(img, image.Pt(50, 50), o)

	yellow := color.RGBA{255, 255, 0, 255}
	assert.Equal(t, yellow, img.RGBAAt(20, 50))
	assert.Equal(t, yellow, img.RGBAAt(80, 50))
	assert.Equal(t, yellow, img.RGBAAt(50, 20))
	assert.Equal(t, yellow, img.RGBAAt(50, 80))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(10, 10))

	// Some label pixels land right of the crosshair.
	lit := 0
	for y := 25; y < 75; y++ {
		for x := 90; x < 200; x++ {
			if img.RGBAAt(x, y) == yellow {
				lit++
			}
		}
	}
	assert.Positive(t, lit)

	// Near the edge the marker is clipped, not rejected.
	assert.NotPanics(t, func() { Annotate(img, image.Pt(0, 0), o) })
}

func TestPreview(t *testing.T) {
	t.Parallel()

	p := Preview(solid(400, 200, red), 100)
	assert.Equal(t, image.Rect(0, 0, 100, 50), p.Bounds())
	assertNear(t, red, p.RGBAAt(50, 25))

	same := Preview(solid(40, 20, green), 100)
	assert.Equal(t, image.Rect(0, 0, 40, 20), same.Bounds())
}

func TestPaddingFactor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 8.0, PaddingFactor(0.5, 4))
	assert.Equal(t, 5.0, PaddingFactor(1.4, 1.0))
	assert.Equal(t, 3.0, PaddingFactor(11.2, 6.9))
	assert.Equal(t, 2.0, PaddingFactor(26.9, 14.1))
	assert.Equal(t, 1.5, PaddingFactor(178, 63))
}

func TestZoomedView(t *testing.T) {
	t.Parallel()

	m, _ := Assemble(testGrid(3, 3), nil, 512)

	// M51: 11.2' × 3 = 33.6' of a 1536 px × 1.61"/px = 41.2' field.
	z, info := ZoomedView(m, m.Center(), 11.2, 6.9, 1.61)
	assert.Equal(t, 3.0, info.Padding)
	assert.InDelta(t, 33.6/41.216, info.Fraction, 1e-3)
	assert.Equal(t, z.Width(), info.Rect.Dx())
	assert.Equal(t, z.Width(), z.Height())

	// Large objects keep the whole mosaic.
	_, info = ZoomedView(m, m.Center(), 178, 63, 1.61)
	assert.Equal(t, 1.0, info.Fraction)
	assert.Equal(t, m.Image.Bounds(), info.Rect)

	// Tiny objects are held at half the mosaic.
	_, info = ZoomedView(m, image.Pt(0, 0), 0.1, 0.1, 1.61)
	assert.Equal(t, MinTinyZoomFraction, info.Fraction)
	assert.Equal(t, image.Pt(0, 0), info.Rect.Min)
}
