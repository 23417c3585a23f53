package grid

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/sky"
)

const (
	m51Pixel  healpix.Pixel = 176440
	cornerPix healpix.Pixel = 21845 // base-face corner with only 7 neighbours
	testOrder               = 8
)

var m51Block = Block{
	{176429, 176423, 176434},
	{176431, 176440, 176435},
	{176442, 176443, 176441},
}

func newTestBuilder(t *testing.T, cfg Config) *Builder {
	t.Helper()
	r, err := healpix.NewResolver(healpix.Nested{}, healpix.FormalCompassOrder)
	require.NoError(t, err)
	return NewBuilder(r, cfg)
}

func TestBuildThreeByThreeM51(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())
	g, err := b.BuildThreeByThree(m51Pixel, testOrder)
	require.NoError(t, err)

	assert.Equal(t, MethodExact, g.Method)
	assert.Equal(t, m51Pixel, g.Pixel(1, 1))
	assert.Equal(t, m51Block, g.CenterBlock())
	assert.Equal(t, 1.0, g.Coverage())
	assert.Len(t, g.Cells, 9)

	c, ok := g.At(1, 1)
	require.True(t, ok)
	assert.InDelta(t, 202.5982532751092, c.Center.RA, 1e-9)
	assert.InDelta(t, 47.16134274309578, c.Center.Dec, 1e-9)
}

func TestEndToEndM51CenterPixel(t *testing.T) {
	t.Parallel()

	target := sky.MustNew(202.4695833, 47.1951667, "M51")
	b := newTestBuilder(t, DefaultConfig())

	for run := 0; run < 3; run++ {
		p, err := healpix.Nested{}.SkyToPixel(target, testOrder)
		require.NoError(t, err)
		require.Equal(t, m51Pixel, p)

		g, err := b.BuildThreeByThree(p, testOrder)
		require.NoError(t, err)
		require.Equal(t, m51Pixel, g.Pixel(1, 1))
	}
}

func TestThreeByThreeReciprocity(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())
	idx := healpix.Nested{}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		center := healpix.Pixel(rng.Int63n(healpix.NPix(testOrder)))
		g, err := b.BuildThreeByThree(center, testOrder)
		require.NoError(t, err)
		require.Equal(t, center, g.Pixel(1, 1))

		for _, c := range g.Cells {
			if c.Pos == (Pos{1, 1}) || !c.HasPixel() {
				continue
			}
			nbs, err := idx.Neighbors(c.Pixel, testOrder)
			require.NoError(t, err)
			assert.Contains(t, nbs, center, "neighbour %d of %d", c.Pixel, center)
		}
	}
}

func TestBuildGridThreeByThreeDelegates(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())
	for _, center := range []healpix.Pixel{m51Pixel, cornerPix, 0, 12345} {
		exact, err := b.BuildThreeByThree(center, testOrder)
		require.NoError(t, err)
		g, err := b.BuildGrid(center, testOrder, 3, 3)
		require.NoError(t, err)
		if diff := cmp.Diff(exact, g); diff != "" {
			t.Errorf("BuildGrid(3,3) mismatch for %d (-exact +grid):\n%s", center, diff)
		}
	}
}

func TestBuildGridExtrapolatesAroundExactBlock(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())
	g, err := b.BuildGrid(m51Pixel, testOrder, 5, 5)
	require.NoError(t, err)

	assert.Equal(t, MethodExtrapolate, g.Method)
	assert.False(t, g.UsedFallback())
	assert.Empty(t, g.FallbackReason)
	assert.Equal(t, Pos{2, 2}, g.CenterPos())
	assert.Equal(t, m51Block, g.CenterBlock())
	assert.Equal(t, 1.0, g.Coverage())

	// spacing = 256/32 = 8, rows are 64 apart.
	assert.Equal(t, healpix.Pixel(176440-128-16), g.Pixel(0, 0))
	assert.Equal(t, healpix.Pixel(176440+128+16), g.Pixel(4, 4))
	assert.Equal(t, healpix.Pixel(176440+16), g.Pixel(4, 2))
}

func TestBuildGridCenterBlockHoldsUnlessFallback(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Strategy{StrategyExtrapolate, StrategyWalk} {
		b := newTestBuilder(t, Config{Strategy: strategy, MinCoverage: DefaultMinCoverage})
		rng := rand.New(rand.NewSource(11))
		for i := 0; i < 60; i++ {
			order := 3 + rng.Intn(6)
			center := healpix.Pixel(rng.Int63n(healpix.NPix(order)))
			w, h := 1+rng.Intn(7), 1+rng.Intn(7)

			g, err := b.BuildGrid(center, order, w, h)
			require.NoError(t, err)
			require.Len(t, g.Cells, w*h)
			assert.Equal(t, center, g.Pixel(w/2, h/2))

			exact, err := b.BuildThreeByThree(center, order)
			require.NoError(t, err)
			want := clipBlock(exact.CenterBlock(), w, h)
			if g.UsedFallback() {
				assert.NotEmpty(t, g.FallbackReason)
				continue
			}
			assert.Equal(t, want, g.CenterBlock(), "%s %dx%d around %d at order %d", strategy, w, h, center, order)
		}
	}
}

// clipBlock blanks the parts of a 3×3 block that fall outside a w×h grid.
func clipBlock(b Block, w, h int) Block {
	cx, cy := w/2, h/2
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			x, y := cx-1+col, cy-1+row
			if x < 0 || y < 0 || x >= w || y >= h {
				b[row][col] = healpix.NoPixel
			}
		}
	}
	return b
}

func TestBuildGridLowCoverageFallsBack(t *testing.T) {
	t.Parallel()

	for _, strategy := range []Strategy{StrategyExtrapolate, StrategyWalk} {
		t.Run(string(strategy), func(t *testing.T) {
			b := newTestBuilder(t, Config{Strategy: strategy, MinCoverage: DefaultMinCoverage})

			exact, err := b.BuildThreeByThree(cornerPix, testOrder)
			require.NoError(t, err)
			assert.InDelta(t, 8.0/9.0, exact.Coverage(), 1e-12)

			g, err := b.BuildGrid(cornerPix, testOrder, 4, 4)
			require.NoError(t, err)
			assert.True(t, g.UsedFallback())
			assert.Equal(t, MethodFallback, g.Method)
			assert.Contains(t, g.FallbackReason, "coverage 93.8%")
			assert.Equal(t, 1.0, g.Coverage())
			assert.Equal(t, cornerPix, g.Pixel(2, 2))
			assert.NotEqual(t, exact.CenterBlock(), g.CenterBlock())
			assert.Equal(t, Extrapolate(cornerPix, testOrder, -2, -2), g.Pixel(0, 0))
		})
	}
}

func TestBuildGridAcceptsLowerCoverageThreshold(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, Config{Strategy: StrategyExtrapolate, MinCoverage: 0.9})
	g, err := b.BuildGrid(cornerPix, testOrder, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, MethodExtrapolate, g.Method)
	assert.InDelta(t, 15.0/16.0, g.Coverage(), 1e-12)
	assert.Equal(t, healpix.NoPixel, g.Pixel(3, 2))

	c, ok := g.At(3, 2)
	require.True(t, ok)
	assert.False(t, c.HasPixel())
	assert.Equal(t, sky.Coordinate{}, c.Center)
}

func TestBuildGridWalk(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, Config{Strategy: StrategyWalk})
	g, err := b.BuildGrid(m51Pixel, testOrder, 5, 5)
	require.NoError(t, err)

	want := [][]healpix.Pixel{
		{176425, 176422, 176420, 176421, 176410},
		{176430, 176429, 176423, 176434, 176433},
		{176516, 176431, 176440, 176435, 176436},
		{176517, 176442, 176443, 176441, 176438},
		{176530, 176529, 176532, 176446, 176445},
	}
	if diff := cmp.Diff(want, g.Pixels()); diff != "" {
		t.Fatalf("walk grid mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, MethodWalk, g.Method)

	seen := map[healpix.Pixel]bool{}
	for _, c := range g.Cells {
		assert.False(t, seen[c.Pixel], "pixel %d repeated", c.Pixel)
		seen[c.Pixel] = true
	}
	assert.Less(t, g.Quality().MaxRatio, 2.5)
}

func TestBuildGridSmallSizes(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())

	g, err := b.BuildGrid(m51Pixel, testOrder, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]healpix.Pixel{{m51Pixel}}, g.Pixels())

	g, err = b.BuildGrid(m51Pixel, testOrder, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, [][]healpix.Pixel{{176429, 176423}, {176431, 176440}}, g.Pixels())
}

func TestBuildGridInvalidArguments(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())

	_, err := b.BuildGrid(m51Pixel, testOrder, 0, 3)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = b.BuildGrid(healpix.Pixel(healpix.NPix(testOrder)), testOrder, 5, 5)
	assert.ErrorIs(t, err, healpix.ErrPixelOutOfRange)
	_, err = b.BuildThreeByThree(m51Pixel, -1)
	assert.ErrorIs(t, err, healpix.ErrInvalidOrder)
}

func TestExtrapolate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), ExtrapolationSpacing(3))
	assert.Equal(t, int64(8), ExtrapolationSpacing(8))
	assert.Equal(t, healpix.Pixel(0), Extrapolate(0, 8, -1, -1))
	assert.Equal(t, healpix.Pixel(healpix.NPix(8)-1), Extrapolate(healpix.Pixel(healpix.NPix(8)-1), 8, 3, 3))
	assert.Equal(t, healpix.Pixel(100+8-1), Extrapolate(100, 3, -1, 1))
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyExtrapolate, s)
	s, err = ParseStrategy("walk")
	require.NoError(t, err)
	assert.Equal(t, StrategyWalk, s)
	_, err = ParseStrategy("spiral")
	assert.Error(t, err)
}

func TestQualityExactGrid(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t, DefaultConfig())
	g, err := b.BuildThreeByThree(m51Pixel, testOrder)
	require.NoError(t, err)

	q := g.Quality()
	assert.Equal(t, 12, q.Pairs)
	assert.Greater(t, q.MeanArcsec, 0.0)
	assert.GreaterOrEqual(t, q.MaxArcsec, q.MeanArcsec)
	assert.InDelta(t, 1.81, q.MaxRatio, 0.01)

	empty := &Grid{Order: testOrder, Width: 1, Height: 1, Cells: []Cell{{Pixel: healpix.NoPixel}}}
	assert.Equal(t, Quality{}, empty.Quality())
	assert.Zero(t, empty.Coverage())
}
