package healpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFormal(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(Nested{}, FormalCompassOrder)
	require.NoError(t, err)

	nb, err := r.Resolve(176440, 8)
	require.NoError(t, err)
	want := map[Direction]Pixel{
		SW: 176429, W: 176431, NW: 176442, N: 176443,
		NE: 176441, E: 176435, SE: 176434, S: 176423,
	}
	assert.Equal(t, want, nb.Map())
	assert.Equal(t, 8, nb.Count())
}

func TestResolveLegacy(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(nil, LegacyCompassOrder)
	require.NoError(t, err)

	nb, err := r.Resolve(176440, 8)
	require.NoError(t, err)
	p, ok := nb.Get(S)
	require.True(t, ok)
	assert.Equal(t, Pixel(176429), p)
	p, _ = nb.Get(SW)
	assert.Equal(t, Pixel(176423), p)
}

func TestResolveMissingNeighbor(t *testing.T) {
	t.Parallel()

	r, err := NewResolver(Nested{}, FormalCompassOrder)
	require.NoError(t, err)

	nb, err := r.Resolve(21845, 8)
	require.NoError(t, err)
	assert.Equal(t, 7, nb.Count())
	_, ok := nb.Get(E)
	assert.False(t, ok)
	assert.NotContains(t, nb.Map(), E)

	_, err = r.Resolve(Pixel(NPix(8)), 8)
	assert.ErrorIs(t, err, ErrPixelOutOfRange)
}

func TestCompassOrderValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, FormalCompassOrder.Validate())
	require.NoError(t, LegacyCompassOrder.Validate())

	dup := FormalCompassOrder
	dup[0] = dup[1]
	assert.Error(t, dup.Validate())

	_, err := NewResolver(Nested{}, dup)
	assert.Error(t, err)
}

func TestParseCompassOrder(t *testing.T) {
	t.Parallel()

	c, err := ParseCompassOrder("")
	require.NoError(t, err)
	assert.Equal(t, FormalCompassOrder, c)

	c, err = ParseCompassOrder(" Legacy ")
	require.NoError(t, err)
	assert.Equal(t, LegacyCompassOrder, c)

	_, err = ParseCompassOrder("diagonal")
	assert.Error(t, err)
}

func TestDirectionOffsetsCoverRing(t *testing.T) {
	t.Parallel()

	seen := map[[2]int]Direction{}
	for _, d := range Directions {
		dx, dy := d.Offset()
		require.False(t, dx == 0 && dy == 0, d.String())
		_, dup := seen[[2]int{dx, dy}]
		require.False(t, dup, d.String())
		seen[[2]int{dx, dy}] = d
	}
	assert.Equal(t, SW, seen[[2]int{-1, -1}])
	assert.Equal(t, N, seen[[2]int{0, 1}])
	assert.Equal(t, "NE", NE.String())
}
