package grid

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/sky"
)

// Quality summarizes angular separations between horizontally and vertically
// adjacent cells. In an exact grid they sit near one pixel size apart; drift from
// extrapolation shows up as a large max or spread.
type Quality struct {
	Pairs        int     `json:"pairs"`
	MeanArcsec   float64 `json:"mean_arcsec"`
	StdDevArcsec float64 `json:"stddev_arcsec"`
	MaxArcsec    float64 `json:"max_arcsec"`
	// MaxRatio is MaxArcsec over the mean pixel size at the grid's order.
	MaxRatio float64 `json:"max_ratio"`
}

// Quality measures adjacent-cell spacing over cells that hold a pixel.
func (g *Grid) Quality() Quality {
	var seps []float64
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			c, _ := g.At(x, y)
			if !c.HasPixel() {
				continue
			}
			for _, next := range [2]Pos{{X: x + 1, Y: y}, {X: x, Y: y + 1}} {
				n, ok := g.At(next.X, next.Y)
				if !ok || !n.HasPixel() {
					continue
				}
				seps = append(seps, sky.Distance(c.Center, n.Center).Degrees()*3600)
			}
		}
	}

	q := Quality{Pairs: len(seps)}
	if len(seps) == 0 {
		return q
	}
	q.MeanArcsec = stat.Mean(seps, nil)
	if len(seps) > 1 {
		q.StdDevArcsec = stat.StdDev(seps, nil)
	}
	q.MaxArcsec = floats.Max(seps)
	if size := healpix.PixelSize(g.Order) * 3600; size > 0 && !math.IsInf(size, 0) {
		q.MaxRatio = q.MaxArcsec / size
	}
	return q
}
