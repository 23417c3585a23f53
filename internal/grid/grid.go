// Package grid lays out HEALPix pixels as a rectangular tile grid around a center pixel.
package grid

import (
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/sky"
)

// Method records how a grid's cells were chosen.
type Method string

const (
	MethodExact       Method = "exact"
	MethodExtrapolate Method = "extrapolate"
	MethodWalk        Method = "walk"
	MethodFallback    Method = "fallback"
)

// Pos addresses a cell. X grows to the right, Y grows down the mosaic.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cell is one tile slot of a Grid.
type Cell struct {
	Pos
	Pixel  healpix.Pixel  `json:"pixel"`
	Center sky.Coordinate `json:"center"`
}

// HasPixel reports whether the cell resolved to a real pixel.
func (c Cell) HasPixel() bool {
	return c.Pixel != healpix.NoPixel
}

// Grid is a width×height block of cells stored row-major. Cells are never
// modified after the builder returns.
type Grid struct {
	Order          int           `json:"order"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Center         healpix.Pixel `json:"center_pixel"`
	Method         Method        `json:"method"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Cells          []Cell        `json:"cells"`
}

// CenterPos is the position that holds the originating pixel.
func (g *Grid) CenterPos() Pos {
	return Pos{X: g.Width / 2, Y: g.Height / 2}
}

// At returns the cell at (x, y).
func (g *Grid) At(x, y int) (Cell, bool) {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return Cell{}, false
	}
	return g.Cells[y*g.Width+x], true
}

// Pixel returns the pixel at (x, y), or NoPixel outside the grid.
func (g *Grid) Pixel(x, y int) healpix.Pixel {
	c, ok := g.At(x, y)
	if !ok {
		return healpix.NoPixel
	}
	return c.Pixel
}

// Coverage is the fraction of cells holding a real pixel.
func (g *Grid) Coverage() float64 {
	if len(g.Cells) == 0 {
		return 0
	}
	n := 0
	for _, c := range g.Cells {
		if c.HasPixel() {
			n++
		}
	}
	return float64(n) / float64(len(g.Cells))
}

// UsedFallback reports whether the grid was rebuilt from the uniform heuristic.
func (g *Grid) UsedFallback() bool {
	return g.Method == MethodFallback
}

// CenterBlock extracts the 3×3 sub-block around CenterPos as [row][col].
// Positions outside the grid read as NoPixel.
func (g *Grid) CenterBlock() Block {
	c := g.CenterPos()
	var b Block
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			b[row][col] = g.Pixel(c.X-1+col, c.Y-1+row)
		}
	}
	return b
}

// Pixels returns the pixel ids as [row][col].
func (g *Grid) Pixels() [][]healpix.Pixel {
	out := make([][]healpix.Pixel, g.Height)
	for y := range out {
		out[y] = make([]healpix.Pixel, g.Width)
		for x := range out[y] {
			out[y][x] = g.Cells[y*g.Width+x].Pixel
		}
	}
	return out
}

// Block is a 3×3 neighbourhood as [row][col].
type Block [3][3]healpix.Pixel

// layout is the fixed placement of the exact neighbourhood:
// row 0 = SW, S, SE; row 1 = W, center, E; row 2 = NW, N, NE.
func layout(center healpix.Pixel, nb healpix.Neighborhood) Block {
	var b Block
	b[1][1] = center
	for _, d := range healpix.Directions {
		dx, dy := d.Offset()
		b[1+dy][1+dx] = nb[d]
	}
	return b
}
