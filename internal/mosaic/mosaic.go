// Package mosaic stitches per-cell tile images into one raster and derives
// annotated, cropped and zoomed views from it.
package mosaic

import (
	"image"
	"image/color"
	"log"

	"golang.org/x/image/draw"

	"hips-mosaic/internal/grid"
)

// DefaultTileSize is the edge of a HiPS tile in pixels.
const DefaultTileSize = 512

// Background fills cells without imagery.
var Background = color.RGBA{0, 0, 0, 255}

// Mosaic is a stitched raster of GridWidth×GridHeight tiles.
type Mosaic struct {
	Image      *image.RGBA
	TileSize   int
	GridWidth  int
	GridHeight int
}

// Width returns the raster width in pixels.
func (m *Mosaic) Width() int { return m.Image.Bounds().Dx() }

// Height returns the raster height in pixels.
func (m *Mosaic) Height() int { return m.Image.Bounds().Dy() }

// Center returns the geometric center pixel.
func (m *Mosaic) Center() image.Point {
	return image.Pt(m.Width()/2, m.Height()/2)
}

// CellRect returns the raster rectangle covered by the cell at pos.
func (m *Mosaic) CellRect(pos grid.Pos) image.Rectangle {
	x, y := pos.X*m.TileSize, pos.Y*m.TileSize
	return image.Rect(x, y, x+m.TileSize, y+m.TileSize)
}

// CellCenter returns the center pixel of the cell at pos.
func (m *Mosaic) CellCenter(pos grid.Pos) image.Point {
	return image.Pt(pos.X*m.TileSize+m.TileSize/2, pos.Y*m.TileSize+m.TileSize/2)
}

// Assemble places tiles[pos] at (pos.X·tileSize, pos.Y·tileSize) on a blank
// raster sized to g. Tiles that are not tileSize square are rescaled. Missing,
// nil or out-of-grid tiles leave the background showing. It returns the mosaic
// and the number of cells that received imagery.
func Assemble(g *grid.Grid, tiles map[grid.Pos]image.Image, tileSize int) (*Mosaic, int) {
	return AssembleWithBackground(g, tiles, tileSize, Background)
}

// AssembleWithBackground is Assemble with an explicit background colour.
func AssembleWithBackground(g *grid.Grid, tiles map[grid.Pos]image.Image, tileSize int, bg color.Color) (*Mosaic, int) {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	w, h := 0, 0
	if g != nil {
		w, h = g.Width, g.Height
	}

	m := &Mosaic{
		Image:      image.NewRGBA(image.Rect(0, 0, w*tileSize, h*tileSize)),
		TileSize:   tileSize,
		GridWidth:  w,
		GridHeight: h,
	}
	draw.Draw(m.Image, m.Image.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	filled := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := grid.Pos{X: x, Y: y}
			img, ok := tiles[pos]
			if !ok || img == nil || img.Bounds().Empty() {
				continue
			}
			dst := m.CellRect(pos)
			b := img.Bounds()
			if b.Dx() == tileSize && b.Dy() == tileSize {
				draw.Draw(m.Image, dst, img, b.Min, draw.Src)
			} else {
				draw.CatmullRom.Scale(m.Image, dst, img, b, draw.Src, nil)
			}
			filled++
		}
	}

	log.Printf("[Mosaic] Assembled %dx%d mosaic (%dx%d px), %d/%d tiles filled",
		w, h, m.Width(), m.Height(), filled, w*h)
	return m, filled
}

// SubImage copies r out of the mosaic into a new raster. The copy keeps the
// tile size but has no grid of its own.
func (m *Mosaic) SubImage(r image.Rectangle) *Mosaic {
	r = r.Intersect(m.Image.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), m.Image, r.Min, draw.Src)
	return &Mosaic{Image: out, TileSize: m.TileSize}
}
