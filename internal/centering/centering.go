// Package centering places an arbitrary sky coordinate inside a stitched mosaic
// and crops the mosaic so that coordinate lands on the output's center pixel.
package centering

import (
	"fmt"
	"image"
	"log"
	"math"

	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/mosaic"
	"hips-mosaic/internal/sky"
)

const (
	// DefaultArcsecPerPixel is the measured scale of a 512 px tile at order 8.
	DefaultArcsecPerPixel = 1.61
	// DefaultMaxOffsetPixels bounds a believable offset from a cell center.
	DefaultMaxOffsetPixels = 400
	// DefaultOutputSize is the edge of the centered crop.
	DefaultOutputSize = 1200
)

// Config holds the calibration used to turn angles into pixels.
type Config struct {
	ArcsecPerPixel  float64 `json:"arcsec_per_pixel"`
	MaxOffsetPixels float64 `json:"max_offset_pixels"`
	OutputSize      int     `json:"output_size"`
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{
		ArcsecPerPixel:  DefaultArcsecPerPixel,
		MaxOffsetPixels: DefaultMaxOffsetPixels,
		OutputSize:      DefaultOutputSize,
	}
}

// DerivedArcsecPerPixel computes the tile scale from the tiling itself: the
// mean pixel size at order spread over tileSize image pixels.
func DerivedArcsecPerPixel(order, tileSize int) float64 {
	if tileSize <= 0 {
		tileSize = mosaic.DefaultTileSize
	}
	return healpix.PixelSize(order) * 3600 / float64(tileSize)
}

// WithDerivedScale fills a zero ArcsecPerPixel from the tiling geometry.
func (c Config) WithDerivedScale(order, tileSize int) Config {
	if c.ArcsecPerPixel <= 0 {
		c.ArcsecPerPixel = DerivedArcsecPerPixel(order, tileSize)
	}
	return c
}

// Offset is a displacement in mosaic pixels. DY grows downward.
type Offset struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Anchor is a target resolved to an absolute pixel of a mosaic.
type Anchor struct {
	Target sky.Coordinate `json:"target"`
	Point  image.Point    `json:"point"`
	Cell   grid.Cell      `json:"cell"`
	Offset Offset         `json:"offset"`
	// SeparationArcsec is the distance from the target to Cell's center.
	SeparationArcsec float64 `json:"separation_arcsec"`
	// Fallback is set when Point is the geometric mosaic center instead.
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
}

// Engine resolves anchors and crops. It holds no state beyond its Config.
type Engine struct {
	cfg Config
}

// NewEngine returns an Engine, substituting defaults for non-positive settings.
func NewEngine(cfg Config) *Engine {
	if cfg.ArcsecPerPixel <= 0 {
		cfg.ArcsecPerPixel = DefaultArcsecPerPixel
	}
	if cfg.MaxOffsetPixels <= 0 {
		cfg.MaxOffsetPixels = DefaultMaxOffsetPixels
	}
	if cfg.OutputSize <= 0 {
		cfg.OutputSize = DefaultOutputSize
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective calibration.
func (e *Engine) Config() Config {
	return e.cfg
}

// LocateContainingCell returns the cell whose center is nearest to target by
// great-circle distance. Cells without a pixel are skipped; ok is false when
// none remain. Nearest center stands in for true pixel containment.
func (e *Engine) LocateContainingCell(target sky.Coordinate, g *grid.Grid) (grid.Cell, bool) {
	var (
		best  grid.Cell
		bestD = math.Inf(1)
		found bool
	)
	if g == nil {
		return best, false
	}
	for _, c := range g.Cells {
		if !c.HasPixel() {
			continue
		}
		if d := sky.Distance(target, c.Center).Radians(); d < bestD {
			best, bestD, found = c, d, true
		}
	}
	return best, found
}

// ComputePixelOffset converts the angular offset of target from cell's center
// into pixels. RA is scaled by cos(target Dec) and Dec is negated so north
// moves up the raster. ok is false when either component exceeds
// MaxOffsetPixels.
func (e *Engine) ComputePixelOffset(target sky.Coordinate, cell grid.Cell) (Offset, bool) {
	dRA := sky.DeltaRA(cell.Center.RA, target.RA) * 3600 * math.Cos(target.Dec*math.Pi/180)
	dDec := (target.Dec - cell.Center.Dec) * 3600

	off := Offset{
		DX: dRA / e.cfg.ArcsecPerPixel,
		DY: -dDec / e.cfg.ArcsecPerPixel,
	}
	ok := math.Abs(off.DX) <= e.cfg.MaxOffsetPixels && math.Abs(off.DY) <= e.cfg.MaxOffsetPixels
	return off, ok
}

// ResolveAnchor finds target's pixel in m. The containing cell's center pixel
// is pos·tileSize + tileSize/2; the rounded offset is added and the result is
// clamped to the raster. When no cell is found or the offset is implausible
// the geometric center of m is used and Fallback is set.
func (e *Engine) ResolveAnchor(target sky.Coordinate, g *grid.Grid, m *mosaic.Mosaic) Anchor {
	a := Anchor{Target: target, Point: m.Center()}

	cell, ok := e.LocateContainingCell(target, g)
	if !ok {
		a.Fallback = true
		a.Reason = "no grid cell with a resolved pixel"
		log.Printf("[Centering] %s: %s, using mosaic center %v", target, a.Reason, a.Point)
		return a
	}
	a.Cell = cell
	a.SeparationArcsec = sky.Distance(target, cell.Center).Degrees() * 3600

	off, ok := e.ComputePixelOffset(target, cell)
	a.Offset = off
	if !ok {
		a.Fallback = true
		a.Reason = fmt.Sprintf("offset (%.1f, %.1f) px exceeds ±%.0f px", off.DX, off.DY, e.cfg.MaxOffsetPixels)
		log.Printf("[Centering] %s: %s, using mosaic center %v", target, a.Reason, a.Point)
		return a
	}

	c := m.CellCenter(cell.Pos)
	x := c.X + int(math.Round(off.DX))
	y := c.Y + int(math.Round(off.DY))
	a.Point = image.Pt(clamp(x, 0, m.Width()-1), clamp(y, 0, m.Height()-1))

	log.Printf("[Centering] %s in cell (%d,%d) pixel %d, %.1f\" from center, offset (%.1f, %.1f) px -> %v",
		target, cell.X, cell.Y, cell.Pixel, a.SeparationArcsec, off.DX, off.DY, a.Point)
	return a
}

// Crop is a centered window cut from a mosaic.
type Crop struct {
	Mosaic *mosaic.Mosaic  `json:"-"`
	Rect   image.Rectangle `json:"rect"`
	// Target is the anchor's position inside the cropped raster.
	Target image.Point `json:"target"`
	// Shift is Target minus the crop center. It is non-zero when the window
	// had to move to stay inside the mosaic.
	Shift image.Point `json:"shift"`
}

// Centered reports whether the target landed on the exact output center.
func (c Crop) Centered() bool {
	return c.Shift == image.Point{}
}

// CropCentered cuts an outputSize square centered on the anchor. The size is
// capped to the mosaic's shorter edge and the window is shifted, never padded,
// to stay inside the raster. A non-positive outputSize uses the configured one.
func (e *Engine) CropCentered(m *mosaic.Mosaic, a Anchor, outputSize int) Crop {
	if outputSize <= 0 {
		outputSize = e.cfg.OutputSize
	}
	size := min(outputSize, m.Width(), m.Height())
	r := mosaic.ShiftInside(a.Point, size, size, m.Image.Bounds())

	target := a.Point.Sub(r.Min)
	crop := Crop{
		Mosaic: m.SubImage(r),
		Rect:   r,
		Target: target,
		Shift:  target.Sub(image.Pt(size/2, size/2)),
	}
	if !crop.Centered() {
		log.Printf("[Centering] Crop window shifted by %v to stay inside %dx%d mosaic", crop.Shift, m.Width(), m.Height())
	}
	return crop
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return max(lo, min(v, hi))
}
