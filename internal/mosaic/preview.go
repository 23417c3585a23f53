package mosaic

import (
	"image"
	"log"
	"math"

	"golang.org/x/image/draw"
)

// Preview scales src so its longer edge is at most maxEdge pixels.
// Images that already fit are copied unchanged.
func Preview(src image.Image, maxEdge int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxEdge > 0 && (w > maxEdge || h > maxEdge) {
		scale := float64(maxEdge) / float64(max(w, h))
		w = max(1, int(math.Round(float64(w)*scale)))
		h = max(1, int(math.Round(float64(h)*scale)))
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
		return out
	}
	draw.CatmullRom.Scale(out, out.Bounds(), src, b, draw.Src, nil)
	return out
}

// Zoom limits applied to the fraction of the mosaic a zoomed view keeps.
const (
	MinZoomFraction     = 0.3
	MinTinyZoomFraction = 0.5
	tinyObjectArcmin    = 2.0
)

// ZoomInfo explains how a zoomed view was framed.
type ZoomInfo struct {
	Padding     float64         `json:"padding"`
	Fraction    float64         `json:"fraction"`
	Rect        image.Rectangle `json:"rect"`
	FieldArcmin float64         `json:"field_arcmin"`
}

// PaddingFactor returns the margin multiplier for an object of the given size.
// Smaller objects get proportionally more surrounding sky.
func PaddingFactor(widthArcmin, heightArcmin float64) float64 {
	switch {
	case widthArcmin < 1 || heightArcmin < 1:
		return 8
	case widthArcmin < 3 || heightArcmin < 3:
		return 5
	case widthArcmin < 8 || heightArcmin < 8:
		return 3
	case widthArcmin < 20 || heightArcmin < 20:
		return 2
	}
	return 1.5
}

// ZoomedView crops a square around center sized to frame an object of
// widthArcmin×heightArcmin with padding. arcsecPerPixel converts the mosaic
// extent into a field of view. The crop keeps between 30% and 100% of the
// shorter mosaic edge (50% for objects under 2 arcmin) and is shifted to stay
// inside the raster.
func ZoomedView(m *Mosaic, center image.Point, widthArcmin, heightArcmin, arcsecPerPixel float64) (*Mosaic, ZoomInfo) {
	edge := min(m.Width(), m.Height())
	field := float64(edge) * arcsecPerPixel / 60

	info := ZoomInfo{Padding: PaddingFactor(widthArcmin, heightArcmin), Fraction: 1}
	if field > 0 {
		info.Fraction = math.Max(widthArcmin*info.Padding, heightArcmin*info.Padding) / field
	}
	info.Fraction = math.Max(MinZoomFraction, math.Min(1, info.Fraction))
	if widthArcmin < tinyObjectArcmin || heightArcmin < tinyObjectArcmin {
		info.Fraction = math.Max(info.Fraction, MinTinyZoomFraction)
	}

	size := int(float64(edge) * info.Fraction)
	info.Rect = ShiftInside(center, size, size, m.Image.Bounds())
	info.FieldArcmin = float64(size) * arcsecPerPixel / 60

	log.Printf("[Mosaic] Zoomed view %.1fx%.1f arcmin (padding %.1fx): fraction %.3f, crop %v",
		widthArcmin, heightArcmin, info.Padding, info.Fraction, info.Rect)
	return m.SubImage(info.Rect), info
}

// ShiftInside returns a w×h rectangle centered on c, moved (not shrunk) so it
// lies inside bounds. w and h must not exceed the bounds' size.
func ShiftInside(c image.Point, w, h int, bounds image.Rectangle) image.Rectangle {
	x := c.X - w/2
	y := c.Y - h/2
	x = max(bounds.Min.X, min(x, bounds.Max.X-w))
	y = max(bounds.Min.Y, min(y, bounds.Max.Y-h))
	return image.Rect(x, y, x+w, y+h)
}
