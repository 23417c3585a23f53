package mosaic

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Overlay describes the marker drawn at a target.
type Overlay struct {
	// Arm is the half-length of each crosshair line.
	Arm       int
	Thickness int
	Color     color.Color
	Title     string
	Subtitle  string
	Shadow    bool
}

// DefaultOverlay returns the yellow ±30 px crosshair.
func DefaultOverlay() Overlay {
	return Overlay{
		Arm:       30,
		Thickness: 3,
		Color:     color.RGBA{255, 255, 0, 255},
		Shadow:    true,
	}
}

// Annotate draws o at center on dst. The title is written right of the
// crosshair above the horizontal arm and the subtitle below it.
func Annotate(dst draw.Image, center image.Point, o Overlay) {
	if o.Color == nil {
		o.Color = DefaultOverlay().Color
	}
	if o.Thickness <= 0 {
		o.Thickness = 1
	}
	src := image.NewUniform(o.Color)
	half := o.Thickness / 2

	if o.Arm > 0 {
		horiz := image.Rect(center.X-o.Arm, center.Y-half, center.X+o.Arm+1, center.Y-half+o.Thickness)
		vert := image.Rect(center.X-half, center.Y-o.Arm, center.X-half+o.Thickness, center.Y+o.Arm+1)
		draw.Draw(dst, horiz.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
		draw.Draw(dst, vert.Intersect(dst.Bounds()), src, image.Point{}, draw.Over)
	}

	x := center.X + o.Arm + 10
	if o.Title != "" {
		drawText(dst, o.Title, x, center.Y-10, o.Color, o.Shadow)
	}
	if o.Subtitle != "" {
		drawText(dst, o.Subtitle, x, center.Y+10+basicfont.Face7x13.Ascent, o.Color, o.Shadow)
	}
}

func drawText(dst draw.Image, text string, x, y int, c color.Color, shadow bool) {
	face := basicfont.Face7x13
	if shadow {
		sd := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.RGBA{0, 0, 0, 180}),
			Face: face,
			Dot:  fixed.P(x+1, y+1),
		}
		sd.DrawString(text)
	}
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
