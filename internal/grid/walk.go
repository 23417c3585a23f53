package grid

import (
	"hips-mosaic/internal/healpix"
)

// walkSteps are the moves used past the exact block. Only axis moves are taken:
// the 3×3 layout squeezes diamond-shaped pixels into a square, so diagonal
// moves would revisit pixels already placed.
var walkSteps = [4]healpix.Direction{healpix.S, healpix.E, healpix.N, healpix.W}

// walk fills unplaced cells breadth-first from the already placed ones, stepping
// through each cell's real neighbours. Directions follow each base face's local
// frame, so a walk crossing a face edge may shear. Cells the walk cannot reach
// stay NoPixel.
func (b *Builder) walk(order, width, height int, pixels []healpix.Pixel, placed []bool) error {
	queue := make([]Pos, 0, width*height)
	// Seed with the placed block, center first so ties resolve from the middle out.
	cx, cy := width/2, height/2
	queue = append(queue, Pos{X: cx, Y: cy})
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if placed[y*width+x] && (x != cx || y != cy) {
				queue = append(queue, Pos{X: x, Y: y})
			}
		}
	}

	for len(queue) > 0 {
		pos := queue[0]
		queue = queue[1:]

		p := pixels[pos.Y*width+pos.X]
		if p == healpix.NoPixel {
			continue
		}
		nb, err := b.resolver.Resolve(p, order)
		if err != nil {
			return err
		}
		for _, d := range walkSteps {
			dx, dy := d.Offset()
			x, y := pos.X+dx, pos.Y+dy
			if x < 0 || y < 0 || x >= width || y >= height || placed[y*width+x] {
				continue
			}
			n, ok := nb.Get(d)
			if !ok {
				continue
			}
			pixels[y*width+x] = n
			placed[y*width+x] = true
			queue = append(queue, Pos{X: x, Y: y})
		}
	}
	return nil
}
