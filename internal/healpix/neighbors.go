package healpix

// Neighbour slot order follows the HEALPix convention: SW, W, NW, N, NE, E, SE, S,
// measured in the face-local (x, y) frame.
var (
	xOffset = [8]int64{-1, -1, 0, 1, 1, 1, 0, -1}
	yOffset = [8]int64{0, 1, 1, 1, 0, -1, -1, -1}
)

// faceArray[n][f] is the face reached from face f when stepping into neighbour
// region n (row-major 3×3 of x and y overflow, 4 = same face). -1 means the
// step lands in a corner shared by only three faces.
var faceArray = [9][12]int64{
	{8, 9, 10, 11, -1, -1, -1, -1, 10, 11, 8, 9},
	{5, 6, 7, 4, 8, 9, 10, 11, 9, 10, 11, 8},
	{-1, -1, -1, -1, 5, 6, 7, 4, -1, -1, -1, -1},
	{4, 5, 6, 7, 11, 8, 9, 10, 11, 8, 9, 10},
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11},
	{1, 2, 3, 0, 0, 1, 2, 3, 5, 6, 7, 4},
	{-1, -1, -1, -1, 7, 4, 5, 6, -1, -1, -1, -1},
	{3, 0, 1, 2, 3, 0, 1, 2, 4, 5, 6, 7},
	{2, 3, 0, 1, -1, -1, -1, -1, 0, 1, 2, 3},
}

// swapArray[n][f>>2] holds the coordinate transform when crossing faces:
// bit 1 flips x, bit 2 flips y, bit 4 swaps x and y.
var swapArray = [9][3]int64{
	{0, 0, 3},
	{0, 0, 6},
	{0, 0, 0},
	{0, 0, 5},
	{0, 0, 0},
	{5, 0, 0},
	{0, 0, 0},
	{6, 0, 0},
	{3, 0, 0},
}

// Neighbors returns the 8 pixels around p in SW, W, NW, N, NE, E, SE, S order.
// Slots with no neighbour hold NoPixel.
func (Nested) Neighbors(p Pixel, order int) ([8]Pixel, error) {
	var out [8]Pixel
	if err := ValidatePixel(p, order); err != nil {
		for i := range out {
			out[i] = NoPixel
		}
		return out, err
	}

	nside := NSide(order)
	ix, iy, face := nest2xyf(order, p)

	for i := 0; i < 8; i++ {
		x := ix + xOffset[i]
		y := iy + yOffset[i]
		if x >= 0 && x < nside && y >= 0 && y < nside {
			out[i] = xyf2nest(order, x, y, face)
			continue
		}

		nb := int64(4)
		if x < 0 {
			x += nside
			nb--
		} else if x >= nside {
			x -= nside
			nb++
		}
		if y < 0 {
			y += nside
			nb -= 3
		} else if y >= nside {
			y -= nside
			nb += 3
		}

		nf := faceArray[nb][face]
		if nf < 0 {
			out[i] = NoPixel
			continue
		}
		bits := swapArray[nb][face>>2]
		if bits&1 != 0 {
			x = nside - x - 1
		}
		if bits&2 != 0 {
			y = nside - y - 1
		}
		if bits&4 != 0 {
			x, y = y, x
		}
		out[i] = xyf2nest(order, x, y, nf)
	}
	return out, nil
}
