package healpix

// Face-local coordinates. Each of the 12 base faces is an nside×nside grid
// addressed by (ix, iy); the nested index interleaves their bits.

// jrll and jpll give the ring and longitude offsets of each base face.
var (
	jrll = [12]int64{2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	jpll = [12]int64{1, 3, 5, 7, 0, 2, 4, 6, 1, 3, 5, 7}
)

// spread moves the low 32 bits of v onto the even bit positions.
func spread(v int64) int64 {
	x := uint64(v) & 0x00000000ffffffff
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return int64(x)
}

// compress is the inverse of spread.
func compress(v int64) int64 {
	x := uint64(v) & 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0f0f0f0f0f0f0f0f
	x = (x | x>>4) & 0x00ff00ff00ff00ff
	x = (x | x>>8) & 0x0000ffff0000ffff
	x = (x | x>>16) & 0x00000000ffffffff
	return int64(x)
}

func xyf2nest(order int, ix, iy, face int64) Pixel {
	return Pixel(face<<(2*uint(order)) + spread(ix) + spread(iy)<<1)
}

func nest2xyf(order int, p Pixel) (ix, iy, face int64) {
	shift := 2 * uint(order)
	face = int64(p) >> shift
	local := int64(p) & (int64(1)<<shift - 1)
	return compress(local), compress(local >> 1), face
}
