package healpix

import (
	"fmt"
	"math"

	"hips-mosaic/internal/sky"
)

// Indexer is the sky tiling the grid and centering code depend on.
type Indexer interface {
	SkyToPixel(c sky.Coordinate, order int) (Pixel, error)
	PixelToSky(p Pixel, order int) (sky.Coordinate, error)
	Neighbors(p Pixel, order int) ([8]Pixel, error)
}

// Nested is the nested-ordering HEALPix scheme. The zero value is ready to use.
type Nested struct{}

var _ Indexer = Nested{}

// SkyToPixel returns the pixel containing c at order.
func (Nested) SkyToPixel(c sky.Coordinate, order int) (Pixel, error) {
	if err := ValidateOrder(order); err != nil {
		return NoPixel, err
	}
	if math.IsNaN(c.RA) || math.IsNaN(c.Dec) || c.Dec < -90 || c.Dec > 90 {
		return NoPixel, fmt.Errorf("%w: %v", ErrInvalidCoordinate, c)
	}
	theta := c.Colatitude()
	phi := sky.NormalizeRA(c.RA) * math.Pi / 180
	return ang2pix(order, theta, phi), nil
}

// PixelToSky returns the center of p.
func (Nested) PixelToSky(p Pixel, order int) (sky.Coordinate, error) {
	if err := ValidatePixel(p, order); err != nil {
		return sky.Coordinate{}, err
	}
	z, phi := pix2zphi(order, p)
	dec := 90 - math.Acos(z)*180/math.Pi
	return sky.Coordinate{RA: sky.NormalizeRA(phi * 180 / math.Pi), Dec: dec}, nil
}

func ang2pix(order int, theta, phi float64) Pixel {
	nside := NSide(order)
	z := math.Cos(theta)
	za := math.Abs(z)
	tt := math.Mod(phi*2/math.Pi, 4)
	if tt < 0 {
		tt += 4
	}

	if za <= 2.0/3.0 {
		t1 := float64(nside) * (0.5 + tt)
		t2 := float64(nside) * z * 0.75
		jp := int64(t1 - t2)
		jm := int64(t1 + t2)
		ifp := jp >> uint(order)
		ifm := jm >> uint(order)
		var face int64
		switch {
		case ifp == ifm:
			face = ifp | 4
		case ifp < ifm:
			face = ifp
		default:
			face = ifm + 8
		}
		ix := jm & (nside - 1)
		iy := nside - (jp & (nside - 1)) - 1
		return xyf2nest(order, ix, iy, face)
	}

	ntt := int64(tt)
	if ntt > 3 {
		ntt = 3
	}
	tp := tt - float64(ntt)
	tmp := float64(nside) * math.Sqrt(3*(1-za))
	jp := min(int64(tp*tmp), nside-1)
	jm := min(int64((1-tp)*tmp), nside-1)
	if z >= 0 {
		return xyf2nest(order, nside-jm-1, nside-jp-1, ntt)
	}
	return xyf2nest(order, jp, jm, ntt+8)
}

// pix2zphi returns cos(theta) and phi of the pixel center.
func pix2zphi(order int, p Pixel) (z, phi float64) {
	nside := NSide(order)
	npix := NPix(order)
	fact2 := 4.0 / float64(npix)
	fact1 := float64(nside<<1) * fact2

	ix, iy, face := nest2xyf(order, p)
	jr := jrll[face]<<uint(order) - ix - iy - 1

	var nr, kshift int64
	switch {
	case jr < nside:
		nr = jr
		z = 1 - float64(nr*nr)*fact2
	case jr > 3*nside:
		nr = 4*nside - jr
		z = float64(nr*nr)*fact2 - 1
	default:
		nr = nside
		z = float64(2*nside-jr) * fact1
		kshift = (jr - nside) & 1
	}

	jp := (jpll[face]*nr + ix - iy + 1 + kshift) / 2
	if jp > 4*nside {
		jp -= 4 * nside
	}
	if jp < 1 {
		jp += 4 * nside
	}
	phi = (float64(jp) - float64(kshift+1)*0.5) * (math.Pi / 2 / float64(nr))
	return z, phi
}
