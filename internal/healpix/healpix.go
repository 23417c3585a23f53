// Package healpix implements the nested HEALPix equal-area sky tiling used by HiPS
// surveys: coordinate to pixel lookup, pixel centers and the 8-neighbour query.
package healpix

import (
	"errors"
	"fmt"
	"math"
)

// Pixel is a nested-scheme pixel index at some order.
type Pixel int64

// NoPixel marks a neighbour slot or grid cell with no pixel.
const NoPixel Pixel = -1

// MaxOrder is the deepest order whose indices fit the 64-bit nested encoding.
const MaxOrder = 29

// DefaultOrder is the order used when none is configured.
const DefaultOrder = 8

var (
	ErrInvalidOrder      = errors.New("invalid HEALPix order")
	ErrPixelOutOfRange   = errors.New("pixel out of range")
	ErrInvalidCoordinate = errors.New("invalid sky coordinate")
)

// NSide returns 2^order.
func NSide(order int) int64 {
	return int64(1) << uint(order)
}

// NPix returns the number of pixels covering the sphere at order.
func NPix(order int) int64 {
	n := NSide(order)
	return 12 * n * n
}

// ValidateOrder reports ErrInvalidOrder for orders outside [0, MaxOrder].
func ValidateOrder(order int) error {
	if order < 0 || order > MaxOrder {
		return fmt.Errorf("%w: %d", ErrInvalidOrder, order)
	}
	return nil
}

// ValidatePixel checks order and that p lies in [0, NPix(order)).
func ValidatePixel(p Pixel, order int) error {
	if err := ValidateOrder(order); err != nil {
		return err
	}
	if p < 0 || int64(p) >= NPix(order) {
		return fmt.Errorf("%w: %d at order %d", ErrPixelOutOfRange, p, order)
	}
	return nil
}

// Valid reports whether p is a real pixel at order.
func (p Pixel) Valid(order int) bool {
	return ValidatePixel(p, order) == nil
}

// PixelSize returns the mean angular side of a pixel in degrees, sqrt(4π/npix).
func PixelSize(order int) float64 {
	return math.Sqrt(4*math.Pi/float64(NPix(order))) * 180 / math.Pi
}

// Clamp forces v into [0, NPix(order)-1].
func Clamp(v int64, order int) Pixel {
	if v < 0 {
		return 0
	}
	if max := NPix(order) - 1; v > max {
		return Pixel(max)
	}
	return Pixel(v)
}
