// Package imagery decodes and sanity-checks fetched tile bytes.
package imagery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"

	_ "golang.org/x/image/webp"
)

// MinTileBytes is the smallest payload accepted as a real tile.
const MinTileBytes = 1024

var (
	ErrTooSmall  = errors.New("tile payload too small")
	ErrBadMagic  = errors.New("tile payload is not a JPEG")
	ErrUndecoded = errors.New("tile payload could not be decoded")
)

var jpegMagic = []byte{0xFF, 0xD8, 0xFF}

// Validate rejects payloads that cannot be a usable tile of the given format.
// Only "jpg" and "jpeg" are magic-checked.
func Validate(data []byte, format string) error {
	if len(data) < MinTileBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooSmall, len(data))
	}
	switch format {
	case "jpg", "jpeg":
		if !bytes.HasPrefix(data, jpegMagic) {
			return ErrBadMagic
		}
	}
	return nil
}

// Decode decodes a JPEG, PNG or WebP tile.
func Decode(data []byte) (image.Image, string, error) {
	img, kind, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUndecoded, err)
	}
	return img, kind, nil
}

// IsBlank reports whether a tile carries no sky: mostly white (the fill some
// surveys serve outside their footprint) or a single flat colour. Dark tiles
// count as data as long as any pixel differs.
func IsBlank(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Dx() < 10 || bounds.Dy() < 10 {
		return true
	}

	stepX := max(bounds.Dx()/8, 1)
	stepY := max(bounds.Dy()/8, 1)
	n, whiteCount := 0, 0
	for y := bounds.Min.Y + stepY; y < bounds.Max.Y-stepY; y += stepY {
		for x := bounds.Min.X + stepX; x < bounds.Max.X-stepX; x += stepX {
			r, g, b, _ := img.At(x, y).RGBA()
			n++
			// RGBA values are 0-65535
			if r > 63000 && g > 63000 && b > 63000 {
				whiteCount++
			}
		}
	}
	if n > 0 && whiteCount*100/n > 90 {
		log.Printf("[Imagery] Blank tile: %d%% white samples", whiteCount*100/n)
		return true
	}

	// Sparse stars fall between sample points, so flatness is checked on
	// every pixel.
	r0, g0, b0, a0 := img.At(bounds.Min.X, bounds.Min.Y).RGBA()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if r != r0 || g != g0 || b != b0 || a != a0 {
				return false
			}
		}
	}
	log.Printf("[Imagery] Blank tile: flat RGB %d,%d,%d", r0/257, g0/257, b0/257)
	return true
}
