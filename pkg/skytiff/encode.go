// Package skytiff writes uncompressed RGBA TIFFs with free-form ASCII tags
// describing where on the sky the image lies.
package skytiff

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"
	"slices"
)

// Tag is a TIFF tag id.
type Tag uint16

// Baseline tags. The ones Encode writes itself are rejected as extra fields.
const (
	TagImageWidth       Tag = 256
	TagImageLength      Tag = 257
	TagBitsPerSample    Tag = 258
	TagCompression      Tag = 259
	TagPhotometric      Tag = 262
	TagDocumentName     Tag = 269
	TagImageDescription Tag = 270
	TagStripOffsets     Tag = 273
	TagSamplesPerPixel  Tag = 277
	TagRowsPerStrip     Tag = 278
	TagStripByteCounts  Tag = 279
	TagXResolution      Tag = 282
	TagYResolution      Tag = 283
	TagResolutionUnit   Tag = 296
	TagSoftware         Tag = 305
	TagDateTime         Tag = 306
	TagExtraSamples     Tag = 338
)

// Field types.
const (
	typeASCII    uint16 = 2
	typeShort    uint16 = 3
	typeLong     uint16 = 4
	typeRational uint16 = 5
	typeDouble   uint16 = 12
)

var le = binary.LittleEndian

// Field is one IFD entry with its value already encoded.
type Field struct {
	Tag   Tag
	Type  uint16
	Count uint32
	value []byte
}

// ASCII returns a NUL-terminated string field.
func ASCII(tag Tag, s string) Field {
	v := append([]byte(s), 0)
	return Field{Tag: tag, Type: typeASCII, Count: uint32(len(v)), value: v}
}

// Shorts returns a SHORT field.
func Shorts(tag Tag, vs ...uint16) Field {
	v := make([]byte, 0, 2*len(vs))
	for _, x := range vs {
		v = le.AppendUint16(v, x)
	}
	return Field{Tag: tag, Type: typeShort, Count: uint32(len(vs)), value: v}
}

// Longs returns a LONG field.
func Longs(tag Tag, vs ...uint32) Field {
	v := make([]byte, 0, 4*len(vs))
	for _, x := range vs {
		v = le.AppendUint32(v, x)
	}
	return Field{Tag: tag, Type: typeLong, Count: uint32(len(vs)), value: v}
}

// Doubles returns a DOUBLE field.
func Doubles(tag Tag, vs ...float64) Field {
	v := make([]byte, 0, 8*len(vs))
	for _, x := range vs {
		v = le.AppendUint64(v, math.Float64bits(x))
	}
	return Field{Tag: tag, Type: typeDouble, Count: uint32(len(vs)), value: v}
}

func rational(tag Tag, num, den uint32) Field {
	v := le.AppendUint32(le.AppendUint32(nil, num), den)
	return Field{Tag: tag, Type: typeRational, Count: 1, value: v}
}

var encoderTags = map[Tag]bool{
	TagImageWidth: true, TagImageLength: true, TagBitsPerSample: true,
	TagCompression: true, TagPhotometric: true, TagStripOffsets: true,
	TagSamplesPerPixel: true, TagRowsPerStrip: true, TagStripByteCounts: true,
	TagXResolution: true, TagYResolution: true, TagResolutionUnit: true,
	TagExtraSamples: true,
}

// Encode writes m to w as a single-strip, uncompressed, little-endian RGBA
// TIFF with unassociated alpha, followed by the extra fields.
func Encode(w io.Writer, m image.Image, extra ...Field) error {
	b := m.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return fmt.Errorf("empty image %v", b)
	}
	if uint64(width)*uint64(height)*4 > math.MaxUint32 {
		return fmt.Errorf("image %dx%d too large for a single strip", width, height)
	}

	nrgba, ok := m.(*image.NRGBA)
	if !ok || nrgba.Stride != 4*width {
		nrgba = image.NewNRGBA(image.Rect(0, 0, width, height))
		draw.Draw(nrgba, nrgba.Bounds(), m, b.Min, draw.Src)
	}
	pixels := nrgba.Pix[:4*width*height]

	fields := []Field{
		Longs(TagImageWidth, uint32(width)),
		Longs(TagImageLength, uint32(height)),
		Shorts(TagBitsPerSample, 8, 8, 8, 8),
		Shorts(TagCompression, 1), // none
		Shorts(TagPhotometric, 2), // RGB
		Shorts(TagSamplesPerPixel, 4),
		Longs(TagRowsPerStrip, uint32(height)),
		rational(TagXResolution, 72, 1),
		rational(TagYResolution, 72, 1),
		Shorts(TagResolutionUnit, 2),
		Shorts(TagExtraSamples, 2), // unassociated alpha
		Longs(TagStripOffsets, 0),
		Longs(TagStripByteCounts, uint32(len(pixels))),
	}
	seen := make(map[Tag]bool, len(extra))
	for _, f := range extra {
		if encoderTags[f.Tag] {
			return fmt.Errorf("tag %d is written by the encoder", f.Tag)
		}
		if seen[f.Tag] {
			return fmt.Errorf("tag %d given twice", f.Tag)
		}
		seen[f.Tag] = true
		fields = append(fields, f)
	}
	slices.SortFunc(fields, func(a, b Field) int { return int(a.Tag) - int(b.Tag) })

	// Header, IFD, values longer than 4 bytes, then the strip.
	ifdLen := 2 + 12*len(fields) + 4
	overflowAt := 8 + ifdLen
	var overflow []byte
	slots := make([][4]byte, len(fields))
	for i, f := range fields {
		if len(f.value) <= 4 {
			copy(slots[i][:], f.value)
			continue
		}
		if len(overflow)%2 == 1 {
			overflow = append(overflow, 0)
		}
		le.PutUint32(slots[i][:], uint32(overflowAt+len(overflow)))
		overflow = append(overflow, f.value...)
	}
	if len(overflow)%2 == 1 {
		overflow = append(overflow, 0)
	}
	stripAt := uint32(overflowAt + len(overflow))

	out := make([]byte, 0, int(stripAt))
	out = append(out, 'I', 'I', 42, 0)
	out = le.AppendUint32(out, 8)
	out = le.AppendUint16(out, uint16(len(fields)))
	for i, f := range fields {
		if f.Tag == TagStripOffsets {
			le.PutUint32(slots[i][:], stripAt)
		}
		out = le.AppendUint16(out, uint16(f.Tag))
		out = le.AppendUint16(out, f.Type)
		out = le.AppendUint32(out, f.Count)
		out = append(out, slots[i][:]...)
	}
	out = le.AppendUint32(out, 0) // no next IFD
	out = append(out, overflow...)

	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err := w.Write(pixels)
	return err
}
