package skytiff

import (
	"fmt"
	"strings"
	"time"
)

// Metadata describes a sky image. It is stored in the standard
// DocumentName, ImageDescription, Software and DateTime tags.
type Metadata struct {
	Target         string
	Survey         string
	Order          int
	CenterRA       float64
	CenterDec      float64
	ArcsecPerPixel float64
	// CenterX and CenterY are the image pixel of (CenterRA, CenterDec).
	CenterX, CenterY int
	Software         string
	Created          time.Time
}

// Description renders m as FITS-style KEY=value pairs.
func (m Metadata) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "OBJECT=%s\n", m.Target)
	fmt.Fprintf(&b, "SURVEY=%s\n", m.Survey)
	fmt.Fprintf(&b, "HIPSORDER=%d\n", m.Order)
	fmt.Fprintf(&b, "CRVAL1=%.8f\n", m.CenterRA)
	fmt.Fprintf(&b, "CRVAL2=%.8f\n", m.CenterDec)
	fmt.Fprintf(&b, "CRPIX1=%d\n", m.CenterX)
	fmt.Fprintf(&b, "CRPIX2=%d\n", m.CenterY)
	fmt.Fprintf(&b, "CDELT=%.6f\n", m.ArcsecPerPixel/3600)
	return b.String()
}

// Fields returns the extra fields for Encode.
func (m Metadata) Fields() []Field {
	fields := []Field{ASCII(TagImageDescription, m.Description())}
	if m.Target != "" {
		fields = append(fields, ASCII(TagDocumentName, m.Target))
	}
	if m.Software != "" {
		fields = append(fields, ASCII(TagSoftware, m.Software))
	}
	if !m.Created.IsZero() {
		fields = append(fields, ASCII(TagDateTime, m.Created.UTC().Format("2006:01:02 15:04:05")))
	}
	return fields
}
