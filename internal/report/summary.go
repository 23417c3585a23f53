package report

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteSummary prints a human readable account of a run.
func WriteSummary(w io.Writer, r *Run) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", r.ID)
	fmt.Fprintf(&b, "Target:    %s (RA %.6f, Dec %.6f)\n", r.Target, r.RA, r.Dec)
	fmt.Fprintf(&b, "Survey:    %s, order %d\n", r.Survey, r.Order)
	fmt.Fprintf(&b, "Grid:      %dx%d around pixel %d, method %s\n", r.GridWidth, r.GridHeight, r.CenterPixel, r.Method)
	if r.FallbackReason != "" {
		fmt.Fprintf(&b, "Fallback:  %s\n", r.FallbackReason)
	}
	fmt.Fprintf(&b, "Coverage:  %.1f%%\n", r.Coverage*100)
	fmt.Fprintf(&b, "Tiles:     %d/%d downloaded (%d cached, %d failed)\n", r.Downloaded, r.Total(), r.Cached, r.Failed)
	fmt.Fprintf(&b, "Anchor:    (%d, %d), offset (%.1f, %.1f) px, %.1f\" from tile center\n",
		r.AnchorX, r.AnchorY, r.OffsetDX, r.OffsetDY, r.SeparationArcsec)
	if r.AnchorFallback {
		b.WriteString("           offset rejected, anchored on mosaic center\n")
	}
	fmt.Fprintf(&b, "Crop:      shifted (%d, %d)\n", r.CropShiftX, r.CropShiftY)
	for _, p := range []struct{ label, path string }{
		{"Mosaic", r.MosaicPath},
		{"Centered", r.CenteredPath},
		{"Preview", r.PreviewPath},
		{"TIFF", r.TIFFPath},
		{"CSV", r.CSVPath},
	} {
		if p.path != "" {
			fmt.Fprintf(&b, "%-10s %s\n", p.label+":", p.path)
		}
	}
	fmt.Fprintf(&b, "Elapsed:   %s\n", r.Elapsed.Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}
