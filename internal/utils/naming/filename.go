package naming

import (
	"fmt"
	"strings"
	"unicode"
)

// SafeName lowercases name, turns spaces into underscores and drops anything
// other than letters, digits, '_', '-' and '.'.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), "._")
	if s == "" {
		return "target"
	}
	return s
}

// GenerateMosaicFilename creates a mosaic file name.
// Format: {target}_{survey}_o{order}_{w}x{h}_{RA}_{Dec}_{kind}.{ext}
func GenerateMosaicFilename(target, survey string, order, width, height int, ra, dec float64, kind, ext string) string {
	return fmt.Sprintf("%s_%s_o%d_%dx%d_%s_%s.%s",
		SafeName(target), SafeName(survey), order, width, height, CoordinateTag(ra, dec), kind, ext)
}

// GenerateTileFilename names a saved tile after its cell and pixel.
// Format: {target}_tile_{x}_{y}_pixel{p}.{ext}
func GenerateTileFilename(target string, x, y int, pixel int64, ext string) string {
	return fmt.Sprintf("%s_tile_%d_%d_pixel%d.%s", SafeName(target), x, y, pixel, ext)
}

// GenerateTilesDirName creates the directory holding a run's tiles.
// Format: {survey}_o{order}_tiles
func GenerateTilesDirName(survey string, order int) string {
	return fmt.Sprintf("%s_o%d_tiles", SafeName(survey), order)
}

// GenerateReportFilename names the per-run CSV report.
func GenerateReportFilename(target, survey string, order int) string {
	return fmt.Sprintf("%s_%s_o%d_report.csv", SafeName(target), SafeName(survey), order)
}
