package naming

import (
	"fmt"
	"math"
	"strings"
)

// SanitizeRA formats a right ascension for file names, e.g. 202.4696 -> "RA202p4696".
// The decimal point becomes 'p' for Windows compatibility.
func SanitizeRA(ra float64) string {
	s := fmt.Sprintf("%.4f", ra)
	return "RA" + strings.Replace(s, ".", "p", 1)
}

// SanitizeDec formats a declination for file names with an N/S hemisphere
// marker instead of a sign, e.g. -29.0078 -> "S29p0078".
func SanitizeDec(dec float64) string {
	dir := "N"
	if dec < 0 {
		dir = "S"
	}
	s := fmt.Sprintf("%.4f", math.Abs(dec))
	return dir + strings.Replace(s, ".", "p", 1)
}

// CoordinateTag joins SanitizeRA and SanitizeDec.
func CoordinateTag(ra, dec float64) string {
	return SanitizeRA(ra) + "_" + SanitizeDec(dec)
}
