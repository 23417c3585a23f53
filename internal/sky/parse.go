package sky

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrUnparseable is returned when a coordinate string matches none of the accepted formats.
var ErrUnparseable = errors.New("unrecognized coordinate format")

var (
	raHMS  = regexp.MustCompile(`^(\d+(?:\.\d*)?)h\s*(?:(\d+(?:\.\d*)?)m)?\s*(?:(\d+(?:\.\d*)?)s?)?$`)
	decDMS = regexp.MustCompile(`^(\d+(?:\.\d*)?)[d°]\s*(?:(\d+(?:\.\d*)?)['m])?\s*(?:(\d+(?:\.\d*)?)(?:"|s|'')?)?$`)
	degSfx = regexp.MustCompile(`^(\d+(?:\.\d*)?)\s*(?:d|deg|°)$`)
)

// ParseRA converts right ascension text to degrees.
//
// Accepted forms are "13h29m52.7s", "13:29:52.7", "13 29 52.7", "202.47d" and a bare
// decimal. A bare decimal of 24 or less is read as hours and multiplied by 15; larger
// values are degrees. Append "d" to force degrees for small values.
func ParseRA(text string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty right ascension", ErrUnparseable)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("right ascension %q must not be negative", text)
	}
	s = strings.TrimPrefix(s, "+")

	if m := raHMS.FindStringSubmatch(s); m != nil {
		return hoursFromParts(m[1], m[2], m[3], text)
	}
	if parts := splitSexagesimal(s); len(parts) > 1 {
		if len(parts) > 3 {
			return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
		}
		parts = append(parts, "", "")
		return hoursFromParts(parts[0], parts[1], parts[2], text)
	}
	if m := degSfx.FindStringSubmatch(s); m != nil {
		v, _ := strconv.ParseFloat(m[1], 64)
		if v >= 360 {
			return 0, fmt.Errorf("right ascension %q exceeds 360 degrees", text)
		}
		return v, nil
	}

	v, err := parseDecimal(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	if v <= 24 {
		return NormalizeRA(v * 15), nil
	}
	if v >= 360 {
		return 0, fmt.Errorf("right ascension %q exceeds 360 degrees", text)
	}
	return v, nil
}

// ParseDec converts declination text to degrees.
// Accepted forms are "+47d11m43s", "+47°11'43\"", "+47:11:43", "+47 11 43" and a signed decimal.
func ParseDec(text string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return 0, fmt.Errorf("%w: empty declination", ErrUnparseable)
	}
	sign := 1.0
	switch s[0] {
	case '-':
		sign = -1
		s = strings.TrimSpace(s[1:])
	case '+':
		s = strings.TrimSpace(s[1:])
	}

	var (
		v   float64
		err error
	)
	if m := decDMS.FindStringSubmatch(s); m != nil {
		v, err = sexagesimal(m[1], m[2], m[3])
	} else if parts := splitSexagesimal(s); len(parts) > 1 && len(parts) <= 3 {
		parts = append(parts, "", "")
		v, err = sexagesimal(parts[0], parts[1], parts[2])
	} else if len(parts) > 3 {
		err = ErrUnparseable
	} else {
		v, err = parseDecimal(s)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	v *= sign
	if v < -90 || v > 90 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDeclination, text)
	}
	return v, nil
}

// parseDecimal is strconv.ParseFloat restricted to finite values.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrUnparseable
	}
	return v, nil
}

// ParseCoordinate parses both axes and returns a labelled Coordinate.
func ParseCoordinate(raText, decText, label string) (Coordinate, error) {
	ra, err := ParseRA(raText)
	if err != nil {
		return Coordinate{}, fmt.Errorf("failed to parse RA: %w", err)
	}
	dec, err := ParseDec(decText)
	if err != nil {
		return Coordinate{}, fmt.Errorf("failed to parse Dec: %w", err)
	}
	return New(ra, dec, label)
}

// FormatRA renders degrees as "HHhMMmSS.SSs".
func FormatRA(deg float64) string {
	h := NormalizeRA(deg) / 15
	hh := int(h)
	mm := int((h - float64(hh)) * 60)
	ss := ((h-float64(hh))*60 - float64(mm)) * 60
	return fmt.Sprintf("%02dh%02dm%05.2fs", hh, mm, ss)
}

// FormatDec renders degrees as "+DDdMMmSS.Ss".
func FormatDec(deg float64) string {
	sign := '+'
	if deg < 0 {
		sign = '-'
		deg = -deg
	}
	dd := int(deg)
	mm := int((deg - float64(dd)) * 60)
	ss := ((deg-float64(dd))*60 - float64(mm)) * 60
	return fmt.Sprintf("%c%02dd%02dm%04.1fs", sign, dd, mm, ss)
}

func hoursFromParts(h, m, s, text string) (float64, error) {
	v, err := sexagesimal(h, m, s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, text)
	}
	if v >= 24 {
		return 0, fmt.Errorf("right ascension %q exceeds 24 hours", text)
	}
	return v * 15, nil
}

func splitSexagesimal(s string) []string {
	if strings.Contains(s, ":") {
		return strings.Split(s, ":")
	}
	return strings.Fields(s)
}

// sexagesimal combines unsigned whole, minute and second fields. Empty fields count as zero.
func sexagesimal(whole, minutes, seconds string) (float64, error) {
	fields := [3]string{whole, minutes, seconds}
	var vals [3]float64
	for i, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := parseDecimal(f)
		if err != nil || v < 0 {
			return 0, ErrUnparseable
		}
		if i > 0 && v >= 60 {
			return 0, ErrUnparseable
		}
		vals[i] = v
	}
	return vals[0] + vals[1]/60 + vals[2]/3600, nil
}
