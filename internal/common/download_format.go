package common

import "fmt"

// OutputFormat selects which files a mosaic run writes besides the PNG mosaic.
type OutputFormat struct {
	SaveTiles bool // individual tiles in a per-run directory
	SaveTIFF  bool // TIFF copy of the centered mosaic
}

// ParseOutputFormat accepts "png", "tiles", "tiff" or "both".
func ParseOutputFormat(format string) (OutputFormat, error) {
	switch format {
	case "", "png":
		return OutputFormat{}, nil
	case "tiles":
		return OutputFormat{SaveTiles: true}, nil
	case "tiff":
		return OutputFormat{SaveTIFF: true}, nil
	case "both":
		return OutputFormat{SaveTiles: true, SaveTIFF: true}, nil
	default:
		return OutputFormat{}, fmt.Errorf("invalid format: %s (must be 'png', 'tiles', 'tiff', or 'both')", format)
	}
}

// String returns the settings value for f.
func (f OutputFormat) String() string {
	switch {
	case f.SaveTiles && f.SaveTIFF:
		return "both"
	case f.SaveTiles:
		return "tiles"
	case f.SaveTIFF:
		return "tiff"
	}
	return "png"
}
