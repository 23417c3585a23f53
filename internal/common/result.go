package common

import (
	"time"

	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
)

// FetchStatus is how a single cell's tile fetch settled.
type FetchStatus string

const (
	StatusOK      FetchStatus = "ok"
	StatusCached  FetchStatus = "cached"
	StatusFailed  FetchStatus = "failed"
	StatusTimeout FetchStatus = "timeout"
	StatusBlank   FetchStatus = "blank"
	// StatusSkipped marks a cell with no pixel to fetch.
	StatusSkipped FetchStatus = "skipped"
)

// Downloaded reports whether the status carries usable imagery.
func (s FetchStatus) Downloaded() bool {
	return s == StatusOK || s == StatusCached
}

// TileResult is the settled outcome of one grid cell's fetch task.
type TileResult struct {
	Pos    grid.Pos      `json:"pos"`
	Pixel  healpix.Pixel `json:"pixel"`
	Status FetchStatus   `json:"status"`
	// Width and Height are the decoded image size, zero when nothing decoded.
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Bytes    int           `json:"bytes"`
	Path     string        `json:"path,omitempty"`
	URL      string        `json:"url,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
