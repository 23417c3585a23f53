// Package report records what a mosaic run produced.
package report

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"hips-mosaic/internal/common"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
)

// Cell is one grid cell's row in a report.
type Cell struct {
	X        int                `json:"x"`
	Y        int                `json:"y"`
	Pixel    healpix.Pixel      `json:"pixel"`
	RA       float64            `json:"ra"`
	Dec      float64            `json:"dec"`
	Status   common.FetchStatus `json:"status"`
	Width    int                `json:"width"`
	Height   int                `json:"height"`
	Bytes    int                `json:"bytes"`
	Filename string             `json:"filename,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Downloaded reports whether the cell carries imagery.
func (c Cell) Downloaded() bool { return c.Status.Downloaded() }

// Run is the record of one mosaic run.
type Run struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Target string  `json:"target"`
	RA     float64 `json:"ra"`
	Dec    float64 `json:"dec"`
	Survey string  `json:"survey"`
	Order  int     `json:"order"`

	GridWidth      int           `json:"grid_width"`
	GridHeight     int           `json:"grid_height"`
	CenterPixel    healpix.Pixel `json:"center_pixel"`
	Method         grid.Method   `json:"method"`
	FallbackReason string        `json:"fallback_reason,omitempty"`
	Coverage       float64       `json:"coverage"`

	Downloaded int `json:"downloaded"`
	Cached     int `json:"cached"`
	Failed     int `json:"failed"`

	AnchorX          int     `json:"anchor_x"`
	AnchorY          int     `json:"anchor_y"`
	OffsetDX         float64 `json:"offset_dx"`
	OffsetDY         float64 `json:"offset_dy"`
	SeparationArcsec float64 `json:"separation_arcsec"`
	AnchorFallback   bool    `json:"anchor_fallback"`
	CropShiftX       int     `json:"crop_shift_x"`
	CropShiftY       int     `json:"crop_shift_y"`

	MosaicPath   string `json:"mosaic_path,omitempty"`
	CenteredPath string `json:"centered_path,omitempty"`
	PreviewPath  string `json:"preview_path,omitempty"`
	TIFFPath     string `json:"tiff_path,omitempty"`
	CSVPath      string `json:"csv_path,omitempty"`

	Elapsed time.Duration `json:"elapsed"`
	Cells   []Cell        `json:"cells,omitempty"`
}

// NewRun starts a record with a fresh id.
func NewRun(target, survey string, order int) *Run {
	return &Run{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Target:    target,
		Survey:    survey,
		Order:     order,
	}
}

// SetGrid copies the grid description and merges fetch results into cells.
// results are matched by position; cells without one count as skipped.
func (r *Run) SetGrid(g *grid.Grid, results []common.TileResult) {
	r.GridWidth, r.GridHeight = g.Width, g.Height
	r.CenterPixel = g.Center
	r.Method = g.Method
	r.FallbackReason = g.FallbackReason
	r.Coverage = g.Coverage()

	byPos := make(map[grid.Pos]common.TileResult, len(results))
	for _, tr := range results {
		byPos[tr.Pos] = tr
	}

	r.Cells = make([]Cell, 0, len(g.Cells))
	r.Downloaded, r.Cached, r.Failed = 0, 0, 0
	for _, gc := range g.Cells {
		c := Cell{X: gc.X, Y: gc.Y, Pixel: gc.Pixel, RA: gc.Center.RA, Dec: gc.Center.Dec, Status: common.StatusSkipped}
		if tr, ok := byPos[gc.Pos]; ok {
			c.Status = tr.Status
			c.Width, c.Height, c.Bytes = tr.Width, tr.Height, tr.Bytes
			c.Error = tr.Error
			if tr.Path != "" {
				c.Filename = filepath.Base(tr.Path)
			}
		}
		switch c.Status {
		case common.StatusOK:
			r.Downloaded++
		case common.StatusCached:
			r.Downloaded++
			r.Cached++
		case common.StatusFailed, common.StatusTimeout:
			r.Failed++
		}
		r.Cells = append(r.Cells, c)
	}
}

// Total is the number of cells.
func (r *Run) Total() int { return len(r.Cells) }
