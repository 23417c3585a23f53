package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// CSVHeader is the column layout of per-cell reports.
var CSVHeader = []string{"Grid_X", "Grid_Y", "HEALPix_Pixel", "Tile_RA", "Tile_Dec", "Downloaded", "ImageSize", "Filename"}

// WriteCSV writes one row per cell.
func WriteCSV(w io.Writer, r *Run) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, c := range r.Cells {
		downloaded := "NO"
		if c.Downloaded() {
			downloaded = "YES"
		}
		row := []string{
			strconv.Itoa(c.X),
			strconv.Itoa(c.Y),
			strconv.FormatInt(int64(c.Pixel), 10),
			strconv.FormatFloat(c.RA, 'f', 6, 64),
			strconv.FormatFloat(c.Dec, 'f', 6, 64),
			downloaded,
			fmt.Sprintf("%dx%d", c.Width, c.Height),
			c.Filename,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes the CSV report to path.
func SaveCSV(path string, r *Run) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := WriteCSV(f, r); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
