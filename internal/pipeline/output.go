package pipeline

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"hips-mosaic/internal/sky"
	"hips-mosaic/internal/utils/naming"
	"hips-mosaic/pkg/skytiff"
)

// Software is written into TIFF metadata.
const Software = "hips-mosaic"

// writer names and writes the files of one run.
type writer struct {
	dir           string
	name          string
	survey        string
	order         int
	width, height int
	coord         sky.Coordinate
}

func (w *writer) path(kind, ext string) string {
	return filepath.Join(w.dir, naming.GenerateMosaicFilename(w.name, w.survey, w.order, w.width, w.height, w.coord.RA, w.coord.Dec, kind, ext))
}

func (w *writer) png(kind string, img image.Image) (string, error) {
	return w.write(w.path(kind, "png"), func(f io.Writer) error { return png.Encode(f, img) })
}

func (w *writer) jpeg(kind string, img image.Image) (string, error) {
	return w.write(w.path(kind, "jpg"), func(f io.Writer) error {
		return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
	})
}

func (w *writer) tiff(kind string, img image.Image, meta skytiff.Metadata) (string, error) {
	return w.write(w.path(kind, "tif"), func(f io.Writer) error { return skytiff.Encode(f, img, meta.Fields()...) })
}

func (w *writer) metadata(arcsecPerPixel float64, center image.Point) skytiff.Metadata {
	return skytiff.Metadata{
		Target:         w.name,
		Survey:         w.survey,
		Order:          w.order,
		CenterRA:       w.coord.RA,
		CenterDec:      w.coord.Dec,
		ArcsecPerPixel: arcsecPerPixel,
		CenterX:        center.X,
		CenterY:        center.Y,
		Software:       Software,
		Created:        time.Now(),
	}
}

// write encodes into a temporary file and renames it into place.
func (w *writer) write(path string, encode func(io.Writer) error) (string, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	log.Printf("[Pipeline] Saved %s", filepath.Base(path))
	return path, nil
}
