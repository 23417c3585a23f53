package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hips-mosaic/internal/common"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
)

// ErrRunNotFound is returned by Load for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists runs in SQLite.
type Store struct {
	*sql.DB
}

// OpenStore opens (creating if needed) the run database at path.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	store := &Store{db}
	if err := store.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[Report] Run database ready at %s", path)
	return store, nil
}

// Save inserts a run and its cells in one transaction.
func (s *Store) Save(ctx context.Context, r *Run) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, target, ra, dec, survey, hips_order,
			grid_width, grid_height, center_pixel, method, fallback_reason, coverage,
			downloaded, cached, failed, anchor_x, anchor_y, offset_dx, offset_dy,
			separation_arcsec, anchor_fallback, crop_shift_x, crop_shift_y,
			mosaic_path, centered_path, preview_path, tiff_path, csv_path, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CreatedAt.UTC().Format(timeLayout), r.Target, r.RA, r.Dec, r.Survey, r.Order,
		r.GridWidth, r.GridHeight, int64(r.CenterPixel), string(r.Method), r.FallbackReason, r.Coverage,
		r.Downloaded, r.Cached, r.Failed, r.AnchorX, r.AnchorY, r.OffsetDX, r.OffsetDY,
		r.SeparationArcsec, r.AnchorFallback, r.CropShiftX, r.CropShiftY,
		r.MosaicPath, r.CenteredPath, r.PreviewPath, r.TIFFPath, r.CSVPath, r.Elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cells (run_id, grid_x, grid_y, pixel, ra, dec, status, width, height, bytes, filename, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range r.Cells {
		if _, err := stmt.ExecContext(ctx, r.ID, c.X, c.Y, int64(c.Pixel), c.RA, c.Dec,
			string(c.Status), c.Width, c.Height, c.Bytes, c.Filename, c.Error); err != nil {
			return fmt.Errorf("failed to insert cell (%d,%d): %w", c.X, c.Y, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, created_at, target, ra, dec, survey, hips_order,
	grid_width, grid_height, center_pixel, method, fallback_reason, coverage,
	downloaded, cached, failed, anchor_x, anchor_y, offset_dx, offset_dy,
	separation_arcsec, anchor_fallback, crop_shift_x, crop_shift_y,
	mosaic_path, centered_path, preview_path, tiff_path, csv_path, elapsed_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r         Run
		created   string
		pixel     int64
		method    string
		elapsedMs int64
		reason    sql.NullString
		paths     [5]sql.NullString
	)
	err := row.Scan(&r.ID, &created, &r.Target, &r.RA, &r.Dec, &r.Survey, &r.Order,
		&r.GridWidth, &r.GridHeight, &pixel, &method, &reason, &r.Coverage,
		&r.Downloaded, &r.Cached, &r.Failed, &r.AnchorX, &r.AnchorY, &r.OffsetDX, &r.OffsetDY,
		&r.SeparationArcsec, &r.AnchorFallback, &r.CropShiftX, &r.CropShiftY,
		&paths[0], &paths[1], &paths[2], &paths[3], &paths[4], &elapsedMs)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		r.CreatedAt = t
	}
	r.CenterPixel = healpix.Pixel(pixel)
	r.Method = grid.Method(method)
	r.FallbackReason = reason.String
	r.MosaicPath, r.CenteredPath, r.PreviewPath = paths[0].String, paths[1].String, paths[2].String
	r.TIFFPath, r.CSVPath = paths[3].String, paths[4].String
	r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return &r, nil
}

// List returns the newest runs first, without cells. A target filter matches
// case-insensitively.
func (s *Store) List(ctx context.Context, target string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + runColumns + " FROM runs"
	args := []any{}
	if target != "" {
		query += " WHERE lower(target) = ?"
		args = append(args, strings.ToLower(target))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Load returns a run with its cells.
func (s *Store) Load(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(s.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.QueryContext(ctx, `
		SELECT grid_x, grid_y, pixel, ra, dec, status, width, height, bytes, filename, error
		FROM cells WHERE run_id = ? ORDER BY grid_y, grid_x`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         Cell
			pixel     int64
			status    string
			filename  sql.NullString
			errString sql.NullString
		)
		if err := rows.Scan(&c.X, &c.Y, &pixel, &c.RA, &c.Dec, &status, &c.Width, &c.Height, &c.Bytes, &filename, &errString); err != nil {
			return nil, err
		}
		c.Pixel = healpix.Pixel(pixel)
		c.Status = common.FetchStatus(status)
		c.Filename = filename.String
		c.Error = errString.String
		r.Cells = append(r.Cells, c)
	}
	return r, rows.Err()
}
