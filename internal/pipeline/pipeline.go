// Package pipeline runs a mosaic from target name to files on disk.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hips-mosaic/internal/cache"
	"hips-mosaic/internal/catalog"
	"hips-mosaic/internal/centering"
	"hips-mosaic/internal/common"
	"hips-mosaic/internal/config"
	"hips-mosaic/internal/downloads"
	hipsdl "hips-mosaic/internal/downloads/hips"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
	"hips-mosaic/internal/hips"
	"hips-mosaic/internal/mosaic"
	"hips-mosaic/internal/report"
	"hips-mosaic/internal/sky"
	"hips-mosaic/internal/telemetry"
	"hips-mosaic/internal/utils/naming"
)

// PreviewEdge is the longest edge of the preview JPEG.
const PreviewEdge = 800

var (
	ErrNoTarget = errors.New("no target: give a catalog name or RA and Dec")
	ErrNoTiles  = errors.New("no tiles downloaded")
)

// Request describes one mosaic run. Target names a catalog entry. When RA and
// Dec are set they are used instead and Target only labels the output.
// Zero fields fall back to the settings. Order is a pointer so that order 0
// can be asked for explicitly.
type Request struct {
	Target     string `json:"target"`
	RA         string `json:"ra,omitempty"`
	Dec        string `json:"dec,omitempty"`
	Survey     string `json:"survey,omitempty"`
	Order      *int   `json:"order,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Format     string `json:"format,omitempty"`
	OutputSize int    `json:"output_size,omitempty"`
}

// AtOrder returns a HEALPix order for Request.Order.
func AtOrder(order int) *int { return &order }

// Result is a finished run.
type Result struct {
	Run    *report.Run      `json:"run"`
	Grid   *grid.Grid       `json:"-"`
	Anchor centering.Anchor `json:"anchor"`
	Crop   centering.Crop   `json:"crop"`
	Zoom   *mosaic.ZoomInfo `json:"zoom,omitempty"`
}

// Deps are the collaborators a Pipeline drives. Cache, Store and Tracker are
// optional; Close releases the ones that are set.
type Deps struct {
	Registry *hips.Registry
	Catalog  *catalog.Catalog
	Client   *hips.Client
	Cache    *cache.PersistentTileCache
	Store    *report.Store
	Tracker  telemetry.Tracker

	Progress func(downloads.DownloadProgress)
	Log      func(string)
}

// Pipeline chains target lookup, grid building, fetching, assembly, centering
// and output. Runs are serialized.
type Pipeline struct {
	settings   *config.UserSettings
	registry   *hips.Registry
	catalog    *catalog.Catalog
	indexer    healpix.Indexer
	resolver   *healpix.Resolver
	builder    *grid.Builder
	downloader *hipsdl.Downloader
	cache      *cache.PersistentTileCache
	store      *report.Store
	tracker    telemetry.Tracker
	logf       func(string)

	mu sync.Mutex
}

// New wires a Pipeline from settings and deps.
func New(settings *config.UserSettings, deps Deps) (*Pipeline, error) {
	if settings == nil {
		settings = config.DefaultSettings()
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if deps.Registry == nil {
		deps.Registry = hips.DefaultRegistry()
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Client == nil {
		deps.Client = hips.NewClient(settings.TileTimeout(), nil)
	}
	if deps.Tracker == nil {
		deps.Tracker = telemetry.Nop{}
	}

	compass, err := settings.Compass()
	if err != nil {
		return nil, err
	}
	gridCfg, err := settings.GridConfig()
	if err != nil {
		return nil, err
	}
	indexer := healpix.Nested{}
	resolver, err := healpix.NewResolver(indexer, compass)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		settings: settings,
		registry: deps.Registry,
		catalog:  deps.Catalog,
		indexer:  indexer,
		resolver: resolver,
		builder:  grid.NewBuilder(resolver, gridCfg),
		cache:    deps.Cache,
		store:    deps.Store,
		tracker:  deps.Tracker,
		logf:     deps.Log,
	}
	p.downloader = hipsdl.NewDownloader(deps.Client, deps.Cache, deps.Progress, deps.Log, deps.Tracker.Track, hipsdl.Options{
		Workers:      settings.FetchWorkers,
		RequestDelay: settings.RequestDelay(),
		CachedDelay:  settings.CachedDelay(),
		TileTimeout:  settings.TileTimeout(),
	})
	return p, nil
}

// Registry returns the survey table.
func (p *Pipeline) Registry() *hips.Registry { return p.registry }

// Catalog returns the target catalog.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Store returns the run store, or nil.
func (p *Pipeline) Store() *report.Store { return p.store }

// Cache returns the tile cache, or nil.
func (p *Pipeline) Cache() *cache.PersistentTileCache { return p.cache }

// Indexer returns the sky indexer.
func (p *Pipeline) Indexer() healpix.Indexer { return p.indexer }

// Resolver returns the neighbor resolver.
func (p *Pipeline) Resolver() *healpix.Resolver { return p.resolver }

// Builder returns the grid builder.
func (p *Pipeline) Builder() *grid.Builder { return p.builder }

// Settings returns the settings the pipeline was built with.
func (p *Pipeline) Settings() *config.UserSettings { return p.settings }

// Close releases the cache, store and tracker.
func (p *Pipeline) Close() error {
	var errs []error
	if p.cache != nil {
		errs = append(errs, p.cache.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	errs = append(errs, p.tracker.Close())
	return errors.Join(errs...)
}

func (p *Pipeline) emitLog(message string) {
	log.Printf("[Pipeline] %s", message)
	if p.logf != nil {
		p.logf(message)
	}
}

// Locate resolves the position of req. The catalog entry is returned when
// the target was found there.
func (p *Pipeline) Locate(req Request) (sky.Coordinate, *catalog.Target, error) {
	name := strings.TrimSpace(req.Target)
	var entry *catalog.Target
	if name != "" {
		if t, err := p.catalog.Lookup(name); err == nil {
			entry = &t
		} else if req.RA == "" || req.Dec == "" {
			return sky.Coordinate{}, nil, err
		}
	}

	if req.RA != "" || req.Dec != "" {
		label := name
		if label == "" {
			label = "target"
		}
		c, err := sky.ParseCoordinate(req.RA, req.Dec, label)
		if err != nil {
			return sky.Coordinate{}, nil, err
		}
		return c, entry, nil
	}
	if entry == nil {
		return sky.Coordinate{}, nil, ErrNoTarget
	}
	c, err := entry.Coordinate()
	return c, entry, err
}

// Plan resolves req to a survey and a grid without fetching anything.
func (p *Pipeline) Plan(req Request) (sky.Coordinate, hips.Survey, *grid.Grid, error) {
	req = p.withDefaults(req)
	coord, _, err := p.Locate(req)
	if err != nil {
		return sky.Coordinate{}, hips.Survey{}, nil, err
	}
	survey, g, err := p.plan(coord, req)
	return coord, survey, g, err
}

func (p *Pipeline) plan(coord sky.Coordinate, req Request) (hips.Survey, *grid.Grid, error) {
	survey, err := p.registry.Get(req.Survey)
	if err != nil {
		return hips.Survey{}, nil, err
	}
	order := p.settings.Order
	if req.Order != nil {
		order = *req.Order
	}
	if err := downloads.ValidateGridRequest(order, req.Width, req.Height); err != nil {
		return hips.Survey{}, nil, err
	}
	if order > survey.MaxOrder {
		return hips.Survey{}, nil, fmt.Errorf("%w: %s supports order <= %d, got %d", hips.ErrOrderTooDeep, survey.ID, survey.MaxOrder, order)
	}
	center, err := p.indexer.SkyToPixel(coord, order)
	if err != nil {
		return hips.Survey{}, nil, err
	}
	g, err := p.builder.BuildGrid(center, order, req.Width, req.Height)
	if err != nil {
		return hips.Survey{}, nil, fmt.Errorf("failed to build grid: %w", err)
	}
	return survey, g, nil
}

func (p *Pipeline) withDefaults(req Request) Request {
	if req.Survey == "" {
		req.Survey = p.settings.DefaultSurvey
	}
	if req.Order == nil {
		req.Order = AtOrder(p.settings.Order)
	}
	if req.Width == 0 {
		req.Width = p.settings.GridWidth
	}
	if req.Height == 0 {
		req.Height = p.settings.GridHeight
	}
	if req.Format == "" {
		req.Format = p.settings.OutputFormat
	}
	if req.OutputSize == 0 {
		req.OutputSize = p.settings.OutputSize
	}
	return req
}

// Run builds one mosaic and writes its outputs under the configured output
// directory. Failed tiles are reported, not fatal; the run fails only when no
// tile at all could be fetched.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, req)
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	req = p.withDefaults(req)
	format, err := common.ParseOutputFormat(req.Format)
	if err != nil {
		return nil, err
	}

	coord, entry, err := p.Locate(req)
	if err != nil {
		return nil, err
	}
	name := coord.Label
	if entry != nil {
		name = entry.Name
	}

	survey, g, err := p.plan(coord, req)
	if err != nil {
		return nil, err
	}
	p.emitLog(fmt.Sprintf("%s at %s: %dx%d grid around pixel %d (order %d, %s, coverage %.0f%%)",
		name, coord, g.Width, g.Height, g.Center, g.Order, g.Method, g.Coverage()*100))

	outDir := p.settings.OutputDir
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	tilesDir := ""
	if format.SaveTiles {
		tilesDir = filepath.Join(outDir, naming.GenerateTilesDirName(survey.ID, g.Order))
	}
	p.downloader.SetTarget(name, tilesDir)

	fetched, err := p.downloader.FetchGrid(ctx, survey, g)
	if err != nil {
		return nil, err
	}

	run := report.NewRun(name, survey.ID, g.Order)
	run.RA, run.Dec = coord.RA, coord.Dec
	run.SetGrid(g, fetched.Cells)
	if fetched.Downloaded() == 0 {
		return nil, fmt.Errorf("%w: %d of %d cells failed", ErrNoTiles, fetched.Failed, len(g.Cells))
	}

	m, placed := mosaic.Assemble(g, fetched.Tiles, p.settings.TileSize)
	p.emitLog(fmt.Sprintf("Assembled %dx%d mosaic from %d/%d tiles", m.Width(), m.Height(), placed, len(g.Cells)))

	engine := centering.NewEngine(p.settings.CenteringConfig(g.Order))
	anchor := engine.ResolveAnchor(coord, g, m)
	crop := engine.CropCentered(m, anchor, req.OutputSize)
	run.AnchorX, run.AnchorY = anchor.Point.X, anchor.Point.Y
	run.OffsetDX, run.OffsetDY = anchor.Offset.DX, anchor.Offset.DY
	run.SeparationArcsec = anchor.SeparationArcsec
	run.AnchorFallback = anchor.Fallback
	run.CropShiftX, run.CropShiftY = crop.Shift.X, crop.Shift.Y

	w := &writer{dir: outDir, name: name, survey: survey.ID, order: g.Order, width: g.Width, height: g.Height, coord: coord}

	if run.MosaicPath, err = w.png("full", m.Image); err != nil {
		return nil, err
	}
	if format.SaveTIFF {
		meta := w.metadata(engine.Config().ArcsecPerPixel, crop.Target)
		if run.TIFFPath, err = w.tiff("centered", crop.Mosaic.Image, meta); err != nil {
			return nil, err
		}
	}

	overlay := mosaic.DefaultOverlay()
	overlay.Title = name
	if entry != nil {
		overlay.Title = entry.DisplayName()
	}
	overlay.Subtitle = fmt.Sprintf("%s %s", sky.FormatRA(coord.RA), sky.FormatDec(coord.Dec))
	mosaic.Annotate(crop.Mosaic.Image, crop.Target, overlay)
	if run.CenteredPath, err = w.png("centered", crop.Mosaic.Image); err != nil {
		return nil, err
	}
	if run.PreviewPath, err = w.jpeg("preview", mosaic.Preview(crop.Mosaic.Image, PreviewEdge)); err != nil {
		return nil, err
	}

	res := &Result{Run: run, Grid: g, Anchor: anchor, Crop: crop}
	if entry != nil && entry.HasSize() {
		zoomed, info := mosaic.ZoomedView(m, anchor.Point, entry.WidthArcmin, entry.HeightArcmin, engine.Config().ArcsecPerPixel)
		mosaic.Annotate(zoomed.Image, anchor.Point.Sub(info.Rect.Min), overlay)
		if _, err := w.png("zoomed", zoomed.Image); err != nil {
			return nil, err
		}
		res.Zoom = &info
	}

	run.Elapsed = time.Since(start)
	run.CSVPath = filepath.Join(outDir, naming.GenerateReportFilename(name, survey.ID, g.Order))
	if err := report.SaveCSV(run.CSVPath, run); err != nil {
		return nil, err
	}
	if p.store != nil {
		if err := p.store.Save(ctx, run); err != nil {
			return nil, err
		}
	}

	var summary strings.Builder
	if err := report.WriteSummary(&summary, run); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(summary.String()), "\n") {
			log.Printf("[Pipeline] %s", line)
		}
	}
	p.tracker.Track("mosaic_complete", map[string]interface{}{
		"survey":     survey.ID,
		"order":      g.Order,
		"grid":       fmt.Sprintf("%dx%d", g.Width, g.Height),
		"method":     string(g.Method),
		"downloaded": run.Downloaded,
		"failed":     run.Failed,
		"fallback":   anchor.Fallback,
		"format":     format.String(),
		"elapsed_ms": run.Elapsed.Milliseconds(),
	})
	p.emitLog(fmt.Sprintf("Done: %s (%d/%d tiles, %v)", filepath.Base(run.CenteredPath), run.Downloaded, run.Total(), run.Elapsed.Round(time.Millisecond)))
	return res, nil
}

// RunBatch runs every request in order. A failed target is logged and
// skipped; the joined errors are returned with the successful results.
// Cancellation stops the batch.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request) ([]*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bt := downloads.NewBatchTracker(len(reqs))
	p.downloader.SetBatch(bt)
	defer p.downloader.SetBatch(nil)

	var results []*Result
	var errs []error
	for _, req := range reqs {
		i := bt.Next()
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("batch cancelled: %w", err))
			break
		}
		p.emitLog(fmt.Sprintf("Target %d/%d: %s", i, len(reqs), req.Target))
		res, err := p.run(ctx, req)
		if err != nil {
			p.emitLog(fmt.Sprintf("Target %s failed: %v", req.Target, err))
			errs = append(errs, fmt.Errorf("%s: %w", req.Target, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}
