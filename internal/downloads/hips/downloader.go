// Package hips fetches every tile of a grid from a HiPS survey.
package hips

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"hips-mosaic/internal/cache"
	"hips-mosaic/internal/common"
	"hips-mosaic/internal/downloads"
	"hips-mosaic/internal/grid"
	"hips-mosaic/internal/healpix"
	hipsclient "hips-mosaic/internal/hips"
	"hips-mosaic/internal/imagery"
	"hips-mosaic/internal/utils/naming"
)

// Options tunes a Downloader. Zero values fall back to the downloads defaults.
type Options struct {
	Workers      int
	RequestDelay time.Duration
	CachedDelay  time.Duration
	TileTimeout  time.Duration

	// TilesDir, when set, receives a copy of every fetched tile.
	TilesDir   string
	TargetName string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = downloads.DefaultWorkers
	}
	if o.RequestDelay < 0 {
		o.RequestDelay = 0
	}
	if o.CachedDelay < 0 {
		o.CachedDelay = 0
	}
	if o.TileTimeout <= 0 {
		o.TileTimeout = downloads.DefaultTileTimeout
	}
	return o
}

// DefaultOptions returns the polite single-worker settings.
func DefaultOptions() Options {
	return Options{
		Workers:      downloads.DefaultWorkers,
		RequestDelay: downloads.DefaultRequestDelay,
		CachedDelay:  downloads.DefaultCachedDelay,
		TileTimeout:  downloads.DefaultTileTimeout,
	}
}

// Result is what FetchGrid settled on, one TileResult per cell in row-major order.
type Result struct {
	Tiles   map[grid.Pos]image.Image
	Cells   []common.TileResult
	Fetched int
	Cached  int
	Failed  int
	Elapsed time.Duration
}

// Downloaded is the number of cells with usable imagery.
func (r *Result) Downloaded() int {
	return r.Fetched + r.Cached
}

// Downloader handles HiPS tile downloads for a grid
type Downloader struct {
	client             *hipsclient.Client
	tileCache          *cache.PersistentTileCache
	progressCallback   func(downloads.DownloadProgress)
	logCallback        func(string)
	trackEventCallback func(string, map[string]interface{})
	opts               Options
	batch              *downloads.BatchTracker
	mu                 sync.Mutex
}

// NewDownloader creates a Downloader. tileCache may be nil.
func NewDownloader(
	client *hipsclient.Client,
	tileCache *cache.PersistentTileCache,
	progressCallback func(downloads.DownloadProgress),
	logCallback func(string),
	trackEventCallback func(string, map[string]interface{}),
	opts Options,
) *Downloader {
	return &Downloader{
		client:             client,
		tileCache:          tileCache,
		progressCallback:   progressCallback,
		logCallback:        logCallback,
		trackEventCallback: trackEventCallback,
		opts:               opts.withDefaults(),
	}
}

// SetBatch attaches a batch tracker whose position is reported with progress.
func (d *Downloader) SetBatch(bt *downloads.BatchTracker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batch = bt
}

// SetTarget sets the name used for saved tile files.
func (d *Downloader) SetTarget(name, tilesDir string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.TargetName = name
	d.opts.TilesDir = tilesDir
}

func (d *Downloader) options() (Options, *downloads.BatchTracker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts, d.batch
}

func (d *Downloader) emitLog(message string) {
	log.Printf("[Fetch] %s", message)
	if d.logCallback != nil {
		d.logCallback(message)
	}
}

func (d *Downloader) emitProgress(progress downloads.DownloadProgress) {
	if d.progressCallback != nil {
		d.progressCallback(progress)
	}
}

func (d *Downloader) trackEvent(event string, properties map[string]interface{}) {
	if d.trackEventCallback != nil {
		d.trackEventCallback(event, properties)
	}
}

// FetchGrid fetches every cell of g. It returns once each cell's task has
// settled; a failed cell never fails the call. Only cancellation of ctx does.
func (d *Downloader) FetchGrid(ctx context.Context, survey hipsclient.Survey, g *grid.Grid) (*Result, error) {
	if g == nil || len(g.Cells) == 0 {
		return nil, fmt.Errorf("no cells to fetch")
	}
	if g.Order > survey.MaxOrder {
		return nil, fmt.Errorf("%w: order %d > %d for %s", hipsclient.ErrOrderTooDeep, g.Order, survey.MaxOrder, survey.ID)
	}
	opts, batch := d.options()

	if opts.TilesDir != "" {
		if err := os.MkdirAll(opts.TilesDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create tiles directory: %w", err)
		}
	}

	total := len(g.Cells)
	d.emitLog(fmt.Sprintf("Fetching %d tiles of %s at order %d with %d workers", total, survey.ID, g.Order, opts.Workers))

	start := time.Now()
	res := &Result{
		Tiles: make(map[grid.Pos]image.Image, total),
		Cells: make([]common.TileResult, total),
	}
	var tilesMu sync.Mutex
	var settled int64
	currentTarget, totalTargets := batch.Progress()

	sem := semaphore.NewWeighted(int64(opts.Workers))
	var wg sync.WaitGroup
	for i, cell := range g.Cells {
		wg.Add(1)
		go func(i int, cell grid.Cell) {
			defer wg.Done()

			tr, img := d.fetchCell(ctx, sem, opts, survey, g.Order, cell)
			res.Cells[i] = tr
			if img != nil {
				tilesMu.Lock()
				res.Tiles[cell.Pos] = img
				tilesMu.Unlock()
			}

			count := atomic.AddInt64(&settled, 1)
			status := fmt.Sprintf("Fetched %d/%d tiles", count, total)
			if totalTargets > 0 {
				status = fmt.Sprintf("Target %d/%d: %s", currentTarget, totalTargets, status)
			}
			d.emitProgress(downloads.DownloadProgress{
				Downloaded:    int(count),
				Total:         total,
				Percent:       int(count * 100 / int64(total)),
				Status:        status,
				CurrentTarget: currentTarget,
				TotalTargets:  totalTargets,
			})
		}(i, cell)
	}
	wg.Wait()
	res.Elapsed = time.Since(start)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("fetch cancelled: %w", err)
	}

	for _, tr := range res.Cells {
		switch tr.Status {
		case common.StatusOK:
			res.Fetched++
		case common.StatusCached:
			res.Cached++
		case common.StatusFailed, common.StatusTimeout:
			res.Failed++
		}
	}

	d.emitLog(fmt.Sprintf("Settled %d tiles: %d fetched, %d cached, %d failed in %s",
		total, res.Fetched, res.Cached, res.Failed, res.Elapsed.Round(time.Millisecond)))

	d.trackEvent("fetch_complete", map[string]interface{}{
		"survey":  survey.ID,
		"order":   g.Order,
		"total":   total,
		"fetched": res.Fetched,
		"cached":  res.Cached,
		"failed":  res.Failed,
		"workers": opts.Workers,
	})

	return res, nil
}

// fetchCell runs one cell's task while holding a pool slot, including the
// courtesy delay after the request.
func (d *Downloader) fetchCell(ctx context.Context, sem *semaphore.Weighted, opts Options, survey hipsclient.Survey, order int, cell grid.Cell) (common.TileResult, image.Image) {
	tr := common.TileResult{Pos: cell.Pos, Pixel: cell.Pixel}
	if !cell.HasPixel() {
		tr.Status = common.StatusSkipped
		return tr, nil
	}
	tr.URL, _ = survey.TileURL(order, cell.Pixel)

	if err := sem.Acquire(ctx, 1); err != nil {
		tr.Status = common.StatusFailed
		tr.Error = err.Error()
		return tr, nil
	}
	defer sem.Release(1)

	start := time.Now()
	img, delay := d.fetchPixel(ctx, &tr, opts, survey, order, cell)
	tr.Duration = time.Since(start)
	pause(ctx, delay)
	return tr, img
}

// fetchPixel fills tr and returns the decoded tile, if any, together with the
// delay owed before the pool slot is released.
func (d *Downloader) fetchPixel(ctx context.Context, tr *common.TileResult, opts Options, survey hipsclient.Survey, order int, cell grid.Cell) (image.Image, time.Duration) {
	if data, ok := d.cached(survey, order, cell.Pixel); ok {
		if img, err := d.accept(tr, survey, data); err == nil {
			tr.Status = common.StatusCached
			log.Printf("[Cache HIT] %s order=%d pixel=%d", survey.ID, order, cell.Pixel)
			d.saveTile(tr, opts, survey, cell, data)
			return img, opts.CachedDelay
		}
		// Unusable cache entry; refetch below.
	}

	taskCtx, cancel := context.WithTimeout(ctx, opts.TileTimeout)
	data, err := d.client.FetchTile(taskCtx, survey, order, cell.Pixel)
	cancel()
	if err != nil {
		tr.Status = common.StatusFailed
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			tr.Status = common.StatusTimeout
		}
		tr.Error = err.Error()
		log.Printf("[Fetch] pixel %d: %v", cell.Pixel, err)
		return nil, opts.RequestDelay
	}

	img, err := d.accept(tr, survey, data)
	if err != nil {
		tr.Status = common.StatusFailed
		tr.Error = err.Error()
		return nil, opts.RequestDelay
	}
	if survey.BlankCheck && imagery.IsBlank(img) {
		tr.Status = common.StatusBlank
		return nil, opts.RequestDelay
	}

	tr.Status = common.StatusOK
	if d.tileCache != nil {
		if err := d.tileCache.Set(survey.ID, order, cell.Pixel, survey.Format, data); err != nil {
			log.Printf("[Cache] Failed to store pixel %d: %v", cell.Pixel, err)
		}
	}
	d.saveTile(tr, opts, survey, cell, data)
	return img, opts.RequestDelay
}

func (d *Downloader) cached(survey hipsclient.Survey, order int, pixel healpix.Pixel) ([]byte, bool) {
	if d.tileCache == nil {
		return nil, false
	}
	return d.tileCache.Get(survey.ID, order, pixel)
}

// accept validates and decodes a payload, recording its size on tr.
func (d *Downloader) accept(tr *common.TileResult, survey hipsclient.Survey, data []byte) (image.Image, error) {
	tr.Bytes = len(data)
	if err := imagery.Validate(data, survey.Format); err != nil {
		return nil, err
	}
	img, _, err := imagery.Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	tr.Width, tr.Height = b.Dx(), b.Dy()
	return img, nil
}

func (d *Downloader) saveTile(tr *common.TileResult, opts Options, survey hipsclient.Survey, cell grid.Cell, data []byte) {
	if opts.TilesDir == "" {
		return
	}
	name := naming.GenerateTileFilename(opts.TargetName, cell.X, cell.Y, int64(cell.Pixel), survey.Format)
	path := filepath.Join(opts.TilesDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("Failed to save tile: %v", err)
		return
	}
	tr.Path = path
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
