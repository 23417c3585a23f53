package grid

import (
	"errors"
	"fmt"
	"log"
	"runtime"

	"golang.org/x/sync/errgroup"

	"hips-mosaic/internal/healpix"
)

// Strategy selects how cells outside the exact 3×3 block are filled.
type Strategy string

const (
	// StrategyExtrapolate estimates outer cells with a linear index offset.
	StrategyExtrapolate Strategy = "extrapolate"
	// StrategyWalk follows the real neighbour graph outward from the center.
	StrategyWalk Strategy = "walk"
)

// DefaultMinCoverage is the coverage below which a grid is rebuilt by fallback.
const DefaultMinCoverage = 0.95

var ErrInvalidDimensions = errors.New("grid dimensions must be positive")

// Config tunes a Builder.
type Config struct {
	Strategy    Strategy
	MinCoverage float64
	// Workers bounds concurrent center lookups. Zero means GOMAXPROCS.
	Workers int
}

// DefaultConfig returns the extrapolating builder settings.
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyExtrapolate,
		MinCoverage: DefaultMinCoverage,
	}
}

// ParseStrategy maps a settings value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyExtrapolate:
		return StrategyExtrapolate, nil
	case StrategyWalk:
		return StrategyWalk, nil
	}
	return "", fmt.Errorf("unknown grid strategy %q", s)
}

// Builder creates grids from a center pixel.
type Builder struct {
	resolver *healpix.Resolver
	cfg      Config
}

// NewBuilder returns a Builder using resolver for neighbour lookups.
func NewBuilder(resolver *healpix.Resolver, cfg Config) *Builder {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyExtrapolate
	}
	if cfg.MinCoverage < 0 || cfg.MinCoverage > 1 {
		cfg.MinCoverage = DefaultMinCoverage
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return &Builder{resolver: resolver, cfg: cfg}
}

// Config returns the effective builder settings.
func (b *Builder) Config() Config {
	return b.cfg
}

// ExtrapolationSpacing is the index step per grid column: max(1, nside/32).
func ExtrapolationSpacing(order int) int64 {
	return max(1, healpix.NSide(order)/32)
}

// Extrapolate estimates the pixel dx columns and dy rows away from center.
// Rows are 8 spacings apart. The result is clamped into the valid range.
func Extrapolate(center healpix.Pixel, order, dx, dy int) healpix.Pixel {
	spacing := ExtrapolationSpacing(order)
	v := int64(center) + int64(dy)*spacing*8 + int64(dx)*spacing
	return healpix.Clamp(v, order)
}

// BuildThreeByThree builds the exact grid of center and its 8 neighbours.
func (b *Builder) BuildThreeByThree(center healpix.Pixel, order int) (*Grid, error) {
	ref, err := b.reference(center, order)
	if err != nil {
		return nil, err
	}
	pixels := make([]healpix.Pixel, 9)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			pixels[row*3+col] = ref[row][col]
		}
	}
	return b.finish(center, order, 3, 3, MethodExact, "", pixels)
}

// BuildGrid builds a width×height grid with center at (width/2, height/2).
//
// The exact 3×3 neighbourhood is embedded at the center and the remaining cells
// are filled by the configured Strategy. The result is then checked: the center
// block must still match the exact neighbourhood and Coverage must reach
// MinCoverage. Otherwise every cell is rebuilt with Extrapolate and the grid is
// marked MethodFallback. Errors are returned only for invalid arguments.
func (b *Builder) BuildGrid(center healpix.Pixel, order, width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width == 3 && height == 3 {
		return b.BuildThreeByThree(center, order)
	}

	ref, err := b.reference(center, order)
	if err != nil {
		return nil, err
	}

	cx, cy := width/2, height/2
	pixels := make([]healpix.Pixel, width*height)
	placed := make([]bool, width*height)
	for i := range pixels {
		pixels[i] = healpix.NoPixel
	}
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			x, y := cx-1+col, cy-1+row
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			pixels[y*width+x] = ref[row][col]
			placed[y*width+x] = true
		}
	}

	method := MethodExtrapolate
	switch b.cfg.Strategy {
	case StrategyWalk:
		method = MethodWalk
		if err := b.walk(order, width, height, pixels, placed); err != nil {
			return nil, err
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if !placed[y*width+x] {
					pixels[y*width+x] = Extrapolate(center, order, x-cx, y-cy)
				}
			}
		}
	}

	reason := validate(ref, pixels, width, height, b.cfg.MinCoverage)
	if reason != "" {
		log.Printf("[Grid] %dx%d grid around pixel %d failed validation (%s), using fallback", width, height, center, reason)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pixels[y*width+x] = Extrapolate(center, order, x-cx, y-cy)
			}
		}
		method = MethodFallback
	}

	return b.finish(center, order, width, height, method, reason, pixels)
}

// reference returns the exact 3×3 neighbourhood of center.
func (b *Builder) reference(center healpix.Pixel, order int) (Block, error) {
	if err := healpix.ValidatePixel(center, order); err != nil {
		return Block{}, err
	}
	nb, err := b.resolver.Resolve(center, order)
	if err != nil {
		return Block{}, err
	}
	return layout(center, nb), nil
}

// validate returns an empty string when the center block matches ref and
// coverage reaches minCoverage, or a short reason otherwise.
func validate(ref Block, pixels []healpix.Pixel, width, height int, minCoverage float64) string {
	cx, cy := width/2, height/2
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			x, y := cx-1+col, cy-1+row
			if x < 0 || y < 0 || x >= width || y >= height {
				continue
			}
			if got := pixels[y*width+x]; got != ref[row][col] {
				return fmt.Sprintf("center block mismatch at (%d,%d): %d != %d", x, y, got, ref[row][col])
			}
		}
	}

	valid := 0
	for _, p := range pixels {
		if p != healpix.NoPixel {
			valid++
		}
	}
	coverage := float64(valid) / float64(len(pixels))
	if coverage < minCoverage {
		return fmt.Sprintf("coverage %.1f%% below %.1f%%", coverage*100, minCoverage*100)
	}
	return ""
}

// finish resolves every cell's sky center concurrently and assembles the Grid.
func (b *Builder) finish(center healpix.Pixel, order, width, height int, method Method, reason string, pixels []healpix.Pixel) (*Grid, error) {
	cells := make([]Cell, len(pixels))

	var g errgroup.Group
	g.SetLimit(b.cfg.Workers)
	for i, p := range pixels {
		i, p := i, p
		cells[i] = Cell{Pos: Pos{X: i % width, Y: i / width}, Pixel: p}
		if p == healpix.NoPixel {
			continue
		}
		g.Go(func() error {
			c, err := b.resolver.Indexer.PixelToSky(p, order)
			if err != nil {
				return fmt.Errorf("failed to resolve center of pixel %d: %w", p, err)
			}
			cells[i].Center = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	grid := &Grid{
		Order:          order,
		Width:          width,
		Height:         height,
		Center:         center,
		Method:         method,
		FallbackReason: reason,
		Cells:          cells,
	}
	log.Printf("[Grid] Built %dx%d grid around pixel %d at order %d (method=%s, coverage=%.1f%%)",
		width, height, center, order, method, grid.Coverage()*100)
	return grid, nil
}
