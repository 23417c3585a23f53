// Package hips describes HiPS surveys and fetches their tiles.
package hips

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hips-mosaic/internal/healpix"
)

// Layout selects how a survey names its tiles.
type Layout string

const (
	// LayoutStandard is {base}/Norder{o}/Dir{d}/Npix{p}.{fmt}.
	LayoutStandard Layout = "standard"
	// LayoutAllsky is the single {base}/Norder3/Allsky.{fmt} preview image.
	LayoutAllsky Layout = "allsky"
)

// TileURLFunc builds the URL of one tile.
type TileURLFunc func(s Survey, order int, pixel healpix.Pixel) string

// layouts is the strategy table keyed by Layout.
var layouts = map[Layout]TileURLFunc{
	LayoutStandard: func(s Survey, order int, pixel healpix.Pixel) string {
		return fmt.Sprintf("%s/%s", strings.TrimRight(s.BaseURL, "/"), TilePath(order, pixel, s.Format))
	},
	LayoutAllsky: func(s Survey, _ int, _ healpix.Pixel) string {
		return fmt.Sprintf("%s/Norder3/Allsky.%s", strings.TrimRight(s.BaseURL, "/"), s.Format)
	},
}

var (
	ErrUnknownSurvey = errors.New("unknown survey")
	ErrOrderTooDeep  = errors.New("order exceeds survey maximum")
	ErrUnknownLayout = errors.New("unknown tile layout")
	ErrDuplicateID   = errors.New("duplicate survey id")
	ErrInvalidSurvey = errors.New("invalid survey")
)

// DirBucket returns floor(pixel/10000)*10000, the HiPS directory grouping.
func DirBucket(pixel healpix.Pixel) int64 {
	return int64(pixel) / 10000 * 10000
}

// TilePath is the survey-relative path Norder{o}/Dir{d}/Npix{p}.{format}.
func TilePath(order int, pixel healpix.Pixel, format string) string {
	return fmt.Sprintf("Norder%d/Dir%d/Npix%d.%s", order, DirBucket(pixel), pixel, format)
}

// Survey is one HiPS image collection.
type Survey struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	BaseURL     string `json:"base_url"`
	Format      string `json:"format"`
	MaxOrder    int    `json:"max_order"`
	Description string `json:"description,omitempty"`
	Layout      Layout `json:"layout,omitempty"`
	// BlankCheck drops flat or white-filled tiles instead of stitching them.
	// Off by default since a dark sky tile is real data.
	BlankCheck bool `json:"blank_check,omitempty"`
}

// Validate checks the fields a Registry relies on.
func (s Survey) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidSurvey)
	case s.BaseURL == "":
		return fmt.Errorf("%w: %s has no base URL", ErrInvalidSurvey, s.ID)
	case s.Format == "":
		return fmt.Errorf("%w: %s has no tile format", ErrInvalidSurvey, s.ID)
	case s.MaxOrder < 0 || s.MaxOrder > healpix.MaxOrder:
		return fmt.Errorf("%w: %s max order %d", ErrInvalidSurvey, s.ID, s.MaxOrder)
	}
	if _, ok := layouts[s.layout()]; !ok {
		return fmt.Errorf("%w: %q for %s", ErrUnknownLayout, s.Layout, s.ID)
	}
	return nil
}

func (s Survey) layout() Layout {
	if s.Layout == "" {
		return LayoutStandard
	}
	return s.Layout
}

// TileURL returns the URL of pixel at order.
func (s Survey) TileURL(order int, pixel healpix.Pixel) (string, error) {
	if order > s.MaxOrder {
		return "", fmt.Errorf("%w: %s supports order <= %d, got %d", ErrOrderTooDeep, s.ID, s.MaxOrder, order)
	}
	if err := healpix.ValidatePixel(pixel, order); err != nil {
		return "", err
	}
	fn, ok := layouts[s.layout()]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s.Layout)
	}
	return fn(s, order, pixel), nil
}

// DefaultSurveys returns the built-in survey table.
func DefaultSurveys() []Survey {
	return []Survey{
		{ID: "DSS2_Color", Name: "DSS2 Color", BaseURL: "http://alasky.u-strasbg.fr/DSS/DSSColor", Format: "jpg", MaxOrder: 11,
			Description: "Digitized Sky Survey 2, colour composite"},
		{ID: "2MASS_Color", Name: "2MASS Color", BaseURL: "http://alasky.u-strasbg.fr/2MASS/Color", Format: "jpg", MaxOrder: 9,
			Description: "Two Micron All Sky Survey, J/H/K colour composite"},
		{ID: "2MASS_J", Name: "2MASS J", BaseURL: "http://alasky.u-strasbg.fr/2MASS/J", Format: "jpg", MaxOrder: 9,
			Description: "Two Micron All Sky Survey, J band"},
		{ID: "DSS2_Red", Name: "DSS2 Red", BaseURL: "http://alasky.u-strasbg.fr/DSS/DSS2-red", Format: "jpg", MaxOrder: 11,
			Description: "Digitized Sky Survey 2, red plates"},
		{ID: "Gaia_DR3", Name: "Gaia DR3", BaseURL: "http://alasky.u-strasbg.fr/Gaia/Gaia-DR3", Format: "png", MaxOrder: 13,
			Description: "Gaia Data Release 3 density map"},
		{ID: "SDSS_DR12", Name: "SDSS DR12", BaseURL: "http://alasky.u-strasbg.fr/SDSS/DR12/color", Format: "jpg", MaxOrder: 12,
			Description: "Sloan Digital Sky Survey DR12 colour"},
		{ID: "Mellinger_Color", Name: "Mellinger Color", BaseURL: "http://alasky.u-strasbg.fr/Mellinger/Mellinger_color", Format: "jpg", MaxOrder: 8,
			Description: "Mellinger optical all-sky panorama"},
		{ID: "Rubin_Virgo_Color", Name: "Rubin Virgo Color", BaseURL: "https://images.rubinobservatory.org/hips/SVImages_v2/color_ugri", Format: "webp", MaxOrder: 12,
			Description: "Rubin Observatory first-look Virgo field, ugri colour"},
	}
}

// DefaultSurveyID is used when no survey is configured.
const DefaultSurveyID = "DSS2_Color"

// Registry is an immutable set of surveys keyed by ID.
type Registry struct {
	byID  map[string]Survey
	order []string
}

// NewRegistry validates surveys and indexes them by ID.
func NewRegistry(surveys []Survey) (*Registry, error) {
	r := &Registry{byID: make(map[string]Survey, len(surveys))}
	for _, s := range surveys {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, s.ID)
		}
		r.byID[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r, nil
}

// DefaultRegistry wraps DefaultSurveys.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultSurveys())
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRegistry reads a JSON array of surveys.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey file: %w", err)
	}
	var surveys []Survey
	if err := json.Unmarshal(data, &surveys); err != nil {
		return nil, fmt.Errorf("failed to parse survey file: %w", err)
	}
	return NewRegistry(surveys)
}

// Save writes the registry as a JSON array.
func (r *Registry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create survey directory: %w", err)
	}
	data, err := json.MarshalIndent(r.All(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal surveys: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write survey file: %w", err)
	}
	return nil
}

// Get returns the survey with id.
func (r *Registry) Get(id string) (Survey, error) {
	s, ok := r.byID[id]
	if !ok {
		return Survey{}, fmt.Errorf("%w: %s", ErrUnknownSurvey, id)
	}
	return s, nil
}

// All returns the surveys in registration order.
func (r *Registry) All() []Survey {
	out := make([]Survey, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns the survey ids sorted alphabetically.
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

// TileURL resolves the URL of a tile in the survey with id.
func (r *Registry) TileURL(id string, order int, pixel healpix.Pixel) (string, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	return s.TileURL(order, pixel)
}
