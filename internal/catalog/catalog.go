// Package catalog holds named sky targets.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"hips-mosaic/internal/sky"
)

// ErrUnknownTarget is returned by Lookup for names not in the catalog.
var ErrUnknownTarget = errors.New("unknown target")

// Target is a named position, optionally with the object's apparent size.
type Target struct {
	Name          string  `json:"name"`
	CommonName    string  `json:"common_name,omitempty"`
	Kind          string  `json:"kind,omitempty"`
	Constellation string  `json:"constellation,omitempty"`
	RA            float64 `json:"ra"`
	Dec           float64 `json:"dec"`
	Magnitude     float64 `json:"magnitude,omitempty"`
	WidthArcmin   float64 `json:"width_arcmin,omitempty"`
	HeightArcmin  float64 `json:"height_arcmin,omitempty"`
	Description   string  `json:"description,omitempty"`
}

// Coordinate returns the target position labeled with its name.
func (t Target) Coordinate() (sky.Coordinate, error) {
	return sky.New(t.RA, t.Dec, t.Name)
}

// HasSize reports whether the apparent size is known.
func (t Target) HasSize() bool {
	return t.WidthArcmin > 0 && t.HeightArcmin > 0
}

// DisplayName is "M51 (Whirlpool Galaxy)" or just the name.
func (t Target) DisplayName() string {
	if t.CommonName == "" {
		return t.Name
	}
	return fmt.Sprintf("%s (%s)", t.Name, t.CommonName)
}

// Catalog is an immutable set of targets.
type Catalog struct {
	targets []Target
	byName  map[string]int
}

// New builds a catalog, rejecting duplicate names (case-insensitively) and
// invalid positions.
func New(targets []Target) (*Catalog, error) {
	c := &Catalog{
		targets: make([]Target, 0, len(targets)),
		byName:  make(map[string]int, len(targets)),
	}
	for _, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("target without a name")
		}
		if _, err := t.Coordinate(); err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		key := strings.ToLower(t.Name)
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		t.RA = sky.NormalizeRA(t.RA)
		c.byName[key] = len(c.targets)
		c.targets = append(c.targets, t)
	}
	return c, nil
}

// Load reads a JSON array of targets.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var targets []Target
	if err := json.Unmarshal(data, &targets); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(targets)
}

// Lookup finds a target by name, ignoring case and surrounding space.
func (c *Catalog) Lookup(name string) (Target, error) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
	}
	return c.targets[i], nil
}

// All returns a copy of the targets in insertion order.
func (c *Catalog) All() []Target {
	out := make([]Target, len(c.targets))
	copy(out, c.targets)
	return out
}

// Names returns the target names sorted.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.targets))
	for i, t := range c.targets {
		names[i] = t.Name
	}
	sort.Strings(names)
	return names
}

// Len is the number of targets.
func (c *Catalog) Len() int { return len(c.targets) }
