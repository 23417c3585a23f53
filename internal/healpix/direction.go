package healpix

import (
	"fmt"
	"strings"
)

// Direction is a compass label for one of the 8 neighbours.
type Direction int

const (
	S Direction = iota
	SE
	E
	NE
	N
	NW
	W
	SW
)

// Directions lists every Direction in declaration order.
var Directions = [8]Direction{S, SE, E, NE, N, NW, W, SW}

var directionNames = [8]string{"S", "SE", "E", "NE", "N", "NW", "W", "SW"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("Direction(%d)", int(d))
	}
	return directionNames[d]
}

// MarshalText lets directions key JSON objects.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Offset is the (dx, dy) step of d in the 3×3 layout, where row 0 holds SW, S, SE
// and row 2 holds NW, N, NE.
func (d Direction) Offset() (dx, dy int) {
	switch d {
	case S:
		return 0, -1
	case SE:
		return 1, -1
	case E:
		return 1, 0
	case NE:
		return 1, 1
	case N:
		return 0, 1
	case NW:
		return -1, 1
	case W:
		return -1, 0
	case SW:
		return -1, -1
	}
	return 0, 0
}

// CompassOrder assigns a Direction to each raw slot returned by Indexer.Neighbors.
type CompassOrder [8]Direction

var (
	// FormalCompassOrder matches the nested scheme's own slot contract.
	FormalCompassOrder = CompassOrder{SW, W, NW, N, NE, E, SE, S}

	// LegacyCompassOrder is the hand-calibrated table earlier mosaics were built with.
	LegacyCompassOrder = CompassOrder{S, SE, E, NE, N, NW, W, SW}
)

// ParseCompassOrder maps a settings value ("formal", "legacy") to a table.
func ParseCompassOrder(name string) (CompassOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "formal":
		return FormalCompassOrder, nil
	case "legacy":
		return LegacyCompassOrder, nil
	}
	return CompassOrder{}, fmt.Errorf("unknown compass order %q", name)
}

// Validate checks that every direction appears exactly once.
func (c CompassOrder) Validate() error {
	var seen [8]bool
	for slot, d := range c {
		if d < 0 || int(d) >= len(seen) {
			return fmt.Errorf("slot %d: invalid direction %d", slot, int(d))
		}
		if seen[d] {
			return fmt.Errorf("slot %d: direction %s assigned twice", slot, d)
		}
		seen[d] = true
	}
	return nil
}

// Neighborhood holds one pixel per Direction; NoPixel means absent.
type Neighborhood [8]Pixel

// Get returns the neighbour in direction d and whether it exists.
func (n Neighborhood) Get(d Direction) (Pixel, bool) {
	p := n[d]
	return p, p != NoPixel
}

// Count returns how many directions have a neighbour.
func (n Neighborhood) Count() int {
	c := 0
	for _, p := range n {
		if p != NoPixel {
			c++
		}
	}
	return c
}

// Map converts n to a map keyed by direction, omitting absent neighbours.
func (n Neighborhood) Map() map[Direction]Pixel {
	m := make(map[Direction]Pixel, 8)
	for _, d := range Directions {
		if p, ok := n.Get(d); ok {
			m[d] = p
		}
	}
	return m
}

// Resolver labels raw neighbour slots with compass directions.
type Resolver struct {
	Indexer Indexer
	Compass CompassOrder
}

// NewResolver returns a Resolver over idx using compass.
func NewResolver(idx Indexer, compass CompassOrder) (*Resolver, error) {
	if idx == nil {
		idx = Nested{}
	}
	if err := compass.Validate(); err != nil {
		return nil, fmt.Errorf("invalid compass order: %w", err)
	}
	return &Resolver{Indexer: idx, Compass: compass}, nil
}

// Resolve returns the directional neighbours of p.
func (r *Resolver) Resolve(p Pixel, order int) (Neighborhood, error) {
	var out Neighborhood
	for i := range out {
		out[i] = NoPixel
	}
	raw, err := r.Indexer.Neighbors(p, order)
	if err != nil {
		return out, fmt.Errorf("failed to query neighbours of %d: %w", p, err)
	}
	for slot, d := range r.Compass {
		out[d] = raw[slot]
	}
	return out, nil
}
