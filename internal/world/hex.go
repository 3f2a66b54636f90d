// Package world provides the sandbox the planner runs against: a hex grid
// with terrain and a store of typed entities.
// Uses axial coordinates (q, r) for the hex grid.
package world

import (
	"fmt"
	"strings"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Terrain types for hex tiles.
type Terrain uint8

const (
	TerrainPlains   Terrain = iota // berries, open ground
	TerrainForest                  // game, firewood, mushrooms
	TerrainMountain                // caves, stone
	TerrainLake                    // fresh water at the shore
	TerrainOcean                   // map border
)

// Hex is a single tile on the map.
type Hex struct {
	Coord     HexCoord `json:"coord"`
	Terrain   Terrain  `json:"terrain"`
	Elevation float64  `json:"elevation"` // 0.0 (sea level) to 1.0 (peak)
	Moisture  float64  `json:"moisture"`  // 0.0 (arid) to 1.0 (wet)
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}

// StepToward returns the neighbor of from that is closest to to.
// Returns from unchanged when already there. Ties resolve in
// HexNeighborDirections order so movement is deterministic.
func StepToward(from, to HexCoord) HexCoord {
	if from == to {
		return from
	}
	best := from
	bestDist := Distance(from, to)
	for _, n := range from.Neighbors() {
		if d := Distance(n, to); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainMountain:
		return "Mountain"
	case TerrainLake:
		return "Lake"
	case TerrainOcean:
		return "Ocean"
	default:
		return "Unknown"
	}
}

// UnmarshalText parses a terrain name, case-insensitively, so spawn rules
// can name terrains in YAML.
func (t *Terrain) UnmarshalText(text []byte) error {
	for c := TerrainPlains; c <= TerrainOcean; c++ {
		if strings.EqualFold(TerrainName(c), string(text)) {
			*t = c
			return nil
		}
	}
	return fmt.Errorf("unknown terrain %q", text)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
