// World generation using layered simplex noise.
// Elevation and moisture maps derive terrain; a second pass scatters
// entities according to spawn rules.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/drivesim/internal/catalog"
)

// GenConfig holds world generation parameters.
type GenConfig struct {
	Radius      int     `yaml:"radius"`
	Seed        int64   `yaml:"seed"`         // 0 = random
	SeaLevel    float64 `yaml:"sea_level"`    // elevation below which the border is ocean
	MountainLvl float64 `yaml:"mountain_lvl"` // elevation above which terrain is mountain
	LakeLevel   float64 `yaml:"lake_level"`   // moisture above which low ground is lake
}

// DefaultGenConfig returns a small sandbox suited to a handful of agents.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:      12,
		Seed:        0,
		SeaLevel:    0.22,
		MountainLvl: 0.75,
		LakeLevel:   0.78,
	}
}

// SpawnRule scatters one entity type over matching terrain.
type SpawnRule struct {
	Type    catalog.EntityType `yaml:"type"`
	Terrain []Terrain          `yaml:"terrain"`
	Chance  float64            `yaml:"chance"` // per-hex probability, modulated by noise
	Tags    []string           `yaml:"tags"`
	Risk    float64            `yaml:"risk"`
	// Cap limits the live population of this type; 0 = unlimited.
	Cap int `yaml:"cap"`
}

// DefaultSpawnRules populates the sandbox with everything the default
// catalog targets.
func DefaultSpawnRules() []SpawnRule {
	return []SpawnRule{
		{Type: "berry_bush", Terrain: []Terrain{TerrainPlains, TerrainForest}, Chance: 0.10, Cap: 60},
		{Type: "food", Terrain: []Terrain{TerrainPlains}, Chance: 0.04, Tags: []string{"edible"}, Cap: 30},
		{Type: "water", Terrain: []Terrain{TerrainLake}, Chance: 0.30, Tags: []string{"fresh"}, Cap: 40},
		{Type: "well", Terrain: []Terrain{TerrainPlains}, Chance: 0.01, Cap: 6},
		{Type: "bed", Terrain: []Terrain{TerrainForest, TerrainMountain}, Chance: 0.02, Tags: []string{"shelter"}, Cap: 10},
		{Type: "raw_meat", Terrain: []Terrain{TerrainForest}, Chance: 0.03, Risk: 2, Cap: 20},
		{Type: "fire", Terrain: []Terrain{TerrainPlains, TerrainForest}, Chance: 0.01, Cap: 6},
		{Type: "ball", Terrain: []Terrain{TerrainPlains}, Chance: 0.005, Cap: 3},
	}
}

// Generate creates a map with terrain. Entities are added by Scatter.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	elevNoise := opensimplex.NewNormalized(seed)
	moistNoise := opensimplex.NewNormalized(seed + 1)

	m := NewMap(cfg.Radius)

	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}

			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0

			elev := octaveNoise(elevNoise, x, y, 4, 0.09, 0.5)
			moist := octaveNoise(moistNoise, x, y, 3, 0.07, 0.5)

			// Continental shaping: sink the rim into ocean.
			distFromCenter := math.Sqrt(x*x+y*y) / float64(max(cfg.Radius, 1))
			falloff := 1.0 - math.Pow(distFromCenter, 4)
			if falloff < 0 {
				falloff = 0
			}
			elev *= falloff

			m.Set(&Hex{
				Coord:     coord,
				Terrain:   deriveTerrain(elev, moist, cfg),
				Elevation: elev,
				Moisture:  moist,
			})
		}
	}
	return m
}

func deriveTerrain(elev, moist float64, cfg GenConfig) Terrain {
	if elev < cfg.SeaLevel {
		return TerrainOcean
	}
	if elev > cfg.MountainLvl {
		return TerrainMountain
	}
	if moist > cfg.LakeLevel && elev < 0.5 {
		return TerrainLake
	}
	if moist > 0.5 {
		return TerrainForest
	}
	return TerrainPlains
}

// Scatter places entities according to rules and returns how many spawned.
// Deterministic for a given map and seed.
func Scatter(m *Map, rules []SpawnRule, seed int64) int {
	rng := rand.New(rand.NewSource(seed + 200))
	density := opensimplex.NewNormalized(seed + 2)

	coords := SortedCoords(m)
	spawned := 0
	counts := m.CountByType()
	for _, c := range coords {
		hex := m.Get(c)
		x := float64(c.Q) + float64(c.R)*0.5
		y := float64(c.R) * math.Sqrt(3.0) / 2.0
		// Clump entities: noise in [0,1] scales the base chance by 0..2.
		clump := density.Eval2(x*0.2, y*0.2) * 2
		for _, rule := range rules {
			if !terrainIn(hex.Terrain, rule.Terrain) {
				continue
			}
			if rule.Cap > 0 && counts[rule.Type] >= rule.Cap {
				continue
			}
			if rng.Float64() < rule.Chance*clump {
				id := m.Spawn(rule.Type, c, rule.Tags...)
				if e, ok := m.Entity(id); ok {
					e.Risk = rule.Risk
				}
				counts[rule.Type]++
				spawned++
			}
		}
	}
	return spawned
}

// Regrow tops every rule back up toward its cap by at most one entity per
// rule, at a random matching hex. Called hourly by the engine.
func Regrow(m *Map, rules []SpawnRule, rng *rand.Rand) int {
	counts := m.CountByType()
	coords := SortedCoords(m)
	grown := 0
	for _, rule := range rules {
		if rule.Cap > 0 && counts[rule.Type] >= rule.Cap {
			continue
		}
		var candidates []HexCoord
		for _, c := range coords {
			if terrainIn(m.Get(c).Terrain, rule.Terrain) {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 || rng.Float64() >= rule.Chance*4 {
			continue
		}
		c := candidates[rng.Intn(len(candidates))]
		id := m.Spawn(rule.Type, c, rule.Tags...)
		if e, ok := m.Entity(id); ok {
			e.Risk = rule.Risk
		}
		grown++
	}
	return grown
}

// SortedCoords returns every hex coordinate in (q, r) order.
func SortedCoords(m *Map) []HexCoord {
	out := make([]HexCoord, 0, len(m.Hexes))
	for q := -m.Radius; q <= m.Radius; q++ {
		for r := -m.Radius; r <= m.Radius; r++ {
			c := HexCoord{Q: q, R: r}
			if _, ok := m.Hexes[c]; ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// LandCoords returns the non-ocean coordinates in (q, r) order.
func LandCoords(m *Map) []HexCoord {
	var out []HexCoord
	for _, c := range SortedCoords(m) {
		if m.Get(c).Terrain != TerrainOcean {
			out = append(out, c)
		}
	}
	return out
}

func terrainIn(t Terrain, set []Terrain) bool {
	if len(set) == 0 {
		return t != TerrainOcean
	}
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, hex := range m.Hexes {
		counts[hex.Terrain]++
	}
	return counts
}
