package world

import (
	"fmt"
	"math"
	"sort"

	"github.com/talgya/drivesim/internal/catalog"
)

// EntityID identifies an entity. Zero is never issued.
type EntityID uint64

// NoEntity is the zero EntityID, meaning "no target".
const NoEntity EntityID = 0

// Entity is anything an agent can target: food, a well, a bed, another agent.
type Entity struct {
	ID       EntityID           `json:"id"`
	Type     catalog.EntityType `json:"type"`
	Position HexCoord           `json:"position"`
	Tags     map[string]bool    `json:"tags,omitempty"`
	// Risk feeds target ranking: higher is less attractive.
	Risk float64 `json:"risk,omitempty"`
	// Agent links an entity to the agent it represents, 0 otherwise.
	Agent uint64 `json:"agent,omitempty"`
}

// HasTag reports whether the entity carries tag.
func (e *Entity) HasTag(tag string) bool {
	return e.Tags[tag]
}

// Satisfies reports whether the entity passes a target constraint.
func (e *Entity) Satisfies(c catalog.Constraint) bool {
	if c.EntityType != "" && e.Type != c.EntityType {
		return false
	}
	if c.Tag != "" && !e.Tags[c.Tag] {
		return false
	}
	return true
}

// Map holds the hex grid and the entity store. It does no locking;
// the owning simulation serializes access.
type Map struct {
	Hexes    map[HexCoord]*Hex `json:"-"`
	Radius   int               `json:"radius"`
	entities map[EntityID]*Entity
	nextID   EntityID
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Hexes:    make(map[HexCoord]*Hex),
		Radius:   radius,
		entities: make(map[EntityID]*Entity),
		nextID:   1,
	}
}

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return Distance(coord, HexCoord{}) <= m.Radius
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// Spawn adds an entity and returns its id.
func (m *Map) Spawn(t catalog.EntityType, pos HexCoord, tags ...string) EntityID {
	id := m.nextID
	m.nextID++
	e := &Entity{ID: id, Type: t, Position: pos}
	if len(tags) > 0 {
		e.Tags = make(map[string]bool, len(tags))
		for _, tag := range tags {
			e.Tags[tag] = true
		}
	}
	m.entities[id] = e
	return id
}

// Restore inserts an entity with a fixed id (used when loading saved state).
func (m *Map) Restore(e Entity) {
	cp := e
	m.entities[e.ID] = &cp
	if e.ID >= m.nextID {
		m.nextID = e.ID + 1
	}
}

// Entity returns the entity with the given id.
func (m *Map) Entity(id EntityID) (*Entity, bool) {
	e, ok := m.entities[id]
	return e, ok
}

// Exists reports whether the entity is still in the world.
func (m *Map) Exists(id EntityID) bool {
	_, ok := m.entities[id]
	return ok
}

// Remove deletes an entity. Returns false if it was already gone.
func (m *Map) Remove(id EntityID) bool {
	if _, ok := m.entities[id]; !ok {
		return false
	}
	delete(m.entities, id)
	return true
}

// Move relocates an entity.
func (m *Map) Move(id EntityID, pos HexCoord) {
	if e, ok := m.entities[id]; ok {
		e.Position = pos
	}
}

// EntityCount returns the number of live entities.
func (m *Map) EntityCount() int {
	return len(m.entities)
}

// Entities returns every entity sorted by id.
func (m *Map) Entities() []*Entity {
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Find returns the ids of entities passing every constraint within radius
// hexes of from (radius <= 0 means anywhere), sorted by id.
func (m *Map) Find(constraints []catalog.Constraint, from HexCoord, radius float64) []EntityID {
	var out []EntityID
	for id, e := range m.entities {
		if radius > 0 && float64(Distance(from, e.Position)) > math.Floor(radius) {
			continue
		}
		ok := true
		for _, c := range constraints {
			if !e.Satisfies(c) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CountByType summarizes the entity population.
func (m *Map) CountByType() map[catalog.EntityType]int {
	counts := make(map[catalog.EntityType]int)
	for _, e := range m.entities {
		counts[e.Type]++
	}
	return counts
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, hexes=%d, entities=%d)", m.Radius, m.HexCount(), len(m.entities))
}
