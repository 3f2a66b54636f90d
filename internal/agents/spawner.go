// Agent spawning: names, starting positions and drive levels.
package agents

import (
	"math/rand"

	"github.com/talgya/drivesim/internal/drives"
	"github.com/talgya/drivesim/internal/world"
)

// Spawner creates agents for the simulation. It is deterministic for a seed.
type Spawner struct {
	rng    *rand.Rand
	specs  []drives.Spec
	nextID AgentID
	// Jitter spreads initial drive levels by up to ±Jitter around each
	// spec's initial level so agents do not all plan in lockstep.
	Jitter float64
}

// NewSpawner creates an agent spawner with the given seed and drive specs.
func NewSpawner(seed int64, specs []drives.Spec) *Spawner {
	return &Spawner{
		rng:    rand.New(rand.NewSource(seed + 300)),
		specs:  specs,
		nextID: 1,
		Jitter: 15,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPopulation creates count agents scattered over the given coordinates.
func (s *Spawner) SpawnPopulation(count int, coords []world.HexCoord) []*Agent {
	out := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		pos := world.HexCoord{}
		if len(coords) > 0 {
			pos = coords[s.rng.Intn(len(coords))]
		}
		out = append(out, s.SpawnAt(pos))
	}
	return out
}

// SpawnAt creates one agent at pos.
func (s *Spawner) SpawnAt(pos world.HexCoord) *Agent {
	id := s.nextID
	s.nextID++

	a := New(id, s.generateName(), s.specs)
	a.Position = pos
	for _, d := range a.Drives.All() {
		if s.Jitter > 0 {
			a.Drives.SetLevel(d.ID, d.Level+(s.rng.Float64()*2-1)*s.Jitter)
		}
	}
	return a
}

func (s *Spawner) generateName() string {
	var firsts []string
	if s.rng.Float32() < 0.5 {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[s.rng.Intn(len(firsts))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
}

var lastNames = []string{
	"Ashford", "Blackwood", "Coldbrook", "Dunmere", "Eastwick", "Fairholm",
	"Greyhill", "Hartwell", "Ironside", "Kettleby", "Longmead", "Marsh",
	"Northgate", "Oakley", "Pennywhistle", "Redfern", "Stonebridge", "Thornbury",
}
