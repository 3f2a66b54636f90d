package behavior

import (
	"sync"
	"time"

	bt "github.com/joeycumines/go-behaviortree"

	"github.com/talgya/drivesim/internal/world"
)

// Timed walks to the node's target (when it has one) and then works for the
// template's cost in seconds. Each run is a memorized behavior-tree sequence
// of a travel leaf and a wait leaf, ticked once per Update.
type Timed struct {
	mover         Mover
	secondsPerHex float64

	mu   sync.Mutex
	runs map[runKey]*timedRun
}

type timedRun struct {
	root     bt.Node
	step     Step
	waitFrom time.Time
}

// NewTimed creates a timed behavior. secondsPerHex converts travel distance
// into estimated time.
func NewTimed(m Mover, secondsPerHex float64) *Timed {
	return &Timed{mover: m, secondsPerHex: secondsPerHex, runs: make(map[runKey]*timedRun)}
}

func (b *Timed) Start(s Step) error {
	r := &timedRun{step: s}
	r.root = bt.New(bt.Memorize(bt.Sequence), b.travel(r), b.wait(r))
	b.mu.Lock()
	b.runs[s.key()] = r
	b.mu.Unlock()
	return nil
}

func (b *Timed) Update(s Step) (bool, error) {
	b.mu.Lock()
	r, ok := b.runs[s.key()]
	b.mu.Unlock()
	if !ok {
		return false, ErrNotStarted
	}
	r.step = s
	status, err := r.root.Tick()
	if status == bt.Running && err == nil {
		return true, nil
	}
	b.forget(s)
	if err != nil {
		return false, err
	}
	if status != bt.Success {
		return false, ErrTargetLost
	}
	return false, nil
}

func (b *Timed) Interrupt(s Step) {
	b.forget(s)
}

func (b *Timed) EstimatedTime(s Step) float64 {
	est := s.Template().Cost
	target := s.Target()
	if target == world.NoEntity || b.mover == nil {
		return est
	}
	if d, ok := b.mover.DistanceTo(s.Agent, target); ok {
		if hops := d - reach(s.Template()); hops > 0 {
			est += float64(hops) * b.secondsPerHex
		}
	}
	return est
}

// Active returns the number of runs in flight.
func (b *Timed) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

func (b *Timed) forget(s Step) {
	b.mu.Lock()
	delete(b.runs, s.key())
	b.mu.Unlock()
}

func (b *Timed) travel(r *timedRun) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		target := r.step.Target()
		if target == world.NoEntity {
			return bt.Success, nil
		}
		d, ok := b.mover.DistanceTo(r.step.Agent, target)
		if !ok {
			return bt.Failure, ErrTargetLost
		}
		if d <= reach(r.step.Template()) {
			return bt.Success, nil
		}
		if !b.mover.StepToward(r.step.Agent, target) {
			return bt.Failure, ErrTargetLost
		}
		return bt.Running, nil
	})
}

func (b *Timed) wait(r *timedRun) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if r.waitFrom.IsZero() {
			r.waitFrom = r.step.Now
		}
		cost := time.Duration(r.step.Template().Cost * float64(time.Second))
		if r.step.Now.Sub(r.waitFrom) >= cost {
			return bt.Success, nil
		}
		return bt.Running, nil
	})
}
