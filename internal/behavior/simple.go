package behavior

import (
	"sync"

	"github.com/talgya/drivesim/internal/world"
)

// DoneEvent is the event an Await behavior completes on by default.
const DoneEvent = "action_done"

// Instant completes on its first update.
type Instant struct{}

func (Instant) Start(Step) error { return nil }

func (Instant) Update(Step) (bool, error) { return false, nil }

func (Instant) Interrupt(Step) {}

func (Instant) EstimatedTime(s Step) float64 { return s.Template().Cost }

// Await runs until its event is notified for the node. An event naming an
// entity only counts when it is the node's target.
type Await struct {
	event string

	mu   sync.Mutex
	runs map[runKey]bool
}

// NewAwait creates an Await that completes on event.
func NewAwait(event string) *Await {
	return &Await{event: event, runs: make(map[runKey]bool)}
}

func (b *Await) Start(s Step) error {
	b.mu.Lock()
	b.runs[s.key()] = false
	b.mu.Unlock()
	return nil
}

func (b *Await) Update(s Step) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	done, ok := b.runs[s.key()]
	if !ok {
		return false, ErrNotStarted
	}
	if done {
		delete(b.runs, s.key())
		return false, nil
	}
	return true, nil
}

func (b *Await) Interrupt(s Step) {
	b.mu.Lock()
	delete(b.runs, s.key())
	b.mu.Unlock()
}

func (b *Await) EstimatedTime(s Step) float64 {
	return s.Template().Cost
}

func (b *Await) Notify(s Step, event string, entity world.EntityID) {
	if event != b.event {
		return
	}
	if entity != world.NoEntity && entity != s.Target() {
		return
	}
	b.mu.Lock()
	if _, ok := b.runs[s.key()]; ok {
		b.runs[s.key()] = true
	}
	b.mu.Unlock()
}
