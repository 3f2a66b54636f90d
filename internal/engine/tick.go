// Package engine provides the tick-based simulation loop and the simulation
// that wires agents, deciders and the sandbox world together.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"
)

// Epoch is simulation time at tick zero.
var Epoch = time.Date(2026, time.January, 1, 6, 0, 0, 0, time.UTC)

// Engine drives the simulation forward.
type Engine struct {
	Tick     uint64        // Current tick counter (monotonic, never resets)
	Interval time.Duration // Wall time per tick at speed 1
	Step     time.Duration // Simulation time per tick

	speed   atomic.Uint64 // float64 bits; 0 = paused
	running atomic.Bool

	// Callbacks for each tick layer, populated during setup.
	OnTick func(tick uint64, now time.Time) // Every tick
	OnHour func(tick uint64, now time.Time) // Every simulated hour
	OnDay  func(tick uint64, now time.Time) // Every simulated day
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	e := &Engine{
		Interval: time.Second,
		Step:     time.Second,
	}
	e.SetSpeed(1)
	return e
}

// Speed returns the speed multiplier: 1 is real time, 0 is paused.
func (e *Engine) Speed() float64 {
	return math.Float64frombits(e.speed.Load())
}

// SetSpeed changes the speed multiplier. Safe to call while running.
func (e *Engine) SetSpeed(v float64) {
	if v < 0 {
		v = 0
	}
	e.speed.Store(math.Float64bits(v))
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Now returns the simulation time of a tick.
func (e *Engine) Now(tick uint64) time.Time {
	return Epoch.Add(time.Duration(tick) * e.Step)
}

// Run starts the simulation loop. Blocks until Stop is called or ctx ends.
func (e *Engine) Run(ctx context.Context) {
	e.running.Store(true)
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	for e.running.Load() && ctx.Err() == nil {
		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			sleep(ctx, 100*time.Millisecond)
			continue
		}

		start := time.Now()
		e.Advance()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			sleep(ctx, target-elapsed)
		}
	}

	e.running.Store(false)
	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// Advance runs exactly one tick. Used by Run and by headless callers.
func (e *Engine) Advance() {
	e.Tick++
	now := e.Now(e.Tick)
	prev := e.Now(e.Tick - 1)

	if e.OnTick != nil {
		e.OnTick(e.Tick, now)
	}
	if e.OnHour != nil && now.Truncate(time.Hour) != prev.Truncate(time.Hour) {
		e.OnHour(e.Tick, now)
	}
	if e.OnDay != nil && now.YearDay() != prev.YearDay() {
		e.OnDay(e.Tick, now)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SimTime returns a human-readable simulation time.
func SimTime(now time.Time) string {
	day := int(now.Sub(Epoch.Truncate(24*time.Hour)).Hours())/24 + 1
	return fmt.Sprintf("Day %d, %02d:%02d:%02d", day, now.Hour(), now.Minute(), now.Second())
}
