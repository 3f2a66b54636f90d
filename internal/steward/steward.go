package steward

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Config drives a Steward.
type Config struct {
	URL      string        `yaml:"url"`
	Interval time.Duration `yaml:"interval"`
	// Burst caps the spawns per rule per cycle.
	Burst  int    `yaml:"burst"`
	Rules  []Rule `yaml:"rules"`
	Memory string `yaml:"memory"`
}

// Steward runs observe, triage and act cycles against one world.
type Steward struct {
	cfg      Config
	observer *Observer
	actor    *Actor
	memory   *Memory
}

func New(cfg Config, adminKey string) *Steward {
	return &Steward{
		cfg:      cfg,
		observer: NewObserver(cfg.URL),
		actor:    NewActor(cfg.URL, adminKey),
		memory:   LoadMemory(cfg.Memory),
	}
}

// Memory returns the cycle history.
func (s *Steward) Memory() *Memory { return s.memory }

// Cycle runs one observe, triage and act pass.
func (s *Steward) Cycle(ctx context.Context) (CycleRecord, error) {
	obs, err := s.observer.Observe(ctx)
	if err != nil {
		return CycleRecord{}, err
	}
	h := Triage(obs, s.cfg.Rules)
	rec := CycleRecord{Tick: h.Tick, Level: h.Level, IdleRatio: h.IdleRatio}
	for _, sp := range Plan(h, obs.Agents, s.cfg.Burst) {
		if _, err := s.actor.Spawn(ctx, sp); err != nil {
			slog.Warn("steward spawn failed", "type", sp.Type, "q", sp.Position.Q, "r", sp.Position.R, "error", err)
			rec.Failed++
			continue
		}
		if rec.Spawned == nil {
			rec.Spawned = make(map[string]int)
		}
		rec.Spawned[sp.Type]++
	}
	s.memory.Record(rec)
	s.memory.Save()

	slog.Info("steward cycle",
		"tick", rec.Tick,
		"level", rec.Level,
		"spawned", rec.Spawned,
		"failed", rec.Failed,
		"streak", s.memory.Streak(rec.Level),
	)
	return rec, nil
}

// WaitReady polls the API with exponential backoff until it answers or
// the context ends.
func (s *Steward) WaitReady(ctx context.Context) error {
	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second
	for {
		if s.observer.Ready(ctx) {
			return nil
		}
		slog.Info("drivesim API not ready, retrying", "backoff", backoff)
		select {
		case <-ctx.Done():
			return errors.New("drivesim API did not become ready")
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// Run cycles every Interval until ctx is cancelled. A failed cycle is
// logged and retried on the next interval.
func (s *Steward) Run(ctx context.Context) error {
	if err := s.WaitReady(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Cycle(ctx); err != nil && ctx.Err() == nil {
			slog.Error("steward cycle failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
