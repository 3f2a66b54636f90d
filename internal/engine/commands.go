package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/drivesim/internal/agents"
	"github.com/talgya/drivesim/internal/catalog"
	"github.com/talgya/drivesim/internal/world"
)

// CommandKind names an admin command.
type CommandKind string

const (
	CmdInterrupt CommandKind = "interrupt" // stop an agent's plan
	CmdEvent     CommandKind = "event"     // notify an agent (or everyone) of an event
	CmdSpawn     CommandKind = "spawn"     // add an entity to the world
	CmdRemove    CommandKind = "remove"    // destroy an entity
	CmdArrive    CommandKind = "arrive"    // a new agent joins at Position
)

// Command is an admin intervention applied at the start of the next tick.
type Command struct {
	Kind     CommandKind        `json:"kind"`
	Agent    agents.AgentID     `json:"agent,omitempty"` // 0 = every agent (event only)
	Event    string             `json:"event,omitempty"`
	Entity   world.EntityID     `json:"entity,omitempty"`
	Type     catalog.EntityType `json:"type,omitempty"`
	Position world.HexCoord     `json:"position"`
	Tags     []string           `json:"tags,omitempty"`
}

// Validate checks a command against the current world without applying it.
func (s *Simulation) Validate(c Command) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch c.Kind {
	case CmdInterrupt:
		if _, ok := s.AgentIndex[c.Agent]; !ok {
			return fmt.Errorf("agent %d not found", c.Agent)
		}
	case CmdEvent:
		if c.Event == "" {
			return errors.New("event name required")
		}
		if c.Agent != 0 {
			if _, ok := s.AgentIndex[c.Agent]; !ok {
				return fmt.Errorf("agent %d not found", c.Agent)
			}
		}
	case CmdSpawn:
		if c.Type == "" || c.Type == AgentEntityType {
			return fmt.Errorf("cannot spawn entity type %q", c.Type)
		}
		if s.World.Get(c.Position) == nil {
			return fmt.Errorf("position %v is off the map", c.Position)
		}
	case CmdRemove:
		e, ok := s.World.Entity(c.Entity)
		if !ok {
			return fmt.Errorf("entity %d not found", c.Entity)
		}
		if e.Agent != 0 {
			return fmt.Errorf("entity %d is an agent", c.Entity)
		}
	case CmdArrive:
		if s.Spawner == nil {
			return errors.New("no spawner configured")
		}
		if s.World.Get(c.Position) == nil {
			return fmt.Errorf("position %v is off the map", c.Position)
		}
	default:
		return fmt.Errorf("unknown command %q", c.Kind)
	}
	return nil
}

// Enqueue validates a command and queues it for the next tick.
func (s *Simulation) Enqueue(c Command) error {
	if err := s.Validate(c); err != nil {
		return err
	}
	s.cmdMu.Lock()
	s.commands = append(s.commands, c)
	s.cmdMu.Unlock()
	return nil
}

// applyCommands runs the queued commands. No decider is active meanwhile.
func (s *Simulation) applyCommands(now time.Time) {
	s.cmdMu.Lock()
	cmds := s.commands
	s.commands = nil
	s.cmdMu.Unlock()

	for _, c := range cmds {
		if err := s.Validate(c); err != nil {
			slog.Warn("dropping stale command", "kind", c.Kind, "error", err)
			continue
		}
		e := Event{Tick: s.CurrentTick(), Time: now, Category: "admin", Kind: string(c.Kind), Agent: c.Agent}
		switch c.Kind {
		case CmdInterrupt:
			if !s.deciders[c.Agent].InterruptCurrentPlan(now) {
				continue
			}
			e.Description = fmt.Sprintf("agent %d interrupted", c.Agent)
		case CmdEvent:
			for _, a := range s.Agents {
				if c.Agent == 0 || a.ID == c.Agent {
					s.deciders[a.ID].NotifyEvent(now, c.Event, c.Entity)
				}
			}
			e.Target = c.Entity
			e.Description = fmt.Sprintf("event %q", c.Event)
		case CmdSpawn:
			s.mu.Lock()
			e.Target = s.World.Spawn(c.Type, c.Position, c.Tags...)
			s.mu.Unlock()
			e.Description = fmt.Sprintf("%s #%d appears at (%d,%d)", c.Type, e.Target, c.Position.Q, c.Position.R)
		case CmdRemove:
			s.mu.Lock()
			s.World.Remove(c.Entity)
			s.mu.Unlock()
			e.Target = c.Entity
			e.Description = fmt.Sprintf("entity #%d destroyed", c.Entity)
		case CmdArrive:
			a := s.Spawner.SpawnAt(c.Position)
			a.BornTick = e.Tick
			if err := s.AddAgent(a); err != nil {
				slog.Error("arriving agent rejected", "error", err)
				continue
			}
			e.Agent = a.ID
			e.Target = a.Entity
			e.Description = fmt.Sprintf("%s arrives at (%d,%d)", a.Name, c.Position.Q, c.Position.R)
		}
		s.emit(e)
	}
}
