package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/drivesim/internal/drives"
)

// ErrMissingIdleAction is returned when no usable idle action is configured.
// The executor cannot run without one.
var ErrMissingIdleAction = errors.New("catalog: no idle action configured")

// Catalog is the read-only planning context shared by every agent.
// It is safe for concurrent use once built.
type Catalog struct {
	templates []*Template
	byID      map[string]*Template
	drives    []drives.Spec
	idle      string

	// providers[t.index][pre] lists the templates able to fix that precondition.
	providers [][][]Provider
	relief    map[drives.ID][]Provider
}

// New validates the templates and precomputes the match tables.
// Templates keep the given order, which is also the planner's search order.
func New(templates []Template, driveSpecs []drives.Spec, idle string) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[string]*Template, len(templates)),
		drives: append([]drives.Spec(nil), driveSpecs...),
		idle:   idle,
		relief: make(map[drives.ID][]Provider, len(driveSpecs)),
	}

	knownDrive := make(map[drives.ID]bool, len(driveSpecs))
	for _, d := range driveSpecs {
		if d.ID == "" {
			return nil, errors.New("catalog: drive with empty id")
		}
		if knownDrive[d.ID] {
			return nil, fmt.Errorf("catalog: duplicate drive %q", d.ID)
		}
		knownDrive[d.ID] = true
	}

	for i := range templates {
		t := templates[i]
		if t.ID == "" {
			return nil, fmt.Errorf("catalog: action #%d has empty id", i)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate action %q", t.ID)
		}
		t.Preconditions = append([]Precondition(nil), t.Preconditions...)
		t.Effects = append([]Effect(nil), t.Effects...)
		t.index = len(c.templates)
		if err := validateTemplate(&t, knownDrive); err != nil {
			return nil, err
		}
		tp := &t
		c.templates = append(c.templates, tp)
		c.byID[t.ID] = tp
	}

	if idle != "" {
		if _, ok := c.byID[idle]; !ok {
			return nil, fmt.Errorf("catalog: idle action %q is not defined", idle)
		}
	}

	c.providers = make([][][]Provider, len(c.templates))
	for _, t := range c.templates {
		per := make([][]Provider, len(t.Preconditions))
		for pi := range t.Preconditions {
			per[pi] = providersFor(c.templates, &t.Preconditions[pi])
		}
		c.providers[t.index] = per
	}
	for _, d := range driveSpecs {
		relief := ReliefPrecondition(d.ID, drives.MaxLevel)
		c.relief[d.ID] = providersFor(c.templates, &relief)
	}
	return c, nil
}

func validateTemplate(t *Template, knownDrive map[drives.ID]bool) error {
	if t.Cost < 0 {
		return fmt.Errorf("catalog: action %q has negative cost", t.ID)
	}
	for i := range t.Preconditions {
		p := &t.Preconditions[i]
		switch p.Kind {
		case PreDriveBelow, PreDriveAbove:
			if !knownDrive[p.Drive] {
				return fmt.Errorf("catalog: action %q precondition %d: unknown drive %q", t.ID, i, p.Drive)
			}
		case PreHasItem, PreLacksItem:
			if p.EntityType == "" {
				return fmt.Errorf("catalog: action %q precondition %d: entity_type required", t.ID, i)
			}
		case PreHasTag, PreLacksTag, PreTargetHasTag:
			if p.Tag == "" {
				return fmt.Errorf("catalog: action %q precondition %d: tag required", t.ID, i)
			}
		case PreExpr:
			if p.program == nil {
				prog, err := compileExpr(p.Expr)
				if err != nil {
					return fmt.Errorf("catalog: action %q precondition %d: %w", t.ID, i, err)
				}
				p.program = prog
			}
		}
	}
	for i := range t.Effects {
		e := &t.Effects[i]
		switch e.Kind {
		case EffDriveChange:
			if !knownDrive[e.Drive] {
				return fmt.Errorf("catalog: action %q effect %d: unknown drive %q", t.ID, i, e.Drive)
			}
		case EffAddItem, EffRemoveItem, EffTransferItem:
			if e.EntityType == "" {
				return fmt.Errorf("catalog: action %q effect %d: entity_type required", t.ID, i)
			}
		case EffAddTag, EffRemoveTag:
			if e.Tag == "" {
				return fmt.Errorf("catalog: action %q effect %d: tag required", t.ID, i)
			}
		}
		if (e.Timing == TimingDelayed || e.Timing == TimingRepeating) && e.Interval <= 0 {
			return fmt.Errorf("catalog: action %q effect %d: %s effect needs a positive interval", t.ID, i, e.Timing)
		}
		if e.Timing == TimingOnEvent && e.Event == "" {
			return fmt.Errorf("catalog: action %q effect %d: on_event effect needs an event", t.ID, i)
		}
	}
	return nil
}

// ReliefPrecondition is the synthetic goal for a drive: its level must drop
// below the given level.
func ReliefPrecondition(d drives.ID, level float64) Precondition {
	return Precondition{Kind: PreDriveBelow, Drive: d, Threshold: level}
}

// Templates returns all templates in catalog order.
func (c *Catalog) Templates() []*Template {
	return c.templates
}

// Template looks up a template by id.
func (c *Catalog) Template(id string) (*Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Drives returns the drive type definitions.
func (c *Catalog) Drives() []drives.Spec {
	return c.drives
}

// Providers lists the templates whose effects match precondition pre of t.
func (c *Catalog) Providers(t *Template, pre int) []Provider {
	if t.index >= len(c.providers) || c.templates[t.index] != t {
		return nil
	}
	per := c.providers[t.index]
	if pre < 0 || pre >= len(per) {
		return nil
	}
	return per[pre]
}

// ReliefProviders lists the templates with an effect that lowers drive d.
func (c *Catalog) ReliefProviders(d drives.ID) []Provider {
	return c.relief[d]
}

// Idle returns the fallback action run when no drive has a complete plan.
func (c *Catalog) Idle() (*Template, error) {
	if c.idle == "" {
		return nil, ErrMissingIdleAction
	}
	t, ok := c.byID[c.idle]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingIdleAction, c.idle)
	}
	return t, nil
}

// Behaviors returns the distinct behavior names referenced by the catalog, sorted.
func (c *Catalog) Behaviors() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range c.templates {
		if t.Behavior != "" && !seen[t.Behavior] {
			seen[t.Behavior] = true
			out = append(out, t.Behavior)
		}
	}
	sort.Strings(out)
	return out
}
