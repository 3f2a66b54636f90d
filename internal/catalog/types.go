// Package catalog holds the immutable action catalog: action templates with
// their preconditions and effects, the drive types they act on, and the
// effect → precondition match table resolved once at load time.
package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr/vm"

	"github.com/talgya/drivesim/internal/drives"
)

// EntityType names a kind of world entity ("food", "sword", "water").
type EntityType string

// PreconditionKind enumerates the closed set of precondition checks.
type PreconditionKind uint8

const (
	PreDriveBelow   PreconditionKind = iota // drive level < threshold
	PreDriveAbove                           // drive level > threshold
	PreHasItem                              // inventory holds >= count of entity type
	PreLacksItem                            // inventory holds < count of entity type
	PreHasTag                               // agent carries tag
	PreLacksTag                             // agent does not carry tag
	PreExpr                                 // boolean expression over agent state
	PreNearEntity                           // target of entity type within range
	PreTargetHasTag                         // target carries tag
)

var preconditionNames = map[PreconditionKind]string{
	PreDriveBelow:   "drive_below",
	PreDriveAbove:   "drive_above",
	PreHasItem:      "has_item",
	PreLacksItem:    "lacks_item",
	PreHasTag:       "has_tag",
	PreLacksTag:     "lacks_tag",
	PreExpr:         "expr",
	PreNearEntity:   "near_entity",
	PreTargetHasTag: "target_has_tag",
}

func (k PreconditionKind) String() string {
	if n, ok := preconditionNames[k]; ok {
		return n
	}
	return fmt.Sprintf("precondition(%d)", k)
}

// ParsePreconditionKind maps a catalog name to its kind.
func ParsePreconditionKind(s string) (PreconditionKind, error) {
	for k, n := range preconditionNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown precondition kind %q", s)
}

// EffectKind enumerates the closed set of effect mutations.
type EffectKind uint8

const (
	EffDriveChange  EffectKind = iota // change a drive level by amount
	EffAddItem                        // add count of entity type to inventory (picks up the target)
	EffRemoveItem                     // remove count of entity type from inventory
	EffAddTag                         // add tag to the agent
	EffRemoveTag                      // remove tag from the agent
	EffTransferItem                   // move an item to the target or auxiliary recipient
)

var effectNames = map[EffectKind]string{
	EffDriveChange:  "drive_change",
	EffAddItem:      "add_item",
	EffRemoveItem:   "remove_item",
	EffAddTag:       "add_tag",
	EffRemoveTag:    "remove_tag",
	EffTransferItem: "transfer_item",
}

func (k EffectKind) String() string {
	if n, ok := effectNames[k]; ok {
		return n
	}
	return fmt.Sprintf("effect(%d)", k)
}

// ParseEffectKind maps a catalog name to its kind.
func ParseEffectKind(s string) (EffectKind, error) {
	for k, n := range effectNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown effect kind %q", s)
}

// Timing controls when the executor applies an effect.
type Timing uint8

const (
	TimingImmediate Timing = iota // on node completion
	TimingDelayed                 // once, Interval after the node starts
	TimingRepeating               // every Interval, Repeat times (0 = while the plan runs)
	TimingOnEvent                 // whenever Event is notified while the node is active
)

var timingNames = map[Timing]string{
	TimingImmediate: "immediate",
	TimingDelayed:   "delayed",
	TimingRepeating: "repeating",
	TimingOnEvent:   "on_event",
}

func (t Timing) String() string {
	if n, ok := timingNames[t]; ok {
		return n
	}
	return fmt.Sprintf("timing(%d)", t)
}

// ParseTiming maps a catalog name to a Timing. Empty means immediate.
func ParseTiming(s string) (Timing, error) {
	if s == "" {
		return TimingImmediate, nil
	}
	for k, n := range timingNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown effect timing %q", s)
}

// Precondition is one typed check owned by a Template.
type Precondition struct {
	Kind       PreconditionKind
	Drive      drives.ID
	Threshold  float64
	EntityType EntityType
	Count      int
	Tag        string
	Range      float64 // PreNearEntity: hex distance the target must be within
	Radius     float64 // target search radius, 0 = unlimited
	Expr       string

	// Slot names the auxiliary target on the owning node that the target
	// of whichever child fixes this precondition is bound into.
	Slot string
	// Chain propagates that binding further up, into the slot of the
	// precondition the owning node itself was created to fix.
	Chain bool
	// Group shares one chosen target among every node of a tree whose
	// target preconditions carry the same group.
	Group string

	program *vm.Program
}

// RequiresTarget reports whether the check needs a bound entity target.
func (p *Precondition) RequiresTarget() bool {
	return p.Kind == PreNearEntity || p.Kind == PreTargetHasTag
}

// Program returns the compiled expression of a PreExpr precondition.
func (p *Precondition) Program() *vm.Program {
	return p.program
}

// Constraint returns the entity constraint this precondition places on a target.
func (p *Precondition) Constraint() Constraint {
	switch p.Kind {
	case PreNearEntity:
		return Constraint{EntityType: p.EntityType, Tag: p.Tag}
	case PreTargetHasTag:
		return Constraint{Tag: p.Tag}
	}
	return Constraint{}
}

func (p *Precondition) String() string {
	switch p.Kind {
	case PreDriveBelow:
		return fmt.Sprintf("%s < %.0f", p.Drive, p.Threshold)
	case PreDriveAbove:
		return fmt.Sprintf("%s > %.0f", p.Drive, p.Threshold)
	case PreHasItem:
		return fmt.Sprintf("has %d %s", max(p.Count, 1), p.EntityType)
	case PreLacksItem:
		return fmt.Sprintf("lacks %d %s", max(p.Count, 1), p.EntityType)
	case PreHasTag:
		return "has tag " + p.Tag
	case PreLacksTag:
		return "lacks tag " + p.Tag
	case PreExpr:
		return "expr " + p.Expr
	case PreNearEntity:
		return fmt.Sprintf("near %s within %.0f", p.EntityType, p.Range)
	case PreTargetHasTag:
		return "target tagged " + p.Tag
	}
	return p.Kind.String()
}

// Effect is one typed mutation owned by a Template.
type Effect struct {
	Kind       EffectKind
	Drive      drives.ID
	Amount     float64
	EntityType EntityType
	Count      int
	Tag        string
	// Slot selects an auxiliary target of the node as the effect's
	// subject instead of the node's primary target.
	Slot string
	// Utility is the declared side-effect utility: positive is harmful,
	// negative is beneficial.
	Utility float64

	Timing   Timing
	Interval time.Duration
	Repeat   int
	Event    string
}

// Quantity returns Count with the implicit default of one.
func (e *Effect) Quantity() int {
	if e.Count <= 0 {
		return 1
	}
	return e.Count
}

func (e *Effect) String() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	switch e.Kind {
	case EffDriveChange:
		fmt.Fprintf(&b, " %s %+.0f", e.Drive, e.Amount)
	case EffAddItem, EffRemoveItem, EffTransferItem:
		fmt.Fprintf(&b, " %d %s", e.Quantity(), e.EntityType)
	case EffAddTag, EffRemoveTag:
		b.WriteString(" " + e.Tag)
	}
	if e.Timing != TimingImmediate {
		b.WriteString(" [" + e.Timing.String() + "]")
	}
	return b.String()
}

// Constraint restricts which entities may be bound as a target.
// Zero fields match anything.
type Constraint struct {
	EntityType EntityType `json:"entity_type,omitempty"`
	Tag        string     `json:"tag,omitempty"`
}

// Template is an immutable catalog entry for one reusable action.
type Template struct {
	ID            string
	Preconditions []Precondition
	Effects       []Effect
	// Cost is the estimated execution time in seconds, excluding travel.
	Cost float64
	// Behavior is the executor-side behavior name. Opaque to the planner.
	Behavior      string
	Interruptible bool

	index int
}

func (t *Template) String() string {
	return t.ID
}
