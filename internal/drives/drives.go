// Package drives implements the per-agent drive registry: scalar need levels
// that drift over time and map to urgency through a utility curve.
package drives

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/talgya/drivesim/internal/phi"
)

// ID names a drive type ("hunger", "thirst", "fatigue").
type ID string

// MaxLevel is the ceiling of every drive level. 0 means fully satisfied.
const MaxLevel = 100.0

// CurveKind enumerates the supported level → urgency shapes.
type CurveKind uint8

const (
	CurveLinear   CurveKind = iota // urgency grows proportionally
	CurvePower                     // slow start, steep finish
	CurveLogistic                  // S-shaped around a midpoint
	CurveStep                      // 0 below threshold, 1 at or above
)

var curveNames = map[CurveKind]string{
	CurveLinear:   "linear",
	CurvePower:    "power",
	CurveLogistic: "logistic",
	CurveStep:     "step",
}

func (k CurveKind) String() string {
	if n, ok := curveNames[k]; ok {
		return n
	}
	return fmt.Sprintf("curve(%d)", k)
}

// ParseCurveKind maps a catalog name to a CurveKind. Empty means linear.
func ParseCurveKind(s string) (CurveKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CurveLinear, nil
	}
	for k, n := range curveNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown curve kind %q", s)
}

// Curve maps a drive level (0–100) to urgency (0–1).
type Curve struct {
	Kind      CurveKind `json:"kind"`
	Exponent  float64   `json:"exponent,omitempty"`  // CurvePower; default Φ²
	Midpoint  float64   `json:"midpoint,omitempty"`  // CurveLogistic; default 50
	Steepness float64   `json:"steepness,omitempty"` // CurveLogistic; default Φ
	Threshold float64   `json:"threshold,omitempty"` // CurveStep
}

// Urgency evaluates the curve at level.
func (c Curve) Urgency(level float64) float64 {
	x := clamp(level, 0, MaxLevel) / MaxLevel
	switch c.Kind {
	case CurvePower:
		exp := c.Exponent
		if exp <= 0 {
			exp = phi.Nous
		}
		return math.Pow(x, exp)
	case CurveLogistic:
		mid := c.Midpoint
		if mid == 0 {
			mid = MaxLevel / 2
		}
		k := c.Steepness
		if k <= 0 {
			k = phi.Being
		}
		return 1 / (1 + math.Exp(-k*(level-mid)/10))
	case CurveStep:
		if level >= c.Threshold {
			return 1
		}
		return 0
	default:
		return x
	}
}

// Spec is the immutable definition of a drive type, shared by every agent.
type Spec struct {
	ID      ID      `json:"id"`
	Initial float64 `json:"initial"`
	// Rate is the level change per second. Positive rates make the need grow.
	Rate  float64 `json:"rate"`
	Curve Curve   `json:"curve"`
	// ContinuationBonus is added to urgency while the agent keeps working
	// the same drive, to damp plan thrashing.
	ContinuationBonus float64 `json:"continuation_bonus,omitempty"`
	// Threshold is the minimum level at which the drive is worth planning for.
	Threshold float64 `json:"threshold,omitempty"`
}

// Drive is one agent's live instance of a Spec.
type Drive struct {
	Spec
	Level float64 `json:"level"`
}

// Urgency returns the drive's current urgency without any bonus.
func (d *Drive) Urgency() float64 {
	return d.Curve.Urgency(d.Level)
}

// Set holds an agent's drives in declaration order.
type Set struct {
	drives []*Drive
	index  map[ID]int
}

// NewSet instantiates one drive per spec at its initial level.
func NewSet(specs []Spec) *Set {
	s := &Set{index: make(map[ID]int, len(specs))}
	for _, sp := range specs {
		if _, dup := s.index[sp.ID]; dup {
			continue
		}
		s.index[sp.ID] = len(s.drives)
		s.drives = append(s.drives, &Drive{Spec: sp, Level: clamp(sp.Initial, 0, MaxLevel)})
	}
	return s
}

// Get returns the drive with the given id.
func (s *Set) Get(id ID) (*Drive, bool) {
	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.drives[i], true
}

// All returns the drives in declaration order.
func (s *Set) All() []*Drive {
	return s.drives
}

// Level returns the drive level, or 0 for an unknown drive.
func (s *Set) Level(id ID) float64 {
	if d, ok := s.Get(id); ok {
		return d.Level
	}
	return 0
}

// SetLevel overwrites a drive level (clamped). Unknown drives are ignored.
func (s *Set) SetLevel(id ID, level float64) {
	if d, ok := s.Get(id); ok {
		d.Level = clamp(level, 0, MaxLevel)
	}
}

// Adjust moves a drive by delta and returns the change actually applied
// after clamping. ok is false for an unknown drive.
func (s *Set) Adjust(id ID, delta float64) (applied float64, ok bool) {
	d, ok := s.Get(id)
	if !ok {
		return 0, false
	}
	before := d.Level
	d.Level = clamp(d.Level+delta, 0, MaxLevel)
	return d.Level - before, true
}

// Decay advances every drive by its rate over dt.
func (s *Set) Decay(dt time.Duration) {
	secs := dt.Seconds()
	for _, d := range s.drives {
		d.Level = clamp(d.Level+d.Rate*secs, 0, MaxLevel)
	}
}

// Urgency returns the urgency of a drive, or 0 when unknown.
func (s *Set) Urgency(id ID) float64 {
	if d, ok := s.Get(id); ok {
		return d.Urgency()
	}
	return 0
}

// Ranked pairs a drive with its urgency for one decision.
type Ranked struct {
	ID      ID
	Urgency float64
}

// Eligible returns the drives at or above their planning threshold, ranked
// by urgency (highest first). The current drive receives its continuation
// bonus. Ties keep declaration order.
func (s *Set) Eligible(current ID) []Ranked {
	var out []Ranked
	for _, d := range s.drives {
		if d.Level <= 0 || d.Level < d.Threshold {
			continue
		}
		u := d.Urgency()
		if d.ID == current {
			u += d.ContinuationBonus
		}
		out = append(out, Ranked{ID: d.ID, Urgency: u})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Urgency > out[j].Urgency
	})
	return out
}

// Levels returns a copy of all levels keyed by id.
func (s *Set) Levels() map[ID]float64 {
	out := make(map[ID]float64, len(s.drives))
	for _, d := range s.drives {
		out[d.ID] = d.Level
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
