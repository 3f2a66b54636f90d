package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/drivesim/internal/drives"
)

//go:embed catalog.schema.json
var schemaJSON []byte

const schemaURL = "catalog.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// File is the on-disk catalog document.
type File struct {
	Idle    string      `yaml:"idle"`
	Drives  []DriveDoc  `yaml:"drives"`
	Actions []ActionDoc `yaml:"actions"`
}

type DriveDoc struct {
	ID                string   `yaml:"id"`
	Initial           float64  `yaml:"initial"`
	Rate              float64  `yaml:"rate"`
	Curve             CurveDoc `yaml:"curve"`
	ContinuationBonus float64  `yaml:"continuation_bonus"`
	Threshold         float64  `yaml:"threshold"`
}

type CurveDoc struct {
	Kind      string  `yaml:"kind"`
	Exponent  float64 `yaml:"exponent"`
	Midpoint  float64 `yaml:"midpoint"`
	Steepness float64 `yaml:"steepness"`
	Threshold float64 `yaml:"threshold"`
}

type ActionDoc struct {
	ID            string            `yaml:"id"`
	Cost          float64           `yaml:"cost"`
	Behavior      string            `yaml:"behavior"`
	Interruptible bool              `yaml:"interruptible"`
	Preconditions []PreconditionDoc `yaml:"preconditions"`
	Effects       []EffectDoc       `yaml:"effects"`
}

type PreconditionDoc struct {
	Kind       string  `yaml:"kind"`
	Drive      string  `yaml:"drive"`
	Threshold  float64 `yaml:"threshold"`
	EntityType string  `yaml:"entity_type"`
	Count      int     `yaml:"count"`
	Tag        string  `yaml:"tag"`
	Range      float64 `yaml:"range"`
	Radius     float64 `yaml:"radius"`
	Expr       string  `yaml:"expr"`
	Slot       string  `yaml:"slot"`
	Chain      bool    `yaml:"chain"`
	Group      string  `yaml:"group"`
}

type EffectDoc struct {
	Kind       string  `yaml:"kind"`
	Drive      string  `yaml:"drive"`
	Amount     float64 `yaml:"amount"`
	EntityType string  `yaml:"entity_type"`
	Count      int     `yaml:"count"`
	Tag        string  `yaml:"tag"`
	Slot       string  `yaml:"slot"`
	Utility    float64 `yaml:"utility"`
	Timing     string  `yaml:"timing"`
	Interval   string  `yaml:"interval"`
	Repeat     int     `yaml:"repeat"`
	Event      string  `yaml:"event"`
}

// Load reads, validates and builds a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse validates raw YAML against the catalog schema and builds the catalog.
func Parse(raw []byte) (*Catalog, error) {
	if err := Validate(raw); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return f.Build()
}

// Validate checks raw YAML against the embedded JSON schema.
func Validate(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-native types.
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("catalog is not JSON-compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return err
	}
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	return nil
}

// Build converts a decoded document into a Catalog.
func (f *File) Build() (*Catalog, error) {
	specs := make([]drives.Spec, 0, len(f.Drives))
	for _, d := range f.Drives {
		kind, err := drives.ParseCurveKind(d.Curve.Kind)
		if err != nil {
			return nil, fmt.Errorf("drive %q: %w", d.ID, err)
		}
		specs = append(specs, drives.Spec{
			ID:      drives.ID(d.ID),
			Initial: d.Initial,
			Rate:    d.Rate,
			Curve: drives.Curve{
				Kind:      kind,
				Exponent:  d.Curve.Exponent,
				Midpoint:  d.Curve.Midpoint,
				Steepness: d.Curve.Steepness,
				Threshold: d.Curve.Threshold,
			},
			ContinuationBonus: d.ContinuationBonus,
			Threshold:         d.Threshold,
		})
	}

	templates := make([]Template, 0, len(f.Actions))
	for _, a := range f.Actions {
		t := Template{
			ID:            a.ID,
			Cost:          a.Cost,
			Behavior:      a.Behavior,
			Interruptible: a.Interruptible,
		}
		for i, pd := range a.Preconditions {
			kind, err := ParsePreconditionKind(pd.Kind)
			if err != nil {
				return nil, fmt.Errorf("action %q precondition %d: %w", a.ID, i, err)
			}
			t.Preconditions = append(t.Preconditions, Precondition{
				Kind:       kind,
				Drive:      drives.ID(pd.Drive),
				Threshold:  pd.Threshold,
				EntityType: EntityType(pd.EntityType),
				Count:      pd.Count,
				Tag:        pd.Tag,
				Range:      pd.Range,
				Radius:     pd.Radius,
				Expr:       pd.Expr,
				Slot:       pd.Slot,
				Chain:      pd.Chain,
				Group:      pd.Group,
			})
		}
		for i, ed := range a.Effects {
			kind, err := ParseEffectKind(ed.Kind)
			if err != nil {
				return nil, fmt.Errorf("action %q effect %d: %w", a.ID, i, err)
			}
			timing, err := ParseTiming(ed.Timing)
			if err != nil {
				return nil, fmt.Errorf("action %q effect %d: %w", a.ID, i, err)
			}
			var interval time.Duration
			if ed.Interval != "" {
				interval, err = time.ParseDuration(ed.Interval)
				if err != nil {
					return nil, fmt.Errorf("action %q effect %d: interval: %w", a.ID, i, err)
				}
			}
			t.Effects = append(t.Effects, Effect{
				Kind:       kind,
				Drive:      drives.ID(ed.Drive),
				Amount:     ed.Amount,
				EntityType: EntityType(ed.EntityType),
				Count:      ed.Count,
				Tag:        ed.Tag,
				Slot:       ed.Slot,
				Utility:    ed.Utility,
				Timing:     timing,
				Interval:   interval,
				Repeat:     ed.Repeat,
				Event:      ed.Event,
			})
		}
		templates = append(templates, t)
	}
	return New(templates, specs, f.Idle)
}
