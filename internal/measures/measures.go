// Package measures holds the measure-type schemas measurements are checked against
package measures

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// FieldKind is the JSON kind a measure value field must have
type FieldKind string

const (
	KindNumber   FieldKind = "number"
	KindBoolean  FieldKind = "boolean"
	KindString   FieldKind = "string"
	KindGeoPoint FieldKind = "geopoint"
	KindObject   FieldKind = "object"
)

// Field describes one value of a measure type. Object fields list their own
// sub-fields.
type Field struct {
	Name     string    `json:"name"`
	Kind     FieldKind `json:"kind"`
	Required bool      `json:"required"`
	Fields   []Field   `json:"fields,omitempty"`
}

// Definition is a measure type
type Definition struct {
	Type   string  `json:"type"`
	Unit   string  `json:"unit,omitempty"`
	Fields []Field `json:"fields"`
}

var builtins = []Definition{
	{Type: "temperature", Unit: "°C", Fields: []Field{{Name: "temperature", Kind: KindNumber, Required: true}}},
	{Type: "humidity", Unit: "%", Fields: []Field{{Name: "humidity", Kind: KindNumber, Required: true}}},
	{Type: "battery", Unit: "%", Fields: []Field{{Name: "battery", Kind: KindNumber, Required: true}}},
	{Type: "position", Fields: []Field{
		{Name: "position", Kind: KindGeoPoint, Required: true},
		{Name: "altitude", Kind: KindNumber},
		{Name: "accuracy", Kind: KindNumber},
	}},
	{Type: "movement", Fields: []Field{{Name: "moving", Kind: KindBoolean, Required: true}}},
	{Type: "acceleration", Unit: "m/s²", Fields: []Field{
		{Name: "acceleration", Kind: KindObject, Required: true, Fields: []Field{
			{Name: "x", Kind: KindNumber, Required: true},
			{Name: "y", Kind: KindNumber, Required: true},
			{Name: "z", Kind: KindNumber, Required: true},
		}},
		{Name: "accuracy", Kind: KindNumber},
	}},
	{Type: "co2", Unit: "ppm", Fields: []Field{{Name: "co2", Kind: KindNumber, Required: true}}},
	{Type: "brightness", Unit: "lux", Fields: []Field{{Name: "lumens", Kind: KindNumber, Required: true}}},
}

type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns a registry holding the built-in measure types
func NewRegistry() *Registry {
	r := &Registry{defs: map[string]Definition{}}
	for _, def := range builtins {
		r.defs[def.Type] = def
	}
	return r
}

// Register adds a custom measure type
func (r *Registry) Register(def Definition) error {
	if def.Type == "" {
		return errors.NewValidationError("measure type name is required", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type]; exists {
		return errors.NewConflictError(fmt.Sprintf("measure type %q already registered", def.Type), nil)
	}
	r.defs[def.Type] = def
	nuts.L.Infof("[MeasureRegistry] Registered measure type %s", def.Type)
	return nil
}

func (r *Registry) Get(measureType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[measureType]
	return def, ok
}

// Types lists the registered measure type names, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks values against the schema of measureType
func (r *Registry) Validate(measureType string, values models.JSON) error {
	def, ok := r.Get(measureType)
	if !ok {
		return errors.NewPreconditionError(fmt.Sprintf("unknown measure type %q", measureType), nil)
	}
	return Check(def, values)
}

// Check validates values against def
func Check(def Definition, values models.JSON) error {
	if err := validateFields(def.Fields, values, ""); err != nil {
		return errors.NewPreconditionError(fmt.Sprintf("invalid %s measure: %s", def.Type, err), nil)
	}
	return nil
}

// Serve answers measure-type asks on b
func (r *Registry) Serve(b *bus.Bus) error {
	return b.OnAsk(bus.AskMeasureType, func(ctx context.Context, payload any) (any, error) {
		name, ok := payload.(string)
		if !ok {
			return nil, errors.NewValidationError("measure type ask expects a type name", nil)
		}
		def, ok := r.Get(name)
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("unknown measure type %q", name), nil)
		}
		return def, nil
	})
}

func validateFields(fields []Field, values models.JSON, prefix string) error {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Name] = struct{}{}
		v, present := values[f.Name]
		if !present || v == nil {
			if f.Required {
				return fmt.Errorf("missing field %s%s", prefix, f.Name)
			}
			continue
		}
		if err := checkKind(f, values, prefix); err != nil {
			return err
		}
	}
	for name := range values {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown field %s%s", prefix, name)
		}
	}
	return nil
}

func checkKind(f Field, values models.JSON, prefix string) error {
	path := prefix + f.Name
	switch f.Kind {
	case KindNumber:
		if _, ok := values.Float(f.Name); !ok {
			return fmt.Errorf("field %s must be a number", path)
		}
	case KindBoolean:
		if _, ok := values.Bool(f.Name); !ok {
			return fmt.Errorf("field %s must be a boolean", path)
		}
	case KindString:
		if _, ok := values.String(f.Name); !ok {
			return fmt.Errorf("field %s must be a string", path)
		}
	case KindGeoPoint:
		point, ok := values.Object(f.Name)
		if !ok {
			return fmt.Errorf("field %s must be a geopoint", path)
		}
		lat, okLat := point.Float("lat")
		lon, okLon := point.Float("lon")
		if !okLat || !okLon || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return fmt.Errorf("field %s must hold lat in [-90,90] and lon in [-180,180]", path)
		}
	case KindObject:
		obj, ok := values.Object(f.Name)
		if !ok {
			return fmt.Errorf("field %s must be an object", path)
		}
		if len(f.Fields) > 0 {
			return validateFields(f.Fields, obj, path+".")
		}
	}
	return nil
}
