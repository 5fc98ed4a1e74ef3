package decoder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	nuts "github.com/vaudience/go-nuts"
)

// Registry maps device models and actions to decoders
type Registry struct {
	mu       sync.RWMutex
	types    *measures.Registry
	decoders map[string]Decoder
	actions  map[string]Registration
}

// NewRegistry creates a registry checking declarations against types
func NewRegistry(types *measures.Registry) *Registry {
	return &Registry{
		types:    types,
		decoders: map[string]Decoder{},
		actions:  map[string]Registration{},
	}
}

// Register validates d's declarations and makes it reachable by model and action
func (r *Registry) Register(d Decoder) (Registration, error) {
	model := d.DeviceModel()
	if model == "" {
		return Registration{}, errors.NewValidationError("decoder device model is required", nil)
	}

	declared := d.Measures()
	seen := make(map[string]struct{}, len(declared))
	for _, m := range declared {
		if m.Name == "" {
			return Registration{}, errors.NewValidationError(
				fmt.Sprintf("decoder %s declares a measure without name", model), nil)
		}
		if _, dup := seen[m.Name]; dup {
			return Registration{}, errors.NewValidationError(
				fmt.Sprintf("decoder %s declares measure %q twice", model, m.Name), nil)
		}
		seen[m.Name] = struct{}{}
		if r.types != nil {
			if _, ok := r.types.Get(m.Type); !ok {
				return Registration{}, errors.NewValidationError(
					fmt.Sprintf("decoder %s declares measure %q of unknown type %q", model, m.Name, m.Type), nil)
			}
		}
	}

	action := Kebab(model)
	if namer, ok := d.(ActionNamer); ok && namer.Action() != "" {
		action = namer.Action()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[model]; exists {
		return Registration{}, errors.NewConflictError(fmt.Sprintf("decoder for %s already registered", model), nil)
	}
	if existing, exists := r.actions[action]; exists {
		return Registration{}, errors.NewConflictError(
			fmt.Sprintf("action %q already used by %s", action, existing.DeviceModel), nil)
	}

	reg := Registration{
		DeviceModel: model,
		Action:      action,
		Controller:  Controller,
		Measures:    append([]MeasureDeclaration(nil), declared...),
	}
	r.decoders[model] = d
	r.actions[action] = reg
	nuts.L.Infof("[DecoderRegistry] Registered decoder %s on %s:%s", model, Controller, action)
	return reg, nil
}

func (r *Registry) Get(deviceModel string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[deviceModel]
	return d, ok
}

// ForAction returns the decoder routed at action
func (r *Registry) ForAction(action string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.actions[action]
	if !ok {
		return nil, false
	}
	return r.decoders[reg.DeviceModel], true
}

// Registrations lists every registration sorted by device model
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(r.actions))
	for _, reg := range r.actions {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceModel < out[j].DeviceModel })
	return out
}

// Serve answers device-model measure asks on b with the declared measures
// of the requested model
func (r *Registry) Serve(b *bus.Bus) error {
	return b.OnAsk(bus.AskDeviceModelMeasures, func(ctx context.Context, payload any) (any, error) {
		model, ok := payload.(string)
		if !ok {
			return nil, errors.NewValidationError("device model ask expects a model name", nil)
		}
		d, ok := r.Get(model)
		if !ok {
			return nil, errors.NewNotFoundError(fmt.Sprintf("no decoder for device model %q", model), nil)
		}
		return append([]MeasureDeclaration(nil), d.Measures()...), nil
	})
}

// Kebab turns a CamelCase model name into kebab-case:
// "DummyTempPosition" becomes "dummy-temp-position"
func Kebab(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, c := range runes {
		switch {
		case c == '_' || c == ' ' || c == '-':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
			continue
		case unicode.IsUpper(c):
			if i > 0 && !strings.HasSuffix(b.String(), "-") {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('-')
				}
			}
			b.WriteRune(unicode.ToLower(c))
		default:
			b.WriteRune(c)
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
