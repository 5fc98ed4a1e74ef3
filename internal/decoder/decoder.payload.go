package decoder

import (
	"fmt"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
)

// DecodedPayload accumulates what one decode call produced, per device
// reference. It lives for a single ingestion.
type DecodedPayload struct {
	deviceModel  string
	declared     map[string]MeasureDeclaration
	references   []string
	measurements map[string][]models.Measurement
	metadata     map[string]models.JSON
}

// NewDecodedPayload creates an empty accumulator bound to d's declarations
func NewDecodedPayload(d Decoder) *DecodedPayload {
	declared := map[string]MeasureDeclaration{}
	for _, m := range d.Measures() {
		declared[m.Name] = m
	}
	return &DecodedPayload{
		deviceModel:  d.DeviceModel(),
		declared:     declared,
		measurements: map[string][]models.Measurement{},
		metadata:     map[string]models.JSON{},
	}
}

func (p *DecodedPayload) DeviceModel() string {
	return p.deviceModel
}

func (p *DecodedPayload) touch(reference string) {
	if _, ok := p.measurements[reference]; ok {
		return
	}
	if _, ok := p.metadata[reference]; ok {
		return
	}
	p.references = append(p.references, reference)
}

// AddMeasurement records m under the declared measure name for the device
// reference. An undeclared name is a decoder bug and fails.
func (p *DecodedPayload) AddMeasurement(reference, name string, m models.Measurement) error {
	decl, ok := p.declared[name]
	if !ok {
		return errors.NewInternalError(
			fmt.Sprintf("decoder %s emitted undeclared measure %q", p.deviceModel, name), nil)
	}
	if reference == "" {
		return errors.NewPreconditionError("device reference is required", nil)
	}
	if m.Type == "" {
		m.Type = decl.Type
	} else if m.Type != decl.Type {
		return errors.NewInternalError(
			fmt.Sprintf("decoder %s emitted %q as %s, declared %s", p.deviceModel, name, m.Type, decl.Type), nil)
	}
	m.DeviceMeasureName = name
	m.Origin.Type = models.OriginDevice
	m.Origin.DeviceModel = p.deviceModel
	m.Origin.Reference = reference
	m.Origin.ID = models.DeviceID(p.deviceModel, reference)

	p.touch(reference)
	p.measurements[reference] = append(p.measurements[reference], m)
	return nil
}

// AddMetadata shallow-merges patch into the metadata patch of reference
func (p *DecodedPayload) AddMetadata(reference string, patch models.JSON) {
	if reference == "" || len(patch) == 0 {
		return
	}
	p.touch(reference)
	p.metadata[reference] = p.metadata[reference].Merge(patch)
}

// References lists the device references touched, in first-touch order
func (p *DecodedPayload) References() []string {
	return append([]string(nil), p.references...)
}

// MeasurementsFor returns the measurements of reference in insertion order
func (p *DecodedPayload) MeasurementsFor(reference string) []models.Measurement {
	return p.measurements[reference]
}

func (p *DecodedPayload) MetadataFor(reference string) models.JSON {
	return p.metadata[reference]
}

// Count returns the number of measurements over every reference
func (p *DecodedPayload) Count() int {
	n := 0
	for _, ms := range p.measurements {
		n += len(ms)
	}
	return n
}
