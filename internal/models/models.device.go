// FilePath: server/devicehub/internal/models/models.device.go
package models

import (
	"time"
)

// Device is a physical or virtual sensor. Its id is deterministic: model-reference.
// The admin copy is authoritative; a tenant copy exists while EngineID is set.
type Device struct {
	ID        string                 `json:"id" readxs:"*"`
	Model     string                 `json:"model" readxs:"*"`
	Reference string                 `json:"reference" readxs:"*"`
	Metadata  JSON                   `json:"metadata" readxs:"superadmin,engineadmin,system" writexs:"superadmin,engineadmin,system"`
	Measures  map[string]Measurement `json:"measures" readxs:"*"`
	AssetID   string                 `json:"asset_id,omitempty" readxs:"*"`
	EngineID  string                 `json:"engine_id,omitempty" readxs:"*"`
	CreatedAt time.Time              `json:"created_at" readxs:"*"`
	UpdatedAt time.Time              `json:"updated_at" readxs:"*"`
}

// DeviceID builds the identifier of a device from its model and reference
func DeviceID(model, reference string) string {
	return model + "-" + reference
}

// NewDevice returns an unattached device with empty measure slots
func NewDevice(model, reference string, metadata JSON) *Device {
	if metadata == nil {
		metadata = JSON{}
	}
	now := time.Now().UTC()
	return &Device{
		ID:        DeviceID(model, reference),
		Model:     model,
		Reference: reference,
		Metadata:  metadata,
		Measures:  map[string]Measurement{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAttached reports whether the device belongs to an engine
func (d *Device) IsAttached() bool {
	return d.EngineID != ""
}

// IsLinked reports whether the device feeds an asset
func (d *Device) IsLinked() bool {
	return d.AssetID != ""
}

// MeasureNames returns the names of the measures currently cached on the device
func (d *Device) MeasureNames() []string {
	names := make([]string, 0, len(d.Measures))
	for name := range d.Measures {
		names = append(names, name)
	}
	return names
}

// Clone returns a deep copy of the device measure cache and a shallow copy of metadata
func (d *Device) Clone() *Device {
	out := *d
	out.Metadata = d.Metadata.Clone()
	out.Measures = make(map[string]Measurement, len(d.Measures))
	for k, v := range d.Measures {
		out.Measures[k] = v.Clone()
	}
	return &out
}
