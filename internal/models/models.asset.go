// FilePath: server/devicehub/internal/models/models.asset.go
package models

import "time"

// MeasureNameLink maps a device measure name onto an asset measure name
type MeasureNameLink struct {
	DeviceMeasureName string `json:"device_measure_name"`
	AssetMeasureName  string `json:"asset_measure_name"`
}

// DeviceLink records which device feeds an asset and under which names
type DeviceLink struct {
	DeviceID         string            `json:"device_id"`
	MeasureNameLinks []MeasureNameLink `json:"measure_name_links"`
}

// AssetMeasureNameFor returns the asset name a device measure name maps to
func (l DeviceLink) AssetMeasureNameFor(deviceMeasureName string) (string, bool) {
	for _, link := range l.MeasureNameLinks {
		if link.DeviceMeasureName == deviceMeasureName {
			return link.AssetMeasureName, true
		}
	}
	return "", false
}

// AssetMeasureNames returns every asset measure name claimed by the link
func (l DeviceLink) AssetMeasureNames() map[string]struct{} {
	names := make(map[string]struct{}, len(l.MeasureNameLinks))
	for _, link := range l.MeasureNameLinks {
		names[link.AssetMeasureName] = struct{}{}
	}
	return names
}

// Asset is a physical thing (container, warehouse, room) living in one engine
type Asset struct {
	ID          string        `json:"id" readxs:"*"`
	Type        string        `json:"type" readxs:"*"`
	Model       string        `json:"model" readxs:"*"`
	Reference   string        `json:"reference" readxs:"*"`
	Metadata    JSON          `json:"metadata" readxs:"superadmin,engineadmin,system" writexs:"superadmin,engineadmin,system"`
	Measures    []Measurement `json:"measures" readxs:"*"`
	DeviceLinks []DeviceLink  `json:"device_links" readxs:"*"`
	CreatedAt   time.Time     `json:"created_at" readxs:"*"`
	UpdatedAt   time.Time     `json:"updated_at" readxs:"*"`
}

// AssetID builds the identifier of an asset
func AssetID(assetType, model, reference string) string {
	return assetType + "-" + model + "-" + reference
}

// NewAsset returns an asset without measures or links
func NewAsset(assetType, model, reference string, metadata JSON) *Asset {
	if metadata == nil {
		metadata = JSON{}
	}
	now := time.Now().UTC()
	return &Asset{
		ID:          AssetID(assetType, model, reference),
		Type:        assetType,
		Model:       model,
		Reference:   reference,
		Metadata:    metadata,
		Measures:    []Measurement{},
		DeviceLinks: []DeviceLink{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MeasureIndex returns the position of the measure named assetMeasureName, or -1
func (a *Asset) MeasureIndex(assetMeasureName string) int {
	for i, m := range a.Measures {
		if m.AssetMeasureName == assetMeasureName {
			return i
		}
	}
	return -1
}

// MergeMeasure applies the "not older wins" rule to the slot named by
// m.AssetMeasureName and reports whether the asset changed
func (a *Asset) MergeMeasure(m Measurement) bool {
	i := a.MeasureIndex(m.AssetMeasureName)
	if i < 0 {
		a.Measures = append(a.Measures, m)
		return true
	}
	if !m.NotOlderThan(a.Measures[i]) {
		return false
	}
	a.Measures[i] = m
	return true
}

// RemoveMeasures drops every measure whose asset name is in names
func (a *Asset) RemoveMeasures(names map[string]struct{}) {
	kept := a.Measures[:0]
	for _, m := range a.Measures {
		if _, drop := names[m.AssetMeasureName]; drop {
			continue
		}
		kept = append(kept, m)
	}
	a.Measures = kept
}

// LinkFor returns the device link entry of deviceID
func (a *Asset) LinkFor(deviceID string) (DeviceLink, bool) {
	for _, link := range a.DeviceLinks {
		if link.DeviceID == deviceID {
			return link, true
		}
	}
	return DeviceLink{}, false
}

// RemoveLink drops the device link entry of deviceID
func (a *Asset) RemoveLink(deviceID string) {
	kept := a.DeviceLinks[:0]
	for _, link := range a.DeviceLinks {
		if link.DeviceID != deviceID {
			kept = append(kept, link)
		}
	}
	a.DeviceLinks = kept
}

// MeasureOwner returns the device whose link claims assetMeasureName
func (a *Asset) MeasureOwner(assetMeasureName string) (string, bool) {
	for _, link := range a.DeviceLinks {
		if _, ok := link.AssetMeasureNames()[assetMeasureName]; ok {
			return link.DeviceID, true
		}
	}
	return "", false
}

// Clone returns a deep copy of measures and links
func (a *Asset) Clone() *Asset {
	out := *a
	out.Metadata = a.Metadata.Clone()
	out.Measures = make([]Measurement, len(a.Measures))
	for i, m := range a.Measures {
		out.Measures[i] = m.Clone()
	}
	out.DeviceLinks = make([]DeviceLink, len(a.DeviceLinks))
	for i, l := range a.DeviceLinks {
		out.DeviceLinks[i] = DeviceLink{
			DeviceID:         l.DeviceID,
			MeasureNameLinks: append([]MeasureNameLink(nil), l.MeasureNameLinks...),
		}
	}
	return &out
}
