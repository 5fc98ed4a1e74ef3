// FilePath: server/devicehub/internal/models/models.measure.go
package models

// OriginType tells where a measurement came from
type OriginType string

const (
	OriginDevice OriginType = "device"
	OriginAsset  OriginType = "asset"
	OriginUser   OriginType = "user"
)

// MeasureOrigin identifies the producer of a measurement
type MeasureOrigin struct {
	Type         OriginType `json:"type"`
	ID           string     `json:"id"`
	DeviceModel  string     `json:"device_model,omitempty"`
	Reference    string     `json:"reference,omitempty"`
	PayloadUUIDs []string   `json:"payload_uuids,omitempty"`
}

// Measurement is one typed, timestamped value.
// MeasuredAt is epoch milliseconds as supplied by the producer.
type Measurement struct {
	Type              string        `json:"type"`
	Values            JSON          `json:"values"`
	MeasuredAt        int64         `json:"measured_at"`
	Unit              string        `json:"unit,omitempty"`
	Origin            MeasureOrigin `json:"origin"`
	DeviceMeasureName string        `json:"device_measure_name,omitempty"`
	AssetMeasureName  string        `json:"asset_measure_name,omitempty"`
	AssetID           string        `json:"asset_id,omitempty"`
	EngineID          string        `json:"engine_id,omitempty"`
}

// Clone returns a copy of m that does not share Values or PayloadUUIDs
func (m Measurement) Clone() Measurement {
	out := m
	out.Values = m.Values.Clone()
	if m.Origin.PayloadUUIDs != nil {
		out.Origin.PayloadUUIDs = append([]string(nil), m.Origin.PayloadUUIDs...)
	}
	return out
}

// NotOlderThan reports whether m may replace cached in a latest-value slot.
// Ties favor m.
func (m Measurement) NotOlderThan(cached Measurement) bool {
	return m.MeasuredAt >= cached.MeasuredAt
}

// MergeLatest applies the "not older wins" rule to a name-keyed cache and
// reports whether the slot changed
func MergeLatest(cache map[string]Measurement, name string, incoming Measurement) bool {
	cached, ok := cache[name]
	if ok && !incoming.NotOlderThan(cached) {
		return false
	}
	cache[name] = incoming
	return true
}
