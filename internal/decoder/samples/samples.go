// Package samples holds the reference decoders shipped with the hub
package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
)

// ByName returns the reference decoders listed in names
func ByName(names []string) ([]decoder.Decoder, error) {
	known := map[string]decoder.Decoder{
		"DummyTemp":         DummyTemp{},
		"DummyTempPosition": DummyTempPosition{},
	}
	out := make([]decoder.Decoder, 0, len(names))
	for _, name := range names {
		d, ok := known[name]
		if !ok {
			return nil, errors.NewValidationError(fmt.Sprintf("unknown decoder %q", name), nil)
		}
		out = append(out, d)
	}
	return out, nil
}

// common checks shared by the dummy decoders: a payload flagged invalid is
// skipped, one without deviceEUI is rejected
func validateDummy(payload models.JSON) (bool, error) {
	if invalid, _ := payload.Bool("invalid"); invalid {
		return false, nil
	}
	if eui, ok := payload.String("deviceEUI"); !ok || eui == "" {
		return false, errors.NewPreconditionError("invalid payload: missing deviceEUI", nil)
	}
	return true, nil
}

func measuredAt(payload models.JSON) int64 {
	if at, ok := payload.Float("measuredAt"); ok && at > 0 {
		return int64(at)
	}
	return time.Now().UnixMilli()
}

func addTemperatureAndBattery(decoded *decoder.DecodedPayload, payload models.JSON, eui string, at int64) error {
	if temp, ok := payload.Float("register55"); ok {
		err := decoded.AddMeasurement(eui, "temperature", models.Measurement{
			Values:     models.JSON{"temperature": temp},
			MeasuredAt: at,
			Unit:       "°C",
		})
		if err != nil {
			return err
		}
	}
	if level, ok := payload.Float("batteryLevel"); ok {
		err := decoded.AddMeasurement(eui, "battery", models.Measurement{
			Values:     models.JSON{"battery": level * 100},
			MeasuredAt: at,
			Unit:       "%",
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DummyTemp reads {deviceEUI, register55, batteryLevel, measuredAt?}
type DummyTemp struct{}

func (DummyTemp) DeviceModel() string { return "DummyTemp" }

func (DummyTemp) Measures() []decoder.MeasureDeclaration {
	return []decoder.MeasureDeclaration{
		{Name: "temperature", Type: "temperature"},
		{Name: "battery", Type: "battery"},
	}
}

func (DummyTemp) Validate(ctx context.Context, payload models.JSON) (bool, error) {
	return validateDummy(payload)
}

func (DummyTemp) Decode(ctx context.Context, decoded *decoder.DecodedPayload, payload models.JSON) error {
	eui, _ := payload.String("deviceEUI")
	if err := addTemperatureAndBattery(decoded, payload, eui, measuredAt(payload)); err != nil {
		return err
	}
	if meta, ok := payload.Object("metadata"); ok {
		decoded.AddMetadata(eui, meta)
	}
	return nil
}

// DummyTempPosition reads {deviceEUI, register55, location{lat, lon, accu},
// batteryLevel, measuredAt?}
type DummyTempPosition struct{}

func (DummyTempPosition) DeviceModel() string { return "DummyTempPosition" }

func (DummyTempPosition) Measures() []decoder.MeasureDeclaration {
	return []decoder.MeasureDeclaration{
		{Name: "temperature", Type: "temperature"},
		{Name: "position", Type: "position"},
		{Name: "battery", Type: "battery"},
	}
}

func (DummyTempPosition) Validate(ctx context.Context, payload models.JSON) (bool, error) {
	return validateDummy(payload)
}

func (DummyTempPosition) Decode(ctx context.Context, decoded *decoder.DecodedPayload, payload models.JSON) error {
	eui, _ := payload.String("deviceEUI")
	at := measuredAt(payload)
	if err := addTemperatureAndBattery(decoded, payload, eui, at); err != nil {
		return err
	}

	location, ok := payload.Object("location")
	if !ok {
		return nil
	}
	lat, okLat := location.Float("lat")
	lon, okLon := location.Float("lon")
	if !okLat || !okLon {
		return errors.NewPreconditionError("invalid payload: location needs lat and lon", nil)
	}
	values := models.JSON{"position": map[string]interface{}{"lat": lat, "lon": lon}}
	if accu, ok := location.Float("accu"); ok {
		values["accuracy"] = accu
	}
	return decoded.AddMeasurement(eui, "position", models.Measurement{
		Values:     values,
		MeasuredAt: at,
	})
}
