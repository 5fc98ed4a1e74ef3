// Package decoder defines how raw device payloads become measurements.
//
// A Decoder handles one device model. It declares the measures it may
// produce once, at registration, and writes measurements into a
// DecodedPayload which refuses any name outside that declaration.
package decoder

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
)

// Controller is the controller every decoder action is routed through
const Controller = "device-manager/payloads"

// MeasureDeclaration is a measure a decoder may emit
type MeasureDeclaration struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Decoder turns the raw payloads of one device model into measurements.
//
// Validate returns false to skip a payload silently and an error to reject
// it. Decode is only called after Validate returned true.
type Decoder interface {
	DeviceModel() string
	Measures() []MeasureDeclaration
	Validate(ctx context.Context, payload models.JSON) (bool, error)
	Decode(ctx context.Context, decoded *DecodedPayload, payload models.JSON) error
}

// ActionNamer lets a decoder pick its own action instead of the kebab-cased
// device model
type ActionNamer interface {
	Action() string
}

// Registration tells the controller layer where to route a decoder's payloads
type Registration struct {
	DeviceModel string               `json:"deviceModel"`
	Action      string               `json:"action"`
	Controller  string               `json:"controller"`
	Measures    []MeasureDeclaration `json:"measures"`
}
