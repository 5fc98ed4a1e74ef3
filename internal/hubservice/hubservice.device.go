package hubservice

import (
	"context"
	"fmt"

	"github.com/itsatony/struccy"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/ingestion"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// CreateDevice provisions a device explicitly
func (s *HubService) CreateDevice(ctx context.Context, model, reference string, metadata models.JSON) (*models.Device, error) {
	if model == "" || reference == "" {
		return nil, errors.NewValidationError("device model and reference are required", nil)
	}
	if _, ok := s.Decoders.Get(model); !ok {
		nuts.L.Warnf("[HubService] Creating device of model %s which has no decoder", model)
	}
	device := models.NewDevice(model, reference, metadata)
	if err := s.Devices.Create(ctx, device); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewConflictError(fmt.Sprintf("device %q already exists", device.ID), err)
		}
		return nil, err
	}
	nuts.L.Infof("[HubService] Created device %s", device.ID)
	s.Bus.Emit(bus.EventDeviceProvisioned, device.ID)
	return device, nil
}

// GetDevice returns the admin copy of a device, filtered by the caller's roles
func (s *HubService) GetDevice(ctx context.Context, id string) (*models.Device, error) {
	device, err := s.Devices.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("device %q not found", id), err)
		}
		return nil, err
	}
	return filterFields(ctx, device)
}

// ProcessPayload routes payload to the decoder registered for action
func (s *HubService) ProcessPayload(ctx context.Context, action string, payload models.JSON, opts ingestion.ProcessOptions) (*ingestion.Result, error) {
	d, ok := s.Decoders.ForAction(action)
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no decoder handles action %q", action), nil)
	}
	opts.Action = action
	return s.Ingestion.ProcessPayload(ctx, payload, d, opts)
}

// filterFields drops the fields the caller's roles may not read. Calls
// without roles come from inside the hub and see everything.
func filterFields[T any](ctx context.Context, v *T) (*T, error) {
	roles, ok := GetUserRoles(ctx)
	if !ok {
		return v, nil
	}
	filteredMap, err := struccy.StructToMapFieldsWithReadXS(v, roles)
	if err != nil {
		return nil, errors.NewInternalError("failed to filter fields", err)
	}
	filtered := new(T)
	if _, err := struccy.MergeMapStringFieldsToStruct(filtered, filteredMap, roles); err != nil {
		return nil, errors.NewInternalError("failed to map filtered fields", err)
	}
	return filtered, nil
}
