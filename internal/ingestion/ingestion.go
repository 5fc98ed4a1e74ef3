// Package ingestion turns raw payloads into device measurements
package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/config"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/propagation"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// Registerer receives the measurements of attached devices
type Registerer interface {
	RegisterByDevice(ctx context.Context, deviceID string, measurements []models.Measurement) (*propagation.Result, error)
}

// Enqueuer takes devices whose tenant copy could not be written
type Enqueuer interface {
	Enqueue(deviceID, staleEngine string)
}

// ProcessOptions carries the per-call identity of a payload
type ProcessOptions struct {
	UUID   string `schema:"uuid"`
	Action string `schema:"-"`
}

// Result of ProcessPayload. Valid is false for skipped payloads.
type Result struct {
	Valid    bool     `json:"valid"`
	UUID     string   `json:"uuid"`
	Devices  []string `json:"devices,omitempty"`
	Measures int      `json:"measures"`
}

type PayloadService struct {
	devices    repository.DeviceRepository
	payloads   repository.PayloadRepository
	measures   Registerer
	bus        *bus.Bus
	locker     lock.Locker
	reconciler Enqueuer
	policy     string
}

func NewPayloadService(
	devices repository.DeviceRepository,
	payloads repository.PayloadRepository,
	measures Registerer,
	b *bus.Bus,
	locker lock.Locker,
	reconciler Enqueuer,
	policy string,
) *PayloadService {
	if policy == "" {
		policy = config.ProvisioningAuto
	}
	return &PayloadService{
		devices:    devices,
		payloads:   payloads,
		measures:   measures,
		bus:        b,
		locker:     locker,
		reconciler: reconciler,
		policy:     policy,
	}
}

// ProcessPayload validates and decodes payload with d, resolves the devices
// it mentions and forwards their measurements. Every attempt leaves a
// payload record behind.
func (s *PayloadService) ProcessPayload(ctx context.Context, payload models.JSON, d decoder.Decoder, opts ProcessOptions) (*Result, error) {
	id := opts.UUID
	if id == "" {
		id = uuid.NewString()
	}
	record := &models.PayloadRecord{
		UUID:        id,
		DeviceModel: d.DeviceModel(),
		Payload:     payload,
		APIAction:   opts.Action,
		ReceivedAt:  time.Now().UTC(),
	}

	ok, err := d.Validate(ctx, payload)
	if err != nil {
		record.State, record.Reason = models.PayloadError, err.Error()
		s.record(ctx, record)
		if _, isAPI := err.(*errors.APIError); isAPI {
			return nil, err
		}
		return nil, errors.NewValidationError(fmt.Sprintf("invalid %s payload: %v", d.DeviceModel(), err), err)
	}
	if !ok {
		record.State = models.PayloadSkip
		s.record(ctx, record)
		nuts.L.Debugf("[PayloadService] Skipped %s payload %s", d.DeviceModel(), id)
		return &Result{Valid: false, UUID: id}, nil
	}

	decoded := decoder.NewDecodedPayload(d)
	record.Valid = true
	if err := d.Decode(ctx, decoded, payload); err != nil {
		record.State, record.Reason = models.PayloadError, err.Error()
		s.record(ctx, record)
		return nil, err
	}
	record.State = models.PayloadValid
	s.record(ctx, record)

	refs := decoded.References()
	result := &Result{Valid: true, UUID: id, Devices: []string{}}
	if len(refs) == 0 {
		nuts.L.Debugf("[PayloadService] No device activity in %s payload %s", d.DeviceModel(), id)
		return result, nil
	}

	devices := make([]*models.Device, len(refs))
	for i, ref := range refs {
		device, err := s.resolve(ctx, d.DeviceModel(), ref)
		if err != nil {
			return nil, err
		}
		devices[i] = device
	}

	for i, ref := range refs {
		device := devices[i]
		if patch := decoded.MetadataFor(ref); len(patch) > 0 {
			if err := s.updateMetadata(ctx, device.ID, patch); err != nil {
				return nil, err
			}
		}

		measurements := decoded.MeasurementsFor(ref)
		result.Devices = append(result.Devices, device.ID)
		if len(measurements) == 0 {
			continue
		}
		if !device.IsAttached() {
			nuts.L.Infof("[PayloadService] Device %s is not attached to an engine, %d measurements discarded", device.ID, len(measurements))
			continue
		}
		for j := range measurements {
			measurements[j].Origin.PayloadUUIDs = []string{id}
		}
		if _, err := s.measures.RegisterByDevice(ctx, device.ID, measurements); err != nil {
			return nil, err
		}
		result.Measures += len(measurements)
	}
	return result, nil
}

// resolve returns the device of (model, reference), provisioning it when
// the policy allows
func (s *PayloadService) resolve(ctx context.Context, model, reference string) (*models.Device, error) {
	id := models.DeviceID(model, reference)
	device, err := s.devices.Get(ctx, id)
	if err == nil {
		return device, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	if s.policy != config.ProvisioningAuto {
		return nil, errors.NewAuthorizationError(
			fmt.Sprintf("device %q is unknown and auto-provisioning is disabled", id), nil)
	}

	device = models.NewDevice(model, reference, nil)
	if err := s.devices.Create(ctx, device); err != nil {
		if errors.IsConflict(err) {
			// provisioned by a concurrent payload
			return s.devices.Get(ctx, id)
		}
		return nil, err
	}
	nuts.L.Infof("[PayloadService] Provisioned device %s", id)
	s.bus.Emit(bus.EventDeviceProvisioned, id)
	return device, nil
}

// updateMetadata patches the admin copy, then the tenant copy if any
func (s *PayloadService) updateMetadata(ctx context.Context, deviceID string, patch models.JSON) error {
	unlock, err := s.locker.Lock(ctx, lock.DeviceKey(deviceID))
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.devices.UpdateMetadata(ctx, deviceID, patch); err != nil {
		return err
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return err
	}
	if !device.IsAttached() {
		return nil
	}
	if err := s.devices.UpdateTenantMetadata(ctx, device.EngineID, deviceID, patch); err != nil {
		nuts.L.Warnf("[PayloadService] Tenant metadata of %s not updated: %v", deviceID, err)
		if s.reconciler != nil {
			s.reconciler.Enqueue(deviceID, "")
		}
	}
	return nil
}

// record persists the payload record. Failures never fail ingestion.
func (s *PayloadService) record(ctx context.Context, record *models.PayloadRecord) {
	if err := s.payloads.Record(ctx, record); err != nil {
		nuts.L.Warnf("[PayloadService] Payload record %s not saved: %v", record.UUID, err)
	}
	s.bus.Emit(bus.EventPayloadRecorded, string(record.State))
}
