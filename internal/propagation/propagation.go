// Package propagation spreads measurements over the device cache, the cache
// of the linked asset and the engine's history.
//
// Both caches keep one latest measurement per name. An incoming measurement
// replaces the cached one unless it is older. History keeps everything.
package propagation

import (
	"context"
	"fmt"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	nuts "github.com/vaudience/go-nuts"
)

// Enqueuer takes devices whose tenant copy could not be written
type Enqueuer interface {
	Enqueue(deviceID, staleEngine string)
}

// InvalidMeasure is a rejected entry of RegisterByAsset
type InvalidMeasure struct {
	Index       int                `json:"index"`
	Measurement models.Measurement `json:"measurement"`
	Reason      string             `json:"reason"`
}

// Result reports what a registration did
type Result struct {
	Measures      []models.Measurement `json:"measures"`
	Invalid       []InvalidMeasure     `json:"invalid,omitempty"`
	HistoryErrors []store.BulkError    `json:"historyErrors,omitempty"`
}

type MeasureService struct {
	devices    repository.DeviceRepository
	assets     repository.AssetRepository
	history    repository.MeasureRepository
	bus        *bus.Bus
	locker     lock.Locker
	reconciler Enqueuer
}

func NewMeasureService(
	devices repository.DeviceRepository,
	assets repository.AssetRepository,
	history repository.MeasureRepository,
	b *bus.Bus,
	locker lock.Locker,
	reconciler Enqueuer,
) *MeasureService {
	return &MeasureService{
		devices:    devices,
		assets:     assets,
		history:    history,
		bus:        b,
		locker:     locker,
		reconciler: reconciler,
	}
}

// RegisterByDevice merges measurements produced by deviceID into the device
// cache and, when the device is linked, into the asset cache under the
// linked names. Every measurement is appended to the engine history.
// Measurements are applied in order, so the later of two same-named
// measurements with equal timestamps wins.
func (s *MeasureService) RegisterByDevice(ctx context.Context, deviceID string, incoming []models.Measurement) (*Result, error) {
	unlockDevice, err := s.locker.Lock(ctx, lock.DeviceKey(deviceID))
	if err != nil {
		return nil, err
	}
	defer unlockDevice()

	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !device.IsAttached() {
		return nil, errors.NewPreconditionError(fmt.Sprintf("device %q is not attached to an engine", deviceID), nil)
	}
	engineID := device.EngineID

	ms := make([]models.Measurement, len(incoming))
	for i, m := range incoming {
		ms[i] = m.Clone()
		ms[i].EngineID = engineID
		if device.IsLinked() {
			ms[i].AssetID = device.AssetID
		}
	}

	if device.IsLinked() {
		if err := s.mergeIntoLinkedAsset(ctx, device, ms); err != nil {
			return nil, err
		}
	}

	appended, err := s.history.Append(ctx, engineID, ms)
	if err != nil {
		return nil, err
	}

	changed := false
	for _, m := range ms {
		if models.MergeLatest(device.Measures, m.DeviceMeasureName, m) {
			changed = true
		}
	}
	if changed {
		if err := s.devices.Replace(ctx, device); err != nil {
			return nil, err
		}
		if err := s.devices.PutTenant(ctx, engineID, device); err != nil {
			nuts.L.Warnf("[MeasureService] Tenant copy of %s not updated: %v", deviceID, err)
			if s.reconciler != nil {
				s.reconciler.Enqueue(deviceID, "")
			}
		}
	}

	if len(appended.Errors) > 0 {
		nuts.L.Warnf("[MeasureService] %d of %d measurements of %s missing from history", len(appended.Errors), len(ms), deviceID)
	}
	nuts.L.Debugf("[MeasureService] Registered %d measurements of device %s", len(ms), deviceID)
	s.bus.Emit(bus.EventMeasuresIngested, string(models.OriginDevice), len(ms))
	return &Result{Measures: ms, HistoryErrors: appended.Errors}, nil
}

// mergeIntoLinkedAsset sets AssetMeasureName on the measurements the link
// maps and merges them into the asset. Unmapped names stay out of the asset.
func (s *MeasureService) mergeIntoLinkedAsset(ctx context.Context, device *models.Device, ms []models.Measurement) error {
	engineID, assetID := device.EngineID, device.AssetID
	unlockAsset, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return err
	}
	defer unlockAsset()

	asset, err := s.assets.Get(ctx, engineID, assetID)
	if err != nil {
		return err
	}
	link, ok := asset.LinkFor(device.ID)
	if !ok {
		nuts.L.Warnf("[MeasureService] Asset %s has no link for device %s", assetID, device.ID)
		return nil
	}

	changed := false
	for i := range ms {
		name, mapped := link.AssetMeasureNameFor(ms[i].DeviceMeasureName)
		if !mapped {
			nuts.L.Debugf("[MeasureService] Measure %s of %s is not linked to asset %s", ms[i].DeviceMeasureName, device.ID, assetID)
			continue
		}
		ms[i].AssetMeasureName = name
		if asset.MergeMeasure(ms[i].Clone()) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.assets.Replace(ctx, engineID, asset)
}

// RegisterByAsset validates measurements pushed straight at an asset and
// merges the valid ones. With strict set a single invalid entry rejects
// all of them.
func (s *MeasureService) RegisterByAsset(ctx context.Context, engineID, assetID string, incoming []models.Measurement, strict bool) (*Result, error) {
	valid := make([]models.Measurement, 0, len(incoming))
	var invalid []InvalidMeasure
	for i, m := range incoming {
		if err := s.check(ctx, m); err != nil {
			invalid = append(invalid, InvalidMeasure{Index: i, Measurement: m, Reason: errors.AsAPIError(err).Message})
			continue
		}
		m = m.Clone()
		m.Origin = models.MeasureOrigin{Type: models.OriginAsset, ID: assetID}
		m.AssetID = assetID
		m.EngineID = engineID
		valid = append(valid, m)
	}
	if strict && len(invalid) > 0 {
		return nil, errors.NewPreconditionError(
			fmt.Sprintf("%d of %d measurements are invalid", len(invalid), len(incoming)), nil).WithDetails(invalid)
	}

	result := &Result{Measures: valid, Invalid: invalid}
	if len(valid) == 0 {
		return result, nil
	}

	unlockAsset, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return nil, err
	}
	defer unlockAsset()

	asset, err := s.assets.Get(ctx, engineID, assetID)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, m := range valid {
		if asset.MergeMeasure(m) {
			changed = true
		}
	}
	if changed {
		if err := s.assets.Replace(ctx, engineID, asset); err != nil {
			return nil, err
		}
	}

	appended, err := s.history.Append(ctx, engineID, valid)
	if err != nil {
		return nil, err
	}
	result.HistoryErrors = appended.Errors
	s.bus.Emit(bus.EventMeasuresIngested, string(models.OriginAsset), len(valid))
	return result, nil
}

func (s *MeasureService) check(ctx context.Context, m models.Measurement) error {
	if m.AssetMeasureName == "" {
		return errors.NewPreconditionError("measure name is required", nil)
	}
	def, err := bus.AskAs[measures.Definition](ctx, s.bus, bus.AskMeasureType, m.Type)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewPreconditionError(fmt.Sprintf("unknown measure type %q", m.Type), err)
		}
		return err
	}
	return measures.Check(def, m.Values)
}
