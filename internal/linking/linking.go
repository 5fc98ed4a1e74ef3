// Package linking runs the device state machine: a device is attached to an
// engine or not, and an attached device may be linked to one asset of that
// engine.
//
// The admin copy of a device is written first and is authoritative. A failed
// tenant copy write is handed to the reconciler instead of failing the call.
package linking

import (
	"context"
	"fmt"
	"sort"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// Options of the state machine operations. Without Strict, an attach or link
// the current state rules out succeeds without doing anything and returns
// that state. Detaching a linked device fails either way.
type Options struct {
	Strict bool `schema:"strict"`
}

// EngineChecker is the engine existence check consumed before attach and link
type EngineChecker interface {
	Exists(ctx context.Context, engineID string) (bool, error)
}

// Enqueuer takes devices whose tenant copy could not be written
type Enqueuer interface {
	Enqueue(deviceID, staleEngine string)
}

// AttachRequest is piped through the before-attach hooks
type AttachRequest struct {
	Device   *models.Device
	EngineID string
}

// LinkRequest is piped through the before-link hooks
type LinkRequest struct {
	Device *models.Device
	Asset  *models.Asset
	Links  []models.MeasureNameLink
}

type LinkService struct {
	devices    repository.DeviceRepository
	assets     repository.AssetRepository
	engines    EngineChecker
	bus        *bus.Bus
	locker     lock.Locker
	reconciler Enqueuer
}

func NewLinkService(
	devices repository.DeviceRepository,
	assets repository.AssetRepository,
	engines EngineChecker,
	b *bus.Bus,
	locker lock.Locker,
	reconciler Enqueuer,
) *LinkService {
	return &LinkService{
		devices:    devices,
		assets:     assets,
		engines:    engines,
		bus:        b,
		locker:     locker,
		reconciler: reconciler,
	}
}

func (s *LinkService) lockDevice(ctx context.Context, deviceID string) (func(), *models.Device, error) {
	unlock, err := s.locker.Lock(ctx, lock.DeviceKey(deviceID))
	if err != nil {
		return nil, nil, err
	}
	device, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		unlock()
		if errors.IsNotFound(err) {
			return nil, nil, errors.NewNotFoundError(fmt.Sprintf("device %q not found", deviceID), err)
		}
		return nil, nil, err
	}
	return unlock, device, nil
}

func (s *LinkService) checkEngine(ctx context.Context, engineID string) error {
	exists, err := s.engines.Exists(ctx, engineID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NewNotFoundError(fmt.Sprintf("engine %q not found", engineID), nil)
	}
	return nil
}

// syncTenant writes the tenant copy and queues the device for
// reconciliation when that fails
func (s *LinkService) syncTenant(ctx context.Context, device *models.Device) {
	if err := s.devices.PutTenant(ctx, device.EngineID, device); err != nil {
		nuts.L.Warnf("[LinkService] Tenant copy of %s in %s not written: %v", device.ID, device.EngineID, err)
		if s.reconciler != nil {
			s.reconciler.Enqueue(device.ID, "")
		}
	}
}

// AttachEngine assigns deviceID to engineID and creates its tenant copy
func (s *LinkService) AttachEngine(ctx context.Context, deviceID, engineID string, opts Options) (*models.Device, error) {
	unlock, device, err := s.lockDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if device.EngineID == engineID {
		if opts.Strict {
			return nil, errors.NewConflictError(fmt.Sprintf("device %q is already attached to engine %q", deviceID, engineID), nil)
		}
		return device, nil
	}
	if device.IsAttached() {
		if opts.Strict {
			return nil, errors.NewConflictError(
				fmt.Sprintf("device %q is attached to engine %q, detach it first", deviceID, device.EngineID), nil)
		}
		nuts.L.Debugf("[LinkService] Device %s stays on engine %s, %s ignored", deviceID, device.EngineID, engineID)
		return device, nil
	}
	if err := s.checkEngine(ctx, engineID); err != nil {
		return nil, err
	}
	if err := s.bus.Pipe(ctx, bus.PipeBeforeAttach, &AttachRequest{Device: device, EngineID: engineID}); err != nil {
		return nil, err
	}

	device.EngineID = engineID
	if err := s.devices.Replace(ctx, device); err != nil {
		return nil, err
	}
	s.syncTenant(ctx, device)

	nuts.L.Infof("[LinkService] Device %s attached to engine %s", deviceID, engineID)
	s.bus.Emit(bus.EventDeviceAttached, deviceID, engineID)
	return device, nil
}

// DetachEngine removes deviceID from its engine and deletes the tenant copy.
// A linked device cannot be detached.
func (s *LinkService) DetachEngine(ctx context.Context, deviceID string, opts Options) (*models.Device, error) {
	unlock, device, err := s.lockDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !device.IsAttached() {
		if opts.Strict {
			return nil, errors.NewConflictError(fmt.Sprintf("device %q is not attached to an engine", deviceID), nil)
		}
		return device, nil
	}
	if device.IsLinked() {
		return nil, errors.NewConflictError(
			fmt.Sprintf("device %q is linked to asset %q, unlink it first", deviceID, device.AssetID), nil)
	}

	engineID := device.EngineID
	device.EngineID = ""
	if err := s.devices.Replace(ctx, device); err != nil {
		return nil, err
	}
	if err := s.devices.DeleteTenant(ctx, engineID, deviceID); err != nil && !errors.IsNotFound(err) {
		nuts.L.Warnf("[LinkService] Tenant copy of %s in %s not deleted: %v", deviceID, engineID, err)
		if s.reconciler != nil {
			s.reconciler.Enqueue(deviceID, engineID)
		}
	}

	nuts.L.Infof("[LinkService] Device %s detached from engine %s", deviceID, engineID)
	s.bus.Emit(bus.EventDeviceDetached, deviceID, engineID)
	return device, nil
}

// LinkAsset links an attached device to an asset of its engine. The latest
// measurements of the device are copied into the asset under their linked
// names. measureNameMap renames device measures, other names map to
// themselves.
func (s *LinkService) LinkAsset(ctx context.Context, deviceID, assetID string, measureNameMap map[string]string, opts Options) (*models.Device, *models.Asset, error) {
	unlock, device, err := s.lockDevice(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if !device.IsAttached() {
		return nil, nil, errors.NewPreconditionError(fmt.Sprintf("device %q must be attached to an engine first", deviceID), nil)
	}
	engineID := device.EngineID
	if device.AssetID == assetID {
		if opts.Strict {
			return nil, nil, errors.NewConflictError(fmt.Sprintf("device %q is already linked to asset %q", deviceID, assetID), nil)
		}
		asset, err := s.assets.Get(ctx, engineID, assetID)
		if err != nil {
			return nil, nil, err
		}
		return device, asset, nil
	}
	if device.IsLinked() {
		if opts.Strict {
			return nil, nil, errors.NewConflictError(
				fmt.Sprintf("device %q is linked to asset %q, unlink it first", deviceID, device.AssetID), nil)
		}
		nuts.L.Debugf("[LinkService] Device %s stays linked to asset %s, %s ignored", deviceID, device.AssetID, assetID)
		current, err := s.assets.Get(ctx, engineID, device.AssetID)
		if err != nil {
			return nil, nil, err
		}
		return device, current, nil
	}
	if err := s.checkEngine(ctx, engineID); err != nil {
		return nil, nil, err
	}

	unlockAsset, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return nil, nil, err
	}
	defer unlockAsset()

	asset, err := s.assets.Get(ctx, engineID, assetID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil, errors.NewNotFoundError(fmt.Sprintf("asset %q not found in engine %q", assetID, engineID), err)
		}
		return nil, nil, err
	}
	original := asset.Clone()

	names, err := s.measureNames(ctx, device)
	if err != nil {
		return nil, nil, err
	}
	links, err := resolveLinks(names, measureNameMap)
	if err != nil {
		return nil, nil, err
	}

	// a leftover link of this device from an interrupted unlink
	if stale, ok := asset.LinkFor(deviceID); ok {
		asset.RemoveMeasures(stale.AssetMeasureNames())
		asset.RemoveLink(deviceID)
	}
	if err := checkCollisions(asset, deviceID, links); err != nil {
		if opts.Strict {
			return nil, nil, err
		}
		nuts.L.Debugf("[LinkService] Device %s not linked to asset %s: %v", deviceID, assetID, err)
		return device, original, nil
	}
	if err := s.bus.Pipe(ctx, bus.PipeBeforeLink, &LinkRequest{Device: device, Asset: asset, Links: links}); err != nil {
		return nil, nil, err
	}

	for _, l := range links {
		m, ok := device.Measures[l.DeviceMeasureName]
		if !ok {
			continue
		}
		m = m.Clone()
		m.AssetMeasureName = l.AssetMeasureName
		m.AssetID = assetID
		asset.MergeMeasure(m)
	}
	asset.DeviceLinks = append(asset.DeviceLinks, models.DeviceLink{DeviceID: deviceID, MeasureNameLinks: links})

	if err := s.assets.Replace(ctx, engineID, asset); err != nil {
		return nil, nil, err
	}
	device.AssetID = assetID
	if err := s.devices.Replace(ctx, device); err != nil {
		if revertErr := s.assets.Replace(ctx, engineID, original); revertErr != nil {
			nuts.L.Errorf("[LinkService] Failed to revert asset %s after link failure: %v", assetID, revertErr)
		}
		return nil, nil, err
	}
	s.syncTenant(ctx, device)

	nuts.L.Infof("[LinkService] Device %s linked to asset %s (%d measures)", deviceID, assetID, len(links))
	s.bus.Emit(bus.EventDeviceLinked, deviceID, assetID)
	return device, asset, nil
}

// UnlinkAsset removes the device's link and the asset measures it fed
func (s *LinkService) UnlinkAsset(ctx context.Context, deviceID string, opts Options) (*models.Device, *models.Asset, error) {
	unlock, device, err := s.lockDevice(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	if !device.IsLinked() {
		if opts.Strict {
			return nil, nil, errors.NewConflictError(fmt.Sprintf("device %q is not linked to an asset", deviceID), nil)
		}
		return device, nil, nil
	}
	return s.unlink(ctx, device)
}

// ReleaseAsset drops the link between deviceID and assetID. A link entry
// of the asset that the device does not agree with is removed from the
// asset alone.
func (s *LinkService) ReleaseAsset(ctx context.Context, deviceID, engineID, assetID string) error {
	unlock, device, err := s.lockDevice(ctx, deviceID)
	switch {
	case err == nil:
		defer unlock()
		if device.EngineID == engineID && device.AssetID == assetID {
			_, _, err := s.unlink(ctx, device)
			return err
		}
	case errors.IsNotFound(err):
	default:
		return err
	}

	unlockAsset, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return err
	}
	defer unlockAsset()

	asset, err := s.assets.Get(ctx, engineID, assetID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil
		}
		return err
	}
	link, ok := asset.LinkFor(deviceID)
	if !ok {
		return nil
	}
	asset.RemoveMeasures(link.AssetMeasureNames())
	asset.RemoveLink(deviceID)
	if err := s.assets.Replace(ctx, engineID, asset); err != nil {
		return err
	}
	nuts.L.Warnf("[LinkService] Dropped stale link of device %s from asset %s", deviceID, assetID)
	return nil
}

// unlink expects the device lock to be held
func (s *LinkService) unlink(ctx context.Context, device *models.Device) (*models.Device, *models.Asset, error) {
	deviceID := device.ID
	engineID, assetID := device.EngineID, device.AssetID

	unlockAsset, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return nil, nil, err
	}
	defer unlockAsset()

	asset, err := s.assets.Get(ctx, engineID, assetID)
	switch {
	case err == nil:
		if link, ok := asset.LinkFor(deviceID); ok {
			asset.RemoveMeasures(link.AssetMeasureNames())
			asset.RemoveLink(deviceID)
			if err := s.assets.Replace(ctx, engineID, asset); err != nil {
				return nil, nil, err
			}
		}
	case errors.IsNotFound(err):
		nuts.L.Warnf("[LinkService] Asset %s of device %s is gone, clearing the link", assetID, deviceID)
		asset = nil
	default:
		return nil, nil, err
	}

	device.AssetID = ""
	if err := s.devices.Replace(ctx, device); err != nil {
		return nil, nil, err
	}
	s.syncTenant(ctx, device)

	nuts.L.Infof("[LinkService] Device %s unlinked from asset %s", deviceID, assetID)
	s.bus.Emit(bus.EventDeviceUnlinked, deviceID, assetID)
	return device, asset, nil
}

// measureNames is the union of the measures declared for the device model
// and the measures the device already reported
func (s *LinkService) measureNames(ctx context.Context, device *models.Device) ([]string, error) {
	set := map[string]struct{}{}
	declared, err := bus.AskAs[[]decoder.MeasureDeclaration](ctx, s.bus, bus.AskDeviceModelMeasures, device.Model)
	switch {
	case err == nil:
		for _, d := range declared {
			set[d.Name] = struct{}{}
		}
	case errors.IsNotFound(err):
		nuts.L.Debugf("[LinkService] No declared measures for model %s", device.Model)
	default:
		return nil, err
	}
	for _, name := range device.MeasureNames() {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func resolveLinks(names []string, measureNameMap map[string]string) ([]models.MeasureNameLink, error) {
	known := make(map[string]struct{}, len(names))
	for _, n := range names {
		known[n] = struct{}{}
	}
	for from, to := range measureNameMap {
		if _, ok := known[from]; !ok {
			return nil, errors.NewPreconditionError(fmt.Sprintf("device has no measure named %q", from), nil)
		}
		if to == "" {
			return nil, errors.NewPreconditionError(fmt.Sprintf("empty asset measure name for %q", from), nil)
		}
	}

	links := make([]models.MeasureNameLink, 0, len(names))
	taken := make(map[string]string, len(names))
	for _, n := range names {
		assetName := n
		if mapped, ok := measureNameMap[n]; ok {
			assetName = mapped
		}
		if other, dup := taken[assetName]; dup {
			return nil, errors.NewConflictError(
				fmt.Sprintf("device measures %q and %q both map to %q", other, n, assetName), nil)
		}
		taken[assetName] = n
		links = append(links, models.MeasureNameLink{DeviceMeasureName: n, AssetMeasureName: assetName})
	}
	return links, nil
}

// checkCollisions refuses asset names already claimed by another device
// link or already present among the asset measures
func checkCollisions(asset *models.Asset, deviceID string, links []models.MeasureNameLink) error {
	for _, l := range links {
		if owner, ok := asset.MeasureOwner(l.AssetMeasureName); ok && owner != deviceID {
			return errors.NewConflictError(
				fmt.Sprintf("asset measure %q is already provided by device %q", l.AssetMeasureName, owner), nil)
		}
		if asset.MeasureIndex(l.AssetMeasureName) >= 0 {
			return errors.NewConflictError(
				fmt.Sprintf("asset %q already has a measure named %q", asset.ID, l.AssetMeasureName), nil)
		}
	}
	return nil
}
