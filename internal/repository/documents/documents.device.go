package documents

import (
	"context"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

type DeviceRepo struct {
	DocumentBaseRepo
}

var _ repository.DeviceRepository = (*DeviceRepo)(nil)

func NewDeviceRepository(s store.Store, adminIndex string) *DeviceRepo {
	return &DeviceRepo{DocumentBaseRepo: NewDocumentBaseRepo(s, adminIndex)}
}

func (r *DeviceRepo) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = models.DeviceID(device.Model, device.Reference)
	}
	return r.create(ctx, r.adminIndex, store.CollectionDevices, device.ID, device)
}

func (r *DeviceRepo) Get(ctx context.Context, id string) (*models.Device, error) {
	device := &models.Device{}
	if err := r.getInto(ctx, r.adminIndex, store.CollectionDevices, id, device); err != nil {
		return nil, err
	}
	return normalizeDevice(device), nil
}

func (r *DeviceRepo) Replace(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now().UTC()
	return r.replace(ctx, r.adminIndex, store.CollectionDevices, device.ID, device)
}

func (r *DeviceRepo) UpdateMetadata(ctx context.Context, id string, patch models.JSON) error {
	return r.update(ctx, r.adminIndex, store.CollectionDevices, id, metadataPatch(patch))
}

func (r *DeviceRepo) GetTenant(ctx context.Context, engineID, id string) (*models.Device, error) {
	device := &models.Device{}
	if err := r.getInto(ctx, engineID, store.CollectionDevices, id, device); err != nil {
		return nil, err
	}
	return normalizeDevice(device), nil
}

// PutTenant creates or replaces the tenant copy with the content of device
func (r *DeviceRepo) PutTenant(ctx context.Context, engineID string, device *models.Device) error {
	return r.createOrReplace(ctx, engineID, store.CollectionDevices, device.ID, device)
}

func (r *DeviceRepo) UpdateTenantMetadata(ctx context.Context, engineID, id string, patch models.JSON) error {
	return r.update(ctx, engineID, store.CollectionDevices, id, metadataPatch(patch))
}

func (r *DeviceRepo) DeleteTenant(ctx context.Context, engineID, id string) error {
	return r.store.Delete(ctx, engineID, store.CollectionDevices, id)
}

func (r *DeviceRepo) ListByEngine(ctx context.Context, engineID string, from, size int) ([]*models.Device, error) {
	return search[models.Device](ctx, r.store, r.adminIndex, store.CollectionDevices, store.Query{
		Equals: map[string]any{"engine_id": engineID},
		From:   from,
		Size:   size,
	})
}

func (r *DeviceRepo) ListByAsset(ctx context.Context, engineID, assetID string) ([]*models.Device, error) {
	return search[models.Device](ctx, r.store, engineID, store.CollectionDevices, store.Query{
		Equals: map[string]any{"asset_id": assetID},
	})
}

func metadataPatch(patch models.JSON) map[string]any {
	return map[string]any{
		"metadata":   patch,
		"updated_at": time.Now().UTC(),
	}
}

func normalizeDevice(d *models.Device) *models.Device {
	if d.Metadata == nil {
		d.Metadata = models.JSON{}
	}
	if d.Measures == nil {
		d.Measures = map[string]models.Measurement{}
	}
	return d
}
