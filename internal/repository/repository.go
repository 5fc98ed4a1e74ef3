// FilePath: server/devicehub/internal/repository/repository.go
package repository

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

// DeviceRepository stores the admin copy of devices and, per engine, the tenant copies
type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	Get(ctx context.Context, id string) (*models.Device, error)
	Replace(ctx context.Context, device *models.Device) error
	UpdateMetadata(ctx context.Context, id string, patch models.JSON) error

	GetTenant(ctx context.Context, engineID, id string) (*models.Device, error)
	PutTenant(ctx context.Context, engineID string, device *models.Device) error
	UpdateTenantMetadata(ctx context.Context, engineID, id string, patch models.JSON) error
	DeleteTenant(ctx context.Context, engineID, id string) error

	ListByEngine(ctx context.Context, engineID string, from, size int) ([]*models.Device, error)
	ListByAsset(ctx context.Context, engineID, assetID string) ([]*models.Device, error)
}

// AssetRepository stores assets in their engine's index
type AssetRepository interface {
	Create(ctx context.Context, engineID string, asset *models.Asset) error
	Get(ctx context.Context, engineID, id string) (*models.Asset, error)
	Replace(ctx context.Context, engineID string, asset *models.Asset) error
	Delete(ctx context.Context, engineID, id string) error
	List(ctx context.Context, engineID string, filters models.AssetFilters) ([]*models.Asset, error)
}

// PayloadRepository records ingestion attempts in the admin index
type PayloadRepository interface {
	Record(ctx context.Context, record *models.PayloadRecord) error
	Get(ctx context.Context, uuid string) (*models.PayloadRecord, error)
}

// MeasureRepository is the append-only measurement history of an engine
type MeasureRepository interface {
	// Append stores every measurement. Per-document failures come back in
	// the result rather than as an error.
	Append(ctx context.Context, engineID string, measures []models.Measurement) (store.BulkResult, error)
	ListByOrigin(ctx context.Context, engineID, originID string, from, size int) ([]models.Measurement, error)
	ListByAsset(ctx context.Context, engineID, assetID string, from, size int) ([]models.Measurement, error)
}
