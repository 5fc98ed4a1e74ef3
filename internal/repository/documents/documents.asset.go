package documents

import (
	"context"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

type AssetRepo struct {
	DocumentBaseRepo
}

var _ repository.AssetRepository = (*AssetRepo)(nil)

func NewAssetRepository(s store.Store, adminIndex string) *AssetRepo {
	return &AssetRepo{DocumentBaseRepo: NewDocumentBaseRepo(s, adminIndex)}
}

func (r *AssetRepo) Create(ctx context.Context, engineID string, asset *models.Asset) error {
	if asset.ID == "" {
		asset.ID = models.AssetID(asset.Type, asset.Model, asset.Reference)
	}
	return r.create(ctx, engineID, store.CollectionAssets, asset.ID, asset)
}

func (r *AssetRepo) Get(ctx context.Context, engineID, id string) (*models.Asset, error) {
	asset := &models.Asset{}
	if err := r.getInto(ctx, engineID, store.CollectionAssets, id, asset); err != nil {
		return nil, err
	}
	return normalizeAsset(asset), nil
}

func (r *AssetRepo) Replace(ctx context.Context, engineID string, asset *models.Asset) error {
	asset.UpdatedAt = time.Now().UTC()
	return r.replace(ctx, engineID, store.CollectionAssets, asset.ID, asset)
}

func (r *AssetRepo) Delete(ctx context.Context, engineID, id string) error {
	return r.store.Delete(ctx, engineID, store.CollectionAssets, id)
}

func (r *AssetRepo) List(ctx context.Context, engineID string, filters models.AssetFilters) ([]*models.Asset, error) {
	equals := map[string]any{}
	if filters.Type != "" {
		equals["type"] = filters.Type
	}
	if filters.Model != "" {
		equals["model"] = filters.Model
	}
	assets, err := search[models.Asset](ctx, r.store, engineID, store.CollectionAssets, store.Query{
		Equals: equals,
		From:   filters.From,
		Size:   filters.Size,
	})
	if err != nil {
		return nil, err
	}
	for _, a := range assets {
		normalizeAsset(a)
	}
	return assets, nil
}

func normalizeAsset(a *models.Asset) *models.Asset {
	if a.Metadata == nil {
		a.Metadata = models.JSON{}
	}
	if a.Measures == nil {
		a.Measures = []models.Measurement{}
	}
	if a.DeviceLinks == nil {
		a.DeviceLinks = []models.DeviceLink{}
	}
	return a
}
