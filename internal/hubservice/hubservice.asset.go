package hubservice

import (
	"context"
	"fmt"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	nuts "github.com/vaudience/go-nuts"
)

// CreateAsset creates an asset in an existing engine
func (s *HubService) CreateAsset(ctx context.Context, engineID, assetType, model, reference string, metadata models.JSON) (*models.Asset, error) {
	if assetType == "" || model == "" || reference == "" {
		return nil, errors.NewValidationError("asset type, model and reference are required", nil)
	}
	if err := s.requireEngine(ctx, engineID); err != nil {
		return nil, err
	}
	asset := models.NewAsset(assetType, model, reference, metadata)
	if err := s.Assets.Create(ctx, engineID, asset); err != nil {
		if errors.IsConflict(err) {
			return nil, errors.NewConflictError(fmt.Sprintf("asset %q already exists in engine %q", asset.ID, engineID), err)
		}
		return nil, err
	}
	nuts.L.Infof("[HubService] Created asset %s in engine %s", asset.ID, engineID)
	return asset, nil
}

func (s *HubService) GetAsset(ctx context.Context, engineID, id string) (*models.Asset, error) {
	asset, err := s.Assets.Get(ctx, engineID, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("asset %q not found in engine %q", id, engineID), err)
		}
		return nil, err
	}
	return filterFields(ctx, asset)
}

// ListAssets retrieves a page of assets with role-based filtering
func (s *HubService) ListAssets(ctx context.Context, engineID string, filters models.AssetFilters) ([]*models.Asset, error) {
	page := normalizePage(models.Page{From: filters.From, Size: filters.Size})
	filters.From, filters.Size = page.From, page.Size
	if err := s.requireEngine(ctx, engineID); err != nil {
		return nil, err
	}
	assets, err := s.Assets.List(ctx, engineID, filters)
	if err != nil {
		return nil, err
	}
	filtered := make([]*models.Asset, 0, len(assets))
	for _, a := range assets {
		f, err := filterFields(ctx, a)
		if err != nil {
			nuts.L.Warnf("[HubService] Failed to filter asset %s: %v", a.ID, err)
			continue
		}
		filtered = append(filtered, f)
	}
	return filtered, nil
}

// DeleteAsset unlinks the asset's devices and deletes it
func (s *HubService) DeleteAsset(ctx context.Context, engineID, id string) error {
	return s.Cleanup.DeleteAsset(ctx, engineID, id)
}

// GetLinkedDevices returns the tenant copies of the devices feeding an asset
func (s *HubService) GetLinkedDevices(ctx context.Context, engineID, assetID string) ([]*models.Device, error) {
	if _, err := s.GetAsset(ctx, engineID, assetID); err != nil {
		return nil, err
	}
	devices, err := s.Devices.ListByAsset(ctx, engineID, assetID)
	if err != nil {
		return nil, err
	}
	for i, d := range devices {
		if devices[i], err = filterFields(ctx, d); err != nil {
			return nil, err
		}
	}
	return devices, nil
}

func (s *HubService) requireEngine(ctx context.Context, engineID string) error {
	exists, err := s.Engines.Exists(ctx, engineID)
	if err != nil {
		return err
	}
	if !exists {
		return errors.NewNotFoundError(fmt.Sprintf("engine %q not found", engineID), nil)
	}
	return nil
}
