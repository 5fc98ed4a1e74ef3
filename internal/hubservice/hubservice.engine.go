package hubservice

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func normalizePage(p models.Page) models.Page {
	if p.Size <= 0 || p.Size > maxPageSize {
		p.Size = defaultPageSize
	}
	if p.From < 0 {
		p.From = 0
	}
	return p
}

// ListEngines returns a page of the registered engines
func (s *HubService) ListEngines(ctx context.Context, page models.Page) ([]*models.Engine, error) {
	page = normalizePage(page)
	return s.Engines.List(ctx, page.From, page.Size)
}

// DeleteEngine removes an engine together with its assets and history.
// Devices must be detached first.
func (s *HubService) DeleteEngine(ctx context.Context, engineID string) error {
	return s.Engines.Delete(ctx, engineID)
}

// AssetHistory returns a page of the measurements an asset received,
// oldest first
func (s *HubService) AssetHistory(ctx context.Context, engineID, assetID string, page models.Page) ([]models.Measurement, error) {
	if _, err := s.GetAsset(ctx, engineID, assetID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	return s.History.ListByAsset(ctx, engineID, assetID, page.From, page.Size)
}

// DeviceHistory returns a page of the measurements deviceID produced while
// attached to engineID, oldest first
func (s *HubService) DeviceHistory(ctx context.Context, engineID, deviceID string, page models.Page) ([]models.Measurement, error) {
	if err := s.requireEngine(ctx, engineID); err != nil {
		return nil, err
	}
	if _, err := s.GetDevice(ctx, deviceID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	return s.History.ListByOrigin(ctx, engineID, deviceID, page.From, page.Size)
}
