package cleanup

import (
	"context"
	"fmt"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	nuts "github.com/vaudience/go-nuts"
)

// maxDeleteAttempts bounds the release passes when devices keep linking to
// an asset that is being deleted
const maxDeleteAttempts = 5

// Releaser drops the link between a device and an asset. It takes the
// device lock before the asset lock.
type Releaser interface {
	ReleaseAsset(ctx context.Context, deviceID, engineID, assetID string) error
}

// CleanupService coordinates deletion of assets and the links pointing at them
type CleanupService struct {
	assets repository.AssetRepository
	links  Releaser
	locker lock.Locker
	bus    *bus.Bus
}

// New creates a new CleanupService
func New(assets repository.AssetRepository, links Releaser, locker lock.Locker, b *bus.Bus) *CleanupService {
	return &CleanupService{
		assets: assets,
		links:  links,
		locker: locker,
		bus:    b,
	}
}

// DeleteAsset unlinks every device feeding the asset, then deletes it while
// holding the asset lock
func (s *CleanupService) DeleteAsset(ctx context.Context, engineID, assetID string) error {
	released := 0
	for attempt := 1; attempt <= maxDeleteAttempts; attempt++ {
		asset, err := s.get(ctx, engineID, assetID)
		if err != nil {
			return err
		}
		for _, link := range asset.DeviceLinks {
			if err := s.links.ReleaseAsset(ctx, link.DeviceID, engineID, assetID); err != nil {
				return fmt.Errorf("failed to unlink device %s: %w", link.DeviceID, err)
			}
			released++
			nuts.L.Debugf("[Cleanup] Device %s released from asset %s", link.DeviceID, assetID)
		}

		deleted, err := s.deleteUnlinked(ctx, engineID, assetID)
		if err != nil {
			return err
		}
		if deleted {
			nuts.L.Infof("[Cleanup] Asset %s deleted from engine %s (%d devices unlinked)", assetID, engineID, released)
			s.bus.Emit(bus.EventAssetDeleted, assetID, engineID)
			return nil
		}
		nuts.L.Debugf("[Cleanup] Asset %s was linked again during deletion, attempt %d", assetID, attempt)
	}
	return errors.NewConflictError(fmt.Sprintf("asset %q keeps getting linked, not deleted", assetID), nil)
}

// deleteUnlinked deletes the asset unless a device linked to it since the
// release pass
func (s *CleanupService) deleteUnlinked(ctx context.Context, engineID, assetID string) (bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.AssetKey(engineID, assetID))
	if err != nil {
		return false, err
	}
	defer unlock()

	asset, err := s.get(ctx, engineID, assetID)
	if err != nil {
		return false, err
	}
	if len(asset.DeviceLinks) > 0 {
		return false, nil
	}
	if err := s.assets.Delete(ctx, engineID, assetID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CleanupService) get(ctx context.Context, engineID, assetID string) (*models.Asset, error) {
	asset, err := s.assets.Get(ctx, engineID, assetID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError(fmt.Sprintf("asset %q not found in engine %q", assetID, engineID), err)
		}
		return nil, err
	}
	return asset, nil
}

// OnCleanup registers a callback for cleanup events
func (s *CleanupService) OnCleanup(event string, handler func(id string)) {
	s.bus.On(event, nuts.NID("cleanup", 8), func(args ...interface{}) {
		if len(args) > 0 {
			if id, ok := args[0].(string); ok {
				handler(id)
			}
		}
	})
}
