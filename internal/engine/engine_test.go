package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/memory"
)

const admin = "device-manager"

type mapCache struct {
	mu     sync.Mutex
	values map[string]bool
	hits   int
}

func newMapCache() *mapCache {
	return &mapCache{values: map[string]bool{}}
}

func (c *mapCache) Get(ctx context.Context, id string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapCache) Set(ctx context.Context, id string, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = exists
}

func (c *mapCache) Delete(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, id)
}

func TestCreateAndExists(t *testing.T) {
	cache := newMapCache()
	r := NewRegistry(memory.New(), admin, cache)
	ctx := context.Background()

	exists, err := r.Exists(ctx, "tenantA")
	if err != nil || exists {
		t.Fatalf("expected unknown engine, got %v %v", exists, err)
	}
	if err := r.Create(ctx, &models.Engine{ID: "tenantA", Name: "Tenant A"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// create must drop the cached negative answer
	exists, err = r.Exists(ctx, "tenantA")
	if err != nil || !exists {
		t.Fatalf("expected engine to exist, got %v %v", exists, err)
	}
	if _, err := r.Exists(ctx, "tenantA"); err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", cache.hits)
	}

	if err := r.Create(ctx, &models.Engine{ID: "tenantA"}); !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	engine, err := r.Get(ctx, "tenantA")
	if err != nil || engine.Name != "Tenant A" || engine.CreatedAt.IsZero() {
		t.Fatalf("Get returned %v %+v", err, engine)
	}
	if _, err := r.Get(ctx, "missing"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateRejectsBadIDs(t *testing.T) {
	r := NewRegistry(memory.New(), admin, nil)
	for _, id := range []string{"", "has space", admin, "-leading"} {
		if err := r.Create(context.Background(), &models.Engine{ID: id}); !errors.IsValidation(err) {
			t.Errorf("id %q: expected validation error, got %v", id, err)
		}
	}
}

func TestDeleteRefusedWhileDevicesAttached(t *testing.T) {
	s := memory.New()
	r := NewRegistry(s, admin, nil)
	ctx := context.Background()

	if err := r.Create(ctx, &models.Engine{ID: "tenantA"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	device := models.NewDevice("DummyTemp", "1", nil)
	device.EngineID = "tenantA"
	body, _ := json.Marshal(device)
	if _, err := s.Create(ctx, admin, store.CollectionDevices, device.ID, body); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := r.Delete(ctx, "tenantA"); !errors.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.Delete(ctx, admin, store.CollectionDevices, device.ID); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if err := r.Delete(ctx, "tenantA"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	engines, err := r.List(ctx, 0, 0)
	if err != nil || len(engines) != 0 {
		t.Fatalf("expected no engines, got %v %d", err, len(engines))
	}
	if err := r.Delete(ctx, "tenantA"); !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteDropsTenantDocuments(t *testing.T) {
	s := memory.New()
	r := NewRegistry(s, admin, nil)
	ctx := context.Background()

	if err := r.Create(ctx, &models.Engine{ID: "tenantA"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	asset := models.NewAsset("Container", "Reefer", "1", nil)
	body, _ := json.Marshal(asset)
	if _, err := s.Create(ctx, "tenantA", store.CollectionAssets, asset.ID, body); err != nil {
		t.Fatalf("seed asset failed: %v", err)
	}
	if _, err := s.Create(ctx, "tenantA", store.CollectionMeasures, "m-1", json.RawMessage(`{"type":"temperature"}`)); err != nil {
		t.Fatalf("seed measure failed: %v", err)
	}

	if err := r.Delete(ctx, "tenantA"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := r.Create(ctx, &models.Engine{ID: "tenantA"}); err != nil {
		t.Fatalf("re-create failed: %v", err)
	}
	if n := s.Count("tenantA", store.CollectionAssets) + s.Count("tenantA", store.CollectionMeasures); n != 0 {
		t.Fatalf("re-created engine inherited %d documents", n)
	}
	if n := s.Count(admin, store.CollectionEngines); n != 1 {
		t.Fatalf("admin index lost its engines: %d", n)
	}
}
