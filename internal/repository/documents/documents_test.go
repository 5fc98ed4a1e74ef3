package documents

import (
	"context"
	"testing"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/memory"
)

const admin = "device-manager"

func TestDeviceCopies(t *testing.T) {
	s := memory.New()
	repo := NewDeviceRepository(s, admin)
	ctx := context.Background()

	device := models.NewDevice("DummyTemp", "001", models.JSON{"color": "red"})
	if err := repo.Create(ctx, device); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, models.NewDevice("DummyTemp", "001", nil)); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate device, got %v", err)
	}

	device.EngineID = "tenant-a"
	if err := repo.Replace(ctx, device); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if err := repo.PutTenant(ctx, "tenant-a", device); err != nil {
		t.Fatalf("PutTenant failed: %v", err)
	}
	if err := repo.UpdateMetadata(ctx, device.ID, models.JSON{"size": 3}); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}

	got, err := repo.Get(ctx, "DummyTemp-001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Metadata["color"] != "red" || got.Metadata["size"] != float64(3) {
		t.Fatalf("metadata not merged: %v", got.Metadata)
	}
	tenant, err := repo.GetTenant(ctx, "tenant-a", device.ID)
	if err != nil || tenant.EngineID != "tenant-a" {
		t.Fatalf("tenant copy missing: %v %+v", err, tenant)
	}

	listed, err := repo.ListByEngine(ctx, "tenant-a", 0, 0)
	if err != nil || len(listed) != 1 {
		t.Fatalf("ListByEngine returned %v %d", err, len(listed))
	}

	if err := repo.DeleteTenant(ctx, "tenant-a", device.ID); err != nil {
		t.Fatalf("DeleteTenant failed: %v", err)
	}
	if _, err := repo.GetTenant(ctx, "tenant-a", device.ID); !errors.IsNotFound(err) {
		t.Fatalf("expected tenant copy to be gone, got %v", err)
	}
}

func TestAssetList(t *testing.T) {
	s := memory.New()
	repo := NewAssetRepository(s, admin)
	ctx := context.Background()

	for _, a := range []*models.Asset{
		models.NewAsset("Container", "Reefer", "1", nil),
		models.NewAsset("Container", "Dry", "2", nil),
		models.NewAsset("Room", "Office", "3", nil),
	} {
		if err := repo.Create(ctx, "tenant-a", a); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	containers, err := repo.List(ctx, "tenant-a", models.AssetFilters{Type: "Container"})
	if err != nil || len(containers) != 2 {
		t.Fatalf("expected 2 containers, got %d (%v)", len(containers), err)
	}
	if containers[0].ID != "Container-Reefer-1" {
		t.Fatalf("unexpected order %s", containers[0].ID)
	}
	if containers[0].Measures == nil || containers[0].DeviceLinks == nil {
		t.Fatalf("asset slices must be normalized")
	}
}

func TestMeasureHistory(t *testing.T) {
	s := memory.New()
	repo := NewMeasureRepository(s, admin)
	ctx := context.Background()

	res, err := repo.Append(ctx, "tenant-a", []models.Measurement{
		{Type: "temperature", MeasuredAt: 1, Origin: models.MeasureOrigin{ID: "DummyTemp-001"}, AssetID: "A"},
		{Type: "temperature", MeasuredAt: 2, Origin: models.MeasureOrigin{ID: "DummyTemp-002"}},
		{Type: "battery", MeasuredAt: 3, Origin: models.MeasureOrigin{ID: "DummyTemp-001"}},
	})
	if err != nil || len(res.Successes) != 3 {
		t.Fatalf("Append failed: %v %+v", err, res)
	}
	if s.Count("tenant-a", store.CollectionMeasures) != 3 {
		t.Fatalf("expected 3 history documents")
	}

	byOrigin, err := repo.ListByOrigin(ctx, "tenant-a", "DummyTemp-001", 0, 0)
	if err != nil || len(byOrigin) != 2 || byOrigin[1].Type != "battery" {
		t.Fatalf("unexpected history %v %+v", err, byOrigin)
	}
	byAsset, _ := repo.ListByAsset(ctx, "tenant-a", "A", 0, 0)
	if len(byAsset) != 1 {
		t.Fatalf("expected one asset measurement, got %d", len(byAsset))
	}
}

func TestPayloadRecords(t *testing.T) {
	repo := NewPayloadRepository(memory.New(), admin)
	ctx := context.Background()

	record := &models.PayloadRecord{UUID: "u-1", DeviceModel: "DummyTemp", Valid: true, State: models.PayloadValid}
	if err := repo.Record(ctx, record); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := repo.Record(ctx, record); !errors.IsConflict(err) {
		t.Fatalf("expected conflict for a reused uuid, got %v", err)
	}
	got, err := repo.Get(ctx, "u-1")
	if err != nil || got.State != models.PayloadValid {
		t.Fatalf("Get returned %v %+v", err, got)
	}
}
