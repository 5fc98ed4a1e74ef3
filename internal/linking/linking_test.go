package linking

import (
	"context"
	"sync"
	"testing"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder/samples"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/lock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository/documents"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/memory"
)

type engineSet map[string]bool

func (e engineSet) Exists(ctx context.Context, id string) (bool, error) {
	return e[id], nil
}

type queue struct {
	mu  sync.Mutex
	ids []string
}

func (q *queue) Enqueue(deviceID, staleEngine string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, deviceID)
}

type fixture struct {
	svc     *LinkService
	devices *documents.DeviceRepo
	assets  *documents.AssetRepo
	bus     *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	b := bus.New()
	types := measures.NewRegistry()
	if err := types.Serve(b); err != nil {
		t.Fatalf("serve measure types: %v", err)
	}
	decoders := decoder.NewRegistry(types)
	if _, err := decoders.Register(samples.DummyTemp{}); err != nil {
		t.Fatalf("register decoder: %v", err)
	}
	if err := decoders.Serve(b); err != nil {
		t.Fatalf("serve decoders: %v", err)
	}

	f := &fixture{
		devices: documents.NewDeviceRepository(s, "device-manager"),
		assets:  documents.NewAssetRepository(s, "device-manager"),
		bus:     b,
	}
	f.svc = NewLinkService(f.devices, f.assets, engineSet{"tenantA": true, "tenantB": true}, b, lock.NewLocal(), &queue{})
	return f
}

// device creates DummyTemp-<ref> holding a temperature of 20 at 1000
func (f *fixture) device(t *testing.T, ref string) *models.Device {
	t.Helper()
	d := models.NewDevice("DummyTemp", ref, nil)
	d.Measures["temperature"] = models.Measurement{
		Type:              "temperature",
		Values:            models.JSON{"temperature": 20.0},
		MeasuredAt:        1000,
		DeviceMeasureName: "temperature",
		Origin:            models.MeasureOrigin{Type: models.OriginDevice, ID: d.ID},
	}
	if err := f.devices.Create(context.Background(), d); err != nil {
		t.Fatalf("create device: %v", err)
	}
	return d
}

func (f *fixture) asset(t *testing.T, engineID, ref string) *models.Asset {
	t.Helper()
	a := models.NewAsset("Container", "Reefer", ref, nil)
	if err := f.assets.Create(context.Background(), engineID, a); err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}

func TestAttachAndLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")

	attached, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{Strict: true})
	if err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}
	if attached.EngineID != "tenantA" {
		t.Fatalf("expected engine tenantA, got %q", attached.EngineID)
	}
	if _, err := f.devices.GetTenant(ctx, "tenantA", d.ID); err != nil {
		t.Fatalf("tenant copy missing after attach: %v", err)
	}

	device, asset, err := f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{Strict: true})
	if err != nil {
		t.Fatalf("LinkAsset failed: %v", err)
	}
	if device.AssetID != a.ID {
		t.Fatalf("device not linked: %+v", device)
	}
	if len(asset.Measures) != 1 || asset.Measures[0].AssetMeasureName != "temperature" || asset.Measures[0].MeasuredAt != 1000 {
		t.Fatalf("asset measures not copied: %+v", asset.Measures)
	}
	link, ok := asset.LinkFor(d.ID)
	if !ok {
		t.Fatal("asset has no device link")
	}
	// declared battery plus cached temperature
	if len(link.MeasureNameLinks) != 2 {
		t.Fatalf("expected 2 measure name links, got %+v", link.MeasureNameLinks)
	}

	stored, err := f.assets.Get(ctx, "tenantA", a.ID)
	if err != nil {
		t.Fatalf("Get asset failed: %v", err)
	}
	if v, _ := stored.Measures[0].Values.Float("temperature"); v != 20 {
		t.Fatalf("expected stored temperature 20, got %v", stored.Measures[0].Values)
	}
	tenant, err := f.devices.GetTenant(ctx, "tenantA", d.ID)
	if err != nil || tenant.AssetID != a.ID {
		t.Fatalf("tenant copy not linked: %v %+v", err, tenant)
	}
}

func TestAttachIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")

	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("non-strict re-attach should succeed, got %v", err)
	}
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("strict re-attach should conflict, got %v", err)
	}
	kept, err := f.svc.AttachEngine(ctx, d.ID, "tenantB", Options{})
	if err != nil || kept.EngineID != "tenantA" {
		t.Fatalf("non-strict attach to another engine should keep tenantA: %v %+v", err, kept)
	}
	if _, err := f.devices.GetTenant(ctx, "tenantB", d.ID); !errors.IsNotFound(err) {
		t.Fatalf("no tenant copy expected in tenantB, got %v", err)
	}
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantB", Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("strict attach to another engine should conflict, got %v", err)
	}
	if _, err := f.svc.AttachEngine(ctx, "DummyTemp-404", "tenantA", Options{}); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown device, got %v", err)
	}
	other := f.device(t, "002")
	if _, err := f.svc.AttachEngine(ctx, other.ID, "nowhere", Options{}); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown engine, got %v", err)
	}
}

func TestDetach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")

	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}
	if _, _, err := f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{}); err != nil {
		t.Fatalf("LinkAsset failed: %v", err)
	}
	if _, err := f.svc.DetachEngine(ctx, d.ID, Options{}); !errors.IsConflict(err) {
		t.Fatalf("detaching a linked device should conflict, got %v", err)
	}
	if _, _, err := f.svc.UnlinkAsset(ctx, d.ID, Options{}); err != nil {
		t.Fatalf("UnlinkAsset failed: %v", err)
	}

	first, err := f.svc.DetachEngine(ctx, d.ID, Options{})
	if err != nil {
		t.Fatalf("DetachEngine failed: %v", err)
	}
	second, err := f.svc.DetachEngine(ctx, d.ID, Options{})
	if err != nil {
		t.Fatalf("second non-strict detach failed: %v", err)
	}
	if first.EngineID != "" || second.EngineID != "" || first.AssetID != second.AssetID {
		t.Fatalf("detach twice should leave the same state: %+v %+v", first, second)
	}
	if _, err := f.svc.DetachEngine(ctx, d.ID, Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("strict detach of a detached device should conflict, got %v", err)
	}
	if _, err := f.devices.GetTenant(ctx, "tenantA", d.ID); !errors.IsNotFound(err) {
		t.Fatalf("tenant copy should be gone, got %v", err)
	}
}

func TestLinkRequiresAttachment(t *testing.T) {
	f := newFixture(t)
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")

	if _, _, err := f.svc.LinkAsset(context.Background(), d.ID, a.ID, nil, Options{}); !errors.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestLinkUnlinkRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")
	a.Measures = append(a.Measures, models.Measurement{Type: "humidity", AssetMeasureName: "humidity", MeasuredAt: 5, Values: models.JSON{"humidity": 40.0}})
	if err := f.assets.Replace(ctx, "tenantA", a); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}

	_, linked, err := f.svc.LinkAsset(ctx, d.ID, a.ID, map[string]string{"temperature": "inner_temp"}, Options{})
	if err != nil {
		t.Fatalf("LinkAsset failed: %v", err)
	}
	if linked.MeasureIndex("inner_temp") < 0 || linked.MeasureIndex("temperature") >= 0 {
		t.Fatalf("renamed measure missing: %+v", linked.Measures)
	}

	_, _, err = f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{Strict: true})
	if !errors.IsConflict(err) {
		t.Fatalf("strict re-link should conflict, got %v", err)
	}

	device, unlinked, err := f.svc.UnlinkAsset(ctx, d.ID, Options{})
	if err != nil {
		t.Fatalf("UnlinkAsset failed: %v", err)
	}
	if device.AssetID != "" {
		t.Fatalf("device still linked to %q", device.AssetID)
	}
	if len(unlinked.DeviceLinks) != 0 || len(unlinked.Measures) != 1 || unlinked.Measures[0].AssetMeasureName != "humidity" {
		t.Fatalf("unlink did not restore the asset: %+v", unlinked)
	}
	if device.Measures["temperature"].MeasuredAt != 1000 {
		t.Fatalf("device cache should be untouched: %+v", device.Measures)
	}

	again, asset, err := f.svc.UnlinkAsset(ctx, d.ID, Options{})
	if err != nil || asset != nil || again.AssetID != "" {
		t.Fatalf("non-strict unlink of unlinked device: %v %+v", err, asset)
	}
	if _, _, err := f.svc.UnlinkAsset(ctx, d.ID, Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("strict unlink should conflict, got %v", err)
	}
}

func TestLinkCollisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.device(t, "001")
	second := f.device(t, "002")
	a := f.asset(t, "tenantA", "1")
	for _, d := range []*models.Device{first, second} {
		if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
			t.Fatalf("AttachEngine failed: %v", err)
		}
	}

	if _, _, err := f.svc.LinkAsset(ctx, first.ID, a.ID, nil, Options{}); err != nil {
		t.Fatalf("LinkAsset failed: %v", err)
	}
	if _, _, err := f.svc.LinkAsset(ctx, second.ID, a.ID, nil, Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("expected name collision, got %v", err)
	}
	rename := map[string]string{"temperature": "temp2", "battery": "battery2"}
	if _, _, err := f.svc.LinkAsset(ctx, second.ID, a.ID, rename, Options{}); err != nil {
		t.Fatalf("renamed link should succeed, got %v", err)
	}

	other := f.asset(t, "tenantA", "2")
	if _, _, err := f.svc.LinkAsset(ctx, first.ID, other.ID, nil, Options{Strict: true}); !errors.IsConflict(err) {
		t.Fatalf("linking to a second asset should conflict, got %v", err)
	}
}

func TestNonStrictLinkConflictsAreNoOps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.device(t, "001")
	second := f.device(t, "002")
	a := f.asset(t, "tenantA", "1")
	other := f.asset(t, "tenantA", "2")
	for _, d := range []*models.Device{first, second} {
		if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
			t.Fatalf("AttachEngine failed: %v", err)
		}
	}
	if _, _, err := f.svc.LinkAsset(ctx, first.ID, a.ID, nil, Options{}); err != nil {
		t.Fatalf("LinkAsset failed: %v", err)
	}

	t.Run("name collision", func(t *testing.T) {
		device, asset, err := f.svc.LinkAsset(ctx, second.ID, a.ID, nil, Options{})
		if err != nil {
			t.Fatalf("non-strict collision should not fail: %v", err)
		}
		if device.AssetID != "" {
			t.Fatalf("device should stay unlinked, got %q", device.AssetID)
		}
		if _, ok := asset.LinkFor(second.ID); ok || len(asset.DeviceLinks) != 1 {
			t.Fatalf("asset should be unchanged: %+v", asset.DeviceLinks)
		}
		stored, _ := f.devices.Get(ctx, second.ID)
		if stored.IsLinked() {
			t.Fatalf("stored device got linked to %q", stored.AssetID)
		}
	})

	t.Run("linked to another asset", func(t *testing.T) {
		device, asset, err := f.svc.LinkAsset(ctx, first.ID, other.ID, nil, Options{})
		if err != nil {
			t.Fatalf("non-strict link to a second asset should not fail: %v", err)
		}
		if device.AssetID != a.ID || asset.ID != a.ID {
			t.Fatalf("expected the current link to %q, got %q %q", a.ID, device.AssetID, asset.ID)
		}
		stored, _ := f.assets.Get(ctx, "tenantA", other.ID)
		if len(stored.DeviceLinks) != 0 || len(stored.Measures) != 0 {
			t.Fatalf("second asset should be untouched: %+v", stored)
		}
	})
}

func TestLinkNameMapErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}

	cases := []struct {
		name  string
		names map[string]string
		check func(error) bool
	}{
		{"unknown measure", map[string]string{"co2": "x"}, errors.IsPrecondition},
		{"empty target", map[string]string{"temperature": ""}, errors.IsPrecondition},
		{"duplicate target", map[string]string{"temperature": "battery"}, errors.IsConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := f.svc.LinkAsset(ctx, d.ID, a.ID, tc.names, Options{}); !tc.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
	if _, _, err := f.svc.LinkAsset(ctx, d.ID, "Container-Reefer-404", nil, Options{}); !errors.IsNotFound(err) {
		t.Fatalf("expected not found for unknown asset, got %v", err)
	}
}

func TestBeforeLinkPipeVetoes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}
	f.bus.OnPipe(bus.PipeBeforeLink, func(ctx context.Context, payload any) error {
		return errors.NewPreconditionError("asset is locked for maintenance", nil)
	})

	if _, _, err := f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{}); !errors.IsPrecondition(err) {
		t.Fatalf("expected veto, got %v", err)
	}
	stored, _ := f.assets.Get(ctx, "tenantA", a.ID)
	if len(stored.DeviceLinks) != 0 || len(stored.Measures) != 0 {
		t.Fatalf("vetoed link changed the asset: %+v", stored)
	}
}

func TestConcurrentLinksHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	assets := []*models.Asset{f.asset(t, "tenantA", "1"), f.asset(t, "tenantA", "2")}
	if _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); err != nil {
		t.Fatalf("AttachEngine failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(assets))
	for i, a := range assets {
		wg.Add(1)
		go func(i int, assetID string) {
			defer wg.Done()
			_, _, errs[i] = f.svc.LinkAsset(ctx, d.ID, assetID, nil, Options{Strict: true})
		}(i, a.ID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.IsConflict(err):
			t.Fatalf("loser should get a conflict, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	device, _ := f.devices.Get(ctx, d.ID)
	linkedAssets := 0
	for _, a := range assets {
		stored, _ := f.assets.Get(ctx, "tenantA", a.ID)
		if _, ok := stored.LinkFor(d.ID); ok {
			linkedAssets++
			if device.AssetID != a.ID {
				t.Fatalf("device points at %q but %q holds the link", device.AssetID, a.ID)
			}
		}
	}
	if linkedAssets != 1 {
		t.Fatalf("expected one asset holding the link, got %d", linkedAssets)
	}
}

func TestLinkedDevicesAreAlwaysAttached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.device(t, "001")
	a := f.asset(t, "tenantA", "1")

	steps := []func() error{
		func() error { _, err := f.svc.AttachEngine(ctx, d.ID, "tenantA", Options{}); return err },
		func() error { _, _, err := f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{}); return err },
		func() error { _, err := f.svc.DetachEngine(ctx, d.ID, Options{}); return err },
		func() error { _, _, err := f.svc.UnlinkAsset(ctx, d.ID, Options{}); return err },
		func() error { _, err := f.svc.DetachEngine(ctx, d.ID, Options{}); return err },
		func() error { _, _, err := f.svc.LinkAsset(ctx, d.ID, a.ID, nil, Options{}); return err },
	}
	for i, step := range steps {
		_ = step()
		device, err := f.devices.Get(ctx, d.ID)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if device.IsLinked() && !device.IsAttached() {
			t.Fatalf("step %d: device linked to %q without engine", i, device.AssetID)
		}
	}
}
