package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/config"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/decoder/samples"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/engine"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/hubservice"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/measures"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/monitoring"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository/documents"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/memory"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	return newTestRouterWith(t, Options{})
}

func newTestRouterWith(t *testing.T, opts Options) *Router {
	t.Helper()
	const admin = "device-manager"
	s := memory.New()
	b := bus.New()
	types := measures.NewRegistry()
	decoders := decoder.NewRegistry(types)
	for _, d := range []decoder.Decoder{samples.DummyTemp{}, samples.DummyTempPosition{}} {
		if _, err := decoders.Register(d); err != nil {
			t.Fatalf("register decoder: %v", err)
		}
	}
	if err := types.Serve(b); err != nil {
		t.Fatalf("serve types: %v", err)
	}
	if err := decoders.Serve(b); err != nil {
		t.Fatalf("serve decoders: %v", err)
	}
	hub := hubservice.New(hubservice.Deps{
		Devices:      documents.NewDeviceRepository(s, admin),
		Assets:       documents.NewAssetRepository(s, admin),
		Payloads:     documents.NewPayloadRepository(s, admin),
		History:      documents.NewMeasureRepository(s, admin),
		Engines:      engine.NewRegistry(s, admin, nil),
		Decoders:     decoders,
		MeasureTypes: types,
		Bus:          b,
		Provisioning: config.ProvisioningAuto,
	})
	metrics := monitoring.NewService(nil)
	metrics.Subscribe(b)
	opts.Metrics = metrics.Handler()
	return NewRouter(hub, opts)
}

type call struct {
	method string
	path   string
	body   interface{}
	status int
}

func (c call) do(t *testing.T, r *Router, out interface{}) {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&body).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != c.status {
		t.Fatalf("%s %s: expected %d, got %d: %s", c.method, c.path, c.status, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode response: %v", c.method, c.path, err)
		}
	}
}

func TestDeviceLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	payload := map[string]interface{}{"deviceEUI": "001", "register55": 20.0, "measuredAt": 1000}

	call{http.MethodGet, "/api/v1/health", nil, http.StatusOK}.do(t, r, nil)
	call{http.MethodPost, "/api/v1/engines/tenantA", map[string]string{"name": "Tenant A"}, http.StatusCreated}.do(t, r, nil)
	call{http.MethodPost, "/api/v1/engines/tenantA", nil, http.StatusConflict}.do(t, r, nil)

	var asset models.Asset
	call{http.MethodPost, "/api/v1/engines/tenantA/assets",
		map[string]string{"type": "Container", "model": "Reefer", "reference": "1"}, http.StatusCreated}.do(t, r, &asset)
	if asset.ID != "Container-Reefer-1" {
		t.Fatalf("unexpected asset id %q", asset.ID)
	}

	var res struct {
		Valid    bool     `json:"valid"`
		UUID     string   `json:"uuid"`
		Devices  []string `json:"devices"`
		Measures int      `json:"measures"`
	}
	call{http.MethodPost, "/api/v1/payloads/dummy-temp?uuid=u-1", payload, http.StatusOK}.do(t, r, &res)
	if !res.Valid || res.UUID != "u-1" || len(res.Devices) != 1 || res.Devices[0] != "DummyTemp-001" {
		t.Fatalf("unexpected ingestion result: %+v", res)
	}

	var device models.Device
	call{http.MethodPut, "/api/v1/devices/DummyTemp-001/engine/tenantA", nil, http.StatusOK}.do(t, r, &device)
	if device.EngineID != "tenantA" {
		t.Fatalf("device not attached: %+v", device)
	}
	call{http.MethodPut, "/api/v1/devices/DummyTemp-001/engine/tenantA?strict=true", nil, http.StatusConflict}.do(t, r, nil)

	call{http.MethodPost, "/api/v1/payloads/dummy-temp", payload, http.StatusOK}.do(t, r, &res)
	if res.Measures != 1 {
		t.Fatalf("expected one registered measure, got %+v", res)
	}

	var linked struct {
		Device models.Device `json:"device"`
		Asset  models.Asset  `json:"asset"`
	}
	call{http.MethodPut, "/api/v1/devices/DummyTemp-001/asset/Container-Reefer-1", nil, http.StatusOK}.do(t, r, &linked)
	if linked.Device.AssetID != asset.ID || len(linked.Asset.Measures) != 1 || linked.Asset.Measures[0].MeasuredAt != 1000 {
		t.Fatalf("unexpected link result: %+v", linked)
	}
	call{http.MethodPut, "/api/v1/devices/DummyTemp-001/asset/Container-Reefer-1?strict=true", nil, http.StatusConflict}.do(t, r, nil)
	call{http.MethodDelete, "/api/v1/devices/DummyTemp-001/engine", nil, http.StatusConflict}.do(t, r, nil)

	later := map[string]interface{}{"deviceEUI": "001", "register55": 22.0, "measuredAt": 2000}
	call{http.MethodPost, "/api/v1/payloads/dummy-temp", later, http.StatusOK}.do(t, r, &res)
	var history []models.Measurement
	call{http.MethodGet, "/api/v1/engines/tenantA/assets/Container-Reefer-1/measures", nil, http.StatusOK}.do(t, r, &history)
	if len(history) != 1 || history[0].MeasuredAt != 2000 {
		t.Fatalf("asset history should hold the linked measurement only: %+v", history)
	}
	call{http.MethodGet, "/api/v1/engines/tenantA/devices/DummyTemp-001/measures?size=10", nil, http.StatusOK}.do(t, r, &history)
	if len(history) != 2 || history[0].MeasuredAt != 1000 {
		t.Fatalf("unexpected device history: %+v", history)
	}
	call{http.MethodGet, "/api/v1/engines/tenantA/devices/DummyTemp-404/measures", nil, http.StatusNotFound}.do(t, r, nil)

	var devices []models.Device
	call{http.MethodGet, "/api/v1/engines/tenantA/assets/Container-Reefer-1/devices", nil, http.StatusOK}.do(t, r, &devices)
	if len(devices) != 1 {
		t.Fatalf("expected one linked device, got %d", len(devices))
	}

	invalid := []map[string]interface{}{{"type": "gravity", "asset_measure_name": "ambient", "measured_at": 1000, "values": map[string]float64{"g": 3}}}
	call{http.MethodPost, "/api/v1/engines/tenantA/assets/Container-Reefer-1/measures?strict=true", invalid, http.StatusPreconditionFailed}.do(t, r, nil)

	call{http.MethodDelete, "/api/v1/engines/tenantA/assets/Container-Reefer-1", nil, http.StatusNoContent}.do(t, r, nil)
	call{http.MethodGet, "/api/v1/engines/tenantA/assets/Container-Reefer-1", nil, http.StatusNotFound}.do(t, r, nil)
	call{http.MethodGet, "/api/v1/devices/DummyTemp-001", nil, http.StatusOK}.do(t, r, &device)
	if device.IsLinked() || !device.IsAttached() {
		t.Fatalf("device should be attached and unlinked: %+v", device)
	}
	call{http.MethodDelete, "/api/v1/engines/tenantA", nil, http.StatusConflict}.do(t, r, nil)
	call{http.MethodDelete, "/api/v1/devices/DummyTemp-001/engine", nil, http.StatusOK}.do(t, r, nil)

	var engines []models.Engine
	call{http.MethodGet, "/api/v1/engines", nil, http.StatusOK}.do(t, r, &engines)
	if len(engines) != 1 || engines[0].ID != "tenantA" {
		t.Fatalf("unexpected engines: %+v", engines)
	}
	call{http.MethodDelete, "/api/v1/engines/tenantA", nil, http.StatusNoContent}.do(t, r, nil)
	call{http.MethodGet, "/api/v1/engines/tenantA", nil, http.StatusNotFound}.do(t, r, nil)
	call{http.MethodGet, "/api/v1/engines", nil, http.StatusOK}.do(t, r, &engines)
	if len(engines) != 0 {
		t.Fatalf("engine still listed: %+v", engines)
	}
	call{http.MethodPost, "/api/v1/engines/tenantA", nil, http.StatusCreated}.do(t, r, nil)
	call{http.MethodGet, "/api/v1/engines/tenantA/devices/DummyTemp-001/measures", nil, http.StatusOK}.do(t, r, &history)
	if len(history) != 0 {
		t.Fatalf("re-created engine inherited history: %+v", history)
	}
}

func TestPayloadErrorsOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	call{http.MethodPost, "/api/v1/payloads/unknown", map[string]string{}, http.StatusNotFound}.do(t, r, nil)
	call{http.MethodPost, "/api/v1/payloads/dummy-temp", map[string]float64{"register55": 1}, http.StatusPreconditionFailed}.do(t, r, nil)

	var res struct {
		Valid bool `json:"valid"`
	}
	call{http.MethodPost, "/api/v1/payloads/dummy-temp", map[string]interface{}{"deviceEUI": "001", "invalid": true}, http.StatusOK}.do(t, r, &res)
	if res.Valid {
		t.Fatal("flagged payload should be skipped")
	}

	var regs []decoder.Registration
	call{http.MethodGet, "/api/v1/decoders", nil, http.StatusOK}.do(t, r, &regs)
	if len(regs) != 2 || regs[0].Action != "dummy-temp" {
		t.Fatalf("unexpected registrations: %+v", regs)
	}
	call{http.MethodGet, "/api/v1/metrics", nil, http.StatusOK}.do(t, r, nil)
}

func TestHealthReportsFailingBackend(t *testing.T) {
	r := newTestRouterWith(t, Options{
		MetricsPath: "/metrics",
		HealthCheck: func(ctx context.Context) error { return stderrors.New("connection refused") },
	})

	var apiErr struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}
	call{http.MethodGet, "/api/v1/health", nil, http.StatusServiceUnavailable}.do(t, r, &apiErr)
	if apiErr.RequestID == "" {
		t.Fatalf("error response lacks a request id: %+v", apiErr)
	}
	call{http.MethodGet, "/metrics", nil, http.StatusOK}.do(t, r, nil)
}
