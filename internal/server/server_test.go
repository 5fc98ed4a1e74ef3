package server

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/config"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/database"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store/postgres"
	"github.com/jmoiron/sqlx"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Monitoring: config.MonitoringConfig{
			MetricsPath: "/metrics",
		},
		Store:        config.StoreConfig{Driver: config.StoreDriverMemory, AdminIndex: "device-manager"},
		Batch:        config.BatchConfig{Interval: time.Millisecond, MaxDocuments: 100, FlushTimeout: time.Second},
		Provisioning: config.ProvisioningConfig{Policy: config.ProvisioningAuto},
		Decoders:     config.DecodersConfig{Enabled: []string{"DummyTemp"}},
		Reconcile:    config.ReconcileConfig{Interval: 10 * time.Millisecond, MaxAttempts: 3},
	}
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInitializeWithMemoryStore(t *testing.T) {
	s := New(memoryConfig())
	if err := s.initialize(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	h := s.srv.Handler

	if rec := serve(t, h, http.MethodPost, "/api/v1/engines/tenantA", ""); rec.Code != http.StatusCreated {
		t.Fatalf("create engine: %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, h, http.MethodPost, "/api/v1/payloads/dummy-temp", `{"deviceEUI":"42","register55":21.5}`); rec.Code != http.StatusOK {
		t.Fatalf("ingest: %d %s", rec.Code, rec.Body.String())
	}
	if rec := serve(t, h, http.MethodPost, "/api/v1/payloads/dummy-temp-position", `{"deviceEUI":"42"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled decoder should not be routed, got %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/v1/devices/DummyTemp-42", ""); rec.Code != http.StatusOK {
		t.Fatalf("provisioned device missing: %d %s", rec.Code, rec.Body.String())
	}

	rec := serve(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `devicehub_batch_pending_documents`) {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestInitializeRejectsUnknownDecoder(t *testing.T) {
	cfg := memoryConfig()
	cfg.Decoders.Enabled = []string{"Toaster"}
	s := New(cfg)
	if err := s.initialize(context.Background()); err == nil {
		t.Fatal("expected an error for an unknown decoder")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestHealthAndReleaseUseTheDocumentStore(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_documents_body").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_documents_seq").WillReturnResult(sqlmock.NewResult(0, 0))
	docs, err := postgres.NewDocumentStore(database.Wrap(sqlx.NewDb(db, "postgres")))
	if err != nil {
		t.Fatalf("NewDocumentStore failed: %v", err)
	}

	s := New(memoryConfig())
	s.docs = docs
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	mock.ExpectClose()

	if err := s.checkBackend(context.Background()); err != nil {
		t.Fatalf("healthy database reported %v", err)
	}
	if err := s.checkBackend(context.Background()); err == nil {
		t.Fatal("a failing ping must fail the health check")
	}
	s.release()
	if s.docs != nil {
		t.Fatal("release must forget the closed store")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
