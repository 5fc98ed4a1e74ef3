package monitoring

import (
	stderrors "errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/bus"
)

func scrape(t *testing.T, s *Service) string {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestFlushAndQueueMetrics(t *testing.T) {
	s := NewService(func() int { return 7 })
	s.ObserveFlush("mCreate", 250, 3*time.Millisecond, nil)
	s.ObserveFlush("mUpdate", 2, time.Millisecond, stderrors.New("boom"))
	s.SetReconcileQueue(4)

	body := scrape(t, s)
	for _, want := range []string{
		`devicehub_batch_flushes_total{op="mCreate",result="ok"} 1`,
		`devicehub_batch_flushes_total{op="mUpdate",result="error"} 1`,
		`devicehub_batch_flush_documents_sum{op="mCreate"} 250`,
		`devicehub_reconcile_queue_length 4`,
		`devicehub_batch_pending_documents 7`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics lack %q", want)
		}
	}
}

func TestBusEventsAreCounted(t *testing.T) {
	s := NewService(nil)
	b := bus.New()
	s.Subscribe(b)

	b.Emit(bus.EventPayloadRecorded, "VALID")
	b.Emit(bus.EventMeasuresIngested, "device", 3)
	b.Emit(bus.EventDeviceLinked, "DummyTemp-001", "Container-Reefer-1")

	wants := []string{
		`devicehub_payloads_total{state="VALID"} 1`,
		`devicehub_measures_registered_total{origin="device"} 3`,
		`devicehub_link_operations_total{operation="device.linked"} 1`,
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		body := scrape(t, s)
		missing := ""
		for _, want := range wants {
			if !strings.Contains(body, want) {
				missing = want
				break
			}
		}
		if missing == "" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("metrics lack %q", missing)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
