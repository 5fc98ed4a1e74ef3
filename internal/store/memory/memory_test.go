package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

func TestSingleDocumentLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc, err := s.Create(ctx, "idx", "devices", "", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected a generated id")
	}
	if _, err := s.Create(ctx, "idx", "devices", doc.ID, json.RawMessage(`{}`)); !errors.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
	if _, err := s.Update(ctx, "idx", "devices", doc.ID, json.RawMessage(`{"b":2}`)); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := s.Get(ctx, "idx", "devices", doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(got.Body) != `{"a":1,"b":2}` {
		t.Fatalf("unexpected body %s", got.Body)
	}
	if ok, _ := s.Exists(ctx, "other", "devices", doc.ID); ok {
		t.Fatalf("indexes must be isolated")
	}
	if err := s.Delete(ctx, "idx", "devices", doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "idx", "devices", doc.ID); !errors.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestBulkReportsPositionalErrors(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.Create(ctx, "idx", "c", "b", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	res, err := s.MCreate(ctx, "idx", "c", []store.Document{
		{ID: "a", Body: json.RawMessage(`{}`)},
		{ID: "b", Body: json.RawMessage(`{}`)},
		{ID: "c", Body: json.RawMessage(`{}`)},
	})
	if err != nil {
		t.Fatalf("mCreate failed: %v", err)
	}
	if len(res.Successes) != 2 || len(res.Errors) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if e := res.Errors[0]; e.Index != 1 || e.ID != "b" || e.Type != errors.ErrorTypeConflict {
		t.Fatalf("unexpected bulk error %+v", e)
	}

	got, _ := s.MGet(ctx, "idx", "c", []string{"missing", "a"})
	if len(got.Errors) != 1 || got.Errors[0].Index != 0 || got.Errors[0].Type != errors.ErrorTypeNotFound {
		t.Fatalf("unexpected mGet errors %+v", got.Errors)
	}
	if len(got.Successes) != 1 || got.Successes[0].Index != 1 {
		t.Fatalf("unexpected mGet successes %+v", got.Successes)
	}
}

func TestSearchKeepsInsertionOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, id := range []string{"z", "m", "a", "q"} {
		kind := "even"
		if id == "m" {
			kind = "odd"
		}
		if _, err := s.Create(ctx, "idx", "c", id, json.RawMessage(`{"meta":{"kind":"`+kind+`"}}`)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	// replacing must not move a document
	if _, err := s.CreateOrReplace(ctx, "idx", "c", "z", json.RawMessage(`{"meta":{"kind":"even"}}`)); err != nil {
		t.Fatalf("createOrReplace failed: %v", err)
	}

	docs, err := s.Search(ctx, "idx", "c", store.Query{Equals: map[string]any{"meta.kind": "even"}})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	want := []string{"z", "a", "q"}
	if len(docs) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(docs))
	}
	for i, d := range docs {
		if d.ID != want[i] {
			t.Fatalf("hit %d = %q, want %q", i, d.ID, want[i])
		}
	}

	page, _ := s.Search(ctx, "idx", "c", store.Query{From: 1, Size: 2})
	if len(page) != 2 || page[0].ID != "m" || page[1].ID != "a" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestDropIndexLeavesOtherIndexes(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, index := range []string{"tenantA", "tenantB"} {
		if _, err := s.Create(ctx, index, "assets", "a", json.RawMessage(`{}`)); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, err := s.Create(ctx, "tenantA", "measures", "", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	n, err := s.DropIndex(ctx, "tenantA")
	if err != nil || n != 2 {
		t.Fatalf("DropIndex returned %d %v", n, err)
	}
	if s.Count("tenantA", "assets") != 0 || s.Count("tenantB", "assets") != 1 {
		t.Fatal("DropIndex touched the wrong index")
	}
	if n, _ := s.DropIndex(ctx, "missing"); n != 0 {
		t.Fatalf("dropping an unknown index reported %d documents", n)
	}
}
