package store

import (
	"encoding/json"
	"testing"
)

func TestMergePatchIsDeep(t *testing.T) {
	body := json.RawMessage(`{"metadata":{"color":"red","size":3},"measures":{"temp":{"v":1}},"tags":["a","b"]}`)
	patch := json.RawMessage(`{"metadata":{"size":4},"measures":{"hum":{"v":2}},"tags":["c"]}`)

	merged, err := MergePatch(body, patch)
	if err != nil {
		t.Fatalf("MergePatch failed: %v", err)
	}
	var got struct {
		Metadata map[string]any            `json:"metadata"`
		Measures map[string]map[string]int `json:"measures"`
		Tags     []string                  `json:"tags"`
	}
	if err := json.Unmarshal(merged, &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got.Metadata["color"] != "red" || got.Metadata["size"] != float64(4) {
		t.Fatalf("unexpected metadata %v", got.Metadata)
	}
	if got.Measures["temp"]["v"] != 1 || got.Measures["hum"]["v"] != 2 {
		t.Fatalf("unexpected measures %v", got.Measures)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "c" {
		t.Fatalf("arrays must be replaced, got %v", got.Tags)
	}
}

func TestMergePatchKeepsLargeIntegers(t *testing.T) {
	merged, err := MergePatch(json.RawMessage(`{"at":1700000000123}`), json.RawMessage(`{"x":1}`))
	if err != nil {
		t.Fatalf("MergePatch failed: %v", err)
	}
	if string(merged) != `{"at":1700000000123,"x":1}` {
		t.Fatalf("unexpected body %s", merged)
	}
}

func TestMergePatchRejectsNonObjectPatch(t *testing.T) {
	if _, err := MergePatch(json.RawMessage(`{}`), json.RawMessage(`[1]`)); err == nil {
		t.Fatalf("expected an error for an array patch")
	}
}

func TestMatches(t *testing.T) {
	body := json.RawMessage(`{"model":"DummyTemp","link":{"assetId":"a-1"},"n":3}`)
	cases := []struct {
		name   string
		equals map[string]any
		want   bool
	}{
		{"empty query", nil, true},
		{"top level", map[string]any{"model": "DummyTemp"}, true},
		{"dotted path", map[string]any{"link.assetId": "a-1"}, true},
		{"number", map[string]any{"n": 3}, true},
		{"mismatch", map[string]any{"model": "Other"}, false},
		{"missing path", map[string]any{"link.engineId": "e"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(body, Query{Equals: tc.equals}); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNestedEquals(t *testing.T) {
	got, err := json.Marshal(NestedEquals(map[string]any{"a.b": 1, "a.c": "x", "d": true}))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(got) != `{"a":{"b":1,"c":"x"},"d":true}` {
		t.Fatalf("unexpected containment filter %s", got)
	}
}

func TestPage(t *testing.T) {
	docs := []Document{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	if got := Page(docs, Query{From: 1, Size: 1}); len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("unexpected page %v", got)
	}
	if got := Page(docs, Query{From: 5}); len(got) != 0 {
		t.Fatalf("expected empty page, got %v", got)
	}
}
