package store

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	nuts "github.com/vaudience/go-nuts"
)

// NewID generates an identifier for documents created without one
func NewID() string {
	return nuts.NID("doc", 16)
}

// MergePatch deep-merges patch into body. Objects merge key by key, every
// other value (arrays included) replaces the target.
func MergePatch(body, patch json.RawMessage) (json.RawMessage, error) {
	var target map[string]any
	if err := decodeObject(body, &target); err != nil {
		return nil, errors.NewInternalError("stored document is not an object", err)
	}
	var changes map[string]any
	if err := decodeObject(patch, &changes); err != nil {
		return nil, errors.NewValidationError("update patch is not an object", err)
	}
	merged := mergeObjects(target, changes)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode merged document", err)
	}
	return out, nil
}

func mergeObjects(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			dst[k] = mergeObjects(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
	return dst
}

func decodeObject(raw json.RawMessage, v *map[string]any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		*v = map[string]any{}
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

// Matches reports whether body satisfies every equality of q
func Matches(body json.RawMessage, q Query) bool {
	if len(q.Equals) == 0 {
		return true
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return false
	}
	for path, want := range q.Equals {
		got, ok := lookup(doc, path)
		if !ok || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

// NestedEquals turns dotted-path equalities into a nested object, the shape
// JSON containment queries expect
func NestedEquals(equals map[string]any) map[string]any {
	out := map[string]any{}
	for path, v := range equals {
		parts := strings.Split(path, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}

func lookup(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, p := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equalJSON compares a decoded JSON value with a Go value by normalising
// both through encoding/json
func equalJSON(got, want any) bool {
	wb, err := json.Marshal(want)
	if err != nil {
		return false
	}
	var normalized any
	if err := json.Unmarshal(wb, &normalized); err != nil {
		return false
	}
	return reflect.DeepEqual(got, normalized)
}

// Page applies From/Size to a result slice
func Page(docs []Document, q Query) []Document {
	if q.From > 0 {
		if q.From >= len(docs) {
			return []Document{}
		}
		docs = docs[q.From:]
	}
	if q.Size > 0 && q.Size < len(docs) {
		docs = docs[:q.Size]
	}
	return docs
}
