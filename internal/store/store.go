// Package store defines the document-store contract the hub writes through.
//
// A store is organised in indexes (the admin index and one index per engine)
// holding collections of JSON documents keyed by id. Single-document
// operations fail with typed errors; multi-document operations report
// per-document failures inside a successful BulkResult.
package store

import (
	"context"
	"encoding/json"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
)

// Collections used by the hub
const (
	CollectionDevices  = "devices"
	CollectionAssets   = "assets"
	CollectionMeasures = "measures"
	CollectionPayloads = "payloads"
	CollectionEngines  = "engines"
)

// Document is one stored JSON document
type Document struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// BulkItem is a successful entry of a multi-document operation.
// Index is the position of the entry in the request.
type BulkItem struct {
	Index    int      `json:"index"`
	Document Document `json:"document"`
}

// BulkError is a failed entry of a multi-document operation
type BulkError struct {
	Index  int              `json:"index"`
	ID     string           `json:"id"`
	Body   json.RawMessage  `json:"body,omitempty"`
	Type   errors.ErrorType `json:"type"`
	Reason string           `json:"reason"`
}

// BulkResult collects per-document outcomes of a multi-document operation
type BulkResult struct {
	Successes []BulkItem  `json:"successes"`
	Errors    []BulkError `json:"errors"`
}

// Query is the search DSL: dotted-path equality on document bodies.
// Results come back in insertion order.
type Query struct {
	Equals map[string]any
	From   int
	Size   int
}

// Store is the document store consumed by the hub
type Store interface {
	Create(ctx context.Context, index, collection, id string, body json.RawMessage) (Document, error)
	CreateOrReplace(ctx context.Context, index, collection, id string, body json.RawMessage) (Document, error)
	Replace(ctx context.Context, index, collection, id string, body json.RawMessage) (Document, error)
	Update(ctx context.Context, index, collection, id string, patch json.RawMessage) (Document, error)
	Get(ctx context.Context, index, collection, id string) (Document, error)
	Exists(ctx context.Context, index, collection, id string) (bool, error)
	Delete(ctx context.Context, index, collection, id string) error

	MCreate(ctx context.Context, index, collection string, docs []Document) (BulkResult, error)
	MCreateOrReplace(ctx context.Context, index, collection string, docs []Document) (BulkResult, error)
	MReplace(ctx context.Context, index, collection string, docs []Document) (BulkResult, error)
	MUpdate(ctx context.Context, index, collection string, docs []Document) (BulkResult, error)
	MGet(ctx context.Context, index, collection string, ids []string) (BulkResult, error)
	MDelete(ctx context.Context, index, collection string, ids []string) (BulkResult, error)

	Search(ctx context.Context, index, collection string, q Query) ([]Document, error)
	Refresh(ctx context.Context, index, collection string) error

	// DropIndex deletes every document of index and returns how many there were
	DropIndex(ctx context.Context, index string) (int64, error)
}

// NotFound builds the error returned for a missing document
func NotFound(index, collection, id string) error {
	return errors.NewNotFoundError("document "+index+"/"+collection+"/"+id+" not found", nil)
}

// Duplicate builds the error returned when creating an existing document
func Duplicate(index, collection, id string) error {
	return errors.NewConflictError("document "+index+"/"+collection+"/"+id+" already exists", nil)
}

// BulkErrorFrom converts a single-document error into a BulkError
func BulkErrorFrom(index int, id string, body json.RawMessage, err error) BulkError {
	return BulkError{
		Index:  index,
		ID:     id,
		Body:   body,
		Type:   errors.AsAPIError(err).Type,
		Reason: errors.AsAPIError(err).Message,
	}
}

// Marshal encodes v as a document body
func Marshal(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode document", err)
	}
	return b, nil
}

// Unmarshal decodes a document body into v
func Unmarshal(doc Document, v any) error {
	if err := json.Unmarshal(doc.Body, v); err != nil {
		return errors.NewInternalError("failed to decode document "+doc.ID, err)
	}
	return nil
}
