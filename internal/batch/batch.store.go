package batch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

// execute joins the pending batch for op and waits for this caller's slot
func (b *Buffer) execute(ctx context.Context, op OpKind, index, collection string, doc store.Document) (store.Document, error) {
	idx, batch, err := b.Add(op, index, collection, doc)
	if err != nil {
		return store.Document{}, err
	}
	result, err := batch.Wait(ctx, idx)
	if err != nil {
		return store.Document{}, err
	}
	for _, item := range result.Successes {
		if item.Index == idx {
			return item.Document, nil
		}
	}
	for _, e := range result.Errors {
		if e.Index == idx {
			return store.Document{}, targeted(op, doc.ID, e)
		}
	}
	return store.Document{}, errors.NewInternalError(
		fmt.Sprintf("Cannot %s document %q: missing from bulk response", op, doc.ID), nil)
}

// targeted turns the caller's entry of a bulk response into its own error,
// keeping the error type reported by the store
func targeted(op OpKind, id string, e store.BulkError) error {
	verb := string(op)
	if op == OpExists {
		verb = string(OpGet)
	}
	return errors.New(e.Type, fmt.Sprintf("Cannot %s document %q: %s", verb, id, e.Reason), nil)
}

func (b *Buffer) Create(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	return b.execute(ctx, OpCreate, index, collection, store.Document{ID: id, Body: body})
}

func (b *Buffer) CreateOrReplace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	return b.execute(ctx, OpCreateOrReplace, index, collection, store.Document{ID: id, Body: body})
}

func (b *Buffer) Replace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	return b.execute(ctx, OpReplace, index, collection, store.Document{ID: id, Body: body})
}

func (b *Buffer) Update(ctx context.Context, index, collection, id string, patch json.RawMessage) (store.Document, error) {
	return b.execute(ctx, OpUpdate, index, collection, store.Document{ID: id, Body: patch})
}

func (b *Buffer) Get(ctx context.Context, index, collection, id string) (store.Document, error) {
	return b.execute(ctx, OpGet, index, collection, store.Document{ID: id})
}

// Exists is answered by a batched mGet
func (b *Buffer) Exists(ctx context.Context, index, collection, id string) (bool, error) {
	_, err := b.execute(ctx, OpExists, index, collection, store.Document{ID: id})
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *Buffer) Delete(ctx context.Context, index, collection, id string) error {
	_, err := b.execute(ctx, OpDelete, index, collection, store.Document{ID: id})
	return err
}

func (b *Buffer) MCreate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return b.store.MCreate(ctx, index, collection, docs)
}

func (b *Buffer) MCreateOrReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return b.store.MCreateOrReplace(ctx, index, collection, docs)
}

func (b *Buffer) MReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return b.store.MReplace(ctx, index, collection, docs)
}

func (b *Buffer) MUpdate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return b.store.MUpdate(ctx, index, collection, docs)
}

func (b *Buffer) MGet(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	return b.store.MGet(ctx, index, collection, ids)
}

func (b *Buffer) MDelete(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	return b.store.MDelete(ctx, index, collection, ids)
}

func (b *Buffer) Search(ctx context.Context, index, collection string, q store.Query) ([]store.Document, error) {
	return b.store.Search(ctx, index, collection, q)
}

func (b *Buffer) Refresh(ctx context.Context, index, collection string) error {
	return b.store.Refresh(ctx, index, collection)
}

// DropIndex sends the pending writes before dropping index
func (b *Buffer) DropIndex(ctx context.Context, index string) (int64, error) {
	b.Flush(ctx)
	return b.store.DropIndex(ctx, index)
}
