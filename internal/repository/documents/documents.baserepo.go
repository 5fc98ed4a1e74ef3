// Package documents implements the repositories on top of a store.Store
package documents

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

// DocumentBaseRepo holds what every repository needs: the store and the
// name of the admin index
type DocumentBaseRepo struct {
	store      store.Store
	adminIndex string
}

func NewDocumentBaseRepo(s store.Store, adminIndex string) DocumentBaseRepo {
	return DocumentBaseRepo{store: s, adminIndex: adminIndex}
}

func (r *DocumentBaseRepo) AdminIndex() string {
	return r.adminIndex
}

func (r *DocumentBaseRepo) getInto(ctx context.Context, index, collection, id string, v any) error {
	doc, err := r.store.Get(ctx, index, collection, id)
	if err != nil {
		return err
	}
	return store.Unmarshal(doc, v)
}

func (r *DocumentBaseRepo) create(ctx context.Context, index, collection, id string, v any) error {
	body, err := store.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.store.Create(ctx, index, collection, id, body)
	return err
}

func (r *DocumentBaseRepo) replace(ctx context.Context, index, collection, id string, v any) error {
	body, err := store.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.store.Replace(ctx, index, collection, id, body)
	return err
}

func (r *DocumentBaseRepo) createOrReplace(ctx context.Context, index, collection, id string, v any) error {
	body, err := store.Marshal(v)
	if err != nil {
		return err
	}
	_, err = r.store.CreateOrReplace(ctx, index, collection, id, body)
	return err
}

func (r *DocumentBaseRepo) update(ctx context.Context, index, collection, id string, patch any) error {
	body, err := store.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = r.store.Update(ctx, index, collection, id, body)
	return err
}

// search decodes every hit into a fresh T
func search[T any](ctx context.Context, s store.Store, index, collection string, q store.Query) ([]*T, error) {
	docs, err := s.Search(ctx, index, collection, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(docs))
	for _, doc := range docs {
		v := new(T)
		if err := store.Unmarshal(doc, v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
