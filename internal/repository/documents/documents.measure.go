package documents

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

type MeasureRepo struct {
	DocumentBaseRepo
}

var _ repository.MeasureRepository = (*MeasureRepo)(nil)

func NewMeasureRepository(s store.Store, adminIndex string) *MeasureRepo {
	return &MeasureRepo{DocumentBaseRepo: NewDocumentBaseRepo(s, adminIndex)}
}

// Append writes every measurement to the engine's history in one mCreate
func (r *MeasureRepo) Append(ctx context.Context, engineID string, measures []models.Measurement) (store.BulkResult, error) {
	if len(measures) == 0 {
		return store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}, nil
	}
	docs := make([]store.Document, len(measures))
	for i, m := range measures {
		body, err := store.Marshal(m)
		if err != nil {
			return store.BulkResult{}, err
		}
		docs[i] = store.Document{Body: body}
	}
	return r.store.MCreate(ctx, engineID, store.CollectionMeasures, docs)
}

func (r *MeasureRepo) ListByOrigin(ctx context.Context, engineID, originID string, from, size int) ([]models.Measurement, error) {
	return r.list(ctx, engineID, store.Query{
		Equals: map[string]any{"origin.id": originID},
		From:   from,
		Size:   size,
	})
}

func (r *MeasureRepo) ListByAsset(ctx context.Context, engineID, assetID string, from, size int) ([]models.Measurement, error) {
	return r.list(ctx, engineID, store.Query{
		Equals: map[string]any{"asset_id": assetID},
		From:   from,
		Size:   size,
	})
}

func (r *MeasureRepo) list(ctx context.Context, engineID string, q store.Query) ([]models.Measurement, error) {
	found, err := search[models.Measurement](ctx, r.store, engineID, store.CollectionMeasures, q)
	if err != nil {
		return nil, err
	}
	out := make([]models.Measurement, len(found))
	for i, m := range found {
		out[i] = *m
	}
	return out, nil
}
