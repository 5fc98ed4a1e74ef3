package documents

import (
	"context"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/models"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/repository"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

type PayloadRepo struct {
	DocumentBaseRepo
}

var _ repository.PayloadRepository = (*PayloadRepo)(nil)

func NewPayloadRepository(s store.Store, adminIndex string) *PayloadRepo {
	return &PayloadRepo{DocumentBaseRepo: NewDocumentBaseRepo(s, adminIndex)}
}

// Record appends the record under its uuid. A second attempt with the same
// uuid fails with a conflict.
func (r *PayloadRepo) Record(ctx context.Context, record *models.PayloadRecord) error {
	return r.create(ctx, r.adminIndex, store.CollectionPayloads, record.UUID, record)
}

func (r *PayloadRepo) Get(ctx context.Context, uuid string) (*models.PayloadRecord, error) {
	record := &models.PayloadRecord{}
	if err := r.getInto(ctx, r.adminIndex, store.CollectionPayloads, uuid, record); err != nil {
		return nil, err
	}
	return record, nil
}
