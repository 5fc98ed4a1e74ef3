// FilePath: server/devicehub/internal/store/postgres/postgres.documents.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/database"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	"github.com/jmoiron/sqlx/types"
	nuts "github.com/vaudience/go-nuts"
)

// DocumentStore keeps every index and collection in one JSONB table
type DocumentStore struct {
	PostgresBaseRepo
}

type documentRow struct {
	ID   string         `db:"id"`
	Body types.JSONText `db:"body"`
}

var _ store.Store = (*DocumentStore)(nil)

func NewDocumentStore(db database.DB) (*DocumentStore, error) {
	s := &DocumentStore{PostgresBaseRepo: PostgresBaseRepo{db: db}}
	if err := s.initializeSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DocumentStore) initializeSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			index_name TEXT NOT NULL,
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			body JSONB NOT NULL,
			seq BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (index_name, collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_body
			ON documents USING GIN (body jsonb_path_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_seq
			ON documents (index_name, collection, seq)`,
	}
	for _, query := range queries {
		if _, err := s.db.GetDB().Exec(query); err != nil {
			return errors.NewDatabaseError("failed to initialize schema", err)
		}
	}
	nuts.L.Infof("[DocumentStore] Schema ready")
	return nil
}

func (s *DocumentStore) Create(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	query := `
		INSERT INTO documents (index_name, collection, id, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING`

	result, err := s.ExecContext(ctx, query, index, collection, id, types.JSONText(body))
	if err != nil {
		return store.Document{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return store.Document{}, errors.NewDatabaseError("failed to get rows affected", err)
	}
	if rows == 0 {
		return store.Document{}, store.Duplicate(index, collection, id)
	}
	return store.Document{ID: id, Body: body}, nil
}

func (s *DocumentStore) CreateOrReplace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	query := `
		INSERT INTO documents (index_name, collection, id, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (index_name, collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`

	if _, err := s.ExecContext(ctx, query, index, collection, id, types.JSONText(body)); err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Body: body}, nil
}

func (s *DocumentStore) Replace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	query := `
		UPDATE documents SET body = $4, updated_at = NOW()
		WHERE index_name = $1 AND collection = $2 AND id = $3`

	result, err := s.ExecContext(ctx, query, index, collection, id, types.JSONText(body))
	if err != nil {
		return store.Document{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return store.Document{}, errors.NewDatabaseError("failed to get rows affected", err)
	}
	if rows == 0 {
		return store.Document{}, store.NotFound(index, collection, id)
	}
	return store.Document{ID: id, Body: body}, nil
}

func (s *DocumentStore) Update(ctx context.Context, index, collection, id string, patch json.RawMessage) (store.Document, error) {
	res, err := s.MUpdate(ctx, index, collection, []store.Document{{ID: id, Body: patch}})
	if err != nil {
		return store.Document{}, err
	}
	if len(res.Errors) > 0 {
		e := res.Errors[0]
		if e.Type == errors.ErrorTypeNotFound {
			return store.Document{}, store.NotFound(index, collection, id)
		}
		return store.Document{}, errors.NewValidationError(e.Reason, nil)
	}
	return res.Successes[0].Document, nil
}

func (s *DocumentStore) Get(ctx context.Context, index, collection, id string) (store.Document, error) {
	row := documentRow{}
	query := `
		SELECT id, body FROM documents
		WHERE index_name = $1 AND collection = $2 AND id = $3`

	err := s.db.GetDB().GetContext(ctx, &row, query, index, collection, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return store.Document{}, store.NotFound(index, collection, id)
		}
		return store.Document{}, errors.NewDatabaseError("failed to get document", err)
	}
	return store.Document{ID: row.ID, Body: json.RawMessage(row.Body)}, nil
}

func (s *DocumentStore) Exists(ctx context.Context, index, collection, id string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM documents
			WHERE index_name = $1 AND collection = $2 AND id = $3
		)`

	if err := s.db.GetDB().GetContext(ctx, &exists, query, index, collection, id); err != nil {
		return false, errors.NewDatabaseError("failed to check document existence", err)
	}
	return exists, nil
}

func (s *DocumentStore) Delete(ctx context.Context, index, collection, id string) error {
	query := `DELETE FROM documents WHERE index_name = $1 AND collection = $2 AND id = $3`

	result, err := s.ExecContext(ctx, query, index, collection, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return errors.NewDatabaseError("failed to get rows affected", err)
	}
	if rows == 0 {
		return store.NotFound(index, collection, id)
	}
	return nil
}

func (s *DocumentStore) Search(ctx context.Context, index, collection string, q store.Query) ([]store.Document, error) {
	filter, err := json.Marshal(store.NestedEquals(q.Equals))
	if err != nil {
		return nil, errors.NewValidationError("invalid search query", err)
	}
	limit := sql.NullInt64{Int64: int64(q.Size), Valid: q.Size > 0}
	query := `
		SELECT id, body FROM documents
		WHERE index_name = $1 AND collection = $2 AND body @> $3::jsonb
		ORDER BY seq
		LIMIT $4 OFFSET $5`

	rows := []documentRow{}
	err = s.db.GetDB().SelectContext(ctx, &rows, query, index, collection, string(filter), limit, q.From)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to search documents", err)
	}
	docs := make([]store.Document, len(rows))
	for i, row := range rows {
		docs[i] = store.Document{ID: row.ID, Body: json.RawMessage(row.Body)}
	}
	return docs, nil
}

// Refresh is a no-op: committed rows are visible to every later query
func (s *DocumentStore) Refresh(ctx context.Context, index, collection string) error {
	return nil
}

// DropIndex removes every document of an index
func (s *DocumentStore) DropIndex(ctx context.Context, index string) (int64, error) {
	result, err := s.ExecContext(ctx, `DELETE FROM documents WHERE index_name = $1`, index)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewDatabaseError("failed to get rows affected", err)
	}
	nuts.L.Infof("[DocumentStore] Deleted %d documents of index %s", rows, index)
	return rows, nil
}
