package postgres

import (
	"context"
	"encoding/json"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	"github.com/lib/pq"
)

// Multi-document operations run as one statement per call. Per-document
// outcomes are derived from the ids the statement returns.

func withIDs(docs []store.Document) []store.Document {
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = store.NewID()
		}
		out[i] = d
	}
	return out
}

// lastByID keeps the last occurrence of every id, in first-seen order
func lastByID(docs []store.Document) (ids, bodies []string) {
	pos := map[string]int{}
	for _, d := range docs {
		if i, ok := pos[d.ID]; ok {
			bodies[i] = string(d.Body)
			continue
		}
		pos[d.ID] = len(ids)
		ids = append(ids, d.ID)
		bodies = append(bodies, string(d.Body))
	}
	return ids, bodies
}

func newResult() store.BulkResult {
	return store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}
}

func (s *DocumentStore) returnedIDs(ctx context.Context, query string, args ...interface{}) (map[string]bool, error) {
	ids := []string{}
	if err := s.db.GetDB().SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, errors.NewDatabaseError("failed to execute bulk statement", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

func (s *DocumentStore) MCreate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	docs = withIDs(docs)
	ids := make([]string, len(docs))
	bodies := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
		bodies[i] = string(d.Body)
	}
	query := `
		INSERT INTO documents (index_name, collection, id, body)
		SELECT $1, $2, t.id, t.body::jsonb
		FROM unnest($3::text[], $4::text[]) WITH ORDINALITY AS t(id, body, ord)
		ORDER BY t.ord
		ON CONFLICT DO NOTHING
		RETURNING id`

	created, err := s.returnedIDs(ctx, query, index, collection, pq.Array(ids), pq.Array(bodies))
	if err != nil {
		return store.BulkResult{}, err
	}

	res := newResult()
	for i, d := range docs {
		if created[d.ID] {
			// later duplicates of the same id conflict with the first one
			delete(created, d.ID)
			res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: d})
			continue
		}
		res.Errors = append(res.Errors, store.BulkErrorFrom(i, d.ID, d.Body, store.Duplicate(index, collection, d.ID)))
	}
	return res, nil
}

func (s *DocumentStore) MCreateOrReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	docs = withIDs(docs)
	ids, bodies := lastByID(docs)
	query := `
		INSERT INTO documents (index_name, collection, id, body)
		SELECT $1, $2, t.id, t.body::jsonb
		FROM unnest($3::text[], $4::text[]) AS t(id, body)
		ON CONFLICT (index_name, collection, id)
		DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`

	if _, err := s.ExecContext(ctx, query, index, collection, pq.Array(ids), pq.Array(bodies)); err != nil {
		return store.BulkResult{}, err
	}
	res := newResult()
	for i, d := range docs {
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: d})
	}
	return res, nil
}

func (s *DocumentStore) MReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	ids, bodies := lastByID(docs)
	query := `
		UPDATE documents d
		SET body = t.body::jsonb, updated_at = NOW()
		FROM unnest($3::text[], $4::text[]) AS t(id, body)
		WHERE d.index_name = $1 AND d.collection = $2 AND d.id = t.id
		RETURNING d.id`

	replaced, err := s.returnedIDs(ctx, query, index, collection, pq.Array(ids), pq.Array(bodies))
	if err != nil {
		return store.BulkResult{}, err
	}
	res := newResult()
	for i, d := range docs {
		if replaced[d.ID] {
			res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: d})
			continue
		}
		res.Errors = append(res.Errors, store.BulkErrorFrom(i, d.ID, d.Body, store.NotFound(index, collection, d.ID)))
	}
	return res, nil
}

func (s *DocumentStore) MUpdate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return store.BulkResult{}, err
	}
	defer s.Rollback(tx)

	ids, _ := lastByID(docs)
	rows := []documentRow{}
	query := `
		SELECT id, body FROM documents
		WHERE index_name = $1 AND collection = $2 AND id = ANY($3)
		FOR UPDATE`
	if err := tx.SelectContext(ctx, &rows, query, index, collection, pq.Array(ids)); err != nil {
		return store.BulkResult{}, errors.NewDatabaseError("failed to lock documents", err)
	}
	current := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		current[row.ID] = json.RawMessage(row.Body)
	}

	res := newResult()
	changed := map[string]bool{}
	for i, d := range docs {
		body, ok := current[d.ID]
		if !ok {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, d.ID, d.Body, store.NotFound(index, collection, d.ID)))
			continue
		}
		merged, err := store.MergePatch(body, d.Body)
		if err != nil {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, d.ID, d.Body, err))
			continue
		}
		current[d.ID] = merged
		changed[d.ID] = true
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: store.Document{ID: d.ID, Body: merged}})
	}

	if len(changed) > 0 {
		upIDs := make([]string, 0, len(changed))
		upBodies := make([]string, 0, len(changed))
		for id := range changed {
			upIDs = append(upIDs, id)
			upBodies = append(upBodies, string(current[id]))
		}
		update := `
			UPDATE documents d
			SET body = t.body::jsonb, updated_at = NOW()
			FROM unnest($3::text[], $4::text[]) AS t(id, body)
			WHERE d.index_name = $1 AND d.collection = $2 AND d.id = t.id`
		if _, err := tx.ExecContext(ctx, update, index, collection, pq.Array(upIDs), pq.Array(upBodies)); err != nil {
			return store.BulkResult{}, errors.NewDatabaseError("failed to update documents", err)
		}
	}
	if err := s.Commit(tx); err != nil {
		return store.BulkResult{}, err
	}
	return res, nil
}

func (s *DocumentStore) MGet(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	rows := []documentRow{}
	query := `
		SELECT id, body FROM documents
		WHERE index_name = $1 AND collection = $2 AND id = ANY($3)`
	if err := s.db.GetDB().SelectContext(ctx, &rows, query, index, collection, pq.Array(ids)); err != nil {
		return store.BulkResult{}, errors.NewDatabaseError("failed to get documents", err)
	}
	found := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		found[row.ID] = json.RawMessage(row.Body)
	}
	res := newResult()
	for i, id := range ids {
		body, ok := found[id]
		if !ok {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, id, nil, store.NotFound(index, collection, id)))
			continue
		}
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: store.Document{ID: id, Body: body}})
	}
	return res, nil
}

func (s *DocumentStore) MDelete(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	query := `
		DELETE FROM documents
		WHERE index_name = $1 AND collection = $2 AND id = ANY($3)
		RETURNING id`

	deleted, err := s.returnedIDs(ctx, query, index, collection, pq.Array(ids))
	if err != nil {
		return store.BulkResult{}, err
	}
	res := newResult()
	for i, id := range ids {
		if deleted[id] {
			delete(deleted, id)
			res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: store.Document{ID: id}})
			continue
		}
		res.Errors = append(res.Errors, store.BulkErrorFrom(i, id, nil, store.NotFound(index, collection, id)))
	}
	return res, nil
}
