// Package memory is an in-process implementation of store.Store, used for
// single-node deployments and by the test suites.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
)

type entry struct {
	body json.RawMessage
	seq  uint64
}

type collection map[string]*entry

// Store keeps documents in maps guarded by a single RWMutex
type Store struct {
	mu      sync.RWMutex
	seq     uint64
	indexes map[string]map[string]collection

	// OnBulk, when set, is called with the operation name and the number of
	// entries of every multi-document call
	OnBulk func(op, index, collection string, n int)
}

// New creates an empty store
func New() *Store {
	return &Store{indexes: map[string]map[string]collection{}}
}

var _ store.Store = (*Store)(nil)

func (s *Store) coll(index, name string, create bool) collection {
	idx, ok := s.indexes[index]
	if !ok {
		if !create {
			return nil
		}
		idx = map[string]collection{}
		s.indexes[index] = idx
	}
	c, ok := idx[name]
	if !ok && create {
		c = collection{}
		idx[name] = c
	}
	return c
}

func (s *Store) bulk(op, index, collection string, n int) {
	if s.OnBulk != nil {
		s.OnBulk(op, index, collection, n)
	}
}

func copyBody(b json.RawMessage) json.RawMessage {
	return append(json.RawMessage(nil), b...)
}

// locked single-document primitives

func (s *Store) create(index, name, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	c := s.coll(index, name, true)
	if _, exists := c[id]; exists {
		return store.Document{}, store.Duplicate(index, name, id)
	}
	s.seq++
	c[id] = &entry{body: copyBody(body), seq: s.seq}
	return store.Document{ID: id, Body: copyBody(body)}, nil
}

func (s *Store) createOrReplace(index, name, id string, body json.RawMessage) (store.Document, error) {
	if id == "" {
		id = store.NewID()
	}
	c := s.coll(index, name, true)
	if e, exists := c[id]; exists {
		e.body = copyBody(body)
	} else {
		s.seq++
		c[id] = &entry{body: copyBody(body), seq: s.seq}
	}
	return store.Document{ID: id, Body: copyBody(body)}, nil
}

func (s *Store) replace(index, name, id string, body json.RawMessage) (store.Document, error) {
	c := s.coll(index, name, false)
	e, ok := c[id]
	if !ok {
		return store.Document{}, store.NotFound(index, name, id)
	}
	e.body = copyBody(body)
	return store.Document{ID: id, Body: copyBody(body)}, nil
}

func (s *Store) update(index, name, id string, patch json.RawMessage) (store.Document, error) {
	c := s.coll(index, name, false)
	e, ok := c[id]
	if !ok {
		return store.Document{}, store.NotFound(index, name, id)
	}
	merged, err := store.MergePatch(e.body, patch)
	if err != nil {
		return store.Document{}, err
	}
	e.body = merged
	return store.Document{ID: id, Body: copyBody(merged)}, nil
}

func (s *Store) get(index, name, id string) (store.Document, error) {
	c := s.coll(index, name, false)
	e, ok := c[id]
	if !ok {
		return store.Document{}, store.NotFound(index, name, id)
	}
	return store.Document{ID: id, Body: copyBody(e.body)}, nil
}

func (s *Store) delete(index, name, id string) error {
	c := s.coll(index, name, false)
	if _, ok := c[id]; !ok {
		return store.NotFound(index, name, id)
	}
	delete(c, id)
	return nil
}

func (s *Store) Create(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(index, collection, id, body)
}

func (s *Store) CreateOrReplace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createOrReplace(index, collection, id, body)
}

func (s *Store) Replace(ctx context.Context, index, collection, id string, body json.RawMessage) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replace(index, collection, id, body)
}

func (s *Store) Update(ctx context.Context, index, collection, id string, patch json.RawMessage) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(index, collection, id, patch)
}

func (s *Store) Get(ctx context.Context, index, collection, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(index, collection, id)
}

func (s *Store) Exists(ctx context.Context, index, collection, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.coll(index, collection, false)[id]
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, index, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(index, collection, id)
}

type writeFn func(index, name, id string, body json.RawMessage) (store.Document, error)

func (s *Store) mWrite(op, index, collection string, docs []store.Document, fn writeFn) store.BulkResult {
	s.bulk(op, index, collection, len(docs))
	s.mu.Lock()
	defer s.mu.Unlock()
	res := store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}
	for i, d := range docs {
		doc, err := fn(index, collection, d.ID, d.Body)
		if err != nil {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, d.ID, d.Body, err))
			continue
		}
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: doc})
	}
	return res
}

func (s *Store) MCreate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return s.mWrite("mCreate", index, collection, docs, s.create), nil
}

func (s *Store) MCreateOrReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return s.mWrite("mCreateOrReplace", index, collection, docs, s.createOrReplace), nil
}

func (s *Store) MReplace(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return s.mWrite("mReplace", index, collection, docs, s.replace), nil
}

func (s *Store) MUpdate(ctx context.Context, index, collection string, docs []store.Document) (store.BulkResult, error) {
	return s.mWrite("mUpdate", index, collection, docs, s.update), nil
}

func (s *Store) MGet(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	s.bulk("mGet", index, collection, len(ids))
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}
	for i, id := range ids {
		doc, err := s.get(index, collection, id)
		if err != nil {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, id, nil, err))
			continue
		}
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: doc})
	}
	return res, nil
}

func (s *Store) MDelete(ctx context.Context, index, collection string, ids []string) (store.BulkResult, error) {
	s.bulk("mDelete", index, collection, len(ids))
	s.mu.Lock()
	defer s.mu.Unlock()
	res := store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}
	for i, id := range ids {
		if err := s.delete(index, collection, id); err != nil {
			res.Errors = append(res.Errors, store.BulkErrorFrom(i, id, nil, err))
			continue
		}
		res.Successes = append(res.Successes, store.BulkItem{Index: i, Document: store.Document{ID: id}})
	}
	return res, nil
}

func (s *Store) Search(ctx context.Context, index, collection string, q store.Query) ([]store.Document, error) {
	s.mu.RLock()
	c := s.coll(index, collection, false)
	type hit struct {
		doc store.Document
		seq uint64
	}
	hits := make([]hit, 0, len(c))
	for id, e := range c {
		if store.Matches(e.body, q) {
			hits = append(hits, hit{doc: store.Document{ID: id, Body: copyBody(e.body)}, seq: e.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].seq < hits[j].seq })
	docs := make([]store.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.doc
	}
	return store.Page(docs, q), nil
}

// Refresh is a no-op: writes are visible immediately
func (s *Store) Refresh(ctx context.Context, index, collection string) error {
	return nil
}

func (s *Store) DropIndex(ctx context.Context, index string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.indexes[index] {
		n += int64(len(c))
	}
	delete(s.indexes, index)
	return n, nil
}

// Count returns the number of documents in a collection
func (s *Store) Count(index, collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.coll(index, collection, false))
}
