// Package batch coalesces single-document operations issued within a short
// window into multi-document store calls.
//
// Pending work lives in a generation: one batch per (operation, index,
// collection). Every flush swaps the current generation for an empty one
// through an atomic pointer and then seals the old one, so an adder that
// raced the swap notices the seal and retries on the fresh generation.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/itsatony/w4b_v3/server/devicehub/internal/store"
	nuts "github.com/vaudience/go-nuts"
)

// OpKind is a batched operation
type OpKind string

const (
	OpCreate          OpKind = "create"
	OpUpdate          OpKind = "update"
	OpReplace         OpKind = "replace"
	OpCreateOrReplace OpKind = "createOrReplace"
	OpGet             OpKind = "get"
	OpExists          OpKind = "exists"
	OpDelete          OpKind = "delete"
)

const (
	DefaultInterval     = 20 * time.Millisecond
	DefaultMaxDocuments = 1000
	DefaultFlushTimeout = 30 * time.Second
)

// Observer is told about every bulk call a flush makes
type Observer interface {
	ObserveFlush(op string, documents int, duration time.Duration, err error)
}

// Options configures a Buffer
type Options struct {
	Interval     time.Duration
	MaxDocuments int
	FlushTimeout time.Duration
	Observer     Observer
}

type batchKey struct {
	op         OpKind
	index      string
	collection string
}

// Batch is one pending bulk request shared by every caller that joined it.
// It is sent in chunks of at most MaxDocuments entries. done is closed once
// every chunk was sent, after which result and failed are set.
type Batch struct {
	key  batchKey
	docs []store.Document
	done chan struct{}

	chunk  int
	result store.BulkResult
	failed map[int]error
}

// Wait blocks until the batch flushed or ctx ends. It fails with the
// transport error of the chunk that carried entry idx, entries of the other
// chunks are unaffected.
func (b *Batch) Wait(ctx context.Context, idx int) (store.BulkResult, error) {
	select {
	case <-b.done:
		if err, ok := b.failed[idx/b.chunk]; ok {
			return store.BulkResult{}, err
		}
		return b.result, nil
	case <-ctx.Done():
		return store.BulkResult{}, ctx.Err()
	}
}

// Len returns the number of documents in the batch
func (b *Batch) Len() int {
	return len(b.docs)
}

type generation struct {
	mu       sync.Mutex
	sealed   bool
	terminal bool
	batches  map[batchKey]*Batch
	count    int
}

func newGeneration() *generation {
	return &generation{batches: map[batchKey]*Batch{}}
}

// Buffer implements store.Store. Single-document operations are batched,
// multi-document operations, searches and refreshes go straight to the store.
type Buffer struct {
	store   store.Store
	opts    Options
	current atomic.Pointer[generation]

	startOnce sync.Once
	stop      chan struct{}
	loop      sync.WaitGroup
	inflight  sync.WaitGroup
}

var _ store.Store = (*Buffer)(nil)

// New creates a Buffer in front of s. Call Start to run the flush timer.
func New(s store.Store, opts Options) *Buffer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = DefaultMaxDocuments
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	b := &Buffer{
		store: s,
		opts:  opts,
		stop:  make(chan struct{}),
	}
	b.current.Store(newGeneration())
	return b
}

// Start runs the periodic flush until Close
func (b *Buffer) Start() {
	b.startOnce.Do(func() {
		b.loop.Add(1)
		go b.run()
		nuts.L.Infof("[BatchBuffer] Flushing every %v, at most %d documents per call", b.opts.Interval, b.opts.MaxDocuments)
	})
}

func (b *Buffer) run() {
	defer b.loop.Done()
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			gen := b.swap(newGeneration())
			if gen == nil || gen.count == 0 {
				continue
			}
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				ctx, cancel := context.WithTimeout(context.Background(), b.opts.FlushTimeout)
				defer cancel()
				b.flushGeneration(ctx, gen)
			}()
		}
	}
}

// Add appends doc to the pending batch of (op, index, collection) and
// returns the position of doc in that batch together with the batch
func (b *Buffer) Add(op OpKind, index, collection string, doc store.Document) (int, *Batch, error) {
	key := batchKey{op: op, index: index, collection: collection}
	for {
		gen := b.current.Load()
		gen.mu.Lock()
		if gen.terminal {
			gen.mu.Unlock()
			return 0, nil, errors.NewUnavailableError("batch buffer is closed", nil)
		}
		if gen.sealed {
			gen.mu.Unlock()
			continue
		}
		batch, ok := gen.batches[key]
		if !ok {
			batch = &Batch{key: key, done: make(chan struct{}), chunk: b.opts.MaxDocuments}
			gen.batches[key] = batch
		}
		idx := len(batch.docs)
		batch.docs = append(batch.docs, doc)
		gen.count++
		gen.mu.Unlock()
		return idx, batch, nil
	}
}

// swap installs next and seals the previous generation. It returns nil when
// the buffer is closed.
func (b *Buffer) swap(next *generation) *generation {
	for {
		old := b.current.Load()
		if old.terminal {
			return nil
		}
		if !b.current.CompareAndSwap(old, next) {
			continue
		}
		old.mu.Lock()
		old.sealed = true
		old.mu.Unlock()
		return old
	}
}

// Flush sends every pending batch now and waits for the results
func (b *Buffer) Flush(ctx context.Context) {
	gen := b.swap(newGeneration())
	if gen == nil {
		return
	}
	b.flushGeneration(ctx, gen)
}

// Close stops the timer, waits for in-flight flushes and drains what is
// still pending. Later operations fail with service_unavailable.
func (b *Buffer) Close(ctx context.Context) error {
	terminal := newGeneration()
	terminal.sealed = true
	terminal.terminal = true
	gen := b.swap(terminal)
	if gen == nil {
		return nil
	}
	close(b.stop)
	b.loop.Wait()
	b.inflight.Wait()
	pending := gen.count
	b.flushGeneration(ctx, gen)
	nuts.L.Infof("[BatchBuffer] Closed, drained %d pending documents", pending)
	return nil
}

// Pending returns the number of documents waiting for the next flush
func (b *Buffer) Pending() int {
	gen := b.current.Load()
	gen.mu.Lock()
	defer gen.mu.Unlock()
	return gen.count
}

func (b *Buffer) flushGeneration(ctx context.Context, gen *generation) {
	var wg sync.WaitGroup
	for _, batch := range gen.batches {
		wg.Add(1)
		go func(batch *Batch) {
			defer wg.Done()
			b.flushBatch(ctx, batch)
		}(batch)
	}
	wg.Wait()
}

func (b *Buffer) flushBatch(ctx context.Context, batch *Batch) {
	defer close(batch.done)

	result := store.BulkResult{Successes: []store.BulkItem{}, Errors: []store.BulkError{}}
	failed := map[int]error{}
	for start := 0; start < len(batch.docs); start += batch.chunk {
		end := min(start+batch.chunk, len(batch.docs))
		began := time.Now()
		chunk, err := b.send(ctx, batch.key, batch.docs[start:end])
		if b.opts.Observer != nil {
			b.opts.Observer.ObserveFlush(string(batch.key.op), end-start, time.Since(began), err)
		}
		if err != nil {
			nuts.L.Errorf("[BatchBuffer] %s of documents %d-%d on %s/%s failed: %v",
				batch.key.op, start, end-1, batch.key.index, batch.key.collection, err)
			failed[start/batch.chunk] = err
			continue
		}
		for _, item := range chunk.Successes {
			item.Index += start
			result.Successes = append(result.Successes, item)
		}
		for _, e := range chunk.Errors {
			e.Index += start
			result.Errors = append(result.Errors, e)
		}
	}
	batch.result = result
	batch.failed = failed
}

func (b *Buffer) send(ctx context.Context, key batchKey, docs []store.Document) (store.BulkResult, error) {
	switch key.op {
	case OpCreate:
		return b.store.MCreate(ctx, key.index, key.collection, docs)
	case OpUpdate:
		return b.store.MUpdate(ctx, key.index, key.collection, docs)
	case OpReplace:
		return b.store.MReplace(ctx, key.index, key.collection, docs)
	case OpCreateOrReplace:
		return b.store.MCreateOrReplace(ctx, key.index, key.collection, docs)
	case OpGet, OpExists:
		return b.store.MGet(ctx, key.index, key.collection, ids(docs))
	case OpDelete:
		return b.store.MDelete(ctx, key.index, key.collection, ids(docs))
	}
	return store.BulkResult{}, errors.NewInternalError("unknown batch operation "+string(key.op), nil)
}

func ids(docs []store.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}
