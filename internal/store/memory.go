package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

const memoryTxAttempts = 5

// MemoryStore is an in-process Store with optimistic per-document
// concurrency: transactions record the version of every document they read
// and commit only if none changed, retrying the work function otherwise.
// It backs local runs and tests; production uses the Firestore store.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Doc
	versions    map[string]uint64 // key "collection/id"; bumped on every write or delete
	subs        map[string]map[int]SnapshotFunc
	nextSub     int
	clock       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Doc),
		versions:    make(map[string]uint64),
		subs:        make(map[string]map[int]SnapshotFunc),
		clock:       time.Now,
	}
}

// SetClock overrides the commit clock. Test hook.
func (s *MemoryStore) SetClock(clock func() time.Time) { s.clock = clock }

func docKey(collection, id string) string { return collection + "/" + id }

type memTx struct {
	s      *MemoryStore
	reads  map[string]uint64
	writes []WriteOp
}

func (t *memTx) Get(collection, id string) (Doc, bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.reads[docKey(collection, id)] = t.s.versions[docKey(collection, id)]
	d, ok := t.s.collections[collection][id]
	if !ok {
		return nil, false, nil
	}
	return CloneDoc(d), true, nil
}

func (t *memTx) Set(collection, id string, data Doc, merge bool) error {
	t.writes = append(t.writes, WriteOp{Collection: collection, ID: id, Data: CloneDoc(data), Merge: merge})
	return nil
}

func (t *memTx) Delete(collection, id string) error {
	t.writes = append(t.writes, WriteOp{Collection: collection, ID: id, Delete: true})
	return nil
}

// RunTransaction executes fn with buffered writes, committing only if every
// document fn read (including absent ones) is unchanged. On conflict the
// work function is re-run from scratch, mirroring Firestore's contract.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	for attempt := 0; attempt < memoryTxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{s: s, reads: make(map[string]uint64)}
		if err := fn(tx); err != nil {
			return err
		}
		if s.commit(tx) {
			return nil
		}
	}
	return ErrTxConflict
}

func (s *MemoryStore) commit(tx *memTx) bool {
	s.mu.Lock()
	for key, version := range tx.reads {
		if s.versions[key] != version {
			s.mu.Unlock()
			return false
		}
	}
	touched := s.applyLocked(tx.writes)
	snapshots := s.snapshotLocked(touched)
	s.mu.Unlock()
	s.notify(snapshots)
	return true
}

// BatchWrite applies all ops atomically. There is no read set, so it never
// conflicts; it is last-writer-wins by design.
func (s *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	touched := s.applyLocked(ops)
	snapshots := s.snapshotLocked(touched)
	s.mu.Unlock()
	s.notify(snapshots)
	return nil
}

func (s *MemoryStore) applyLocked(ops []WriteOp) map[string]struct{} {
	now := s.clock().UTC()
	touched := make(map[string]struct{})
	for _, op := range ops {
		touched[op.Collection] = struct{}{}
		s.versions[docKey(op.Collection, op.ID)]++
		coll := s.collections[op.Collection]
		if coll == nil {
			coll = make(map[string]Doc)
			s.collections[op.Collection] = coll
		}
		if op.Delete {
			delete(coll, op.ID)
			continue
		}
		data := CloneDoc(op.Data)
		ResolveTimestamps(data, now)
		if op.Merge {
			if existing, ok := coll[op.ID]; ok {
				merged := CloneDoc(existing)
				for k, v := range data {
					merged[k] = v
				}
				coll[op.ID] = merged
				continue
			}
		}
		coll[op.ID] = data
	}
	return touched
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Doc, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.collections[collection][id]
	if !ok {
		return nil, false, nil
	}
	return CloneDoc(d), true, nil
}

func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(collection), nil
}

func (s *MemoryStore) listLocked(collection string) []Document {
	coll := s.collections[collection]
	out := make([]Document, 0, len(coll))
	for id, d := range coll {
		out = append(out, Document{ID: id, Data: CloneDoc(d)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers fn and delivers the current snapshot immediately,
// then again after every commit touching the collection. Delivery is
// synchronous with the committing goroutine.
func (s *MemoryStore) Subscribe(collection string, fn SnapshotFunc) (func(), error) {
	s.mu.Lock()
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]SnapshotFunc)
	}
	id := s.nextSub
	s.nextSub++
	s.subs[collection][id] = fn
	initial := s.listLocked(collection)
	s.mu.Unlock()

	fn(initial)
	return func() {
		s.mu.Lock()
		delete(s.subs[collection], id)
		s.mu.Unlock()
	}, nil
}

type pendingSnapshot struct {
	fns  []SnapshotFunc
	docs []Document
}

func (s *MemoryStore) snapshotLocked(touched map[string]struct{}) []pendingSnapshot {
	var out []pendingSnapshot
	for collection := range touched {
		subs := s.subs[collection]
		if len(subs) == 0 {
			continue
		}
		fns := make([]SnapshotFunc, 0, len(subs))
		for _, fn := range subs {
			fns = append(fns, fn)
		}
		out = append(out, pendingSnapshot{fns: fns, docs: s.listLocked(collection)})
	}
	return out
}

func (s *MemoryStore) notify(snapshots []pendingSnapshot) {
	for _, snap := range snapshots {
		for _, fn := range snap.fns {
			fn(snap.docs)
		}
	}
}
