package store

import (
	"context"
	"errors"
	"time"
)

// Doc is a raw document body as stored. Values may be scalars, nested maps,
// slices, time.Time, or the ServerTimestamp sentinel.
type Doc map[string]any

// Document pairs a document id with its body.
type Document struct {
	ID   string
	Data Doc
}

// ServerTimestamp is a sentinel value resolved to the store's commit time.
// The Firestore backend maps it to firestore.ServerTimestamp; the memory
// backend stamps the commit wall clock.
var ServerTimestamp = serverTimestamp{}

type serverTimestamp struct{}

// WriteOp is one entry of an atomic batch.
type WriteOp struct {
	Collection string
	ID         string
	Data       Doc // nil for deletes
	Merge      bool
	Delete     bool
}

// SnapshotFunc receives the full current contents of a collection whenever
// it changes. Implementations deliver an initial snapshot on subscribe.
type SnapshotFunc func(docs []Document)

// Tx exposes read-then-conditionally-write handles inside a transaction.
// All reads must happen before the first buffered write.
type Tx interface {
	Get(collection, id string) (Doc, bool, error)
	Set(collection, id string, data Doc, merge bool) error
	Delete(collection, id string) error
}

// Store is the document store contract the claim service relies on:
// serializable per-document transactions (first committer wins, transport
// conflicts retried internally), atomic batches, and realtime snapshots.
type Store interface {
	RunTransaction(ctx context.Context, fn func(tx Tx) error) error
	BatchWrite(ctx context.Context, ops []WriteOp) error
	Get(ctx context.Context, collection, id string) (Doc, bool, error)
	List(ctx context.Context, collection string) ([]Document, error)
	Subscribe(collection string, fn SnapshotFunc) (func(), error)
}

// ErrTxConflict is returned when a transaction could not commit after the
// backend exhausted its internal conflict retries.
var ErrTxConflict = errors.New("transaction conflict")

// CloneDoc returns a deep copy of a document body so callers can mutate
// their view without leaking changes back into the store.
func CloneDoc(d Doc) Doc {
	if d == nil {
		return nil
	}
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Doc:
		return CloneDoc(t)
	case map[string]any:
		return map[string]any(CloneDoc(Doc(t)))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// ResolveTimestamps replaces ServerTimestamp sentinels with now, in place.
func ResolveTimestamps(d Doc, now time.Time) {
	for k, v := range d {
		switch t := v.(type) {
		case serverTimestamp:
			d[k] = now
		case Doc:
			ResolveTimestamps(t, now)
		case map[string]any:
			ResolveTimestamps(Doc(t), now)
		}
	}
}
