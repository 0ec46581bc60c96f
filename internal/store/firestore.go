package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store on Cloud Firestore. Transaction isolation
// (first committer wins, transparent retry of aborted attempts) comes from
// the Firestore client itself; nothing is layered on top.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error { return s.client.Close() }

type fsTx struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *fsTx) Get(collection, id string) (Doc, bool, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return Doc(snap.Data()), true, nil
}

func (t *fsTx) Set(collection, id string, data Doc, merge bool) error {
	ref := t.client.Collection(collection).Doc(id)
	if merge {
		return t.tx.Set(ref, toFirestore(data), firestore.MergeAll)
	}
	return t.tx.Set(ref, toFirestore(data))
}

func (t *fsTx) Delete(collection, id string) error {
	return t.tx.Delete(t.client.Collection(collection).Doc(id))
}

func (s *FirestoreStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(&fsTx{client: s.client, tx: tx})
	})
}

func (s *FirestoreStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	batch := s.client.Batch()
	for _, op := range ops {
		ref := s.client.Collection(op.Collection).Doc(op.ID)
		switch {
		case op.Delete:
			batch.Delete(ref)
		case op.Merge:
			batch.Set(ref, toFirestore(op.Data), firestore.MergeAll)
		default:
			batch.Set(ref, toFirestore(op.Data))
		}
	}
	_, err := batch.Commit(ctx)
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, collection, id string) (Doc, bool, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return Doc(snap.Data()), true, nil
}

func (s *FirestoreStore) List(ctx context.Context, collection string) ([]Document, error) {
	iter := s.client.Collection(collection).Documents(ctx)
	defer iter.Stop()
	var out []Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: snap.Ref.ID, Data: Doc(snap.Data())})
	}
}

// Subscribe streams collection snapshots until the returned cancel func is
// called. Listener errors end the stream; the caller owns resubscription.
func (s *FirestoreStore) Subscribe(collection string, fn SnapshotFunc) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	snaps := s.client.Collection(collection).Snapshots(ctx)
	go func() {
		defer snaps.Stop()
		for {
			qs, err := snaps.Next()
			if err != nil {
				return
			}
			var docs []Document
			iter := qs.Documents
			for {
				snap, err := iter.Next()
				if err == iterator.Done {
					break
				}
				if err != nil {
					return
				}
				docs = append(docs, Document{ID: snap.Ref.ID, Data: Doc(snap.Data())})
			}
			fn(docs)
		}
	}()
	return cancel, nil
}

// toFirestore swaps ServerTimestamp sentinels for the Firestore sentinel.
func toFirestore(d Doc) map[string]any {
	out := make(map[string]any, len(d))
	for k, v := range d {
		switch t := v.(type) {
		case serverTimestamp:
			out[k] = firestore.ServerTimestamp
		case Doc:
			out[k] = toFirestore(t)
		case map[string]any:
			out[k] = toFirestore(Doc(t))
		default:
			out[k] = v
		}
	}
	return out
}
