// Package bulk performs batched multi-document deletes and best-effort
// restores with bounded retry. Restore re-inserts row snapshots captured
// before the delete was confirmed; it is a compensating action, not a
// transactional undo — interim writes to those ids are merged over.
package bulk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 100 * time.Millisecond
)

// OpError is raised when a bulk operation exhausts its retries. It names
// the target collection for diagnostics.
type OpError struct {
	Collection string
	Op         string
	Err        error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("bulk %s on %s failed: %v", e.Op, e.Collection, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

type Service struct {
	Store     store.Store
	Attempts  int
	BaseDelay time.Duration
	Log       *slog.Logger

	sleep func(time.Duration) // test hook
}

func NewService(st store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: st, Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, Log: log, sleep: time.Sleep}
}

// Delete removes ids from collection as one atomic batch, retrying
// transient failures with exponential backoff (base, 2x, 4x, ...).
func (s *Service) Delete(ctx context.Context, collection string, ids []string) error {
	ops := make([]store.WriteOp, 0, len(ids))
	for _, id := range ids {
		ops = append(ops, store.WriteOp{Collection: collection, ID: id, Delete: true})
	}
	return s.commitWithRetry(ctx, "delete", collection, ops)
}

// Restore re-inserts previously captured row snapshots with merge
// semantics, same retry policy as Delete.
func (s *Service) Restore(ctx context.Context, collection string, rows []store.Document) error {
	ops := make([]store.WriteOp, 0, len(rows))
	for _, row := range rows {
		if row.ID == "" || row.Data == nil {
			continue
		}
		ops = append(ops, store.WriteOp{Collection: collection, ID: row.ID, Data: row.Data, Merge: true})
	}
	return s.commitWithRetry(ctx, "restore", collection, ops)
}

func (s *Service) commitWithRetry(ctx context.Context, op, collection string, ops []store.WriteOp) error {
	if len(ops) == 0 {
		return nil
	}
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	delay := s.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &OpError{Collection: collection, Op: op, Err: err}
		}
		if err := s.Store.BatchWrite(ctx, ops); err != nil {
			lastErr = err
			if attempt == attempts-1 {
				break
			}
			observability.BulkRetriesTotal.WithLabelValues(op).Inc()
			s.Log.Warn("bulk write retrying", "op", op, "collection", collection, "attempt", attempt+1, "error", err)
			sleep(delay << attempt)
			continue
		}
		s.Log.Info("bulk write committed", "op", op, "collection", collection, "count", len(ops), "attempts", attempt+1)
		return nil
	}
	s.Log.Error("bulk write exhausted retries", "op", op, "collection", collection, "error", lastErr)
	return &OpError{Collection: collection, Op: op, Err: lastErr}
}
