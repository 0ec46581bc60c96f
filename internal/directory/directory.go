// Package directory resolves driver identities (lowercased email) to
// userAccess records, memoizing lookups for the session and deduplicating
// in-flight fetches so a burst of rows for the same driver costs one read.
package directory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/store"
)

// Cache is the optional shared tier in front of the store. The Redis
// implementation lets multiple portal processes share one directory.
type Cache interface {
	Get(ctx context.Context, email string) (models.UserAccess, bool)
	Set(ctx context.Context, email string, record models.UserAccess)
}

type inflight struct {
	done   chan struct{}
	record models.UserAccess
	found  bool
}

type Directory struct {
	store      store.Store
	collection string
	cache      Cache
	log        *slog.Logger

	mu       sync.Mutex
	records  map[string]models.UserAccess
	misses   map[string]struct{}
	inflight map[string]*inflight
}

func New(st store.Store, collection string, cache Cache, log *slog.Logger) *Directory {
	if collection == "" {
		collection = "userAccess"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Directory{
		store:      st,
		collection: collection,
		cache:      cache,
		log:        log,
		records:    make(map[string]models.UserAccess),
		misses:     make(map[string]struct{}),
		inflight:   make(map[string]*inflight),
	}
}

// Lookup returns the userAccess record for an email. Misses are cached
// negatively so unknown drivers do not trigger repeated reads.
func (d *Directory) Lookup(ctx context.Context, email string) (models.UserAccess, bool, error) {
	email = normalize.Email(email)
	if email == "" {
		return models.UserAccess{}, false, nil
	}

	d.mu.Lock()
	if record, ok := d.records[email]; ok {
		d.mu.Unlock()
		return record, true, nil
	}
	if _, missed := d.misses[email]; missed {
		d.mu.Unlock()
		return models.UserAccess{}, false, nil
	}
	if call, ok := d.inflight[email]; ok {
		d.mu.Unlock()
		select {
		case <-call.done:
			return call.record, call.found, nil
		case <-ctx.Done():
			return models.UserAccess{}, false, ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	d.inflight[email] = call
	d.mu.Unlock()

	record, found := d.fetch(ctx, email)

	d.mu.Lock()
	delete(d.inflight, email)
	if found {
		d.records[email] = record
	} else {
		d.misses[email] = struct{}{}
	}
	d.mu.Unlock()

	call.record = record
	call.found = found
	close(call.done)
	return record, found, nil
}

func (d *Directory) fetch(ctx context.Context, email string) (models.UserAccess, bool) {
	if d.cache != nil {
		if record, ok := d.cache.Get(ctx, email); ok {
			return record, true
		}
	}
	doc, ok, err := d.store.Get(ctx, d.collection, email)
	if err != nil {
		d.log.Warn("directory lookup failed", "email", email, "error", err)
		return models.UserAccess{}, false
	}
	if !ok {
		return models.UserAccess{}, false
	}
	record := models.UserAccess{
		Email:  email,
		Name:   normalize.Text(firstOf(doc, "name", "displayName")),
		Phone:  normalize.Text(doc["phone"]),
		Access: normalize.Text(doc["access"]),
	}
	if d.cache != nil {
		d.cache.Set(ctx, email, record)
	}
	return record, true
}

// DisplayName resolves a presentable driver name, falling back to the email
// itself when the directory has nothing better.
func (d *Directory) DisplayName(ctx context.Context, email string) string {
	record, ok, err := d.Lookup(ctx, email)
	if err != nil || !ok || record.Name == "" {
		return normalize.Email(email)
	}
	return record.Name
}

// Invalidate drops a cached record, e.g. after an admin edits the user.
func (d *Directory) Invalidate(email string) {
	email = normalize.Email(email)
	d.mu.Lock()
	delete(d.records, email)
	delete(d.misses, email)
	d.mu.Unlock()
}

func firstOf(doc store.Doc, keys ...string) any {
	for _, key := range keys {
		if v, ok := doc[key]; ok && v != nil {
			return v
		}
	}
	return nil
}
