package client

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/claims"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

func newPortal(t *testing.T) (*Portal, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	svc := claims.NewService(st, claims.DefaultCollections(), nil)
	p, err := NewPortal(st, svc, map[string]any{"email": "a@x.com", "displayName": "Alice"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Close)
	return p, st
}

func seedLive(t *testing.T, st *store.MemoryStore, id string, data store.Doc) {
	t.Helper()
	if err := st.BatchWrite(context.Background(), []store.WriteOp{{Collection: "liveRides", ID: id, Data: data}}); err != nil {
		t.Fatal(err)
	}
}

func TestPortalRequiresEmail(t *testing.T) {
	st := store.NewMemoryStore()
	svc := claims.NewService(st, claims.DefaultCollections(), nil)
	_, err := NewPortal(st, svc, map[string]any{"displayName": "No Email"}, nil)
	if !claims.IsValidation(err) {
		t.Fatalf("got %v", err)
	}
}

func TestPortalRowsFollowSnapshots(t *testing.T) {
	p, st := newPortal(t)
	seedLive(t, st, "r1", store.Doc{"tripId": "T1", "status": "open"})

	rows := p.Rows()
	if len(rows) != 1 || rows[0].TripID != "T1" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestPortalClaimConvergence(t *testing.T) {
	p, st := newPortal(t)
	seedLive(t, st, "r1", store.Doc{"tripId": "T1", "status": "open"})

	if err := p.Claim(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	// commit moved the ride out of live; the snapshot cleared the patch
	if _, ok := p.Patch("r1"); ok {
		t.Fatal("patch survived convergence")
	}
	if len(p.Rows()) != 0 {
		t.Fatalf("rows = %+v", p.Rows())
	}
	if _, ok, _ := st.Get(context.Background(), "claimedRides", "r1"); !ok {
		t.Fatal("ride not claimed")
	}
}

func TestPortalClaimRollbackOnConflict(t *testing.T) {
	p, st := newPortal(t)
	seedLive(t, st, "r1", store.Doc{"tripId": "T1", "claimedBy": "b@x.com"})

	err := p.Claim(context.Background(), "r1")
	if !claims.IsConflict(err) {
		t.Fatalf("got %v", err)
	}
	if _, ok := p.Patch("r1"); ok {
		t.Fatal("patch not rolled back after rejected claim")
	}
	rows := p.Rows()
	if len(rows) != 1 || rows[0].ClaimedBy != "b@x.com" {
		t.Fatalf("rows should show authoritative owner: %+v", rows)
	}
}

func TestPortalOptimisticRowBeforeCommit(t *testing.T) {
	p, _ := newPortal(t)
	// no snapshot delivery races here: apply directly to observe the merge
	p.overlay.Apply("r1", map[string]any{"status": models.StatusClaimed, "claimedBy": "a@x.com"})
	p.mu.Lock()
	p.rows = []store.Document{{ID: "r1", Data: store.Doc{"tripId": "T1", "status": "open"}}}
	p.mu.Unlock()

	rows := p.Rows()
	if len(rows) != 1 || rows[0].Status != models.StatusClaimed || rows[0].ClaimedBy != "a@x.com" {
		t.Fatalf("optimistic merge missing: %+v", rows)
	}
}

func TestPortalPendingGatesDoubleSubmit(t *testing.T) {
	p, _ := newPortal(t)
	if !p.setPending("r1") {
		t.Fatal("first pending set failed")
	}
	if err := p.Claim(context.Background(), "r1"); !errors.Is(err, ErrClaimPending) {
		t.Fatalf("got %v", err)
	}
	p.clearPending("r1")
	if p.Pending("r1") {
		t.Fatal("pending not cleared")
	}
}

func TestPortalUndoClearsPatchFirst(t *testing.T) {
	p, st := newPortal(t)
	seedLive(t, st, "r1", store.Doc{"tripId": "T1"})
	if err := p.Claim(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}

	if err := p.Undo(context.Background(), "r1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := p.Patch("r1"); ok {
		t.Fatal("patch present after undo")
	}
	rows := p.Rows()
	if len(rows) != 1 || rows[0].Status != models.StatusUnclaimed || rows[0].ClaimedBy != "" {
		t.Fatalf("rows after undo: %+v", rows)
	}
}

func TestPortalConcurrentPortalsSingleWinner(t *testing.T) {
	st := store.NewMemoryStore()
	svc := claims.NewService(st, claims.DefaultCollections(), nil)
	seedLive(t, st, "r1", store.Doc{"tripId": "T1"})

	portals := make([]*Portal, 4)
	for i, email := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"} {
		p, err := NewPortal(st, svc, map[string]any{"email": email}, nil)
		if err != nil {
			t.Fatal(err)
		}
		defer p.Close()
		portals[i] = p
	}

	var wg sync.WaitGroup
	errs := make([]error, len(portals))
	for i, p := range portals {
		wg.Add(1)
		go func(i int, p *Portal) {
			defer wg.Done()
			errs[i] = p.Claim(context.Background(), "r1")
		}(i, p)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d", winners)
	}
	for i, p := range portals {
		if _, ok := p.Patch("r1"); ok {
			t.Fatalf("portal %d still holds a patch", i)
		}
	}
}
