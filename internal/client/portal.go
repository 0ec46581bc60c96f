// Package client is the driver-facing portal SDK: it subscribes to the
// live collection, overlays pending optimistic patches on streamed rows,
// and drives claim/undo through the transaction service. The flow per
// action: patch immediately, run the transaction, clear the patch on
// failure (rollback), otherwise leave it until the authoritative snapshot
// converges.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/ride-dispatch/internal/claims"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/overlay"
	"github.com/example/ride-dispatch/internal/store"
)

// ErrClaimPending guards double-submits: while a claim for a ride is in
// flight the triggering control is disabled, so a second call is a bug.
var ErrClaimPending = errors.New("claim already in flight for this ride")

type Portal struct {
	claims  *claims.Service
	overlay *overlay.Overlay
	user    map[string]any
	email   string
	log     *slog.Logger

	mu      sync.Mutex
	rows    []store.Document
	pending map[string]struct{}

	unsubscribe func()
}

// NewPortal subscribes to the live collection and begins reconciling
// snapshots against pending patches. Close releases the subscription.
func NewPortal(st store.Store, svc *claims.Service, user map[string]any, log *slog.Logger) (*Portal, error) {
	email := normalize.UserEmail(user)
	if email == "" {
		return nil, &claims.Error{Kind: claims.KindValidation, Message: "Missing user email"}
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Portal{
		claims:  svc,
		overlay: overlay.New(),
		user:    user,
		email:   email,
		log:     log,
		pending: make(map[string]struct{}),
	}
	unsub, err := st.Subscribe(svc.Collections.Live, p.onSnapshot)
	if err != nil {
		return nil, err
	}
	p.unsubscribe = unsub
	return p, nil
}

func (p *Portal) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
}

func (p *Portal) onSnapshot(docs []store.Document) {
	p.overlay.Reconcile(docs)
	p.mu.Lock()
	p.rows = docs
	p.mu.Unlock()
}

// Rows returns the current live rides with pending patches overlaid,
// normalized for display.
func (p *Portal) Rows() []models.Ride {
	p.mu.Lock()
	rows := p.rows
	p.mu.Unlock()
	return normalize.Rides(p.overlay.Merged(rows))
}

// Pending reports whether an operation for the ride is in flight; the UI
// uses it to disable the row's controls.
func (p *Portal) Pending(rideID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[rideID]
	return ok
}

func (p *Portal) setPending(rideID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[rideID]; ok {
		return false
	}
	p.pending[rideID] = struct{}{}
	return true
}

func (p *Portal) clearPending(rideID string) {
	p.mu.Lock()
	delete(p.pending, rideID)
	p.mu.Unlock()
}

// Claim applies the optimistic patch, runs the claim transaction, and
// rolls the patch back if the transaction rejects. On success the patch
// stays until the live snapshot reflects the move.
func (p *Portal) Claim(ctx context.Context, rideID string) error {
	if !p.setPending(rideID) {
		return ErrClaimPending
	}
	defer p.clearPending(rideID)

	p.overlay.Apply(rideID, overlay.Patch{
		"status":    models.StatusClaimed,
		"claimedBy": p.email,
	})
	if _, err := p.claims.Claim(ctx, rideID, p.user); err != nil {
		p.overlay.Clear(rideID)
		p.log.Warn("claim rolled back", "ride_id", rideID, "error", err)
		return err
	}
	return nil
}

// Undo reverts this driver's claim. The pending patch, if any, is cleared
// up front: the authoritative stream is the only source of truth for the
// reverted row.
func (p *Portal) Undo(ctx context.Context, rideID string) error {
	if !p.setPending(rideID) {
		return ErrClaimPending
	}
	defer p.clearPending(rideID)

	p.overlay.Clear(rideID)
	_, err := p.claims.UndoClaim(ctx, rideID, p.user, claims.UndoOptions{})
	return err
}

// Patch exposes the pending overlay entry for a ride; tests and the grid's
// convergence indicator use it.
func (p *Portal) Patch(rideID string) (overlay.Patch, bool) {
	return p.overlay.Get(rideID)
}
