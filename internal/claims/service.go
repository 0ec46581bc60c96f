// Package claims serializes concurrent claim attempts on a ride into a
// single winner. Each operation is one store transaction moving the
// document between the queue, live, and claimed collections; the store's
// first-committer-wins isolation is the only concurrency control, so losers
// observe either a missing source document or a conflicting owner and fail
// without side effects.
package claims

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/store"
)

// Collections names the three ride collections a service instance moves
// documents between.
type Collections struct {
	Queue   string
	Live    string
	Claimed string
}

func DefaultCollections() Collections {
	return Collections{Queue: "rideQueue", Live: "liveRides", Claimed: "claimedRides"}
}

type Service struct {
	Store       store.Store
	Collections Collections
	Log         *slog.Logger
}

func NewService(st store.Store, colls Collections, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Store: st, Collections: colls, Log: log}
}

// claimOwnerKeys mirrors the historical claim-owner field variants checked
// inside the transaction.
var claimOwnerKeys = []string{"claimedBy", "ClaimedBy", "claimed_user"}

func existingClaimer(doc store.Doc) string {
	for _, key := range claimOwnerKeys {
		if v, ok := doc[key]; ok && v != nil {
			if email := normalize.Email(v); email != "" {
				return email
			}
		}
	}
	return ""
}

// Claim atomically moves a live ride into the claimed collection on behalf
// of the resolved driver. Re-claiming by the same identity is not an error.
// The returned document is the claimed payload as written (server
// timestamps resolved by the store on commit).
func (s *Service) Claim(ctx context.Context, rideID string, user any) (store.Doc, error) {
	start := time.Now()
	if rideID == "" {
		return nil, newError(KindValidation, "Missing rideId")
	}
	if user == nil {
		return nil, newError(KindValidation, "Missing user")
	}
	email := normalize.UserEmail(user)
	if email == "" {
		return nil, newError(KindValidation, "Missing user email")
	}
	displayName := normalize.UserName(user, email)

	var payload store.Doc
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		data, ok, err := tx.Get(s.Collections.Live, rideID)
		if err != nil {
			return transportError(err)
		}
		if !ok {
			return newError(KindNotFound, "Ride not found")
		}
		if owner := existingClaimer(data); owner != "" && owner != email {
			return newError(KindConflict, "Ride already claimed")
		}
		payload = store.CloneDoc(data)
		payload["claimedBy"] = email
		payload["ClaimedBy"] = email
		payload["claimedAt"] = store.ServerTimestamp
		payload["claimedByName"] = displayName
		payload["status"] = models.StatusClaimed
		payload["lastModifiedBy"] = email
		if err := tx.Set(s.Collections.Claimed, rideID, payload, false); err != nil {
			return transportError(err)
		}
		if err := tx.Delete(s.Collections.Live, rideID); err != nil {
			return transportError(err)
		}
		return nil
	})
	if err != nil {
		err = wrapStoreErr(err)
		s.Log.Warn("claim failed", "ride_id", rideID, "driver", email, "error", err)
		observability.ClaimsTotal.WithLabelValues("claim", outcomeLabel(err)).Inc()
		return nil, err
	}
	observability.ClaimsTotal.WithLabelValues("claim", "ok").Inc()
	observability.ClaimTxDuration.Observe(time.Since(start).Seconds())
	s.Log.Info("ride claimed", "ride_id", rideID, "driver", email)
	return payload, nil
}

// UndoOptions tunes UndoClaim. SkipUserCheck is the explicit escape hatch
// for admin-initiated reverts; it must always be opt-in.
type UndoOptions struct {
	SkipUserCheck bool
}

// UndoClaim atomically moves a claimed ride back to the live collection
// with the claim fields nulled. Unless SkipUserCheck is set, the caller
// must be the current claim owner.
func (s *Service) UndoClaim(ctx context.Context, rideID string, user any, opts UndoOptions) (store.Doc, error) {
	if rideID == "" {
		return nil, newError(KindValidation, "Missing rideId")
	}
	email := normalize.UserEmail(user)

	var payload store.Doc
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		data, ok, err := tx.Get(s.Collections.Claimed, rideID)
		if err != nil {
			return transportError(err)
		}
		if !ok {
			return newError(KindNotFound, "Ride no longer available to undo")
		}
		owner := existingClaimer(data)
		if !opts.SkipUserCheck && owner != "" && email != "" && owner != email {
			return newError(KindConflict, "Another driver has already claimed this ride")
		}
		payload = store.CloneDoc(data)
		payload["claimed"] = false
		payload["claimedBy"] = nil
		payload["ClaimedBy"] = nil
		payload["claimedByName"] = nil
		payload["claimedAt"] = nil
		payload["status"] = models.StatusUnclaimed
		payload["updatedAt"] = store.ServerTimestamp
		if email != "" {
			payload["lastModifiedBy"] = email
		}
		if err := tx.Set(s.Collections.Live, rideID, payload, true); err != nil {
			return transportError(err)
		}
		if err := tx.Delete(s.Collections.Claimed, rideID); err != nil {
			return transportError(err)
		}
		return nil
	})
	if err != nil {
		err = wrapStoreErr(err)
		s.Log.Warn("undo claim failed", "ride_id", rideID, "driver", email, "error", err)
		observability.ClaimsTotal.WithLabelValues("undo", outcomeLabel(err)).Inc()
		return nil, err
	}
	observability.ClaimsTotal.WithLabelValues("undo", "ok").Inc()
	s.Log.Info("claim reverted", "ride_id", rideID, "driver", email)
	return payload, nil
}

// MoveOptions carries the acting user and, when the queue document id
// differs from the ride id, the queue key to read.
type MoveOptions struct {
	UserID  string
	QueueID string
}

// MoveQueuedToOpen atomically promotes a queued ride into the live
// collection. Already-promoted rides resolve idempotently.
func (s *Service) MoveQueuedToOpen(ctx context.Context, rideID string, opts MoveOptions) (store.Doc, error) {
	if rideID == "" {
		return nil, newError(KindValidation, "Missing rideId")
	}
	queueID := opts.QueueID
	if queueID == "" {
		queueID = rideID
	}
	userID := opts.UserID
	if userID == "" {
		userID = "system"
	}

	var payload store.Doc
	err := s.Store.RunTransaction(ctx, func(tx store.Tx) error {
		data, ok, err := tx.Get(s.Collections.Queue, queueID)
		if err != nil {
			return transportError(err)
		}
		if !ok {
			// Idempotency: a concurrent promote already moved it.
			if _, live, err := tx.Get(s.Collections.Live, rideID); err != nil {
				return transportError(err)
			} else if live {
				return nil
			}
			return newError(KindNotFound, "Ride not found")
		}
		current := normalize.Ride(rideID, data).Status
		if !models.CanTransition(current, models.StatusOpen) && current != models.StatusQueued {
			return newError(KindConflict, "Ride not queued")
		}
		payload = store.CloneDoc(data)
		payload["queueId"] = queueID
		payload["status"] = models.StatusOpen
		payload["state"] = models.StatusOpen
		payload["importedFromQueueAt"] = store.ServerTimestamp
		payload["updatedAt"] = store.ServerTimestamp
		payload["lastModifiedBy"] = userID
		if err := tx.Set(s.Collections.Live, rideID, payload, true); err != nil {
			return transportError(err)
		}
		if err := tx.Delete(s.Collections.Queue, queueID); err != nil {
			return transportError(err)
		}
		return nil
	})
	if err != nil {
		err = wrapStoreErr(err)
		s.Log.Warn("promote failed", "ride_id", rideID, "queue_id", queueID, "error", err)
		observability.ClaimsTotal.WithLabelValues("promote", outcomeLabel(err)).Inc()
		return nil, err
	}
	observability.ClaimsTotal.WithLabelValues("promote", "ok").Inc()
	s.Log.Info("ride promoted", "ride_id", rideID, "queue_id", queueID, "user", userID)
	return payload, nil
}

// wrapStoreErr classifies errors escaping the transaction: anything that is
// not already a claims.Error came from the store itself.
func wrapStoreErr(err error) error {
	if _, ok := kindOf(err); ok {
		return err
	}
	return transportError(err)
}

func outcomeLabel(err error) string {
	switch k, _ := kindOf(err); k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "transport"
	}
}
