package models

import "time"

// Ride status values. A ride document lives in exactly one of the queue,
// live, or claimed collections; status mirrors that location.
const (
	StatusQueued    = "queued"
	StatusOpen      = "open"
	StatusClaimed   = "claimed"
	StatusUnclaimed = "unclaimed"
)

// transitions encodes the allowed ride lifecycle moves. Deletion is legal
// from any state and is not modeled here.
var transitions = map[string]map[string]struct{}{
	StatusQueued:    {StatusOpen: {}},
	StatusOpen:      {StatusClaimed: {}},
	StatusClaimed:   {StatusOpen: {}, StatusUnclaimed: {}},
	StatusUnclaimed: {StatusClaimed: {}, StatusOpen: {}},
}

// CanTransition reports whether a ride may move from one status to another.
// Self-transitions are allowed so repeated operations stay idempotent.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Ride is the canonical, normalized shape of a ride document. Pointer
// fields distinguish "absent" from a zero value; string fields use "" for
// absent. The raw source document rides along for convergence checks.
type Ride struct {
	ID                  string         `json:"id"`
	TripID              string         `json:"tripId"`
	PickupTime          *time.Time     `json:"pickupTime"`
	RideDuration        *float64       `json:"rideDuration"`
	RideType            string         `json:"rideType"`
	Vehicle             string         `json:"vehicle"`
	RideNotes           string         `json:"rideNotes"`
	Status              string         `json:"status"`
	ClaimedBy           string         `json:"claimedBy"`
	ClaimedByName       string         `json:"claimedByName"`
	ClaimedAt           *time.Time     `json:"claimedAt"`
	CreatedAt           *time.Time     `json:"createdAt"`
	CreatedBy           string         `json:"createdBy"`
	UpdatedAt           *time.Time     `json:"updatedAt"`
	LastModifiedBy      string         `json:"lastModifiedBy"`
	ImportedFromQueueAt *time.Time     `json:"importedFromQueueAt"`
	Raw                 map[string]any `json:"-"`
}

// Doc rebuilds a document map from the canonical ride. Used by restore
// paths and round-trip tests; claim payloads copy the raw document instead.
func (r Ride) Doc() map[string]any {
	doc := map[string]any{
		"tripId":         emptyToNil(r.TripID),
		"pickupTime":     timeToAny(r.PickupTime),
		"rideDuration":   floatToAny(r.RideDuration),
		"rideType":       emptyToNil(r.RideType),
		"vehicle":        emptyToNil(r.Vehicle),
		"rideNotes":      emptyToNil(r.RideNotes),
		"status":         emptyToNil(r.Status),
		"claimedBy":      emptyToNil(r.ClaimedBy),
		"claimedByName":  emptyToNil(r.ClaimedByName),
		"claimedAt":      timeToAny(r.ClaimedAt),
		"createdAt":      timeToAny(r.CreatedAt),
		"createdBy":      emptyToNil(r.CreatedBy),
		"updatedAt":      timeToAny(r.UpdatedAt),
		"lastModifiedBy": emptyToNil(r.LastModifiedBy),
	}
	if r.ImportedFromQueueAt != nil {
		doc["importedFromQueueAt"] = *r.ImportedFromQueueAt
	}
	return doc
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func timeToAny(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func floatToAny(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// Access roles stored on userAccess records.
const (
	AccessAdmin    = "admin"
	AccessDriver   = "driver"
	AccessShootout = "shootout"
)

// UserAccess is a driver/admin directory record keyed by lowercased email.
type UserAccess struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Access string `json:"access"`
}

// Ride event types published after successful lifecycle operations.
const (
	EventClaim   = "claim"
	EventUndo    = "undo"
	EventPromote = "promote"
)

// RideEvent is the message emitted to the event stream when a ride changes
// hands. The notifier consumes these to send best-effort driver SMS/push.
type RideEvent struct {
	Type       string         `json:"type"`
	RideID     string         `json:"ride_id"`
	Driver     string         `json:"driver"`
	DriverName string         `json:"driver_name"`
	Ride       map[string]any `json:"ride,omitempty"`
	At         time.Time      `json:"at"`
}
