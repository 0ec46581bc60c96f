// Package normalize maps the drifted document shapes in the ride
// collections onto one canonical record. Every field is resolved through an
// ordered candidate-key list (first match wins); the order is a designed
// priority and must not be rearranged, or documents carrying more than one
// historical variant silently flip which value shows up.
package normalize

import (
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

var (
	tripIDKeys = []string{
		"tripId", "tripID", "TripId", "TripID", "trip", "Trip",
		"rideId", "rideID", "RideId", "RideID", "tripCode", "TripCode",
	}
	pickupKeys = []string{
		"pickupTime", "pickup_time", "pickupAt", "pickup_at", "pickup",
		"PickupTime", "PickupAt", "Pickup", "startAt", "startTime",
	}
	createdKeys = []string{
		"createdAt", "created_at", "created", "CreatedAt", "Created", "timestamp",
	}
	updatedKeys = []string{
		"updatedAt", "updated_at", "updated", "UpdatedAt", "lastUpdated",
	}
	claimedAtKeys = []string{
		"claimedAt", "claimed_at", "claimedTime", "ClaimedAt",
	}
	claimedByKeys = []string{
		"claimedBy", "ClaimedBy", "claimed_by", "claimer", "claimed_user",
		"assignedTo", "assigned_to",
	}
	claimedByNameKeys = []string{
		"claimedByName", "ClaimedByName", "claimed_by_name", "claimerName",
		"claimed_user_name", "assignedToName",
	}
	durationKeys = []string{
		"rideDuration", "RideDuration", "duration", "Duration",
		"minutes", "durationMinutes",
	}
	rideTypeKeys = []string{
		"rideType", "RideType", "type", "Type", "serviceType", "category",
	}
	vehicleKeys = []string{
		"vehicle", "Vehicle", "vehicleName", "VehicleName",
		"vehicleId", "vehicleID", "car", "unit",
	}
	notesKeys = []string{
		"rideNotes", "RideNotes", "notes", "Notes", "note", "messages", "description",
	}
	statusKeys = []string{
		"status", "Status", "state", "State", "queueStatus",
	}
	createdByKeys = []string{
		"createdBy", "created_by", "CreatedBy", "createdByEmail", "creator",
	}
	modifiedByKeys = []string{
		"lastModifiedBy", "last_modified_by", "LastModifiedBy",
		"updatedBy", "modifiedBy",
	}
	importedKeys = []string{
		"importedFromQueueAt", "imported_from_queue_at",
	}
)

// firstPresent returns the first candidate key holding a non-nil value.
func firstPresent(doc store.Doc, keys []string) any {
	for _, key := range keys {
		if v, ok := doc[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstText(doc store.Doc, keys []string) string {
	for _, key := range keys {
		if v, ok := doc[key]; ok && v != nil {
			if s := Text(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Ride normalizes one raw document. It never panics: worst case the record
// comes back with more empty fields than expected. Normalizing an already
// canonical document is a no-op.
func Ride(id string, raw store.Doc) models.Ride {
	if raw == nil {
		raw = store.Doc{}
	}
	r := models.Ride{
		ID:                  id,
		TripID:              firstText(raw, tripIDKeys),
		PickupTime:          Time(firstPresent(raw, pickupKeys)),
		RideType:            firstText(raw, rideTypeKeys),
		Vehicle:             firstText(raw, vehicleKeys),
		Status:              firstText(raw, statusKeys),
		ClaimedBy:           normalizeEmailText(firstPresent(raw, claimedByKeys)),
		ClaimedAt:           Time(firstPresent(raw, claimedAtKeys)),
		CreatedAt:           Time(firstPresent(raw, createdKeys)),
		CreatedBy:           firstText(raw, createdByKeys),
		UpdatedAt:           Time(firstPresent(raw, updatedKeys)),
		LastModifiedBy:      firstText(raw, modifiedByKeys),
		ImportedFromQueueAt: Time(firstPresent(raw, importedKeys)),
		Raw:                 raw,
	}
	if n, ok := Number(firstPresent(raw, durationKeys)); ok {
		r.RideDuration = &n
	}
	if s := NotesText(firstPresent(raw, notesKeys)); s != "" {
		r.RideNotes = s
	}
	r.ClaimedByName = firstText(raw, claimedByNameKeys)
	if r.ClaimedByName == "" {
		// fall back to whatever the claim-owner field collapses to
		r.ClaimedByName = Text(firstPresent(raw, claimedByKeys))
	}
	if r.Status == "" {
		r.Status = models.StatusQueued
	}
	if r.ID == "" {
		r.ID = firstText(raw, []string{"id", "docId", "rideId", "tripId"})
	}
	return r
}

// Rides normalizes a snapshot's documents in order.
func Rides(docs []store.Document) []models.Ride {
	out := make([]models.Ride, 0, len(docs))
	for _, d := range docs {
		out = append(out, Ride(d.ID, d.Data))
	}
	return out
}

// normalizeEmailText collapses a claim-owner value to a lowercased email.
func normalizeEmailText(v any) string {
	return Email(v)
}
