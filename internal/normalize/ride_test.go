package normalize

import (
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

func TestRideAliasPriority(t *testing.T) {
	// both variants present: the canonical key must win
	r := Ride("r1", store.Doc{
		"tripId": "T-canonical",
		"TripID": "T-legacy",
		"status": "open",
		"state":  "claimed",
	})
	if r.TripID != "T-canonical" {
		t.Fatalf("tripId priority broken: %q", r.TripID)
	}
	if r.Status != "open" {
		t.Fatalf("status priority broken: %q", r.Status)
	}
}

func TestRideTimestampShapes(t *testing.T) {
	want := time.Date(2024, 3, 15, 17, 30, 0, 0, time.UTC)
	cases := map[string]any{
		"native":       want,
		"millis":       want.UnixMilli(),
		"millisFloat":  float64(want.UnixMilli()),
		"millisString": "1710523800000",
		"rfc3339":      "2024-03-15T17:30:00Z",
		"secondsPair":  map[string]any{"seconds": float64(want.Unix()), "nanoseconds": float64(0)},
	}
	for name, v := range cases {
		r := Ride("r1", store.Doc{"pickupTime": v})
		if r.PickupTime == nil {
			t.Fatalf("%s: pickupTime nil", name)
		}
		if !r.PickupTime.Equal(want) {
			t.Fatalf("%s: pickupTime = %v, want %v", name, r.PickupTime, want)
		}
	}
}

func TestRideUnparseableTimestampDropped(t *testing.T) {
	r := Ride("r1", store.Doc{"pickupTime": "not a time", "createdAt": map[string]any{"bogus": true}})
	if r.PickupTime != nil || r.CreatedAt != nil {
		t.Fatalf("garbage timestamps should normalize to nil: %v %v", r.PickupTime, r.CreatedAt)
	}
}

func TestRideDurationShapes(t *testing.T) {
	for name, v := range map[string]any{
		"int":    45,
		"float":  45.0,
		"string": "45",
		"object": map[string]any{"minutes": 45},
	} {
		r := Ride("r1", store.Doc{"rideDuration": v})
		if r.RideDuration == nil || *r.RideDuration != 45 {
			t.Fatalf("%s: duration = %v", name, r.RideDuration)
		}
	}
	r := Ride("r1", store.Doc{"rideDuration": "NaN"})
	if r.RideDuration != nil {
		t.Fatalf("NaN duration should be dropped, got %v", *r.RideDuration)
	}
}

func TestRideVehicleObjectCollapse(t *testing.T) {
	r := Ride("r1", store.Doc{"vehicle": map[string]any{"label": "Van 3", "make": "Ford"}})
	if r.Vehicle != "Van 3" {
		t.Fatalf("label should win: %q", r.Vehicle)
	}

	r = Ride("r1", store.Doc{"vehicle": map[string]any{"make": "Ford", "model": "Transit", "trim": "XLT"}})
	if r.Vehicle != "Ford Transit XLT" {
		t.Fatalf("make+model+trim collapse: %q", r.Vehicle)
	}

	// a nested object under a priority key must not hijack the priority
	r = Ride("r1", store.Doc{"vehicle": map[string]any{"name": map[string]any{"label": "inner"}, "unit": "17"}})
	if r.Vehicle != "17" {
		t.Fatalf("nested object recursed into priority list: %q", r.Vehicle)
	}
}

func TestRideClaimedByCollapse(t *testing.T) {
	r := Ride("r1", store.Doc{"claimed_user": map[string]any{"email": "A@X.com", "name": "Alice"}})
	if r.ClaimedBy != "a@x.com" {
		t.Fatalf("claimedBy = %q", r.ClaimedBy)
	}
	if r.ClaimedByName != "Alice" {
		t.Fatalf("claimedByName fallback = %q", r.ClaimedByName)
	}
}

func TestRideNotesShapes(t *testing.T) {
	r := Ride("r1", store.Doc{"rideNotes": []any{
		map[string]any{"text": "wheelchair"},
		"call on arrival",
	}})
	if r.RideNotes != "wheelchair, call on arrival" {
		t.Fatalf("notes = %q", r.RideNotes)
	}
}

func TestRideDefaults(t *testing.T) {
	r := Ride("r1", nil)
	if r.Status != models.StatusQueued {
		t.Fatalf("default status = %q", r.Status)
	}
	r = Ride("", store.Doc{"id": "from-doc"})
	if r.ID != "from-doc" {
		t.Fatalf("id fallback = %q", r.ID)
	}
}

func TestRideNeverPanicsOnGarbage(t *testing.T) {
	garbage := store.Doc{
		"tripId":       []any{map[string]any{"x": func() {}}},
		"pickupTime":   []byte("nope"),
		"rideDuration": map[string]any{"minutes": "NaN"},
		"vehicle":      42.5,
		"claimedBy":    []any{nil, 3},
		"status":       map[string]any{},
	}
	r := Ride("r1", garbage)
	if r.ID != "r1" {
		t.Fatalf("id = %q", r.ID)
	}
}

func TestRideNormalizationIdempotent(t *testing.T) {
	raw := store.Doc{
		"tripId":     "T1",
		"pickupTime": int64(1710523800000),
		"vehicle":    map[string]any{"make": "Ford", "model": "Transit"},
		"claimedBy":  "A@X.com",
		"status":     "claimed",
	}
	first := Ride("r1", raw)
	second := Ride(first.ID, store.Doc(first.Doc()))
	if second.TripID != first.TripID || second.Vehicle != first.Vehicle ||
		second.ClaimedBy != first.ClaimedBy || second.Status != first.Status {
		t.Fatalf("re-normalization drifted: %+v vs %+v", first, second)
	}
	if second.PickupTime == nil || !second.PickupTime.Equal(*first.PickupTime) {
		t.Fatalf("pickupTime drifted: %v vs %v", second.PickupTime, first.PickupTime)
	}
}

func TestUserEmailPriority(t *testing.T) {
	u := map[string]any{
		"primaryEmail": "primary@x.com",
		"loginEmail":   "login@x.com",
	}
	if got := UserEmail(u); got != "primary@x.com" {
		t.Fatalf("got %q", got)
	}
	u = map[string]any{"claims": map[string]any{"email": "Claims@X.com"}}
	if got := UserEmail(u); got != "claims@x.com" {
		t.Fatalf("nested claims email: %q", got)
	}
	if got := UserEmail(map[string]any{"displayName": "nobody"}); got != "" {
		t.Fatalf("want empty, got %q", got)
	}
}

func TestUserNamePriority(t *testing.T) {
	u := map[string]any{"name": "Plain", "displayName": "Display"}
	if got := UserName(u, "a@x.com"); got != "Display" {
		t.Fatalf("got %q", got)
	}
	if got := UserName(map[string]any{}, "a@x.com"); got != "a@x.com" {
		t.Fatalf("email fallback: %q", got)
	}
	if got := UserName(map[string]any{}, ""); got != "Unknown" {
		t.Fatalf("unknown fallback: %q", got)
	}
}
