package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/store"
)

type fakeSender struct {
	failures int
	calls    int
	to       string
	body     string
}

func (f *fakeSender) Send(_ context.Context, to, body string) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("gateway timeout")
	}
	f.to = to
	f.body = body
	return nil
}

func TestSendWithRetryRecovers(t *testing.T) {
	f := &fakeSender{failures: 2}
	if err := sendWithRetry(context.Background(), f, "+15551234567", "hi", 3, time.Microsecond); err != nil {
		t.Fatal(err)
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d", f.calls)
	}
}

func TestSendWithRetryExhausts(t *testing.T) {
	f := &fakeSender{failures: 10}
	err := sendWithRetry(context.Background(), f, "+15551234567", "hi", 3, time.Microsecond)
	if err == nil {
		t.Fatal("want error")
	}
	if f.calls != 3 {
		t.Fatalf("calls = %d", f.calls)
	}
}

func newDirectory(t *testing.T) *directory.Directory {
	t.Helper()
	ms := store.NewMemoryStore()
	err := ms.BatchWrite(context.Background(), []store.WriteOp{{
		Collection: "userAccess",
		ID:         "alice@x.com",
		Data:       store.Doc{"name": "Alice", "phone": "+15551234567"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return directory.New(ms, "userAccess", nil, nil)
}

func TestHandleEventSendsClaimSMS(t *testing.T) {
	dir := newDirectory(t)
	f := &fakeSender{}
	logger := logging.NewLogger("error")

	handleEvent(context.Background(), logger, dir, f, models.RideEvent{
		Type:   models.EventClaim,
		RideID: "r1",
		Driver: "alice@x.com",
		Ride:   map[string]any{"tripId": "T-481", "vehicle": "Van 3", "rideType": "ambulatory"},
	})
	if f.calls != 1 {
		t.Fatalf("calls = %d", f.calls)
	}
	if f.to != "+15551234567" {
		t.Fatalf("to = %q", f.to)
	}
	want := "Trip ID: T-481\nVehicle: Van 3\nTrip Type: ambulatory\nTrip Notes: none"
	if f.body != want {
		t.Fatalf("body = %q", f.body)
	}
}

func TestHandleEventSkipsNonClaimAndUnknownDrivers(t *testing.T) {
	dir := newDirectory(t)
	f := &fakeSender{}
	logger := logging.NewLogger("error")

	handleEvent(context.Background(), logger, dir, f, models.RideEvent{Type: models.EventUndo, Driver: "alice@x.com"})
	handleEvent(context.Background(), logger, dir, f, models.RideEvent{Type: models.EventClaim, Driver: "ghost@x.com"})
	if f.calls != 0 {
		t.Fatalf("calls = %d", f.calls)
	}
}
