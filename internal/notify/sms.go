package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/store"
)

// ComposeSMS renders the driver-facing claim text from the ride document,
// tolerating the same legacy field variants the normalizer does.
func ComposeSMS(rideID string, ride store.Doc) string {
	tripID := normalize.Text(firstOf(ride, "tripId", "tripID", "TripId"))
	if tripID == "" {
		tripID = rideID
	}
	vehicle := normalize.Text(firstOf(ride, "vehicleName", "vehicle", "unit"))
	if vehicle == "" {
		vehicle = "Vehicle"
	}
	rideType := normalize.Text(firstOf(ride, "rideType", "type"))
	if rideType == "" {
		rideType = "N/A"
	}
	notes := normalize.NotesText(firstOf(ride, "rideNotes", "notes"))
	if notes == "" {
		notes = "none"
	}
	return fmt.Sprintf("Trip ID: %s\nVehicle: %s\nTrip Type: %s\nTrip Notes: %s", tripID, vehicle, rideType, notes)
}

func firstOf(doc store.Doc, keys ...string) any {
	for _, key := range keys {
		if v, ok := doc[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

// SMSSender posts {to, body} JSON to the SMS gateway webhook with an
// optional bearer key. The gateway owns carrier specifics.
type SMSSender struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewSMSSender(endpoint, key string) *SMSSender {
	return &SMSSender{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (s *SMSSender) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{"to": to, "body": body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Key != "" {
		req.Header.Set("Authorization", "Bearer "+s.Key)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway status %d", resp.StatusCode)
	}
	return nil
}
