// Package notify delivers best-effort driver notifications after lifecycle
// operations commit. Nothing here may block or roll back a claim: failures
// are logged and dropped.
package notify

import (
	"context"
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
)

// Notifier pushes one ride event toward a driver.
type Notifier interface {
	Notify(ctx context.Context, event models.RideEvent) error
}

// Fanout sends an event through every notifier, logging failures instead of
// propagating them.
type Fanout struct {
	Notifiers []Notifier
	Log       *slog.Logger
}

func NewFanout(log *slog.Logger, notifiers ...Notifier) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{Notifiers: notifiers, Log: log}
}

func (f *Fanout) Notify(ctx context.Context, event models.RideEvent) error {
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, event); err != nil {
			f.Log.Warn("notification failed", "type", event.Type, "ride_id", event.RideID, "driver", event.Driver, "error", err)
		}
	}
	return nil
}
