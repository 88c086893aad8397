package sim

import (
	"context"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
)

// DeliveryRepository is the persistence collaborator the simulation reads
// addresses from and writes live positions and completion to.
type DeliveryRepository interface {
	GetDeliveryAddress(ctx context.Context, id string) (string, error)
	UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error
	MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error
	GetDeliveryStatus(ctx context.Context, id string) (domain.DeliveryStatus, error)
}

type Geocoder interface {
	Resolve(ctx context.Context, address string) domain.Coordinate
}

type Router interface {
	BuildRoute(ctx context.Context, start, end domain.Coordinate, targetSteps int) domain.Route
}

// Publisher broadcasts a position. Publish is called on the tick path: it
// must hand off I/O instead of waiting on it, and swallow its own failures.
type Publisher interface {
	Publish(ctx context.Context, p domain.Position)
}

// Completer finalizes a delivery once its simulated vehicle arrives.
type Completer interface {
	Complete(ctx context.Context, deliveryID string, final domain.Coordinate)
}
