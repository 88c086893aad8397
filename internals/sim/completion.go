package sim

import (
	"context"
	"log"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
)

// Completion marks a delivery delivered when its simulation arrives.
type Completion struct {
	repo    DeliveryRepository
	timeout time.Duration
	now     func() time.Time
}

func NewCompletion(repo DeliveryRepository, timeout time.Duration) *Completion {
	return &Completion{repo: repo, timeout: timeout, now: time.Now}
}

// Complete writes the final position and sets the delivered status unless the
// record is already delivered. Failures are logged only.
func (c *Completion) Complete(ctx context.Context, deliveryID string, final domain.Coordinate) {
	// The task is finishing on its own; a concurrent stop must not abort the write.
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	status, err := c.repo.GetDeliveryStatus(ctx, deliveryID)
	switch {
	case err != nil:
		log.Printf("delivery_id=%s complete: read status failed: %v", deliveryID, err)
	case status == domain.StatusDelivered:
		log.Printf("delivery_id=%s complete: already delivered", deliveryID)
		return
	}

	if err := c.repo.UpdateDeliveryPosition(ctx, deliveryID, final.Lat, final.Lng); err != nil {
		log.Printf("delivery_id=%s complete: write final position failed: %v", deliveryID, err)
	}

	if err := c.repo.MarkDeliveryDelivered(ctx, deliveryID, c.now()); err != nil {
		log.Printf("delivery_id=%s complete: mark delivered failed: %v", deliveryID, err)
		return
	}
	log.Printf("delivery_id=%s marked delivered at (%.6f, %.6f)", deliveryID, final.Lat, final.Lng)
}
