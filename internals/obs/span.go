package obs

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
)

type ctxKey string

const DeliveryIDKey ctxKey = "delivery_id"

// WithDeliveryID tags ctx so spans log which delivery they ran for.
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, DeliveryIDKey, id)
}

// DeliveryID returns the delivery ctx was tagged with, or "-".
func DeliveryID(ctx context.Context) string {
	if id, _ := ctx.Value(DeliveryIDKey).(string); id != "" {
		return id
	}
	return "-"
}

// Span covers one step of preparing a delivery's simulation: resolving the
// destination, fetching directions, building the route. End logs a single
// line carrying the delivery, the step and whatever the step noted, such as
// the geocoding tier that answered or how many waypoints the route kept.
//
//	sp := obs.Start(ctx, "geocode")
//	defer sp.End(&err)
//	sp.Note("tier", src)
type Span struct {
	delivery string
	step     string
	start    time.Time
	notes    []string
}

func Start(ctx context.Context, step string) *Span {
	return &Span{
		delivery: DeliveryID(ctx),
		step:     step,
		start:    time.Now(),
	}
}

// Note attaches key=v to the span's log line. Later notes for the same key
// replace earlier ones.
func (s *Span) Note(key string, v any) *Span {
	kv := fmt.Sprintf("%s=%v", key, v)
	for i, n := range s.notes {
		if strings.HasPrefix(n, key+"=") {
			s.notes[i] = kv
			return s
		}
	}
	s.notes = append(s.notes, kv)
	return s
}

// End logs the span. errp may be nil for steps that cannot fail.
func (s *Span) End(errp *error) {
	var b strings.Builder
	fmt.Fprintf(&b, "delivery_id=%s step=%s", s.delivery, s.step)
	for _, n := range s.notes {
		b.WriteByte(' ')
		b.WriteString(n)
	}
	fmt.Fprintf(&b, " dur=%dms", time.Since(s.start).Milliseconds())
	if errp != nil && *errp != nil {
		fmt.Fprintf(&b, " err=%v", *errp)
	}
	log.Print(b.String())
}
