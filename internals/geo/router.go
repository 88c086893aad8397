package geo

import (
	"context"
	"log"
	"math"
	"math/rand/v2"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/obs"
)

// Directions fetches a driving path between two points from an external service.
type Directions interface {
	Directions(ctx context.Context, start, end domain.Coordinate) ([]domain.Coordinate, error)
}

// Router builds simulation routes. Real road geometry is preferred; any failure
// falls back to a jittered straight line.
type Router struct {
	directions Directions
	jitter     float64
	timeout    time.Duration
	rand       func() float64
}

func NewRouter(directions Directions, jitter float64, timeout time.Duration) *Router {
	return &Router{
		directions: directions,
		jitter:     jitter,
		timeout:    timeout,
		rand:       rand.Float64,
	}
}

// BuildRoute returns a route from start to end whose last waypoint is exactly end.
// targetSteps below 1 is treated as 1.
func (r *Router) BuildRoute(ctx context.Context, start, end domain.Coordinate, targetSteps int) (route domain.Route) {
	if targetSteps < 1 {
		targetSteps = 1
	}
	sp := obs.Start(ctx, "route").Note("target", targetSteps)
	defer func() {
		sp.Note("waypoints", len(route))
		sp.End(nil)
	}()

	if raw, ok := r.fetch(ctx, start, end); ok {
		route = Downsample(raw, targetSteps)
		if route.Last() != end {
			route = append(route, end)
		}
		sp.Note("source", "road").Note("raw", len(raw))
		return route
	}

	sp.Note("source", "interpolated")
	return r.Interpolate(start, end, targetSteps)
}

func (r *Router) fetch(ctx context.Context, start, end domain.Coordinate) ([]domain.Coordinate, bool) {
	if r.directions == nil {
		return nil, false
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	raw, err := r.directions.Directions(ctx, start, end)
	if err != nil {
		log.Printf("route: directions failed, using interpolation: err=%v", err)
		return nil, false
	}
	if len(raw) < 2 {
		log.Printf("route: directions returned %d points, using interpolation", len(raw))
		return nil, false
	}
	return raw, true
}

// Downsample keeps at most targetSteps evenly spaced points of raw, then
// appends raw's last point so the path still ends where it ended.
func Downsample(raw []domain.Coordinate, targetSteps int) domain.Route {
	if len(raw) <= targetSteps {
		out := make(domain.Route, len(raw))
		copy(out, raw)
		return out
	}

	out := make(domain.Route, 0, targetSteps+1)
	step := float64(len(raw)) / float64(targetSteps)
	for i := 0; i < targetSteps; i++ {
		out = append(out, raw[int(math.Floor(float64(i)*step))])
	}
	return append(out, raw[len(raw)-1])
}

// Interpolate returns targetSteps+1 points on the segment start→end. Interior
// points get independent random offsets of up to ±jitter degrees.
func (r *Router) Interpolate(start, end domain.Coordinate, targetSteps int) domain.Route {
	if targetSteps < 1 {
		targetSteps = 1
	}

	out := make(domain.Route, 0, targetSteps+1)
	for i := 0; i <= targetSteps; i++ {
		switch i {
		case 0:
			out = append(out, start)
			continue
		case targetSteps:
			out = append(out, end)
			continue
		}

		p := float64(i) / float64(targetSteps)
		out = append(out, domain.Coordinate{
			Lat: start.Lat + (end.Lat-start.Lat)*p + (r.rand()*2-1)*r.jitter,
			Lng: start.Lng + (end.Lng-start.Lng)*p + (r.rand()*2-1)*r.jitter,
		})
	}
	return out
}

// Heading is the initial great-circle bearing from a to b in degrees [0, 360).
func Heading(a, b domain.Coordinate) float64 {
	if a == b {
		return 0
	}
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	x := math.Sin(dLng) * math.Cos(lat2)
	y := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := math.Atan2(x, y) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
