package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/geo"
	"github.com/thebowwman/delisim/internals/publish"
)

type recordingPublisher struct {
	mu      sync.Mutex
	events  []domain.Position
	arrived chan string
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{arrived: make(chan string, 16)}
}

func (p *recordingPublisher) Publish(ctx context.Context, pos domain.Position) {
	p.mu.Lock()
	p.events = append(p.events, pos)
	p.mu.Unlock()
	if pos.Kind == domain.UpdateArrived {
		select {
		case p.arrived <- pos.DeliveryID:
		default:
		}
	}
}

func (p *recordingPublisher) For(id string) []domain.Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Position
	for _, e := range p.events {
		if e.DeliveryID == id {
			out = append(out, e)
		}
	}
	return out
}

type fakeRepo struct {
	mu        sync.Mutex
	addresses map[string]string
	status    map[string]domain.DeliveryStatus
	positions map[string]domain.Coordinate
	delivered map[string]int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		addresses: map[string]string{},
		status:    map[string]domain.DeliveryStatus{},
		positions: map[string]domain.Coordinate{},
		delivered: map[string]int{},
	}
}

var errMissing = errors.New("missing")

func (r *fakeRepo) GetDeliveryAddress(ctx context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.addresses[id]
	if !ok {
		return "", errMissing
	}
	return a, nil
}

func (r *fakeRepo) UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[id] = domain.Coordinate{Lat: lat, Lng: lng}
	return nil
}

func (r *fakeRepo) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[id]++
	r.status[id] = domain.StatusDelivered
	return nil
}

func (r *fakeRepo) GetDeliveryStatus(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[id]
	if !ok {
		return "", errMissing
	}
	return s, nil
}

func (r *fakeRepo) deliveredCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delivered[id]
}

type failingDirections struct{}

func (failingDirections) Directions(ctx context.Context, start, end domain.Coordinate) ([]domain.Coordinate, error) {
	return nil, errors.New("network unreachable")
}

var depot = domain.Coordinate{Lat: 36.8283, Lng: 10.1583}

func newTestScheduler(t *testing.T, steps int, interval time.Duration) (*Scheduler, *recordingPublisher, *fakeRepo) {
	t.Helper()

	pub := newRecordingPublisher()
	repo := newFakeRepo()
	g := geo.NewGeocoder(geo.GeocoderOptions{
		Default: domain.Coordinate{Lat: 36.8065, Lng: 10.1815},
		Jitter:  0.005,
	})
	r := geo.NewRouter(failingDirections{}, 0.0005, time.Second)

	s := NewScheduler(Options{
		Depot:          depot,
		TargetSteps:    steps,
		TickInterval:   interval,
		FirstTickDelay: interval,
		Workers:        5,
		SpeedMin:       30,
		SpeedMax:       50,
	}, g, r, pub, NewCompletion(repo, time.Second), repo)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return s, pub, repo
}

func waitArrived(t *testing.T, pub *recordingPublisher, id string) {
	t.Helper()
	select {
	case got := <-pub.arrived:
		if got != id {
			t.Fatalf("arrived for %q, want %q", got, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %q to arrive", id)
	}
}

// waitIdle waits until the task for id has left the registry, which happens
// after its completion has run.
func waitIdle(t *testing.T, s *Scheduler, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.IsRunning(id) {
		if time.Now().After(deadline) {
			t.Fatalf("%q still running", id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStartMenzahRunsToCompletion(t *testing.T) {
	s, pub, repo := newTestScheduler(t, 40, time.Millisecond)
	repo.status["D1"] = domain.StatusInTransit

	if !s.Start(context.Background(), "D1", "Menzah") {
		t.Fatal("Start returned false")
	}
	waitArrived(t, pub, "D1")
	waitIdle(t, s, "D1")

	events := pub.For("D1")
	first := events[0]
	if first.Kind != domain.UpdateRoute {
		t.Fatalf("first event kind = %q, want %q", first.Kind, domain.UpdateRoute)
	}
	if n := len(first.Route); n != 41 && n != 42 {
		t.Fatalf("route has %d waypoints, want 41 or 42", n)
	}
	if first.Route.Last() != depot {
		t.Fatalf("route ends at %+v, want Menzah %+v", first.Route.Last(), depot)
	}
	if first.At != depot || first.Speed != 0 {
		t.Fatalf("route event at %+v speed %.1f, want depot with speed 0", first.At, first.Speed)
	}

	last := events[len(events)-1]
	if last.Kind != domain.UpdateArrived || last.Speed != 0 {
		t.Fatalf("last event = %+v, want arrived with speed 0", last)
	}
	if last.At != first.Route.Last() {
		t.Fatalf("arrived at %+v, want %+v", last.At, first.Route.Last())
	}

	// Position ticks cover every waypoint exactly once.
	if got, want := len(events), len(first.Route)+2; got != want {
		t.Fatalf("published %d events, want %d", got, want)
	}
	for i, e := range events[1 : len(events)-1] {
		if e.Kind != domain.UpdatePosition {
			t.Fatalf("event %d kind = %q", i, e.Kind)
		}
		if e.Step != i {
			t.Fatalf("event %d has step %d", i, e.Step)
		}
		if e.Speed < 30 || e.Speed > 50 {
			t.Fatalf("event %d speed %.2f out of range", i, e.Speed)
		}
		if len(e.Route) != len(first.Route) {
			t.Fatalf("event %d carries %d waypoints, want full route", i, len(e.Route))
		}
	}

	if got := repo.deliveredCount("D1"); got != 1 {
		t.Fatalf("MarkDeliveryDelivered called %d times, want 1", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s, pub, _ := newTestScheduler(t, 5, 20*time.Millisecond)

	if !s.Start(context.Background(), "D1", "Lac 2") {
		t.Fatal("first Start returned false")
	}
	if s.Start(context.Background(), "D1", "Lac 2") {
		t.Fatal("second Start returned true")
	}
	if got := s.Registry().Len(); got != 1 {
		t.Fatalf("registry holds %d tasks, want 1", got)
	}

	waitArrived(t, pub, "D1")
	waitIdle(t, s, "D1")

	routes := 0
	for _, e := range pub.For("D1") {
		if e.Kind == domain.UpdateRoute {
			routes++
		}
	}
	if routes != 1 {
		t.Fatalf("%d route announcements, want 1", routes)
	}
}

func TestStopCancelsTicks(t *testing.T) {
	s, pub, repo := newTestScheduler(t, 40, 5*time.Millisecond)

	s.Start(context.Background(), "D1", "Ariana")
	time.Sleep(30 * time.Millisecond)

	if !s.Stop("D1") {
		t.Fatal("Stop returned false for running task")
	}
	if s.IsRunning("D1") {
		t.Fatal("D1 still running after Stop")
	}
	n := len(pub.For("D1"))

	time.Sleep(50 * time.Millisecond)
	if got := len(pub.For("D1")); got != n {
		t.Fatalf("published %d events after Stop returned", got-n)
	}
	if repo.deliveredCount("D1") != 0 {
		t.Fatal("stopped delivery was marked delivered")
	}
}

func TestStopUnknownIsNoop(t *testing.T) {
	s, _, _ := newTestScheduler(t, 40, 20*time.Millisecond)
	if !s.Start(context.Background(), "D1", "Lac 1") {
		t.Fatal("Start returned false")
	}

	beforeLen, beforeIDs := s.Registry().Len(), s.Registry().IDs()
	if s.Stop("nope") {
		t.Fatal("Stop returned true for unknown id")
	}
	afterLen, afterIDs := s.Registry().Len(), s.Registry().IDs()

	if beforeLen != 1 || afterLen != beforeLen {
		t.Fatalf("registry len before=%d after=%d, want 1 both times", beforeLen, afterLen)
	}
	if len(afterIDs) != 1 || afterIDs[0] != beforeIDs[0] || afterIDs[0] != "D1" {
		t.Fatalf("registry ids before=%v after=%v, want [D1]", beforeIDs, afterIDs)
	}
	if !s.IsRunning("D1") {
		t.Fatal("D1 stopped by Stop of another id")
	}
}

func TestConcurrentStartStop(t *testing.T) {
	s, pub, _ := newTestScheduler(t, 40, time.Millisecond)

	for i := 0; i < 50; i++ {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Start(context.Background(), "D1", "Marsa")
		}()
		go func() {
			defer wg.Done()
			s.Stop("D1")
		}()
		wg.Wait()
		s.Stop("D1")

		n := len(pub.For("D1"))
		time.Sleep(3 * time.Millisecond)
		if got := len(pub.For("D1")); got != n {
			t.Fatalf("iteration %d: %d events after Stop returned", i, got-n)
		}
		if s.IsRunning("D1") {
			t.Fatalf("iteration %d: task left running", i)
		}
	}
}

func TestStartDeliveryUnknownIsSkipped(t *testing.T) {
	s, pub, _ := newTestScheduler(t, 5, time.Millisecond)

	if s.StartDelivery(context.Background(), "ghost") {
		t.Fatal("StartDelivery returned true for unknown delivery")
	}
	if len(pub.For("ghost")) != 0 {
		t.Fatal("unknown delivery published events")
	}
}

func TestStartDeliveryUsesRepositoryAddress(t *testing.T) {
	s, pub, repo := newTestScheduler(t, 3, time.Millisecond)
	repo.addresses["D7"] = "Carthage"
	repo.status["D7"] = domain.StatusOutForDelivery

	if !s.StartDelivery(context.Background(), "D7") {
		t.Fatal("StartDelivery returned false")
	}
	waitArrived(t, pub, "D7")

	want, _ := geo.DefaultKeywords.Lookup("Carthage")
	if got := pub.For("D7")[0].Route.Last(); got != want {
		t.Fatalf("route ends at %+v, want %+v", got, want)
	}
}

func TestShutdownRefusesNewStarts(t *testing.T) {
	s, _, _ := newTestScheduler(t, 40, 5*time.Millisecond)
	s.Start(context.Background(), "D1", "Bardo")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s.Start(context.Background(), "D2", "Bardo") {
		t.Fatal("Start succeeded after Shutdown")
	}
}

// stuckRecorder blocks position writes for one delivery until released or
// the write times out.
type stuckRecorder struct {
	id      string
	release chan struct{}
}

func (r *stuckRecorder) UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error {
	if id != r.id {
		return nil
	}
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tickClock records when each position was handed to the publisher.
type tickClock struct {
	Publisher
	mu    sync.Mutex
	ticks map[string][]time.Time
}

func (c *tickClock) Publish(ctx context.Context, pos domain.Position) {
	if pos.Kind == domain.UpdatePosition {
		c.mu.Lock()
		c.ticks[pos.DeliveryID] = append(c.ticks[pos.DeliveryID], time.Now())
		c.mu.Unlock()
	}
	c.Publisher.Publish(ctx, pos)
}

func (c *tickClock) For(id string) []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.ticks[id]...)
}

func TestSlowPositionWriteDoesNotDelayOtherDeliveries(t *testing.T) {
	rec := &stuckRecorder{id: "SLOW", release: make(chan struct{})}
	pub := publish.New(publish.Options{RecordTimeout: 300 * time.Millisecond}, rec)
	t.Cleanup(func() {
		close(rec.release)
		pub.Close()
	})

	clock := &tickClock{Publisher: pub, ticks: map[string][]time.Time{}}
	repo := newFakeRepo()
	g := geo.NewGeocoder(geo.GeocoderOptions{Default: domain.Coordinate{Lat: 36.8065, Lng: 10.1815}})
	r := geo.NewRouter(failingDirections{}, 0.0005, time.Second)
	s := NewScheduler(Options{
		Depot:          depot,
		TargetSteps:    200,
		TickInterval:   10 * time.Millisecond,
		FirstTickDelay: 10 * time.Millisecond,
		Workers:        1,
		SpeedMin:       30,
		SpeedMax:       50,
	}, g, r, clock, NewCompletion(repo, time.Second), repo)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	s.Start(context.Background(), "SLOW", "Manouba")
	s.Start(context.Background(), "FAST", "Ariana")
	time.Sleep(500 * time.Millisecond)
	s.Stop("SLOW")
	s.Stop("FAST")

	ticks := clock.For("FAST")
	if len(ticks) < 10 {
		t.Fatalf("FAST ticked %d times in 500ms with a 10ms interval", len(ticks))
	}
	var maxGap time.Duration
	for i := 1; i < len(ticks); i++ {
		if d := ticks[i].Sub(ticks[i-1]); d > maxGap {
			maxGap = d
		}
	}
	if maxGap >= 150*time.Millisecond {
		t.Fatalf("FAST max gap between ticks = %s, stalled behind SLOW's position writes", maxGap)
	}
	if len(clock.For("SLOW")) < 10 {
		t.Fatalf("SLOW ticked %d times, its own ticks should not wait on the database", len(clock.For("SLOW")))
	}
}
