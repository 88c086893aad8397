package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/geo"
	"github.com/thebowwman/delisim/internals/obs"
)

type Options struct {
	Depot          domain.Coordinate
	TargetSteps    int
	TickInterval   time.Duration
	FirstTickDelay time.Duration
	Workers        int
	SpeedMin       float64
	SpeedMax       float64
}

// Scheduler drives one ticking goroutine per active delivery. Tick handlers
// run inside a bounded set of worker slots, so at most Workers ticks execute
// at once while each delivery's ticks stay strictly ordered.
type Scheduler struct {
	opts      Options
	geocoder  Geocoder
	router    Router
	publisher Publisher
	completer Completer
	repo      DeliveryRepository

	reg   *Registry
	slots chan struct{}
	rand  func() float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(
	opts Options,
	geocoder Geocoder,
	router Router,
	publisher Publisher,
	completer Completer,
	repo DeliveryRepository,
) *Scheduler {
	if opts.TargetSteps < 1 {
		opts.TargetSteps = 1
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:      opts,
		geocoder:  geocoder,
		router:    router,
		publisher: publisher,
		completer: completer,
		repo:      repo,
		reg:       NewRegistry(),
		slots:     make(chan struct{}, opts.Workers),
		rand:      rand.Float64,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Scheduler) Registry() *Registry { return s.reg }

// Start begins simulating deliveryID toward address. It is a no-op when a
// simulation for deliveryID is already running. Reports whether a new
// simulation was started.
func (s *Scheduler) Start(ctx context.Context, deliveryID, address string) bool {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return false
	}

	unlock := s.reg.lock(deliveryID)
	defer unlock()

	if s.reg.Has(deliveryID) {
		log.Printf("delivery_id=%s simulation already running", deliveryID)
		return false
	}
	if s.ctx.Err() != nil {
		log.Printf("delivery_id=%s scheduler shut down, not starting", deliveryID)
		return false
	}

	ctx = obs.WithDeliveryID(ctx, deliveryID)
	dest := s.geocoder.Resolve(ctx, address)
	route := s.router.BuildRoute(ctx, s.opts.Depot, dest, s.opts.TargetSteps)

	tctx, cancel := context.WithCancel(obs.WithDeliveryID(s.ctx, deliveryID))
	t := &Task{
		DeliveryID:  deliveryID,
		Route:       route,
		Destination: route.Last(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.reg.put(t)

	s.publisher.Publish(tctx, domain.Position{
		Kind:        domain.UpdateRoute,
		DeliveryID:  deliveryID,
		At:          s.opts.Depot,
		Destination: t.Destination,
		Route:       route,
		Message:     "Simulation started - route calculated",
	})

	s.wg.Add(1)
	go s.run(tctx, t)

	log.Printf("delivery_id=%s simulation started address=%q waypoints=%d dest=(%.6f, %.6f)",
		deliveryID, address, len(route), t.Destination.Lat, t.Destination.Lng)
	return true
}

// StartDelivery looks up the delivery's address and starts its simulation.
// A delivery that cannot be found is logged and skipped.
func (s *Scheduler) StartDelivery(ctx context.Context, deliveryID string) bool {
	if s.IsRunning(deliveryID) {
		return false
	}
	address, err := s.repo.GetDeliveryAddress(ctx, deliveryID)
	if err != nil {
		log.Printf("delivery_id=%s start skipped: %v", deliveryID, err)
		return false
	}
	return s.Start(ctx, deliveryID, address)
}

// Stop cancels the simulation for deliveryID and waits until its goroutine
// has exited. Safe to call when nothing is running. Reports whether a
// simulation was stopped.
func (s *Scheduler) Stop(deliveryID string) bool {
	unlock := s.reg.lock(deliveryID)
	defer unlock()

	t := s.reg.remove(deliveryID)
	if t == nil {
		return false
	}
	t.cancel()
	<-t.done

	log.Printf("delivery_id=%s simulation stopped at step %d/%d", deliveryID, t.step, len(t.Route))
	return true
}

func (s *Scheduler) IsRunning(deliveryID string) bool {
	return s.reg.Has(deliveryID)
}

// Shutdown cancels every simulation and waits for their goroutines or ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	for _, t := range s.reg.snapshot() {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) run(ctx context.Context, t *Task) {
	defer s.wg.Done()
	defer close(t.done)
	defer s.reg.removeIf(t)
	defer t.cancel()

	timer := time.NewTimer(s.opts.FirstTickDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		select {
		case s.slots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		state := s.tick(ctx, t)
		<-s.slots

		switch state {
		case tickGone:
			return
		case tickArrived:
			// Completion writes to the repository; it runs outside the
			// worker slot so a slow database only delays this task.
			s.completer.Complete(ctx, t.DeliveryID, t.Route.Last())
			log.Printf("delivery_id=%s simulation complete, driver arrived", t.DeliveryID)
			return
		}
		timer.Reset(s.opts.TickInterval)
	}
}

type tickState int

const (
	tickMoved tickState = iota
	tickArrived
	tickGone
)

// tick advances t by one step. It only touches memory and the publisher's
// queues, so it never blocks on I/O while holding a worker slot.
func (s *Scheduler) tick(ctx context.Context, t *Task) tickState {
	if ctx.Err() != nil || !s.reg.owns(t) {
		return tickGone
	}

	if t.step >= len(t.Route) {
		s.publisher.Publish(ctx, domain.Position{
			Kind:        domain.UpdateArrived,
			DeliveryID:  t.DeliveryID,
			Step:        t.step,
			At:          t.Route.Last(),
			Destination: t.Destination,
			Route:       t.Route,
			Message:     "Driver arrived at destination",
		})
		return tickArrived
	}

	at := t.Route[t.step]
	var heading float64
	if t.step+1 < len(t.Route) {
		heading = geo.Heading(at, t.Route[t.step+1])
	}

	s.publisher.Publish(ctx, domain.Position{
		Kind:        domain.UpdatePosition,
		DeliveryID:  t.DeliveryID,
		Step:        t.step,
		At:          at,
		Destination: t.Destination,
		Route:       t.Route,
		Speed:       s.speed(),
		Heading:     heading,
		Message:     fmt.Sprintf("En route - %d points remaining", len(t.Route)-t.step),
	})

	t.step++
	return tickMoved
}

func (s *Scheduler) speed() float64 {
	return s.opts.SpeedMin + s.rand()*(s.opts.SpeedMax-s.opts.SpeedMin)
}
