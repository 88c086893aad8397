package publish

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
)

// Sink is one broadcast destination for location updates.
type Sink interface {
	Name() string
	Send(ctx context.Context, u domain.LocationUpdate, payload []byte) error
}

// PositionRecorder persists the live coordinate of a delivery.
type PositionRecorder interface {
	UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error
}

type Options struct {
	DriverLabel string
	// RecordTimeout bounds each position write.
	RecordTimeout time.Duration
	// QueueSize is the per-sink and recorder backlog; a full queue drops.
	QueueSize int
	// Writers is the number of concurrent position writes.
	Writers int
}

type message struct {
	update  domain.LocationUpdate
	payload []byte
}

type positionWrite struct {
	id string
	at domain.Coordinate
}

// Publisher turns simulated positions into LocationUpdate messages and hands
// them to per-sink queues and a position writer pool. Publish never waits on
// a sink or the database; a full queue drops the message and logs.
type Publisher struct {
	recorder PositionRecorder
	opts     Options
	now      func() time.Time

	sinks  []Sink
	queues []chan message
	writes chan positionWrite

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(opts Options, recorder PositionRecorder, sinks ...Sink) *Publisher {
	if opts.DriverLabel == "" {
		opts.DriverLabel = "Simulated driver"
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Writers <= 0 {
		opts.Writers = 4
	}

	p := &Publisher{
		recorder: recorder,
		opts:     opts,
		now:      time.Now,
		sinks:    sinks,
	}

	for _, s := range sinks {
		q := make(chan message, opts.QueueSize)
		p.queues = append(p.queues, q)
		p.wg.Add(1)
		go p.drain(s, q)
	}

	if recorder != nil {
		p.writes = make(chan positionWrite, opts.QueueSize)
		for i := 0; i < opts.Writers; i++ {
			p.wg.Add(1)
			go p.write()
		}
	}
	return p
}

// Message builds the wire message for p.
func (p *Publisher) Message(pos domain.Position) domain.LocationUpdate {
	return domain.LocationUpdate{
		Type:                 pos.Kind,
		DeliveryID:           pos.DeliveryID,
		Latitude:             pos.At.Lat,
		Longitude:            pos.At.Lng,
		Speed:                pos.Speed,
		Heading:              pos.Heading,
		DriverLabel:          p.opts.DriverLabel,
		Message:              pos.Message,
		Timestamp:            p.now().UnixMilli(),
		DestinationLatitude:  pos.Destination.Lat,
		DestinationLongitude: pos.Destination.Lng,
		RouteWaypoints:       pos.Route.Pairs(),
	}
}

func (p *Publisher) Publish(ctx context.Context, pos domain.Position) {
	u := p.Message(pos)
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("delivery_id=%s publish: marshal failed: %v", pos.DeliveryID, err)
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	for i, q := range p.queues {
		select {
		case q <- message{update: u, payload: payload}:
		default:
			log.Printf("delivery_id=%s publish: sink=%s queue full, dropped %s", pos.DeliveryID, p.sinks[i].Name(), pos.Kind)
		}
	}

	if pos.Kind == domain.UpdatePosition && p.writes != nil {
		select {
		case p.writes <- positionWrite{id: pos.DeliveryID, at: pos.At}:
		default:
			log.Printf("delivery_id=%s record position: queue full, dropped step %d", pos.DeliveryID, pos.Step)
		}
	}
}

// Close stops accepting updates and waits until queued ones are sent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	if p.writes != nil {
		close(p.writes)
	}
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Publisher) drain(s Sink, q <-chan message) {
	defer p.wg.Done()
	for m := range q {
		if err := s.Send(context.Background(), m.update, m.payload); err != nil {
			log.Printf("delivery_id=%s publish: sink=%s err=%v", m.update.DeliveryID, s.Name(), err)
		}
	}
}

func (p *Publisher) write() {
	defer p.wg.Done()
	for w := range p.writes {
		p.record(w)
	}
}

func (p *Publisher) record(w positionWrite) {
	ctx := context.Background()
	if p.opts.RecordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RecordTimeout)
		defer cancel()
	}
	if err := p.recorder.UpdateDeliveryPosition(ctx, w.id, w.at.Lat, w.at.Lng); err != nil {
		log.Printf("delivery_id=%s record position failed: %v", w.id, err)
	}
}
