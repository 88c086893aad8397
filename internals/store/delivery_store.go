package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thebowwman/delisim/internals/domain"
)

var (
	ErrNotFound      = errors.New("delivery not found")
	ErrInvalidStatus = errors.New("invalid delivery status")
)

// DeliveryStore is the in-memory delivery repository used when no database
// is configured.
type DeliveryStore struct {
	mu  sync.RWMutex
	m   map[string]*domain.Delivery
	now func() time.Time
}

func NewDeliveryStore() *DeliveryStore {
	return &DeliveryStore{m: make(map[string]*domain.Delivery), now: time.Now}
}

// NewTrackingNumber returns a short human-facing tracking code.
func NewTrackingNumber() string {
	return "TRK-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Create stores a new delivery for address in the processing status.
func (s *DeliveryStore) Create(ctx context.Context, address string) (*domain.Delivery, error) {
	now := s.now()
	d := &domain.Delivery{
		ID:             uuid.NewString(),
		TrackingNumber: NewTrackingNumber(),
		Status:         domain.StatusProcessing,
		Address:        address,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.m[d.ID] = d
	s.mu.Unlock()

	cp := *d
	return &cp, nil
}

// Get returns a copy of the delivery.
func (s *DeliveryStore) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.m[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (s *DeliveryStore) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) (*domain.Delivery, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return nil, fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	d.Status = status
	d.UpdatedAt = s.now()
	if status == domain.StatusDelivered && d.DeliveredAt == nil {
		at := d.UpdatedAt
		d.DeliveredAt = &at
	}
	cp := *d
	return &cp, nil
}

func (s *DeliveryStore) GetDeliveryAddress(ctx context.Context, id string) (string, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Address, nil
}

func (s *DeliveryStore) GetDeliveryStatus(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return d.Status, nil
}

func (s *DeliveryStore) UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return fmt.Errorf("update position %s: %w", id, ErrNotFound)
	}
	d.Current = &domain.Coordinate{Lat: lat, Lng: lng}
	d.UpdatedAt = s.now()
	return nil
}

func (s *DeliveryStore) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.m[id]
	if !ok {
		return fmt.Errorf("mark delivered %s: %w", id, ErrNotFound)
	}
	d.Status = domain.StatusDelivered
	d.DeliveredAt = &at
	d.UpdatedAt = s.now()
	return nil
}
