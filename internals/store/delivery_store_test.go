package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/thebowwman/delisim/internals/domain"
)

func TestCreateAndGet(t *testing.T) {
	s := NewDeliveryStore()
	ctx := context.Background()

	d, err := s.Create(ctx, "Rue de Marseille, Tunis")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if d.ID == "" || !strings.HasPrefix(d.TrackingNumber, "TRK-") || len(d.TrackingNumber) != 14 {
		t.Fatalf("created delivery = %+v", d)
	}
	if d.Status != domain.StatusProcessing {
		t.Fatalf("status = %s, want processing", d.Status)
	}

	addr, err := s.GetDeliveryAddress(ctx, d.ID)
	if err != nil || addr != "Rue de Marseille, Tunis" {
		t.Fatalf("GetDeliveryAddress = %q, %v", addr, err)
	}

	// returned values are copies
	d.Address = "changed"
	got, _ := s.Get(ctx, d.ID)
	if got.Address == "changed" {
		t.Fatal("Create returned the stored pointer")
	}
}

func TestMissingDelivery(t *testing.T) {
	s := NewDeliveryStore()
	ctx := context.Background()

	if _, err := s.GetDeliveryAddress(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDeliveryAddress err = %v", err)
	}
	if err := s.UpdateDeliveryPosition(ctx, "nope", 1, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateDeliveryPosition err = %v", err)
	}
	if err := s.MarkDeliveryDelivered(ctx, "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkDeliveryDelivered err = %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "nope", domain.StatusFailed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus err = %v", err)
	}
}

func TestPositionAndCompletion(t *testing.T) {
	s := NewDeliveryStore()
	ctx := context.Background()
	d, _ := s.Create(ctx, "Menzah")

	if err := s.UpdateDeliveryPosition(ctx, d.ID, 36.8, 10.1); err != nil {
		t.Fatalf("UpdateDeliveryPosition: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := s.MarkDeliveryDelivered(ctx, d.ID, at); err != nil {
		t.Fatalf("MarkDeliveryDelivered: %v", err)
	}

	got, _ := s.Get(ctx, d.ID)
	if got.Current == nil || *got.Current != (domain.Coordinate{Lat: 36.8, Lng: 10.1}) {
		t.Fatalf("current = %+v", got.Current)
	}
	if got.Status != domain.StatusDelivered || got.DeliveredAt == nil || !got.DeliveredAt.Equal(at) {
		t.Fatalf("delivered = %s at %v", got.Status, got.DeliveredAt)
	}
	if st, _ := s.GetDeliveryStatus(ctx, d.ID); st != domain.StatusDelivered {
		t.Fatalf("GetDeliveryStatus = %s", st)
	}
}

func TestUpdateStatusValidates(t *testing.T) {
	s := NewDeliveryStore()
	ctx := context.Background()
	d, _ := s.Create(ctx, "Bardo")

	if _, err := s.UpdateStatus(ctx, d.ID, "lost"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	got, err := s.UpdateStatus(ctx, d.ID, domain.StatusInTransit)
	if err != nil || got.Status != domain.StatusInTransit {
		t.Fatalf("UpdateStatus = %+v, %v", got, err)
	}
}
