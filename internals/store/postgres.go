package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thebowwman/delisim/internals/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
    id              TEXT PRIMARY KEY,
    tracking_number TEXT NOT NULL UNIQUE,
    status          TEXT NOT NULL,
    address         TEXT NOT NULL,
    current_lat     DOUBLE PRECISION,
    current_lng     DOUBLE PRECISION,
    delivered_at    TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS geocode_cache (
    address    TEXT PRIMARY KEY,
    lat        DOUBLE PRECISION NOT NULL,
    lng        DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Open connects a pool and makes sure the tables exist.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: parse url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("open postgres: verify connection: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("open postgres: create schema: %w", err)
	}
	return pool, nil
}

// PostgresStore is the delivery repository backed by Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, address string) (*domain.Delivery, error) {
	d := &domain.Delivery{
		ID:             uuid.NewString(),
		TrackingNumber: NewTrackingNumber(),
		Status:         domain.StatusProcessing,
		Address:        address,
	}

	query := `
        INSERT INTO deliveries (id, tracking_number, status, address)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at, updated_at
    `
	err := s.pool.QueryRow(ctx, query, d.ID, d.TrackingNumber, d.Status, d.Address).
		Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Delivery, error) {
	query := `
        SELECT id, tracking_number, status, address, current_lat, current_lng,
               delivered_at, created_at, updated_at
        FROM deliveries WHERE id = $1
    `

	var (
		d        domain.Delivery
		lat, lng *float64
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.TrackingNumber,
		&d.Status,
		&d.Address,
		&lat,
		&lng,
		&d.DeliveredAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	if lat != nil && lng != nil {
		d.Current = &domain.Coordinate{Lat: *lat, Lng: *lng}
	}
	return &d, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus) (*domain.Delivery, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%q: %w", status, ErrInvalidStatus)
	}

	query := `
        UPDATE deliveries
        SET status = $2,
            updated_at = now(),
            delivered_at = CASE WHEN $2 = 'delivered' THEN COALESCE(delivered_at, now()) ELSE delivered_at END
        WHERE id = $1
    `
	if err := s.exec(ctx, "update status", id, query, id, status); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *PostgresStore) GetDeliveryAddress(ctx context.Context, id string) (string, error) {
	var addr string
	err := s.pool.QueryRow(ctx, `SELECT address FROM deliveries WHERE id = $1`, id).Scan(&addr)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("get address %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get address %s: %w", id, err)
	}
	return addr, nil
}

func (s *PostgresStore) GetDeliveryStatus(ctx context.Context, id string) (domain.DeliveryStatus, error) {
	var st domain.DeliveryStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM deliveries WHERE id = $1`, id).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("get status %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get status %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) UpdateDeliveryPosition(ctx context.Context, id string, lat, lng float64) error {
	query := `
        UPDATE deliveries
        SET current_lat = $2, current_lng = $3, updated_at = now()
        WHERE id = $1
    `
	return s.exec(ctx, "update position", id, query, id, lat, lng)
}

func (s *PostgresStore) MarkDeliveryDelivered(ctx context.Context, id string, at time.Time) error {
	query := `
        UPDATE deliveries
        SET status = 'delivered', delivered_at = $2, updated_at = now()
        WHERE id = $1
    `
	return s.exec(ctx, "mark delivered", id, query, id, at)
}

func (s *PostgresStore) exec(ctx context.Context, op, id, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// GeocodeCache stores external geocoding results in Postgres.
type GeocodeCache struct {
	pool *pgxpool.Pool
}

func NewGeocodeCache(pool *pgxpool.Pool) *GeocodeCache {
	return &GeocodeCache{pool: pool}
}

func (c *GeocodeCache) Get(ctx context.Context, address string) (domain.Coordinate, bool, error) {
	var co domain.Coordinate
	err := c.pool.QueryRow(ctx, `SELECT lat, lng FROM geocode_cache WHERE address = $1`, address).
		Scan(&co.Lat, &co.Lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Coordinate{}, false, nil
	}
	if err != nil {
		return domain.Coordinate{}, false, fmt.Errorf("geocode cache get: %w", err)
	}
	return co, true, nil
}

func (c *GeocodeCache) Put(ctx context.Context, address string, co domain.Coordinate) error {
	query := `
        INSERT INTO geocode_cache (address, lat, lng) VALUES ($1, $2, $3)
        ON CONFLICT (address) DO UPDATE SET lat = EXCLUDED.lat, lng = EXCLUDED.lng
    `
	if _, err := c.pool.Exec(ctx, query, address, co.Lat, co.Lng); err != nil {
		return fmt.Errorf("geocode cache put: %w", err)
	}
	return nil
}
