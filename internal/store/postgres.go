package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-places/internal/feed"
	"github.com/i474232898/weather-places/internal/weather"
)

//go:embed schema.sql
var schemaSQL string

// orderLockKey is the advisory lock serializing every mutation of sort_order.
const orderLockKey int64 = 0x706c61636573

// PostgresStore implements weather.Store on PostgreSQL. Each entity kind has
// its own table keyed by place id; sort_order on place_properties is the sole
// source of display order.
type PostgresStore struct {
	pool *pgxpool.Pool

	pubMu sync.Mutex
	feed  *feed.Feed[[]weather.Place]
}

var _ weather.Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store over pool and loads the current list for
// feed subscribers.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{
		pool: pool,
		feed: feed.New(feed.WithClone(weather.ClonePlaces)),
	}
	if err := s.publish(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range strings.Split(schemaSQL, ";\n") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("postgres: failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Insert(ctx context.Context, p weather.Place) (weather.Place, error) {
	stored := p.Clone()
	err := s.inOrderTx(ctx, func(tx pgx.Tx, count int) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM place_geolocation WHERE place_id = $1)`, p.ID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: failed to check place %d: %w", p.ID, err)
		}
		if exists {
			return fmt.Errorf("%w: %d", ErrDuplicateID, p.ID)
		}

		stored.Order = count
		if _, err := tx.Exec(ctx, `
			INSERT INTO place_geolocation (place_id, city, country, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5)`,
			stored.ID, stored.Geolocation.City, stored.Geolocation.Country,
			stored.Geolocation.Coordinates.Latitude, stored.Geolocation.Coordinates.Longitude,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert geolocation: %w", err)
		}

		pr := stored.Properties
		if _, err := tx.Exec(ctx, `
			INSERT INTO place_properties (
				place_id, sort_order, created_at, weather_updated_at, weather_attempted_at,
				air_quality_updated_at, air_quality_attempted_at, weather_data_at,
				air_quality_data_at, utc_offset_seconds
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			stored.ID, stored.Order, pr.CreatedAt, pr.WeatherUpdatedAt, pr.WeatherAttemptedAt,
			pr.AirQualityUpdatedAt, pr.AirQualityAttemptedAt, pr.WeatherDataAt,
			pr.AirQualityDataAt, pr.UTCOffsetSeconds,
		); err != nil {
			return fmt.Errorf("postgres: failed to insert properties: %w", err)
		}

		return writeNested(ctx, tx, stored)
	})
	if err != nil {
		return weather.Place{}, err
	}
	return stored, nil
}

func (s *PostgresStore) Update(ctx context.Context, p weather.Place) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var order int
		err := tx.QueryRow(ctx, `SELECT sort_order FROM place_properties WHERE place_id = $1 FOR UPDATE`, p.ID).Scan(&order)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrPlaceNotFound, p.ID)
		}
		if err != nil {
			return fmt.Errorf("postgres: failed to lock place %d: %w", p.ID, err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE place_geolocation SET city = $2, country = $3, latitude = $4, longitude = $5
			WHERE place_id = $1`,
			p.ID, p.Geolocation.City, p.Geolocation.Country,
			p.Geolocation.Coordinates.Latitude, p.Geolocation.Coordinates.Longitude,
		); err != nil {
			return fmt.Errorf("postgres: failed to update geolocation: %w", err)
		}

		pr := p.Properties
		if _, err := tx.Exec(ctx, `
			UPDATE place_properties SET
				created_at = $2, weather_updated_at = $3, weather_attempted_at = $4,
				air_quality_updated_at = $5, air_quality_attempted_at = $6,
				weather_data_at = $7, air_quality_data_at = $8, utc_offset_seconds = $9
			WHERE place_id = $1`,
			p.ID, pr.CreatedAt, pr.WeatherUpdatedAt, pr.WeatherAttemptedAt,
			pr.AirQualityUpdatedAt, pr.AirQualityAttemptedAt,
			pr.WeatherDataAt, pr.AirQualityDataAt, pr.UTCOffsetSeconds,
		); err != nil {
			return fmt.Errorf("postgres: failed to update properties: %w", err)
		}

		for _, table := range nestedTables {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE place_id = $1`, p.ID); err != nil {
				return fmt.Errorf("postgres: failed to clear %s: %w", table, err)
			}
		}
		return writeNested(ctx, tx, p)
	})
	if err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, order int) (weather.Place, error) {
	var deleted weather.Place
	err := s.inOrderTx(ctx, func(tx pgx.Tx, count int) error {
		if err := checkOrder(order, count); err != nil {
			return err
		}
		id, err := idAt(ctx, tx, order)
		if err != nil {
			return err
		}
		places, err := loadPlaces(ctx, tx, []int64{id})
		if err != nil {
			return err
		}
		if len(places) == 1 {
			deleted = places[0]
		}

		if _, err := tx.Exec(ctx, `DELETE FROM place_geolocation WHERE place_id = $1`, id); err != nil {
			return fmt.Errorf("postgres: failed to delete place %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE place_properties SET sort_order = sort_order - 1 WHERE sort_order > $1`, order); err != nil {
			return fmt.Errorf("postgres: failed to close order gap: %w", err)
		}
		return nil
	})
	if err != nil {
		return weather.Place{}, err
	}
	return deleted, nil
}

func (s *PostgresStore) Move(ctx context.Context, from, to int) error {
	if from == to {
		return nil
	}
	return s.inOrderTx(ctx, func(tx pgx.Tx, count int) error {
		if err := checkOrder(from, count); err != nil {
			return err
		}
		if err := checkOrder(to, count); err != nil {
			return err
		}
		id, err := idAt(ctx, tx, from)
		if err != nil {
			return err
		}

		shift := `UPDATE place_properties SET sort_order = sort_order - 1 WHERE sort_order > $1 AND sort_order <= $2`
		if to < from {
			shift = `UPDATE place_properties SET sort_order = sort_order + 1 WHERE sort_order < $1 AND sort_order >= $2`
		}
		if _, err := tx.Exec(ctx, shift, from, to); err != nil {
			return fmt.Errorf("postgres: failed to shift orders: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE place_properties SET sort_order = $2 WHERE place_id = $1`, id, to); err != nil {
			return fmt.Errorf("postgres: failed to move place %d: %w", id, err)
		}
		return nil
	})
}

func (s *PostgresStore) Swap(ctx context.Context, a, b int) error {
	return s.inOrderTx(ctx, func(tx pgx.Tx, count int) error {
		if err := checkOrder(a, count); err != nil {
			return err
		}
		if err := checkOrder(b, count); err != nil {
			return err
		}
		if a == b {
			return nil
		}
		idA, err := idAt(ctx, tx, a)
		if err != nil {
			return err
		}
		idB, err := idAt(ctx, tx, b)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE place_properties
			SET sort_order = CASE place_id WHEN $1 THEN $2::integer ELSE $4::integer END
			WHERE place_id IN ($1, $3)`,
			idA, b, idB, a,
		); err != nil {
			return fmt.Errorf("postgres: failed to swap orders: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Get(ctx context.Context, id int64) (weather.Place, error) {
	var places []weather.Place
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		var err error
		places, err = loadPlaces(ctx, tx, []int64{id})
		return err
	})
	if err != nil {
		return weather.Place{}, err
	}
	if len(places) == 0 {
		return weather.Place{}, fmt.Errorf("%w: %d", ErrPlaceNotFound, id)
	}
	return places[0], nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]weather.Place, error) {
	var places []weather.Place
	err := s.readTx(ctx, func(tx pgx.Tx) error {
		var err error
		places, err = loadPlaces(ctx, tx, nil)
		return err
	})
	return places, err
}

// GetAllAsFeed delivers the ordered list now and again after every committed
// mutation made through this store, until ctx ends.
func (s *PostgresStore) GetAllAsFeed(ctx context.Context) <-chan []weather.Place {
	return s.feed.Subscribe(ctx)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM place_properties`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: failed to count places: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) IDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT place_id FROM place_geolocation`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query place ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan place id: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Health pings the database.
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close ends every feed subscription. The pool is owned by the caller.
func (s *PostgresStore) Close() {
	s.feed.Close()
}

// inOrderTx runs fn in a transaction holding the order lock, passing the
// current place count, and publishes the new list after commit.
func (s *PostgresStore) inOrderTx(ctx context.Context, fn func(tx pgx.Tx, count int) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, orderLockKey); err != nil {
			return fmt.Errorf("postgres: failed to take order lock: %w", err)
		}
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM place_properties`).Scan(&count); err != nil {
			return fmt.Errorf("postgres: failed to count places: %w", err)
		}
		return fn(tx, count)
	})
	if err != nil {
		return err
	}
	return s.publish(ctx)
}

func (s *PostgresStore) readTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (s *PostgresStore) publish(ctx context.Context) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	places, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	s.feed.Publish(places)
	return nil
}

func idAt(ctx context.Context, tx pgx.Tx, order int) (int64, error) {
	var id int64
	if err := tx.QueryRow(ctx, `SELECT place_id FROM place_properties WHERE sort_order = $1`, order).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: failed to find place at order %d: %w", order, err)
	}
	return id, nil
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
