package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of *pgxpool.Pool used by PGStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore is a Postgres backed Store.
type PGStore struct {
	db DBTX
}

// NewPGStore constructs a Store backed by a pgx pool.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

const (
	locationPostcode = "postcode"
	locationCity     = "city"
)

const findRatesSQL = `SELECT r.id, r.country, r.state, r.name, r.priority, r.compound, r.shipping, r.rate::text, r.tax_class, r.lookup_key,
  COALESCE(ARRAY(SELECT l.code FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'postcode' ORDER BY l.code), '{}') AS postcodes,
  COALESCE(ARRAY(SELECT l.code FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'city' ORDER BY l.code), '{}') AS cities
FROM tax_rates r
WHERE r.country IN ($1, '')
  AND r.state IN ($2, '')
  AND r.tax_class = $5
  AND (
    NOT EXISTS (SELECT 1 FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'postcode')
    OR EXISTS (SELECT 1 FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'postcode' AND l.code = ANY($3))
  )
  AND (
    NOT EXISTS (SELECT 1 FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'city')
    OR EXISTS (SELECT 1 FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'city' AND l.code = $4)
  )
ORDER BY r.priority, r.id`

// FindRates implements Store.
func (s *PGStore) FindRates(ctx context.Context, l Lookup) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	n := l.Normalize()
	rows, err := s.db.Query(ctx, findRatesSQL, n.Country, n.State, WildcardPostcodes(n.Postcode), n.City, n.TaxClass)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBySpecificity(out)
	return out, nil
}

// InsertRate implements Store. Records with a lookup key are upserted on the
// partial unique index so concurrent writers converge on one row.
func (s *PGStore) InsertRate(ctx context.Context, rec Record) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	if rec.LookupKey != "" {
		err = tx.QueryRow(ctx, `INSERT INTO tax_rates (country, state, name, priority, compound, shipping, rate, tax_class, lookup_key)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
ON CONFLICT (lookup_key) WHERE lookup_key <> '' DO UPDATE SET rate = EXCLUDED.rate, shipping = EXCLUDED.shipping, updated_at = now()
RETURNING id`, rec.Country, rec.State, rec.Name, rec.Priority, rec.Compound, rec.Shipping, rec.Rate.String(), rec.TaxClass, rec.LookupKey).Scan(&id)
	} else {
		err = tx.QueryRow(ctx, `INSERT INTO tax_rates (country, state, name, priority, compound, shipping, rate, tax_class)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8)
RETURNING id`, rec.Country, rec.State, rec.Name, rec.Priority, rec.Compound, rec.Shipping, rec.Rate.String(), rec.TaxClass).Scan(&id)
	}
	if err != nil {
		return 0, fmt.Errorf("insert tax rate: %w", err)
	}
	if len(rec.Postcodes) > 0 {
		if err := replaceLocations(ctx, tx, id, locationPostcode, rec.Postcodes); err != nil {
			return 0, err
		}
	}
	if len(rec.Cities) > 0 {
		if err := replaceLocations(ctx, tx, id, locationCity, rec.Cities); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateRate implements Store.
func (s *PGStore) UpdateRate(ctx context.Context, id int64, rec Record) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tag, err := s.db.Exec(ctx, `UPDATE tax_rates SET country = $2, state = $3, name = $4, priority = $5, compound = $6, shipping = $7, rate = $8::numeric, tax_class = $9, updated_at = now()
WHERE id = $1`, id, rec.Country, rec.State, rec.Name, rec.Priority, rec.Compound, rec.Shipping, rec.Rate.String(), rec.TaxClass)
	if err != nil {
		return fmt.Errorf("update tax rate %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRatePostcodes implements Store.
func (s *PGStore) SetRatePostcodes(ctx context.Context, id int64, postcodes []string) error {
	return s.setLocations(ctx, id, locationPostcode, postcodes)
}

// SetRateCities implements Store.
func (s *PGStore) SetRateCities(ctx context.Context, id int64, cities []string) error {
	return s.setLocations(ctx, id, locationCity, cities)
}

// GetRate implements Store.
func (s *PGStore) GetRate(ctx context.Context, id int64) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrStoreUnavailable
	}
	row := s.db.QueryRow(ctx, `SELECT r.id, r.country, r.state, r.name, r.priority, r.compound, r.shipping, r.rate::text, r.tax_class, r.lookup_key,
  COALESCE(ARRAY(SELECT l.code FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'postcode' ORDER BY l.code), '{}'),
  COALESCE(ARRAY(SELECT l.code FROM tax_rate_locations l WHERE l.rate_id = r.id AND l.location_type = 'city' ORDER BY l.code), '{}')
FROM tax_rates r WHERE r.id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func (s *PGStore) setLocations(ctx context.Context, id int64, kind string, codes []string) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := replaceLocations(ctx, tx, id, kind, codes); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func replaceLocations(ctx context.Context, tx pgx.Tx, id int64, kind string, codes []string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM tax_rate_locations WHERE rate_id = $1 AND location_type = $2`, id, kind); err != nil {
		return fmt.Errorf("clear %s locations for rate %d: %w", kind, id, err)
	}
	for _, code := range CleanPatterns(codes) {
		if _, err := tx.Exec(ctx, `INSERT INTO tax_rate_locations (rate_id, location_type, code) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, id, kind, code); err != nil {
			return fmt.Errorf("insert %s location for rate %d: %w", kind, id, err)
		}
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec  Record
		rate string
	)
	if err := row.Scan(&rec.ID, &rec.Country, &rec.State, &rec.Name, &rec.Priority, &rec.Compound, &rec.Shipping, &rate, &rec.TaxClass, &rec.LookupKey, &rec.Postcodes, &rec.Cities); err != nil {
		return Record{}, err
	}
	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return Record{}, fmt.Errorf("parse rate for %d: %w", rec.ID, err)
	}
	rec.Rate = parsed
	return rec, nil
}
