package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pricewatch/pricewatch/catalog"
	"go.uber.org/zap"
)

// Store is the sole writer of the four catalog tables. Each page persists
// as one transaction: product and variant upserts plus the observation
// insert succeed or fail together.
type Store struct {
	options
	db *sql.DB
}

func New(opts ...Option) (*Store, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := &Store{}
	s.options = options

	db, err := sql.Open("mysql", s.sqlURL)
	if err != nil {
		return nil, fmt.Errorf("open db:%w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(16)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db:%w", err)
	}
	s.db = db

	return s, nil
}

// InitTables creates the schema when absent. Idempotent.
func (s *Store) InitTables() error {
	for _, stmt := range schema {
		s.logger.Debug("create table", zap.String("sql", stmt))
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create table:%w", err)
		}
	}

	return nil
}

// Persist writes one page's worth of data. A storage failure is retried
// once after a backoff; the second failure surfaces as a page-level error.
func (s *Store) Persist(ctx context.Context, p *catalog.Product, v *catalog.Variant, o *catalog.Observation) error {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			s.logger.Warn("retrying persist",
				zap.String("variant", v.ID),
				zap.Error(lastErr))
		}

		if lastErr = s.persistTx(ctx, p, v, o); lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("persist variant %s:%w", v.ID, lastErr)
}

func (s *Store) persistTx(ctx context.Context, p *catalog.Product, v *catalog.Variant, o *catalog.Observation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx:%w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, upsertProductSQL, productArgs(p)...); err != nil {
		return fmt.Errorf("upsert product:%w", err)
	}

	args, err := variantArgs(v)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, upsertVariantSQL, args...); err != nil {
		return fmt.Errorf("upsert variant:%w", err)
	}

	prior, err := s.sameDayRow(ctx, tx, o.VariantID, o.Day())
	if err != nil {
		return err
	}
	if prior != nil && o.SamePrices(prior) {
		// same-day re-observation with identical prices: nothing to replace
		s.logger.Debug("observation unchanged, skipping write",
			zap.String("variant", o.VariantID),
			zap.String("day", o.Day()))
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, upsertObservationSQL, observationArgs(o)...); err != nil {
		return fmt.Errorf("upsert observation:%w", err)
	}

	return tx.Commit()
}

// sameDayRow loads the price fields already recorded for (variant, day),
// nil when the day has no row yet.
func (s *Store) sameDayRow(ctx context.Context, tx *sql.Tx, variantID, day string) (*catalog.Observation, error) {
	var current, list, omnibus sql.NullInt64
	var promotion, voucher bool

	err := tx.QueryRowContext(ctx, selectObservationSQL, variantID, day).
		Scan(&current, &list, &omnibus, &promotion, &voucher)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load same-day observation:%w", err)
	}

	return priorObservation(variantID, current, list, omnibus, promotion, voucher), nil
}

func priorObservation(variantID string, current, list, omnibus sql.NullInt64, promotion, voucher bool) *catalog.Observation {
	return &catalog.Observation{
		VariantID:       variantID,
		Current:         moneyFromNull(current),
		List:            moneyFromNull(list),
		Omnibus:         moneyFromNull(omnibus),
		Promotion:       promotion,
		VoucherRequired: voucher,
	}
}

func moneyFromNull(n sql.NullInt64) *catalog.Money {
	if !n.Valid {
		return nil
	}

	m := catalog.Money(n.Int64)
	return &m
}

// OpenSession records the start of a rotation epoch.
func (s *Store) OpenSession(ctx context.Context, fs *catalog.FetchSession) error {
	_, err := s.db.ExecContext(ctx, openSessionSQL,
		fs.ID, fs.IdentityLabel, fs.RequestCount, fs.StartedAt)
	if err != nil {
		return fmt.Errorf("open session %s:%w", fs.ID, err)
	}

	return nil
}

// CloseSession stamps the end of an epoch and its final request count.
func (s *Store) CloseSession(ctx context.Context, fs *catalog.FetchSession) error {
	_, err := s.db.ExecContext(ctx, closeSessionSQL, fs.RequestCount, fs.EndedAt, fs.ID)
	if err != nil {
		return fmt.Errorf("close session %s:%w", fs.ID, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func productArgs(p *catalog.Product) []interface{} {
	return []interface{}{p.ID, p.CanonicalURL, p.Name, p.Brand, p.Category}
}

func variantArgs(v *catalog.Variant) ([]interface{}, error) {
	attrs, err := json.Marshal(v.Attrs)
	if err != nil {
		return nil, fmt.Errorf("encode variant attrs:%w", err)
	}

	return []interface{}{v.ID, v.ProductID, string(attrs), v.CanonicalURL}, nil
}

func observationArgs(o *catalog.Observation) []interface{} {
	return []interface{}{
		o.VariantID,
		o.Day(),
		o.ObservedAt,
		nullMoney(o.Current),
		nullMoney(o.List),
		nullMoney(o.Omnibus),
		o.Promotion,
		o.VoucherRequired,
		o.Anomaly,
		o.SessionID,
	}
}

func nullMoney(m *catalog.Money) sql.NullInt64 {
	if m == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: int64(*m), Valid: true}
}
