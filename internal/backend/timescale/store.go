// Package timescale stores observations in a TimescaleDB hypertable through pgx.
package timescale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/observability"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

// ErrNoHypertable is returned by EnsureSchema when the table exists but
// could not be converted, e.g. on plain postgres without the extension.
var ErrNoHypertable = errors.New("observations table is not a hypertable")

type Store struct {
	pool *pgxpool.Pool
}

var _ backend.TimeSeriesStore = (*Store)(nil)

func New(ctx context.Context, cfg config.PostgresCfg) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.pool.Ping(ctx)
	observability.ObserveBackendOp("timescale", "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// EnsureSchema creates the observations table and turns it into a hypertable
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createTable, createIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	if _, err := s.pool.Exec(ctx, createHypertable); err != nil {
		return fmt.Errorf("%w: %w", ErrNoHypertable, err)
	}
	return nil
}

func (s *Store) Observations(ctx context.Context, p *params.Params) ([]model.Observation, error) {
	start := time.Now()
	sql, args := BuildSelect(p)
	out, err := s.scan(ctx, sql, args)
	observability.ObserveBackendOp("timescale", "select", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("select observations: %w", err)
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, sql string, args []any) ([]model.Observation, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Observation, 0)
	for rows.Next() {
		var (
			o   model.Observation
			foi *string
		)
		if err := rows.Scan(&o.ID, &o.DatastreamID, &o.ResultTime, &o.PhenomenonTime,
			&o.Result, &foi, &o.ProcedureLink, &o.Parameters); err != nil {
			return nil, err
		}
		if foi != nil {
			o.SamplingFeatureID = *foi
		}
		o.ResultTime = o.ResultTime.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) HasObservations(ctx context.Context, datastreamID string) (bool, error) {
	start := time.Now()
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM observations WHERE datastream_id = $1)`, datastreamID,
	).Scan(&ok)
	observability.ObserveBackendOp("timescale", "exists", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("observations of %s: %w", datastreamID, err)
	}
	return ok, nil
}

func (s *Store) InsertBatch(ctx context.Context, obs []model.Observation) ([]string, error) {
	start := time.Now()
	ids, err := s.insert(ctx, obs)
	observability.ObserveBackendOp("timescale", "insert", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("insert %d observations: %w", len(obs), err)
	}
	return ids, nil
}

func (s *Store) insert(ctx context.Context, obs []model.Observation) ([]string, error) {
	ids := make([]string, len(obs))
	batch := &pgx.Batch{}
	for i, o := range obs {
		id := o.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		var foi *string
		if o.SamplingFeatureID != "" {
			foi = &o.SamplingFeatureID
		}
		batch.Queue(insertRow, id, o.ResultTime, o.PhenomenonTime, o.DatastreamID,
			o.Result, foi, o.ProcedureLink, o.Parameters)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for i := range obs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("observation %s: %w", ids[i], classify(err))
		}
	}
	if err := br.Close(); err != nil {
		return nil, classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// uniqueViolation is the SQLSTATE of a duplicate key
const uniqueViolation = "23505"

// classify maps a duplicate key to backend.ErrConflict
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", backend.ErrConflict, err)
	}
	return err
}

func (s *Store) DeleteByID(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM observations WHERE uuid::text = $1`, id)
	observability.ObserveBackendOp("timescale", "delete", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("delete observation %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
