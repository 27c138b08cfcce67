// Package postgres is a LinkStore on PostgreSQL through pgx
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

type Repository struct {
	pool *pgxpool.Pool
}

var _ ports.LinkStore = (*Repository)(nil)

// NewRepository migrates the schema and opens a pool
func NewRepository(ctx context.Context, databaseURL string, logger *slog.Logger) (*Repository, error) {
	if err := Migrate(databaseURL, logger); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Repository{pool: pool}, nil
}

const selectColumns = `code, target_url, visit_count, last_visit_utc, version, created_at, updated_at`

func scanRecord(row pgx.Row) (*domain.LinkRecord, error) {
	var rec domain.LinkRecord
	var lastVisit *time.Time
	if err := row.Scan(&rec.Code, &rec.TargetURL, &rec.VisitCount, &lastVisit, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if lastVisit != nil {
		t := lastVisit.UTC()
		rec.LastVisitUTC = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func (r *Repository) Get(ctx context.Context, code string) (*domain.LinkRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM link_records WHERE partition_key = $1 AND code = $2`, domain.PartitionKey, code)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func timestamps(rec *domain.LinkRecord) (time.Time, time.Time) {
	now := time.Now().UTC()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	return created, updated
}

func (r *Repository) Upsert(ctx context.Context, rec *domain.LinkRecord) error {
	created, updated := timestamps(rec)
	return r.pool.QueryRow(ctx, `
		INSERT INTO link_records (partition_key, code, target_url, visit_count, last_visit_utc, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
		ON CONFLICT (partition_key, code) DO UPDATE SET
			target_url = EXCLUDED.target_url,
			visit_count = EXCLUDED.visit_count,
			last_visit_utc = EXCLUDED.last_visit_utc,
			version = link_records.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version`,
		domain.PartitionKey, rec.Code, rec.TargetURL, rec.VisitCount, rec.LastVisitUTC, created, updated,
	).Scan(&rec.Version)
}

func (r *Repository) UpsertIfVersion(ctx context.Context, rec *domain.LinkRecord, expected int64) error {
	created, updated := timestamps(rec)

	var tag pgconn.CommandTag
	var err error
	if expected == 0 {
		tag, err = r.pool.Exec(ctx, `
			INSERT INTO link_records (partition_key, code, target_url, visit_count, last_visit_utc, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 1, $6, $7)
			ON CONFLICT (partition_key, code) DO NOTHING`,
			domain.PartitionKey, rec.Code, rec.TargetURL, rec.VisitCount, rec.LastVisitUTC, created, updated,
		)
	} else {
		tag, err = r.pool.Exec(ctx, `
			UPDATE link_records
			SET target_url = $1, visit_count = $2, last_visit_utc = $3, version = version + 1, updated_at = $4
			WHERE partition_key = $5 AND code = $6 AND version = $7`,
			rec.TargetURL, rec.VisitCount, rec.LastVisitUTC, updated, domain.PartitionKey, rec.Code, expected,
		)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	rec.Version = expected + 1
	return nil
}

func (r *Repository) List(ctx context.Context, limit, offset int) ([]domain.LinkRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM link_records WHERE partition_key = $1 ORDER BY code LIMIT $2 OFFSET $3`,
		domain.PartitionKey, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.LinkRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (r *Repository) Delete(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM link_records WHERE partition_key = $1 AND code = $2`, domain.PartitionKey, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}
