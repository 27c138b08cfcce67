package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	_ "modernc.org/sqlite"                               // Local SQLite driver

	"github.com/wadjakorntonsri/go-url-redirector/pkg/core/domain"
	"github.com/wadjakorntonsri/go-url-redirector/pkg/ports"
)

type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.LinkStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbURL string) (*SQLiteRepository, error) {
	driverName := "sqlite"
	if strings.Contains(dbURL, "libsql://") || strings.Contains(dbURL, "wss://") {
		driverName = "libsql"
	}

	db, err := sql.Open(driverName, dbURL)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

func migrate(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS link_records (
		partition_key TEXT NOT NULL,
		code TEXT NOT NULL,
		target_url TEXT NOT NULL DEFAULT '',
		visit_count INTEGER NOT NULL DEFAULT 0,
		last_visit_utc DATETIME,
		version INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (partition_key, code)
	);
	`
	_, err := db.Exec(query)
	return err
}

const selectColumns = `code, target_url, visit_count, last_visit_utc, version, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.LinkRecord, error) {
	var rec domain.LinkRecord
	var lastVisit, createdAt, updatedAt sql.NullTime
	if err := row.Scan(&rec.Code, &rec.TargetURL, &rec.VisitCount, &lastVisit, &rec.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if lastVisit.Valid {
		t := lastVisit.Time.UTC()
		rec.LastVisitUTC = &t
	}
	rec.CreatedAt = createdAt.Time.UTC()
	rec.UpdatedAt = updatedAt.Time.UTC()
	return &rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, code string) (*domain.LinkRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM link_records WHERE partition_key = ? AND code = ?`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, domain.PartitionKey, code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stamps(rec *domain.LinkRecord) (time.Time, time.Time) {
	now := time.Now().UTC()
	created, updated := rec.CreatedAt, rec.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}
	return created.UTC(), updated.UTC()
}

// Upsert overwrites whatever is stored for the code
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *domain.LinkRecord) error {
	created, updated := stamps(rec)
	query := `INSERT INTO link_records (partition_key, code, target_url, visit_count, last_visit_utc, version, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			  ON CONFLICT (partition_key, code) DO UPDATE SET
				target_url = excluded.target_url,
				visit_count = excluded.visit_count,
				last_visit_utc = excluded.last_visit_utc,
				version = link_records.version + 1,
				updated_at = excluded.updated_at
			  RETURNING version`

	var version int64
	err := r.db.QueryRowContext(ctx, query,
		domain.PartitionKey, rec.Code, rec.TargetURL, rec.VisitCount, nullTime(rec.LastVisitUTC), created, updated,
	).Scan(&version)
	if err != nil {
		return err
	}
	rec.Version = version
	return nil
}

func (r *SQLiteRepository) UpsertIfVersion(ctx context.Context, rec *domain.LinkRecord, expected int64) error {
	created, updated := stamps(rec)

	if expected == 0 {
		query := `INSERT INTO link_records (partition_key, code, target_url, visit_count, last_visit_utc, version, created_at, updated_at)
				  VALUES (?, ?, ?, ?, ?, 1, ?, ?)
				  ON CONFLICT (partition_key, code) DO NOTHING`
		res, err := r.db.ExecContext(ctx, query,
			domain.PartitionKey, rec.Code, rec.TargetURL, rec.VisitCount, nullTime(rec.LastVisitUTC), created, updated,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrConflict
		}
		rec.Version = 1
		return nil
	}

	query := `UPDATE link_records
			  SET target_url = ?, visit_count = ?, last_visit_utc = ?, version = version + 1, updated_at = ?
			  WHERE partition_key = ? AND code = ? AND version = ?`
	res, err := r.db.ExecContext(ctx, query,
		rec.TargetURL, rec.VisitCount, nullTime(rec.LastVisitUTC), updated,
		domain.PartitionKey, rec.Code, expected,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict
	}
	rec.Version = expected + 1
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]domain.LinkRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM link_records WHERE partition_key = ? ORDER BY code LIMIT ? OFFSET ?`
	return r.queryRecords(ctx, query, domain.PartitionKey, limit, offset)
}

// Dump returns every record, for export
func (r *SQLiteRepository) Dump(ctx context.Context) ([]domain.LinkRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM link_records WHERE partition_key = ? ORDER BY code`
	return r.queryRecords(ctx, query, domain.PartitionKey)
}

func (r *SQLiteRepository) queryRecords(ctx context.Context, query string, args ...any) ([]domain.LinkRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

func (r *SQLiteRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM link_records WHERE partition_key = ? AND code = ?`, domain.PartitionKey, code)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	if r.db == nil {
		return errors.New("sqlite: not open")
	}
	return r.db.Close()
}
