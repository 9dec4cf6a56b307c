package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"donor_check/internal/model"
	"donor_check/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := migrations.Up(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ReplaceCatalog stores raw as a new import and drops the records of
// older imports. Import history rows are kept.
func (s *SQLite) ReplaceCatalog(ctx context.Context, raw model.RawCatalog, source string) (*model.CatalogImport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO catalog_imports (source, record_count, imported_at) VALUES (?, ?, ?)`,
		source, raw.Len(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert import: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_records (import_id, partition_name, position, payload) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range model.Partitions {
		for i, rec := range raw.Records(p) {
			payload, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("encode %s record %d: %w", p, i, err)
			}
			if _, err := stmt.ExecContext(ctx, id, string(p), i, string(payload)); err != nil {
				return nil, fmt.Errorf("insert %s record %d: %w", p, i, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM raw_records WHERE import_id <> ?`, id); err != nil {
		return nil, fmt.Errorf("delete old records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	imp := &model.CatalogImport{ID: id, Source: source, RecordCount: raw.Len()}
	imp.ImportedAt, _ = time.Parse(timeLayout, now)
	return imp, nil
}

// LoadCatalog returns the raw catalog of the latest import.
func (s *SQLite) LoadCatalog(ctx context.Context) (model.RawCatalog, error) {
	imp, err := s.LatestImport(ctx)
	if err != nil {
		return model.RawCatalog{}, err
	}

	var raw model.RawCatalog
	for _, p := range model.Partitions {
		recs, err := s.loadPartition(ctx, imp.ID, p)
		if err != nil {
			return model.RawCatalog{}, err
		}
		raw.SetRecords(p, recs)
	}
	return raw, nil
}

func (s *SQLite) loadPartition(ctx context.Context, importID int64, p model.Partition) ([]model.RawRuleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM raw_records WHERE import_id = ? AND partition_name = ? ORDER BY position`,
		importID, string(p),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", p, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []model.RawRuleRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s record: %w", p, err)
		}
		var rec model.RawRuleRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", p, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LatestImport returns the most recent import or ErrNoCatalog.
func (s *SQLite) LatestImport(ctx context.Context) (*model.CatalogImport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, record_count, imported_at FROM catalog_imports ORDER BY id DESC LIMIT 1`,
	)
	var imp model.CatalogImport
	var importedAt string
	err := row.Scan(&imp.ID, &imp.Source, &imp.RecordCount, &importedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCatalog
	}
	if err != nil {
		return nil, fmt.Errorf("scan import: %w", err)
	}
	imp.ImportedAt, _ = time.Parse(timeLayout, importedAt)
	return &imp, nil
}
