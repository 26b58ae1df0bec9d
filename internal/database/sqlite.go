package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/maltedev/price-scraper/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the local sink for runs without a Postgres server.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureTable(ctx context.Context, table string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			name         TEXT NOT NULL,
			price        REAL,
			link         TEXT NOT NULL,
			collected_at TEXT NOT NULL
		)`, table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

func (s *SQLiteStore) WriteBatch(ctx context.Context, table string, records []models.ValidatedProduct) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %q (name, price, link, collected_at) VALUES (?, ?, ?, ?)", table))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var written int64
	for _, r := range records {
		var price any
		if r.Price != nil {
			price = *r.Price
		}
		if _, err := stmt.ExecContext(ctx, r.Name, price, r.Link, r.CollectedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return 0, fmt.Errorf("failed to insert row into %s: %w", table, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// ReadAll returns every row of table in insertion order.
func (s *SQLiteStore) ReadAll(ctx context.Context, table string) ([]models.ValidatedProduct, error) {
	if err := validateTable(table); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT name, price, link, collected_at FROM %q ORDER BY rowid", table))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.ValidatedProduct
	for rows.Next() {
		var (
			p         models.ValidatedProduct
			price     sql.NullFloat64
			collected string
		)
		if err := rows.Scan(&p.Name, &price, &p.Link, &collected); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if price.Valid {
			v := price.Float64
			p.Price = &v
		}
		if p.CollectedAt, err = time.Parse(time.RFC3339Nano, collected); err != nil {
			return nil, fmt.Errorf("failed to parse collected_at %q: %w", collected, err)
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
