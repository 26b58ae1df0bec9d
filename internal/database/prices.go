package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-scraper/internal/models"
)

// BatchStager adds an outbox event for a batch inside the transaction that
// wrote it.
type BatchStager interface {
	StageBatch(ctx context.Context, tx pgx.Tx, table string, records []models.ValidatedProduct, rows int64) error
}

func (db *DB) SetBatchStager(s BatchStager) {
	db.stager = s
}

func (db *DB) EnsureTable(ctx context.Context, table string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name         TEXT NOT NULL,
			price        DOUBLE PRECISION,
			link         TEXT NOT NULL,
			collected_at TIMESTAMPTZ NOT NULL
		)`, pgx.Identifier{table}.Sanitize())

	if _, err := db.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// WriteBatch appends records with COPY. Rows and the staged event commit
// together or not at all.
func (db *DB) WriteBatch(ctx context.Context, table string, records []models.ValidatedProduct) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var written int64
	err := db.Transaction(ctx, func(tx pgx.Tx) error {
		n, err := tx.CopyFrom(ctx,
			pgx.Identifier{table},
			priceColumns,
			pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
				r := records[i]
				return []any{r.Name, r.Price, r.Link, r.CollectedAt}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy rows into %s: %w", table, err)
		}
		written = n

		if db.stager != nil {
			if err := db.stager.StageBatch(ctx, tx, table, records, n); err != nil {
				return fmt.Errorf("failed to stage batch event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return written, nil
}

// CountRows returns the number of rows in table.
func (db *DB) CountRows(ctx context.Context, table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", pgx.Identifier{table}.Sanitize())
	if err := db.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}
