package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/maltedev/price-scraper/internal/models"
)

// DefaultTable is the append-only table price batches land in.
const DefaultTable = "precos_placas_video"

var (
	ErrInvalidTable = errors.New("invalid table name")
	ErrUnknownDSN   = errors.New("unrecognized connection string")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store appends validated batches. Writes are all-or-nothing per batch and
// never retried.
type Store interface {
	EnsureTable(ctx context.Context, table string) error
	WriteBatch(ctx context.Context, table string, records []models.ValidatedProduct) (int64, error)
	Close() error
}

// Open picks the backend from the connection string: postgres:// and
// postgresql:// go to Postgres, sqlite:// and file: go to SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err := New(ctx, Config{DSN: dsn})
		if err != nil {
			return nil, err
		}
		return db, nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		s, err := OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDSN, redact(dsn))
}

func validateTable(table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

// priceColumns are the sink columns in write order.
var priceColumns = []string{
	models.ColumnName,
	models.ColumnPrice,
	models.ColumnLink,
	models.ColumnCollectedAt,
}
