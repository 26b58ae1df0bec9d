package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maltedev/price-scraper/internal/models"
)

// ProductSchema is the contract every persisted product row must meet.
func ProductSchema() *Schema {
	return &Schema{
		Coerce: true,
		Strict: true,
		Columns: []Column{
			{Name: models.ColumnName, Kind: KindString, Checks: []Check{MinLength(3)}},
			{Name: models.ColumnPrice, Kind: KindFloat, Nullable: true, Checks: []Check{GreaterThan(0)}},
			{Name: models.ColumnLink, Kind: KindString, Checks: []Check{StartsWith("https://")}},
			{Name: models.ColumnCollectedAt, Kind: KindTimestamp},
		},
	}
}

// Outcome holds either the validated records or, when any row failed, the
// original batch together with every failure case found.
type Outcome struct {
	Records  []models.ValidatedProduct
	Batch    []Row
	Failures []FailureCase
}

func (o *Outcome) OK() bool {
	return len(o.Failures) == 0
}

// Err returns a *ValidationError describing the failures, or nil.
func (o *Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &ValidationError{Failures: o.Failures, Rows: len(o.Batch)}
}

type ValidationError struct {
	Failures []FailureCase
	Rows     int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema validation failed: %d failure cases in %d of %d rows",
		len(e.Failures), len(e.FailedRows()), e.Rows)
}

// FailedRows returns the distinct row indexes with at least one failure.
func (e *ValidationError) FailedRows() []int {
	seen := make(map[int]struct{})
	var rows []int
	for _, f := range e.Failures {
		if _, ok := seen[f.Row]; ok {
			continue
		}
		seen[f.Row] = struct{}{}
		rows = append(rows, f.Row)
	}
	sort.Ints(rows)
	return rows
}

// Table renders failure cases one per line, for logs and terminals.
func (e *ValidationError) Table() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-5s %-14s %-24s %s\n", "ROW", "COLUMN", "CHECK", "VALUE")
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "%-5d %-14s %-24s %v\n", f.Row, f.Column, f.Check, f.Value)
	}
	return b.String()
}

type Validator struct {
	schema *Schema
}

func NewValidator() *Validator {
	return &Validator{schema: ProductSchema()}
}

// Validate checks the whole batch. There is no partial acceptance: a single
// failing row fails the batch.
func (v *Validator) Validate(batch []Row) *Outcome {
	cleaned, failures := v.schema.Evaluate(batch)
	if len(failures) > 0 {
		return &Outcome{Batch: batch, Failures: failures}
	}

	records := make([]models.ValidatedProduct, 0, len(cleaned))
	for _, row := range cleaned {
		records = append(records, toProduct(row))
	}
	return &Outcome{Records: records}
}

// ValidateRecords is Validate for extracted records.
func (v *Validator) ValidateRecords(raw []models.RawProduct) *Outcome {
	return v.Validate(Rows(raw))
}

func Rows(raw []models.RawProduct) []Row {
	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		rows = append(rows, r.Row())
	}
	return rows
}

func toProduct(row Row) models.ValidatedProduct {
	p := models.ValidatedProduct{
		Name:        row[models.ColumnName].(string),
		Link:        row[models.ColumnLink].(string),
		CollectedAt: row[models.ColumnCollectedAt].(time.Time),
	}
	if price, ok := row[models.ColumnPrice].(float64); ok {
		p.Price = &price
	}
	return p
}
