package models

import (
	"time"
)

// UnknownName is recorded when no name strategy produced a usable value.
const UnknownName = "Nome Indisponível"

// RawProduct is one record as extracted from a listing card, before validation.
type RawProduct struct {
	Name        string    `json:"name"`
	PriceText   string    `json:"price_text,omitempty"`
	Price       *float64  `json:"price"`
	Link        string    `json:"link"`
	CollectedAt time.Time `json:"collected_at"`
}

// ValidatedProduct is a record that passed schema validation. Price is nil
// when the source row carried no price.
type ValidatedProduct struct {
	Name        string    `json:"name"`
	Price       *float64  `json:"price"`
	Link        string    `json:"link"`
	CollectedAt time.Time `json:"collected_at"`
}

// Column names shared by the validator, the sinks and the triage files.
const (
	ColumnName        = "name"
	ColumnPrice       = "price"
	ColumnLink        = "link"
	ColumnCollectedAt = "collected_at"
)

func NewRawProduct(name, priceText string, price float64, link string, collectedAt time.Time) RawProduct {
	return RawProduct{
		Name:        name,
		PriceText:   priceText,
		Price:       &price,
		Link:        link,
		CollectedAt: collectedAt,
	}
}

// Row returns the record as a column map for batch validation. An absent
// price is a nil value, not a missing column.
func (p RawProduct) Row() map[string]any {
	var price any
	if p.Price != nil {
		price = *p.Price
	}
	return map[string]any{
		ColumnName:        p.Name,
		ColumnPrice:       price,
		ColumnLink:        p.Link,
		ColumnCollectedAt: p.CollectedAt,
	}
}

// PriceValue returns the price or 0 when absent.
func (p ValidatedProduct) PriceValue() float64 {
	if p.Price == nil {
		return 0
	}
	return *p.Price
}
